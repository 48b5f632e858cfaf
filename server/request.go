package server

import "github.com/sourcegraph/checkserver/environ"

// Position is 1-based line, 0-based column -- the internal basis used
// everywhere except at the LSP wire boundary (§3 invariant 5).
type Position struct {
	Line   int
	Column int
}

// ClientKind distinguishes the lifetime of the client issuing an exit
// request.
type ClientKind int

const (
	Persistent ClientKind = iota
	Ephemeral
)

// Request is the tagged union of every request variant the dispatcher
// accepts. Implementations are restricted to this package; callers
// build one of the concrete types below.
type Request interface{ isRequest() }

type TypeCheckRequest struct {
	UpdateEnvironmentWith []File
	Check                 []File
}

type TypeQueryRequest struct{ Query TypeQuery }

type DisplayTypeErrorsRequest struct{ Files []File }

type FlushTypeErrorsRequest struct{}

type StopRequest struct{}

type LanguageServerProtocolRequest struct{ Raw string }

type ClientShutdownRequest struct{ ID interface{} }

type ClientExitRequest struct{ Client ClientKind }

type RageRequest struct{ ID interface{} }

// InitializeRequest carries an LSP "initialize" request's
// initializationOptions overlay (§6). Dispatching it never runs a
// type-check; it only records the overlay on State for subsequent
// requests to pick up.
type InitializeRequest struct {
	ID      interface{}
	Options InitializationOptions
}

type GetDefinitionRequest struct {
	ID       interface{}
	File     File
	Position Position
}

type HoverRequest struct {
	ID       interface{}
	File     File
	Position Position
}

type OpenDocumentRequest struct{ File File }

type CloseDocumentRequest struct{ File File }

type SaveDocumentRequest struct{ File File }

// ClientConnectionRequest is accepted by the Request type but is
// illegal to dispatch: process() always fails it with InvalidRequest
// (§3, §4.5, §7).
type ClientConnectionRequest struct{}

func (TypeCheckRequest) isRequest()              {}
func (TypeQueryRequest) isRequest()               {}
func (DisplayTypeErrorsRequest) isRequest()       {}
func (FlushTypeErrorsRequest) isRequest()         {}
func (StopRequest) isRequest()                    {}
func (LanguageServerProtocolRequest) isRequest()  {}
func (ClientShutdownRequest) isRequest()          {}
func (ClientExitRequest) isRequest()              {}
func (RageRequest) isRequest()                    {}
func (InitializeRequest) isRequest()              {}
func (GetDefinitionRequest) isRequest()           {}
func (HoverRequest) isRequest()                   {}
func (OpenDocumentRequest) isRequest()            {}
func (CloseDocumentRequest) isRequest()           {}
func (SaveDocumentRequest) isRequest()            {}
func (ClientConnectionRequest) isRequest()        {}

// TypeQuery is the tagged union of synchronous semantic queries (C3).
type TypeQuery interface{ isTypeQuery() }

type AttributesQuery struct{ Class string }
type MethodsQuery struct{ Class string }
type JoinQuery struct{ A, B string }
type MeetQuery struct{ A, B string }
type LessOrEqualQuery struct{ A, B string }
type NormalizeTypeQuery struct{ Expr string }
type SignatureQuery struct{ Name string }
type SuperclassesQuery struct{ Class string }
type TypeAtLocationQuery struct {
	Path  string
	Start Position
}

func (AttributesQuery) isTypeQuery()      {}
func (MethodsQuery) isTypeQuery()         {}
func (JoinQuery) isTypeQuery()            {}
func (MeetQuery) isTypeQuery()            {}
func (LessOrEqualQuery) isTypeQuery()     {}
func (NormalizeTypeQuery) isTypeQuery()   {}
func (SignatureQuery) isTypeQuery()       {}
func (SuperclassesQuery) isTypeQuery()    {}
func (TypeAtLocationQuery) isTypeQuery()  {}

// Response is the tagged union of dispatcher results. A nil Response
// means "no response" (§3).
type Response interface{ isResponse() }

type TypeCheckResponse struct {
	Order  []environ.FileHandle
	Errors map[environ.FileHandle][]environ.ErrorRecord
}

// TypeQueryResult is either a success payload or a query error
// (§4.3, §7).
type TypeQueryResult struct {
	Payload interface{}
	Error   string
}

type TypeQueryResponse struct{ Result TypeQueryResult }

type LanguageServerProtocolResponse struct{ Raw string }

type StopResponse struct{}

type ClientExitResponse struct{ Client ClientKind }

func (TypeCheckResponse) isResponse()              {}
func (TypeQueryResponse) isResponse()               {}
func (LanguageServerProtocolResponse) isResponse()  {}
func (StopResponse) isResponse()                    {}
func (ClientExitResponse) isResponse()              {}
