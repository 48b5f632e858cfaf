package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sourcegraph/checkserver/environ"
)

// envelope is the discriminated wrapper the native protocol frames a
// Request or Response as: {"kind": "...", "body": ...} (§6).
type envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// WriteFrame writes a length-preambled frame: a 4-byte big-endian
// length followed by that many bytes of JSON-encoded envelope (§6).
func WriteFrame(w io.Writer, v interface{}) error {
	kind, body, err := encodeEnvelope(v)
	if err != nil {
		return err
	}
	env := envelope{Kind: kind, Body: body}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-preambled frame and decodes it into a
// Request.
func ReadFrame(r io.Reader) (Request, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(length[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return decodeRequestEnvelope(env)
}

func encodeEnvelope(v interface{}) (kind string, body json.RawMessage, err error) {
	switch r := v.(type) {
	case TypeCheckRequest:
		kind = "TypeCheckRequest"
		body, err = json.Marshal(wireTypeCheckRequest{
			UpdateEnvironmentWith: toWireFiles(r.UpdateEnvironmentWith),
			Check:                 toWireFiles(r.Check),
		})
	case TypeQueryRequest:
		kind = "TypeQueryRequest"
		var qkind string
		var qbody json.RawMessage
		qkind, qbody, err = encodeQuery(r.Query)
		if err == nil {
			body, err = json.Marshal(envelope{Kind: qkind, Body: qbody})
		}

	case DisplayTypeErrorsRequest:
		kind = "DisplayTypeErrorsRequest"
		body, err = json.Marshal(wireFiles{Files: toWireFiles(r.Files)})
	case FlushTypeErrorsRequest:
		kind, body = "FlushTypeErrorsRequest", json.RawMessage("{}")
	case StopRequest:
		kind, body = "StopRequest", json.RawMessage("{}")
	case LanguageServerProtocolRequest:
		kind = "LanguageServerProtocolRequest"
		body, err = json.Marshal(r)
	case ClientExitRequest:
		kind = "ClientExitRequest"
		body, err = json.Marshal(r)
	case TypeCheckResponse:
		kind = "TypeCheckResponse"
		body, err = json.Marshal(toWireErrorMap(r))
	case TypeQueryResponse:
		kind = "TypeQueryResponse"
		body, err = json.Marshal(r.Result)
	case LanguageServerProtocolResponse:
		kind = "LanguageServerProtocolResponse"
		body, err = json.Marshal(r)
	case StopResponse:
		kind, body = "StopResponse", json.RawMessage("{}")
	case ClientExitResponse:
		kind = "ClientExitResponse"
		body, err = json.Marshal(r)
	default:
		err = fmt.Errorf("wire: unsupported value %T", v)
	}
	return kind, body, err
}

func decodeRequestEnvelope(env envelope) (Request, error) {
	switch env.Kind {
	case "TypeCheckRequest":
		var w wireTypeCheckRequest
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return TypeCheckRequest{
			UpdateEnvironmentWith: fromWireFiles(w.UpdateEnvironmentWith),
			Check:                 fromWireFiles(w.Check),
		}, nil
	case "TypeQueryRequest":
		var qenv envelope
		if err := json.Unmarshal(env.Body, &qenv); err != nil {
			return nil, err
		}
		q, err := decodeQuery(qenv)
		if err != nil {
			return nil, err
		}
		return TypeQueryRequest{Query: q}, nil

	case "DisplayTypeErrorsRequest":
		var w wireFiles
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return DisplayTypeErrorsRequest{Files: fromWireFiles(w.Files)}, nil
	case "FlushTypeErrorsRequest":
		return FlushTypeErrorsRequest{}, nil
	case "StopRequest":
		return StopRequest{}, nil
	case "LanguageServerProtocolRequest":
		var r LanguageServerProtocolRequest
		if err := json.Unmarshal(env.Body, &r); err != nil {
			return nil, err
		}
		return r, nil
	case "ClientExitRequest":
		var r ClientExitRequest
		if err := json.Unmarshal(env.Body, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("wire: unknown request kind %q", env.Kind)
	}
}

type wireFile struct {
	Root     string  `json:"root"`
	Relative string  `json:"relative"`
	Overlay  *string `json:"overlay,omitempty"`
}

type wireFiles struct {
	Files []wireFile `json:"files"`
}

type wireTypeCheckRequest struct {
	UpdateEnvironmentWith []wireFile `json:"update_environment_with"`
	Check                 []wireFile `json:"check"`
}

func toWireFiles(files []File) []wireFile {
	out := make([]wireFile, len(files))
	for i, f := range files {
		out[i] = wireFile{Root: f.Root, Relative: f.Relative, Overlay: f.Overlay}
	}
	return out
}

func fromWireFiles(files []wireFile) []File {
	out := make([]File, len(files))
	for i, f := range files {
		out[i] = File{Root: f.Root, Relative: f.Relative, Overlay: f.Overlay}
	}
	return out
}

type wirePairQuery struct {
	A string `json:"a"`
	B string `json:"b"`
}

type wireClassQuery struct {
	Class string `json:"class"`
}

type wireNameQuery struct {
	Name string `json:"name"`
}

type wireExprQuery struct {
	Expr string `json:"expr"`
}

type wireTypeAtLocationQuery struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Column int   `json:"column"`
}

func encodeQuery(q TypeQuery) (kind string, body json.RawMessage, err error) {
	switch query := q.(type) {
	case AttributesQuery:
		kind = "AttributesQuery"
		body, err = json.Marshal(wireClassQuery{Class: query.Class})
	case MethodsQuery:
		kind = "MethodsQuery"
		body, err = json.Marshal(wireClassQuery{Class: query.Class})
	case JoinQuery:
		kind = "JoinQuery"
		body, err = json.Marshal(wirePairQuery{A: query.A, B: query.B})
	case MeetQuery:
		kind = "MeetQuery"
		body, err = json.Marshal(wirePairQuery{A: query.A, B: query.B})
	case LessOrEqualQuery:
		kind = "LessOrEqualQuery"
		body, err = json.Marshal(wirePairQuery{A: query.A, B: query.B})
	case NormalizeTypeQuery:
		kind = "NormalizeTypeQuery"
		body, err = json.Marshal(wireExprQuery{Expr: query.Expr})
	case SignatureQuery:
		kind = "SignatureQuery"
		body, err = json.Marshal(wireNameQuery{Name: query.Name})
	case SuperclassesQuery:
		kind = "SuperclassesQuery"
		body, err = json.Marshal(wireClassQuery{Class: query.Class})
	case TypeAtLocationQuery:
		kind = "TypeAtLocationQuery"
		body, err = json.Marshal(wireTypeAtLocationQuery{Path: query.Path, Line: query.Start.Line, Column: query.Start.Column})
	default:
		err = fmt.Errorf("wire: unsupported query type %T", q)
	}
	return kind, body, err
}

func decodeQuery(env envelope) (TypeQuery, error) {
	switch env.Kind {
	case "AttributesQuery":
		var w wireClassQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return AttributesQuery{Class: w.Class}, nil
	case "MethodsQuery":
		var w wireClassQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return MethodsQuery{Class: w.Class}, nil
	case "JoinQuery":
		var w wirePairQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return JoinQuery{A: w.A, B: w.B}, nil
	case "MeetQuery":
		var w wirePairQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return MeetQuery{A: w.A, B: w.B}, nil
	case "LessOrEqualQuery":
		var w wirePairQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return LessOrEqualQuery{A: w.A, B: w.B}, nil
	case "NormalizeTypeQuery":
		var w wireExprQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return NormalizeTypeQuery{Expr: w.Expr}, nil
	case "SignatureQuery":
		var w wireNameQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return SignatureQuery{Name: w.Name}, nil
	case "SuperclassesQuery":
		var w wireClassQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return SuperclassesQuery{Class: w.Class}, nil
	case "TypeAtLocationQuery":
		var w wireTypeAtLocationQuery
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return TypeAtLocationQuery{Path: w.Path, Start: Position{Line: w.Line, Column: w.Column}}, nil
	default:
		return nil, fmt.Errorf("wire: unknown query kind %q", env.Kind)
	}
}

type wireErrorRecord struct {
	Path    string          `json:"path"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Location environ.Location `json:"location"`
}

type wireErrorMap struct {
	Order []string                     `json:"order"`
	Files map[string][]wireErrorRecord `json:"files"`
}

func toWireErrorMap(r TypeCheckResponse) wireErrorMap {
	out := wireErrorMap{Files: map[string][]wireErrorRecord{}}
	for _, h := range r.Order {
		out.Order = append(out.Order, string(h))
		errs := r.Errors[h]
		wire := make([]wireErrorRecord, len(errs))
		for i, e := range errs {
			wire[i] = wireErrorRecord{Path: string(e.Path), Kind: e.Kind, Message: e.Message, Location: e.Location}
		}
		out.Files[string(h)] = wire
	}
	return out
}
