package server

import (
	"errors"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/sourcegraph/checkserver/environ"
)

var dispatchLog = log.New("component", "dispatcher")

var requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "checkserver_request_duration_seconds",
	Help: "Time to process one dispatched request, by request kind.",
}, []string{"kind"})

func init() {
	prometheus.MustRegister(requestDuration)
}

// ErrInvalidRequest is returned when a ClientConnectionRequest (or any
// other request illegal to dispatch) reaches Process (§3, §4.5, §7).
var ErrInvalidRequest = errors.New("invalid request")

// maxLSPRecursionDepth bounds how deeply a LanguageServerProtocolRequest
// may re-enter process; FlushTypeErrors drains its deferred requests
// iteratively and never recurses (§9 design note).
const maxLSPRecursionDepth = 8

// Process is the top-level request dispatcher state machine (§4.5): it
// routes req to its handler, threads state, and returns an optional
// response. It records a per-kind performance event and an opentracing
// span around every call.
func Process(state *State, cfg Config, req Request) (Response, error) {
	return process(state, state.EffectiveConfig(cfg), req, 0)
}

func process(state *State, cfg Config, req Request, lspDepth int) (resp Response, err error) {
	kind := requestKind(req)
	span, finish := startSpan(kind)
	defer finish()
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.SetTag("error", true)
		}
	}()

	switch r := req.(type) {
	case TypeCheckRequest:
		resp, err = dispatchTypeCheck(state, cfg, r)

	case TypeQueryRequest:
		resp = ProcessTypeQuery(state, cfg, r.Query)

	case DisplayTypeErrorsRequest:
		resp = displayTypeErrors(state, r.Files)

	case FlushTypeErrorsRequest:
		resp, err = flushTypeErrors(state, cfg)

	case StopRequest:
		err = stopServer(state)

	case LanguageServerProtocolRequest:
		resp, err = dispatchLSP(state, cfg, r, lspDepth)

	case ClientShutdownRequest:
		resp = LanguageServerProtocolResponse{Raw: encodeShutdownResponse(r.ID)}

	case ClientExitRequest:
		dispatchLog.Info("client exit", "kind", r.Client)
		resp = ClientExitResponse{Client: r.Client}

	case RageRequest:
		resp = LanguageServerProtocolResponse{Raw: encodeRageResponse(r.ID, gatherRageItems(state))}

	case InitializeRequest:
		state.ApplyInitializationOptions(r.Options)
		resp = LanguageServerProtocolResponse{Raw: encodeInitializeResponse(r.ID)}

	case GetDefinitionRequest:
		resp = handleGetDefinition(state, cfg, r)

	case HoverRequest:
		resp = handleHover(state, cfg, r)

	case OpenDocumentRequest:
		state.Lock()
		evictLocked(state, r.File)
		getLocked(state, cfg, r.File)
		state.Unlock()

	case CloseDocumentRequest:
		Evict(state, r.File)

	case SaveDocumentRequest:
		resp, err = dispatchSaveDocument(state, cfg, r)

	case ClientConnectionRequest:
		err = ErrInvalidRequest

	default:
		err = ErrInvalidRequest
	}

	return resp, err
}

func dispatchTypeCheck(state *State, cfg Config, r TypeCheckRequest) (Response, error) {
	// Aggressive shared-memory GC before a type-check, as the teacher
	// runs before its own typecheck dispatch.
	if gc, ok := state.Environment.(interface{ GC() }); ok {
		gc.GC()
	}
	resp, err := ProcessTypeCheck(state, cfg, r)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func displayTypeErrors(state *State, files []File) Response {
	state.Lock()
	defer state.Unlock()

	all := state.Errors.All()
	if len(files) == 0 {
		order, byFile := BuildFileToErrorMap(state.Errors.Keys(), flattenErrors(all))
		return TypeCheckResponse{Order: order, Errors: byFile}
	}

	handles := make([]environ.FileHandle, 0, len(files))
	seen := make(map[environ.FileHandle]bool, len(files))
	var selected []environ.ErrorRecord
	for _, f := range files {
		h := f.Handle()
		if seen[h] {
			continue
		}
		seen[h] = true
		handles = append(handles, h)
		selected = append(selected, all[h]...)
	}
	order, byFile := BuildFileToErrorMap(handles, selected)
	return TypeCheckResponse{Order: order, Errors: byFile}
}

func flattenErrors(byFile map[environ.FileHandle][]environ.ErrorRecord) []environ.ErrorRecord {
	var out []environ.ErrorRecord
	for _, errs := range byFile {
		out = append(out, errs...)
	}
	return out
}

// flushTypeErrors drains DeferredRequests to empty, folding each
// through process in turn (iteratively, not recursively, per the §9
// design note), and returns every error currently in the store.
func flushTypeErrors(state *State, cfg Config) (Response, error) {
	state.Lock()
	pending := state.DeferredRequests
	state.DeferredRequests = nil
	state.Unlock()

	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]

		if _, err := process(state, cfg, next, 0); err != nil {
			return nil, err
		}

		state.Lock()
		pending = append(pending, state.DeferredRequests...)
		state.DeferredRequests = nil
		state.Unlock()
	}

	state.Lock()
	defer state.Unlock()
	order, byFile := BuildFileToErrorMap(state.Errors.Keys(), flattenErrors(state.Errors.All()))
	return TypeCheckResponse{Order: order, Errors: byFile}, nil
}

func stopServer(state *State) error {
	state.Connections.Lock()
	defer state.Connections.Unlock()
	if state.Connections.Primary != nil {
		_ = state.Connections.Primary.WriteResponse(StopResponse{})
	}
	dispatchLog.Info("stopping server", "reason", "explicit request")
	return nil
}

func dispatchSaveDocument(state *State, cfg Config, r SaveDocumentRequest) (Response, error) {
	Evict(state, r.File)

	state.Connections.Lock()
	hasNotifiers := state.Connections.HasFileNotifiers()
	state.Connections.Unlock()
	if hasNotifiers {
		return nil, nil
	}

	return dispatchTypeCheck(state, cfg, TypeCheckRequest{
		UpdateEnvironmentWith: []File{r.File},
		Check:                 []File{r.File},
	})
}

func dispatchLSP(state *State, cfg Config, r LanguageServerProtocolRequest, depth int) (Response, error) {
	if depth >= maxLSPRecursionDepth {
		return nil, errors.New("LSP request nesting too deep")
	}
	req, ok := ParseLSPMessage(cfg.LocalRoot, r.Raw)
	if !ok {
		return nil, nil
	}
	return process(state, cfg, req, depth+1)
}

func requestKind(req Request) string {
	switch req.(type) {
	case TypeCheckRequest:
		return "type_check"
	case TypeQueryRequest:
		return "type_query"
	case DisplayTypeErrorsRequest:
		return "display_type_errors"
	case FlushTypeErrorsRequest:
		return "flush_type_errors"
	case StopRequest:
		return "stop"
	case LanguageServerProtocolRequest:
		return "lsp"
	case ClientShutdownRequest:
		return "client_shutdown"
	case ClientExitRequest:
		return "client_exit"
	case RageRequest:
		return "rage"
	case InitializeRequest:
		return "initialize"
	case GetDefinitionRequest:
		return "get_definition"
	case HoverRequest:
		return "hover"
	case OpenDocumentRequest:
		return "open_document"
	case CloseDocumentRequest:
		return "close_document"
	case SaveDocumentRequest:
		return "save_document"
	default:
		return "invalid"
	}
}

func startSpan(kind string) (opentracing.Span, func()) {
	span := opentracing.StartSpan("checkserver." + kind)
	return span, span.Finish
}
