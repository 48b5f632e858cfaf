package server

import (
	"encoding/json"
	"strings"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	log "gopkg.in/inconshreveable/log15.v2"
)

var lspLog = log.New("component", "lspadapter")

// ParseLSPMessage decodes one LSP JSON-RPC message into a Request
// (§4.1). A parse failure or an unhandled method is logged and yields
// ok=false; this is never fatal to the server.
func ParseLSPMessage(root, raw string) (Request, bool) {
	var req jsonrpc2.Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		lspLog.Warn("malformed LSP message", "err", err)
		return nil, false
	}

	switch req.Method {
	case "initialize":
		return InitializeRequest{ID: req.ID, Options: decodeInitializationOptions(req.Params)}, true

	case "textDocument/definition":
		params, ok := decodePositionParams(req.Params)
		if !ok {
			return nil, false
		}
		file := fileFromURI(root, string(params.TextDocument.URI))
		return GetDefinitionRequest{
			ID:       req.ID,
			File:     file,
			Position: wireToInternal(params.Position),
		}, true

	case "textDocument/hover":
		params, ok := decodePositionParams(req.Params)
		if !ok {
			return nil, false
		}
		file := fileFromURI(root, string(params.TextDocument.URI))
		return HoverRequest{
			ID:       req.ID,
			File:     file,
			Position: wireToInternal(params.Position),
		}, true

	case "textDocument/didOpen":
		var params lsp.DidOpenTextDocumentParams
		if !decodeParams(req.Params, &params) {
			return nil, false
		}
		return OpenDocumentRequest{File: fileFromURI(root, string(params.TextDocument.URI))}, true

	case "textDocument/didClose":
		var params lsp.DidCloseTextDocumentParams
		if !decodeParams(req.Params, &params) {
			return nil, false
		}
		return CloseDocumentRequest{File: fileFromURI(root, string(params.TextDocument.URI))}, true

	case "textDocument/didSave":
		var params lsp.DidSaveTextDocumentParams
		if !decodeParams(req.Params, &params) {
			return nil, false
		}
		file := fileFromURI(root, string(params.TextDocument.URI))
		if params.Text != "" {
			text := params.Text
			file.Overlay = &text
		}
		return SaveDocumentRequest{File: file}, true

	case "shutdown":
		return ClientShutdownRequest{ID: req.ID}, true

	case "exit":
		return ClientExitRequest{Client: Persistent}, true

	case "telemetry/rage":
		return RageRequest{ID: req.ID}, true

	default:
		lspLog.Info("Unhandled", "method", req.Method)
		return nil, false
	}
}

// decodeInitializationOptions pulls the initializationOptions overlay
// out of an "initialize" request's params (§6). A missing or malformed
// overlay yields a zero-value InitializationOptions, which Config.Apply
// treats as "override nothing".
func decodeInitializationOptions(raw *json.RawMessage) InitializationOptions {
	var opts InitializationOptions
	if raw == nil {
		return opts
	}
	var params struct {
		InitializationOptions *json.RawMessage `json:"initializationOptions"`
	}
	if err := json.Unmarshal(*raw, &params); err != nil || params.InitializationOptions == nil {
		return opts
	}
	if err := json.Unmarshal(*params.InitializationOptions, &opts); err != nil {
		lspLog.Warn("failed to decode initializationOptions", "err", err)
		return InitializationOptions{}
	}
	return opts
}

func decodeParams(raw *json.RawMessage, v interface{}) bool {
	if raw == nil {
		lspLog.Warn("LSP message missing params")
		return false
	}
	if err := json.Unmarshal(*raw, v); err != nil {
		lspLog.Warn("failed to decode LSP params", "err", err)
		return false
	}
	return true
}

func decodePositionParams(raw *json.RawMessage) (lsp.TextDocumentPositionParams, bool) {
	var params lsp.TextDocumentPositionParams
	ok := decodeParams(raw, &params)
	return params, ok
}

// wireToInternal converts a 0-based LSP position to the internal
// 1-based-line, 0-based-column basis (§3 invariant 5, §4.1).
func wireToInternal(p lsp.Position) Position {
	return Position{Line: p.Line + 1, Column: p.Character}
}

// internalToWire is the inverse of wireToInternal, used when reporting
// a location back out over the LSP boundary.
func internalToWire(line, column int) lsp.Position {
	return lsp.Position{Line: line - 1, Character: column}
}

// fileFromURI strips the "file://" prefix and, if the remainder begins
// with root, strips "root/" too; otherwise it passes the URI through
// unchanged (§4.1).
func fileFromURI(root, uri string) File {
	path := strings.TrimPrefix(uri, "file://")
	if strings.HasPrefix(path, root+"/") {
		path = strings.TrimPrefix(path, root+"/")
	}
	return File{Root: root, Relative: path}
}

func uriFromRelative(root, relative string) lsp.DocumentURI {
	if root == "" {
		return lsp.DocumentURI("file://" + relative)
	}
	return lsp.DocumentURI("file://" + root + "/" + relative)
}

func encodeShutdownResponse(id interface{}) string {
	b, _ := json.Marshal(struct {
		ID     interface{} `json:"id"`
		Result interface{} `json:"result"`
	}{ID: id, Result: nil})
	return string(b)
}

// encodeInitializeResponse reports the fixed set of capabilities this
// server actually dispatches (§4.1); it is not negotiated per-client.
func encodeInitializeResponse(id interface{}) string {
	b, _ := json.Marshal(struct {
		ID     interface{}          `json:"id"`
		Result lsp.InitializeResult `json:"result"`
	}{
		ID: id,
		Result: lsp.InitializeResult{
			Capabilities: lsp.ServerCapabilities{
				TextDocumentSync:   lsp.TDSKFull,
				DefinitionProvider: true,
				HoverProvider:      true,
			},
		},
	})
	return string(b)
}

func encodeRageResponse(id interface{}, items []rageItem) string {
	b, _ := json.Marshal(struct {
		ID     interface{} `json:"id"`
		Result []rageItem  `json:"result"`
	}{ID: id, Result: items})
	return string(b)
}

type rageItem struct {
	Title string `json:"title"`
	Data  string `json:"data"`
}

// gatherRageItems collects diagnostic log items for a telemetry/rage
// request (§4.5). The reference implementation reports the counts a
// support request would actually want: handled files, stored errors,
// pending deferred work.
func gatherRageItems(state *State) []rageItem {
	state.Lock()
	defer state.Unlock()
	return []rageItem{
		{Title: "handles", Data: itoa(len(state.Handles))},
		{Title: "lookups", Data: itoa(len(state.Lookups))},
		{Title: "deferred_requests", Data: itoa(len(state.DeferredRequests))},
		{Title: "errors", Data: itoa(len(state.Errors.Keys()))},
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func handleGetDefinition(state *State, cfg Config, r GetDefinitionRequest) Response {
	loc, ok := FindDefinition(state, cfg, r.File, r.Position)
	result := lsp.Location{}
	if ok {
		result = lsp.Location{
			URI: uriFromRelative(cfg.LocalRoot, string(loc.Path)),
			Range: lsp.Range{
				Start: internalToWire(loc.StartLine, loc.StartCol),
				End:   internalToWire(loc.EndLine, loc.EndCol),
			},
		}
	}
	b, _ := json.Marshal(struct {
		ID     interface{} `json:"id"`
		Result lsp.Location `json:"result"`
	}{ID: r.ID, Result: result})
	return LanguageServerProtocolResponse{Raw: string(b)}
}

func handleHover(state *State, cfg Config, r HoverRequest) Response {
	loc, t, ok := FindAnnotation(state, cfg, r.File, r.Position)
	hover := lsp.Hover{}
	if ok {
		hover = lsp.Hover{
			Contents: []lsp.MarkedString{{Language: "", Value: t.String()}},
			Range: &lsp.Range{
				Start: internalToWire(loc.StartLine, loc.StartCol),
				End:   internalToWire(loc.EndLine, loc.EndCol),
			},
		}
	}
	b, _ := json.Marshal(struct {
		ID     interface{} `json:"id"`
		Result lsp.Hover   `json:"result"`
	}{ID: r.ID, Result: hover})
	return LanguageServerProtocolResponse{Raw: string(b)}
}
