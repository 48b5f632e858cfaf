package server

import (
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/sourcegraph/checkserver/environ"
)

var lookupLog = log.New("component", "lookupcache")

// Get returns the cached LookupEntry for file's relative path. On a
// miss it builds one from the environment's stored AST for that
// handle plus the file's source text, inserts it, and returns it. If
// the AST is not available, nothing is inserted and nothing is
// returned (§4.2).
func Get(state *State, cfg Config, file File) (*LookupEntry, bool) {
	state.Lock()
	defer state.Unlock()
	return getLocked(state, cfg, file)
}

// getLocked assumes state is already locked by the caller.
func getLocked(state *State, cfg Config, file File) (*LookupEntry, bool) {
	key := file.Relative
	if e, ok := state.Lookups[key]; ok {
		return e, true
	}

	ast, ok := state.Environment.ASTFor(file.Handle())
	if !ok {
		return nil, false
	}

	source, err := readFileSource(state, cfg, file)
	if err != nil {
		lookupLog.Warn("failed to read source for lookup entry", "file", key, "err", err)
		source = ""
	}

	entry := &LookupEntry{
		Table:  state.Environment.BuildLookupTable(ast, source),
		Source: source,
	}
	state.Lookups[key] = entry
	return entry, true
}

// Evict removes the entry keyed by file's relative path, if any. Idempotent.
func Evict(state *State, file File) {
	state.Lock()
	defer state.Unlock()
	evictLocked(state, file)
}

func evictLocked(state *State, file File) {
	delete(state.Lookups, file.Relative)
}

// readFileSource returns file's in-memory overlay if present, else its
// on-disk content rooted at cfg.LocalRoot (empty string if missing).
func readFileSource(state *State, cfg Config, file File) (string, error) {
	if file.Overlay != nil {
		return *file.Overlay, nil
	}
	return state.Sources.ReadSource(cfg.LocalRoot, file.Relative)
}

// FindAnnotation resolves the annotation and location at pos in file,
// building the lookup entry on demand.
func FindAnnotation(state *State, cfg Config, file File, pos Position) (environ.Location, environ.Type, bool) {
	entry, ok := Get(state, cfg, file)
	if !ok {
		return environ.Location{}, nil, false
	}
	return entry.Table.AnnotationAt(pos.Line, pos.Column)
}

// FindDefinition resolves the definition location at pos in file,
// building the lookup entry on demand.
func FindDefinition(state *State, cfg Config, file File, pos Position) (environ.Location, bool) {
	entry, ok := Get(state, cfg, file)
	if !ok {
		return environ.Location{}, false
	}
	return entry.Table.DefinitionAt(pos.Line, pos.Column)
}
