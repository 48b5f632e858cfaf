// Package server implements the request-processing engine of the
// checking server: the request dispatcher, the incremental type-check
// pipeline, and the per-document lookup cache.
package server

import (
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/sourcegraph/checkserver/environ"
)

// File is (root, relative_path, optional in-memory content override).
// Its Handle is the canonical, root-relative string used as a map key
// throughout ServerState.
type File struct {
	Root     string
	Relative string
	Overlay  *string // in-memory content override, e.g. from didSave
}

// Handle returns the canonical FileHandle for f.
func (f File) Handle() environ.FileHandle {
	return environ.FileHandle(filepath.ToSlash(f.Relative))
}

// NewFile builds a File rooted at root from a root-relative or
// absolute path, matching it against root the way the LSP adapter
// does for URIs.
func NewFile(root, path string) File {
	rel := path
	if strings.HasPrefix(path, root+"/") {
		rel = strings.TrimPrefix(path, root+"/")
	}
	return File{Root: root, Relative: rel}
}

// LookupEntry is the value owned by ServerState.lookups: a
// position-index of annotations and definitions plus the raw source
// text snapshot used to resolve them.
type LookupEntry struct {
	Table  environ.LookupTable
	Source string
}

// ConnectionRegistry is the shared, mutex-guarded registry of the
// primary client connection and any external file-change notifier
// connections. It is the only field of ServerState touched from
// outside the dispatcher's own goroutine (§5).
type ConnectionRegistry struct {
	mu sync.Mutex

	Primary       Conn
	FileNotifiers []Conn
}

// Lock and Unlock guard Primary and FileNotifiers; every access happens
// inside a critical section on this mutex (§5).
func (r *ConnectionRegistry) Lock()   { r.mu.Lock() }
func (r *ConnectionRegistry) Unlock() { r.mu.Unlock() }

// HasFileNotifiers reports whether any external file-change notifier
// is attached. When one is attached, SaveDocument defers to it instead
// of running a type-check itself (§4.5). Caller must hold the lock.
func (r *ConnectionRegistry) HasFileNotifiers() bool {
	return len(r.FileNotifiers) > 0
}

// Conn is the minimal surface the dispatcher needs from a client
// socket: write a framed Response.
type Conn interface {
	WriteResponse(Response) error
}

// State is the process-wide server state, mutated under Lock (§3).
type State struct {
	Environment environ.Environment
	Scheduler   environ.Scheduler
	Parser      environ.Parser
	Analyzer    environ.Analyzer
	Ignores     environ.IgnoreRegistrar
	Sources     SourceReader

	Errors  *ErrorStore
	Handles map[environ.FileHandle]struct{}
	Lookups map[string]*LookupEntry

	DeferredRequests []TypeCheckRequest

	Connections ConnectionRegistry

	attrMemo *lru.Cache

	mu sync.Mutex

	log log.Logger

	// initOverlay holds the LSP initializationOptions overlay, if the
	// client has sent one (§6). nil until the first "initialize"
	// request; guarded by mu like the rest of State.
	initOverlay *InitializationOptions
}

// NewState builds a fresh State around the given external
// collaborators.
func NewState(cfg Config, env environ.Environment, sched environ.Scheduler, parser environ.Parser, analyzer environ.Analyzer, ignores environ.IgnoreRegistrar, sources SourceReader) *State {
	memo, err := lru.New(cfg.AttributeMemoSize)
	if err != nil {
		// Only possible if AttributeMemoSize <= 0; fall back to a
		// small but functional cache rather than failing startup.
		memo, _ = lru.New(1)
	}
	return &State{
		Environment: env,
		Scheduler:   sched,
		Parser:      parser,
		Analyzer:    analyzer,
		Ignores:     ignores,
		Sources:     sources,
		Errors:      NewErrorStore(),
		Handles:     map[environ.FileHandle]struct{}{},
		Lookups:     map[string]*LookupEntry{},
		attrMemo:    memo,
		log:         log.New("component", "state"),
	}
}

// Lock and Unlock guard mutation of every field above except
// Connections, which is additionally guarded by its own critical
// sections where noted (§5).
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// ApplyInitializationOptions records the overlay carried by an LSP
// "initialize" request (§6). It takes effect on every subsequent
// dispatch; flags and the on-disk TOML config were already folded into
// the base Config before the server started, so this overlay is always
// the last writer.
func (s *State) ApplyInitializationOptions(opts InitializationOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initOverlay = &opts
}

// EffectiveConfig overlays any recorded initializationOptions onto
// base, the Config main.go built from flags and TOML (§6).
func (s *State) EffectiveConfig(base Config) Config {
	s.mu.Lock()
	overlay := s.initOverlay
	s.mu.Unlock()
	if overlay == nil {
		return base
	}
	return base.Apply(*overlay)
}

// SourceReader reads a file's raw text, rooted at localRoot, returning
// "" if the file does not exist (§4.2).
type SourceReader interface {
	ReadSource(localRoot string, relativePath string) (string, error)
}
