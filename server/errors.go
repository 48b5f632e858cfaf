package server

import (
	"sync"

	"github.com/sourcegraph/checkserver/environ"
)

// ErrorStore is the file-handle -> ordered-error-sequence multimap
// (C6). Insertion appends; removal clears a handle's whole sequence;
// reporting builds a deterministic file -> errors map.
//
// Invariant: for every key k, every error e in errors[k] satisfies
// handle(e.Path) == k.
type ErrorStore struct {
	mu     sync.Mutex
	byFile map[environ.FileHandle][]environ.ErrorRecord
	order  []environ.FileHandle
}

// NewErrorStore returns an empty store.
func NewErrorStore() *ErrorStore {
	return &ErrorStore{byFile: map[environ.FileHandle][]environ.ErrorRecord{}}
}

// Insert appends each error into the multimap keyed by handle(error.Path).
func (s *ErrorStore) Insert(errs []environ.ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range errs {
		if _, ok := s.byFile[e.Path]; !ok {
			s.order = append(s.order, e.Path)
		}
		s.byFile[e.Path] = append(s.byFile[e.Path], e)
	}
}

// Remove clears all errors for the given handles.
func (s *ErrorStore) Remove(handles []environ.FileHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range handles {
		delete(s.byFile, h)
	}
	removed := make(map[environ.FileHandle]bool, len(handles))
	for _, h := range handles {
		removed[h] = true
	}
	kept := s.order[:0:0]
	for _, h := range s.order {
		if !removed[h] {
			kept = append(kept, h)
		}
	}
	s.order = kept
}

// All returns a copy of every error currently in the store, keyed by
// file handle (e.g. for FlushTypeErrorsRequest).
func (s *ErrorStore) All() map[environ.FileHandle][]environ.ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[environ.FileHandle][]environ.ErrorRecord, len(s.byFile))
	for k, v := range s.byFile {
		cp := make([]environ.ErrorRecord, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Keys returns the handles currently present in the store, in the
// order each handle first received an error (insertion order), so
// callers that seed a report from Keys get deterministic output
// instead of Go's randomized map iteration order.
func (s *ErrorStore) Keys() []environ.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]environ.FileHandle, len(s.order))
	copy(out, s.order)
	return out
}

// BuildFileToErrorMap seeds the result with checkedFiles, then overlays
// errs grouped by file. It does not read the store: callers that want
// every stored file pass ErrorStore.Keys() as checkedFiles. Seed order
// is preserved in the returned slice of keys, and files with errors but
// no seed entry follow in the order they first appear in errs; errors
// within a file stay in insertion order.
func BuildFileToErrorMap(checkedFiles []environ.FileHandle, errs []environ.ErrorRecord) (order []environ.FileHandle, byFile map[environ.FileHandle][]environ.ErrorRecord) {
	byFile = map[environ.FileHandle][]environ.ErrorRecord{}
	order = append(order, checkedFiles...)
	for _, h := range checkedFiles {
		byFile[h] = []environ.ErrorRecord{}
	}
	for _, e := range errs {
		if _, ok := byFile[e.Path]; !ok {
			order = append(order, e.Path)
		}
		byFile[e.Path] = append(byFile[e.Path], e)
	}
	return order, byFile
}
