package server

import (
	"sync"

	"github.com/sourcegraph/checkserver/environ"
)

// parallelSafeMap collects (handle -> AST) pairs written concurrently
// by a Scheduler.Map fan-out (§4.4 stage 5).
type parallelSafeMap struct {
	mu sync.Mutex
	m  map[environ.FileHandle]environ.AST
}

func (p *parallelSafeMap) init(m map[environ.FileHandle]environ.AST) {
	p.m = m
}

func (p *parallelSafeMap) store(h environ.FileHandle, ast environ.AST) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[h] = ast
}

func (p *parallelSafeMap) handles() []environ.FileHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]environ.FileHandle, 0, len(p.m))
	for h := range p.m {
		out = append(out, h)
	}
	return out
}

func (p *parallelSafeMap) snapshot() map[environ.FileHandle]environ.AST {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[environ.FileHandle]environ.AST, len(p.m))
	for k, v := range p.m {
		out[k] = v
	}
	return out
}
