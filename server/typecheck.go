package server

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/sourcegraph/checkserver/environ"
)

var typecheckLog = log.New("component", "typecheck")

// ProcessTypeCheck runs the twelve-stage incremental type-check
// pipeline (§4.4) under state's lock and returns the response for the
// files in req.Check.
func ProcessTypeCheck(state *State, cfg Config, req TypeCheckRequest) (TypeCheckResponse, error) {
	state.Lock()
	defer state.Unlock()
	return processTypeCheckLocked(state, cfg, req)
}

func processTypeCheckLocked(state *State, cfg Config, req TypeCheckRequest) (TypeCheckResponse, error) {
	// Stage 1: clear derived caches (per-class attribute memoization).
	state.attrMemo.Purge()

	// Stage 2: choose parallelism.
	sched := state.Scheduler.WithParallel(len(req.Check) > cfg.DependentThreshold)

	// Stage 3: compute deferred dependents.
	if len(req.UpdateEnvironmentWith) > 0 {
		qualifiers := make([]string, 0, len(req.UpdateEnvironmentWith))
		for _, f := range req.UpdateEnvironmentWith {
			qualifiers = append(qualifiers, state.Environment.ModuleQualifier(f.Relative))
		}
		dependents, err := state.Environment.Dependents(qualifiers)
		if err != nil {
			return TypeCheckResponse{}, errors.Wrap(err, "typecheck pipeline: compute dependents")
		}
		checked := make(map[environ.FileHandle]bool, len(req.Check))
		for _, f := range req.Check {
			checked[f.Handle()] = true
		}
		var deferred []File
		for _, h := range dependents {
			if !checked[h] {
				deferred = append(deferred, File{Root: cfg.LocalRoot, Relative: string(h)})
			}
		}
		if len(deferred) > 0 {
			state.DeferredRequests = append(state.DeferredRequests, TypeCheckRequest{Check: deferred})
		}
	}

	// Stage 4: purge & evict.
	if len(req.UpdateEnvironmentWith) > 0 {
		handles := make([]environ.FileHandle, 0, len(req.UpdateEnvironmentWith))
		for _, f := range req.UpdateEnvironmentWith {
			handles = append(handles, f.Handle())
		}
		for _, h := range handles {
			state.Environment.RemoveAST(h)
		}
		if err := state.Environment.Purge(handles); err != nil {
			return TypeCheckResponse{}, errors.Wrap(err, "typecheck pipeline: purge environment")
		}
		for _, f := range req.UpdateEnvironmentWith {
			evictLocked(state, f)
		}
	}

	// Stage 5: parse.
	var stubs, sources []File
	for _, f := range req.UpdateEnvironmentWith {
		if strings.HasSuffix(f.Relative, ".pyi") {
			stubs = append(stubs, f)
		} else {
			sources = append(sources, f)
		}
	}

	asts := map[environ.FileHandle]environ.AST{}
	var astsMu parallelSafeMap
	astsMu.init(asts)

	if err := parseAll(state, sched, stubs, &astsMu); err != nil {
		return TypeCheckResponse{}, errors.Wrap(err, "typecheck pipeline: parse stubs")
	}
	if err := parseAll(state, sched, sourcesNotShadowed(state, sources), &astsMu); err != nil {
		return TypeCheckResponse{}, errors.Wrap(err, "typecheck pipeline: parse sources")
	}

	repopulateHandles := astsMu.handles()

	// Stage 6: repopulate environment.
	if len(repopulateHandles) > 0 {
		if err := state.Environment.Repopulate(repopulateHandles, astsMu.snapshot()); err != nil {
			return TypeCheckResponse{}, errors.Wrap(err, "typecheck pipeline: repopulate environment")
		}
		if err := state.Environment.InferProtocols(repopulateHandles); err != nil {
			return TypeCheckResponse{}, errors.Wrap(err, "typecheck pipeline: infer protocols")
		}
	}

	// Stage 7: register ignores.
	if len(repopulateHandles) > 0 && state.Ignores != nil {
		if err := state.Ignores.RegisterIgnores(repopulateHandles); err != nil {
			return TypeCheckResponse{}, errors.Wrap(err, "typecheck pipeline: register ignores")
		}
	}

	// Stage 8: invalidate type resolution memoization.
	var defines []string
	for _, ast := range astsMu.snapshot() {
		defines = append(defines, state.Environment.TopLevelDefines(ast)...)
	}
	if len(defines) > 0 {
		state.Environment.PurgeResolution(defines)
	}

	// Stage 9: re-analyze.
	checkHandles := make([]environ.FileHandle, 0, len(req.Check))
	for _, f := range req.Check {
		checkHandles = append(checkHandles, f.Handle())
	}
	newErrors := state.Analyzer.Analyze(checkHandles)

	// Stage 10: update error store.
	state.Errors.Remove(checkHandles)
	state.Errors.Insert(newErrors)

	// Stage 11: build response.
	order, byFile := BuildFileToErrorMap(checkHandles, newErrors)

	// Stage 12: state update.
	for _, h := range repopulateHandles {
		state.Handles[h] = struct{}{}
	}
	for _, h := range checkHandles {
		state.Handles[h] = struct{}{}
	}

	return TypeCheckResponse{Order: order, Errors: byFile}, nil
}

// parseAll parses files via state.Parser, fanned out through sched,
// and records the parsed ASTs in out. Parse failures are absorbed: the
// file simply does not contribute to repopulation (§4.4, §7).
func parseAll(state *State, sched environ.Scheduler, files []File, out *parallelSafeMap) error {
	if len(files) == 0 {
		return nil
	}
	byHandle := make(map[environ.FileHandle]File, len(files))
	handles := make([]environ.FileHandle, 0, len(files))
	for _, f := range files {
		h := f.Handle()
		byHandle[h] = f
		handles = append(handles, h)
	}

	var merr *multierror.Error
	err := sched.Map(handles, func(h environ.FileHandle) error {
		f := byHandle[h]
		source, err := readFileSource(state, Config{LocalRoot: f.Root}, f)
		if err != nil {
			typecheckLog.Warn("failed to read source to parse", "file", f.Relative, "err", err)
			return nil
		}
		ast, err := state.Parser.Parse(f.Relative, source)
		if err != nil {
			typecheckLog.Debug("parse failed, dropping from repopulation", "file", f.Relative, "err", err)
			return nil
		}
		out.store(h, ast)
		state.Environment.StoreAST(h, ast)
		return nil
	})
	if err != nil {
		merr = multierror.Append(merr, err)
		return merr.ErrorOrNil()
	}
	return nil
}

// sourcesNotShadowed drops any source file whose canonical module
// qualifier already resolves to a different handle in the
// environment, implementing the shadow-by-stub rule (§4.4 stage 5).
// Stubs must already have been parsed and repopulated-into-environment
// module definitions for this to observe the shadow; here we check
// against ModuleDefinition, which the environment updates as stubs are
// stored.
func sourcesNotShadowed(state *State, sources []File) []File {
	if len(sources) == 0 {
		return sources
	}
	var kept []File
	for _, f := range sources {
		qualifier := state.Environment.ModuleQualifier(f.Relative)
		if definer, ok := state.Environment.ModuleDefinition(qualifier); ok && definer != f.Handle() {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}
