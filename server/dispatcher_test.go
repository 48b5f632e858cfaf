package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/checkserver/environ"
	"github.com/sourcegraph/checkserver/environ/envtest"
)

func TestProcessInvalidRequestKinds(t *testing.T) {
	state, cfg := newTestState(t)

	_, err := Process(state, cfg, ClientConnectionRequest{})
	assert.Equal(t, ErrInvalidRequest, err)
}

func TestProcessOpenDocumentEvictsThenWarmsCache(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}
	state.Environment.StoreAST(file.Handle(), envtest.AST{})

	// Seed a stale entry so OpenDocument's evict-then-warm is observable.
	state.Lock()
	state.Lookups[file.Relative] = &LookupEntry{Source: "stale"}
	state.Unlock()

	_, err := Process(state, cfg, OpenDocumentRequest{File: file})
	require.NoError(t, err)

	state.Lock()
	entry, ok := state.Lookups[file.Relative]
	state.Unlock()
	require.True(t, ok)
	assert.Equal(t, "x = 1\n", entry.Source, "OpenDocument must rebuild the entry, not keep the stale one")
}

func TestProcessCloseDocumentEvicts(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}
	state.Lock()
	state.Lookups[file.Relative] = &LookupEntry{}
	state.Unlock()

	_, err := Process(state, cfg, CloseDocumentRequest{File: file})
	require.NoError(t, err)

	state.Lock()
	_, ok := state.Lookups[file.Relative]
	state.Unlock()
	assert.False(t, ok)
}

func TestProcessDisplayTypeErrorsEmptySelectionReturnsEverything(t *testing.T) {
	state, cfg := newTestState(t)
	state.Errors.Insert([]environ.ErrorRecord{{Path: "a.py", Message: "boom"}})

	resp, err := Process(state, cfg, DisplayTypeErrorsRequest{})
	require.NoError(t, err)
	tcr := resp.(TypeCheckResponse)
	assert.Len(t, tcr.Errors["a.py"], 1)
}

func TestProcessDisplayTypeErrorsFiltersToRequestedFiles(t *testing.T) {
	state, cfg := newTestState(t)
	state.Errors.Insert([]environ.ErrorRecord{
		{Path: "a.py", Message: "boom-a"},
		{Path: "b.py", Message: "boom-b"},
	})

	resp, err := Process(state, cfg, DisplayTypeErrorsRequest{Files: []File{{Root: cfg.LocalRoot, Relative: "a.py"}}})
	require.NoError(t, err)
	tcr := resp.(TypeCheckResponse)
	assert.Len(t, tcr.Order, 1)
	assert.Equal(t, environ.FileHandle("a.py"), tcr.Order[0])
}

func TestProcessFlushTypeErrorsDrainsDeferred(t *testing.T) {
	state, cfg := newTestState(t)

	first := File{Root: cfg.LocalRoot, Relative: "a.py"}
	second := environ.FileHandle("b.py")
	env := state.Environment.(*envtest.Environment)
	env.SetDependents(env.ModuleQualifier("a.py"), []environ.FileHandle{second})

	_, err := Process(state, cfg, TypeCheckRequest{
		UpdateEnvironmentWith: []File{first},
		Check:                 []File{first},
	})
	require.NoError(t, err)

	state.Lock()
	pending := len(state.DeferredRequests)
	state.Unlock()
	require.Equal(t, 1, pending)

	resp, err := Process(state, cfg, FlushTypeErrorsRequest{})
	require.NoError(t, err)
	assert.NotNil(t, resp)

	state.Lock()
	defer state.Unlock()
	assert.Empty(t, state.DeferredRequests)
}

func TestProcessSaveDocumentRunsTypeCheckWithoutNotifier(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}

	resp, err := Process(state, cfg, SaveDocumentRequest{File: file})
	require.NoError(t, err)
	require.NotNil(t, resp)
	_, ok := resp.(TypeCheckResponse)
	assert.True(t, ok)
}

func TestProcessSaveDocumentDefersWithNotifier(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}

	state.Connections.Lock()
	state.Connections.FileNotifiers = append(state.Connections.FileNotifiers, nil)
	state.Connections.Unlock()

	resp, err := Process(state, cfg, SaveDocumentRequest{File: file})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestProcessInitializeAppliesInitializationOptionsOverlay(t *testing.T) {
	state, cfg := newTestState(t)

	overrideRoot := "/overridden"
	resp, err := Process(state, cfg, InitializeRequest{
		ID:      1,
		Options: InitializationOptions{LocalRoot: &overrideRoot},
	})
	require.NoError(t, err)
	require.IsType(t, LanguageServerProtocolResponse{}, resp)

	assert.Equal(t, overrideRoot, state.EffectiveConfig(cfg).LocalRoot)
	// cfg itself, owned by the caller, is untouched -- the overlay lives
	// on State and is applied fresh on every dispatch.
	assert.Equal(t, "/proj", cfg.LocalRoot)
}

func TestProcessClientExit(t *testing.T) {
	state, cfg := newTestState(t)
	resp, err := Process(state, cfg, ClientExitRequest{Client: Ephemeral})
	require.NoError(t, err)
	exit := resp.(ClientExitResponse)
	assert.Equal(t, Ephemeral, exit.Client)
}
