package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/checkserver/environ"
	"github.com/sourcegraph/checkserver/environ/envtest"
)

func TestTypeCheckClearsLookupsForUpdatedFiles(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}

	state.Environment.StoreAST(file.Handle(), envtest.AST{})
	_, ok := Get(state, cfg, file)
	require.True(t, ok)

	parser := state.Parser.(*envtest.Parser)
	parser.Register("a.py", envtest.AST{Qualifier: "a", TopLevel: []string{"foo"}})

	_, err := ProcessTypeCheck(state, cfg, TypeCheckRequest{
		UpdateEnvironmentWith: []File{file},
		Check:                 []File{file},
	})
	require.NoError(t, err)

	state.Lock()
	_, cached := state.Lookups[file.Relative]
	state.Unlock()
	assert.False(t, cached, "lookup entry must be evicted when its file is reparsed")
}

func TestTypeCheckRecordsCheckedHandles(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}

	resp, err := ProcessTypeCheck(state, cfg, TypeCheckRequest{Check: []File{file}})
	require.NoError(t, err)
	assert.Equal(t, []environ.FileHandle{"a.py"}, resp.Order)

	state.Lock()
	_, tracked := state.Handles[file.Handle()]
	state.Unlock()
	assert.True(t, tracked)
}

func TestTypeCheckEveryErrorHandleIsChecked(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}

	analyzer := state.Analyzer.(*envtest.Analyzer)
	analyzer.Errors[file.Handle()] = []environ.ErrorRecord{
		{Path: file.Handle(), Kind: "type", Message: "boom"},
	}

	resp, err := ProcessTypeCheck(state, cfg, TypeCheckRequest{Check: []File{file}})
	require.NoError(t, err)

	for handle, errs := range resp.Errors {
		for _, e := range errs {
			assert.Equal(t, handle, e.Path)
		}
	}
	assert.Len(t, resp.Errors[file.Handle()], 1)
}

func TestTypeCheckDefersDependents(t *testing.T) {
	state, cfg := newTestState(t)
	updated := File{Root: cfg.LocalRoot, Relative: "a.py"}
	dependent := environ.FileHandle("b.py")

	env := state.Environment.(*envtest.Environment)
	env.SetDependents(env.ModuleQualifier("a.py"), []environ.FileHandle{dependent})

	_, err := ProcessTypeCheck(state, cfg, TypeCheckRequest{
		UpdateEnvironmentWith: []File{updated},
		Check:                 []File{updated},
	})
	require.NoError(t, err)

	state.Lock()
	defer state.Unlock()
	require.Len(t, state.DeferredRequests, 1)
	assert.Equal(t, []File{{Root: cfg.LocalRoot, Relative: string(dependent)}}, state.DeferredRequests[0].Check)
}

func TestTypeCheckStubShadowsSource(t *testing.T) {
	state, cfg := newTestState(t)

	parser := state.Parser.(*envtest.Parser)
	stub := File{Root: cfg.LocalRoot, Relative: "a.pyi"}
	source := File{Root: cfg.LocalRoot, Relative: "a.py"}
	parser.Register("a.pyi", envtest.AST{Qualifier: "a", TopLevel: []string{"stub_symbol"}})
	parser.Register("a.py", envtest.AST{Qualifier: "a", TopLevel: []string{"source_symbol"}})

	env := state.Environment.(*envtest.Environment)

	_, err := ProcessTypeCheck(state, cfg, TypeCheckRequest{
		UpdateEnvironmentWith: []File{stub, source},
		Check:                 []File{source},
	})
	require.NoError(t, err)

	stubAST, ok := env.ASTFor(stub.Handle())
	require.True(t, ok)
	assert.Equal(t, []string{"stub_symbol"}, stubAST.(envtest.AST).TopLevel)

	// The source file shares the stub's module qualifier (both are "a"),
	// so it must be dropped from parsing entirely rather than overwrite
	// the stub's AST under its own handle.
	_, ok = env.ASTFor(source.Handle())
	assert.False(t, ok, "shadowed source must not be parsed into the environment")
}

func TestTypeCheckParallelismThreshold(t *testing.T) {
	state, cfg := newTestState(t)
	cfg.DependentThreshold = 1

	files := []File{
		{Root: cfg.LocalRoot, Relative: "a.py"},
		{Root: cfg.LocalRoot, Relative: "b.py"},
		{Root: cfg.LocalRoot, Relative: "c.py"},
	}

	resp, err := ProcessTypeCheck(state, cfg, TypeCheckRequest{Check: files})
	require.NoError(t, err)
	require.Len(t, resp.Order, 3)
}
