package server

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/checkserver/environ"
	"github.com/sourcegraph/checkserver/environ/envtest"
)

func newTestState(t *testing.T) (*State, Config) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.LocalRoot = "/proj"

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/a.py", []byte("x = 1\n"), 0644))

	env := envtest.New()
	state := NewState(cfg, env, environ.NewScheduler(), envtest.NewParser(), envtest.NewAnalyzer(), &envtest.IgnoreRegistrar{}, AferoSourceReader{FS: fs})
	return state, cfg
}

func TestLookupGetBuildsAndCachesEntry(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}

	loc := environ.Location{Path: "a.py", StartLine: 1, StartCol: 0, EndLine: 1, EndCol: 1}
	ast := envtest.AST{
		Qualifier:   "a",
		Annotations: []envtest.Annotation{{Line: 1, Col: 0, Loc: loc, Type: envtest.Type("int")}},
	}
	state.Environment.StoreAST(file.Handle(), ast)

	entry, ok := Get(state, cfg, file)
	require.True(t, ok)
	assert.Equal(t, "x = 1\n", entry.Source)

	// Second Get must hit the cache, i.e. return the very same entry
	// pointer without rebuilding.
	second, ok := Get(state, cfg, file)
	require.True(t, ok)
	assert.Same(t, entry, second)
}

func TestLookupGetMissWithoutStoredAST(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "missing.py"}

	_, ok := Get(state, cfg, file)
	assert.False(t, ok)
}

func TestLookupEvictIsIdempotent(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}
	state.Environment.StoreAST(file.Handle(), envtest.AST{})

	_, ok := Get(state, cfg, file)
	require.True(t, ok)

	Evict(state, file)
	assert.NotContains(t, state.Lookups, file.Relative)

	// Evicting an already-absent entry must not panic or error.
	assert.NotPanics(t, func() { Evict(state, file) })
}

func TestFindAnnotationAndDefinition(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}

	annLoc := environ.Location{Path: "a.py", StartLine: 1, StartCol: 0, EndLine: 1, EndCol: 1}
	defLoc := environ.Location{Path: "a.py", StartLine: 2, StartCol: 0, EndLine: 2, EndCol: 3}
	ast := envtest.AST{
		Annotations: []envtest.Annotation{{Line: 1, Col: 0, Loc: annLoc, Type: envtest.Type("int")}},
		Definitions: []envtest.Definition{{Line: 1, Col: 0, Target: defLoc}},
	}
	state.Environment.StoreAST(file.Handle(), ast)

	loc, ty, ok := FindAnnotation(state, cfg, file, Position{Line: 1, Column: 0})
	require.True(t, ok)
	assert.Equal(t, annLoc, loc)
	assert.Equal(t, "int", ty.String())

	defTarget, ok := FindDefinition(state, cfg, file, Position{Line: 1, Column: 0})
	require.True(t, ok)
	assert.Equal(t, defLoc, defTarget)

	_, _, ok = FindAnnotation(state, cfg, file, Position{Line: 99, Column: 0})
	assert.False(t, ok)
}

func TestReadFileSourcePrefersOverlay(t *testing.T) {
	state, cfg := newTestState(t)
	overlay := "y = 2\n"
	file := File{Root: cfg.LocalRoot, Relative: "a.py", Overlay: &overlay}

	source, err := readFileSource(state, cfg, file)
	require.NoError(t, err)
	assert.Equal(t, overlay, source)
}
