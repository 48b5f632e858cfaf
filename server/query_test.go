package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/checkserver/environ"
	"github.com/sourcegraph/checkserver/environ/envtest"
)

func TestQueryAttributesAndMethods(t *testing.T) {
	state, cfg := newTestState(t)
	env := state.Environment.(*envtest.Environment)
	env.DefineClass(envtest.Type("Widget"),
		[]environ.Attribute{{Name: "size", Annotation: envtest.Type("int")}},
		[]environ.MethodSignature{{
			Name: "resize",
			Parameters: []environ.Parameter{
				{Name: "self", Annotation: envtest.Type("Widget"), Named: true},
				{Name: "factor", Annotation: envtest.Type("int"), Named: true},
			},
			ReturnAnnotation: envtest.Type("None"),
		}},
		nil)

	resp := ProcessTypeQuery(state, cfg, AttributesQuery{Class: "Widget"})
	require.Empty(t, resp.Result.Error)
	attrs := resp.Result.Payload.([]attrResult)
	require.Len(t, attrs, 1)
	assert.Equal(t, "size", attrs[0].Name)
	assert.Equal(t, "int", attrs[0].Annotation)

	resp = ProcessTypeQuery(state, cfg, MethodsQuery{Class: "Widget"})
	require.Empty(t, resp.Result.Error)
	methods := resp.Result.Payload.([]methodResult)
	require.Len(t, methods, 1)
	require.Len(t, methods[0].Parameters, 2)
	assert.Equal(t, selfParameterName, methods[0].Parameters[0].Name)
	assert.Equal(t, "factor", methods[0].Parameters[1].Name)
}

func TestQueryAttributesMemoizes(t *testing.T) {
	state, cfg := newTestState(t)
	env := state.Environment.(*envtest.Environment)
	env.DefineClass(envtest.Type("Widget"), []environ.Attribute{{Name: "size", Annotation: envtest.Type("int")}}, nil, nil)

	first := ProcessTypeQuery(state, cfg, AttributesQuery{Class: "Widget"})
	require.Empty(t, first.Result.Error)

	// Mutate the class behind the environment's back; a memoized
	// result must not observe the mutation until the memo is cleared
	// by a TypeCheck (§4.4 stage 1, §4.3).
	env.DefineClass(envtest.Type("Widget"), []environ.Attribute{{Name: "size", Annotation: envtest.Type("int")}, {Name: "color", Annotation: envtest.Type("str")}}, nil, nil)

	second := ProcessTypeQuery(state, cfg, AttributesQuery{Class: "Widget"})
	assert.Equal(t, first.Result.Payload, second.Result.Payload)

	_, err := ProcessTypeCheck(state, cfg, TypeCheckRequest{})
	require.NoError(t, err)

	third := ProcessTypeQuery(state, cfg, AttributesQuery{Class: "Widget"})
	assert.Len(t, third.Result.Payload.([]attrResult), 2)
}

func TestQueryUntrackedTypeReportsError(t *testing.T) {
	state, cfg := newTestState(t)
	resp := ProcessTypeQuery(state, cfg, AttributesQuery{Class: "Nonexistent"})
	assert.Empty(t, resp.Result.Payload)
	assert.Equal(t, `Type "Nonexistent" was not found in the type order.`, resp.Result.Error)
}

func TestQueryJoinMeetLessOrEqual(t *testing.T) {
	state, cfg := newTestState(t)
	env := state.Environment.(*envtest.Environment)
	env.DefineClass(envtest.Type("Animal"), nil, nil, nil)
	env.DefineClass(envtest.Type("Dog"), nil, nil, []envtest.Type{envtest.Type("Animal")})
	env.DefineClass(envtest.Type("Cat"), nil, nil, []envtest.Type{envtest.Type("Animal")})

	resp := ProcessTypeQuery(state, cfg, LessOrEqualQuery{A: "Dog", B: "Animal"})
	require.Empty(t, resp.Result.Error)
	assert.Equal(t, true, resp.Result.Payload)

	resp = ProcessTypeQuery(state, cfg, JoinQuery{A: "Dog", B: "Cat"})
	require.Empty(t, resp.Result.Error)
	assert.Equal(t, "Animal", resp.Result.Payload)

	resp = ProcessTypeQuery(state, cfg, MeetQuery{A: "Dog", B: "Animal"})
	require.Empty(t, resp.Result.Error)
	assert.Equal(t, "Dog", resp.Result.Payload)
}

func TestWrapBinaryUntrackedNormalizesEnvironUntrackedErrors(t *testing.T) {
	err := wrapBinaryUntracked(fmt.Errorf("wrapped: %w", environ.ErrUntracked), "Dog", "Cat")
	assert.Equal(t, `Type "Dog, Cat" was not found in the type order.`, err.Error())
}

func TestWrapBinaryUntrackedPassesThroughUnrelatedErrors(t *testing.T) {
	other := fmt.Errorf("some other failure")
	assert.Same(t, other, wrapBinaryUntracked(other, "Dog", "Cat"))
	assert.Nil(t, wrapBinaryUntracked(nil, "Dog", "Cat"))
}

func TestQuerySuperclasses(t *testing.T) {
	state, cfg := newTestState(t)
	env := state.Environment.(*envtest.Environment)
	env.DefineClass(envtest.Type("Animal"), nil, nil, nil)
	env.DefineClass(envtest.Type("Dog"), nil, nil, []envtest.Type{envtest.Type("Animal")})

	resp := ProcessTypeQuery(state, cfg, SuperclassesQuery{Class: "Dog"})
	require.Empty(t, resp.Result.Error)
	assert.Equal(t, []string{"Animal"}, resp.Result.Payload)
}

func TestQuerySignatureDropsUnnamedAndNormalizesTop(t *testing.T) {
	state, cfg := newTestState(t)
	state.Environment.(*envtest.Environment).Signatures["f"] = []environ.Overload{
		{
			ReturnType: nil,
			Parameters: []environ.Parameter{
				{Name: "x", Annotation: envtest.Type("int"), Named: true},
				{Name: "_", Named: false},
			},
		},
	}

	resp := ProcessTypeQuery(state, cfg, SignatureQuery{Name: "f"})
	require.Empty(t, resp.Result.Error)
	overloads := resp.Result.Payload.([]overloadResult)
	require.Len(t, overloads, 1)
	require.Len(t, overloads[0].Parameters, 1)
	assert.Equal(t, "x", overloads[0].Parameters[0].Name)
	assert.Equal(t, "unknown", overloads[0].ReturnType)
}

func TestQueryTypeAtLocation(t *testing.T) {
	state, cfg := newTestState(t)
	file := File{Root: cfg.LocalRoot, Relative: "a.py"}
	loc := environ.Location{Path: "a.py", StartLine: 1, StartCol: 0, EndLine: 1, EndCol: 1}
	state.Environment.StoreAST(file.Handle(), envtest.AST{
		Annotations: []envtest.Annotation{{Line: 1, Col: 0, Loc: loc, Type: envtest.Type("int")}},
	})

	resp := ProcessTypeQuery(state, cfg, TypeAtLocationQuery{Path: "a.py", Start: Position{Line: 1, Column: 0}})
	require.Empty(t, resp.Result.Error)
	result := resp.Result.Payload.(typeAtLocationResult)
	assert.Equal(t, "int", result.Type)
}
