package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/checkserver/environ"
)

const selfParameterName = "self"

// ProcessTypeQuery answers a synchronous semantic query against the
// environment (§4.3). Untracked-type errors are caught and converted
// to a TypeQueryResponse error payload; no other exception is
// expected, matching the contract that user-visible errors are data,
// not control-flow failures (§7).
func ProcessTypeQuery(state *State, cfg Config, q TypeQuery) TypeQueryResponse {
	payload, err := dispatchQuery(state, cfg, q)
	if err != nil {
		return TypeQueryResponse{Result: TypeQueryResult{Error: err.Error()}}
	}
	return TypeQueryResponse{Result: TypeQueryResult{Payload: payload}}
}

func dispatchQuery(state *State, cfg Config, q TypeQuery) (interface{}, error) {
	switch query := q.(type) {
	case AttributesQuery:
		return queryAttributes(state, query.Class)
	case MethodsQuery:
		return queryMethods(state, query.Class)
	case JoinQuery:
		return queryJoin(state, query.A, query.B)
	case MeetQuery:
		return queryMeet(state, query.A, query.B)
	case LessOrEqualQuery:
		return queryLessOrEqual(state, query.A, query.B)
	case NormalizeTypeQuery:
		return queryNormalizeType(state, query.Expr)
	case SignatureQuery:
		return querySignature(state, query.Name)
	case SuperclassesQuery:
		return querySuperclasses(state, query.Class)
	case TypeAtLocationQuery:
		return queryTypeAtLocation(state, cfg, query.Path, query.Start)
	default:
		return nil, fmt.Errorf("unsupported query type %T", q)
	}
}

func resolveClass(state *State, class string) (environ.Type, error) {
	t, err := state.Environment.ParseAnnotation(class)
	if err != nil {
		return nil, untrackedError(class, err)
	}
	return t, nil
}

func untrackedError(name string, err error) error {
	return fmt.Errorf("Type %q was not found in the type order.", name)
}

// wrapBinaryUntracked normalizes an error from a two-operand type-order
// operation (Join/Meet/LessOrEqual) into the same "not found in the
// type order" message resolveClass/untrackedError produce, so every
// query path reports untracked operands identically regardless of
// which Environment stage caught it. Errors unrelated to
// environ.ErrUntracked pass through unchanged.
func wrapBinaryUntracked(err error, names ...string) error {
	if err == nil || !errors.Is(err, environ.ErrUntracked) {
		return err
	}
	return fmt.Errorf("Type %q was not found in the type order.", strings.Join(names, ", "))
}

type attrResult struct {
	Name       string
	Annotation string
}

func queryAttributes(state *State, class string) (interface{}, error) {
	t, err := resolveClass(state, class)
	if err != nil {
		return nil, err
	}
	if cached, ok := state.attrMemo.Get(memoKey{"attrs", class}); ok {
		return cached, nil
	}
	attrs, ok := state.Environment.Attributes(t)
	if !ok {
		return nil, fmt.Errorf("No class definition found for %s", class)
	}
	out := make([]attrResult, len(attrs))
	for i, a := range attrs {
		out[i] = attrResult{Name: a.Name, Annotation: a.Annotation.String()}
	}
	state.attrMemo.Add(memoKey{"attrs", class}, out)
	return out, nil
}

type paramResult struct {
	Name       string
	Annotation string
}

type methodResult struct {
	Name             string
	Parameters       []paramResult
	ReturnAnnotation string
}

func queryMethods(state *State, class string) (interface{}, error) {
	t, err := resolveClass(state, class)
	if err != nil {
		return nil, err
	}
	if cached, ok := state.attrMemo.Get(memoKey{"methods", class}); ok {
		return cached, nil
	}
	methods, ok := state.Environment.Methods(t)
	if !ok {
		return nil, fmt.Errorf("No class definition found for %s", class)
	}
	out := make([]methodResult, len(methods))
	for i, m := range methods {
		// Drop the receiver parameter, then prepend the primitive self
		// so the positional list begins with self (§4.3).
		params := make([]paramResult, 0, len(m.Parameters))
		rest := m.Parameters
		if len(rest) > 0 {
			rest = rest[1:]
		}
		params = append(params, paramResult{Name: selfParameterName})
		for _, p := range rest {
			params = append(params, paramResult{Name: p.Name, Annotation: p.Annotation.String()})
		}
		out[i] = methodResult{Name: m.Name, Parameters: params, ReturnAnnotation: m.ReturnAnnotation.String()}
	}
	state.attrMemo.Add(memoKey{"methods", class}, out)
	return out, nil
}

func queryJoin(state *State, a, b string) (interface{}, error) {
	ta, err := resolveClass(state, a)
	if err != nil {
		return nil, err
	}
	tb, err := resolveClass(state, b)
	if err != nil {
		return nil, err
	}
	t, err := state.Environment.Join(ta, tb)
	if err != nil {
		return nil, wrapBinaryUntracked(err, a, b)
	}
	return t.String(), nil
}

func queryMeet(state *State, a, b string) (interface{}, error) {
	ta, err := resolveClass(state, a)
	if err != nil {
		return nil, err
	}
	tb, err := resolveClass(state, b)
	if err != nil {
		return nil, err
	}
	t, err := state.Environment.Meet(ta, tb)
	if err != nil {
		return nil, wrapBinaryUntracked(err, a, b)
	}
	return t.String(), nil
}

func queryLessOrEqual(state *State, a, b string) (interface{}, error) {
	ta, err := resolveClass(state, a)
	if err != nil {
		return nil, err
	}
	tb, err := resolveClass(state, b)
	if err != nil {
		return nil, err
	}
	ok, err := state.Environment.LessOrEqual(ta, tb)
	if err != nil {
		return nil, wrapBinaryUntracked(err, a, b)
	}
	return ok, nil
}

func queryNormalizeType(state *State, expr string) (interface{}, error) {
	t, err := state.Environment.ParseAnnotation(expr)
	if err != nil {
		return nil, untrackedError(expr, err)
	}
	return t.String(), nil
}

type overloadResult struct {
	ReturnType string
	Parameters []paramResult
}

func querySignature(state *State, name string) (interface{}, error) {
	overloads, ok := state.Environment.Signature(name)
	if !ok {
		return nil, fmt.Errorf("No signature found for %s", name)
	}
	out := make([]overloadResult, len(overloads))
	for i, ov := range overloads {
		var params []paramResult
		for _, p := range ov.Parameters {
			if !p.Named {
				continue
			}
			ann := "unknown"
			if p.Annotation != nil && p.Annotation.String() != "Top" {
				ann = p.Annotation.String()
			}
			params = append(params, paramResult{Name: p.Name, Annotation: ann})
		}
		ret := "unknown"
		if ov.ReturnType != nil && ov.ReturnType.String() != "Top" {
			ret = ov.ReturnType.String()
		}
		out[i] = overloadResult{ReturnType: ret, Parameters: params}
	}
	return out, nil
}

func querySuperclasses(state *State, class string) (interface{}, error) {
	t, err := resolveClass(state, class)
	if err != nil {
		return nil, err
	}
	supers, ok := state.Environment.Superclasses(t)
	if !ok {
		return nil, fmt.Errorf("No class definition found for %s", class)
	}
	out := make([]string, len(supers))
	for i, s := range supers {
		out[i] = s.String()
	}
	return out, nil
}

type locationResult struct {
	Path      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

type typeAtLocationResult struct {
	Location locationResult
	Type     string
}

func queryTypeAtLocation(state *State, cfg Config, path string, start Position) (interface{}, error) {
	file := File{Root: cfg.LocalRoot, Relative: path}
	loc, t, ok := FindAnnotation(state, cfg, file, start)
	if !ok {
		return nil, fmt.Errorf("No type found at %s:%d:%d", path, start.Line, start.Column)
	}
	return typeAtLocationResult{
		Location: locationResult{
			Path:      string(loc.Path),
			StartLine: loc.StartLine,
			StartCol:  loc.StartCol,
			EndLine:   loc.EndLine,
			EndCol:    loc.EndCol,
		},
		Type: t.String(),
	}, nil
}

// memoKey identifies a memoized query result.
type memoKey struct {
	kind  string
	class string
}
