// Package envtest provides an in-memory fake of the environ
// interfaces for use in tests. It implements just enough of a type
// order (a flat subtype lattice keyed by name) to exercise join, meet
// and less-or-equal without pulling in a real type checker -- which is
// explicitly out of scope (spec Non-goal: "Defining the source
// language's type system").
package envtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/checkserver/environ"
)

// Type is the fake Type: just a name.
type Type string

func (t Type) String() string { return string(t) }

// Annotation is one position -> (location, type) fact baked into a
// fake AST.
type Annotation struct {
	Line, Col int
	Loc       environ.Location
	Type      Type
}

// Definition is one position -> definition-location fact baked into a
// fake AST.
type Definition struct {
	Line, Col int
	Target    environ.Location
}

// AST is the fake opaque parse tree.
type AST struct {
	Qualifier   string
	TopLevel    []string
	Annotations []Annotation
	Definitions []Definition
}

type classDef struct {
	attrs   []environ.Attribute
	methods []environ.MethodSignature
	supers  []Type
}

// Environment is the fake environ.Environment.
type Environment struct {
	Classes    map[Type]*classDef
	Signatures map[string][]environ.Overload
	Globals    map[string]Type
	// Subtype records direct a <= b edges; LessOrEqual takes the
	// reflexive-transitive closure.
	Subtype map[Type][]Type

	asts          map[environ.FileHandle]environ.AST
	moduleDefs    map[string]environ.FileHandle
	dependents    map[string][]environ.FileHandle
	purged        []environ.FileHandle
}

// New returns an empty fake environment.
func New() *Environment {
	return &Environment{
		Classes:    map[Type]*classDef{},
		Signatures: map[string][]environ.Overload{},
		Globals:    map[string]Type{},
		Subtype:    map[Type][]Type{},
		asts:       map[environ.FileHandle]environ.AST{},
		moduleDefs: map[string]environ.FileHandle{},
		dependents: map[string][]environ.FileHandle{},
	}
}

// DefineClass registers a class with the given attributes, methods
// and superclasses (also recorded as subtype edges).
func (e *Environment) DefineClass(t Type, attrs []environ.Attribute, methods []environ.MethodSignature, supers []Type) {
	e.Classes[t] = &classDef{attrs: attrs, methods: methods, supers: supers}
	e.Subtype[t] = append(e.Subtype[t], supers...)
}

// DefineModule records that qualifier is currently defined by handle,
// used by the shadow-by-stub rule.
func (e *Environment) DefineModule(qualifier string, handle environ.FileHandle) {
	e.moduleDefs[qualifier] = handle
}

// SetDependents records that dependents depend on qualifier.
func (e *Environment) SetDependents(qualifier string, dependents []environ.FileHandle) {
	e.dependents[qualifier] = dependents
}

// Purged reports the handles passed to Purge, in call order.
func (e *Environment) Purged() []environ.FileHandle { return e.purged }

func (e *Environment) ParseAnnotation(expr string) (environ.Type, error) {
	t := Type(expr)
	if _, ok := e.Classes[t]; !ok {
		if _, ok := e.Subtype[t]; !ok && t != "self" && t != "Top" {
			return nil, environ.ErrUntracked
		}
	}
	return t, nil
}

func (e *Environment) ClassDefinition(t environ.Type) bool {
	_, ok := e.Classes[asType(t)]
	return ok
}

func (e *Environment) Attributes(t environ.Type) ([]environ.Attribute, bool) {
	c, ok := e.Classes[asType(t)]
	if !ok {
		return nil, false
	}
	return c.attrs, true
}

func (e *Environment) Methods(t environ.Type) ([]environ.MethodSignature, bool) {
	c, ok := e.Classes[asType(t)]
	if !ok {
		return nil, false
	}
	return c.methods, true
}

func (e *Environment) Superclasses(t environ.Type) ([]environ.Type, bool) {
	c, ok := e.Classes[asType(t)]
	if !ok {
		return nil, false
	}
	out := make([]environ.Type, len(c.supers))
	for i, s := range c.supers {
		out[i] = s
	}
	return out, true
}

func (e *Environment) Signature(name string) ([]environ.Overload, bool) {
	ov, ok := e.Signatures[name]
	return ov, ok
}

func (e *Environment) ResolveGlobal(name string) (environ.Type, bool) {
	t, ok := e.Globals[name]
	if !ok {
		return nil, false
	}
	return t, true
}

func (e *Environment) tracked(t environ.Type) bool {
	ty := asType(t)
	if _, ok := e.Classes[ty]; ok {
		return true
	}
	_, ok := e.Subtype[ty]
	return ok || ty == "self" || ty == "Top"
}

func (e *Environment) reachable(from Type) map[Type]bool {
	seen := map[Type]bool{from: true}
	queue := []Type{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range e.Subtype[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func (e *Environment) LessOrEqual(a, b environ.Type) (bool, error) {
	if !e.tracked(a) {
		return false, fmt.Errorf("Type %q was not found in the type order: %w", a.String(), environ.ErrUntracked)
	}
	if !e.tracked(b) {
		return false, fmt.Errorf("Type %q was not found in the type order: %w", b.String(), environ.ErrUntracked)
	}
	if a.String() == b.String() {
		return true, nil
	}
	return e.reachable(asType(a))[asType(b)], nil
}

func (e *Environment) Join(a, b environ.Type) (environ.Type, error) {
	if !e.tracked(a) {
		return nil, fmt.Errorf("Type %q was not found in the type order: %w", a.String(), environ.ErrUntracked)
	}
	if !e.tracked(b) {
		return nil, fmt.Errorf("Type %q was not found in the type order: %w", b.String(), environ.ErrUntracked)
	}
	ra, rb := e.reachable(asType(a)), e.reachable(asType(b))
	var common []Type
	for t := range ra {
		if rb[t] {
			common = append(common, t)
		}
	}
	if len(common) == 0 {
		return Type("Top"), nil
	}
	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })
	return common[0], nil
}

func (e *Environment) Meet(a, b environ.Type) (environ.Type, error) {
	if !e.tracked(a) {
		return nil, fmt.Errorf("Type %q was not found in the type order: %w", a.String(), environ.ErrUntracked)
	}
	if !e.tracked(b) {
		return nil, fmt.Errorf("Type %q was not found in the type order: %w", b.String(), environ.ErrUntracked)
	}
	if ok, _ := e.LessOrEqual(a, b); ok {
		return a, nil
	}
	if ok, _ := e.LessOrEqual(b, a); ok {
		return b, nil
	}
	return Type("Bottom"), nil
}

func (e *Environment) BuildLookupTable(ast environ.AST, source string) environ.LookupTable {
	fa, ok := ast.(AST)
	if !ok {
		return emptyTable{}
	}
	return fakeTable{ast: fa, source: source}
}

func (e *Environment) StoreAST(h environ.FileHandle, ast environ.AST) {
	e.asts[h] = ast
	// The environment is the owner of module identity: storing an AST
	// for a handle makes it the current definer of its qualifier,
	// which is what lets the shadow-by-stub rule observe a stub parsed
	// earlier in the same pipeline run.
	e.moduleDefs[e.ModuleQualifier(string(h))] = h
}

func (e *Environment) ASTFor(h environ.FileHandle) (environ.AST, bool) {
	a, ok := e.asts[h]
	return a, ok
}

func (e *Environment) RemoveAST(h environ.FileHandle) {
	delete(e.asts, h)
}

func (e *Environment) Repopulate(handles []environ.FileHandle, asts map[environ.FileHandle]environ.AST) error {
	return nil
}

func (e *Environment) InferProtocols(handles []environ.FileHandle) error { return nil }

func (e *Environment) TopLevelDefines(ast environ.AST) []string {
	fa, ok := ast.(AST)
	if !ok {
		return nil
	}
	return fa.TopLevel
}

func (e *Environment) PurgeResolution(names []string) {}

func (e *Environment) Purge(handles []environ.FileHandle) error {
	e.purged = append(e.purged, handles...)
	return nil
}

// ModuleQualifier strips a .py/.pyi suffix so a stub and its
// corresponding source file resolve to the same module identity,
// which is what lets the shadow-by-stub rule compare them (§4.4 stage
// 5).
func (e *Environment) ModuleQualifier(relativePath string) string {
	if strings.HasSuffix(relativePath, ".pyi") {
		return strings.TrimSuffix(relativePath, ".pyi")
	}
	return strings.TrimSuffix(relativePath, ".py")
}

func (e *Environment) ModuleDefinition(qualifier string) (environ.FileHandle, bool) {
	h, ok := e.moduleDefs[qualifier]
	return h, ok
}

func (e *Environment) Dependents(qualifiers []string) ([]environ.FileHandle, error) {
	seen := map[environ.FileHandle]bool{}
	var out []environ.FileHandle
	for _, q := range qualifiers {
		for _, h := range e.dependents[q] {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out, nil
}

func asType(t environ.Type) Type {
	if ty, ok := t.(Type); ok {
		return ty
	}
	return Type(t.String())
}

type fakeTable struct {
	ast    AST
	source string
}

func (t fakeTable) AnnotationAt(line, col int) (environ.Location, environ.Type, bool) {
	for _, a := range t.ast.Annotations {
		if a.Line == line && a.Col == col {
			return a.Loc, a.Type, true
		}
	}
	return environ.Location{}, nil, false
}

func (t fakeTable) DefinitionAt(line, col int) (environ.Location, bool) {
	for _, d := range t.ast.Definitions {
		if d.Line == line && d.Col == col {
			return d.Target, true
		}
	}
	return environ.Location{}, false
}

type emptyTable struct{}

func (emptyTable) AnnotationAt(line, col int) (environ.Location, environ.Type, bool) {
	return environ.Location{}, nil, false
}
func (emptyTable) DefinitionAt(line, col int) (environ.Location, bool) {
	return environ.Location{}, false
}
