// Package environ declares the external collaborators the checking
// server depends on but does not implement: the parser, the semantic
// environment, the type-order, the dependency oracle and the
// scheduler. Production code in package server only ever talks to
// these interfaces; a concrete language implementation lives outside
// this module.
package environ

import "errors"

// FileHandle is the canonical, root-relative identifier for a source
// file. Two handles are equal iff they denote the same repo-relative
// path.
type FileHandle string

// ErrUntracked is returned by Environment methods when a type named in
// a query does not resolve in the type-order.
var ErrUntracked = errors.New("untracked type")

// AST is an opaque parse tree produced by a Parser. The checking
// server never inspects it directly; it only ever hands it back to an
// Environment.
type AST interface{}

// Parser produces an AST for a file's source text. Parse errors are
// absorbed by the pipeline (§4.4 stage 5); they are not fatal.
type Parser interface {
	Parse(path string, source string) (AST, error)
}

// Location is a half-open span in a file, 1-based lines, 0-based
// columns, matching the internal position basis used throughout this
// module (spec invariant: positions crossing the LSP boundary are
// 1-based lines internally, 0-based on the wire).
type Location struct {
	Path       FileHandle
	StartLine  int
	StartCol   int
	EndLine    int
	EndCol     int
}

// Type is an opaque handle to a type in the type-order. Its only
// generally useful operation is rendering.
type Type interface {
	String() string
}

// Attribute is one class attribute as returned by Environment.Attributes.
type Attribute struct {
	Name       string
	Annotation Type
}

// Parameter is one positional parameter of a method or function
// signature.
type Parameter struct {
	Name       string
	Annotation Type
	Named      bool
}

// MethodSignature describes one method of a class. Parameters still
// include the receiver as their first entry; the TypeQuery handler
// drops it and prepends self (§4.3).
type MethodSignature struct {
	Name             string
	Parameters       []Parameter
	ReturnAnnotation Type
}

// Overload is one signature overload of a callable.
type Overload struct {
	ReturnType Type
	Parameters []Parameter
}

// LookupTable is a position-indexed view over one file's AST, built by
// Environment.BuildLookupTable. It backs the LookupCache (C2).
type LookupTable interface {
	// AnnotationAt returns the annotation and its source location for
	// the expression at (line, column), if any.
	AnnotationAt(line, column int) (Location, Type, bool)
	// DefinitionAt returns the definition location for the identifier
	// at (line, column), if any.
	DefinitionAt(line, column int) (Location, bool)
}

// Environment is the in-memory semantic database of the analyzed
// program: resolution, class/method/attribute lookups, the
// type-order, and the shared-memory AST store. It is single-writer
// during TypeCheck pipeline stages 4-8 and read-only during stage 9
// and TypeQuery handling (§5).
type Environment interface {
	// ParseAnnotation parses and validates a type expression against
	// the type-order. Returns ErrUntracked if the named type is not
	// tracked.
	ParseAnnotation(expr string) (Type, error)

	// ClassDefinition reports whether t names a known class.
	ClassDefinition(t Type) bool
	// Attributes lists the attributes of a class; ok is false if t is
	// not a class.
	Attributes(t Type) (attrs []Attribute, ok bool)
	// Methods lists the methods of a class, each with its receiver as
	// the first parameter; ok is false if t is not a class.
	Methods(t Type) (methods []MethodSignature, ok bool)
	// Superclasses lists t's superclasses in MRO order; ok is false if
	// t is not a class.
	Superclasses(t Type) (supers []Type, ok bool)
	// Signature looks up the overloads of a callable by name; ok is
	// false if name is not callable or not found.
	Signature(name string) (overloads []Overload, ok bool)
	// ResolveGlobal resolves a global name to its annotation.
	ResolveGlobal(name string) (Type, bool)

	// Join, Meet and LessOrEqual answer type-order queries. They
	// return ErrUntracked if either operand is not tracked.
	Join(a, b Type) (Type, error)
	Meet(a, b Type) (Type, error)
	LessOrEqual(a, b Type) (bool, error)

	// BuildLookupTable constructs a position index over ast, given the
	// raw source text it was parsed from.
	BuildLookupTable(ast AST, source string) LookupTable

	// StoreAST, ASTFor and RemoveAST manage the shared-memory AST
	// store keyed by file handle.
	StoreAST(h FileHandle, ast AST)
	ASTFor(h FileHandle) (AST, bool)
	RemoveAST(h FileHandle)

	// Repopulate feeds the given ASTs into the environment, keyed by
	// handle (§4.4 stage 6).
	Repopulate(handles []FileHandle, asts map[FileHandle]AST) error
	// InferProtocols runs protocol inference over the classes defined
	// by the given handles, after Repopulate (§4.4 stage 6).
	InferProtocols(handles []FileHandle) error

	// TopLevelDefines extracts the top-level define names from ast
	// (§4.4 stage 8).
	TopLevelDefines(ast AST) []string
	// PurgeResolution drops memoized resolution results for the given
	// names (§4.4 stage 8).
	PurgeResolution(names []string)

	// Purge removes all environment records for the given handles
	// (§4.4 stage 4).
	Purge(handles []FileHandle) error

	// ModuleQualifier derives a module qualifier from a relative path.
	ModuleQualifier(relativePath string) string
	// ModuleDefinition resolves a module qualifier to the handle that
	// currently defines it, used for the shadow-by-stub rule (§4.4
	// stage 5).
	ModuleDefinition(qualifier string) (FileHandle, bool)
	// Dependents returns the handles of files that depend on any of
	// the given module qualifiers (§4.4 stage 3).
	Dependents(qualifiers []string) ([]FileHandle, error)
}

// ErrorRecord is one type error, opaque beyond Path.
type ErrorRecord struct {
	Path     FileHandle
	Kind     string
	Location Location
	Message  string
}

// Analyzer re-analyzes a set of handles and returns the errors found.
// Analyzer errors are data, never request failures (§4.4, §7).
type Analyzer interface {
	Analyze(handles []FileHandle) []ErrorRecord
}

// IgnoreRegistrar registers user-suppressed error markers discovered
// while parsing the given handles (§4.4 stage 7).
type IgnoreRegistrar interface {
	RegisterIgnores(handles []FileHandle) error
}

// Scheduler fans work out to a worker pool. WithParallel returns a
// scoped view; Map applies fn to every handle, running in parallel iff
// the scoped view was built with isParallel=true.
type Scheduler interface {
	WithParallel(isParallel bool) Scheduler
	Map(handles []FileHandle, fn func(FileHandle) error) error
}
