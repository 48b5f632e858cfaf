package envtest

import (
	"fmt"

	"github.com/sourcegraph/checkserver/environ"
)

// Parser is a fake environ.Parser. Sources registered via Register are
// parsed into the AST given; everything else fails to parse.
type Parser struct {
	sources map[string]AST
}

// NewParser returns a fake parser with no registered sources.
func NewParser() *Parser {
	return &Parser{sources: map[string]AST{}}
}

// Register makes Parse succeed for path, returning ast regardless of
// the source text passed in.
func (p *Parser) Register(path string, ast AST) {
	p.sources[path] = ast
}

func (p *Parser) Parse(path string, source string) (environ.AST, error) {
	ast, ok := p.sources[path]
	if !ok {
		return nil, fmt.Errorf("no fixture registered for %s", path)
	}
	return ast, nil
}

// Analyzer is a fake environ.Analyzer returning a fixed error set per
// handle.
type Analyzer struct {
	Errors map[environ.FileHandle][]environ.ErrorRecord
}

// NewAnalyzer returns an analyzer with no errors registered.
func NewAnalyzer() *Analyzer {
	return &Analyzer{Errors: map[environ.FileHandle][]environ.ErrorRecord{}}
}

func (a *Analyzer) Analyze(handles []environ.FileHandle) []environ.ErrorRecord {
	var out []environ.ErrorRecord
	for _, h := range handles {
		out = append(out, a.Errors[h]...)
	}
	return out
}

// IgnoreRegistrar is a fake environ.IgnoreRegistrar that records which
// handles it was asked to register ignores for.
type IgnoreRegistrar struct {
	Registered []environ.FileHandle
}

func (r *IgnoreRegistrar) RegisterIgnores(handles []environ.FileHandle) error {
	r.Registered = append(r.Registered, handles...)
	return nil
}
