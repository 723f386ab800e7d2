// Package fhirpath evaluates the subset of FHIRPath used by search parameter
// expressions. Evaluation is typed: every result carries the FHIR datatype it
// was declared as, so callers can dispatch on Identifier, CodeableConcept,
// Coding, ContactPoint, Reference or primitive values.
package fhirpath

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// TypeResolver maps a JSON key found on a value of typeName to its element
// name and declared datatypes. *schema.Service satisfies it.
type TypeResolver interface {
	ResolveMember(typeName, key string) (string, []string, bool)
}

// Engine compiles and evaluates expressions. Compiled expressions are
// cached; an Engine is safe for concurrent use.
type Engine struct {
	types    TypeResolver
	compiled sync.Map // string -> *Expression
}

// NewEngine creates an Engine that types values with the given resolver.
func NewEngine(types TypeResolver) *Engine {
	return &Engine{types: types}
}

// Expression is a parsed FHIRPath expression.
type Expression struct {
	source string
	ast    *astNode
}

// String returns the source text.
func (x *Expression) String() string { return x.source }

// Compile parses an expression, returning a cached copy when available.
func (e *Engine) Compile(expression string) (*Expression, error) {
	if cached, ok := e.compiled.Load(expression); ok {
		return cached.(*Expression), nil
	}
	x, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	e.compiled.Store(expression, x)
	return x, nil
}

// Parse parses an expression without caching.
func Parse(expression string) (*Expression, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		return nil, fmt.Errorf("fhirpath: empty expression")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: tokenize %q: %w", src, err)
	}
	p := &parser{tokens: tokens}
	ast, err := p.parseExpression(1)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: parse %q: %w", src, err)
	}
	if tok := p.peek(); tok.kind != tkEOF {
		return nil, fmt.Errorf("fhirpath: parse %q: unexpected token %q at position %d", src, tok.value, tok.pos)
	}
	return &Expression{source: src, ast: ast}, nil
}

// Evaluate evaluates expression against a resource.
func (e *Engine) Evaluate(resource fhirmodels.Resource, expression string) ([]TypedValue, error) {
	x, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return e.EvaluateCompiled(resource, x)
}

// EvaluateCompiled evaluates a compiled expression against a resource.
func (e *Engine) EvaluateCompiled(resource fhirmodels.Resource, x *Expression) ([]TypedValue, error) {
	if resource == nil {
		return nil, nil
	}
	root := []TypedValue{{Type: resource.ResourceType(), Value: map[string]interface{}(resource)}}
	ctx := &evalContext{types: e.types}
	out, err := ctx.eval(x.ast, root)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: eval %q: %w", x.source, err)
	}
	return out, nil
}
