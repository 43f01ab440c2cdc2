// Package script loads, validates, and executes generated Risor extraction
// code. Each pipeline run compiles its source into a fresh program so that
// two generated artifacts never share loaded symbols.
package script

import (
	"context"
	"fmt"
	"sort"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// Engine compiles Risor source against a fixed set of globals.
type Engine struct {
	globals map[string]any
}

// NewEngine creates an engine with the given globals available to every
// program it compiles.
func NewEngine(globals map[string]any) *Engine {
	if globals == nil {
		globals = map[string]any{}
	}
	return &Engine{globals: globals}
}

// Compile parses and compiles Risor source into a runnable Program.
func (e *Engine) Compile(ctx context.Context, source string) (*Program, error) {
	ast, err := parser.Parse(ctx, source)
	if err != nil {
		return nil, err
	}
	code, err := compiler.Compile(ast, compiler.WithGlobalNames(e.globalNames()))
	if err != nil {
		return nil, err
	}
	return &Program{engine: e, code: code}, nil
}

func (e *Engine) globalNames() []string {
	names := make([]string, 0, len(e.globals))
	for name := range e.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Program is a compiled unit of generated code.
type Program struct {
	engine *Engine
	code   *compiler.Code
}

// Eval runs the program with the given per-call globals layered over the
// engine globals, and converts the result to a plain Go value.
func (p *Program) Eval(ctx context.Context, globals map[string]any) (any, error) {
	combined := make(map[string]any, len(p.engine.globals)+len(globals))
	for name, value := range p.engine.globals {
		combined[name] = value
	}
	for name, value := range globals {
		combined[name] = value
	}
	result, err := risor.EvalCode(ctx, p.code, risor.WithGlobals(combined))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	return convertToGo(result), nil
}

// BaseGlobals returns the Risor builtins available to generated code.
func BaseGlobals() map[string]any {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		globals[name] = value
	}
	return globals
}

// convertToGo converts a Risor object to a plain Go value.
func convertToGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertToGo(item))
		}
		return result
	case *object.Map:
		result := make(map[string]any)
		for key, value := range o.Value() {
			result[key] = convertToGo(value)
		}
		return result
	case *object.Set:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertToGo(item))
		}
		return result
	default:
		// Fallback to string representation
		return obj.Inspect()
	}
}
