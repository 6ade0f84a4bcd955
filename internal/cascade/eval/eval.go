// Package eval compiles and runs the small expressions used by pipelines: success
// conditions (bool) and expression tiers (any value).
package eval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Program is a validated, compiled expression. A nil *Program is the empty condition
// and always evaluates to true.
type Program struct {
	source  string
	program *vm.Program
}

func Compile(source string) (*Program, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	if err := Validate(source); err != nil {
		return nil, err
	}
	p, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	return &Program{source: source, program: p}, nil
}

func (p *Program) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Run evaluates the program against vars.
func (p *Program) Run(vars map[string]any) (any, error) {
	if p == nil {
		return true, nil
	}
	out, err := expr.Run(p.program, vars)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", p.source, err)
	}
	return out, nil
}

// Bool evaluates the program and requires a bool result.
func (p *Program) Bool(vars map[string]any) (bool, error) {
	out, err := p.Run(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("cond must evaluate to bool (got %T)", out)
	}
	return b, nil
}

func Eval(cond string, vars map[string]any) (bool, error) {
	p, err := Compile(cond)
	if err != nil {
		return false, err
	}
	return p.Bool(vars)
}
