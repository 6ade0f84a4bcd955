package eval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// allowedBuiltins are the pure helpers conditions may call. Everything else that looks
// like a call is rejected so that pipeline definitions cannot reach host functions.
var allowedBuiltins = map[string]struct{}{
	"len": {}, "abs": {}, "lower": {}, "upper": {}, "trim": {},
	"all": {}, "any": {}, "none": {}, "one": {}, "filter": {}, "map": {}, "count": {},
	"int": {}, "float": {}, "string": {}, "keys": {}, "values": {},
}

func Validate(cond string) error {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return nil
	}

	tree, err := parser.Parse(cond)
	if err != nil {
		return fmt.Errorf("parse %q: %w", cond, err)
	}

	v := &callGuard{}
	ast.Walk(&tree.Node, v)
	return v.err
}

type callGuard struct {
	err error
}

func (g *callGuard) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.CallNode:
		g.err = fmt.Errorf("function calls are not allowed (found %s(...))", calleeName(n.Callee))
	case *ast.BuiltinNode:
		if _, ok := allowedBuiltins[n.Name]; !ok {
			g.err = fmt.Errorf("builtin %q is not allowed", n.Name)
		}
	}
}

func calleeName(n ast.Node) string {
	switch c := n.(type) {
	case *ast.IdentifierNode:
		return c.Value
	case *ast.MemberNode:
		return c.String()
	}
	return "?"
}
