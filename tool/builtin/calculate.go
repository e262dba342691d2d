package builtin

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/tool"
)

const allowedExprChars = "0123456789+-*/()., "

type calculateArgs struct {
	Expression string `json:"expression" description:"Arithmetic expression using + - * / and parentheses"`
}

func newCalculateTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"calculate",
		"Evaluates a simple arithmetic expression",
		calculateArgs{},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			expr, _ := args["expression"].(string)
			return Evaluate(expr)
		},
		pure,
		category("math"),
	)
}

// Evaluate computes an arithmetic expression over float64 numbers. Only
// digits, the four basic operators, parentheses and decimal points are
// accepted.
func Evaluate(expr string) (float64, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, errors.New("empty expression")
	}

	for _, r := range expr {
		if !strings.ContainsRune(allowedExprChars, r) {
			return 0, fmt.Errorf("expression contains forbidden character %q", r)
		}
	}

	node, err := parser.ParseExpr(strings.ReplaceAll(expr, ",", "."))
	if err != nil {
		return 0, fmt.Errorf("malformed expression: %w", err)
	}

	v, err := eval(node)
	if err != nil {
		return 0, err
	}

	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("result is not a finite number")
	}

	return v, nil
}

func eval(n ast.Expr) (float64, error) {
	switch e := n.(type) {
	case *ast.BasicLit:
		if e.Kind != token.INT && e.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %s", e.Value)
		}
		return strconv.ParseFloat(e.Value, 64)
	case *ast.ParenExpr:
		return eval(e.X)
	case *ast.UnaryExpr:
		x, err := eval(e.X)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		}
	case *ast.BinaryExpr:
		x, err := eval(e.X)
		if err != nil {
			return 0, err
		}
		y, err := eval(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		}
	}

	return 0, fmt.Errorf("unsupported expression %T", n)
}
