package agent

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// SuccessPredicate is a CEL expression that must hold before a finish is accepted.
// Variables: url, title, result (strings) and steps (int).
type SuccessPredicate struct {
	expr string
	prg  cel.Program
}

// PredicateInput is the state a predicate is evaluated against.
type PredicateInput struct {
	URL    string
	Title  string
	Result string
	Steps  int
}

// CompileSuccessPredicate compiles expr. An empty expression yields nil, which
// accepts every finish.
func CompileSuccessPredicate(expr string) (*SuccessPredicate, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("url", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("result", cel.StringType),
		cel.Variable("steps", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid success predicate: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("success predicate must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build success predicate program: %w", err)
	}
	return &SuccessPredicate{expr: expr, prg: prg}, nil
}

// Evaluate reports whether the predicate holds. A nil predicate always holds.
func (p *SuccessPredicate) Evaluate(in PredicateInput) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(map[string]interface{}{
		"url":    in.URL,
		"title":  in.Title,
		"result": in.Result,
		"steps":  int64(in.Steps),
	})
	if err != nil {
		return false, fmt.Errorf("evaluating success predicate: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("success predicate returned %T", out.Value())
	}
	return ok, nil
}

func (p *SuccessPredicate) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}
