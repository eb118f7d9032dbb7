// Package rules compiles boolean CEL predicates evaluated against a
// directive. Rule-backed advisory nodes and governance compliance checks
// share this environment so that an expression means the same thing in
// both places.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// Predicate is a compiled, reusable CEL program. Safe for concurrent use.
type Predicate struct {
	expr string
	prg  cel.Program
}

// Env is the shared CEL environment. Expressions see a single `directive`
// map with keys id, text, domain_tag and submitted_at (unix seconds).
type Env struct {
	env *cel.Env
}

// NewEnv creates the directive-scoped CEL environment.
func NewEnv() (*Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("directive", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Env{env: env}, nil
}

// Compile parses and type-checks expr. The expression must yield a bool.
func (e *Env) Compile(expr string) (*Predicate, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if kind := ast.OutputType().Kind(); kind != types.BoolKind && kind != types.DynKind {
		return nil, fmt.Errorf("compile %q: expression must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Predicate{expr: expr, prg: prg}, nil
}

// Expr returns the source expression.
func (p *Predicate) Expr() string { return p.expr }

// Eval runs the predicate against d.
func (p *Predicate) Eval(d contracts.Directive) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{"directive": Input(d)})
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", p.expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result not bool", p.expr)
	}
	return val, nil
}

// Input is the activation map exposed to expressions.
func Input(d contracts.Directive) map[string]any {
	return map[string]any{
		"id":           d.ID,
		"text":         d.Text,
		"domain_tag":   d.DomainTag,
		"submitted_at": d.SubmittedAt.Unix(),
	}
}
