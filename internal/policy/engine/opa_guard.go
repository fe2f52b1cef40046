package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Query is the rule every command policy must define.
const Query = "data.infractl.commands.allow"

//go:embed default.rego
var defaultRegoPolicy string

// ErrEmptyPolicy is returned when a policy file has no content.
var ErrEmptyPolicy = errors.New("policy: empty policy module")

// OPAGuard evaluates command policies with OPA Rego. The module is compiled once.
type OPAGuard struct {
	query rego.PreparedEvalQuery
}

// DefaultPolicy returns the built-in command policy source.
func DefaultPolicy() string {
	return defaultRegoPolicy
}

// NewOPAGuard compiles module (the built-in policy when empty) and prepares Query.
func NewOPAGuard(ctx context.Context, module string) (*OPAGuard, error) {
	if module == "" {
		module = defaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"commands.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile command policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(Query),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare command policy: %w", err)
	}
	return &OPAGuard{query: pq}, nil
}

// NewOPAGuardFromFile compiles the policy module at path.
func NewOPAGuardFromFile(ctx context.Context, path string) (*OPAGuard, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command policy: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrEmptyPolicy
	}
	return NewOPAGuard(ctx, string(b))
}

// Allow evaluates Query with input {command, roles}. An undefined result denies.
func (g *OPAGuard) Allow(ctx context.Context, command string, roles []string) (bool, error) {
	if roles == nil {
		roles = []string{}
	}
	input := map[string]interface{}{
		"command": command,
		"roles":   roles,
	}
	rs, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval command policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("command policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return allowed, nil
}

// HealthCheck verifies that the in-process OPA engine can compile and evaluate the built-in policy.
func HealthCheck(ctx context.Context) error {
	g, err := NewOPAGuard(ctx, "")
	if err != nil {
		return err
	}
	allowed, err := g.Allow(ctx, "system_status", []string{"admin"})
	if err != nil {
		return err
	}
	if !allowed {
		return errors.New("policy: built-in policy denied admin")
	}
	return nil
}
