package governance

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// RuleSet holds compiled CEL deny expressions, evaluated in insertion order.
type RuleSet struct {
	env      *cel.Env
	exprs    []string
	programs []cel.Program
}

func NewRuleSet() (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("capability", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("origin", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &RuleSet{env: env}, nil
}

// Add compiles expr. Expressions must evaluate to bool.
func (rs *RuleSet) Add(expr string) error {
	ast, issues := rs.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := rs.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return fmt.Errorf("program %q: %w", expr, err)
	}
	rs.exprs = append(rs.exprs, expr)
	rs.programs = append(rs.programs, prg)
	return nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.programs)
}

// FirstMatch returns the first rule that evaluates to true for req.
// A rule that fails at runtime (e.g. a missing map key) does not match.
func (rs *RuleSet) FirstMatch(req Request) (string, bool, error) {
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	input := map[string]any{
		"capability": req.Capability,
		"params":     params,
		"origin":     req.Origin,
	}
	for i, prg := range rs.programs {
		out, _, err := prg.Eval(input)
		if err != nil {
			continue
		}
		val, ok := out.Value().(bool)
		if !ok {
			return "", false, fmt.Errorf("rule %q: result not bool", rs.exprs[i])
		}
		if val {
			return rs.exprs[i], true, nil
		}
	}
	return "", false, nil
}
