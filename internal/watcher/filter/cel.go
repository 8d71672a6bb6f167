package filter

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Program compiles the conditions into a CEL program evaluated against document
// data. Returns nil for an empty spec (match all).
func (s Spec) Program() (cel.Program, error) {
	if s.IsEmpty() {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL env creation error: %w", err)
	}

	var expressions []string
	for _, c := range s.Conditions {
		expr, err := conditionToExpression(c)
		if err != nil {
			return nil, err
		}
		expressions = append(expressions, expr)
	}
	fullExpr := strings.Join(expressions, " && ")

	ast, issues := env.Compile(fullExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	return prg, nil
}

// Evaluate evaluates a compiled CEL program against document data.
// A nil program matches everything.
func Evaluate(prg cel.Program, docData map[string]any) (bool, error) {
	if prg == nil {
		return true, nil
	}

	out, _, err := prg.Eval(map[string]any{
		"doc": docData,
	})
	if err != nil {
		return false, err
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL result is not boolean: %T", out.Value())
	}
	return result, nil
}

// conditionToExpression converts a Condition to a CEL expression string.
func conditionToExpression(c Condition) (string, error) {
	valStr, err := formatValue(c.Value)
	if err != nil {
		return "", err
	}

	field := "doc"
	for _, p := range strings.Split(c.Field, ".") {
		field += fmt.Sprintf("['%s']", p)
	}

	op := c.Op
	if op == "" {
		op = OpEq
	}
	switch op {
	case OpEq:
		return fmt.Sprintf("%s == %s", field, valStr), nil
	case OpNe:
		return fmt.Sprintf("%s != %s", field, valStr), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", field, valStr), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", field, valStr), nil
	case OpLt:
		return fmt.Sprintf("%s < %s", field, valStr), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", field, valStr), nil
	case OpIn:
		return fmt.Sprintf("%s in %s", field, valStr), nil
	default:
		return "", fmt.Errorf("unsupported operator: %s", op)
	}
}

// formatValue formats a value for use in a CEL expression.
func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("'%s'", strings.ReplaceAll(val, "'", "\\'")), nil
	case int:
		return fmt.Sprintf("%d", val), nil
	case int32:
		return fmt.Sprintf("%d", val), nil
	case int64:
		return fmt.Sprintf("%d", val), nil
	case float32:
		return fmt.Sprintf("%v", val), nil
	case float64:
		return fmt.Sprintf("%v", val), nil
	case bool:
		return fmt.Sprintf("%v", val), nil
	case []any:
		var parts []string
		for _, item := range val {
			s, err := formatValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return fmt.Sprintf("[%s]", strings.Join(parts, ", ")), nil
	default:
		return "", fmt.Errorf("unsupported value type: %T", v)
	}
}
