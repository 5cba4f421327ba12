package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/queryfabric/queryagent/internal/plan"
	"github.com/queryfabric/queryagent/internal/semantic"
)

// buildPredicate lowers a single StructuredFilter to a SQL predicate
// fragment. field is tokenized as {field} (or {entity.field}
// if dotted) and macro-expanded against ctx.
func buildPredicate(f plan.StructuredFilter, ctx semantic.ExpandContext) (string, error) {
	token := "{" + f.Field + "}"
	expr, err := semantic.Expand(token, ctx)
	if err != nil {
		return "", err
	}

	switch f.Operator {
	case plan.OpIn, plan.OpNotIn:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("%w: filter on %q requires at least one value for operator %q", ErrValidation, f.Field, f.Operator)
		}
		literals := make([]string, len(f.Values))
		for i, v := range f.Values {
			literals[i] = renderLiteral(v)
		}
		verb := "IN"
		if f.Operator == plan.OpNotIn {
			verb = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", expr, verb, strings.Join(literals, ", ")), nil

	case plan.OpEq, plan.OpNeq, plan.OpGt, plan.OpGte, plan.OpLt, plan.OpLte:
		if len(f.Values) != 1 {
			return "", fmt.Errorf("%w: filter on %q requires exactly one value for operator %q", ErrValidation, f.Field, f.Operator)
		}
		return fmt.Sprintf("%s %s %s", expr, f.Operator, renderLiteral(f.Values[0])), nil

	default:
		return "", fmt.Errorf("%w: unsupported operator %q", ErrValidation, f.Operator)
	}
}

// renderLiteral renders a filter value as a SQL literal: numbers
// verbatim, booleans as TRUE/FALSE, everything else single-quoted with
// embedded quotes doubled.
func renderLiteral(v string) string {
	if v == "true" || v == "false" {
		return strings.ToUpper(v)
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
