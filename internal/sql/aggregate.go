package sql

import (
	"fmt"
	"strings"

	"github.com/queryfabric/queryagent/internal/semantic"
)

// buildAggregate renders the aggregation expression for measure, wrapped
// with any predicates from filters.
func buildAggregate(measure *semantic.Measure, measureExpr string, predicates []string) (string, error) {
	predClause := ""
	if len(predicates) > 0 {
		predClause = joinAnd(predicates)
	}

	switch measure.Type {
	case semantic.MeasureCount:
		if predClause == "" {
			return "COUNT(*)", nil
		}
		return fmt.Sprintf("COUNT_IF(%s)", predClause), nil

	case semantic.MeasureCountDistinct:
		if predClause == "" {
			return fmt.Sprintf("COUNT(DISTINCT %s)", measureExpr), nil
		}
		return fmt.Sprintf("COUNT(DISTINCT IFF(%s, %s, NULL))", predClause, measureExpr), nil

	case semantic.MeasureSum, semantic.MeasureAvg, semantic.MeasureMin, semantic.MeasureMax:
		op := strings.ToUpper(string(measure.Type))
		if predClause == "" {
			return fmt.Sprintf("%s(%s)", op, measureExpr), nil
		}
		return fmt.Sprintf("%s(IFF(%s, %s, NULL))", op, predClause, measureExpr), nil

	default:
		return "", fmt.Errorf("%w: unsupported measure type %q", ErrValidation, measure.Type)
	}
}

func joinAnd(predicates []string) string {
	if len(predicates) == 1 {
		return predicates[0]
	}
	parts := make([]string, len(predicates))
	for i, p := range predicates {
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, " AND ")
}
