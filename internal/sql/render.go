package sql

import (
	"fmt"
	"strings"

	"github.com/queryfabric/queryagent/internal/plan"
	"github.com/queryfabric/queryagent/internal/semantic"
)

// Render materializes fp into a SQL statement against reg, which must
// already contain every entity named in fp.SelectedEntities and every
// join-graph endpoint.
func Render(fp *plan.FinalizedPlan, reg *semantic.Registry) (string, error) {
	if err := fp.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	base := fp.SelectedEntities[0]
	joinPlan, err := semantic.ComputeJoinPath(base, fp.SelectedEntities, reg)
	if err != nil {
		return "", err
	}

	baseCtx := semantic.ExpandContext{
		CurrentEntity: base,
		AliasByEntity: joinPlan.AliasByEntity,
		Registry:      reg,
	}

	selectList, err := buildSelectList(fp, reg, joinPlan, baseCtx)
	if err != nil {
		return "", err
	}

	baseEntity, err := reg.MustEntity(base)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("SELECT\n  ")
	b.WriteString(strings.Join(selectList, ",\n  "))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("FROM %s %s\n", baseEntity.Table, joinPlan.AliasByEntity[base]))
	for _, edge := range joinPlan.Edges {
		toEntity, err := reg.MustEntity(edge.To)
		if err != nil {
			return "", err
		}
		verb := "LEFT JOIN"
		if edge.Relationship == semantic.ManyToMany {
			verb = "INNER JOIN"
		}
		fromCol, err := semantic.QualifySimpleColumn(entityQualified(edge.From, edge.FromField), semantic.ExpandContext{
			CurrentEntity: edge.From, AliasByEntity: joinPlan.AliasByEntity, Registry: reg,
		})
		if err != nil {
			return "", err
		}
		toCol, err := semantic.QualifySimpleColumn(edge.ToField, semantic.ExpandContext{
			CurrentEntity: edge.To, AliasByEntity: joinPlan.AliasByEntity, Registry: reg,
		})
		if err != nil {
			return "", err
		}
		b.WriteString(fmt.Sprintf("%s %s %s ON %s = %s\n", verb, toEntity.Table, joinPlan.AliasByEntity[edge.To], fromCol, toCol))
	}

	whereClauses, err := buildWhere(fp, reg, joinPlan, baseCtx, baseEntity)
	if err != nil {
		return "", err
	}
	if len(whereClauses) > 0 {
		b.WriteString("WHERE ")
		b.WriteString(strings.Join(whereClauses, "\n  AND "))
		b.WriteString("\n")
	}

	if len(fp.Intent.Dimensions) > 0 {
		ordinals := make([]string, len(fp.Intent.Dimensions))
		for i := range fp.Intent.Dimensions {
			ordinals[i] = fmt.Sprintf("%d", i+1)
		}
		b.WriteString("GROUP BY " + strings.Join(ordinals, ", ") + "\n")
	}

	for _, f := range fp.Intent.Filters {
		b.WriteString(fmt.Sprintf("-- filter: %s\n", sanitizeComment(f)))
	}

	b.WriteString("LIMIT 1001")

	return b.String(), nil
}

func entityQualified(entity, field string) string {
	return "{" + entity + "." + field + "}"
}

func sanitizeComment(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "*/", ""), "\n", " ")
}

func buildSelectList(fp *plan.FinalizedPlan, reg *semantic.Registry, jp *semantic.JoinPlan, baseCtx semantic.ExpandContext) ([]string, error) {
	var out []string

	for _, d := range fp.Intent.Dimensions {
		token := "{" + d + "}"
		expr, err := semantic.Expand(token, baseCtx)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf(`%s AS "%s"`, expr, lastSegment(d)))
	}

	for _, m := range fp.Intent.Metrics {
		expr, err := buildMetricExpr(m, reg, jp, baseCtx)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf(`%s AS "%s"`, expr, lastSegment(m)))
	}

	return out, nil
}

func lastSegment(s string) string {
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

// buildMetricExpr finds a host entity for metric name by scanning
// orderedEntities first for a declared metric, then for a bare measure
// (synthesizing an atomic metric anchored to the host's first time
// dimension).
func buildMetricExpr(name string, reg *semantic.Registry, jp *semantic.JoinPlan, baseCtx semantic.ExpandContext) (string, error) {
	for _, entityName := range jp.OrderedEntities {
		entity, _ := reg.Entity(entityName)
		if metric, ok := entity.ResolveMetric(name); ok {
			return renderMetric(entity, metric, reg, jp)
		}
	}
	for _, entityName := range jp.OrderedEntities {
		entity, _ := reg.Entity(entityName)
		if measure, ok := entity.ResolveMeasure(name); ok {
			return renderMeasureExpr(entity, measure, nil, reg, jp)
		}
	}
	return "", fmt.Errorf("%w: metric %q not found in any selected entity", ErrValidation, name)
}

func renderMetric(entity *semantic.Entity, metric *semantic.Metric, reg *semantic.Registry, jp *semantic.JoinPlan) (string, error) {
	measure, ok := entity.ResolveMeasure(metric.Source.Measure)
	if !ok {
		return "", fmt.Errorf("%w: metric %q references unknown measure %q", ErrValidation, metric.Name, metric.Source.Measure)
	}
	return renderMeasureExpr(entity, measure, metric.Filters, reg, jp)
}

func renderMeasureExpr(entity *semantic.Entity, measure *semantic.Measure, filters []semantic.MetricFilter, reg *semantic.Registry, jp *semantic.JoinPlan) (string, error) {
	ctx := semantic.ExpandContext{CurrentEntity: entity.Name, AliasByEntity: jp.AliasByEntity, Registry: reg}

	measureExpr := ""
	if measure.SQL != "" {
		expr, err := semantic.Expand(measure.SQL, ctx)
		if err != nil {
			return "", err
		}
		measureExpr = expr
	}

	var predicates []string
	for _, f := range filters {
		pred, err := buildPredicate(toPlanFilter(f), ctx)
		if err != nil {
			return "", err
		}
		predicates = append(predicates, pred)
	}

	return buildAggregate(measure, measureExpr, predicates)
}

func toPlanFilter(f semantic.MetricFilter) plan.StructuredFilter {
	return plan.StructuredFilter{Field: f.Field, Operator: plan.Operator(f.Operator), Values: f.Values}
}

func buildWhere(fp *plan.FinalizedPlan, reg *semantic.Registry, jp *semantic.JoinPlan, baseCtx semantic.ExpandContext, baseEntity *semantic.Entity) ([]string, error) {
	var clauses []string

	if fp.Intent.TimeRange != nil {
		td, ok := baseEntity.FirstTimeDimension()
		if !ok {
			return nil, fmt.Errorf("%w: time range specified but base entity %q has no time dimension", ErrValidation, baseEntity.Name)
		}
		tExpr, err := semantic.Expand(td.SQL, baseCtx)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, fmt.Sprintf("%s >= '%s' AND %s < '%s'", tExpr, fp.Intent.TimeRange.Start, tExpr, fp.Intent.TimeRange.End))
	}

	for _, f := range fp.Intent.StructuredFilters {
		pred, err := buildPredicate(f, baseCtx)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, pred)
	}

	return clauses, nil
}
