package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/queryfabric/queryagent/internal/plan"
	"github.com/queryfabric/queryagent/internal/semantic"
)

// disallowedVerbs are DDL/DML/file-transfer statements never permitted in
// generated or repaired SQL.
var disallowedVerbs = []string{
	"DROP", "TRUNCATE", "ALTER", "CREATE", "INSERT", "UPDATE", "DELETE",
	"MERGE", "COPY", "PUT", "GET",
}

// ValidateSyntax enforces a syntax scan: exactly one statement, no
// disallowed verb, and balanced block comments. It never inspects schema
// or field names.
func ValidateSyntax(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrPolicy)
	}

	if err := checkBalancedComments(trimmed); err != nil {
		return err
	}

	stripped := stripComments(trimmed)
	if err := checkSingleStatement(stripped); err != nil {
		return err
	}

	upper := strings.ToUpper(stripped)
	for _, verb := range disallowedVerbs {
		if containsWord(upper, verb) {
			return fmt.Errorf("%w: disallowed statement verb %q", ErrPolicy, verb)
		}
	}

	return nil
}

func checkBalancedComments(s string) error {
	depth := 0
	for i := 0; i < len(s)-1; i++ {
		switch {
		case s[i] == '/' && s[i+1] == '*':
			depth++
			i++
		case s[i] == '*' && s[i+1] == '/':
			depth--
			i++
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced block comment", ErrPolicy)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced block comment", ErrPolicy)
	}
	return nil
}

// stripComments removes line comments (-- to end of line) and block
// comments (/* ... */), leaving statement text for verb/semicolon scans.
func stripComments(s string) string {
	var b strings.Builder
	inLine, inBlock := false, false
	for i := 0; i < len(s); i++ {
		if inLine {
			if s[i] == '\n' {
				inLine = false
				b.WriteByte(s[i])
			}
			continue
		}
		if inBlock {
			if s[i] == '*' && i+1 < len(s) && s[i+1] == '/' {
				inBlock = false
				i++
			}
			continue
		}
		if s[i] == '-' && i+1 < len(s) && s[i+1] == '-' {
			inLine = true
			i++
			continue
		}
		if s[i] == '/' && i+1 < len(s) && s[i+1] == '*' {
			inBlock = true
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// checkSingleStatement rejects any semicolon that is not merely a single
// trailing terminator, and any non-whitespace text following one.
func checkSingleStatement(stripped string) error {
	trimmed := strings.TrimSpace(stripped)
	idx := strings.Index(trimmed, ";")
	if idx == -1 {
		return nil
	}
	rest := strings.TrimSpace(trimmed[idx+1:])
	if rest != "" {
		return fmt.Errorf("%w: multiple statements detected", ErrPolicy)
	}
	return nil
}

func containsWord(haystack, word string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(haystack)
}

// ValidateSemantics enforces a semantic scan: every entity in reg must
// have its table on the configured schema allow-list (when the list is
// non-empty), and every
// dimension, metric, and structured filter field referenced by fp must
// resolve against an entity reachable in reg. A time range with no
// resolvable time dimension on the base entity is also rejected.
func ValidateSemantics(fp *plan.FinalizedPlan, reg *semantic.Registry, allowedSchemas []string) error {
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Every entity the registry knows about must sit on the allow-list, not
	// just the ones this plan selected: an entity can be loaded during
	// Planning and then dropped from selectedEntities without ever being
	// checked again.
	for _, name := range reg.Names() {
		entity, err := reg.MustEntity(name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if len(allowedSchemas) > 0 && !schemaAllowed(entity.Table, allowedSchemas) {
			return fmt.Errorf("%w: entity %q table %q is not on the allowed schema list", ErrPolicy, name, entity.Table)
		}
	}

	for _, name := range fp.SelectedEntities {
		if _, err := reg.MustEntity(name); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	base, err := reg.MustEntity(fp.SelectedEntities[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	for _, d := range fp.Intent.Dimensions {
		if !fieldResolvesAnywhere(d, fp.SelectedEntities, reg) {
			return fmt.Errorf("%w: dimension %q does not resolve against any selected entity", ErrValidation, d)
		}
	}
	for _, m := range fp.Intent.Metrics {
		if !metricOrMeasureResolves(m, fp.SelectedEntities, reg) {
			return fmt.Errorf("%w: metric %q does not resolve against any selected entity", ErrValidation, m)
		}
	}
	for _, f := range fp.Intent.StructuredFilters {
		if !fieldResolvesAnywhere(f.Field, fp.SelectedEntities, reg) {
			return fmt.Errorf("%w: filter field %q does not resolve against any selected entity", ErrValidation, f.Field)
		}
	}

	if fp.Intent.TimeRange != nil {
		if _, ok := base.FirstTimeDimension(); !ok {
			return fmt.Errorf("%w: time range specified but base entity %q declares no time dimension", ErrValidation, base.Name)
		}
	}

	return nil
}

func schemaAllowed(table string, allowed []string) bool {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) < 2 {
		return false
	}
	schema := strings.ToLower(parts[0])
	for _, a := range allowed {
		if strings.ToLower(a) == schema {
			return true
		}
	}
	return false
}

func fieldResolvesAnywhere(field string, entities []string, reg *semantic.Registry) bool {
	name := field
	if i := strings.LastIndex(field, "."); i >= 0 {
		entityName, localField := field[:i], field[i+1:]
		entity, ok := reg.Entity(entityName)
		if !ok {
			return false
		}
		_, ok = entity.ResolveDimension(localField)
		return ok
	}
	for _, e := range entities {
		entity, ok := reg.Entity(e)
		if !ok {
			continue
		}
		if _, ok := entity.ResolveDimension(name); ok {
			return true
		}
	}
	return false
}

func metricOrMeasureResolves(name string, entities []string, reg *semantic.Registry) bool {
	for _, e := range entities {
		entity, ok := reg.Entity(e)
		if !ok {
			continue
		}
		if _, ok := entity.ResolveMetric(name); ok {
			return true
		}
		if _, ok := entity.ResolveMeasure(name); ok {
			return true
		}
	}
	return false
}
