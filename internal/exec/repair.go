package exec

import (
	"math"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/queryfabric/queryagent/internal/semantic"
)

// RepairContext carries everything a repair strategy needs to rewrite SQL:
// the loaded entities and the alias each one renders as in the current
// statement.
type RepairContext struct {
	Registry      *semantic.Registry
	AliasByEntity map[string]string
}

// Repair attempts to rewrite sql in response to a classified failure.
// Returns the rewritten SQL, a human-readable reason, and whether a fix
// was found at all.
func Repair(sql string, cls Classification, rctx RepairContext) (string, string, bool) {
	switch cls.Kind {
	case KindColumnNotFound:
		return repairColumnNotFound(sql, cls.Identifiers, rctx)
	case KindAmbiguousColumn:
		return repairAmbiguousColumn(sql, cls.Identifiers, rctx)
	case KindTimeout:
		return repairTimeout(sql)
	default:
		return sql, "", false
	}
}

func repairColumnNotFound(sql string, identifiers []string, rctx RepairContext) (string, string, bool) {
	fixedAny := false
	reasons := make([]string, 0, len(identifiers))

	for _, ident := range identifiers {
		replacement, reason, ok := resolveIdentifier(ident, rctx)
		if !ok {
			continue
		}
		sql = replaceIdentifier(sql, ident, replacement)
		fixedAny = true
		reasons = append(reasons, reason)
	}

	if !fixedAny {
		return sql, "", false
	}
	return sql, strings.Join(reasons, "; "), true
}

// resolveIdentifier resolves a single unqualified or entity-qualified
// identifier to an "alias.COL" replacement, either by splitting on "." to
// find (entity, column) directly, or by fuzzy matching against every
// loaded entity's dimensions.
func resolveIdentifier(ident string, rctx RepairContext) (string, string, bool) {
	if idx := strings.LastIndex(ident, "."); idx >= 0 {
		entityName, field := ident[:idx], ident[idx+1:]
		if entity, ok := rctx.Registry.Entity(entityName); ok {
			if dim, ok := entity.ResolveDimension(field); ok {
				alias := rctx.AliasByEntity[entityName]
				if alias == "" {
					alias = entityName
				}
				return alias + "." + dim.Name, "qualified " + ident + " via join path", true
			}
		}
	}

	best := struct {
		alias string
		field string
		dist  int
	}{dist: math.MaxInt32}

	for _, name := range rctx.Registry.Names() {
		entity, _ := rctx.Registry.Entity(name)
		for _, d := range entity.Dimensions {
			candidates := append([]string{d.Name}, d.Aliases...)
			for _, c := range candidates {
				dist := levenshtein.ComputeDistance(strings.ToLower(ident), strings.ToLower(c))
				if dist < best.dist {
					alias := rctx.AliasByEntity[name]
					if alias == "" {
						alias = name
					}
					best.alias = alias
					best.field = d.Name
					best.dist = dist
				}
			}
		}
	}

	threshold := minInt(3, int(math.Ceil(0.3*float64(len(ident)))))
	if best.field == "" || best.dist > threshold {
		return "", "", false
	}
	return best.alias + "." + best.field, "fuzzy-matched " + ident + " to " + best.field, true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// replaceIdentifier performs a word-bounded substitution of ident with
// replacement, skipping occurrences inside single-quoted string literals.
func replaceIdentifier(sql, ident, replacement string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(ident) + `\b`)
	var out strings.Builder

	// Process segment by segment, splitting on single-quoted regions so
	// substitutions never touch string literal contents.
	segments := strings.Split(sql, "'")
	for i, seg := range segments {
		if i%2 == 0 {
			seg = re.ReplaceAllString(seg, replacement)
		}
		out.WriteString(seg)
		if i != len(segments)-1 {
			out.WriteString("'")
		}
	}
	return out.String()
}

func repairAmbiguousColumn(sql string, identifiers []string, rctx RepairContext) (string, string, bool) {
	fixedAny := false
	reasons := make([]string, 0, len(identifiers))

	for _, ident := range identifiers {
		var owner string
		count := 0
		for _, name := range rctx.Registry.Names() {
			entity, _ := rctx.Registry.Entity(name)
			if _, ok := entity.ResolveDimension(ident); ok {
				owner = name
				count++
			}
		}
		if count != 1 {
			continue
		}
		alias := rctx.AliasByEntity[owner]
		if alias == "" {
			alias = owner
		}
		sql = replaceIdentifier(sql, ident, alias+"."+ident)
		fixedAny = true
		reasons = append(reasons, "qualified ambiguous column "+ident+" to "+owner)
	}

	if !fixedAny {
		return sql, "", false
	}
	return sql, strings.Join(reasons, "; "), true
}

var (
	limitRe   = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	orderByRe = regexp.MustCompile(`(?is)\sORDER BY\s+.*$`)
)

// repairTimeout always returns a candidate: it drops a
// trailing ORDER BY and appends a LIMIT if either is missing, even when
// neither mutation applies.
func repairTimeout(sql string) (string, string, bool) {
	var reasons []string

	if orderByRe.MatchString(sql) {
		sql = orderByRe.ReplaceAllString(sql, "")
		reasons = append(reasons, "dropped trailing ORDER BY")
	}

	if !limitRe.MatchString(sql) {
		sql = strings.TrimRight(sql, " \n\t;") + "\nLIMIT 1001"
		reasons = append(reasons, "appended missing LIMIT 1001")
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "no timeout mitigation applicable; retried as-is")
	}
	return sql, strings.Join(reasons, "; "), true
}
