package semantic

import (
	"fmt"
	"regexp"
	"strings"
)

// tokenRe matches the three macro token shapes: {CUBE}.FIELD, {FIELD},
// and {ENTITY.FIELD}.
var tokenRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}(?:\.([A-Za-z_][A-Za-z0-9_]*))?|\{([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandContext carries the entity a bare {CUBE}.FIELD token resolves
// against, the alias each entity renders as in the generated SQL, and the
// registry of loaded entities.
type ExpandContext struct {
	CurrentEntity string
	AliasByEntity map[string]string
	Registry      *Registry
}

// Expand resolves every macro token in expr against ctx, recursively
// expanding referenced dimensions, and returns plain SQL. Cycles are
// detected via a stack of "entity.field" keys.
func Expand(expr string, ctx ExpandContext) (string, error) {
	return expand(expr, ctx, nil)
}

func expand(expr string, ctx ExpandContext, stack []string) (string, error) {
	var outErr error
	result := tokenRe.ReplaceAllStringFunc(expr, func(tok string) string {
		if outErr != nil {
			return tok
		}
		entityName, field := parseToken(tok, ctx.CurrentEntity)

		key := entityName + "." + field
		for _, s := range stack {
			if s == key {
				outErr = fmt.Errorf("%w: cyclic expansion at %q", ErrMacro, key)
				return tok
			}
		}

		entity, ok := ctx.Registry.Entity(entityName)
		if !ok {
			outErr = fmt.Errorf("%w: unknown entity %q referenced by token %q", ErrMacro, entityName, tok)
			return tok
		}
		dim, ok := entity.ResolveDimension(field)
		if !ok {
			outErr = fmt.Errorf("%w: entity %q has no field %q", ErrMacro, entityName, field)
			return tok
		}

		alias := ctx.AliasByEntity[entityName]
		if alias == "" {
			alias = entityName
		}

		if simpleEntity, simpleField, ok := parseSimpleToken(dim.SQL); ok {
			resolvedEntity := simpleEntity
			if resolvedEntity == "" {
				resolvedEntity = entityName
			}
			resolvedAlias := ctx.AliasByEntity[resolvedEntity]
			if resolvedAlias == "" {
				resolvedAlias = resolvedEntity
			}
			return fmt.Sprintf(`%s."%s"`, resolvedAlias, simpleField)
		}

		nested := ExpandContext{
			CurrentEntity: entityName,
			AliasByEntity: ctx.AliasByEntity,
			Registry:      ctx.Registry,
		}
		expanded, err := expand(dim.SQL, nested, append(stack, key))
		if err != nil {
			outErr = err
			return tok
		}
		_ = alias
		return expanded
	})
	if outErr != nil {
		return "", outErr
	}
	return result, nil
}

// parseToken splits a matched token into (entity, field), defaulting the
// entity to currentEntity for {CUBE}.FIELD and {FIELD} forms.
func parseToken(tok, currentEntity string) (entity, field string) {
	m := tokenRe.FindStringSubmatch(tok)
	if m == nil {
		return currentEntity, ""
	}
	if m[4] != "" { // {ENTITY.FIELD}
		return m[3], m[4]
	}
	if m[2] != "" { // {CUBE}.FIELD
		return currentEntity, m[2]
	}
	return currentEntity, m[1] // {FIELD}
}

// parseSimpleToken reports whether s is exactly one macro token shaped
// like {CUBE}.COL or {ENTITY.COL}, returning the referenced entity (empty
// for {CUBE}.COL) and column.
func parseSimpleToken(s string) (entity, col string, ok bool) {
	s = strings.TrimSpace(s)
	m := tokenRe.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return "", "", false
	}
	if m[4] != "" {
		return m[3], m[4], true
	}
	if m[2] != "" {
		return "", m[2], true
	}
	return "", "", false
}

// QualifySimpleColumn resolves a single {CUBE}.FIELD or {ENTITY.FIELD}
// token to a quoted-identifier join predicate fragment: alias."COL". Any
// other expr is taken as a bare field name of CurrentEntity; it is an
// error only when that entity has no such field.
func QualifySimpleColumn(expr string, ctx ExpandContext) (string, error) {
	entity, field, ok := parseSimpleToken(expr)
	if !ok {
		// Also accept a bare field name against CurrentEntity, used by
		// join "on" clauses that reference local dimension names directly.
		entity, field = "", expr
	}
	if entity == "" {
		entity = ctx.CurrentEntity
	}
	ent, ok := ctx.Registry.Entity(entity)
	if !ok {
		return "", fmt.Errorf("%w: unknown entity %q in join predicate", ErrMacro, entity)
	}
	dim, ok := ent.ResolveDimension(field)
	if !ok {
		return "", fmt.Errorf("%w: entity %q has no field %q for join predicate", ErrMacro, entity, field)
	}
	alias := ctx.AliasByEntity[entity]
	if alias == "" {
		alias = entity
	}
	col := field
	if simpleEntity, simpleField, ok := parseSimpleToken(dim.SQL); ok {
		col = simpleField
		if simpleEntity != "" {
			if a := ctx.AliasByEntity[simpleEntity]; a != "" {
				alias = a
			}
		}
	}
	return fmt.Sprintf(`%s."%s"`, alias, col), nil
}
