// Package scope defines extra query conditions contributed by read hooks.
package scope

import "strings"

// AliasPlaceholder is replaced with the alias of the addressed entities.
const AliasPlaceholder = "{alias}"

// QueryScope represents a SQL condition that is added to the query of the
// addressed entities. It carries a raw SQL predicate and its arguments for
// safe parameter binding.
type QueryScope struct {
	// Condition is the SQL condition, e.g. "{alias}.tenant_id = ?"
	Condition string
	// Args contains the parameter values for placeholders in Condition
	Args []any
}

// Where returns a scope for condition.
func Where(condition string, args ...any) QueryScope {
	return QueryScope{Condition: condition, Args: args}
}

// Bind returns the condition with the alias placeholder replaced.
func (s QueryScope) Bind(alias string) string {
	return strings.ReplaceAll(s.Condition, AliasPlaceholder, alias)
}
