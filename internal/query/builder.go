package query

import (
	"fmt"
	"strings"
)

// queryBuilder accumulates SQL clauses for one SELECT statement. Placeholders
// are always written as "?"; placeholders for the native dialect are produced
// by Statement.Native.
type queryBuilder struct {
	dialect  string
	table    string
	alias    string
	wheres   []clause
	joins    []string
	selects  []string
	orderBys []clause
	limit    *int
	offset   int
}

// clause is a SQL fragment with parameterized arguments.
type clause struct {
	sql  string
	args []any
}

func newQueryBuilder(dialect string) *queryBuilder {
	return &queryBuilder{dialect: dialect}
}

// WithTable sets the target table and its alias.
func (qb *queryBuilder) WithTable(table, alias string) *queryBuilder {
	qb.table = table
	qb.alias = alias
	return qb
}

// Where adds a condition. Conditions are joined with AND.
func (qb *queryBuilder) Where(sql string, args ...any) *queryBuilder {
	qb.wheres = append(qb.wheres, clause{sql: sql, args: args})
	return qb
}

// Join adds a JOIN clause.
func (qb *queryBuilder) Join(sql string) *queryBuilder {
	qb.joins = append(qb.joins, sql)
	return qb
}

// Select sets the selected columns.
func (qb *queryBuilder) Select(cols ...string) *queryBuilder {
	qb.selects = append(qb.selects, cols...)
	return qb
}

// OrderBy adds an ORDER BY term.
func (qb *queryBuilder) OrderBy(order string, args ...any) *queryBuilder {
	qb.orderBys = append(qb.orderBys, clause{sql: order, args: args})
	return qb
}

// Limit sets the LIMIT.
func (qb *queryBuilder) Limit(n int) *queryBuilder {
	qb.limit = &n
	return qb
}

// Offset sets the OFFSET.
func (qb *queryBuilder) Offset(n int) *queryBuilder {
	qb.offset = n
	return qb
}

// Clone creates a copy that can be modified independently.
func (qb *queryBuilder) Clone() *queryBuilder {
	clone := &queryBuilder{
		dialect:  qb.dialect,
		table:    qb.table,
		alias:    qb.alias,
		wheres:   append([]clause{}, qb.wheres...),
		joins:    append([]string{}, qb.joins...),
		selects:  append([]string{}, qb.selects...),
		orderBys: append([]clause{}, qb.orderBys...),
		offset:   qb.offset,
	}
	if qb.limit != nil {
		limitCopy := *qb.limit
		clone.limit = &limitCopy
	}
	return clone
}

func (qb *queryBuilder) writeFrom(sql *strings.Builder, args *[]any) {
	if qb.table != "" {
		sql.WriteString(" FROM ")
		sql.WriteString(quoteTableName(qb.dialect, qb.table))
		if qb.alias != "" {
			sql.WriteString(" AS ")
			sql.WriteString(qb.alias)
		}
	}

	for _, join := range qb.joins {
		sql.WriteString(" ")
		sql.WriteString(join)
	}

	if len(qb.wheres) > 0 {
		sql.WriteString(" WHERE ")
		whereClauses := make([]string, 0, len(qb.wheres))
		for _, w := range qb.wheres {
			whereClauses = append(whereClauses, w.sql)
			*args = append(*args, w.args...)
		}
		sql.WriteString(strings.Join(whereClauses, " AND "))
	}
}

// ToSQL builds the SELECT statement with its arguments.
func (qb *queryBuilder) ToSQL() (string, []any) {
	var sql strings.Builder
	var args []any

	sql.WriteString("SELECT ")
	if len(qb.selects) > 0 {
		sql.WriteString(strings.Join(qb.selects, ", "))
	} else {
		sql.WriteString("*")
	}

	qb.writeFrom(&sql, &args)

	if len(qb.orderBys) > 0 {
		sql.WriteString(" ORDER BY ")
		terms := make([]string, 0, len(qb.orderBys))
		for _, o := range qb.orderBys {
			terms = append(terms, o.sql)
			args = append(args, o.args...)
		}
		sql.WriteString(strings.Join(terms, ", "))
	}

	if qb.limit != nil {
		sql.WriteString(fmt.Sprintf(" LIMIT %d", *qb.limit))
	} else if qb.offset > 0 && (qb.dialect == "mysql" || qb.dialect == "sqlite") {
		// MySQL and SQLite require LIMIT when OFFSET is used
		sql.WriteString(" LIMIT 2147483647")
	}

	if qb.offset > 0 {
		sql.WriteString(fmt.Sprintf(" OFFSET %d", qb.offset))
	}

	return sql.String(), args
}

// ToCountSQL builds a COUNT(*) over the filtered rows, ignoring ordering and
// pagination.
func (qb *queryBuilder) ToCountSQL() (string, []any) {
	var sql strings.Builder
	var args []any

	sql.WriteString("SELECT COUNT(*)")
	qb.writeFrom(&sql, &args)
	return sql.String(), args
}

// ToPagedCountSQL counts the rows of the paginated statement using a subquery.
func (qb *queryBuilder) ToPagedCountSQL() (string, []any) {
	inner := qb.Clone()
	inner.orderBys = nil
	innerSQL, args := inner.ToSQL()
	return "SELECT COUNT(*) FROM (" + innerSQL + ") AS count_subquery", args
}

// quoteTableName quotes an identifier for the dialect.
func quoteTableName(dialect, name string) string {
	if dialect == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteColumn qualifies a column with an alias.
func quoteColumn(dialect, alias, column string) string {
	return alias + "." + quoteTableName(dialect, column)
}

// convertToPostgresPlaceholders converts ? placeholders to $1, $2, ... for PostgreSQL
func convertToPostgresPlaceholders(query string) string {
	var result strings.Builder
	placeholderNum := 1
	inQuote := false

	for i := 0; i < len(query); i++ {
		switch {
		case query[i] == '\'':
			inQuote = !inQuote
			result.WriteByte(query[i])
		case query[i] == '?' && !inQuote:
			result.WriteString(fmt.Sprintf("$%d", placeholderNum))
			placeholderNum++
		default:
			result.WriteByte(query[i])
		}
	}

	return result.String()
}
