package query

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// Supported dialect names, as reported by gorm.Dialector.Name.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Statement is a rendered SQL statement. SQL always uses "?" placeholders.
type Statement struct {
	SQL         string
	Args        []any
	Dialect     string
	Fingerprint uint64
}

// Native returns the SQL text with the placeholders of the dialect, as the
// backend receives it. Sessions pass SQL to GORM, which does the same
// rewrite; Native is what statement logs show.
func (s Statement) Native() string {
	if s.Dialect == DialectPostgres || s.Dialect == "postgresql" {
		return convertToPostgresPlaceholders(s.SQL)
	}
	return s.SQL
}

// FingerprintHex returns the fingerprint as a fixed-width hex string.
func (s Statement) FingerprintHex() string {
	h := strconv.FormatUint(s.Fingerprint, 16)
	return strings.Repeat("0", 16-len(h)) + h
}

func newStatement(dialect, sql string, args []any) Statement {
	return Statement{SQL: sql, Args: args, Dialect: dialect, Fingerprint: xxhash.Sum64String(sql)}
}

var deletedAtType = reflect.TypeOf(gorm.DeletedAt{})

// softDelete returns the soft delete column of t, if any.
func softDelete(t *edm.EntityType) (string, bool) {
	for _, p := range t.Properties {
		if p.GoType == deletedAtType {
			return p.Column, true
		}
	}
	return "", false
}

// mainBuilder renders the FROM, JOIN and WHERE clauses shared by the row and
// count statements.
func (c *Context) mainBuilder(dialect string) *queryBuilder {
	qb := newQueryBuilder(dialect).
		WithTable(c.Root.Table, c.RootAlias).
		Select(c.Target + ".*")

	addKeys(qb, dialect, c.RootAlias, c.RootKeys)
	excludeDeleted(qb, dialect, c.RootAlias, c.Root)

	for _, j := range c.Joins {
		switch {
		case j.Origin == OriginPath:
			joinNavigation(qb, dialect, "INNER JOIN", j)
			addKeys(qb, dialect, j.Alias, j.Keys)
			excludeDeleted(qb, dialect, j.Alias, j.Type)
		case j.Referenced:
			joinNavigation(qb, dialect, "LEFT JOIN", j)
		}
	}

	for _, s := range c.Scopes {
		qb.Where("("+s.Bind(c.Target)+")", s.Args...)
	}

	if c.Filter != nil {
		sql, args := renderExpr(dialect, c.Filter)
		qb.Where(sql, args...)
	}
	return qb
}

func addKeys(qb *queryBuilder, dialect, alias string, keys []uri.KeyPredicate) {
	for _, k := range keys {
		qb.Where(quoteColumn(dialect, alias, k.Property.Column)+" = ?", k.Value)
	}
}

func excludeDeleted(qb *queryBuilder, dialect, alias string, t *edm.EntityType) {
	if column, ok := softDelete(t); ok {
		qb.Where(quoteColumn(dialect, alias, column) + " IS NULL")
	}
}

// joinNavigation joins the target of j to its parent alias.
func joinNavigation(qb *queryBuilder, dialect, kind string, j *Join) {
	rel := j.Navigation.Association.Join
	target := quoteTableName(dialect, j.Type.Table) + " AS " + j.Alias

	if rel.JoinTable != "" {
		var link []string
		for _, col := range rel.OwnerJoin {
			link = append(link, quoteColumn(dialect, j.LinkAlias, col.Other)+" = "+quoteColumn(dialect, j.Parent, col.Owner))
		}
		qb.Join(kind + " " + quoteTableName(dialect, rel.JoinTable) + " AS " + j.LinkAlias + " ON " + strings.Join(link, " AND "))

		var on []string
		for _, col := range rel.TargetJoin {
			on = append(on, quoteColumn(dialect, j.Alias, col.Other)+" = "+quoteColumn(dialect, j.LinkAlias, col.Owner))
		}
		qb.Join(kind + " " + target + " ON " + strings.Join(on, " AND "))
		return
	}

	var on []string
	for _, col := range rel.Columns {
		on = append(on, quoteColumn(dialect, j.Alias, col.Other)+" = "+quoteColumn(dialect, j.Parent, col.Owner))
	}
	qb.Join(kind + " " + target + " ON " + strings.Join(on, " AND "))
}

func (c *Context) rowBuilder(dialect string) *queryBuilder {
	qb := c.mainBuilder(dialect)
	for _, o := range c.OrderBy {
		sql, args := renderExpr(dialect, o.Expr)
		if o.Descending {
			sql += " DESC"
		} else {
			sql += " ASC"
		}
		qb.OrderBy(sql, args...)
	}
	if c.Top != nil {
		qb.Limit(*c.Top)
	}
	qb.Offset(c.Skip)
	return qb
}

// Render renders the statement that fetches the addressed entities.
func Render(c *Context, dialect string) Statement {
	sql, args := c.rowBuilder(dialect).ToSQL()
	return newStatement(dialect, sql, args)
}

// RenderPage renders the row statement with the limit raised by one, so the
// caller can tell whether another page follows.
func RenderPage(c *Context, dialect string) Statement {
	qb := c.rowBuilder(dialect)
	if c.Top != nil {
		qb.Limit(*c.Top + 1)
	}
	sql, args := qb.ToSQL()
	return newStatement(dialect, sql, args)
}

// RenderCount renders a count of the addressed entities. With paged set the
// count honors $skip and $top, which is what a $count segment asks for;
// otherwise it counts every filtered row, which is what $inlinecount asks for.
func RenderCount(c *Context, dialect string, paged bool) Statement {
	if paged && (c.Top != nil || c.Skip > 0) {
		sql, args := c.rowBuilder(dialect).ToPagedCountSQL()
		return newStatement(dialect, sql, args)
	}
	sql, args := c.mainBuilder(dialect).ToCountSQL()
	return newStatement(dialect, sql, args)
}

// ParentColumns returns the columns of the parent row that RenderExpand binds.
func (j *Join) ParentColumns() []string {
	rel := j.Navigation.Association.Join
	var cols []string
	if rel.JoinTable != "" {
		for _, col := range rel.OwnerJoin {
			cols = append(cols, col.Owner)
		}
		return cols
	}
	for _, col := range rel.Columns {
		cols = append(cols, col.Owner)
	}
	return cols
}

// RenderExpand renders the statement that fetches the related rows of one
// parent. values holds the parent's values for ParentColumns, in order.
func RenderExpand(j *Join, dialect string, values []any) Statement {
	rel := j.Navigation.Association.Join
	qb := newQueryBuilder(dialect).
		WithTable(j.Type.Table, j.Alias).
		Select(j.Alias + ".*")

	if rel.JoinTable != "" {
		var on []string
		for _, col := range rel.TargetJoin {
			on = append(on, quoteColumn(dialect, j.Alias, col.Other)+" = "+quoteColumn(dialect, j.LinkAlias, col.Owner))
		}
		qb.Join("INNER JOIN " + quoteTableName(dialect, rel.JoinTable) + " AS " + j.LinkAlias + " ON " + strings.Join(on, " AND "))
		for i, col := range rel.OwnerJoin {
			qb.Where(quoteColumn(dialect, j.LinkAlias, col.Other)+" = ?", values[i])
		}
	} else {
		for i, col := range rel.Columns {
			qb.Where(quoteColumn(dialect, j.Alias, col.Other)+" = ?", values[i])
		}
	}
	excludeDeleted(qb, dialect, j.Alias, j.Type)

	sql, args := qb.ToSQL()
	return newStatement(dialect, sql, args)
}

var sqlOperators = map[uri.Operator]string{
	uri.OpOr:  "OR",
	uri.OpAnd: "AND",
	uri.OpEq:  "=",
	uri.OpNe:  "<>",
	uri.OpLt:  "<",
	uri.OpLe:  "<=",
	uri.OpGt:  ">",
	uri.OpGe:  ">=",
	uri.OpAdd: "+",
	uri.OpSub: "-",
	uri.OpMul: "*",
	uri.OpDiv: "/",
	uri.OpMod: "%",
}

// renderExpr renders a predicate tree as SQL with "?" placeholders.
func renderExpr(dialect string, e *Expr) (string, []any) {
	switch e.Kind {
	case ExprProperty:
		return quoteColumn(dialect, e.Property.Alias, e.Property.Column), nil

	case ExprValue:
		if e.IsNull() {
			return "NULL", nil
		}
		return "?", []any{e.Value}

	case ExprUnary:
		sql, args := renderExpr(dialect, e.Args[0])
		if e.Operator == uri.OpNeg {
			return "(-" + sql + ")", args
		}
		return "NOT (" + sql + ")", args

	case ExprBinary:
		left, right := e.Args[0], e.Args[1]
		if (e.Operator == uri.OpEq || e.Operator == uri.OpNe) && (left.IsNull() || right.IsNull()) {
			operand := left
			if left.IsNull() {
				operand = right
			}
			sql, args := renderExpr(dialect, operand)
			if e.Operator == uri.OpEq {
				return "(" + sql + " IS NULL)", args
			}
			return "(" + sql + " IS NOT NULL)", args
		}
		lsql, largs := renderExpr(dialect, left)
		rsql, rargs := renderExpr(dialect, right)
		return "(" + lsql + " " + sqlOperators[e.Operator] + " " + rsql + ")", append(largs, rargs...)

	case ExprFunction:
		parts := make([]fragment, len(e.Args))
		for i, arg := range e.Args {
			parts[i].sql, parts[i].args = renderExpr(dialect, arg)
		}
		return expandTemplate(functionTemplate(dialect, e.Function, len(parts)), parts)
	}
	return "", nil
}

type fragment struct {
	sql  string
	args []any
}

// expandTemplate replaces {0}..{9} in template with the argument fragments.
// A fragment used twice contributes its arguments twice.
func expandTemplate(template string, parts []fragment) (string, []any) {
	var b strings.Builder
	var args []any
	for i := 0; i < len(template); i++ {
		if template[i] == '{' && i+2 < len(template) && template[i+2] == '}' && template[i+1] >= '0' && template[i+1] <= '9' {
			if n := int(template[i+1] - '0'); n < len(parts) {
				b.WriteString(parts[n].sql)
				args = append(args, parts[n].args...)
				i += 2
				continue
			}
		}
		b.WriteByte(template[i])
	}
	return b.String(), args
}

func concat(dialect string, parts ...string) string {
	if dialect == DialectMySQL {
		return "CONCAT(" + strings.Join(parts, ", ") + ")"
	}
	return "(" + strings.Join(parts, " || ") + ")"
}

// position returns the 1-based position of needle in haystack, 0 when absent.
func position(dialect, haystack, needle string) string {
	if dialect == DialectPostgres {
		return "STRPOS(" + haystack + ", " + needle + ")"
	}
	return "INSTR(" + haystack + ", " + needle + ")"
}

func lengthFunc(dialect string) string {
	if dialect == DialectMySQL {
		return "CHAR_LENGTH"
	}
	return "LENGTH"
}

var dateParts = map[string][2]string{
	"year":   {"%Y", "YEAR"},
	"month":  {"%m", "MONTH"},
	"day":    {"%d", "DAY"},
	"hour":   {"%H", "HOUR"},
	"minute": {"%M", "MINUTE"},
	"second": {"%S", "SECOND"},
}

// functionTemplate returns the SQL template of a function call with n
// arguments, referencing them as {0}, {1} and so on.
func functionTemplate(dialect, name string, n int) string {
	switch name {
	// The string tests look up positions so that % and _ in the operands
	// match literally.
	case "substringof":
		return "(" + position(dialect, "{1}", "{0}") + " > 0)"
	case "startswith":
		return "(" + position(dialect, "{0}", "{1}") + " = 1)"
	case "endswith":
		if dialect == DialectSQLite {
			return "(SUBSTR({0}, LENGTH({0}) - LENGTH({1}) + 1) = {1})"
		}
		return "(" + position(dialect, "REVERSE({0})", "REVERSE({1})") + " = 1)"
	case "length":
		return lengthFunc(dialect) + "({0})"
	case "indexof":
		return "(" + position(dialect, "{0}", "{1}") + " - 1)"
	case "replace":
		return "REPLACE({0}, {1}, {2})"
	case "substring":
		if n == 3 {
			return "SUBSTR({0}, {1} + 1, {2})"
		}
		return "SUBSTR({0}, {1} + 1)"
	case "tolower":
		return "LOWER({0})"
	case "toupper":
		return "UPPER({0})"
	case "trim":
		return "TRIM({0})"
	case "concat":
		return concat(dialect, "{0}", "{1}")
	case "year", "month", "day", "hour", "minute", "second":
		part := dateParts[name]
		switch dialect {
		case DialectPostgres:
			return "CAST(EXTRACT(" + part[1] + " FROM {0}) AS INTEGER)"
		case DialectMySQL:
			return part[1] + "({0})"
		}
		return "CAST(strftime('" + part[0] + "', {0}) AS INTEGER)"
	case "round":
		return "ROUND({0})"
	case "floor":
		if dialect == DialectSQLite {
			return "(CASE WHEN {0} < CAST({0} AS INTEGER) THEN CAST({0} AS INTEGER) - 1 ELSE CAST({0} AS INTEGER) END)"
		}
		return "FLOOR({0})"
	case "ceiling":
		if dialect == DialectSQLite {
			return "(CASE WHEN {0} > CAST({0} AS INTEGER) THEN CAST({0} AS INTEGER) + 1 ELSE CAST({0} AS INTEGER) END)"
		}
		return "CEILING({0})"
	}
	return name + "()"
}
