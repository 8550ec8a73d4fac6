package query

import (
	"database/sql"
	"reflect"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing
)

func openStaffDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	stmts := []string{
		`CREATE TABLE rooms (id TEXT PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE employees (id TEXT PRIMARY KEY, name TEXT NOT NULL, age INTEGER, room_id TEXT)`,
		`INSERT INTO rooms (id, name) VALUES ('R1', 'Atlas'), ('R2', 'Borealis')`,
		`INSERT INTO employees (id, name, age, room_id) VALUES
			('1', 'Ada', 36, 'R1'),
			('2', 'Grace', 45, 'R2'),
			('3', 'Linus', 29, 'R1'),
			('4', 'Barbara', 52, 'R1'),
			('5', 'Ken', 61, NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to prepare test data: %v", err)
		}
	}
	return db
}

const roomJoin = `LEFT JOIN "rooms" AS E2 ON E2."id" = E1."room_id"`

func TestQueryBuilderToSQL(t *testing.T) {
	tests := []struct {
		name    string
		builder *queryBuilder
		sql     string
		args    []any
	}{
		{
			name:    "table only",
			builder: newQueryBuilder(DialectSQLite).WithTable("employees", "E1"),
			sql:     `SELECT * FROM "employees" AS E1`,
		},
		{
			name:    "mysql quoting",
			builder: newQueryBuilder(DialectMySQL).WithTable("employees", "E1"),
			sql:     "SELECT * FROM `employees` AS E1",
		},
		{
			name: "filtered and ordered page",
			builder: newQueryBuilder(DialectSQLite).WithTable("employees", "E1").
				Select(`E1."id"`, `E1."name"`).
				Where(`E1."age" > ?`, 40).
				OrderBy(`E1."age" DESC`).
				Limit(5),
			sql:  `SELECT E1."id", E1."name" FROM "employees" AS E1 WHERE E1."age" > ? ORDER BY E1."age" DESC LIMIT 5`,
			args: []any{40},
		},
		{
			name: "join with conditions",
			builder: newQueryBuilder(DialectSQLite).WithTable("employees", "E1").
				Join(roomJoin).
				Where(`E2."name" = ?`, "Atlas").
				Where(`E1."age" < ?`, 50),
			sql:  `SELECT * FROM "employees" AS E1 ` + roomJoin + ` WHERE E2."name" = ? AND E1."age" < ?`,
			args: []any{"Atlas", 50},
		},
		{
			name:    "offset without limit on sqlite",
			builder: newQueryBuilder(DialectSQLite).WithTable("employees", "E1").Offset(20),
			sql:     `SELECT * FROM "employees" AS E1 LIMIT 2147483647 OFFSET 20`,
		},
		{
			name:    "offset without limit on postgres",
			builder: newQueryBuilder(DialectPostgres).WithTable("employees", "E1").Offset(20),
			sql:     `SELECT * FROM "employees" AS E1 OFFSET 20`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, args := tt.builder.ToSQL()
			if stmt != tt.sql {
				t.Errorf("ToSQL() sql =\n%s\nwant\n%s", stmt, tt.sql)
			}
			if len(args) != len(tt.args) || (len(args) > 0 && !reflect.DeepEqual(args, tt.args)) {
				t.Errorf("ToSQL() args = %v, want %v", args, tt.args)
			}
		})
	}
}

func TestQueryBuilderCounts(t *testing.T) {
	qb := newQueryBuilder(DialectSQLite).WithTable("employees", "E1").
		Where(`E1."age" > ?`, 30).
		OrderBy(`E1."name"`).
		Limit(2).
		Offset(1)

	stmt, args := qb.ToCountSQL()
	if want := `SELECT COUNT(*) FROM "employees" AS E1 WHERE E1."age" > ?`; stmt != want {
		t.Errorf("ToCountSQL() = %s, want %s", stmt, want)
	}
	if len(args) != 1 {
		t.Errorf("ToCountSQL() args = %v", args)
	}

	stmt, _ = qb.ToPagedCountSQL()
	want := `SELECT COUNT(*) FROM (SELECT * FROM "employees" AS E1 WHERE E1."age" > ? LIMIT 2 OFFSET 1) AS count_subquery`
	if stmt != want {
		t.Errorf("ToPagedCountSQL() =\n%s\nwant\n%s", stmt, want)
	}

	db := openStaffDB(t)
	var total, paged int64
	countSQL, countArgs := qb.ToCountSQL()
	if err := db.QueryRow(countSQL, countArgs...).Scan(&total); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	pagedSQL, pagedArgs := qb.ToPagedCountSQL()
	if err := db.QueryRow(pagedSQL, pagedArgs...).Scan(&paged); err != nil {
		t.Fatalf("paged count query failed: %v", err)
	}
	if total != 4 || paged != 2 {
		t.Errorf("total = %d, paged = %d, want 4 and 2", total, paged)
	}
}

func TestQueryBuilderClone(t *testing.T) {
	base := newQueryBuilder(DialectSQLite).WithTable("employees", "E1").
		Where(`E1."age" > ?`, 30).
		Limit(10)

	clone := base.Clone().Join(roomJoin).Where(`E2."id" = ?`, "R1").Limit(1)

	baseSQL, baseArgs := base.ToSQL()
	cloneSQL, cloneArgs := clone.ToSQL()
	if want := `SELECT * FROM "employees" AS E1 WHERE E1."age" > ? LIMIT 10`; baseSQL != want {
		t.Errorf("original changed: %s", baseSQL)
	}
	if len(baseArgs) != 1 || len(cloneArgs) != 2 {
		t.Errorf("args: original %v, clone %v", baseArgs, cloneArgs)
	}
	if want := `SELECT * FROM "employees" AS E1 ` + roomJoin + ` WHERE E1."age" > ? AND E2."id" = ? LIMIT 1`; cloneSQL != want {
		t.Errorf("clone = %s, want %s", cloneSQL, want)
	}
}

func TestQueryBuilderExecutes(t *testing.T) {
	db := openStaffDB(t)

	qb := newQueryBuilder(DialectSQLite).WithTable("employees", "E1").
		Select(`E1."name"`).
		Join(roomJoin).
		Where(`E2."name" = ?`, "Atlas").
		OrderBy(`E1."age" DESC`).
		Offset(1)

	query, args := qb.ToSQL()
	rows, err := db.Query(query, args...)
	if err != nil {
		t.Fatalf("Query failed: %v\n%s", err, query)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if want := []string{"Ada", "Linus"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestQuoting(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{quoteTableName(DialectSQLite, `odd"name`), `"odd""name"`},
		{quoteTableName(DialectMySQL, "odd`name"), "`odd``name`"},
		{quoteColumn(DialectPostgres, "J1", "employee_id"), `J1."employee_id"`},
		{quoteColumn(DialectMySQL, "E3", "room_id"), "E3.`room_id`"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}
}

func TestConvertToPostgresPlaceholders(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`SELECT * FROM "employees" AS E1`, `SELECT * FROM "employees" AS E1`},
		{`E1."age" > ? AND E1."name" = ?`, `E1."age" > $1 AND E1."name" = $2`},
		{`E1."name" = 'who?' OR E1."id" = ?`, `E1."name" = 'who?' OR E1."id" = $1`},
	}
	for _, tt := range tests {
		if got := convertToPostgresPlaceholders(tt.in); got != tt.want {
			t.Errorf("convertToPostgresPlaceholders(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
