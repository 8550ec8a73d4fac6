package query

import (
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/nlstn/go-odata-persist/internal/scope"
	"github.com/nlstn/go-odata-persist/internal/testmodel"
	"github.com/nlstn/go-odata-persist/internal/uri"
	"gorm.io/gorm"
)

func TestRender(t *testing.T) {
	r := newResolver(t)

	tests := []struct {
		name  string
		path  string
		query string
		sql   string
		args  []any
	}{
		{
			name:  "filter orderby and paging",
			path:  "Employees",
			query: "$filter=Age gt 30 and Room/Name eq 'Atlas'&$orderby=Name desc&$top=5&$skip=10",
			sql:   `SELECT E1.* FROM "employees" AS E1 LEFT JOIN "rooms" AS E2 ON E2."id" = E1."room_id" WHERE ((E1."age" > ?) AND (E2."name" = ?)) ORDER BY E1."name" DESC LIMIT 5 OFFSET 10`,
			args:  []any{int64(30), "Atlas"},
		},
		{
			name: "many to many path",
			path: "Employees('1')/Teams",
			sql:  `SELECT E2.* FROM "employees" AS E1 INNER JOIN "team_members" AS J1 ON J1."employee_id" = E1."id" INNER JOIN "teams" AS E2 ON E2."id" = J1."team_id" WHERE E1."id" = ?`,
			args: []any{"1"},
		},
		{
			name: "to one path with key on segment",
			path: "Rooms('R1')/Employees('3')",
			sql:  `SELECT E2.* FROM "rooms" AS E1 INNER JOIN "employees" AS E2 ON E2."room_id" = E1."id" WHERE E1."id" = ? AND E2."id" = ?`,
			args: []any{"R1", "3"},
		},
		{
			name:  "null comparison",
			path:  "Employees",
			query: "$filter=RoomID eq null",
			sql:   `SELECT E1.* FROM "employees" AS E1 WHERE (E1."room_id" IS NULL)`,
		},
		{
			name:  "not null comparison",
			path:  "Employees",
			query: "$filter=null ne RoomID",
			sql:   `SELECT E1.* FROM "employees" AS E1 WHERE (E1."room_id" IS NOT NULL)`,
		},
		{
			name:  "negated member",
			path:  "Employees",
			query: "$filter=-Age lt -43",
			sql:   `SELECT E1.* FROM "employees" AS E1 WHERE ((-E1."age") < ?)`,
			args:  []any{int64(-43)},
		},
		{
			name:  "complex member",
			path:  "Employees",
			query: "$filter=Address/City eq 'Berlin'",
			sql:   `SELECT E1.* FROM "employees" AS E1 WHERE (E1."address_city" = ?)`,
			args:  []any{"Berlin"},
		},
		{
			name:  "not and function",
			path:  "Employees",
			query: "$filter=not startswith(Name,'Employee 1')",
			sql:   `SELECT E1.* FROM "employees" AS E1 WHERE NOT ((INSTR(E1."name", ?) = 1))`,
			args:  []any{"Employee 1"},
		},
		{
			name:  "swapped function arguments",
			path:  "Employees",
			query: "$filter=substringof('05',Name)",
			sql:   `SELECT E1.* FROM "employees" AS E1 WHERE (INSTR(E1."name", ?) > 0)`,
			args:  []any{"05"},
		},
		{
			name:  "arithmetic",
			path:  "Employees",
			query: "$filter=Age add 5 le 30",
			sql:   `SELECT E1.* FROM "employees" AS E1 WHERE ((E1."age" + ?) <= ?)`,
			args:  []any{int64(5), int64(30)},
		},
		{
			name:  "skip without top",
			path:  "Employees",
			query: "$skip=20",
			sql:   `SELECT E1.* FROM "employees" AS E1 LIMIT 2147483647 OFFSET 20`,
		},
		{
			name:  "expand does not join the main statement",
			path:  "Employees",
			query: "$expand=Room,Teams",
			sql:   `SELECT E1.* FROM "employees" AS E1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qc := build(t, r, tt.path, tt.query, Limits{})
			stmt := Render(qc, DialectSQLite)
			if stmt.SQL != tt.sql {
				t.Errorf("SQL =\n  %s\nwant\n  %s", stmt.SQL, tt.sql)
			}
			if len(stmt.Args) != len(tt.args) || (len(tt.args) > 0 && !reflect.DeepEqual(stmt.Args, tt.args)) {
				t.Errorf("args = %#v, want %#v", stmt.Args, tt.args)
			}
		})
	}
}

func TestRenderCount(t *testing.T) {
	r := newResolver(t)

	qc := build(t, r, "Employees", "$inlinecount=allpages&$top=3&$orderby=Name", Limits{})
	if got, want := RenderCount(qc, DialectSQLite, false).SQL, `SELECT COUNT(*) FROM "employees" AS E1`; got != want {
		t.Errorf("inline count = %s, want %s", got, want)
	}

	qc = build(t, r, "Employees/$count", "$top=3", Limits{})
	want := `SELECT COUNT(*) FROM (SELECT E1.* FROM "employees" AS E1 LIMIT 3) AS count_subquery`
	if got := RenderCount(qc, DialectSQLite, true).SQL; got != want {
		t.Errorf("count = %s, want %s", got, want)
	}

	qc = build(t, r, "Employees/$count", "$filter=Age gt 30", Limits{PageSize: 10})
	want = `SELECT COUNT(*) FROM "employees" AS E1 WHERE (E1."age" > ?)`
	if got := RenderCount(qc, DialectSQLite, true).SQL; got != want {
		t.Errorf("count without paging = %s, want %s", got, want)
	}
}

func TestRenderPage(t *testing.T) {
	r := newResolver(t)

	qc := build(t, r, "Employees", "$orderby=ID&$skiptoken=10", Limits{PageSize: 10})
	want := `SELECT E1.* FROM "employees" AS E1 ORDER BY E1."id" ASC LIMIT 11 OFFSET 10`
	if got := RenderPage(qc, DialectSQLite).SQL; got != want {
		t.Errorf("page = %s, want %s", got, want)
	}
}

func TestRenderDialects(t *testing.T) {
	r := newResolver(t)
	qc := build(t, r, "Employees", "$filter=startswith(Name,'E') and length(Name) gt 3", Limits{})

	tests := []struct {
		dialect string
		native  string
	}{
		{DialectSQLite, `SELECT E1.* FROM "employees" AS E1 WHERE ((INSTR(E1."name", ?) = 1) AND (LENGTH(E1."name") > ?))`},
		{DialectPostgres, `SELECT E1.* FROM "employees" AS E1 WHERE ((STRPOS(E1."name", $1) = 1) AND (LENGTH(E1."name") > $2))`},
		{DialectMySQL, "SELECT E1.* FROM `employees` AS E1 WHERE ((INSTR(E1.`name`, ?) = 1) AND (CHAR_LENGTH(E1.`name`) > ?))"},
	}
	for _, tt := range tests {
		if got := Render(qc, tt.dialect).Native(); got != tt.native {
			t.Errorf("%s:\n  %s\nwant\n  %s", tt.dialect, got, tt.native)
		}
	}
}

func TestRenderExpand(t *testing.T) {
	r := newResolver(t)
	qc := build(t, r, "Employees", "$expand=Room,Teams", Limits{})

	room := qc.Expand[0].Join
	if got := room.ParentColumns(); !reflect.DeepEqual(got, []string{"room_id"}) {
		t.Errorf("Room parent columns = %v", got)
	}
	stmt := RenderExpand(room, DialectSQLite, []any{"R1"})
	if want := `SELECT E2.* FROM "rooms" AS E2 WHERE E2."id" = ?`; stmt.SQL != want {
		t.Errorf("Room expand = %s, want %s", stmt.SQL, want)
	}

	teams := qc.Expand[1].Join
	if got := teams.ParentColumns(); !reflect.DeepEqual(got, []string{"id"}) {
		t.Errorf("Teams parent columns = %v", got)
	}
	stmt = RenderExpand(teams, DialectSQLite, []any{"3"})
	if want := `SELECT E3.* FROM "teams" AS E3 INNER JOIN "team_members" AS J1 ON E3."id" = J1."team_id" WHERE J1."employee_id" = ?`; stmt.SQL != want {
		t.Errorf("Teams expand = %s, want %s", stmt.SQL, want)
	}
}

func TestRenderScopes(t *testing.T) {
	r := newResolver(t)
	rp, opts, err := r.Resolve(uri.SplitPath("Rooms('R1')/Employees"), url.Values{"$filter": {"Age gt 30"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	qc, err := Build(rp, opts, Limits{}, scope.Where(`{alias}."age" < ?`, 40))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	stmt := Render(qc, DialectSQLite)
	if !strings.Contains(stmt.SQL, `(E2."age" < ?) AND (E2."age" > ?)`) {
		t.Errorf("scope not applied to the target alias: %s", stmt.SQL)
	}
	if !reflect.DeepEqual(stmt.Args, []any{"R1", 40, int64(30)}) {
		t.Errorf("args = %#v", stmt.Args)
	}
}

func TestStatementFingerprint(t *testing.T) {
	r := newResolver(t)
	a := Render(build(t, r, "Employees", "$filter=Age gt 30", Limits{}), DialectSQLite)
	b := Render(build(t, r, "Employees", "$filter=Age gt 40", Limits{}), DialectSQLite)
	c := Render(build(t, r, "Employees", "$filter=Age lt 40", Limits{}), DialectSQLite)

	if a.Fingerprint != b.Fingerprint {
		t.Error("statements differing only in arguments should share a fingerprint")
	}
	if a.Fingerprint == c.Fingerprint {
		t.Error("different statements should not share a fingerprint")
	}
	if len(a.FingerprintHex()) != 16 {
		t.Errorf("FingerprintHex() = %q", a.FingerprintHex())
	}
}

func countRows(t *testing.T, db *gorm.DB, stmt Statement) int {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB() failed: %v", err)
	}
	rows, err := sqlDB.Query(stmt.Native(), stmt.Args...)
	if err != nil {
		t.Fatalf("Query(%s) failed: %v", stmt.SQL, err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows failed: %v", err)
	}
	return n
}

func queryCount(t *testing.T, db *gorm.DB, stmt Statement) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(stmt.SQL, stmt.Args...).Scan(&n).Error; err != nil {
		t.Fatalf("Raw(%s) failed: %v", stmt.SQL, err)
	}
	return n
}

func TestRenderedStatementsRunOnSQLite(t *testing.T) {
	db := testmodel.OpenSeeded(t)
	r := newResolver(t)

	tests := []struct {
		path  string
		query string
		rows  int
	}{
		{"Employees", "", testmodel.EmployeeCount},
		{"Employees", "$filter=Age gt 30 and Room/Name eq 'Atlas'", 7},
		{"Employees", "$filter=Age gt 30", 15},
		{"Employees", "$filter=Age gt 30&$top=5&$skip=12", 3},
		{"Employees", "$filter=RoomID eq null", 1},
		{"Employees", "$filter=Address/City eq 'Berlin'", 13},
		{"Employees", "$filter=Room/Building/City eq 'Berlin'", 24},
		{"Employees", "$filter=startswith(Name,'Employee 1')", 10},
		{"Employees", "$filter=substringof('05',Name)", 1},
		{"Employees", "$filter=substringof('%25',Name)", 0},
		{"Employees", "$filter=startswith(Name,'Employee _1')", 0},
		{"Employees", "$filter=startswith(Name,'Employee %25')", 0},
		{"Employees", "$filter=endswith(Name,'_5')", 0},
		{"Employees", "$filter=endswith(Name,' 15')", 1},
		{"Employees", "$filter=endswith(Name,'')", testmodel.EmployeeCount},
		{"Employees", "$filter=startswith(Name,'')", testmodel.EmployeeCount},
		{"Employees", "$filter=indexof(Name,'0') eq 9", 9},
		{"Employees", "$filter=tolower(Name) eq 'employee 07'", 1},
		{"Employees", "$filter=year(HiredAt) eq 2020", testmodel.EmployeeCount},
		{"Employees", "$filter=Age add 5 le 30", 5},
		{"Employees", "$filter=Age mod 2 eq 0", 12},
		{"Employees", "$filter=-Age lt -43", 2},
		{"Employees", "$filter=-(Age sub 5) ge -25", 10},
		{"Employees", "$orderby=Room/Name,Name&$skip=20", 5},
		{"Employees('3')/Teams", "", 2},
		{"Employees('1')/Teams", "$filter=Name eq 'Ops'", 0},
		{"Rooms('R1')/Employees", "", 12},
		{"Teams(2L)/Members", "", 2},
		{"Employees('25')/Room", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.path+"?"+tt.query, func(t *testing.T) {
			qc := build(t, r, tt.path, tt.query, Limits{})
			if got := countRows(t, db, Render(qc, DialectSQLite)); got != tt.rows {
				t.Errorf("got %d rows, want %d", got, tt.rows)
			}
		})
	}
}

func TestRenderedCountsRunOnSQLite(t *testing.T) {
	db := testmodel.OpenSeeded(t)
	r := newResolver(t)

	qc := build(t, r, "Employees", "$filter=Age gt 30&$top=5&$inlinecount=allpages", Limits{})
	if got := queryCount(t, db, RenderCount(qc, DialectSQLite, false)); got != 15 {
		t.Errorf("inline count = %d, want 15", got)
	}

	qc = build(t, r, "Employees/$count", "$filter=Age gt 30&$top=5&$skip=12", Limits{})
	if got := queryCount(t, db, RenderCount(qc, DialectSQLite, true)); got != 3 {
		t.Errorf("paged count = %d, want 3", got)
	}

	qc = build(t, r, "Employees", "$expand=Teams", Limits{})
	if got := countRows(t, db, RenderExpand(qc.Expand[0].Join, DialectSQLite, []any{"3"})); got != 2 {
		t.Errorf("expanded teams of employee 3 = %d, want 2", got)
	}
}
