package query

import (
	"net/url"
	"reflect"
	"testing"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/metadata"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/testmodel"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

func newResolver(t *testing.T) *uri.Resolver {
	t.Helper()
	p := metadata.NewGormProvider(testmodel.Namespace, nil)
	for _, m := range testmodel.Models() {
		if err := p.Register(m); err != nil {
			t.Fatalf("Register(%T) failed: %v", m, err)
		}
	}
	return uri.NewResolver(edm.NewSchema(p, edm.Config{}))
}

// build resolves path and query and builds the query context.
func build(t *testing.T, r *uri.Resolver, path, query string, limits Limits) *Context {
	t.Helper()
	qc, err := tryBuild(t, r, path, query, limits)
	if err != nil {
		t.Fatalf("Build(%s?%s) failed: %v", path, query, err)
	}
	return qc
}

func tryBuild(t *testing.T, r *uri.Resolver, path, query string, limits Limits) (*Context, error) {
	t.Helper()
	values, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery(%q) failed: %v", query, err)
	}
	rp, opts, err := r.Resolve(uri.SplitPath(path), values)
	if err != nil {
		t.Fatalf("Resolve(%s?%s) failed: %v", path, query, err)
	}
	return Build(rp, opts, limits)
}

func TestBuildAliasesAreDeterministic(t *testing.T) {
	r := newResolver(t)

	first := build(t, r, "Employees('1')/Room", "$expand=Building", Limits{})
	second := build(t, r, "Employees('1')/Room", "$expand=Building", Limits{})

	want := []string{"E1", "E2", "E3"}
	if got := first.Aliases(); !reflect.DeepEqual(got, want) {
		t.Errorf("aliases = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(first.Aliases(), second.Aliases()) {
		t.Errorf("rebuild changed aliases: %v vs %v", first.Aliases(), second.Aliases())
	}
	if first.Target != "E2" || first.TargetType.Name.Name != "Room" {
		t.Errorf("target = %s (%s)", first.Target, first.TargetType.Name)
	}
	if alias, ok := first.AliasFor("Building"); !ok || alias != "E3" {
		t.Errorf("AliasFor(Building) = %q, %v", alias, ok)
	}
	if Render(first, DialectSQLite).SQL != Render(second, DialectSQLite).SQL {
		t.Error("rebuild changed the rendered statement")
	}
}

func TestBuildAliasOrder(t *testing.T) {
	r := newResolver(t)

	qc := build(t, r, "Rooms('R1')/Employees", "$expand=Teams,Room/Building&$filter=Room/Name eq 'Atlas'&$orderby=Room/Building/Name", Limits{})

	tests := []struct {
		path   string
		alias  string
		origin JoinOrigin
	}{
		{"Teams", "E3", OriginExpand},
		{"Room", "E4", OriginExpand},
		{"Room/Building", "E5", OriginExpand},
	}
	for _, tt := range tests {
		alias, ok := qc.AliasFor(tt.path)
		if !ok || alias != tt.alias {
			t.Errorf("AliasFor(%s) = %q, want %s", tt.path, alias, tt.alias)
			continue
		}
		if j := qc.Join(alias); j.Origin != tt.origin {
			t.Errorf("%s origin = %v, want %v", tt.path, j.Origin, tt.origin)
		}
	}
	if j := qc.Join("E4"); !j.Expanded || !j.Referenced {
		t.Errorf("Room join expanded=%v referenced=%v, want both", j.Expanded, j.Referenced)
	}
	if len(qc.Joins) != 4 {
		t.Errorf("got %d joins, want 4 (filter and orderby reuse expand aliases)", len(qc.Joins))
	}
	if len(qc.Expand) != 2 || len(qc.Expand[1].Children) != 1 {
		t.Errorf("expand tree = %+v", qc.Expand)
	}
}

func TestBuildPagination(t *testing.T) {
	r := newResolver(t)

	qc := build(t, r, "Employees", "$top=5&$skip=10&$inlinecount=allpages", Limits{})
	if qc.Skip != 10 || qc.Top == nil || *qc.Top != 5 || !qc.CountRequested {
		t.Errorf("skip=%d top=%v count=%v", qc.Skip, qc.Top, qc.CountRequested)
	}
	if qc.Paged {
		t.Error("no page size configured, expected Paged=false")
	}

	qc = build(t, r, "Employees", "$skip=2&$skiptoken=10", Limits{PageSize: 10})
	if qc.Skip != 12 || *qc.Top != 10 || !qc.Paged {
		t.Errorf("skip=%d top=%d paged=%v", qc.Skip, *qc.Top, qc.Paged)
	}
	if got := qc.NextSkipToken(); got != "20" {
		t.Errorf("NextSkipToken() = %q, want 20", got)
	}

	qc = build(t, r, "Employees", "$top=3", Limits{PageSize: 10})
	if *qc.Top != 3 || qc.Paged {
		t.Errorf("top=%d paged=%v, want 3 unpaged", *qc.Top, qc.Paged)
	}

	qc = build(t, r, "Employees('1')", "", Limits{PageSize: 10})
	if qc.Top != nil || !qc.Single {
		t.Errorf("single entity got top=%v single=%v", qc.Top, qc.Single)
	}
}

func TestBuildErrors(t *testing.T) {
	r := newResolver(t)

	tests := []struct {
		name   string
		path   string
		query  string
		limits Limits
		kind   odataerr.Kind
		key    odataerr.Key
	}{
		{"unknown property", "Employees", "$filter=Desk eq 1", Limits{}, odataerr.KindSemantic, odataerr.KeyPropertyNotFound},
		{"to-many member", "Employees", "$filter=Teams/Name eq 'Core'", Limits{}, odataerr.KindSemantic, odataerr.KeyNotComparable},
		{"navigation as value", "Employees", "$orderby=Room", Limits{}, odataerr.KindSemantic, odataerr.KeyNotComparable},
		{"complex as value", "Employees", "$filter=Address eq 'x'", Limits{}, odataerr.KindSemantic, odataerr.KeyNotComparable},
		{"property path through simple", "Employees", "$filter=Name/Length eq 1", Limits{}, odataerr.KindSemantic, odataerr.KeyNotNavigable},
		{"literal of wrong kind", "Employees", "$filter=Name eq 5", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"non boolean filter", "Employees", "$filter=Age add 1", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"logical over numbers", "Employees", "$filter=Age and true", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"negated string", "Employees", "$filter=-Name eq 'x'", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"negated boolean", "Employees", "$filter=-(Age gt 1)", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"not over number", "Employees", "$filter=not -Age lt 3", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"ordering against null", "Employees", "$filter=Age gt null", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"string function on number", "Employees", "$filter=length(Age) eq 1", Limits{}, odataerr.KindSemantic, odataerr.KeyTypeMismatch},
		{"unknown expand", "Employees", "$expand=Desk", Limits{}, odataerr.KindSemantic, odataerr.KeyNotNavigable},
		{"expand too deep", "Employees", "$expand=Room/Building", Limits{MaxExpandDepth: 1}, odataerr.KindSemantic, odataerr.KeyExpandDepth},
		{"top above maximum", "Employees", "$top=500", Limits{MaxTop: 100}, odataerr.KindSyntax, odataerr.KeyInvalidOptionValue},
		{"bad skiptoken", "Employees", "$skiptoken=abc", Limits{}, odataerr.KindSyntax, odataerr.KeyInvalidOptionValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tryBuild(t, r, tt.path, tt.query, tt.limits)
			e, ok := odataerr.As(err)
			if !ok {
				t.Fatalf("Build() error = %v, want odata error", err)
			}
			if e.Kind != tt.kind || e.Key != tt.key {
				t.Errorf("error = %s/%s (%v), want %s/%s", e.Kind, e.Key, e, tt.kind, tt.key)
			}
		})
	}
}

func TestBuildRejectsDocumentKinds(t *testing.T) {
	r := newResolver(t)
	rp, err := r.ResolvePath([]string{"$metadata"})
	if err != nil {
		t.Fatalf("ResolvePath failed: %v", err)
	}
	if _, err := Build(rp, nil, Limits{}); odataerr.KindOf(err) != odataerr.KindSemantic {
		t.Errorf("Build($metadata) error = %v, want semantic", err)
	}
}

func TestFilterTreeLeaves(t *testing.T) {
	r := newResolver(t)

	qc := build(t, r, "Employees", "$filter=Address/City eq 'Berlin' and Room/Building/City ne 'Paris'", Limits{})
	if got, want := qc.Filter.String(), "((E1.City eq 'Berlin') and (E3.City ne 'Paris'))"; got != want {
		t.Errorf("filter = %s, want %s", got, want)
	}
	left := qc.Filter.Args[0].Args[0].Property
	if left.Column != "address_city" || left.Alias != "E1" {
		t.Errorf("complex leaf = %+v", left)
	}
	if alias, _ := qc.AliasFor("Room"); alias != "E2" {
		t.Errorf("Room alias = %s, want E2", alias)
	}
}

func TestFilterNegation(t *testing.T) {
	r := newResolver(t)

	qc := build(t, r, "Employees", "$filter=-Age lt -43 and -(Age mul 2) le -90", Limits{})
	if got, want := qc.Filter.String(), "((-E1.Age lt -43L) and (-(E1.Age mul 2) le -90L))"; got != want {
		t.Errorf("filter = %s, want %s", got, want)
	}
	for i, side := range qc.Filter.Args {
		neg := side.Args[0]
		if neg.Kind != ExprUnary || neg.Operator != uri.OpNeg || neg.Type != edm.KindInt64 {
			t.Errorf("operand %d = %s of %s, want negation of Edm.Int64", i, neg, neg.Type)
		}
	}
}
