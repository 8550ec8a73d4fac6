package uri

import (
	"reflect"
	"testing"

	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

func TestParseExpressionPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Age gt 30", "(Age gt 30)"},
		{"Age gt 30 and Name eq 'x' or Age lt 5", "(((Age gt 30) and (Name eq 'x')) or (Age lt 5))"},
		{"Age gt 30 and (Name eq 'x' or Age lt 5)", "((Age gt 30) and ((Name eq 'x') or (Age lt 5)))"},
		{"Age add 2 mul 3 eq 11", "((Age add (2 mul 3)) eq 11)"},
		{"not Age eq 1", "(not Age eq 1)"},
		{"Room/Building/City eq 'Berlin'", "(Room/Building/City eq 'Berlin')"},
		{"startswith(Name,'Emp') eq true", "(startswith(Name,'Emp') eq true)"},
		{"substring(Name, 1, 2) eq 'mp'", "(substring(Name,1,2) eq 'mp')"},
		{"year(HiredAt) ge 2020", "(year(HiredAt) ge 2020)"},
		{"Salary sub 10.5M gt -3", "((Salary sub 10.5M) gt -3)"},
		{"RoomID eq null", "(RoomID eq null)"},
		{"-Age lt -40", "(-Age lt -40)"},
		{"-(Age add 1) gt 0", "(-(Age add 1) gt 0)"},
		{"-Age mul 2 eq -Salary", "((-Age mul 2) eq -Salary)"},
		{"- -Age eq 3", "(--Age eq 3)"},
		{"not -Age lt 3", "(not -Age lt 3)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e, err := ParseExpression(tt.input)
			if err != nil {
				t.Fatalf("ParseExpression(%q) failed: %v", tt.input, err)
			}
			if got := e.String(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseExpressionNotBindsTighterThanComparison(t *testing.T) {
	e, err := ParseExpression("not Age eq 1")
	if err != nil {
		t.Fatalf("ParseExpression failed: %v", err)
	}
	if e.Kind != ExprBinary || e.Operator != OpEq {
		t.Fatalf("root = %s, want eq", e.Operator)
	}
	if e.Left.Kind != ExprUnary || e.Left.Operator != OpNot {
		t.Errorf("left = %s, want not", e.Left)
	}
}

func TestParseExpressionNegation(t *testing.T) {
	e, err := ParseExpression("-Age lt -40")
	if err != nil {
		t.Fatalf("ParseExpression failed: %v", err)
	}
	if e.Kind != ExprBinary || e.Operator != OpLt {
		t.Fatalf("root = %s, want lt", e.Operator)
	}
	if e.Left.Kind != ExprUnary || e.Left.Operator != OpNeg || e.Left.Left.Kind != ExprMember {
		t.Errorf("left = %s, want negated member", e.Left)
	}
	if e.Left.Pos != 0 {
		t.Errorf("left position = %d, want 0", e.Left.Pos)
	}
	if e.Right.Kind != ExprLiteral || e.Right.Literal.Value != int64(-40) {
		t.Errorf("right = %s, want literal -40", e.Right)
	}
}

func TestParseExpressionErrors(t *testing.T) {
	tests := []struct {
		input string
		key   odataerr.Key
	}{
		{"Age gt", odataerr.KeyUnexpectedToken},
		{"Age gt 30)", odataerr.KeyUnexpectedToken},
		{"(Age gt 30", odataerr.KeyUnexpectedToken},
		{"Name eq 'open", odataerr.KeyUnterminatedLiteral},
		{"frobnicate(Name)", odataerr.KeyUnknownFunction},
		{"startswith(Name)", odataerr.KeyArgumentCount},
		{"substring(Name,1,2,3)", odataerr.KeyArgumentCount},
		{"Age # 3", odataerr.KeyUnexpectedToken},
		{"Age - 3", odataerr.KeyUnexpectedToken},
		{"Age gt -", odataerr.KeyUnexpectedToken},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseExpression(tt.input)
			e, ok := odataerr.As(err)
			if !ok {
				t.Fatalf("ParseExpression(%q) error = %v, want odata error", tt.input, err)
			}
			if e.Kind != odataerr.KindSyntax || e.Key != tt.key {
				t.Errorf("error = %s/%s, want syntax/%s", e.Kind, e.Key, tt.key)
			}
		})
	}
}

func TestParseOrderBy(t *testing.T) {
	items, err := ParseOrderBy("Name desc, Age,Room/Name asc")
	if err != nil {
		t.Fatalf("ParseOrderBy failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	want := []struct {
		member string
		desc   bool
	}{{"Name", true}, {"Age", false}, {"Room/Name", false}}
	for i, w := range want {
		if items[i].Expression.String() != w.member || items[i].Descending != w.desc {
			t.Errorf("item %d = %s desc=%v, want %s desc=%v", i, items[i].Expression, items[i].Descending, w.member, w.desc)
		}
	}

	if _, err := ParseOrderBy("Name sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestParseSelectAndExpand(t *testing.T) {
	sel, err := ParseSelect("Name,Address/City,Room/*,*")
	if err != nil {
		t.Fatalf("ParseSelect failed: %v", err)
	}
	wantSel := []SelectItem{
		{Path: []string{"Name"}},
		{Path: []string{"Address", "City"}},
		{Path: []string{"Room"}, Star: true},
		{Star: true},
	}
	if !reflect.DeepEqual(sel, wantSel) {
		t.Errorf("ParseSelect = %+v, want %+v", sel, wantSel)
	}

	exp, err := ParseExpand("Room/Building, Teams")
	if err != nil {
		t.Fatalf("ParseExpand failed: %v", err)
	}
	wantExp := [][]string{{"Room", "Building"}, {"Teams"}}
	if !reflect.DeepEqual(exp, wantExp) {
		t.Errorf("ParseExpand = %v, want %v", exp, wantExp)
	}

	if _, err := ParseExpand("Room,"); err == nil {
		t.Error("expected error for trailing comma")
	}
}
