package query

import (
	"strings"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// ExprKind classifies predicate tree nodes.
type ExprKind int

const (
	ExprProperty ExprKind = iota
	ExprValue
	ExprUnary
	ExprBinary
	ExprFunction
)

// PropertyRef is a leaf of the predicate tree: a property read through an alias.
type PropertyRef struct {
	Alias    string
	Property *edm.Property
	// Column includes the prefixes of enclosing embedded complex properties.
	Column string
	// Path is the member path as written, relative to the target.
	Path []string
}

// Expr is a typed, backend-neutral expression node.
type Expr struct {
	Kind     ExprKind
	Type     edm.SimpleKind
	Operator uri.Operator
	Property *PropertyRef
	// Value is nil for the null literal.
	Value    any
	Function string
	// Args holds the operands of unary, binary and function nodes.
	Args []*Expr
}

// IsNull reports whether e is the null literal.
func (e *Expr) IsNull() bool {
	return e.Kind == ExprValue && e.Type == edm.KindNull
}

// String renders the tree with aliases, for logs and tests.
func (e *Expr) String() string {
	switch e.Kind {
	case ExprProperty:
		return e.Property.Alias + "." + e.Property.Property.Name
	case ExprValue:
		if e.IsNull() {
			return "null"
		}
		return uri.FormatLiteral(e.Type, e.Value)
	case ExprUnary:
		if e.Operator == uri.OpNeg {
			return "-" + e.Args[0].String()
		}
		return string(e.Operator) + " " + e.Args[0].String()
	case ExprBinary:
		return "(" + e.Args[0].String() + " " + string(e.Operator) + " " + e.Args[1].String() + ")"
	case ExprFunction:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.String()
		}
		return e.Function + "(" + strings.Join(args, ",") + ")"
	}
	return ""
}

// translate binds a parsed expression to the schema.
func (c *Context) translate(e *uri.Expression) (*Expr, error) {
	switch e.Kind {
	case uri.ExprLiteral:
		return &Expr{Kind: ExprValue, Type: e.Literal.Kind, Value: e.Literal.Value}, nil
	case uri.ExprMember:
		ref, err := c.member(e.Member)
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: ExprProperty, Type: ref.Property.Kind, Property: ref}, nil
	case uri.ExprUnary:
		operand, err := c.translate(e.Left)
		if err != nil {
			return nil, err
		}
		if e.Operator == uri.OpNeg {
			if !operand.Type.IsNumeric() {
				return nil, odataerr.Semantic(odataerr.KeyTypeMismatch, string(e.Operator), string(operand.Type), string(edm.KindDecimal))
			}
			return &Expr{Kind: ExprUnary, Type: operand.Type, Operator: e.Operator, Args: []*Expr{operand}}, nil
		}
		if operand.Type != edm.KindBoolean {
			return nil, odataerr.Semantic(odataerr.KeyTypeMismatch, string(e.Operator), string(operand.Type), string(edm.KindBoolean))
		}
		return &Expr{Kind: ExprUnary, Type: edm.KindBoolean, Operator: e.Operator, Args: []*Expr{operand}}, nil
	case uri.ExprBinary:
		left, err := c.translate(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.translate(e.Right)
		if err != nil {
			return nil, err
		}
		return binary(e.Operator, left, right)
	case uri.ExprCall:
		args := make([]*Expr, len(e.Args))
		for i, a := range e.Args {
			x, err := c.translate(a)
			if err != nil {
				return nil, err
			}
			args[i] = x
		}
		return call(e.Function, args)
	}
	return nil, odataerr.Semantic(odataerr.KeyUnsupportedQuery, e.String())
}

// member resolves a member path against the target type. To-one navigation
// segments introduce joins; complex segments extend the column prefix.
func (c *Context) member(path []string) (*PropertyRef, error) {
	current := c.TargetType
	alias := c.Target
	var complexType *edm.ComplexType
	prefix := ""

	for i, name := range path {
		last := i == len(path)-1
		owner := current.Name.String()
		if complexType != nil {
			owner = complexType.Name.String()
		}

		var prop *edm.Property
		var cp *edm.ComplexProperty
		if complexType != nil {
			prop, cp = complexType.Property(name), complexType.ComplexProperty(name)
		} else {
			prop, cp = current.Property(name), current.ComplexProperty(name)
		}

		switch {
		case prop != nil:
			if !last {
				return nil, odataerr.Semantic(odataerr.KeyNotNavigable, path[i+1], owner)
			}
			return &PropertyRef{Alias: alias, Property: prop, Column: prefix + prop.Column, Path: path}, nil
		case cp != nil:
			if last || cp.Serialized || cp.Collection {
				return nil, odataerr.Semantic(odataerr.KeyNotComparable, strings.Join(path[:i+1], "/"), owner)
			}
			complexType = cp.Type
			prefix += cp.Prefix
		case complexType == nil:
			nav := current.NavigationProperty(name)
			if nav == nil {
				return nil, odataerr.Semantic(odataerr.KeyPropertyNotFound, name, owner)
			}
			if nav.ToMany() || last {
				return nil, odataerr.Semantic(odataerr.KeyNotComparable, strings.Join(path[:i+1], "/"), owner)
			}
			j := c.navigationJoin(strings.Join(path[:i+1], "/"), alias, nav, OriginExpression)
			j.Referenced = true
			alias = j.Alias
			current = nav.Target
		default:
			return nil, odataerr.Semantic(odataerr.KeyPropertyNotFound, name, owner)
		}
	}
	return nil, odataerr.Semantic(odataerr.KeyPropertyNotFound, strings.Join(path, "/"), c.TargetType.Name.String())
}

func mismatch(op string, left, right *Expr) error {
	return odataerr.Semantic(odataerr.KeyTypeMismatch, op, string(left.Type), string(right.Type))
}

func binary(op uri.Operator, left, right *Expr) (*Expr, error) {
	switch {
	case op.IsLogical():
		if left.Type != edm.KindBoolean || right.Type != edm.KindBoolean {
			return nil, mismatch(string(op), left, right)
		}
		return &Expr{Kind: ExprBinary, Type: edm.KindBoolean, Operator: op, Args: []*Expr{left, right}}, nil

	case op.IsComparison():
		if (left.IsNull() || right.IsNull()) && op != uri.OpEq && op != uri.OpNe {
			return nil, mismatch(string(op), left, right)
		}
		if err := unify(string(op), left, right); err != nil {
			return nil, err
		}
		return &Expr{Kind: ExprBinary, Type: edm.KindBoolean, Operator: op, Args: []*Expr{left, right}}, nil

	case op.IsArithmetic():
		if !left.Type.IsNumeric() || !right.Type.IsNumeric() {
			return nil, mismatch(string(op), left, right)
		}
		return &Expr{Kind: ExprBinary, Type: promote(left.Type, right.Type), Operator: op, Args: []*Expr{left, right}}, nil
	}
	return nil, odataerr.Semantic(odataerr.KeyUnsupportedQuery, string(op))
}

// unify makes the operands of a comparison comparable, coercing a literal to
// the kind of the other side.
func unify(op string, left, right *Expr) error {
	switch {
	case left.IsNull() || right.IsNull():
		return nil
	case left.Type == right.Type:
		return nil
	case left.Type.IsNumeric() && right.Type.IsNumeric():
		// Literals narrower than the other operand take its kind; wider
		// literals are compared by the backend.
		if right.Kind == ExprValue && numericRank[left.Type] >= numericRank[right.Type] {
			return coerce(op, right, left.Type, left)
		}
		if left.Kind == ExprValue && numericRank[right.Type] >= numericRank[left.Type] {
			return coerce(op, left, right.Type, right)
		}
		return nil
	case right.Kind == ExprValue:
		return coerce(op, right, left.Type, left)
	case left.Kind == ExprValue:
		return coerce(op, left, right.Type, right)
	}
	return mismatch(op, left, right)
}

func coerce(op string, lit *Expr, kind edm.SimpleKind, other *Expr) error {
	v, err := uri.Literal{Kind: lit.Type, Value: lit.Value}.Coerce(kind)
	if err != nil {
		return mismatch(op, other, lit)
	}
	lit.Type = kind
	lit.Value = v
	return nil
}

var numericRank = map[edm.SimpleKind]int{
	edm.KindByte:    1,
	edm.KindSByte:   1,
	edm.KindInt16:   2,
	edm.KindInt32:   3,
	edm.KindInt64:   4,
	edm.KindSingle:  5,
	edm.KindDouble:  6,
	edm.KindDecimal: 7,
}

func promote(a, b edm.SimpleKind) edm.SimpleKind {
	if numericRank[a] >= numericRank[b] {
		return a
	}
	return b
}

// signature describes the argument and result kinds of a function. An empty
// kind accepts any argument or returns the kind of the first argument.
type signature struct {
	args   []edm.SimpleKind
	result edm.SimpleKind
}

var (
	str = edm.KindString
	i32 = edm.KindInt32
)

var signatures = map[string]signature{
	"substringof": {[]edm.SimpleKind{str, str}, edm.KindBoolean},
	"startswith":  {[]edm.SimpleKind{str, str}, edm.KindBoolean},
	"endswith":    {[]edm.SimpleKind{str, str}, edm.KindBoolean},
	"length":      {[]edm.SimpleKind{str}, i32},
	"indexof":     {[]edm.SimpleKind{str, str}, i32},
	"replace":     {[]edm.SimpleKind{str, str, str}, str},
	"substring":   {[]edm.SimpleKind{str, i32, i32}, str},
	"tolower":     {[]edm.SimpleKind{str}, str},
	"toupper":     {[]edm.SimpleKind{str}, str},
	"trim":        {[]edm.SimpleKind{str}, str},
	"concat":      {[]edm.SimpleKind{str, str}, str},
	"year":        {[]edm.SimpleKind{edm.KindDateTime}, i32},
	"month":       {[]edm.SimpleKind{edm.KindDateTime}, i32},
	"day":         {[]edm.SimpleKind{edm.KindDateTime}, i32},
	"hour":        {[]edm.SimpleKind{edm.KindDateTime}, i32},
	"minute":      {[]edm.SimpleKind{edm.KindDateTime}, i32},
	"second":      {[]edm.SimpleKind{edm.KindDateTime}, i32},
	"round":       {[]edm.SimpleKind{""}, ""},
	"floor":       {[]edm.SimpleKind{""}, ""},
	"ceiling":     {[]edm.SimpleKind{""}, ""},
}

func call(name string, args []*Expr) (*Expr, error) {
	sig, ok := signatures[name]
	if !ok {
		return nil, odataerr.Syntax(odataerr.KeyUnknownFunction, name)
	}
	for i, a := range args {
		want := sig.args[i]
		switch {
		case want == "":
			if !a.Type.IsNumeric() {
				return nil, odataerr.Semantic(odataerr.KeyTypeMismatch, name, string(a.Type), string(edm.KindDouble))
			}
		case want == edm.KindDateTime:
			if !a.Type.IsTemporal() {
				return nil, odataerr.Semantic(odataerr.KeyTypeMismatch, name, string(a.Type), string(want))
			}
		case a.Type != want && !(want == i32 && a.Type.IsIntegral()):
			if a.Kind != ExprValue || a.IsNull() {
				return nil, odataerr.Semantic(odataerr.KeyTypeMismatch, name, string(a.Type), string(want))
			}
			if err := coerce(name, a, want, a); err != nil {
				return nil, err
			}
		}
	}
	result := sig.result
	if result == "" {
		result = args[0].Type
	}
	return &Expr{Kind: ExprFunction, Type: result, Function: name, Args: args}, nil
}
