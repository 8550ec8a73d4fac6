// Package executor runs query plans against a persistence session.
package executor

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/persistence"
	"github.com/nlstn/go-odata-persist/internal/query"
)

// Row is one entity read from the backend together with its inline content.
type Row struct {
	// Entity is a pointer to a value of the entity type's Go struct.
	Entity any
	// Expanded maps a navigation property name to the related rows. To-one
	// navigations hold at most one row.
	Expanded map[string][]*Row
}

// Result is the outcome of a collection read.
type Result struct {
	Rows []*Row
	// InlineCount is set when $inlinecount=allpages was requested.
	InlineCount *int64
	// NextSkipToken is set when server-driven paging cut the result short.
	NextSkipToken string
}

// Executor runs statements rendered from a query plan.
type Executor struct {
	logger *slog.Logger
}

// New returns an executor logging to logger, or slog.Default when nil.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Execute reads the entity collection addressed by qc.
func (x *Executor) Execute(ctx context.Context, qc *query.Context, s persistence.Session) (*Result, error) {
	stmt := query.Render(qc, s.Dialect())
	if qc.Paged {
		stmt = query.RenderPage(qc, s.Dialect())
	}

	rows, err := x.fetch(ctx, s, stmt, qc.TargetType)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if qc.Paged && qc.Top != nil && len(rows) > *qc.Top {
		rows = rows[:*qc.Top]
		res.NextSkipToken = qc.NextSkipToken()
	}
	if err := x.expand(ctx, s, qc.TargetType, qc.Expand, rows); err != nil {
		return nil, err
	}
	res.Rows = rows

	if qc.CountRequested {
		n, err := x.count(ctx, s, query.RenderCount(qc, s.Dialect(), false))
		if err != nil {
			return nil, err
		}
		res.InlineCount = &n
	}
	return res, nil
}

// ExecuteOne reads the single entity addressed by qc. A missing entity is
// reported with found set to false and a nil error.
func (x *Executor) ExecuteOne(ctx context.Context, qc *query.Context, s persistence.Session) (row *Row, found bool, err error) {
	rows, err := x.fetch(ctx, s, query.Render(qc, s.Dialect()), qc.TargetType)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	rows = rows[:1]
	if err := x.expand(ctx, s, qc.TargetType, qc.Expand, rows); err != nil {
		return nil, false, err
	}
	return rows[0], true, nil
}

// ExecuteCount counts the entities addressed by qc, honoring $skip and $top.
func (x *Executor) ExecuteCount(ctx context.Context, qc *query.Context, s persistence.Session) (int64, error) {
	return x.count(ctx, s, query.RenderCount(qc, s.Dialect(), true))
}

func (x *Executor) log(ctx context.Context, stmt query.Statement) {
	x.logger.DebugContext(ctx, "executing statement",
		"sql", stmt.Native(),
		"args", stmt.Args,
		"fingerprint", stmt.FingerprintHex())
}

func (x *Executor) count(ctx context.Context, s persistence.Session, stmt query.Statement) (int64, error) {
	x.log(ctx, stmt)
	n, err := s.Count(ctx, stmt)
	if err != nil {
		return 0, statementError(err, stmt)
	}
	return n, nil
}

// fetch scans the rows of stmt into values of t's Go type.
func (x *Executor) fetch(ctx context.Context, s persistence.Session, stmt query.Statement, t *edm.EntityType) ([]*Row, error) {
	x.log(ctx, stmt)
	dest := reflect.New(reflect.SliceOf(reflect.PointerTo(t.GoType)))
	if err := s.Find(ctx, stmt, dest.Interface()); err != nil {
		return nil, statementError(err, stmt)
	}

	items := dest.Elem()
	rows := make([]*Row, items.Len())
	for i := range rows {
		rows[i] = &Row{Entity: items.Index(i).Interface()}
	}
	return rows, nil
}

// expand fetches the related rows of every node for every parent, one
// statement per parent and navigation.
func (x *Executor) expand(ctx context.Context, s persistence.Session, parentType *edm.EntityType, nodes []*query.ExpandNode, parents []*Row) error {
	for _, node := range nodes {
		j := node.Join
		columns := j.ParentColumns()
		for _, parent := range parents {
			if parent.Expanded == nil {
				parent.Expanded = make(map[string][]*Row)
			}

			values, ok := columnValues(parentType, parent.Entity, columns)
			if !ok {
				// A null foreign key has no related entity.
				parent.Expanded[j.Navigation.Name] = nil
				attach(parent.Entity, j.Navigation, nil)
				continue
			}

			children, err := x.fetch(ctx, s, query.RenderExpand(j, s.Dialect(), values), j.Type)
			if err != nil {
				return err
			}
			if !j.Navigation.ToMany() && len(children) > 1 {
				children = children[:1]
			}
			if err := x.expand(ctx, s, j.Type, node.Children, children); err != nil {
				return err
			}
			parent.Expanded[j.Navigation.Name] = children
			attach(parent.Entity, j.Navigation, children)
		}
	}
	return nil
}

// columnValues reads the values of the given columns from entity. It reports
// false when any of them is null.
func columnValues(t *edm.EntityType, entity any, columns []string) ([]any, bool) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}

	values := make([]any, 0, len(columns))
	for _, col := range columns {
		prop := propertyByColumn(t, col)
		if prop == nil {
			return nil, false
		}
		f, err := v.FieldByIndexErr(prop.Index)
		if err != nil {
			return nil, false
		}
		for f.Kind() == reflect.Ptr {
			if f.IsNil() {
				return nil, false
			}
			f = f.Elem()
		}
		values = append(values, f.Interface())
	}
	return values, true
}

func propertyByColumn(t *edm.EntityType, column string) *edm.Property {
	for _, p := range t.Properties {
		if p.Column == column {
			return p
		}
	}
	return nil
}

// attach stores the related rows in the navigation field of the parent struct
// when the field shape allows it.
func attach(entity any, nav *edm.NavigationProperty, children []*Row) {
	if len(nav.Index) == 0 {
		return
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return
	}
	f, err := v.Elem().FieldByIndexErr(nav.Index)
	if err != nil || !f.CanSet() {
		return
	}

	switch f.Kind() {
	case reflect.Slice:
		out := reflect.MakeSlice(f.Type(), 0, len(children))
		for _, c := range children {
			cv := reflect.ValueOf(c.Entity)
			if f.Type().Elem().Kind() != reflect.Ptr {
				cv = cv.Elem()
			}
			out = reflect.Append(out, cv)
		}
		f.Set(out)
	case reflect.Ptr:
		if len(children) == 0 {
			f.Set(reflect.Zero(f.Type()))
			return
		}
		f.Set(reflect.ValueOf(children[0].Entity))
	case reflect.Struct:
		if len(children) == 0 {
			f.Set(reflect.Zero(f.Type()))
			return
		}
		f.Set(reflect.ValueOf(children[0].Entity).Elem())
	}
}

func statementError(err error, stmt query.Statement) error {
	if _, ok := odataerr.As(err); ok {
		return err
	}
	return odataerr.Runtime(err, odataerr.KeyStatementFailed, stmt.FingerprintHex())
}
