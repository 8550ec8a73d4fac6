package odata

import (
	"context"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/executor"
	"github.com/nlstn/go-odata-persist/internal/hooks"
	"github.com/nlstn/go-odata-persist/internal/observability"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/persistence"
	"github.com/nlstn/go-odata-persist/internal/projector"
	"github.com/nlstn/go-odata-persist/internal/query"
	"github.com/nlstn/go-odata-persist/internal/reqctx"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// ResourceKind classifies a resolved request path.
type ResourceKind = uri.ResourceKind

// Resource kinds
const (
	ResourceServiceDocument                 = uri.KindServiceDocument
	ResourceEntitySet                       = uri.KindEntitySet
	ResourceEntity                          = uri.KindEntity
	ResourceEntityCount                     = uri.KindEntityCount
	ResourceSingleEntityCount               = uri.KindSingleEntityCount
	ResourceComplexProperty                 = uri.KindComplexProperty
	ResourceSimpleProperty                  = uri.KindSimpleProperty
	ResourceSimplePropertyValue             = uri.KindSimplePropertyValue
	ResourceNavigationToOne                 = uri.KindNavigationToOne
	ResourceNavigationToMany                = uri.KindNavigationToMany
	ResourceLink                            = uri.KindLink
	ResourceLinks                           = uri.KindLinks
	ResourceLinksCount                      = uri.KindLinksCount
	ResourceMetadata                        = uri.KindMetadata
	ResourceBatch                           = uri.KindBatch
	ResourceFunctionImportEntity            = uri.KindFunctionImportEntity
	ResourceFunctionImportEntities          = uri.KindFunctionImportEntities
	ResourceFunctionImportComplex           = uri.KindFunctionImportComplex
	ResourceFunctionImportComplexCollection = uri.KindFunctionImportComplexCollection
	ResourceFunctionImportSimple            = uri.KindFunctionImportSimple
	ResourceFunctionImportSimpleCollection  = uri.KindFunctionImportSimpleCollection
)

// Request is one request to process.
type Request struct {
	// Segments are the path segments below the service root, such as
	// []string{"Employees('1')", "Room"}.
	Segments []string
	Query    url.Values
	// BaseURI is the service root used for entity URIs. Relative URIs are
	// produced when it is empty.
	BaseURI string
	// Locale is an Accept-Language style value for error messages.
	Locale string
}

// Result is the outcome of a request. Which fields are set depends on Kind.
type Result struct {
	Kind ResourceKind
	// EntitySet names the entity set of the addressed entities.
	EntitySet string

	// Entries holds the entities of collection kinds.
	Entries []*Entry
	// Entry holds the entity of single entity kinds.
	Entry *Entry
	// NotFound is set when a single resource matched no row. It is not an error.
	NotFound bool

	// Count is set for $count requests.
	Count *int64
	// InlineCount is set when $inlinecount=allpages was requested.
	InlineCount *int64
	// NextSkipToken is set when server-driven paging cut the collection short.
	NextSkipToken string

	// Value holds property values and the results of complex or primitive
	// function imports: a primitive value, a PropertyValueMap, or a slice of them.
	Value any
	// Raw is set for $value requests.
	Raw bool
	// Links holds entity URIs for $links requests.
	Links []string

	// Format and CustomOptions pass $format and the custom query options through.
	Format        string
	CustomOptions map[string]string

	// Container is set for service and metadata documents.
	Container *EntityContainer
	// Schema is set for metadata documents.
	Schema *Schema
}

// ProcessPath processes a raw path below the service root and a raw query
// string, for example "Employees('1')/Room" and "$expand=Building".
func (s *Service) ProcessPath(ctx context.Context, path, rawQuery string) (*Result, error) {
	unescaped, err := url.PathUnescape(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, odataerr.Syntax(odataerr.KeyMalformedSegment, path, err.Error())
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, odataerr.Syntax(odataerr.KeyInvalidOptionValue, rawQuery, "query")
	}
	return s.Process(ctx, Request{Segments: uri.SplitPath(unescaped), Query: values})
}

// Process runs the pipeline for req: resolve and validate the path and
// options, call the before-read hooks, build the query plan, then execute and
// project it on a fresh persistence session that is closed before Process
// returns. The first failing stage ends processing.
func (s *Service) Process(ctx context.Context, req Request) (result *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = withRequest(ctx, req)

	ctx, span := s.telemetry().Tracer().StartRequest(ctx, strings.Join(req.Segments, "/"))
	entitySet := ""
	defer func() {
		metrics := s.telemetry().Metrics()
		if err != nil {
			observability.RecordError(span, err, odataerr.KindOf(err).String())
			metrics.RecordFailure(ctx, entitySet, odataerr.KindOf(err).String())
			s.currentLogger().Debug("Request failed", "path", strings.Join(req.Segments, "/"), "error", err)
		} else if result != nil {
			metrics.RecordRows(ctx, entitySet, len(result.Entries))
		}
		span.End()
	}()

	var path *uri.ResourcePath
	var opts *uri.QueryOptions
	err = s.stage(ctx, observability.StageResolve, func(context.Context) error {
		var resolveErr error
		path, opts, resolveErr = s.resolverFor().Resolve(req.Segments, req.Query)
		return resolveErr
	})
	if err != nil {
		return nil, err
	}
	if set := path.TargetEntitySet(); set != nil {
		entitySet = set.Name
	}
	s.telemetry().Metrics().RecordRequest(ctx, entitySet, path.Kind.String())

	result = &Result{
		Kind:          path.Kind,
		EntitySet:     entitySet,
		Format:        opts.Format,
		CustomOptions: opts.Custom,
	}

	switch path.Kind {
	case uri.KindServiceDocument, uri.KindMetadata:
		result.Container = path.Container
		if result.Container == nil {
			if result.Container, err = s.Schema().DefaultEntityContainer(); err != nil {
				return nil, err
			}
		}
		if path.Kind == uri.KindMetadata {
			result.Schema = s.Schema()
		}
		return result, nil
	case uri.KindBatch:
		return nil, odataerr.Semantic(odataerr.KeyUnsupportedQuery, path.Kind.String())
	}

	if path.FunctionImport != nil {
		err = s.withSession(ctx, func(ctx context.Context, _ persistence.Session) error {
			return s.stage(ctx, observability.StageExecute, func(ctx context.Context) error {
				return s.callFunction(ctx, path, opts, result)
			})
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	set := path.TargetEntitySet()
	hookSet := hooks.Discover(set.Type.GoType)
	single := !path.TargetIsCollection()

	var scopes []QueryScope
	err = s.stage(ctx, observability.StageHooks, func(ctx context.Context) error {
		var hookErr error
		scopes, hookErr = hookSet.BeforeRead(ctx, single, opts)
		return hookErr
	})
	if err != nil {
		return nil, err
	}

	var qc *query.Context
	err = s.stage(ctx, observability.StageBuild, func(context.Context) error {
		var buildErr error
		qc, buildErr = query.Build(path, opts, s.limits(), scopes...)
		return buildErr
	})
	if err != nil {
		return nil, err
	}

	err = s.withSession(ctx, func(ctx context.Context, session persistence.Session) error {
		return s.read(ctx, path, opts, qc, session, hookSet, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// stage runs fn inside a span, a Server-Timing metric and a duration
// measurement for st.
func (s *Service) stage(ctx context.Context, st observability.Stage, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.telemetry().Tracer().StartStage(ctx, st)
	var timing *ServerTimingMetric
	if s.telemetry().ServerTimingEnabled() {
		timing = observability.StartServerTiming(ctx, string(st))
	}

	err := fn(ctx)

	timing.Stop()
	s.telemetry().Metrics().RecordStage(ctx, st, time.Since(start))
	observability.RecordError(span, err, odataerr.KindOf(err).String())
	span.End()
	return err
}

// withSession opens the persistence session of the request, runs fn with the
// session stored in ctx and closes the session whatever fn returns.
func (s *Service) withSession(ctx context.Context, fn func(context.Context, persistence.Session) error) error {
	session, err := s.opener.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			s.currentLogger().Warn("Failed to close persistence session", "error", closeErr)
		}
	}()
	return fn(reqctx.WithSession(ctx, session.DB()), session)
}

func (s *Service) read(ctx context.Context, path *uri.ResourcePath, opts *uri.QueryOptions, qc *query.Context, session persistence.Session, hookSet hooks.Set, result *Result) error {
	set := path.TargetEntitySet()

	switch path.Kind {
	case uri.KindEntityCount, uri.KindSingleEntityCount, uri.KindLinksCount:
		return s.stage(ctx, observability.StageExecute, func(ctx context.Context) error {
			n, err := s.currentExecutor().ExecuteCount(ctx, qc, session)
			if err == nil {
				result.Count = &n
			}
			return err
		})

	case uri.KindEntitySet, uri.KindNavigationToMany, uri.KindLinks:
		var res *executor.Result
		err := s.stage(ctx, observability.StageExecute, func(ctx context.Context) error {
			var execErr error
			res, execErr = s.currentExecutor().Execute(ctx, qc, session)
			return execErr
		})
		if err != nil {
			return err
		}
		result.InlineCount = res.InlineCount
		result.NextSkipToken = res.NextSkipToken

		rows := res.Rows
		if path.Kind != uri.KindLinks {
			if rows, err = afterReadCollection(ctx, hookSet, opts, set.Type, rows); err != nil {
				return err
			}
		}
		return s.stage(ctx, observability.StageProject, func(ctx context.Context) error {
			if path.Kind == uri.KindLinks {
				var err error
				result.Links, err = links(ctx, rows, set)
				return err
			}
			entries, err := projectRows(ctx, rows, set, path.Container, qc.Select)
			result.Entries = entries
			return err
		})

	default:
		var row *executor.Row
		var found bool
		err := s.stage(ctx, observability.StageExecute, func(ctx context.Context) error {
			var execErr error
			row, found, execErr = s.currentExecutor().ExecuteOne(ctx, qc, session)
			return execErr
		})
		if err != nil {
			return err
		}
		if !found {
			result.NotFound = true
			return nil
		}
		return s.stage(ctx, observability.StageProject, func(ctx context.Context) error {
			return s.projectOne(ctx, path, opts, qc, row, hookSet, result)
		})
	}
}

func (s *Service) projectOne(ctx context.Context, path *uri.ResourcePath, opts *uri.QueryOptions, qc *query.Context, row *executor.Row, hookSet hooks.Set, result *Result) error {
	set := path.TargetEntitySet()

	switch path.Kind {
	case uri.KindLink:
		link, err := projector.Link(ctx, row.Entity, set)
		if err != nil {
			return err
		}
		result.Links = []string{link}
		return nil

	case uri.KindComplexProperty, uri.KindSimpleProperty, uri.KindSimplePropertyValue:
		value, err := projector.ProjectPath(row.Entity, set.Type, path.Properties)
		if err != nil {
			return err
		}
		result.Value = value
		result.Raw = path.Kind == uri.KindSimplePropertyValue
		return nil
	}

	if override, ok, err := hookSet.AfterRead(ctx, true, opts, row.Entity); err != nil {
		return err
	} else if ok {
		row = &executor.Row{Entity: override, Expanded: row.Expanded}
	}
	entry, err := projector.ProjectRow(ctx, row, set, path.Container, qc.Select)
	if err != nil {
		return err
	}
	result.Entry = entry
	return nil
}

// afterReadCollection passes the entities to the after-read hook as a []*T
// and turns a replacement slice back into rows. Rows of entities that survive
// the replacement keep their inline content.
func afterReadCollection(ctx context.Context, hookSet hooks.Set, opts *uri.QueryOptions, t *edm.EntityType, rows []*executor.Row) ([]*executor.Row, error) {
	if !hookSet.HasAfterReadCollection {
		return rows, nil
	}
	entities := reflect.MakeSlice(reflect.SliceOf(reflect.PointerTo(t.GoType)), 0, len(rows))
	byEntity := make(map[any]*executor.Row, len(rows))
	for _, r := range rows {
		entities = reflect.Append(entities, reflect.ValueOf(r.Entity))
		byEntity[r.Entity] = r
	}

	override, ok, err := hookSet.AfterRead(ctx, false, opts, entities.Interface())
	if err != nil || !ok {
		return rows, err
	}
	replaced, err := entitySlice(override, t.Name.String())
	if err != nil {
		return nil, err
	}
	out := make([]*executor.Row, len(replaced))
	for i, e := range replaced {
		if r, ok := byEntity[e]; ok {
			out[i] = r
			continue
		}
		out[i] = &executor.Row{Entity: e}
	}
	return out, nil
}

// entitySlice returns the elements of a slice as pointers. Nil elements are
// dropped.
func entitySlice(v any, typeName string) ([]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, odataerr.Runtime(nil, odataerr.KeyUnexpectedRowType, rv.Type().String(), typeName)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i)
		if item.Kind() == reflect.Interface {
			item = item.Elem()
		}
		if !item.IsValid() || (item.Kind() == reflect.Ptr && item.IsNil()) {
			continue
		}
		if item.Kind() != reflect.Ptr {
			if !item.CanAddr() {
				copied := reflect.New(item.Type())
				copied.Elem().Set(item)
				item = copied.Elem()
			}
			item = item.Addr()
		}
		out = append(out, item.Interface())
	}
	return out, nil
}

func projectRows(ctx context.Context, rows []*executor.Row, set *edm.EntitySet, container *edm.EntityContainer, selection []uri.SelectItem) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(rows))
	for _, r := range rows {
		e, err := projector.ProjectRow(ctx, r, set, container, selection)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func links(ctx context.Context, rows []*executor.Row, set *edm.EntitySet) ([]string, error) {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		link, err := projector.Link(ctx, r.Entity, set)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, nil
}
