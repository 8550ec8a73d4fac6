// Package odata provides the query core of an OData V2 service over GORM
// models. Requests are resolved against a schema derived from the registered
// models, checked against the query options each resource kind permits,
// compiled into an aliased query plan, executed on one persistence session
// per request and projected into property maps a serializer can write.
//
// Transport, wire formats and authentication stay with the caller.
//
// # Read Hooks
//
// Entity types can optionally implement hook methods to customize queries.
// All hook methods are optional and are discovered via reflection; there is no
// interface to implement.
//
//	func (e Employee) ODataBeforeReadCollection(ctx context.Context, opts *odata.QueryOptions) ([]odata.QueryScope, error)
//	func (e Employee) ODataBeforeReadEntity(ctx context.Context, opts *odata.QueryOptions) ([]odata.QueryScope, error)
//	func (e Employee) ODataAfterReadCollection(ctx context.Context, opts *odata.QueryOptions, results any) (any, error)
//	func (e Employee) ODataAfterReadEntity(ctx context.Context, opts *odata.QueryOptions, entity any) (any, error)
//
// Before* read hooks return QueryScope values, SQL conditions that are added
// to the query of the addressed entities before $filter, $orderby, $top and
// $skip apply. Use them for authorization filters. The placeholder {alias}
// in a condition is replaced with the alias of the addressed entities.
//
// After* read hooks receive the entities that were read, a []*T for
// collections and a *T for single entities, and may return a replacement.
// Returning nil keeps the original result. Errors from any hook abort the
// request.
//
// The persistence session of the request is available to hooks and function
// import handlers through SessionFromContext.
package odata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/executor"
	"github.com/nlstn/go-odata-persist/internal/metadata"
	"github.com/nlstn/go-odata-persist/internal/observability"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/persistence"
	"github.com/nlstn/go-odata-persist/internal/projector"
	"github.com/nlstn/go-odata-persist/internal/query"
	"github.com/nlstn/go-odata-persist/internal/reqctx"
	"github.com/nlstn/go-odata-persist/internal/scope"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// QueryScope represents a SQL condition that read hooks add to the query of
// the addressed entities.
type QueryScope = scope.QueryScope

// QueryOptions holds the parsed query string of a request.
type QueryOptions = uri.QueryOptions

// PropertyValueMap maps property names to values converted to their EDM kinds.
type PropertyValueMap = projector.PropertyValueMap

// Entry is a projected entity with its metadata and inline content.
type Entry = projector.Entry

// Schema is the EDM schema derived from the registered models.
type Schema = edm.Schema

// EntityContainer groups the entity sets, association sets and function
// imports of the schema.
type EntityContainer = edm.EntityContainer

// Service processes OData requests against a set of registered GORM models.
type Service struct {
	cfg      ServiceConfig
	db       *gorm.DB
	opener   persistence.Opener
	provider *metadata.GormProvider

	// mu guards the fields below.
	mu       sync.Mutex
	executor *executor.Executor
	// logger is used for structured logging throughout the service
	logger *slog.Logger
	// observability holds the observability configuration (tracing, metrics)
	observability *observability.Config
	schema        *edm.Schema
	resolver      *uri.Resolver
	functions     []FunctionImport
	handlers      map[string]FunctionHandler
}

// NewService creates a service over db with the default configuration.
func NewService(db *gorm.DB) (*Service, error) {
	return NewServiceWithConfig(db, ServiceConfig{})
}

// NewServiceWithConfig creates a service over db. Zero values in cfg are
// replaced by their defaults.
func NewServiceWithConfig(db *gorm.DB, cfg ServiceConfig) (*Service, error) {
	if db == nil {
		return nil, odataerr.Runtime(nil, odataerr.KeyDatabaseRequired)
	}
	cfg = cfg.withDefaults()
	logger := slog.Default()

	return &Service{
		cfg:      cfg,
		db:       db,
		opener:   persistence.NewGormOpener(db),
		provider: metadata.NewGormProvider(cfg.Namespace, db.NamingStrategy),
		executor: executor.New(logger),
		logger:   logger,
		handlers: make(map[string]FunctionHandler),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// RegisterEntity adds a GORM model as an entity type. Models must be
// registered before the schema is first used.
func (s *Service) RegisterEntity(entity any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema != nil {
		return odataerr.Semantic(odataerr.KeySchemaSealed, fmt.Sprintf("%T", entity))
	}
	return s.provider.Register(entity)
}

// RegisterComplexType adds a struct as a complex type. Complex types reachable
// from registered entities are discovered automatically; explicit
// registration is only needed for function import results.
func (s *Service) RegisterComplexType(value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema != nil {
		return odataerr.Semantic(odataerr.KeySchemaSealed, fmt.Sprintf("%T", value))
	}
	return s.provider.RegisterComplex(value)
}

// SetLogger sets a custom logger for the service.
// If logger is nil, slog.Default() is used. SetLogger is safe to call while
// requests are processed; a schema that is already built logs the elements
// it builds later through the new logger.
//
// # Example
//
//	if err := service.SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil))); err != nil {
//	    log.Fatal(err)
//	}
func (s *Service) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	s.executor = executor.New(logger)
	if s.schema != nil {
		s.schema.SetLogger(logger)
	}
	return nil
}

func (s *Service) currentLogger() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

func (s *Service) currentExecutor() *executor.Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executor
}

func (s *Service) telemetry() *observability.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observability
}

// Schema returns the schema of the service, building it on first use. After
// the first call no further models or function imports can be registered.
func (s *Service) Schema() *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealLocked()
}

func (s *Service) sealLocked() *edm.Schema {
	if s.schema != nil {
		return s.schema
	}
	defs := make([]edm.FunctionImportDefinition, len(s.functions))
	for i, f := range s.functions {
		defs[i] = f.definition()
	}
	s.schema = edm.NewSchema(s.provider, edm.Config{
		ContainerName:             s.cfg.ContainerName,
		StrictNavigation:          s.cfg.StrictNavigation,
		DistinctEmptyContainerKey: s.cfg.DistinctEmptyContainerKey,
		FunctionImports:           defs,
		Logger:                    s.logger,
	})
	s.resolver = uri.NewResolver(s.schema)
	return s.schema
}

func (s *Service) resolverFor() *uri.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealLocked()
	return s.resolver
}

// Validate builds the default entity container and every entity type, so
// model errors surface before the first request.
func (s *Service) Validate() error {
	schema := s.Schema()
	if _, err := schema.DefaultEntityContainer(); err != nil {
		return err
	}
	if _, err := schema.EntityTypes(); err != nil {
		return err
	}
	return nil
}

// Project converts entity, an instance of the entity type of entitySet, into
// a PropertyValueMap.
func (s *Service) Project(ctx context.Context, entity any, entitySet string) (PropertyValueMap, error) {
	container, err := s.Schema().DefaultEntityContainer()
	if err != nil {
		return nil, err
	}
	set := container.EntitySet(entitySet)
	if set == nil {
		return nil, odataerr.Syntax(odataerr.KeySegmentNotFound, entitySet, 0)
	}
	return projector.Project(ctx, entity, set.Type, nil)
}

func (s *Service) limits() query.Limits {
	return query.Limits{
		PageSize:       s.cfg.PageSize,
		MaxTop:         s.cfg.MaxTop,
		MaxExpandDepth: s.cfg.MaxExpandDepth,
	}
}

// withRequest stores the request-scoped values in ctx.
func withRequest(ctx context.Context, req Request) context.Context {
	if req.BaseURI != "" {
		ctx = reqctx.WithBaseURI(ctx, req.BaseURI)
	}
	if req.Locale != "" {
		ctx = reqctx.WithLocale(ctx, reqctx.ParseLocale(req.Locale))
	}
	return ctx
}
