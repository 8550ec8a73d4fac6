// Package persistence provides the per-request persistence session the query
// executor reads through.
package persistence

import (
	"context"
	"fmt"
	"sync/atomic"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/query"
)

// Session is a read session over the persistence backend. A session serves
// exactly one request and is closed when the request completes.
type Session interface {
	// Find runs stmt and scans the rows into dest, a pointer to a slice.
	Find(ctx context.Context, stmt query.Statement, dest any) error
	// Count runs a COUNT statement and returns its single value.
	Count(ctx context.Context, stmt query.Statement) (int64, error)
	// DB returns the GORM handle of the session, for hooks and function imports.
	DB() *gorm.DB
	// Dialect names the SQL dialect statements must be rendered for.
	Dialect() string
	Close() error
}

// Opener opens sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
	Dialect() string
}

// GormOpener opens sessions over a shared *gorm.DB.
type GormOpener struct {
	db *gorm.DB
}

// NewGormOpener returns an opener for db.
func NewGormOpener(db *gorm.DB) *GormOpener {
	return &GormOpener{db: db}
}

// Dialect returns the name of the GORM dialector.
func (o *GormOpener) Dialect() string {
	if o.db == nil || o.db.Dialector == nil {
		return ""
	}
	return o.db.Dialector.Name()
}

// Open returns a new GORM session bound to ctx.
func (o *GormOpener) Open(ctx context.Context) (Session, error) {
	if o.db == nil {
		return nil, odataerr.Runtime(fmt.Errorf("no database configured"), odataerr.KeySessionOpen)
	}
	db := o.db.WithContext(ctx).Session(&gorm.Session{NewDB: true})
	return &gormSession{db: db, dialect: o.Dialect()}, nil
}

type gormSession struct {
	db      *gorm.DB
	dialect string
	closed  atomic.Bool
}

func (s *gormSession) Find(ctx context.Context, stmt query.Statement, dest any) error {
	if s.closed.Load() {
		return odataerr.Runtime(nil, odataerr.KeySessionClosed)
	}
	if err := s.db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Scan(dest).Error; err != nil {
		return odataerr.Runtime(err, odataerr.KeyStatementFailed, stmt.FingerprintHex())
	}
	return nil
}

func (s *gormSession) Count(ctx context.Context, stmt query.Statement) (int64, error) {
	if s.closed.Load() {
		return 0, odataerr.Runtime(nil, odataerr.KeySessionClosed)
	}
	var n int64
	if err := s.db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Scan(&n).Error; err != nil {
		return 0, odataerr.Runtime(err, odataerr.KeyStatementFailed, stmt.FingerprintHex())
	}
	return n, nil
}

func (s *gormSession) DB() *gorm.DB {
	return s.db
}

func (s *gormSession) Dialect() string {
	return s.dialect
}

// Close marks the session closed. Closing twice is an error.
func (s *gormSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return odataerr.Runtime(nil, odataerr.KeySessionClosed)
	}
	return nil
}

// OpenDialector returns the GORM dialector for a dialect name and DSN.
func OpenDialector(dialect, dsn string) (gorm.Dialector, error) {
	switch dialect {
	case query.DialectSQLite, "sqlite3":
		return sqlite.Open(dsn), nil
	case query.DialectPostgres, "postgresql":
		return postgres.Open(dsn), nil
	case query.DialectMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
}

// Open connects to the database described by dialect and dsn.
func Open(dialect, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	d, err := OpenDialector(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	db, err := gorm.Open(d, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}
	return db, nil
}
