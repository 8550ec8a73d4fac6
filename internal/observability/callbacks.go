package observability

import (
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	spanKey   = "odata:observability_span"
	timingKey = "odata:observability_timing"
)

// RegisterGORMCallbacks creates a span for every query and row statement
// run through db. The span is a child of the statement context.
func RegisterGORMCallbacks(db *gorm.DB, cfg *Config) error {
	tracer := cfg.Tracer()
	before := func(tx *gorm.DB) {
		ctx, span := tracer.StartStatement(tx.Statement.Context, tx.Statement.Table)
		tx.Statement.Context = ctx
		tx.InstanceSet(spanKey, span)
	}
	after := func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(spanKey)
		if !ok {
			return
		}
		span, ok := v.(trace.Span)
		if !ok {
			return
		}
		span.SetAttributes(AttrRowsAffected.Int64(tx.RowsAffected))
		RecordError(span, tx.Error, "")
		span.End()
	}
	return register(db, "odata:trace", before, after)
}

// RegisterServerTimingCallbacks adds a "db" metric to the Server-Timing
// header of the statement context for every query and row statement.
func RegisterServerTimingCallbacks(db *gorm.DB) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(timingKey, StartServerTimingWithDesc(tx.Statement.Context, "db", tx.Statement.Table))
	}
	after := func(tx *gorm.DB) {
		if v, ok := tx.InstanceGet(timingKey); ok {
			if m, ok := v.(*ServerTimingMetric); ok {
				m.Stop()
			}
		}
	}
	return register(db, "odata:server_timing", before, after)
}

func register(db *gorm.DB, name string, before, after func(*gorm.DB)) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register(name+"_before_query", before); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register(name+"_after_query", after); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register(name+"_before_row", before); err != nil {
		return err
	}
	return cb.Row().After("gorm:row").Register(name+"_after_row", after)
}
