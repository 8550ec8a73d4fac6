package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys
const (
	AttrServiceName  = attribute.Key("odata.service")
	AttrEntitySet    = attribute.Key("odata.entity_set")
	AttrResourceKind = attribute.Key("odata.resource_kind")
	AttrStage        = attribute.Key("odata.stage")
	AttrErrorKind    = attribute.Key("odata.error_kind")
	AttrRowCount     = attribute.Key("odata.row_count")
	AttrFingerprint  = attribute.Key("db.statement.fingerprint")
	AttrDBTable      = attribute.Key("db.sql.table")
	AttrRowsAffected = attribute.Key("db.rows_affected")
)

// Stage names the steps of request processing.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageValidate Stage = "validate"
	StageHooks    Stage = "hooks"
	StageBuild    Stage = "build"
	StageExecute  Stage = "execute"
	StageProject  Stage = "project"
)

// Tracer starts the spans of query processing.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

func newTracer(t trace.Tracer, serviceName string) *Tracer {
	return &Tracer{tracer: t, serviceName: serviceName}
}

// StartRequest starts the root span of one request.
func (t *Tracer) StartRequest(ctx context.Context, path string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(AttrServiceName.String(t.serviceName), attribute.String("odata.path", path)))
}

// StartStage starts a child span for one processing stage.
func (t *Tracer) StartStage(ctx context.Context, stage Stage, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrStage.String(string(stage)))
	return t.tracer.Start(ctx, "odata."+string(stage), trace.WithAttributes(attrs...))
}

// StartStatement starts a span for one database statement.
func (t *Tracer) StartStatement(ctx context.Context, table string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.db.statement",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrDBTable.String(table)))
}

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error, kind string) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind != "" {
		span.SetAttributes(AttrErrorKind.String(kind))
	}
}
