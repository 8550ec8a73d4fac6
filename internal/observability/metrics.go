package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the instruments recorded per request.
type Metrics struct {
	requests      metric.Int64Counter
	failures      metric.Int64Counter
	stageDuration metric.Float64Histogram
	rows          metric.Int64Histogram
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter("odata.requests",
		metric.WithDescription("Number of processed requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("odata.failures",
		metric.WithDescription("Number of failed requests by error kind"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("odata.stage.duration",
		metric.WithDescription("Duration of processing stages"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	rows, err := meter.Int64Histogram("odata.rows",
		metric.WithDescription("Number of entities returned per request"),
		metric.WithUnit("{entity}"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, failures: failures, stageDuration: stageDuration, rows: rows}, nil
}

func noopMetrics() *Metrics {
	m, _ := newMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName))
	return m
}

// RecordRequest counts one request for the addressed entity set.
func (m *Metrics) RecordRequest(ctx context.Context, entitySet, kind string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(AttrEntitySet.String(entitySet), AttrResourceKind.String(kind)))
}

// RecordFailure counts one failed request.
func (m *Metrics) RecordFailure(ctx context.Context, entitySet, errorKind string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(AttrEntitySet.String(entitySet), AttrErrorKind.String(errorKind)))
}

func (m *Metrics) RecordStage(ctx context.Context, stage Stage, d time.Duration) {
	m.stageDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(AttrStage.String(string(stage))))
}

func (m *Metrics) RecordRows(ctx context.Context, entitySet string, n int) {
	m.rows.Record(ctx, int64(n), metric.WithAttributes(AttrEntitySet.String(entitySet)))
}
