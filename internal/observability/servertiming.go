package observability

import (
	"context"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric tracks the duration of one operation for the
// Server-Timing header. The zero value and nil are no-ops.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// StartServerTiming starts a metric on the header carried by ctx.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return StartServerTimingWithDesc(ctx, name, "")
}

func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	h := servertiming.FromContext(ctx)
	if h == nil {
		return &ServerTimingMetric{}
	}
	m := h.NewMetric(name)
	if description != "" {
		m = m.WithDesc(description)
	}
	return &ServerTimingMetric{metric: m.Start()}
}

// Stop ends the metric.
func (m *ServerTimingMetric) Stop() {
	if m == nil || m.metric == nil {
		return
	}
	m.metric.Stop()
}

// WithServerTiming attaches an empty Server-Timing header to ctx unless one
// is present already.
func WithServerTiming(ctx context.Context) (context.Context, *servertiming.Header) {
	if h := servertiming.FromContext(ctx); h != nil {
		return ctx, h
	}
	h := &servertiming.Header{}
	return servertiming.NewContext(ctx, h), h
}
