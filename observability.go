package odata

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nlstn/go-odata-persist/internal/observability"
)

// ObservabilityConfig configures observability features (tracing, metrics) for the service.
// All providers are optional; when nil, the corresponding feature is disabled.
type ObservabilityConfig struct {
	// TracerProvider provides the OpenTelemetry tracer for distributed tracing.
	// If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// MeterProvider provides the OpenTelemetry meter for metrics collection.
	// If nil, metrics collection is disabled.
	MeterProvider metric.MeterProvider

	// ServiceName identifies this service in telemetry data.
	// Defaults to "odata-service" if not specified.
	ServiceName string

	// ServiceVersion is reported in telemetry attributes.
	ServiceVersion string

	// EnableDetailedDBTracing enables per-statement database spans.
	// This can generate significant trace data; disabled by default.
	EnableDetailedDBTracing bool

	// EnableServerTiming records a Server-Timing metric per pipeline stage
	// and per statement in the header carried by the request context. Use
	// WithServerTiming to attach a header.
	EnableServerTiming bool
}

// SetObservability configures OpenTelemetry-based observability for the service.
//
// When observability is configured every request gets a span with one child
// span per pipeline stage, and the request, failure, stage duration and row
// count instruments are recorded.
//
// # Example
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	err := service.SetObservability(odata.ObservabilityConfig{
//	    TracerProvider: tp,
//	    ServiceName:    "people",
//	})
func (s *Service) SetObservability(cfg ObservabilityConfig) error {
	opts := []observability.Option{observability.WithLogger(s.currentLogger())}

	if cfg.TracerProvider != nil {
		opts = append(opts, observability.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, observability.WithMeterProvider(cfg.MeterProvider))
	}
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}
	if cfg.EnableDetailedDBTracing {
		opts = append(opts, observability.WithDetailedDBTracing())
	}
	if cfg.EnableServerTiming {
		opts = append(opts, observability.WithServerTimingEnabled())
	}

	obsCfg := observability.NewConfig(opts...)
	if err := obsCfg.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	if cfg.EnableDetailedDBTracing {
		if err := observability.RegisterGORMCallbacks(s.db, obsCfg); err != nil {
			return fmt.Errorf("failed to register GORM tracing callbacks: %w", err)
		}
	}
	if cfg.EnableServerTiming {
		if err := observability.RegisterServerTimingCallbacks(s.db); err != nil {
			return fmt.Errorf("failed to register server timing callbacks: %w", err)
		}
	}

	s.mu.Lock()
	s.observability = obsCfg
	s.mu.Unlock()
	s.currentLogger().Info("Observability configured",
		"tracing_enabled", cfg.TracerProvider != nil,
		"metrics_enabled", cfg.MeterProvider != nil,
		"server_timing_enabled", cfg.EnableServerTiming,
		"service_name", obsCfg.ServiceName(),
	)
	return nil
}

// ServerTimingMetric tracks the duration of an operation for the
// Server-Timing header.
type ServerTimingMetric = observability.ServerTimingMetric

// WithServerTiming attaches a Server-Timing header to ctx. After Process
// returns, the header holds one metric per pipeline stage; its String method
// renders the header value.
func WithServerTiming(ctx context.Context) (context.Context, fmt.Stringer) {
	return observability.WithServerTiming(ctx)
}

// StartServerTiming starts a Server-Timing metric with the given name. If the
// context carries no header, it returns a no-op metric that is safe to stop.
//
//	metric := odata.StartServerTiming(ctx, "db-query")
//	defer metric.Stop()
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return observability.StartServerTiming(ctx, name)
}
