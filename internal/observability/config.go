// Package observability wires OpenTelemetry tracing, metrics and the
// Server-Timing header into query processing. A nil *Config is valid and
// disables everything.
package observability

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is reported when no service name is configured.
	DefaultServiceName = "odata-service"

	instrumentationName = "github.com/nlstn/go-odata-persist"
)

// Config holds the observability settings of a service.
type Config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	serviceVersion string
	logger         *slog.Logger
	detailedDB     bool
	serverTiming   bool
	tracingEnabled bool
	metricsEnabled bool

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider enables tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.tracerProvider = tp
		c.tracingEnabled = tp != nil
	}
}

// WithMeterProvider enables metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) {
		c.meterProvider = mp
		c.metricsEnabled = mp != nil
	}
}

func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

// WithDetailedDBTracing creates a span for every statement run through GORM.
func WithDetailedDBTracing() Option {
	return func(c *Config) { c.detailedDB = true }
}

// WithServerTimingEnabled records stage durations in the Server-Timing header
// carried by the request context.
func WithServerTimingEnabled() Option {
	return func(c *Config) { c.serverTiming = true }
}

// NewConfig applies opts. Call Initialize before use.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the tracer and the metric instruments. Missing
// providers are replaced by no-op implementations.
func (c *Config) Initialize() error {
	if c.tracerProvider == nil {
		c.tracerProvider = tracenoop.NewTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = metricnoop.NewMeterProvider()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.tracer = newTracer(c.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(c.serviceVersion)), c.serviceName)

	metrics, err := newMetrics(c.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(c.serviceVersion)))
	if err != nil {
		return fmt.Errorf("failed to create metric instruments: %w", err)
	}
	c.metrics = metrics
	return nil
}

// Tracer returns the request tracer; never nil.
func (c *Config) Tracer() *Tracer {
	if c == nil || c.tracer == nil {
		return newTracer(tracenoop.NewTracerProvider().Tracer(instrumentationName), DefaultServiceName)
	}
	return c.tracer
}

// Metrics returns the metric instruments; never nil.
func (c *Config) Metrics() *Metrics {
	if c == nil || c.metrics == nil {
		return noopMetrics()
	}
	return c.metrics
}

func (c *Config) ServiceName() string {
	if c == nil {
		return DefaultServiceName
	}
	return c.serviceName
}

func (c *Config) TracingEnabled() bool { return c != nil && c.tracingEnabled }

func (c *Config) MetricsEnabled() bool { return c != nil && c.metricsEnabled }

func (c *Config) ServerTimingEnabled() bool { return c != nil && c.serverTiming }

func (c *Config) DetailedDBTracing() bool { return c != nil && c.detailedDB }
