// Package telemetry wires request tracing (OpenTelemetry, exported over
// OTLP/gRPC) and in-process HTTP metrics served in Prometheus text format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/ehr/checkin"

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName     string        `json:"service_name"`
	ServiceVersion  string        `json:"service_version"`
	Environment     string        `json:"environment"`
	OTLPEndpoint    string        `json:"otlp_endpoint"`   // empty = spans are not exported
	MetricsEnabled  *bool         `json:"metrics_enabled"` // nil = use default (true)
	TracingEnabled  *bool         `json:"tracing_enabled"` // nil = use default (true)
	MetricsInterval time.Duration `json:"metrics_interval"`
	SampleRate      float64       `json:"sample_rate"` // 0.0 to 1.0

	// SpanProcessor receives every finished span in addition to the
	// exporter. Tests hang a tracetest.SpanRecorder here.
	SpanProcessor sdktrace.SpanProcessor `json:"-"`
}

func (c *TelemetryConfig) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

func (c *TelemetryConfig) tracingOn() bool {
	return c.TracingEnabled == nil || *c.TracingEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "checkin-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.MetricsInterval == 0 {
		c.MetricsInterval = 15 * time.Second
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// TelemetryProvider owns the tracer provider and the metric state.
type TelemetryProvider struct {
	cfg TelemetryConfig

	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator

	duration     *histogramSet // keyed by LabelsKey
	requestSize  *histogram
	responseSize *histogram
	counters     *valueSet
	gauges       *valueSet

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewTelemetryProvider builds the provider. With tracing disabled the
// tracer is a no-op; with no OTLP endpoint spans are sampled and handed to
// cfg.SpanProcessor only.
func NewTelemetryProvider(ctx context.Context, cfg TelemetryConfig) (*TelemetryProvider, error) {
	cfg.applyDefaults()

	tp := &TelemetryProvider{
		cfg: cfg,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		duration:     newHistogramSet(defaultDurationBuckets),
		requestSize:  newHistogram(defaultSizeBuckets),
		responseSize: newHistogram(defaultSizeBuckets),
		counters:     newValueSet(),
		gauges:       newValueSet(),
	}

	if !cfg.tracingOn() {
		tp.tracer = noop.NewTracerProvider().Tracer(instrumentationName)
		return tp, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	if cfg.SpanProcessor != nil {
		opts = append(opts, sdktrace.WithSpanProcessor(cfg.SpanProcessor))
	}

	tp.tracerProvider = sdktrace.NewTracerProvider(opts...)
	tp.tracer = tp.tracerProvider.Tracer(instrumentationName)
	return tp, nil
}

// Install registers the provider and propagator as the otel globals, so
// otel.Tracer in the domain services reports through it.
func (tp *TelemetryProvider) Install() {
	if tp.tracerProvider != nil {
		otel.SetTracerProvider(tp.tracerProvider)
	}
	otel.SetTextMapPropagator(tp.propagator)
}

// Tracer returns the provider's tracer.
func (tp *TelemetryProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes pending spans. Safe to call more than once.
func (tp *TelemetryProvider) Shutdown(ctx context.Context) error {
	tp.shutdownOnce.Do(func() {
		if tp.tracerProvider != nil {
			tp.shutdownErr = tp.tracerProvider.Shutdown(ctx)
		}
	})
	return tp.shutdownErr
}

// ---------------------------------------------------------------------------
// Metric accessors
// ---------------------------------------------------------------------------

// GetHistogram returns the request duration histogram for one label key,
// or nil if nothing was recorded under it.
func (tp *TelemetryProvider) GetHistogram(key string) *histogram {
	return tp.duration.lookup(key)
}

// GetGauge returns the current value of the named gauge.
func (tp *TelemetryProvider) GetGauge(name string) int64 {
	return tp.gauges.get(name)
}

// GetStepCount returns how many step submissions ended with outcome.
func (tp *TelemetryProvider) GetStepCount(step, outcome string) int64 {
	return tp.counters.get(step + "|" + outcome)
}

// RecordStep counts one step submission outcome.
func (tp *TelemetryProvider) RecordStep(step, outcome string) {
	tp.counters.add(step+"|"+outcome, 1)
}

// SetDBPool updates the connection pool gauges.
func (tp *TelemetryProvider) SetDBPool(active, idle int64) {
	tp.gauges.set("db.pool.active_connections", active)
	tp.gauges.set("db.pool.idle_connections", idle)
}

// RunPoolGauges samples pool stats every MetricsInterval until ctx ends.
func (tp *TelemetryProvider) RunPoolGauges(ctx context.Context, sample func() (active, idle int64)) {
	if !tp.cfg.metricsOn() {
		return
	}
	ticker := time.NewTicker(tp.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		tp.SetDBPool(sample())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func routeOf(c echo.Context) string {
	if route := c.Path(); route != "" {
		return route
	}
	return c.Request().URL.Path
}

// TracingMiddleware starts a server span per request, continuing any
// incoming W3C trace context. Register it outside the logger so the span
// sees the rendered status.
func (tp *TelemetryProvider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.tracingOn() {
				return next(c)
			}

			req := c.Request()
			route := routeOf(c)
			ctx := tp.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tp.tracer.Start(ctx, "HTTP "+req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("http.url", req.URL.String()),
				),
			)
			defer span.End()

			if id, ok := c.Get("request_id").(string); ok && id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				span.RecordError(err)
			}

			status := c.Response().Status
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}

// MetricsMiddleware records request duration, sizes, in-flight count and
// per-step submission outcomes.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.gauges.add("http.server.active_requests", 1)
			defer tp.gauges.add("http.server.active_requests", -1)

			start := time.Now()
			req := c.Request()

			err := next(c)

			resp := c.Response()
			route := routeOf(c)
			key := LabelsKey(req.Method, route, strconv.Itoa(resp.Status))
			tp.duration.get(key).Observe(time.Since(start).Seconds())

			if req.ContentLength > 0 {
				tp.requestSize.Observe(float64(req.ContentLength))
			}
			if resp.Size > 0 {
				tp.responseSize.Observe(float64(resp.Size))
			}

			if req.Method == http.MethodPost {
				if step := checkinStep(route); step != "" {
					tp.RecordStep(step, outcomeOf(resp.Status))
				}
			}
			return err
		}
	}
}

// checkinStep names the wizard step a POST route submits.
func checkinStep(route string) string {
	switch route {
	case "/api/patients":
		return "demographics"
	case "/api/insurance":
		return "insurance"
	case "/api/clinical-forms":
		return "clinical_forms"
	case "/api/completion":
		return "completion"
	}
	return ""
}

func outcomeOf(status int) string {
	switch {
	case status < 400:
		return "accepted"
	case status < 500:
		return "rejected"
	default:
		return "failed"
	}
}
