package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	tickTracer trace.Tracer

	tickDuration      metric.Float64Histogram
	tickTotal         metric.Int64Counter
	tickOutboundCalls metric.Int64Histogram

	phaseTransitionCounter metric.Int64Counter

	batchArticleCount metric.Int64Histogram
	batchFailureTotal metric.Int64Counter

	dbPoolInUseGauge    metric.Int64Gauge
	dbPoolMaxOpenGauge  metric.Int64Gauge
	dbPoolRejectCounter metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "daily-digest"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			fmt.Printf("WARN: Failed to create OTLP trace exporter (traces disabled): %v\n", err)
			fmt.Printf("WARN: Endpoint: %s\n", cfg.OTLPEndpoint)
		} else {
			spanExporter = exp
			fmt.Printf("INFO: OTLP trace exporter initialised successfully for endpoint: %s\n", cfg.OTLPEndpoint)
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		tickTracer = tracerProvider.Tracer("daily-digest/driver")
		_ = initTickInstruments(meterProvider)
		_ = initDBPoolInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/status"
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

func initTickInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("daily-digest/driver")

	var err error
	tickDuration, err = meter.Float64Histogram(
		"digest.tick.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall-clock time spent inside one driver tick"),
	)
	if err != nil {
		return err
	}

	tickTotal, err = meter.Int64Counter(
		"digest.tick.total",
		metric.WithDescription("Counts ticks by the phase they dispatched to and their outcome"),
	)
	if err != nil {
		return err
	}

	tickOutboundCalls, err = meter.Int64Histogram(
		"digest.tick.outbound_calls",
		metric.WithDescription("Outbound calls spent by a single tick"),
	)
	if err != nil {
		return err
	}

	phaseTransitionCounter, err = meter.Int64Counter(
		"digest.phase.transitions_total",
		metric.WithDescription("Counts successful phase advances by from/to phase"),
	)
	if err != nil {
		return err
	}

	batchArticleCount, err = meter.Int64Histogram(
		"digest.batch.article_count",
		metric.WithDescription("Number of articles claimed into a single ProcessBatch call"),
	)
	if err != nil {
		return err
	}

	batchFailureTotal, err = meter.Int64Counter(
		"digest.batch.failures_total",
		metric.WithDescription("Number of batches that recorded a Failed outcome"),
	)
	return err
}

func initDBPoolInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("daily-digest/db_pool")

	var err error
	dbPoolInUseGauge, err = meter.Int64Gauge(
		"digest.db.pool.in_use",
		metric.WithDescription("Current number of connections in use"),
	)
	if err != nil {
		return err
	}

	dbPoolMaxOpenGauge, err = meter.Int64Gauge(
		"digest.db.pool.max_open",
		metric.WithDescription("Maximum configured open connections"),
	)
	if err != nil {
		return err
	}

	dbPoolRejectCounter, err = meter.Int64Counter(
		"digest.db.pool.rejects_total",
		metric.WithDescription("Number of operations rejected because the connection pool was saturated"),
	)
	return err
}

// TickSpanInfo describes the attributes used when starting a driver tick span.
type TickSpanInfo struct {
	TaskDate string
	Phase    string
}

// StartTickSpan starts a span for one driver tick.
func StartTickSpan(ctx context.Context, info TickSpanInfo) (context.Context, trace.Span) {
	t := tickTracer
	if t == nil {
		t = otel.Tracer("daily-digest/driver")
	}

	attrs := []attribute.KeyValue{
		attribute.String("task.date", info.TaskDate),
		attribute.String("task.phase", info.Phase),
	}

	return t.Start(ctx, "driver.tick", trace.WithAttributes(attrs...))
}

// TickMetrics describes the outcome of one driver tick for metric recording.
type TickMetrics struct {
	TaskDate      string
	Phase         string
	Outcome       string
	Duration      time.Duration
	OutboundCalls int
}

// RecordTick emits tick metrics when instrumentation is initialised.
func RecordTick(ctx context.Context, m TickMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("task.phase", m.Phase),
		attribute.String("tick.outcome", m.Outcome),
	)

	if tickDuration != nil {
		tickDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if tickTotal != nil {
		tickTotal.Add(ctx, 1, attrs)
	}
	if tickOutboundCalls != nil && m.OutboundCalls > 0 {
		tickOutboundCalls.Record(ctx, int64(m.OutboundCalls), attrs)
	}
}

// RecordPhaseTransition records a successful AdvancePhase call.
func RecordPhaseTransition(ctx context.Context, from, to string) {
	if phaseTransitionCounter == nil {
		return
	}
	phaseTransitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase.from", from),
		attribute.String("phase.to", to),
	))
}

// RecordBatch records the shape of one ProcessBatch call.
func RecordBatch(ctx context.Context, articleCount int, status string) {
	if batchArticleCount != nil {
		batchArticleCount.Record(ctx, int64(articleCount), metric.WithAttributes(
			attribute.String("batch.status", status),
		))
	}
	if status == "failed" && batchFailureTotal != nil {
		batchFailureTotal.Add(ctx, 1)
	}
}

// DBPoolSnapshot describes a database connection pool state.
type DBPoolSnapshot struct {
	InUse   int
	MaxOpen int
}

// RecordDBPoolStats records database pool utilisation metrics.
func RecordDBPoolStats(ctx context.Context, snapshot DBPoolSnapshot) {
	if dbPoolInUseGauge != nil {
		dbPoolInUseGauge.Record(ctx, int64(snapshot.InUse))
	}
	if dbPoolMaxOpenGauge != nil {
		dbPoolMaxOpenGauge.Record(ctx, int64(snapshot.MaxOpen))
	}
}

// RecordDBPoolRejection increments the pool rejection counter when operations are rejected before acquiring a connection.
func RecordDBPoolRejection(ctx context.Context) {
	if dbPoolRejectCounter != nil {
		dbPoolRejectCounter.Add(ctx, 1)
	}
}
