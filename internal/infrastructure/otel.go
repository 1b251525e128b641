package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"microfit/internal/config"
)

const (
	// MeterName is the instrumentation scope for run metrics
	MeterName = "microfit"
)

// Telemetry holds the OpenTelemetry providers for one run. A batch run
// has no scrape endpoint; metrics accumulate in a local registry and are
// flushed to a Prometheus textfile when the run finishes.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	registry       *promclient.Registry
	metricsFile    string
	logger         *slog.Logger
}

// InitializeTelemetry initializes OpenTelemetry for a run
func InitializeTelemetry(cfg config.TelemetryConfig, logger *slog.Logger) (*Telemetry, error) {
	ctx := context.Background()

	if !cfg.Enabled {
		noop := &Telemetry{
			Tracer: otel.Tracer(MeterName),
			Meter:  otel.Meter(MeterName),
			logger: logger,
		}
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("service.instance.id", GenerateRunID()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &Telemetry{
		metricsFile: cfg.MetricsFile,
		logger:      logger,
		registry:    promclient.NewRegistry(),
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(t.registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.MeterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.Meter = t.MeterProvider.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetMeterProvider(t.MeterProvider)

	if cfg.TraceToStdout {
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		t.TracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(t.TracerProvider)
		t.Tracer = t.TracerProvider.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	} else {
		t.Tracer = otel.Tracer(MeterName)
	}

	logger.InfoContext(ctx, "telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"trace_to_stdout", cfg.TraceToStdout,
	)
	return t, nil
}

// WriteMetricsSnapshot gathers the run's metrics and writes them in
// Prometheus text exposition format, so CI can diff counters across runs
// without a live scrape endpoint.
func (t *Telemetry) WriteMetricsSnapshot() error {
	if t.registry == nil || t.metricsFile == "" {
		return nil
	}

	families, err := t.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.metricsFile), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	file, err := os.Create(t.metricsFile)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer file.Close()

	encoder := expfmt.NewEncoder(file, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}

// Shutdown flushes and stops the providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.WriteMetricsSnapshot(); err != nil {
		t.logger.ErrorContext(ctx, "failed to write metrics snapshot", "error", err)
	}

	var firstErr error
	if t.MeterProvider != nil {
		if err := t.MeterProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if t.TracerProvider != nil {
		if err := t.TracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
