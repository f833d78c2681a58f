package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "typechat"

func rotatingFile(dir, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // 10 MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger initializes structured logging with rotation under logDir.
// The returned closer releases the log file.
func InitLogger(logDir string, debug bool) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile := rotatingFile(logDir, "typechat.log")

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	// Log only to file; stdout belongs to the conversation
	handler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, logFile, nil
}

// metricInterval is how often metrics are flushed to their log file
const metricInterval = 10 * time.Second

func newTracerProvider(res *resource.Resource, w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(res *resource.Resource, w io.Writer) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricInterval))
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}

// InitTelemetry initializes OpenTelemetry tracing and metrics.
// Traces go to typechat_traces.log and metrics to typechat_metrics.log under
// logDir. When disabled, no-op providers are returned and nothing is written.
func InitTelemetry(ctx context.Context, logDir string, enabled bool) (trace.Tracer, metric.Meter, func(), error) {
	if !enabled {
		tracer := tracenoop.NewTracerProvider().Tracer(serviceName)
		meter := metricnoop.NewMeterProvider().Meter(serviceName)
		return tracer, meter, func() {}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("1.0.0"),
	))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	traceFile := rotatingFile(logDir, "typechat_traces.log")
	metricsFile := rotatingFile(logDir, "typechat_metrics.log")

	tp, err := newTracerProvider(res, traceFile)
	if err != nil {
		return nil, nil, nil, err
	}
	mp, err := newMeterProvider(res, metricsFile)
	if err != nil {
		tp.Shutdown(ctx)
		return nil, nil, nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	// Providers flush into their files, so they shut down first.
	shutdowns := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"tracer provider", tp.Shutdown},
		{"meter provider", mp.Shutdown},
		{"trace file", func(context.Context) error { return traceFile.Close() }},
		{"metrics file", func(context.Context) error { return metricsFile.Close() }},
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, s := range shutdowns {
			if err := s.fn(ctx); err != nil {
				slog.Error("failed to shut down telemetry", "component", s.name, "error", err)
			}
		}
	}

	return tp.Tracer(serviceName), mp.Meter(serviceName), cleanup, nil
}
