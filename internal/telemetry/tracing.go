package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя tracer для спанов Conveyor.
const TracerName = "github.com/shaiso/Conveyor"

// Tracer возвращает tracer глобального провайдера.
// Пока SetupTracing не вызван, спаны ничего не делают.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// SetupTracing настраивает OpenTelemetry по переменным окружения.
//
//   - OTEL_ENABLED — включает трассировку (1/true/yes/on)
//   - OTEL_EXPORTER_OTLP_ENDPOINT — адрес OTLP/HTTP; без него спаны пишутся в stdout
//   - OTEL_EXPORTER_OTLP_INSECURE — без TLS
//   - OTEL_SAMPLER_RATIO — доля сэмплируемых трасс (по умолчанию 1)
//
// Возвращает функцию shutdown. При выключенной трассировке она ничего не делает.
func SetupTracing(ctx context.Context, service string, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !envBool("OTEL_ENABLED") {
		return noop, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(service),
		attribute.String("service.namespace", "conveyor"),
	))
	if err != nil {
		return noop, err
	}

	exporter, err := traceExporter(ctx)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("tracing initialized",
		"service", service,
		"endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	)
	return tp.Shutdown, nil
}

func traceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if envBool("OTEL_EXPORTER_OTLP_INSECURE") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func sampleRatio() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("OTEL_SAMPLER_RATIO")), 64)
	if err != nil {
		return 1
	}
	return min(max(f, 0), 1)
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
