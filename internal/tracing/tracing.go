package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/config"
)

var tracer oteltrace.Tracer = otel.Tracer("gantry")

var provider *trace.TracerProvider

// Initialize sets up OTLP tracing. The tracer handle is always valid so the
// Start helpers never panic when tracing is disabled.
func Initialize(cfg config.TracingConfig, logger *zap.Logger) error {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "gantry"
	}
	tracer = otel.Tracer(serviceName)

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	tracer = otel.Tracer(serviceName)

	logger.Info("Tracing initialized",
		zap.String("endpoint", endpoint),
		zap.Float64("sample_ratio", ratio),
	)
	return nil
}

// Shutdown flushes pending spans. No-op when tracing is disabled.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// StartSpan creates a span with the given name.
func StartSpan(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, spanName)
}

// StartRPCSpan creates a span for one dispatched JSON-RPC method.
func StartRPCSpan(ctx context.Context, method string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "rpc "+method)
	span.SetAttributes(semconv.RPCMethod(method), semconv.RPCSystemKey.String("jsonrpc"))
	return ctx, span
}

// StartUpstreamSpan creates a span for one upstream GraphQL call.
func StartUpstreamSpan(ctx context.Context, operation, url string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "upstream "+operation)
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(http.MethodPost),
		semconv.URLFull(url),
	)
	return ctx, span
}

// W3CTraceparent renders the current span as a traceparent header value.
func W3CTraceparent(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return fmt.Sprintf("00-%s-%s-%02x", sc.TraceID(), sc.SpanID(), sc.TraceFlags())
}

// InjectTraceparent adds the W3C traceparent header to an outgoing request.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	if tp := W3CTraceparent(ctx); tp != "" {
		req.Header.Set("traceparent", tp)
	}
}
