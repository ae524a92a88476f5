package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xkilldash9x/wayfinder"

// TracerProvider owns the process tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider installs a global tracer provider that writes spans as
// JSON to w.
func NewTracerProvider(serviceName, version string, w io.Writer) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the wayfinder tracer from the global provider. Without a
// configured provider the spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span with the given name.
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, spanName, opts...)
}

// Attribute keys for loop spans.
var (
	AttrSessionID    = attribute.Key("wayfinder.session.id")
	AttrStep         = attribute.Key("wayfinder.step")
	AttrActionKind   = attribute.Key("wayfinder.action.kind")
	AttrOutcome      = attribute.Key("wayfinder.outcome.status")
	AttrErrorKind    = attribute.Key("wayfinder.outcome.kind")
	AttrPageURL      = attribute.Key("wayfinder.page.url")
	AttrElementCount = attribute.Key("wayfinder.page.elements")
	AttrStatus       = attribute.Key("wayfinder.session.status")
)
