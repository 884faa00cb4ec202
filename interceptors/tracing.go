package interceptors

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-bgmq/contracts"
)

const tracerName = "github.com/glimte/mmate-bgmq/interceptors"

// TracingInterceptor wraps message handling with an OpenTelemetry span.
// Envelopes without a TraceID receive the span's trace id.
type TracingInterceptor struct {
	tracer trace.Tracer
}

// NewTracingInterceptor creates a tracing interceptor from provider, or the
// global provider when nil
func NewTracingInterceptor(provider trace.TracerProvider) *TracingInterceptor {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingInterceptor{tracer: provider.Tracer(tracerName)}
}

// Intercept implements Interceptor
func (i *TracingInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	ctx, span := i.tracer.Start(ctx, "ProcessMessage", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("message.id", env.ID),
		attribute.String("message.type", env.TypeName()),
		attribute.Int("message.retry_attempts", env.RetryAttempts),
	)
	if env.Tag != "" {
		span.SetAttributes(attribute.String("message.tag", env.Tag))
	}

	if sc := span.SpanContext(); env.TraceID == "" && sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}

	result, err := next.Handle(ctx, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return result, err
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}
