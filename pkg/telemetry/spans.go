package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

const instrumentationName = "github.com/zoff-tech/go-messaging"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// System is the messaging.system attribute value for t.
func System(t messaging.MessagingType) string {
	return strings.ToLower(t.String())
}

// StartProducerSpan starts a send span and injects its context into headers.
// headers must be a writable map owned by the caller.
func StartProducerSpan(ctx context.Context, t messaging.MessagingType, destination string, headers map[string]string) (context.Context, trace.Span) {
	topic := messaging.ExtractTopic(destination)
	ctx, span := tracer().Start(ctx, topic+" send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(System(t)),
			semconv.MessagingDestinationKey.String(topic),
			semconv.MessagingDestinationKindTopic,
		),
	)
	if tag := messaging.ExtractTag(destination); tag != "" {
		span.SetAttributes(attribute.String("messaging.tag", tag))
	}
	if headers != nil {
		otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	}
	return ctx, span
}

// StartConsumerSpan continues the trace carried in headers and starts a process span.
func StartConsumerSpan(ctx context.Context, mctx *messaging.MessagingContext, headers map[string]string) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	return tracer().Start(ctx, mctx.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(System(mctx.Type)),
			semconv.MessagingDestinationKey.String(mctx.Topic),
			semconv.MessagingDestinationKindTopic,
			semconv.MessagingOperationProcess,
			semconv.MessagingConsumerIDKey.String(mctx.GroupID),
		),
	)
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SetMessageID tags the span with the broker-assigned id.
func SetMessageID(span trace.Span, id string) {
	if id != "" {
		span.SetAttributes(semconv.MessagingMessageIDKey.String(id))
	}
}
