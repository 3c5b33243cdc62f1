package store

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// lockExpiration is how long a claimed message stays in StatusReplaying before it can be claimed again.
const lockExpiration = 5 * time.Minute

const tracerName = "github.com/zoff-tech/go-messaging/pkg/store"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func addDBStatsToSpan(span trace.Span, system, statement string, count int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("messagesCount", count),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
