package invoker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ErrorHandler receives handler failures for one broker type.
type ErrorHandler func(ctx context.Context, err error, mctx *messaging.MessagingContext)

// ErrorHandlerResolver supplies the error hook for a broker type.
type ErrorHandlerResolver interface {
	ErrorHandler(t messaging.MessagingType) (ErrorHandler, bool)
}

// ErrorHandlers is a static resolver keyed by type.
type ErrorHandlers map[messaging.MessagingType]ErrorHandler

func (h ErrorHandlers) ErrorHandler(t messaging.MessagingType) (ErrorHandler, bool) {
	fn, ok := h[t]
	return fn, ok && fn != nil
}

// LoggingErrorHandler logs the failure and drops the message.
func LoggingErrorHandler(logger zerolog.Logger) ErrorHandler {
	return func(ctx context.Context, err error, mctx *messaging.MessagingContext) {
		ev := logger.Error().Err(err).
			Str("type", mctx.Type.String()).
			Str("topic", mctx.Topic).
			Str("group", mctx.GroupID)
		if mctx.Message != nil {
			ev = ev.Str("destination", mctx.Message.Destination).Str("key", mctx.Message.MessageKey)
		}
		ev.Msg("message handler failed")
	}
}

// Chain runs every handler in order.
func Chain(handlers ...ErrorHandler) ErrorHandler {
	return func(ctx context.Context, err error, mctx *messaging.MessagingContext) {
		for _, h := range handlers {
			if h != nil {
				h(ctx, err, mctx)
			}
		}
	}
}
