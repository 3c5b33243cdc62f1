package listener

import (
	"context"
	"fmt"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/telemetry"
)

// Invoker calls the bound application handler for one message.
type Invoker interface {
	Invoke(ctx context.Context, mctx *messaging.MessagingContext) error
}

// Converter turns a broker-native record into a UnifiedMessage.
type Converter[R any] func(raw R) (*messaging.UnifiedMessage, error)

// MessageListener is what the registry hands to a container factory.
type MessageListener interface {
	MessagingContext() *messaging.MessagingContext
}

// RecordHandler is the callback a container invokes for each native record.
type RecordHandler[R any] interface {
	MessageListener
	HandleMessage(ctx context.Context, raw R) error
}

// Adapter is the shared listener adapter. Brokers only supply the Converter.
// It never acknowledges records; containers do.
type Adapter[R any] struct {
	mctx    *messaging.MessagingContext
	invoker Invoker
	convert Converter[R]
}

func NewAdapter[R any](mctx *messaging.MessagingContext, inv Invoker, convert Converter[R]) *Adapter[R] {
	return &Adapter[R]{mctx: mctx, invoker: inv, convert: convert}
}

func (a *Adapter[R]) MessagingContext() *messaging.MessagingContext {
	return a.mctx
}

func (a *Adapter[R]) CreateUnifiedMessage(raw R) (*messaging.UnifiedMessage, error) {
	return a.convert(raw)
}

// HandleMessage converts raw and invokes the handler inside a consumer span.
// Handler failures are routed to the error hook by the invoker; the returned
// error covers conversion failures and unmapped error hooks.
func (a *Adapter[R]) HandleMessage(ctx context.Context, raw R) error {
	msg, err := a.CreateUnifiedMessage(raw)
	if err != nil {
		return fmt.Errorf("failed to convert %s record from %q: %w", a.mctx.Type, a.mctx.Topic, err)
	}

	ctx, span := telemetry.StartConsumerSpan(ctx, a.mctx, msg.Headers)
	err = a.invoker.Invoke(ctx, a.mctx.WithMessage(msg))
	telemetry.End(span, err)
	return err
}
