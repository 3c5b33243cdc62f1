package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ContainerFactory registers an adapter into a broker-native consumer container
// and starts it. Registration is idempotent per (group, topic).
type ContainerFactory interface {
	RegisterContainer(ctx context.Context, adapter MessageListener, cfg messaging.ListenerConfig) error
	Close() error
}

// RegistrationHandler routes adapters to the container factory for their type.
type RegistrationHandler struct {
	mu        sync.RWMutex
	factories map[messaging.MessagingType]ContainerFactory
}

func NewRegistrationHandler() *RegistrationHandler {
	return &RegistrationHandler{factories: map[messaging.MessagingType]ContainerFactory{}}
}

func (h *RegistrationHandler) RegisterFactory(t messaging.MessagingType, f ContainerFactory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[t] = f
}

func (h *RegistrationHandler) RegisterAdapter(ctx context.Context, adapter MessageListener, cfg messaging.ListenerConfig) error {
	h.mu.RLock()
	f, ok := h.factories[cfg.Type]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no container factory registered for messaging type %s", cfg.Type)
	}
	return f.RegisterContainer(ctx, adapter, cfg)
}

// Close stops every container factory.
func (h *RegistrationHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for t, f := range h.factories {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// HandlerFor asserts that adapter consumes records of type R.
func HandlerFor[R any](adapter MessageListener) (RecordHandler[R], error) {
	h, ok := adapter.(RecordHandler[R])
	if !ok {
		var zero R
		return nil, fmt.Errorf("adapter %T cannot handle %T records", adapter, zero)
	}
	return h, nil
}
