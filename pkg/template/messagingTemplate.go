package template

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// TemplateAdapter sends UnifiedMessages through one broker client.
type TemplateAdapter interface {
	Type() messaging.MessagingType
	// SendSync blocks until the broker acknowledges.
	SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error)
	// SendAsync returns immediately; the future completes on the client's callback.
	SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) *Future
	// SendOneWay only reports errors detected before the message leaves the process.
	SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error
	Close() error
}

// MessagingTemplate is the broker-agnostic send API.
type MessagingTemplate struct {
	mu       sync.RWMutex
	adapters map[messaging.MessagingType]TemplateAdapter
}

func New(adapters ...TemplateAdapter) *MessagingTemplate {
	t := &MessagingTemplate{adapters: map[messaging.MessagingType]TemplateAdapter{}}
	for _, a := range adapters {
		t.RegisterAdapter(a)
	}
	return t
}

// RegisterAdapter adds or replaces the adapter for a.Type().
func (t *MessagingTemplate) RegisterAdapter(a TemplateAdapter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adapters[a.Type()] = a
}

// Types lists registered adapter types in display order.
func (t *MessagingTemplate) Types() []messaging.MessagingType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]messaging.MessagingType, 0, len(t.adapters))
	for mt := range t.adapters {
		types = append(types, mt)
	}
	return messaging.SortTypes(types)
}

// ForType narrows the template to one adapter.
func (t *MessagingTemplate) ForType(mt messaging.MessagingType) (*TypedTemplate, error) {
	t.mu.RLock()
	a, ok := t.adapters[mt]
	t.mu.RUnlock()
	if !ok {
		return nil, &messaging.ConfigurationError{
			Reason:    fmt.Sprintf("no template adapter registered for %s", mt),
			Available: t.Types(),
			Cause:     messaging.ErrTypeUnavailable,
		}
	}
	return &TypedTemplate{adapter: a}, nil
}

// selectAdapter only auto-selects when exactly one adapter is registered.
func (t *MessagingTemplate) selectAdapter() (*TypedTemplate, error) {
	types := t.Types()
	switch len(types) {
	case 1:
		return t.ForType(types[0])
	case 0:
		return nil, &messaging.ConfigurationError{
			Reason: "no template adapter registered",
			Cause:  messaging.ErrNoTypeAvailable,
		}
	default:
		return nil, &messaging.ConfigurationError{
			Reason:    "multiple template adapters registered; use ForType to choose one",
			Available: types,
			Cause:     messaging.ErrAmbiguousType,
		}
	}
}

func (t *MessagingTemplate) SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	tt, err := t.selectAdapter()
	if err != nil {
		return nil, err
	}
	return tt.SendSync(ctx, msg)
}

// SendAsync returns selection and validation errors directly; broker failures arrive through the Future.
func (t *MessagingTemplate) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) (*Future, error) {
	tt, err := t.selectAdapter()
	if err != nil {
		return nil, err
	}
	return tt.SendAsync(ctx, msg)
}

func (t *MessagingTemplate) SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error {
	tt, err := t.selectAdapter()
	if err != nil {
		return err
	}
	return tt.SendOneWay(ctx, msg)
}

// Close closes every adapter.
func (t *MessagingTemplate) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for mt, a := range t.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mt, err))
		}
	}
	return errors.Join(errs...)
}

// TypedTemplate sends through one specific adapter.
type TypedTemplate struct {
	adapter TemplateAdapter
}

func (tt *TypedTemplate) Type() messaging.MessagingType {
	return tt.adapter.Type()
}

func (tt *TypedTemplate) SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	res, err := tt.adapter.SendSync(ctx, msg)
	if err != nil {
		return nil, messaging.NewSendError(tt.adapter.Type(), msg.Destination, err)
	}
	return res, nil
}

func (tt *TypedTemplate) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) (*Future, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return tt.adapter.SendAsync(ctx, msg), nil
}

func (tt *TypedTemplate) SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return messaging.NewSendError(tt.adapter.Type(), msg.Destination, tt.adapter.SendOneWay(ctx, msg))
}
