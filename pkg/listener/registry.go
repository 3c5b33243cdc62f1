package listener

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/invoker"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// TypeResolver validates and resolves listener types. *detector.TypeDetector implements it.
type TypeResolver interface {
	Validate(cfg messaging.ListenerConfig) error
	ResolveType(configured messaging.MessagingType) (messaging.MessagingType, error)
}

// AdapterBuilder constructs the broker-specific listener adapter.
type AdapterBuilder func(mctx *messaging.MessagingContext, inv Invoker) (MessageListener, error)

// Registry registers declared listeners at startup.
type Registry struct {
	types    TypeResolver
	handler  *RegistrationHandler
	resolver invoker.ErrorHandlerResolver
	builders map[messaging.MessagingType]AdapterBuilder
	logger   zerolog.Logger
}

func NewRegistry(types TypeResolver, handler *RegistrationHandler, resolver invoker.ErrorHandlerResolver, logger zerolog.Logger) *Registry {
	return &Registry{
		types:    types,
		handler:  handler,
		resolver: resolver,
		builders: map[messaging.MessagingType]AdapterBuilder{},
		logger:   logger,
	}
}

// RegisterAdapterBuilder is called once per integration during startup.
func (r *Registry) RegisterAdapterBuilder(t messaging.MessagingType, b AdapterBuilder) {
	r.builders[t] = b
}

// Register validates cfg, builds its invoker and adapter and starts its container.
// Every failure is a *messaging.RegistrationError naming the listener.
func (r *Registry) Register(ctx context.Context, cfg messaging.ListenerConfig) error {
	fail := func(err error) error {
		return &messaging.RegistrationError{Target: cfg.Identity(), Err: err}
	}

	if err := r.types.Validate(cfg); err != nil {
		return fail(err)
	}
	t, err := r.types.ResolveType(cfg.Type)
	if err != nil {
		return fail(err)
	}
	if cfg.Topic == "" {
		return fail(messaging.ErrEmptyDestination)
	}
	if _, ok := r.resolver.ErrorHandler(t); !ok {
		return fail(fmt.Errorf("%w for %s", messaging.ErrNoErrorHandler, t))
	}

	mctx := &messaging.MessagingContext{Type: t, Topic: cfg.Topic, GroupID: cfg.GroupID}

	inv, err := invoker.New(cfg, r.resolver)
	if err != nil {
		return fail(err)
	}

	build, ok := r.builders[t]
	if !ok {
		return fail(fmt.Errorf("no listener adapter registered for messaging type %s", t))
	}
	adapter, err := build(mctx, inv)
	if err != nil {
		return fail(fmt.Errorf("failed to build %s adapter: %w", t, err))
	}

	resolved := cfg
	resolved.Type = t
	if err := r.handler.RegisterAdapter(ctx, adapter, resolved); err != nil {
		return fail(err)
	}

	r.logger.Info().
		Str("listener", cfg.Identity()).
		Str("type", t.String()).
		Str("topic", cfg.Topic).
		Str("group", cfg.GroupID).
		Msg("listener registered")
	return nil
}

// RegisterAll registers cfgs in order and stops at the first failure.
func (r *Registry) RegisterAll(ctx context.Context, cfgs ...messaging.ListenerConfig) error {
	for _, cfg := range cfgs {
		if err := r.Register(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}
