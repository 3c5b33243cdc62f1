package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/broker"
	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/detector"
	"github.com/zoff-tech/go-messaging/pkg/invoker"
	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/store"
	"github.com/zoff-tech/go-messaging/pkg/telemetry"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

var (
	newIntegration = broker.NewIntegration
	newRepository  = store.NewRepository
	initTelemetry  = telemetry.Init
)

type options struct {
	checker       detector.CapabilityChecker
	errorHandlers invoker.ErrorHandlers
}

// Option customises New.
type Option func(*options)

// WithCapabilityChecker replaces the process-wide capability registry.
func WithCapabilityChecker(c detector.CapabilityChecker) Option {
	return func(o *options) { o.checker = c }
}

// WithErrorHandler replaces the default error hook for t.
func WithErrorHandler(t messaging.MessagingType, h invoker.ErrorHandler) Option {
	return func(o *options) { o.errorHandlers[t] = h }
}

// Messaging is the assembled messaging layer.
type Messaging struct {
	Detector *detector.TypeDetector
	Registry *listener.Registry
	Template *template.MessagingTemplate
	// Store is nil when no failed-message store is configured.
	Store store.FailedMessageRepository

	handler      *listener.RegistrationHandler
	integrations []*broker.Integration
	shutdown     func()
	logger       zerolog.Logger
}

// New detects the available broker types and wires one integration per type.
func New(ctx context.Context, settings *config.Settings, logger zerolog.Logger, opts ...Option) (*Messaging, error) {
	o := options{errorHandlers: invoker.ErrorHandlers{}}
	for _, opt := range opts {
		opt(&o)
	}

	disabled, err := settings.Messaging.Disabled()
	if err != nil {
		return nil, err
	}
	// A linked broker without a settings section is treated as disabled.
	for _, t := range messaging.SupportedTypes() {
		if !settings.BrokerConfigured(t) && !slices.Contains(disabled, t) {
			logger.Debug().Str("type", t.String()).Msg("messaging type has no settings section, skipping")
			disabled = append(disabled, t)
		}
	}
	defaultType, err := settings.Messaging.Default()
	if err != nil {
		return nil, err
	}
	capabilities, err := settings.Messaging.CapabilityOverrides()
	if err != nil {
		return nil, err
	}

	m := &Messaging{
		Detector: detector.NewTypeDetector(detector.Options{
			Disabled:     disabled,
			DefaultType:  defaultType,
			Capabilities: capabilities,
			Checker:      o.checker,
		}, logger),
		Template: template.New(),
		handler:  listener.NewRegistrationHandler(),
		logger:   logger,
	}

	if settings.Observability.Enabled {
		shutdown, err := initTelemetry(settings.Observability, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		m.shutdown = shutdown
	}

	if settings.Store.Type != "" {
		repo, err := newRepository(ctx, settings.Store)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to open %s store: %w", settings.Store.Type, err)
		}
		m.Store = repo
	}

	hooks := invoker.ErrorHandlers{}
	available := m.Detector.AvailableTypes()
	for _, t := range available {
		integration, err := newIntegration(ctx, t, settings, logger)
		if err != nil {
			_ = m.Close()
			if errors.Is(err, broker.ErrMissingSettings) {
				return nil, &messaging.ConfigurationError{
					Reason:    fmt.Sprintf("%s is available but not configured; add its settings or list it in messaging.disabled_types", t),
					Available: available,
					Cause:     err,
				}
			}
			return nil, fmt.Errorf("failed to start %s integration: %w", t, err)
		}
		m.integrations = append(m.integrations, integration)
		m.handler.RegisterFactory(t, integration.ContainerFactory)
		m.Template.RegisterAdapter(integration.TemplateAdapter)

		hooks[t] = defaultErrorHandler(m.Store, logger.With().Str("type", t.String()).Logger())
		if h, ok := o.errorHandlers[t]; ok {
			hooks[t] = h
		}
	}

	m.Registry = listener.NewRegistry(m.Detector, m.handler, hooks, logger)
	for _, integration := range m.integrations {
		m.Registry.RegisterAdapterBuilder(integration.Type, integration.AdapterBuilder)
	}

	logger.Info().Str("types", messaging.JoinTypes(available)).Bool("store", m.Store != nil).Msg("messaging started")
	return m, nil
}

// Register registers listeners through the registry.
func (m *Messaging) Register(ctx context.Context, cfgs ...messaging.ListenerConfig) error {
	return m.Registry.RegisterAll(ctx, cfgs...)
}

// Close stops containers, flushes producers, then releases clients, the store and telemetry.
func (m *Messaging) Close() error {
	var errs []error
	errs = append(errs, m.handler.Close(), m.Template.Close())
	for i := len(m.integrations) - 1; i >= 0; i-- {
		errs = append(errs, m.integrations[i].Close())
	}
	m.integrations = nil
	if m.Store != nil {
		errs = append(errs, m.Store.Close())
		m.Store = nil
	}
	if m.shutdown != nil {
		m.shutdown()
		m.shutdown = nil
	}
	return errors.Join(errs...)
}
