package detector

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// Options configures a TypeDetector.
type Options struct {
	// Disabled types are never reported as available.
	Disabled []messaging.MessagingType
	// DefaultType is used for Default listeners when more than one type is available.
	DefaultType messaging.MessagingType
	// Capabilities overrides the identifier checked for a type.
	Capabilities map[messaging.MessagingType]string
	// Checker defaults to GlobalRegistry.
	Checker CapabilityChecker
}

// TypeDetector discovers usable broker integrations once and answers type questions from that snapshot.
type TypeDetector struct {
	opts      Options
	logger    zerolog.Logger
	once      sync.Once
	available map[messaging.MessagingType]struct{}
}

func NewTypeDetector(opts Options, logger zerolog.Logger) *TypeDetector {
	if opts.Checker == nil {
		opts.Checker = GlobalRegistry
	}
	if opts.DefaultType == "" {
		opts.DefaultType = messaging.Default
	}
	return &TypeDetector{opts: opts, logger: logger}
}

// DetectAvailableTypes runs the presence checks. Only the first call does any work.
func (d *TypeDetector) DetectAvailableTypes() {
	d.once.Do(func() {
		disabled := make(map[messaging.MessagingType]bool, len(d.opts.Disabled))
		for _, t := range d.opts.Disabled {
			disabled[t] = true
		}

		available := make(map[messaging.MessagingType]struct{})
		for _, t := range messaging.SupportedTypes() {
			if disabled[t] {
				d.logger.Debug().Str("type", t.String()).Msg("messaging type disabled by configuration")
				continue
			}
			id := d.capabilityFor(t)
			if id == "" || !d.opts.Checker.HasCapability(id) {
				continue
			}
			available[t] = struct{}{}
		}
		d.available = available
		d.logger.Info().Strs("types", typeNames(d.sorted())).Msg("detected messaging types")
	})
}

func (d *TypeDetector) capabilityFor(t messaging.MessagingType) string {
	if id, ok := d.opts.Capabilities[t]; ok && id != "" {
		return id
	}
	return DefaultCapabilities[t]
}

// AvailableTypes returns the detected types in display order.
func (d *TypeDetector) AvailableTypes() []messaging.MessagingType {
	d.DetectAvailableTypes()
	return d.sorted()
}

func (d *TypeDetector) sorted() []messaging.MessagingType {
	out := make([]messaging.MessagingType, 0, len(d.available))
	for _, t := range messaging.SupportedTypes() {
		if _, ok := d.available[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// IsAvailable reports whether t was detected.
func (d *TypeDetector) IsAvailable(t messaging.MessagingType) bool {
	d.DetectAvailableTypes()
	_, ok := d.available[t]
	return ok
}

// ResolveType returns configured unchanged unless it is Default. For Default it picks the only
// available type, then the configured default type, and fails otherwise.
func (d *TypeDetector) ResolveType(configured messaging.MessagingType) (messaging.MessagingType, error) {
	if configured != messaging.Default && configured != "" {
		return configured, nil
	}

	available := d.AvailableTypes()
	switch {
	case len(available) == 1:
		return available[0], nil
	case d.opts.DefaultType != messaging.Default:
		return d.opts.DefaultType, nil
	case len(available) == 0:
		return "", &messaging.ConfigurationError{
			Reason: "no messaging type available",
			Cause:  messaging.ErrNoTypeAvailable,
		}
	default:
		return "", &messaging.ConfigurationError{
			Reason:    "multiple messaging types available and no default type configured; set the listener type or messaging.default_type",
			Available: available,
			Cause:     messaging.ErrAmbiguousType,
		}
	}
}

// Validate checks that the listener's type resolves to an available type.
func (d *TypeDetector) Validate(cfg messaging.ListenerConfig) error {
	if cfg.Type != "" && !cfg.Type.IsValid() {
		return &messaging.ConfigurationError{
			Reason:    fmt.Sprintf("unknown messaging type %q", cfg.Type),
			Available: d.AvailableTypes(),
			Cause:     messaging.ErrUnknownType,
		}
	}

	resolved, err := d.ResolveType(cfg.Type)
	if err != nil {
		return err
	}
	if !d.IsAvailable(resolved) {
		return &messaging.ConfigurationError{
			Reason:    fmt.Sprintf("messaging type %s is not available", resolved),
			Available: d.AvailableTypes(),
			Cause:     messaging.ErrTypeUnavailable,
		}
	}
	return nil
}

func typeNames(types []messaging.MessagingType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}
