package broker

import (
	"errors"

	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

// Integration bundles everything one broker kind contributes.
type Integration struct {
	Type             messaging.MessagingType
	AdapterBuilder   listener.AdapterBuilder
	ContainerFactory listener.ContainerFactory
	TemplateAdapter  template.TemplateAdapter

	// closers release clients shared by the template adapter and the container factory.
	closers []func() error
}

// Close releases shared clients. Close the template adapter and the container factory first.
func (i *Integration) Close() error {
	var errs []error
	for j := len(i.closers) - 1; j >= 0; j-- {
		errs = append(errs, i.closers[j]())
	}
	i.closers = nil
	return errors.Join(errs...)
}
