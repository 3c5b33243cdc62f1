package messaging

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoTypeAvailable  = errors.New("no messaging type available")
	ErrAmbiguousType    = errors.New("messaging type is ambiguous")
	ErrTypeUnavailable  = errors.New("messaging type is not available")
	ErrUnknownType      = errors.New("unknown messaging type")
	ErrEmptyDestination = errors.New("message destination must not be empty")
	ErrNoErrorHandler   = errors.New("no error handler registered for messaging type")
)

// ConfigurationError reports an ambiguous or unavailable broker type.
type ConfigurationError struct {
	Reason    string
	Available []MessagingType
	Cause     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("messaging configuration error: %s (available types: %s)", e.Reason, JoinTypes(e.Available))
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// RegistrationError wraps a listener registration failure with the target identity.
type RegistrationError struct {
	Target string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register listener %s: %v", e.Target, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// InvocationError is raised by an application handler while processing a message.
type InvocationError struct {
	Target string
	Type   MessagingType
	Topic  string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("listener %s failed on %s topic %q: %v", e.Target, e.Type, e.Topic, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// SendError is a producer-side failure.
type SendError struct {
	Type        MessagingType
	Destination string
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send to %q failed: %v", e.Type, e.Destination, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// NewSendError wraps err unless it is nil or already a *SendError.
func NewSendError(t MessagingType, destination string, err error) error {
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) {
		return err
	}
	return &SendError{Type: t, Destination: destination, Err: err}
}

// JoinTypes renders types for user-facing messages.
func JoinTypes(types []MessagingType) string {
	if len(types) == 0 {
		return "none"
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
