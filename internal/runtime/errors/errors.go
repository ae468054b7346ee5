package errors

import (
	sterrors "errors"
	"fmt"

	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

var (
	ErrCatcherRequired             = sterrors.New("safetynet: catcher is required")
	ErrServiceRequired             = sterrors.New("safetynet: service is required")
	ErrHandlerRequired             = sterrors.New("safetynet: handler function is required")
	ErrHandlerNameRequired         = sterrors.New("safetynet: handler name is required")
	ErrTopicRequired               = sterrors.New("safetynet: topic is required")
	ErrPublisherRequired           = sterrors.New("safetynet: publisher is required")
	ErrClientRequired              = sterrors.New("safetynet: transport client is required")
	ErrSubscriberRequired          = sterrors.New("safetynet: transport has no subscriber")
	ErrTopicNotFound               = sterrors.New("safetynet: topic not found")
	ErrMessageTooLarge             = sterrors.New("safetynet: message exceeds transport size limit")
	ErrLoggerRequired              = sterrors.New("safetynet: logger is required")
	ErrPayloadRequired             = sterrors.New("safetynet: payload is required")
	ErrEnvelopeRequired            = sterrors.New("safetynet: event envelope is required")
	ErrNotAnObject                 = sterrors.New("safetynet: payload is not a JSON object")
	ErrConsumeMessageTypeRequired  = sterrors.New("safetynet: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("safetynet: consume message type must be a pointer")
)

// ErrTooManyRetries matches every *TooManyRetriesError via errors.Is.
var ErrTooManyRetries = sterrors.New("safetynet: too many retries attempted")

// ConfigurationError reports an option value that cannot be accepted.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("safetynet: invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("safetynet: invalid %s %q", e.Field, e.Value)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DecodeError wraps a failure to turn an envelope into a payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "safetynet: decode envelope: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TooManyRetriesError is produced once the attempt counter exceeds the
// configured limit. Topic is set when the payload was dead-lettered.
type TooManyRetriesError struct {
	Payload payloadpkg.Payload
	Topic   string
}

func (e *TooManyRetriesError) Error() string {
	if e.Topic != "" {
		return "Too many retries attempted, publishing to " + e.Topic
	}
	return "Too many retries attempted, aborting"
}

func (e *TooManyRetriesError) Is(target error) bool {
	return target == ErrTooManyRetries
}

// DeadLettered reports whether the payload was published to a dead-letter topic.
func (e *TooManyRetriesError) DeadLettered() bool {
	return e.Topic != ""
}

// TransportError wraps a failure from topic resolution or publishing.
type TransportError struct {
	Op    string
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("safetynet: %s topic %q: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err unless it is nil or already a *TransportError.
func NewTransportError(op, topic string, err error) error {
	if err == nil {
		return nil
	}
	var existing *TransportError
	if sterrors.As(err, &existing) {
		return err
	}
	return &TransportError{Op: op, Topic: topic, Err: err}
}

// RedeliveredError carries the handler failure after the payload was
// republished to its origin topic for another attempt.
type RedeliveredError struct {
	Topic   string
	Attempt int
	Err     error
}

func (e *RedeliveredError) Error() string {
	return e.Err.Error()
}

func (e *RedeliveredError) Unwrap() error {
	return e.Err
}

// HandlerPanicError converts a recovered handler panic into an error.
type HandlerPanicError struct {
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("safetynet: handler panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *HandlerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
