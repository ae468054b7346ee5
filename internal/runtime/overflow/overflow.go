// Package overflow decides what happens to a payload whose attempt counter
// has passed the configured limit.
package overflow

import (
	"context"

	"github.com/drblury/safetynet/internal/runtime/config"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	"github.com/drblury/safetynet/internal/runtime/metadata"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
	"github.com/drblury/safetynet/internal/runtime/transport"
)

// State is the outcome of comparing an attempt count against the limit.
type State int

const (
	// Continuing means another redelivery is allowed.
	Continuing State = iota
	// Exhausted means the counter exceeded the limit.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Continuing:
		return "continuing"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Evaluate returns Exhausted once count is strictly greater than maxRetries.
func Evaluate(count, maxRetries int) State {
	if count > maxRetries {
		return Exhausted
	}
	return Continuing
}

// Resolver resolves a topic by name. transport.Client satisfies it.
type Resolver interface {
	Topic(ctx context.Context, name string) (transport.Topic, error)
}

// Policy applies the configured fail behaviour to an exhausted payload.
type Policy struct {
	Behavior   config.FailBehavior
	ErrorTopic string
}

// NewPolicy copies the overflow settings out of cfg.
func NewPolicy(cfg config.Config) Policy {
	return Policy{Behavior: cfg.FailBehavior, ErrorTopic: cfg.ErrorTopic}
}

// Failure describes the exhausted delivery.
type Failure struct {
	Payload  payloadpkg.Payload
	Origin   string
	Attempts int
	Cause    error
}

// Apply always returns a non-nil error. With the error behaviour it is a
// *errors.TooManyRetriesError and the resolver is never called. With the
// republish behaviour the payload is first published to ErrorTopic; a
// resolve or publish failure is returned in place of the retry error.
func (p Policy) Apply(ctx context.Context, resolver Resolver, f Failure) error {
	if p.Behavior != config.FailBehaviorRepublish {
		return &errspkg.TooManyRetriesError{Payload: f.Payload}
	}
	if resolver == nil {
		return errspkg.NewTransportError("resolve", p.ErrorTopic, errspkg.ErrClientRequired)
	}

	topic, err := resolver.Topic(ctx, p.ErrorTopic)
	if err != nil {
		return errspkg.NewTransportError("resolve", p.ErrorTopic, err)
	}
	md := metadata.ForDeadLetter(f.Origin, f.Attempts, f.Cause)
	if err := topic.Publish(ctx, f.Payload, transport.WithMetadata(md)); err != nil {
		return errspkg.NewTransportError("publish", p.ErrorTopic, err)
	}
	return &errspkg.TooManyRetriesError{Payload: f.Payload, Topic: topic.Name()}
}
