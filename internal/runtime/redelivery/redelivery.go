// Package redelivery republishes a failed payload to the topic it came from
// so the broker delivers it again with the incremented counter.
package redelivery

import (
	"context"

	"github.com/drblury/safetynet/internal/runtime/envelope"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	"github.com/drblury/safetynet/internal/runtime/metadata"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
	"github.com/drblury/safetynet/internal/runtime/transport"
)

// Resolver resolves a topic by name. transport.Client satisfies it.
type Resolver interface {
	Topic(ctx context.Context, name string) (transport.Topic, error)
}

// Redeliver publishes p to the topic named by the last segment of
// ev.Resource. On success it returns a *errors.RedeliveredError wrapping
// cause; resolution and publish failures come back as *errors.TransportError.
func Redeliver(ctx context.Context, resolver Resolver, ev envelope.Event, p payloadpkg.Payload, attempt int, cause error) error {
	name := ev.Topic()
	if name == "" {
		return errspkg.NewTransportError("resolve", name, errspkg.ErrTopicRequired)
	}
	if resolver == nil {
		return errspkg.NewTransportError("resolve", name, errspkg.ErrClientRequired)
	}

	topic, err := resolver.Topic(ctx, name)
	if err != nil {
		return errspkg.NewTransportError("resolve", name, err)
	}
	md := metadata.ForRedelivery(name, attempt, cause)
	if err := topic.Publish(ctx, p, transport.WithMetadata(md)); err != nil {
		return errspkg.NewTransportError("publish", name, err)
	}
	return &errspkg.RedeliveredError{Topic: topic.Name(), Attempt: attempt, Err: cause}
}
