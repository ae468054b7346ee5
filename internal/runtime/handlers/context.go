// Package handlers adapts typed JSON and protobuf handlers to the payload
// handler shape the retry decorator wraps.
package handlers

import (
	"context"

	"github.com/drblury/safetynet/internal/runtime/envelope"
	metadatapkg "github.com/drblury/safetynet/internal/runtime/metadata"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

// PayloadHandler is the shape produced by the adapters. It is assignable to
// the decorator's Handler type.
type PayloadHandler[R any] = func(ctx context.Context, p payloadpkg.Payload, ev envelope.Event) (R, error)

// MessageContext describes the delivery a typed handler is processing.
type MessageContext struct {
	Event envelope.Event
	// Attempts is the number of earlier failed attempts, 0 on first delivery.
	Attempts int
	// Metadata holds the attributes of a wrapped envelope, empty otherwise.
	Metadata metadatapkg.Metadata
}

// Topic returns the originating topic.
func (c MessageContext) Topic() string {
	return c.Event.Topic()
}

// IsRedelivery reports whether an earlier attempt failed.
func (c MessageContext) IsRedelivery() bool {
	return c.Attempts > 0
}

// Get retrieves a metadata value by key.
func (c MessageContext) Get(key string) string {
	return c.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (c MessageContext) CorrelationID() string {
	return c.Metadata[metadatapkg.KeyCorrelationID]
}

// Option customises an adapter.
type Option func(*options)

type options struct {
	attemptsKey string
}

// keyFor picks the explicit option, then the key the decorator put on
// ctx, then DefaultAttemptsKey.
func (o options) keyFor(ctx context.Context) string {
	if o.attemptsKey != "" {
		return o.attemptsKey
	}
	if key, ok := payloadpkg.AttemptsKeyFromContext(ctx); ok {
		return key
	}
	return payloadpkg.DefaultAttemptsKey
}

// WithAttemptsKey sets the payload field holding the attempt counter. Without
// it the adapters use the key of the catcher invoking them, or "_attempts"
// when called outside a catcher.
func WithAttemptsKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.attemptsKey = key
		}
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func newMessageContext(p payloadpkg.Payload, ev envelope.Event, key string) MessageContext {
	mc := MessageContext{
		Event:    ev,
		Attempts: payloadpkg.Attempts(p, key),
		Metadata: metadatapkg.Metadata{},
	}
	switch env := ev.Data.(type) {
	case envelope.WrappedPayload:
		mc.Metadata = metadatapkg.Metadata(env.Attributes).Clone()
	case *envelope.WrappedPayload:
		if env != nil {
			mc.Metadata = metadatapkg.Metadata(env.Attributes).Clone()
		}
	}
	return mc
}
