package runtime

import (
	"context"

	"github.com/drblury/safetynet/internal/runtime/envelope"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	metadatapkg "github.com/drblury/safetynet/internal/runtime/metadata"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
	transportpkg "github.com/drblury/safetynet/internal/runtime/transport"
)

// Publish emits p as a raw JSON object on topic through the catcher's
// transport client.
func (c *Catcher) Publish(ctx context.Context, topic string, p payloadpkg.Payload, md metadatapkg.Metadata) error {
	client, err := c.Client(ctx)
	if err != nil {
		return err
	}
	t, err := client.Topic(ctx, topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, p, transportpkg.WithMetadata(md))
}

// PublishWrapped emits p inside a Pub/Sub style envelope whose data field is
// the base64-encoded payload.
func (c *Catcher) PublishWrapped(ctx context.Context, topic string, p payloadpkg.Payload, md metadatapkg.Metadata) error {
	if p == nil {
		return errspkg.NewTransportError("publish", topic, errspkg.ErrPayloadRequired)
	}
	wrapped, err := envelope.Wrap(p)
	if err != nil {
		return err
	}
	return c.Publish(ctx, topic, payloadpkg.Payload{
		envelope.TypeKey: wrapped.Type,
		"data":           wrapped.Data,
	}, md)
}
