// Package transport adapts the broker registry to the two operations the
// retry decorator needs: resolving a topic by name and publishing a payload
// to it.
package transport

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/safetynet/internal/runtime/config"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	"github.com/drblury/safetynet/internal/runtime/ids"
	"github.com/drblury/safetynet/internal/runtime/jsoncodec"
	"github.com/drblury/safetynet/internal/runtime/metadata"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
	brokers "github.com/drblury/safetynet/transport"

	// Register the built-in transports with the default registry.
	_ "github.com/drblury/safetynet/transport/transports"
)

// Factory builds the transport client from credentials.
type Factory interface {
	Build(ctx context.Context, creds *config.Credentials, logger watermill.LoggerAdapter) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, creds *config.Credentials, logger watermill.LoggerAdapter) (Client, error)

func (f FactoryFunc) Build(ctx context.Context, creds *config.Credentials, logger watermill.LoggerAdapter) (Client, error) {
	return f(ctx, creds, logger)
}

// Client resolves topics.
type Client interface {
	Topic(ctx context.Context, name string) (Topic, error)
	Close() error
}

// Topic is a resolved destination.
type Topic interface {
	Name() string
	Publish(ctx context.Context, p payloadpkg.Payload, opts ...PublishOption) error
}

// Subscribable is implemented by clients whose broker can also deliver
// messages, which the service host needs.
type Subscribable interface {
	Publisher() message.Publisher
	Subscriber() message.Subscriber
}

// DefaultFactory builds clients from the transport registry using
// creds.PubSubSystem.
func DefaultFactory() Factory {
	return registryFactory{registry: brokers.DefaultRegistry}
}

// RegistryFactory builds clients from a specific registry.
func RegistryFactory(registry *brokers.Registry) Factory {
	return registryFactory{registry: registry}
}

type registryFactory struct {
	registry *brokers.Registry
}

func (f registryFactory) Build(ctx context.Context, creds *config.Credentials, logger watermill.LoggerAdapter) (Client, error) {
	if creds == nil {
		creds = &config.Credentials{}
	}
	tr, err := f.registry.Build(ctx, creds, logger)
	if err != nil {
		return nil, err
	}
	return NewClient(tr, f.registry.Capabilities(brokers.SystemName(creds)))
}

// WatermillClient publishes payloads as Watermill messages.
type WatermillClient struct {
	transport brokers.Transport
	caps      brokers.Capabilities

	closeOnce sync.Once
	closeErr  error
}

// NewClient wraps a built transport. The publisher is required; the
// subscriber is only needed by the service host.
func NewClient(tr brokers.Transport, caps brokers.Capabilities) (*WatermillClient, error) {
	if tr.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	return &WatermillClient{transport: tr, caps: caps}, nil
}

// Topic resolves name. Publishers implementing TopicChecker are asked
// whether the topic exists; others accept any non-empty name.
func (c *WatermillClient) Topic(ctx context.Context, name string) (Topic, error) {
	if name == "" {
		return nil, errspkg.NewTransportError("resolve", name, errspkg.ErrTopicRequired)
	}
	if checker, ok := c.transport.Publisher.(brokers.TopicChecker); ok {
		exists, err := checker.TopicExists(ctx, name)
		if err != nil {
			return nil, errspkg.NewTransportError("resolve", name, err)
		}
		if !exists {
			return nil, errspkg.NewTransportError("resolve", name, errspkg.ErrTopicNotFound)
		}
	}
	return &watermillTopic{name: name, client: c}, nil
}

func (c *WatermillClient) Publisher() message.Publisher {
	return c.transport.Publisher
}

func (c *WatermillClient) Subscriber() message.Subscriber {
	return c.transport.Subscriber
}

// Capabilities returns what the underlying broker supports.
func (c *WatermillClient) Capabilities() brokers.Capabilities {
	return c.caps
}

// Close closes the underlying transport once.
func (c *WatermillClient) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// PublishOption customises an outgoing message.
type PublishOption func(*publishOptions)

type publishOptions struct {
	metadata metadata.Metadata
}

// WithMetadata adds headers to the published message.
func WithMetadata(md metadata.Metadata) PublishOption {
	return func(o *publishOptions) {
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

type watermillTopic struct {
	name   string
	client *WatermillClient
}

func (t *watermillTopic) Name() string {
	return t.name
}

// Publish encodes p as JSON into a message with a fresh ULID.
func (t *watermillTopic) Publish(ctx context.Context, p payloadpkg.Payload, opts ...PublishOption) error {
	if p == nil {
		return errspkg.NewTransportError("publish", t.name, errspkg.ErrPayloadRequired)
	}
	o := publishOptions{metadata: metadata.Metadata{}}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := jsoncodec.Marshal(p)
	if err != nil {
		return errspkg.NewTransportError("publish", t.name, err)
	}
	if !t.client.caps.Fits(len(body)) {
		return errspkg.NewTransportError("publish", t.name, errspkg.ErrMessageTooLarge)
	}

	msg := message.NewMessage(ids.NewMessageID(), body)
	msg.Metadata = metadata.ToWatermill(o.metadata)
	msg.SetContext(ctx)

	return errspkg.NewTransportError("publish", t.name, t.client.transport.Publisher.Publish(t.name, msg))
}
