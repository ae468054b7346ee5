package transport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/safetynet/internal/runtime/config"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	"github.com/drblury/safetynet/internal/runtime/ids"
	"github.com/drblury/safetynet/internal/runtime/jsoncodec"
	"github.com/drblury/safetynet/internal/runtime/metadata"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
	brokers "github.com/drblury/safetynet/transport"
	"github.com/drblury/safetynet/transport/transporttest"
)

type checkingPublisher struct {
	transporttest.Publisher
	exists bool
	err    error
}

func (c *checkingPublisher) TopicExists(ctx context.Context, topic string) (bool, error) {
	return c.exists, c.err
}

func newTestClient(t *testing.T) (*WatermillClient, *transporttest.Publisher) {
	t.Helper()
	pub := &transporttest.Publisher{}
	client, err := NewClient(brokers.Transport{Publisher: pub}, brokers.ChannelCapabilities)
	require.NoError(t, err)
	return client, pub
}

func TestNewClientRequiresPublisher(t *testing.T) {
	_, err := NewClient(brokers.Transport{}, brokers.Capabilities{})
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}

func TestTopicPublish(t *testing.T) {
	client, pub := newTestClient(t)

	topic, err := client.Topic(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", topic.Name())

	err = topic.Publish(context.Background(), payloadpkg.Payload{"x": 1, "_attempts": 2},
		WithMetadata(metadata.ForRedelivery("orders", 2, errors.New("boom"))),
	)
	require.NoError(t, err)

	require.Len(t, pub.Calls, 1)
	call := pub.Calls[0]
	assert.Equal(t, "orders", call.Topic)
	require.Len(t, call.Messages, 1)

	msg := call.Messages[0]
	_, err = ids.Time(msg.UUID)
	assert.NoError(t, err, "message UUID should be a ULID")
	assert.JSONEq(t, `{"x":1,"_attempts":2}`, string(msg.Payload))
	assert.Equal(t, "2", msg.Metadata.Get(metadata.KeyAttempts))
	assert.Equal(t, "orders", msg.Metadata.Get(metadata.KeyOriginTopic))
	assert.Equal(t, "boom", msg.Metadata.Get(metadata.KeyError))
}

func TestTopicResolveErrors(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Topic(context.Background(), "")
	var transportErr *errspkg.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "resolve", transportErr.Op)
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
}

func TestTopicUsesTopicChecker(t *testing.T) {
	pub := &checkingPublisher{exists: false}
	client, err := NewClient(brokers.Transport{Publisher: pub}, brokers.Capabilities{})
	require.NoError(t, err)

	_, err = client.Topic(context.Background(), "missing")
	assert.ErrorIs(t, err, errspkg.ErrTopicNotFound)

	boom := errors.New("stream info failed")
	pub.err = boom
	_, err = client.Topic(context.Background(), "orders")
	assert.ErrorIs(t, err, boom)

	pub.err = nil
	pub.exists = true
	topic, err := client.Topic(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", topic.Name())
}

func TestPublishErrors(t *testing.T) {
	t.Run("publisher failure", func(t *testing.T) {
		client, pub := newTestClient(t)
		boom := errors.New("broker down")
		pub.Err = boom

		topic, err := client.Topic(context.Background(), "orders")
		require.NoError(t, err)

		err = topic.Publish(context.Background(), payloadpkg.Payload{})
		var transportErr *errspkg.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, "publish", transportErr.Op)
		assert.Equal(t, "orders", transportErr.Topic)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil payload", func(t *testing.T) {
		client, _ := newTestClient(t)
		topic, err := client.Topic(context.Background(), "orders")
		require.NoError(t, err)
		assert.ErrorIs(t, topic.Publish(context.Background(), nil), errspkg.ErrPayloadRequired)
	})

	t.Run("too large", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		client, err := NewClient(brokers.Transport{Publisher: pub}, brokers.Capabilities{MaxMessageSize: 16})
		require.NoError(t, err)
		topic, err := client.Topic(context.Background(), "orders")
		require.NoError(t, err)

		err = topic.Publish(context.Background(), payloadpkg.Payload{"blob": strings.Repeat("x", 32)})
		assert.ErrorIs(t, err, errspkg.ErrMessageTooLarge)
		assert.Empty(t, pub.Calls)
	})
}

func TestClientAccessorsAndClose(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	client, err := NewClient(brokers.Transport{Publisher: pub, Subscriber: sub}, brokers.KafkaCapabilities)
	require.NoError(t, err)

	var s Subscribable = client
	assert.Same(t, pub, s.Publisher())
	assert.Same(t, sub, s.Subscriber())
	assert.Equal(t, brokers.KafkaCapabilities, client.Capabilities())

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.True(t, pub.Closed)
	assert.True(t, sub.Closed)
}

func TestRegistryFactory(t *testing.T) {
	registry := brokers.NewRegistry()
	pub := &transporttest.Publisher{}
	registry.RegisterWithCapabilities("fake", func(ctx context.Context, cfg brokers.Config, logger watermill.LoggerAdapter) (brokers.Transport, error) {
		return brokers.Transport{Publisher: pub}, nil
	}, brokers.Capabilities{Name: "fake", SupportsAck: true})

	client, err := RegistryFactory(registry).Build(context.Background(), &config.Credentials{PubSubSystem: "fake"}, nil)
	require.NoError(t, err)
	wc, ok := client.(*WatermillClient)
	require.True(t, ok)
	assert.Equal(t, "fake", wc.Capabilities().Name)

	_, err = RegistryFactory(registry).Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, brokers.ErrUnknownTransport, "nil credentials select the default channel transport")
}

func TestDefaultFactoryBuildsChannel(t *testing.T) {
	client, err := DefaultFactory().Build(context.Background(), &config.Credentials{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer client.Close()

	wc := client.(*WatermillClient)
	assert.Equal(t, brokers.ChannelCapabilities, wc.Capabilities())
	assert.NotNil(t, wc.Subscriber())
}

func TestFactoryFunc(t *testing.T) {
	called := false
	var f Factory = FactoryFunc(func(ctx context.Context, creds *config.Credentials, logger watermill.LoggerAdapter) (Client, error) {
		called = true
		return nil, nil
	})
	_, err := f.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestPayloadRoundTripKeepsIntegerCounter(t *testing.T) {
	client, pub := newTestClient(t)
	topic, err := client.Topic(context.Background(), "orders")
	require.NoError(t, err)

	p := payloadpkg.Payload{}
	payloadpkg.RecordFailure(p, payloadpkg.DefaultAttemptsKey)
	require.NoError(t, topic.Publish(context.Background(), p))

	decoded, ok, err := jsoncodec.UnmarshalObject(pub.Calls[0].Messages[0].Payload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, payloadpkg.Attempts(decoded, payloadpkg.DefaultAttemptsKey))
}
