// Package jetstream provides a NATS JetStream transport built directly on
// nats.go. All topics live as subjects of one stream; each subscribed topic
// gets a durable pull consumer.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/safetynet/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "SAFETYNET"
	DefaultMaxDeliver = 5
	DefaultAckWait    = 30 * time.Second
	DefaultMaxAge     = 7 * 24 * time.Hour

	fetchBatch = 10
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("safetynet: jetstream transport is closed")

// JetStream is the part of nats.JetStreamContext the transport uses.
type JetStream interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	UpdateConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// ConnectFactory allows overriding the NATS connection for testing.
var ConnectFactory = func(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("safetynet"))
}

// JetStreamFactory allows overriding the JetStream context for testing.
var JetStreamFactory = func(nc *nats.Conn) (JetStream, error) {
	return nc.JetStream()
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a JetStream transport that serves as both publisher and
// subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetNATSStreamName(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream settings. Zero values take the package defaults.
type Config struct {
	URL        string
	StreamName string
	MaxDeliver int
	AckWait    time.Duration
	MaxAge     time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Transport publishes to and consumes from one JetStream stream.
type Transport struct {
	nc     *nats.Conn
	js     JetStream
	config Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
	done   chan struct{}
}

// New connects to NATS and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	cfg = cfg.withDefaults()

	nc, err := ConnectFactory(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("safetynet: connect to nats: %w", err)
	}
	js, err := JetStreamFactory(nc)
	if err != nil {
		closeConn(nc)
		return nil, fmt.Errorf("safetynet: jetstream context: %w", err)
	}

	t := newTransport(nc, js, cfg, logger)
	if err := t.ensureStream(); err != nil {
		closeConn(nc)
		return nil, err
	}
	return t, nil
}

func newTransport(nc *nats.Conn, js JetStream, cfg Config, logger watermill.LoggerAdapter) *Transport {
	return &Transport{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    t.config.MaxAge,
	}
	if _, err := t.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("safetynet: ensure stream %s: %w", t.config.StreamName, err)
	}
	return nil
}

// Subject maps a topic to its stream subject.
func (t *Transport) Subject(topic string) string {
	return t.config.StreamName + "." + topic
}

// TopicExists reports whether the backing stream is present. Every topic is
// a subject of that stream.
func (t *Transport) TopicExists(ctx context.Context, topic string) (bool, error) {
	_, err := t.js.StreamInfo(t.config.StreamName, nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Publish writes messages to the topic subject. The message UUID is sent as
// Nats-Msg-Id so JetStream deduplicates retried publishes.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	subject := t.Subject(topic)
	for _, msg := range messages {
		header := nats.Header{}
		for k, v := range msg.Metadata {
			header.Set(k, v)
		}
		header.Set(nats.MsgIdHdr, msg.UUID)

		if _, err := t.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: header}); err != nil {
			return fmt.Errorf("safetynet: publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates or updates the topic's durable consumer and streams its
// messages until ctx is done or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	subject := t.Subject(topic)
	durable := "safetynet_" + topic

	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
	}
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("safetynet: consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("safetynet: subscribe %s: %w", subject, err)
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	out := make(chan *message.Message)
	go t.consume(ctx, sub, topic, out)
	return out, nil
}

func (t *Transport) consume(ctx context.Context, sub *nats.Subscription, topic string, out chan<- *message.Message) {
	defer close(out)
	fields := watermill.LogFields{"topic": topic, "stream": t.config.StreamName}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		batch, err := sub.Fetch(fetchBatch, nats.MaxWait(time.Second))
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				return
			}
			t.logger.Error("JetStream fetch failed", err, fields)
			continue
		}

		for _, natsMsg := range batch {
			if !t.deliver(ctx, natsMsg, out, fields) {
				return
			}
		}
	}
}

func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, out chan<- *message.Message, fields watermill.LogFields) bool {
	msg := toWatermill(natsMsg)
	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}

	select {
	case <-msg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logger.Error("JetStream ack failed", err, fields)
		}
	case <-msg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			t.logger.Error("JetStream nak failed", err, fields)
		}
	case <-ctx.Done():
		return false
	}
	return true
}

func toWatermill(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = watermill.NewULID()
	}
	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops all consumers and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	var err error
	for _, sub := range subs {
		if unsubErr := sub.Unsubscribe(); unsubErr != nil && err == nil {
			err = unsubErr
		}
	}
	closeConn(t.nc)
	return err
}

func closeConn(nc *nats.Conn) {
	if nc != nil {
		nc.Close()
	}
}
