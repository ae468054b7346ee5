// Package transport defines the broker contract used by safetynet. Each
// transport implementation lives in its own sub-package and registers a
// Builder with the registry under the name selected by
// Credentials.PubSubSystem.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
// Subscriber may be nil for publish-only transports.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and, when it is a distinct value, the subscriber.
func (t Transport) Close() error {
	var err error
	if t.Publisher != nil {
		err = t.Publisher.Close()
	}
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		if subErr := t.Subscriber.Close(); subErr != nil && err == nil {
			err = subErr
		}
	}
	return err
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings transports read. It is satisfied by
// *config.Credentials so transports never depend on the runtime packages.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string
	GetNATSStreamName() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetIOFile() string

	GetSQLiteFile() string

	GetPostgresURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// TopicChecker is implemented by publishers that can tell whether a topic is
// reachable before anything is published to it. Topic resolution uses it when
// available and otherwise assumes the topic exists.
type TopicChecker interface {
	TopicExists(ctx context.Context, topic string) (bool, error)
}

// QueueIntrospector is implemented by transports that can report how many
// messages are waiting on a topic.
type QueueIntrospector interface {
	PendingCount(ctx context.Context, topic string) (int64, error)
}
