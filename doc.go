// Package safetynet keeps a message's retry count inside the message itself.
// A handler wrapped with Wrap receives the decoded payload of an event. When
// it fails, the payload's attempts counter is incremented and the payload is
// republished to the topic it came from. Once the counter passes the
// configured retry limit the overflow policy decides the outcome: "error"
// returns a *TooManyRetriesError, "republish" also moves the payload to an
// error topic.
//
// A Setup collects Credentials and Options at start-up and is turned into a
// Catcher with Build. The Catcher owns the transport client, which is built
// on the first failure that needs it and shared by every wrapped handler:
//
//	setup := safetynet.NewSetup()
//	setup.Authenticate(safetynet.Credentials{PubSubSystem: "kafka", KafkaBrokers: brokers})
//	_ = setup.Configure(safetynet.Options{Retries: safetynet.Ptr(5)})
//	catcher, err := setup.Build(ctx, safetynet.Dependencies{Logger: logger})
//	handler := safetynet.Wrap(catcher, processOrder)
//
// Events carry either a raw JSON object or a wrapped message whose base64
// "data" field holds the object. In both shapes Event.Resource names the
// originating topic, usually as "topics/<name>".
//
// # Transports
//
// The transport client is selected by Credentials.PubSubSystem:
//   - channel: In-memory Go channels for testing
//   - kafka: Consumer groups on Kafka
//   - rabbitmq: AMQP durable queues
//   - aws: SNS/SQS, with LocalStack support
//   - nats and nats-jetstream: NATS core and JetStream
//   - http: Webhook style publishing
//   - io: File-based persistence
//   - sqlite and postgres (also postgresql): SQL backed queues
//
// # Service
//
// Service hosts a Watermill router that feeds deliveries into wrapped
// handlers registered with Subscribe. It adds correlation IDs, debug
// logging, tracing, optional Prometheus router metrics, a poison topic for
// undecodable messages and panic recovery. A status API on
// ServiceConfig.StatusAddr lists subscriptions and retry metrics.
//
// RetryHooks observe failures, redeliveries, exhaustion and transport
// errors; RetryMetrics exports the same events to Prometheus.
package safetynet
