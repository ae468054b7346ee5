package transport

// Capabilities describes what a transport backend offers to the retry
// decorator and the service host.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string

	// SupportsAck indicates the broker observes explicit acknowledgement.
	SupportsAck bool

	// SupportsNack indicates a nacked message is redelivered by the broker.
	SupportsNack bool

	// SupportsOrdering indicates messages on one topic arrive in publish order.
	SupportsOrdering bool

	// Durable indicates published messages survive a process restart.
	Durable bool

	// MaxMessageSize is the largest accepted payload in bytes, 0 if unbounded.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsAck:      true,
		SupportsOrdering: true,
		Durable:          true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		Durable:          true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1 << 20,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		Durable:          true,
		MaxMessageSize:   1 << 20,
	}

	// AWSCapabilities reflects the 256KB SNS/SQS payload limit.
	AWSCapabilities = Capabilities{
		Name:           "aws",
		SupportsAck:    true,
		SupportsNack:   true,
		Durable:        true,
		MaxMessageSize: 256 << 10,
	}

	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		Durable:          true,
	}

	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		Durable:          true,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsAck:      true,
		SupportsOrdering: true,
		Durable:          true,
	}
)
