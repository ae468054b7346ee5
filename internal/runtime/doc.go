/*
Package runtime implements the retry decorator behind safetynet.

# Flow

Wrap returns an EventHandler that, per invocation:
  - decodes the event envelope into a payload (envelope/)
  - runs the handler inside a "safetynet.Catch" span, recovering panics
  - on failure increments the attempts counter (payload/)
  - below the limit republishes the payload to its origin (redelivery/)
  - past the limit applies the fail behaviour (overflow/)

The transport client (transport/) is built lazily by the Catcher the first
time a republish needs it and is reused afterwards.

# Files

  - setup.go: Setup and Build, the start-up configuration layer
  - catcher.go: Catcher and Wrap
  - hooks.go: RetryHooks lifecycle callbacks
  - metrics.go: Prometheus retry counters and an in-memory snapshot
  - publisher.go: publishing raw or wrapped payloads through the catcher
  - service.go, middleware.go: Watermill router host and its middleware chain
  - status.go: HTTP status API for subscriptions and retry metrics

# Sub-packages

  - config/: Config, Options and broker Credentials
  - errors/: Sentinel errors and error types
  - handlers/: Typed JSON and protobuf handler adapters
  - ids/: ULID message IDs
  - jsoncodec/: JSON codec
  - logging/: Logger interface and adapters
  - metadata/: Message metadata keys
*/
package runtime
