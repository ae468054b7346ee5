package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/safetynet/internal/runtime/config"
	"github.com/drblury/safetynet/internal/runtime/envelope"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	loggingpkg "github.com/drblury/safetynet/internal/runtime/logging"
	"github.com/drblury/safetynet/internal/runtime/overflow"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
	"github.com/drblury/safetynet/internal/runtime/redelivery"
	transportpkg "github.com/drblury/safetynet/internal/runtime/transport"
)

// SpanName is the name of the span wrapping every decorated invocation.
const SpanName = "safetynet.Catch"

// Handler processes a decoded payload.
type Handler[R any] func(ctx context.Context, p payloadpkg.Payload, ev envelope.Event) (R, error)

// EventHandler processes a raw inbound event.
type EventHandler[R any] func(ctx context.Context, ev envelope.Event) (R, error)

// Catcher holds the frozen configuration and the lazily built transport
// client shared by every handler it wraps.
type Catcher struct {
	conf   configpkg.Config
	creds  configpkg.Credentials
	policy overflow.Policy

	factory  transportpkg.Factory
	logger   loggingpkg.ServiceLogger
	wmLogger watermill.LoggerAdapter
	metrics  *RetryMetrics
	tracer   trace.Tracer
	hooks    RetryHooks

	clientOnce sync.Once
	client     transportpkg.Client
	clientErr  error
}

// Config returns the configuration the Catcher was built with.
func (c *Catcher) Config() configpkg.Config {
	return c.conf
}

// Logger returns the service logger used by the Catcher.
func (c *Catcher) Logger() loggingpkg.ServiceLogger {
	return c.logger
}

// Metrics returns the retry metrics, or nil when disabled.
func (c *Catcher) Metrics() *RetryMetrics {
	return c.metrics
}

// Client returns the transport client, building it on the first call. The
// outcome of that first build, including an error, is kept for the lifetime
// of the Catcher.
func (c *Catcher) Client(ctx context.Context) (transportpkg.Client, error) {
	c.clientOnce.Do(func() {
		creds := c.creds
		client, err := c.factory.Build(ctx, &creds, c.wmLogger)
		if err == nil && client == nil {
			err = errspkg.ErrClientRequired
		}
		if err != nil {
			c.clientErr = errspkg.NewTransportError("connect", "", err)
			c.logger.Error("Failed to build transport client", err, loggingpkg.LogFields{
				"pubsub_system": creds.PubSubSystem,
			})
			return
		}
		c.client = client
	})
	return c.client, c.clientErr
}

// Close closes the transport client if it was built.
func (c *Catcher) Close() error {
	c.clientOnce.Do(func() {
		c.clientErr = errspkg.NewTransportError("connect", "", errCatcherClosed)
	})
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

var errCatcherClosed = errors.New("catcher is closed")

// Wrap decorates handler with payload-embedded retry tracking. The returned
// EventHandler decodes the envelope, calls handler and, on failure, either
// republishes the payload to its origin topic with an incremented counter or
// applies the overflow policy once the counter exceeds the limit.
//
// A nil handler or catcher yields an EventHandler that always fails.
func Wrap[R any](c *Catcher, handler Handler[R]) EventHandler[R] {
	if handler == nil {
		return func(context.Context, envelope.Event) (R, error) {
			var zero R
			return zero, errspkg.ErrHandlerRequired
		}
	}
	if c == nil {
		return func(context.Context, envelope.Event) (R, error) {
			var zero R
			return zero, errspkg.ErrCatcherRequired
		}
	}

	return func(ctx context.Context, ev envelope.Event) (R, error) {
		var zero R
		ctx, span := c.tracer.Start(ctx, SpanName, trace.WithAttributes(
			attribute.String("safetynet.resource", ev.Resource),
			attribute.String("safetynet.topic", ev.Topic()),
		))
		defer span.End()

		p, err := envelope.Decode(ev.Data)
		if err != nil {
			c.logger.Error("Failed to decode event envelope", err, loggingpkg.LogFields{
				"resource": ev.Resource,
			})
			recordSpanError(span, err)
			return zero, err
		}

		result, err := invoke(payloadpkg.ContextWithAttemptsKey(ctx, c.conf.AttemptsKey), handler, p, ev)
		if err == nil {
			return result, nil
		}

		err = c.handleFailure(ctx, span, ev, p, err)
		recordSpanError(span, err)
		return zero, err
	}
}

func invoke[R any](ctx context.Context, handler Handler[R], p payloadpkg.Payload, ev envelope.Event) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.HandlerPanicError{Value: r}
		}
	}()
	return handler(ctx, p, ev)
}

func (c *Catcher) handleFailure(ctx context.Context, span trace.Span, ev envelope.Event, p payloadpkg.Payload, cause error) error {
	topic := ev.Topic()
	attempts := payloadpkg.RecordFailure(p, c.conf.AttemptsKey)
	c.metrics.recordFailure(topic, attempts)

	rc := RetryContext{
		Context:    ctx,
		Topic:      topic,
		Resource:   ev.Resource,
		Attempts:   attempts,
		MaxRetries: c.conf.MaxRetries,
		Payload:    p,
		FailedAt:   time.Now(),
	}
	fields := loggingpkg.LogFields{
		"topic":       topic,
		"attempts":    attempts,
		"max_retries": c.conf.MaxRetries,
	}
	c.logger.Debug("Handler failed", fields.With("error", cause.Error()))
	c.hooks.failure(rc, cause)

	state := overflow.Evaluate(attempts, c.conf.MaxRetries)
	span.SetAttributes(
		attribute.Int("safetynet.attempts", attempts),
		attribute.String("safetynet.state", state.String()),
	)

	if state == overflow.Exhausted {
		return c.exhausted(rc, cause, fields)
	}

	client, err := c.Client(ctx)
	if err != nil {
		c.transportFailure(rc, err, fields)
		return err
	}
	err = redelivery.Redeliver(ctx, client, ev, p, attempts, cause)

	var redelivered *errspkg.RedeliveredError
	if errors.As(err, &redelivered) {
		c.metrics.recordRedelivery(topic)
		c.logger.Info("Redelivered failed payload", fields)
		c.hooks.redelivered(rc)
		return err
	}
	c.transportFailure(rc, err, fields)
	return err
}

func (c *Catcher) exhausted(rc RetryContext, cause error, fields loggingpkg.LogFields) error {
	var resolver overflow.Resolver
	if c.policy.Behavior == configpkg.FailBehaviorRepublish {
		client, err := c.Client(rc.Context)
		if err != nil {
			c.transportFailure(rc, err, fields)
			return err
		}
		resolver = client
	}

	err := c.policy.Apply(rc.Context, resolver, overflow.Failure{
		Payload:  rc.Payload,
		Origin:   rc.Topic,
		Attempts: rc.Attempts,
		Cause:    cause,
	})

	var tooMany *errspkg.TooManyRetriesError
	if !errors.As(err, &tooMany) {
		c.transportFailure(rc, err, fields)
		return err
	}

	c.metrics.recordExhausted(rc.Topic, string(c.policy.Behavior), tooMany.Topic)
	c.logger.Error("Retries exhausted", cause, fields.With("error_topic", tooMany.Topic))
	c.hooks.exhausted(rc, tooMany)
	return err
}

func (c *Catcher) transportFailure(rc RetryContext, err error, fields loggingpkg.LogFields) {
	op := "publish"
	var transportErr *errspkg.TransportError
	if errors.As(err, &transportErr) {
		op = transportErr.Op
	}
	c.metrics.recordTransportError(rc.Topic, op)
	c.logger.Error("Failed to republish payload", err, fields.With("op", op))
	c.hooks.transportError(rc, err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
