package runtime

import (
	"context"
	"time"

	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

// RetryContext describes a failed invocation to hooks.
type RetryContext struct {
	// Context is the invocation context.
	Context context.Context
	// Topic is the originating topic derived from the event resource.
	Topic string
	// Resource is the raw event resource.
	Resource string
	// Attempts is the counter after this failure was recorded.
	Attempts int
	// MaxRetries is the configured limit.
	MaxRetries int
	// Payload is the payload as it is republished. Hooks must not modify it.
	Payload payloadpkg.Payload
	// FailedAt is when the handler failure was observed.
	FailedAt time.Time
}

// RetryHooks are callbacks for the retry lifecycle.
// All hooks are optional - nil hooks are simply not called.
type RetryHooks struct {
	// OnFailure is called for every handler failure, before any republish.
	OnFailure func(ctx RetryContext, err error)

	// OnRedelivered is called once the payload was republished to its origin.
	OnRedelivered func(ctx RetryContext)

	// OnExhausted is called once the overflow policy has been applied.
	OnExhausted func(ctx RetryContext, err *errspkg.TooManyRetriesError)

	// OnTransportError is called when resolving or publishing failed.
	OnTransportError func(ctx RetryContext, err error)
}

// Merge combines two RetryHooks, creating a new RetryHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h RetryHooks) Merge(other RetryHooks) RetryHooks {
	return RetryHooks{
		OnFailure:        chain2(h.OnFailure, other.OnFailure),
		OnRedelivered:    chain1(h.OnRedelivered, other.OnRedelivered),
		OnExhausted:      chain2(h.OnExhausted, other.OnExhausted),
		OnTransportError: chain2(h.OnTransportError, other.OnTransportError),
	}
}

func chain1[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A) {
		a(x)
		b(x)
	}
}

func chain2[A, B any](a, b func(A, B)) func(A, B) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A, y B) {
		a(x, y)
		b(x, y)
	}
}

func (h RetryHooks) failure(ctx RetryContext, err error) {
	if h.OnFailure != nil {
		h.OnFailure(ctx, err)
	}
}

func (h RetryHooks) redelivered(ctx RetryContext) {
	if h.OnRedelivered != nil {
		h.OnRedelivered(ctx)
	}
}

func (h RetryHooks) exhausted(ctx RetryContext, err *errspkg.TooManyRetriesError) {
	if h.OnExhausted != nil {
		h.OnExhausted(ctx, err)
	}
}

func (h RetryHooks) transportError(ctx RetryContext, err error) {
	if h.OnTransportError != nil {
		h.OnTransportError(ctx, err)
	}
}

// AlertingHooks returns hooks that call alertFunc when a payload is given up
// on or cannot be republished.
func AlertingHooks(alertFunc func(ctx RetryContext, err error)) RetryHooks {
	return RetryHooks{
		OnExhausted: func(ctx RetryContext, err *errspkg.TooManyRetriesError) {
			alertFunc(ctx, err)
		},
		OnTransportError: alertFunc,
	}
}
