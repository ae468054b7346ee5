package handlers

import (
	"context"
	"fmt"

	"github.com/drblury/safetynet/internal/runtime/envelope"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	jsoncodec "github.com/drblury/safetynet/internal/runtime/jsoncodec"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

// JSONMessageHandler processes a payload decoded into T.
type JSONMessageHandler[T any, R any] func(ctx context.Context, msg T, mc MessageContext) (R, error)

// JSON decodes the payload into T with the sonic codec before calling
// handler. The attempt counter is removed first so T never sees it. A payload
// that does not fit T fails the invocation with a *errors.DecodeError, which
// the decorator counts like any other failure.
func JSON[T any, R any](handler JSONMessageHandler[T, R], opts ...Option) (PayloadHandler[R], error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	o := applyOptions(opts)

	return func(ctx context.Context, p payloadpkg.Payload, ev envelope.Event) (R, error) {
		var zero R
		key := o.keyFor(ctx)
		mc := newMessageContext(p, ev, key)

		raw, err := jsoncodec.Marshal(p.Without(key))
		if err != nil {
			return zero, &errspkg.DecodeError{Err: err}
		}
		var typed T
		if err := jsoncodec.Unmarshal(raw, &typed); err != nil {
			return zero, &errspkg.DecodeError{Err: fmt.Errorf("unmarshal %T: %w", typed, err)}
		}
		return handler(ctx, typed, mc)
	}, nil
}
