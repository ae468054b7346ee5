package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/safetynet/internal/runtime/envelope"
	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// ProtoMessageHandler processes a payload decoded into the protobuf message T.
type ProtoMessageHandler[T proto.Message, R any] func(ctx context.Context, msg T, mc MessageContext) (R, error)

// Proto decodes the payload into a fresh T using protojson. Unknown fields,
// including the attempt counter, are discarded. T must be a pointer message
// type such as *orderpb.OrderCreated.
func Proto[T proto.Message, R any](handler ProtoMessageHandler[T, R], opts ...Option) (PayloadHandler[R], error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	var candidate T
	prototype, err := EnsureProtoPrototype(candidate)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	return func(ctx context.Context, p payloadpkg.Payload, ev envelope.Event) (R, error) {
		var zero R
		key := o.keyFor(ctx)
		mc := newMessageContext(p, ev, key)

		st, err := p.Without(key).ToStruct()
		if err != nil {
			return zero, &errspkg.DecodeError{Err: err}
		}
		raw, err := protojson.Marshal(st)
		if err != nil {
			return zero, &errspkg.DecodeError{Err: err}
		}

		typed, err := clonePrototype(prototype)
		if err != nil {
			return zero, err
		}
		if err := protoJSONUnmarshalOptions.Unmarshal(raw, typed); err != nil {
			return zero, &errspkg.DecodeError{Err: fmt.Errorf("unmarshal %T: %w", prototype, err)}
		}
		return handler(ctx, typed, mc)
	}, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrConsumeMessageTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a new zero message of its type
// when candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrConsumeMessagePointerNeeded
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
