package envelope

import (
	"encoding/base64"
	sterrors "errors"

	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	jsoncodec "github.com/drblury/safetynet/internal/runtime/jsoncodec"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

var errInvalidData = sterrors.New("wrapped envelope data must be a base64 string")

// Decode normalises an envelope into a mutable payload. Wrapped envelopes are
// base64-decoded and parsed; raw envelopes are returned as is. Failures are
// reported as *errors.DecodeError.
func Decode(env Envelope) (payloadpkg.Payload, error) {
	switch e := env.(type) {
	case RawPayload:
		if e.Payload == nil {
			return payloadpkg.Payload{}, nil
		}
		return e.Payload, nil
	case *RawPayload:
		if e == nil {
			return nil, &errspkg.DecodeError{Err: errspkg.ErrEnvelopeRequired}
		}
		return Decode(*e)
	case WrappedPayload:
		return decodeWrapped(e)
	case *WrappedPayload:
		if e == nil {
			return nil, &errspkg.DecodeError{Err: errspkg.ErrEnvelopeRequired}
		}
		return decodeWrapped(*e)
	default:
		return nil, &errspkg.DecodeError{Err: errspkg.ErrEnvelopeRequired}
	}
}

func decodeWrapped(e WrappedPayload) (payloadpkg.Payload, error) {
	raw, err := decodeBase64(e.Data)
	if err != nil {
		return nil, &errspkg.DecodeError{Err: err}
	}
	obj, ok, err := jsoncodec.UnmarshalObject(raw)
	if err != nil {
		return nil, &errspkg.DecodeError{Err: err}
	}
	if !ok {
		return nil, &errspkg.DecodeError{Err: errspkg.ErrNotAnObject}
	}
	return obj, nil
}

// decodeBase64 accepts padded standard base64 and, failing that, the
// unpadded form some publishers emit.
func decodeBase64(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err == nil {
		return raw, nil
	}
	if unpadded, rawErr := base64.RawStdEncoding.DecodeString(data); rawErr == nil {
		return unpadded, nil
	}
	return nil, err
}
