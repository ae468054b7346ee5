// Package envelope models the outer event structure delivered by the broker
// runtime and turns it into a plain payload.
//
// Two envelope shapes exist. RawPayload is a JSON object that already is the
// payload. WrappedPayload is a Pub/Sub message whose "data" field holds
// base64-encoded JSON. ParseEnvelope classifies raw bytes at the JSON
// boundary; everything downstream works on the typed variant.
package envelope

import (
	"encoding/base64"
	"strings"

	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	jsoncodec "github.com/drblury/safetynet/internal/runtime/jsoncodec"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

// TypeKey is the marker field carried by wrapped envelopes.
const TypeKey = "@type"

// WrappedTypeSuffix identifies a wrapped Pub/Sub message, for example
// "type.googleapis.com/google.pubsub.v1.PubsubMessage".
const WrappedTypeSuffix = "PubsubMessage"

// PubsubMessageType is the full type URL used by Google Cloud Pub/Sub.
const PubsubMessageType = "type.googleapis.com/google.pubsub.v1.PubsubMessage"

// Envelope is either a RawPayload or a WrappedPayload.
type Envelope interface {
	isEnvelope()
}

// RawPayload is an envelope whose content is the payload itself.
type RawPayload struct {
	Payload payloadpkg.Payload
}

// WrappedPayload is a broker message whose Data field carries the payload as
// base64-encoded UTF-8 JSON text.
type WrappedPayload struct {
	Type       string
	Data       string
	MessageID  string
	Attributes map[string]string
}

func (RawPayload) isEnvelope()     {}
func (WrappedPayload) isEnvelope() {}

// Raw builds a RawPayload envelope.
func Raw(p payloadpkg.Payload) RawPayload {
	return RawPayload{Payload: p}
}

// Wrap encodes p and builds a WrappedPayload envelope around it.
func Wrap(p payloadpkg.Payload) (WrappedPayload, error) {
	data, err := jsoncodec.Marshal(p)
	if err != nil {
		return WrappedPayload{}, err
	}
	return WrappedPayload{
		Type: PubsubMessageType,
		Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Event is one inbound delivery. Resource is a path-like identifier whose
// final segment names the originating topic, e.g. "projects/p/topics/orders".
type Event struct {
	Data     Envelope
	Resource string
}

// Topic returns the originating topic derived from Resource.
func (e Event) Topic() string {
	return TopicFromResource(e.Resource)
}

// TopicFromResource returns the last "/"-separated segment of resource.
func TopicFromResource(resource string) string {
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}

// IsWrappedType reports whether a "@type" value marks a wrapped envelope.
func IsWrappedType(typ string) bool {
	return strings.HasSuffix(typ, WrappedTypeSuffix)
}

// ParseEnvelope classifies a JSON object. An object with a "@type" string
// ending in "PubsubMessage" becomes a WrappedPayload, anything else a
// RawPayload. Input that is not a JSON object yields a *errors.DecodeError.
func ParseEnvelope(data []byte) (Envelope, error) {
	obj, ok, err := jsoncodec.UnmarshalObject(data)
	if err != nil {
		return nil, &errspkg.DecodeError{Err: err}
	}
	if !ok {
		return nil, &errspkg.DecodeError{Err: errspkg.ErrNotAnObject}
	}
	return FromObject(obj)
}

// FromObject classifies an already decoded JSON object.
func FromObject(obj map[string]any) (Envelope, error) {
	typ, _ := obj[TypeKey].(string)
	if !IsWrappedType(typ) {
		return Raw(obj), nil
	}

	wrapped := WrappedPayload{Type: typ}
	switch data := obj["data"].(type) {
	case string:
		wrapped.Data = data
	case nil:
	default:
		return nil, &errspkg.DecodeError{Err: errInvalidData}
	}
	wrapped.MessageID, _ = obj["messageId"].(string)
	if attrs, ok := obj["attributes"].(map[string]any); ok {
		wrapped.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			if s, ok := v.(string); ok {
				wrapped.Attributes[k] = s
			}
		}
	}
	return wrapped, nil
}
