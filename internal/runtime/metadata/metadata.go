package metadata

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Header keys written on messages republished by safetynet.
const (
	// KeyAttempts mirrors the payload attempt counter for brokers and tooling
	// that only look at headers.
	KeyAttempts = "safetynet_attempts"
	// KeyOriginTopic names the topic the failed delivery came from.
	KeyOriginTopic = "safetynet_origin_topic"
	// KeyDeadLetter is "true" on messages sent to the error topic.
	KeyDeadLetter = "safetynet_dead_letter"
	// KeyError carries the last handler error message.
	KeyError = "safetynet_error"
	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// Attempts returns the KeyAttempts header as an integer, 0 when missing.
func (m Metadata) Attempts() int {
	n, err := strconv.Atoi(m[KeyAttempts])
	if err != nil {
		return 0
	}
	return n
}

// ForRedelivery builds the headers for a payload republished to its origin.
func ForRedelivery(origin string, attempts int, cause error) Metadata {
	md := Metadata{
		KeyOriginTopic: origin,
		KeyAttempts:    strconv.Itoa(attempts),
	}
	if cause != nil {
		md[KeyError] = cause.Error()
	}
	return md
}

// ForDeadLetter builds the headers for a payload published to the error topic.
func ForDeadLetter(origin string, attempts int, cause error) Metadata {
	md := ForRedelivery(origin, attempts, cause)
	md[KeyDeadLetter] = "true"
	return md
}

// FromWatermill converts Watermill metadata into safetynet metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill converts safetynet metadata into a Watermill map.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		wm[k] = v
	}
	return wm
}
