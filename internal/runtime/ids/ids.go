// Package ids generates identifiers for messages published by safetynet.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
	now     = time.Now
)

// NewMessageID returns a time-sortable ULID. IDs generated by one process are
// strictly increasing, which keeps republished copies of a message ordered
// after the delivery that produced them.
func NewMessageID() string {
	mu.Lock()
	defer mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now()), entropy).String()
}

// Time extracts the creation time encoded in a message ID.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
