package metadata

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestCloneAndWith(t *testing.T) {
	md := Metadata{"a": "1"}

	with := md.With("b", "2")

	assert.Equal(t, Metadata{"a": "1"}, md)
	assert.Equal(t, Metadata{"a": "1", "b": "2"}, with)

	var empty Metadata
	assert.NotNil(t, empty.Clone())
}

func TestForRedelivery(t *testing.T) {
	md := ForRedelivery("orders", 2, errors.New("boom"))

	assert.Equal(t, "orders", md[KeyOriginTopic])
	assert.Equal(t, 2, md.Attempts())
	assert.Equal(t, "boom", md[KeyError])
	assert.NotContains(t, md, KeyDeadLetter)
}

func TestForDeadLetter(t *testing.T) {
	md := ForDeadLetter("orders", 4, nil)

	assert.Equal(t, "true", md[KeyDeadLetter])
	assert.Equal(t, 4, md.Attempts())
	assert.NotContains(t, md, KeyError)
}

func TestAttemptsMissingOrInvalid(t *testing.T) {
	assert.Equal(t, 0, Metadata{}.Attempts())
	assert.Equal(t, 0, Metadata{KeyAttempts: "x"}.Attempts())
}

func TestWatermillConversion(t *testing.T) {
	wm := ToWatermill(Metadata{"k": "v"})
	assert.Equal(t, message.Metadata{"k": "v"}, wm)

	back := FromWatermill(wm)
	assert.Equal(t, Metadata{"k": "v"}, back)

	assert.NotNil(t, ToWatermill(nil))
	assert.NotNil(t, FromWatermill(nil))
}
