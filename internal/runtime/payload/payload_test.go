package payload

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFailure_InitialisesMissingCounter(t *testing.T) {
	p := Payload{"x": 1}

	got := RecordFailure(p, DefaultAttemptsKey)

	assert.Equal(t, 1, got)
	assert.Equal(t, 1, p[DefaultAttemptsKey])
	assert.Equal(t, 1, p["x"], "handler fields must be left alone")
}

func TestRecordFailure_IncrementsExistingCounter(t *testing.T) {
	for k := 0; k < 10; k++ {
		p := Payload{"attempts": k}
		assert.Equal(t, k+1, RecordFailure(p, "attempts"))
		assert.Equal(t, k+1, Attempts(p, "attempts"))
	}
}

func TestRecordFailure_DecodedNumberShapes(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"int64", int64(4), 5},
		{"float64", float64(2), 3},
		{"json number", json.Number("7"), 8},
		{"numeric string", "3", 4},
		{"float string", "3.0", 4},
		{"padded float string", " 2.5 ", 3},
		{"uint64", uint64(6), 7},
		{"garbage string", "abc", 1},
		{"bool", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Payload{"n": tt.value}
			assert.Equal(t, tt.want, RecordFailure(p, "n"))
		})
	}
}

func TestRecordFailure_NeverGoesBackwards(t *testing.T) {
	huge := Payload{"n": uint64(math.MaxUint64)}
	assert.Equal(t, math.MaxInt, Attempts(huge, "n"))
	assert.Equal(t, math.MaxInt, RecordFailure(huge, "n"))

	big := Payload{"n": math.Inf(1)}
	assert.Equal(t, math.MaxInt, RecordFailure(big, "n"))

	for _, v := range []any{"3.0", uint64(1 << 63), float64(1e300)} {
		p := Payload{"n": v}
		before := Attempts(p, "n")
		assert.Greater(t, before, 0, "%v must read as a positive counter", v)
		assert.GreaterOrEqual(t, RecordFailure(p, "n"), before)
	}
}

func TestAttempts(t *testing.T) {
	assert.Equal(t, 0, Attempts(nil, "n"))
	assert.Equal(t, 0, Attempts(Payload{}, "n"))
	assert.Equal(t, 2, Attempts(Payload{"n": 2}, "n"))
	assert.False(t, HasAttempts(Payload{}, "n"))
	assert.True(t, HasAttempts(Payload{"n": 0}, "n"))
}

func TestCloneAndWithout(t *testing.T) {
	p := Payload{"a": 1, "_attempts": 2}

	clone := p.Clone()
	clone["a"] = 9
	assert.Equal(t, 1, p["a"])

	stripped := p.Without("_attempts")
	assert.NotContains(t, stripped, "_attempts")
	assert.Contains(t, p, "_attempts")
}

func TestToStruct(t *testing.T) {
	p := Payload{
		"id":     "order-1",
		"count":  json.Number("3"),
		"nested": Payload{"ok": true},
		"items":  []any{int64(1), "two"},
	}

	s, err := p.ToStruct()
	require.NoError(t, err)

	assert.Equal(t, "order-1", s.Fields["id"].GetStringValue())
	assert.Equal(t, float64(3), s.Fields["count"].GetNumberValue())
	assert.True(t, s.Fields["nested"].GetStructValue().Fields["ok"].GetBoolValue())
	assert.Len(t, s.Fields["items"].GetListValue().Values, 2)
}

func TestAttemptsKeyContext(t *testing.T) {
	_, ok := AttemptsKeyFromContext(context.Background())
	assert.False(t, ok)

	_, ok = AttemptsKeyFromContext(ContextWithAttemptsKey(context.Background(), ""))
	assert.False(t, ok, "an empty key is not usable")

	key, ok := AttemptsKeyFromContext(ContextWithAttemptsKey(context.Background(), "n"))
	assert.True(t, ok)
	assert.Equal(t, "n", key)
}
