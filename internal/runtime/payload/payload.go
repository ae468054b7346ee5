// Package payload holds the application-level message body that travels
// through safetynet, together with the attempt counter embedded in it.
package payload

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultAttemptsKey is the field that carries the attempt counter when no
// other key is configured.
const DefaultAttemptsKey = "_attempts"

// Payload is an open JSON object. One field, named by the configured attempts
// key, is reserved for the attempt counter; everything else belongs to the
// handler.
type Payload map[string]any

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	cloned := make(Payload, len(p))
	for k, v := range p {
		cloned[k] = v
	}
	return cloned
}

// Without returns a shallow copy with the supplied keys removed. Handlers use
// it to hand a payload to a strict decoder that does not know the attempts
// field.
func (p Payload) Without(keys ...string) Payload {
	cloned := p.Clone()
	for _, key := range keys {
		delete(cloned, key)
	}
	return cloned
}

// ToStruct converts the payload into a protobuf Struct.
func (p Payload) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(normalizeNumbers(p))
}

// Attempts returns the attempt counter stored under key. An absent or
// non-numeric counter reads as 0.
func Attempts(p Payload, key string) int {
	if p == nil {
		return 0
	}
	v, ok := p[key]
	if !ok {
		return 0
	}
	n, _ := toInt(v)
	return n
}

// HasAttempts reports whether the payload already carries a counter under key.
func HasAttempts(p Payload, key string) bool {
	if p == nil {
		return false
	}
	_, ok := p[key]
	return ok
}

// RecordFailure initialises the counter to 0 when it is missing, increments
// it by one and returns the new value. The payload is mutated in place.
func RecordFailure(p Payload, key string) int {
	if _, ok := p[key]; !ok {
		p[key] = 0
	}
	next := Attempts(p, key)
	if next < math.MaxInt {
		next++
	}
	p[key] = next
	return next
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return clampUint(uint64(n)), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return clampUint(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
		return 0, false
	case string:
		n = strings.TrimSpace(n)
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f >= math.MaxInt:
		return math.MaxInt, true
	case f <= math.MinInt:
		return math.MinInt, true
	}
	return int(f), true
}

func clampUint(u uint64) int {
	if u > math.MaxInt {
		return math.MaxInt
	}
	return int(u)
}

// normalizeNumbers rewrites json.Number values, which structpb does not accept.
func normalizeNumbers(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		return normalizeNumbers(t)
	case Payload:
		return normalizeNumbers(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = normalizeValue(item)
		}
		return items
	default:
		return v
	}
}
