// Package jsoncodec is the JSON codec shared by the envelope decoder, the
// transport client and the typed handlers.
package jsoncodec

import (
	"bytes"
	"io"

	"github.com/bytedance/sonic"
)

// api decodes integers inside interface values as int64 so attempt counters
// keep an integer type across a redelivery round trip.
var api = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseInt64:         true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalObject decodes data into a JSON object. ok is false when data
// holds valid JSON that is not an object.
func UnmarshalObject(data []byte) (obj map[string]any, ok bool, err error) {
	var v any
	if err := api.Unmarshal(bytes.TrimSpace(data), &v); err != nil {
		return nil, false, err
	}
	obj, ok = v.(map[string]any)
	return obj, ok, nil
}

func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
