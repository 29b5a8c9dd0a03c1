// Package jsoncodec is the single JSON boundary for tickflow. Kafka event
// payloads, alpaca stream frames, stdout JSON lines and polymarket REST pages
// all go through it, so sonic stays pinned to its encoding/json compatible
// config: the same struct tags, HTML escaping and sorted map keys that
// consumers of the kafka topic already parse.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Decode reads a single JSON value from r. Trailing data is left unread.
func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
