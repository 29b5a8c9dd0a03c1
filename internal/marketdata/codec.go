package marketdata

import (
	"fmt"

	"tickflow/internal/jsoncodec"
)

// Marshal encodes e as JSON.
func Marshal(e Event) ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Unmarshal decodes and validates a JSON encoded Event.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := jsoncodec.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
