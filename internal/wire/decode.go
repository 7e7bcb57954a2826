package wire

import (
	"encoding/json"
	"fmt"
)

// Decode converts a loosely-typed socket payload (map[string]any or
// json.RawMessage as delivered by the socket.io parser) into a typed
// record by round-tripping through JSON.
func Decode(raw any, out any) error {
	if raw == nil {
		return fmt.Errorf("decode: empty payload")
	}
	data, ok := raw.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		data = encoded
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
