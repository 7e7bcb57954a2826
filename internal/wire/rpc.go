package wire

import "encoding/json"

// Ack is the response envelope for correlated socket calls. The server
// acks every request with this shape; Success=false carries a
// human-readable rejection in Message.
type Ack struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
