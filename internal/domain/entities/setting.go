package entities

import (
	"encoding/json"
	"time"
)

// Setting is a key/value entry with an opaque JSON value
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}
