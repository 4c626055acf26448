package entities

import (
	"encoding/json"
)

// AuditRecord is an append-only, hash-chained log entry
type AuditRecord struct {
	ID       int64           `json:"id"`
	TS       int64           `json:"ts"`
	User     string          `json:"user"`
	DeviceID string          `json:"device_id,omitempty"`
	Action   string          `json:"action"`
	Meta     json.RawMessage `json:"meta,omitempty"`
	HashPrev string          `json:"hash_prev"`
	HashSelf string          `json:"hash_self"`
}
