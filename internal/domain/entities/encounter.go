package entities

import (
	"time"
)

// Encounter is an OPD visit record
type Encounter struct {
	ID         int64                  `json:"id"`
	PID        string                 `json:"pid"`
	Date       string                 `json:"date"`
	Type       string                 `json:"type"`
	TokenRef   string                 `json:"token_ref,omitempty"`
	Complaints string                 `json:"complaints,omitempty"`
	Diagnosis  string                 `json:"diagnosis,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	Vitals     map[string]interface{} `json:"vitals,omitempty"`
	Rx         []LineItem             `json:"rx"`
	Labs       []LineItem             `json:"labs"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}
