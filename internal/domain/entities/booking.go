package entities

import (
	"time"
)

// BookingStatus represents the status of a booking token
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusCheckedIn BookingStatus = "checked_in"
	BookingStatusDone      BookingStatus = "done"
	BookingStatusCancelled BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusCheckedIn, BookingStatusCancelled},
	BookingStatusCheckedIn: {BookingStatusDone, BookingStatusCancelled},
}

// IsValid reports whether s is a known status
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusCheckedIn, BookingStatusDone, BookingStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusDone || s == BookingStatusCancelled
}

// CanTransition reports whether s -> to is a single legal step
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range bookingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PathTo returns the legal steps from s to target, or nil if unreachable
func (s BookingStatus) PathTo(target BookingStatus) []BookingStatus {
	if s == target {
		return []BookingStatus{}
	}
	if s.CanTransition(target) {
		return []BookingStatus{target}
	}
	for _, next := range bookingTransitions[s] {
		if rest := next.PathTo(target); rest != nil {
			return append([]BookingStatus{next}, rest...)
		}
	}
	return nil
}

// Booking is a day token issued to a patient
type Booking struct {
	ID        int64         `json:"id"`
	Date      string        `json:"date"`
	TokenNo   int           `json:"token_no"`
	PID       string        `json:"pid"`
	Name      string        `json:"name"`
	Phone     string        `json:"phone"`
	Channel   string        `json:"channel"`
	VisitType string        `json:"visit_type,omitempty"`
	Status    BookingStatus `json:"status"`
	TS        int64         `json:"ts"`
	ServedAt  *time.Time    `json:"served_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
