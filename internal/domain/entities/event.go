package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Well-known bus topics
const (
	TopicPharmacyRxEnqueued = "pharmacy_rx_enqueued"
	TopicLabOrderEnqueued   = "lab_order_enqueued"
	TopicLabOrderUpdated    = "lab_order_updated"
	TopicRxFulfilled        = "pharmacy_rx_fulfilled"
	TopicBookings           = "bookings"
	TopicPatients           = "patients"
	TopicOPDSaved           = "opd_saved"
	TopicBranding           = "branding"
	TopicReorder            = "reorder"
	TopicWipe               = "wipe"
)

// Topics lists every well-known topic
func Topics() []string {
	return []string{
		TopicPharmacyRxEnqueued, TopicLabOrderEnqueued, TopicLabOrderUpdated, TopicRxFulfilled,
		TopicBookings, TopicPatients, TopicOPDSaved, TopicBranding, TopicReorder, TopicWipe,
	}
}

// Marker keys written as change beacons in local storage
const (
	MarkerSales         = "sales_touch"
	MarkerLabOrderQueue = "lab_orders_queue_touch"
	MarkerOPDSaved      = "opd_saved_ping"
)

// EventTypeBrandingChange is the wire type used on the branding channel
const EventTypeBrandingChange = "branding-change"

// Event is a change signal. Consumers must treat Payload as a hint and
// re-read state from the store.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType, origin string, payload json.RawMessage) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
		Origin:    origin,
	}
}

// MarkerKey returns the touch-marker key for a topic
func MarkerKey(topic string) string {
	return topic + "_touch"
}
