package entities

import (
	"time"
)

// LineItem is an opaque prescription or test line. The queue bridge records
// it exactly as the producing page sent it.
type LineItem map[string]interface{}

// RxStatus is the state of a pharmacy queue item
type RxStatus string

const (
	RxStatusPending   RxStatus = "pending"
	RxStatusFulfilled RxStatus = "fulfilled"
)

// RxSourceOPD marks sales rows created by the OPD bridge
const RxSourceOPD = "opd"

// PharmacyRx is a pending sale row created by OPD for the pharmacy to bill
type PharmacyRx struct {
	ID           int64      `json:"id"`
	Date         string     `json:"date"`
	TS           int64      `json:"ts"`
	Source       string     `json:"source"`
	Mode         string     `json:"mode"`
	Status       RxStatus   `json:"status"`
	PID          string     `json:"pid"`
	PatientName  string     `json:"patient_name"`
	PatientPhone string     `json:"patient_phone"`
	Items        []LineItem `json:"items"`
	Subtotal     float64    `json:"subtotal"`
	TaxCGST      float64    `json:"tax_cgst"`
	TaxSGST      float64    `json:"tax_sgst"`
	TaxIGST      float64    `json:"tax_igst"`
	Total        float64    `json:"total"`
	BillNo       string     `json:"bill_no,omitempty"`
	FulfilledAt  *time.Time `json:"fulfilled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LabOrderStatus is the state of a lab order
type LabOrderStatus string

const (
	LabOrderStatusQueued     LabOrderStatus = "queued"
	LabOrderStatusInProgress LabOrderStatus = "in_progress"
	LabOrderStatusDone       LabOrderStatus = "done"
)

// CanTransition reports whether s -> to is legal
func (s LabOrderStatus) CanTransition(to LabOrderStatus) bool {
	switch s {
	case LabOrderStatusQueued:
		return to == LabOrderStatusInProgress || to == LabOrderStatusDone
	case LabOrderStatusInProgress:
		return to == LabOrderStatusDone
	}
	return false
}

// LabOrder is a lab work item. The same shape is kept in the structured
// collection and, keyed by QueueRef, in the flat lab queue list.
type LabOrder struct {
	ID        int64          `json:"id,omitempty"`
	QueueRef  string         `json:"queue_ref"`
	PID       string         `json:"pid"`
	Name      string         `json:"name"`
	Phone     string         `json:"phone"`
	Source    string         `json:"source"`
	TokenRef  string         `json:"token_ref"`
	Status    LabOrderStatus `json:"status"`
	Date      string         `json:"date"`
	Items     []LineItem     `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RxQueueEntry is the flat-list mirror of a pharmacy queue item
type RxQueueEntry struct {
	SaleID    int64      `json:"sale_id"`
	PID       string     `json:"pid"`
	Items     []LineItem `json:"items"`
	Status    RxStatus   `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// EnqueueResult is returned by queue bridge producers
// Partial is set when one of two target locations could not be written.
// MarkerTouch reports whether the legacy change marker was written.
type EnqueueResult struct {
	Accepted    bool   `json:"accepted"`
	QueueID     string `json:"queue_id,omitempty"`
	Partial     bool   `json:"partial,omitempty"`
	MarkerTouch bool   `json:"marker_touch"`
}
