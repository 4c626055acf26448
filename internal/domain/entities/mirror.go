package entities

import (
	"fmt"
)

// Cloud mirror collections
const (
	MirrorInvoices        = "invoices"
	MirrorStaff           = "staff"
	MirrorStaffAttendance = "staff_attendance"
	MirrorPatients        = "patients"
	MirrorPatientNotes    = "patient_notes"
	MirrorBookings        = "bookings"
)

// MirrorCollections lists every collection the mirror accepts
var MirrorCollections = []string{
	MirrorInvoices, MirrorStaff, MirrorStaffAttendance,
	MirrorPatients, MirrorPatientNotes, MirrorBookings,
}

// MirrorDocument is a loosely shaped mirror document
type MirrorDocument map[string]interface{}

// StaffAttendance is one staff member's attendance for a day
type StaffAttendance struct {
	StaffID string `json:"staff_id"`
	Day     string `json:"day"`
	Status  string `json:"status"`
	InAt    string `json:"in_at,omitempty"`
	OutAt   string `json:"out_at,omitempty"`
}

// DocID is the deterministic mirror identifier "<staff_id>_<day>"
func (a StaffAttendance) DocID() string {
	return fmt.Sprintf("%s_%s", a.StaffID, a.Day)
}
