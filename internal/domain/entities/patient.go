package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PatientIDPrefix is the single-letter prefix of the external patient ID
const PatientIDPrefix = "P"

// Patient is a registered patient. ID comes from the global patient sequence
// and never changes once assigned; the "P00001" form is derived from it.
type Patient struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	DOB       string    `json:"dob,omitempty"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Guardian  string    `json:"guardian,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PID returns the external patient identifier
func (p *Patient) PID() string {
	return FormatPatientID(p.ID)
}

// PatientView is a patient as returned to callers, carrying the derived PID
type PatientView struct {
	*Patient
	PID string `json:"pid"`
}

// View wraps the patient with its derived PID
func (p *Patient) View() PatientView {
	return PatientView{Patient: p, PID: p.PID()}
}

// FormatPatientID renders a patient sequence number as "P" + 5 digits
func FormatPatientID(n int64) string {
	return fmt.Sprintf("%s%05d", PatientIDPrefix, n)
}

// ParsePatientID reverses FormatPatientID. Bare integers are accepted too.
func ParsePatientID(pid string) (int64, error) {
	s := strings.TrimPrefix(strings.TrimSpace(pid), PatientIDPrefix)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid patient id %q", pid)
	}
	return n, nil
}
