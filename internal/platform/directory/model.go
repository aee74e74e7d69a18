package directory

import (
	"time"

	"github.com/google/uuid"
)

// Status of an admission in the host system.
type Status string

const (
	StatusInpatient  Status = "INPATIENT"
	StatusEmergency  Status = "EMERGENCY"
	StatusDischarged Status = "DISCHARGED"
	StatusOutpatient Status = "OUTPATIENT"
)

// InCareStatuses are the admission states eligible for bot search.
var InCareStatuses = []Status{StatusInpatient, StatusEmergency}

// InCare reports whether s is eligible for bot search.
func (s Status) InCare() bool {
	return s == StatusInpatient || s == StatusEmergency
}

// Admission is one active stay as returned by the directory search.
type Admission struct {
	PatientID    uuid.UUID `json:"patient_id"`
	FullName     string    `json:"full_name"`
	RecordNumber string    `json:"record_number"`
	Bed          string    `json:"bed"`
	Ward         string    `json:"ward"`
	WardName     string    `json:"ward_name"`
	Status       Status    `json:"status"`
	AdmittedAt   time.Time `json:"admitted_at"`
}

// Query is what the bot asks the directory for. Statuses are always set;
// the remaining fields are optional narrowing hints.
type Query struct {
	Statuses     []Status
	Names        []string
	RecordNumber string
	Bed          string
	Ward         string
}

// Demographics is the detail view rendered after a selection.
type Demographics struct {
	PatientID    uuid.UUID  `json:"patient_id"`
	FullName     string     `json:"full_name"`
	BirthDate    *time.Time `json:"birth_date"`
	Sex          string     `json:"sex"`
	RecordNumber string     `json:"record_number"`
	Bed          string     `json:"bed"`
	Ward         string     `json:"ward"`
	AdmittedAt   *time.Time `json:"admitted_at"`
}

// LengthOfStayDays counts whole calendar days since admission in loc.
// It returns -1 when the admission date is unknown.
func (d *Demographics) LengthOfStayDays(now time.Time, loc *time.Location) int {
	if d.AdmittedAt == nil {
		return -1
	}
	if loc == nil {
		loc = time.UTC
	}
	a := d.AdmittedAt.In(loc)
	n := now.In(loc)
	start := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	days := int(end.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
