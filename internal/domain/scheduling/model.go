package scheduling

import (
	"strings"
	"time"

	"github.com/ehr/citas/internal/platform/auth"
)

// Weekday is the canonical weekday code used by availability blocks.
type Weekday string

const (
	Monday    Weekday = "Mon"
	Tuesday   Weekday = "Tue"
	Wednesday Weekday = "Wed"
	Thursday  Weekday = "Thu"
	Friday    Weekday = "Fri"
	Saturday  Weekday = "Sat"
	Sunday    Weekday = "Sun"
)

// Weekdays lists the canonical codes in display order.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayIndex = map[Weekday]time.Weekday{
	Sunday:    time.Sunday,
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
}

// Valid reports whether w is one of the canonical codes.
func (w Weekday) Valid() bool {
	_, ok := weekdayIndex[w]
	return ok
}

// TimeWeekday converts the code to the standard library weekday.
func (w Weekday) TimeWeekday() time.Weekday {
	return weekdayIndex[w]
}

// order is the position of w in the Monday-first display order.
func (w Weekday) order() int {
	return (int(weekdayIndex[w]) + 6) % 7
}

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var validAppointmentStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true,
}

// IsActiveStatus reports whether an appointment in this status blocks its slot.
func IsActiveStatus(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return s == StatusPending || s == StatusConfirmed
}

// Roles.
const (
	RoleAdmin   = auth.RoleAdmin
	RoleDoctor  = auth.RoleDoctor
	RolePatient = auth.RolePatient
)

// Actor is the authenticated user on whose behalf the form is computed.
type Actor = auth.Actor

// Doctor is a doctor as listed by the clinic API.
type Doctor struct {
	ID          string `json:"id"`
	UserID      string `json:"usuario_id,omitempty"`
	FirstName   string `json:"nombre"`
	LastName    string `json:"apellido"`
	SpecialtyID string `json:"especialidad_id,omitempty"`
}

// FullName joins first and last name.
func (d Doctor) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// Specialty is a medical specialty.
type Specialty struct {
	ID   string `json:"id"`
	Name string `json:"nombre"`
}

// Patient is a patient record.
type Patient struct {
	ID        string `json:"id"`
	UserID    string `json:"usuario_id,omitempty"`
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Appointment is the gateway view of a backend appointment. Date is
// YYYY-MM-DD and Time is HH:MM.
type Appointment struct {
	ID            string `json:"id"`
	DoctorID      string `json:"doctor_id"`
	PatientID     string `json:"patient_id,omitempty"`
	PatientUserID string `json:"patient_user_id,omitempty"`
	PatientName   string `json:"patient_name,omitempty"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
}

// AvailabilityRecord is one row of the availability feed, before
// normalization. DoctorID is only set when the feed carries one.
type AvailabilityRecord struct {
	DoctorID  string `json:"medicos_id,omitempty"`
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
	Weekday   string `json:"diaSemana"`
	StartTime string `json:"horaInicio"`
	EndTime   string `json:"horaFin"`
}

// DoctorName joins first and last name of the record.
func (r AvailabilityRecord) DoctorName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Block is a recurring weekly availability range for one doctor.
type Block struct {
	DoctorID  string  `json:"doctor_id"`
	Weekday   Weekday `json:"weekday"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
}

// IsPoint reports whether the block is a single instant.
func (b Block) IsPoint() bool {
	return b.StartTime == b.EndTime
}

// Slot is a block resolved to its next calendar date.
type Slot struct {
	Block
	ResolvedDate string `json:"resolved_date"`
	Occupied     bool   `json:"occupied"`
}

// Mode selects between the creation and edition variants of the form.
type Mode string

const (
	ModeCreating Mode = "creating"
	ModeEditing  Mode = "editing"
)
