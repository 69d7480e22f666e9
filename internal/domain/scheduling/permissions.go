package scheduling

// Logical appointment form fields.
const (
	FieldDoctor  = "doctor"
	FieldPatient = "patient"
	FieldDate    = "date"
	FieldTime    = "time"
	FieldStatus  = "status"
	FieldNotes   = "notes"
)

// NotesAfterCreationMessage is shown to patients instead of the notes field
// when they book a new appointment.
const NotesAfterCreationMessage = "Notes can be added once the appointment has been created."

// FieldPermission is the rendering decision for one form field.
type FieldPermission struct {
	Visible  bool   `json:"visible"`
	Editable bool   `json:"editable"`
	Required bool   `json:"required,omitempty"`
	Message  string `json:"message,omitempty"`
}

// FieldPermissions holds one decision per logical field.
type FieldPermissions struct {
	Doctor  FieldPermission `json:"doctor"`
	Patient FieldPermission `json:"patient"`
	Date    FieldPermission `json:"date"`
	Time    FieldPermission `json:"time"`
	Status  FieldPermission `json:"status"`
	Notes   FieldPermission `json:"notes"`
}

// Field returns the decision for a field name, and false for unknown names.
func (p FieldPermissions) Field(name string) (FieldPermission, bool) {
	switch name {
	case FieldDoctor:
		return p.Doctor, true
	case FieldPatient:
		return p.Patient, true
	case FieldDate:
		return p.Date, true
	case FieldTime:
		return p.Time, true
	case FieldStatus:
		return p.Status, true
	case FieldNotes:
		return p.Notes, true
	}
	return FieldPermission{}, false
}

// OwnershipPolicy decides whether actor is the patient of appt.
type OwnershipPolicy func(actor Actor, appt Appointment) bool

// AnySignalOwnership treats the actor as owner when any one of the weak
// signals matches: the user id, the patient-record id, or the folded full
// name. Replace it through Matrix.Owns for a stricter rule.
func AnySignalOwnership(actor Actor, appt Appointment) bool {
	if actor.ID != "" && (actor.ID == appt.PatientUserID || actor.ID == appt.PatientID) {
		return true
	}
	if actor.PatientID != "" && actor.PatientID == appt.PatientID {
		return true
	}
	name := normalizeName(actor.Name)
	return name != "" && name == normalizeName(appt.PatientName)
}

// Matrix computes field permissions with a pluggable ownership policy.
type Matrix struct {
	Owns OwnershipPolicy
}

// DefaultMatrix uses AnySignalOwnership.
var DefaultMatrix = Matrix{Owns: AnySignalOwnership}

// ComputeFieldPermissions evaluates DefaultMatrix.
func ComputeFieldPermissions(actor Actor, appt *Appointment, mode Mode) FieldPermissions {
	return DefaultMatrix.Compute(actor, appt, mode)
}

// Compute returns a fresh decision per field. Each field is decided from
// (role, mode, ownership) alone, never from another field's decision. An
// editing mode without an appointment is treated as creating. Unknown roles
// get no visible field.
func (m Matrix) Compute(actor Actor, appt *Appointment, mode Mode) FieldPermissions {
	if !isKnownRole(actor.Role) {
		return FieldPermissions{}
	}
	editing := mode == ModeEditing && appt != nil
	owner := false
	if editing && actor.Role == RolePatient {
		owns := m.Owns
		if owns == nil {
			owns = AnySignalOwnership
		}
		owner = owns(actor, *appt)
	}

	var p FieldPermissions

	// doctor / patient selectors exist only for admins; other roles are implicit.
	if actor.Role == RoleAdmin {
		p.Doctor = FieldPermission{Visible: true, Editable: true, Required: true}
		p.Patient = FieldPermission{Visible: true, Editable: true, Required: true}
	}

	schedule := FieldPermission{Visible: true}
	switch {
	case actor.Role == RoleDoctor:
		// doctors never move an appointment
	case !editing:
		schedule.Editable = true
	case actor.Role == RoleAdmin, actor.Role == RolePatient && owner:
		schedule.Editable = true
	}
	schedule.Required = schedule.Editable
	p.Date = schedule
	p.Time = schedule

	p.Status = FieldPermission{Visible: true}
	switch actor.Role {
	case RoleAdmin, RoleDoctor:
		p.Status.Editable = true
	case RolePatient:
		p.Status.Editable = owner
	}

	if !editing && actor.Role == RolePatient {
		p.Notes = FieldPermission{Message: NotesAfterCreationMessage}
	} else {
		p.Notes = FieldPermission{Visible: true, Editable: true}
	}

	return p
}

func isKnownRole(role string) bool {
	return role == RoleAdmin || role == RoleDoctor || role == RolePatient
}
