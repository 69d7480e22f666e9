package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSchedules means the doctor exists but has no usable availability.
	ErrNoSchedules         = errors.New("no schedules configured")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotOccupied        = errors.New("slot already taken")
	// ErrUpstream wraps failures of the clinic API.
	ErrUpstream = errors.New("clinic api")
)

// ClinicAPI is the clinic backend as seen by the scheduling service.
type ClinicAPI interface {
	Doctors(ctx context.Context) ([]Doctor, error)
	Specialties(ctx context.Context) ([]Specialty, error)
	Patients(ctx context.Context) ([]Patient, error)
	Availability(ctx context.Context) ([]AvailabilityRecord, error)
	Appointments(ctx context.Context) ([]Appointment, error)
	CreateAppointment(ctx context.Context, in AppointmentInput) (Appointment, error)
	UpdateAppointment(ctx context.Context, id string, in AppointmentInput) (Appointment, error)
	CreateAvailability(ctx context.Context, in AvailabilityInput) error
}

// SlotQuery selects the slots of one doctor.
type SlotQuery struct {
	DoctorID string
	// ExcludeAppointmentID is the appointment being edited; it never
	// occupies a slot.
	ExcludeAppointmentID string
	// Today defaults to the service clock.
	Today    time.Time
	FreeOnly bool
}

// SlotList is the answer to a SlotQuery.
type SlotList struct {
	DoctorID string `json:"doctor_id"`
	Today    string `json:"today"`
	Slots    []Slot `json:"slots"`
	Message  string `json:"message,omitempty"`
}

// Service joins clinic API data with the scheduling engine.
type Service struct {
	api    ClinicAPI
	logger zerolog.Logger
	matrix Matrix
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithMatrix replaces DefaultMatrix.
func WithMatrix(m Matrix) ServiceOption {
	return func(s *Service) { s.matrix = m }
}

func NewService(api ClinicAPI, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		api:    api,
		logger: logger,
		matrix: DefaultMatrix,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

// Today returns the service clock's current date.
func (s *Service) Today() time.Time {
	return s.now()
}

// Specialties lists every specialty.
func (s *Service) Specialties(ctx context.Context) ([]Specialty, error) {
	specs, err := s.api.Specialties(ctx)
	if err != nil {
		return nil, upstream("listing specialties", err)
	}
	return specs, nil
}

// Doctors lists doctors, optionally restricted to one specialty.
func (s *Service) Doctors(ctx context.Context, specialtyID string) ([]Doctor, error) {
	docs, err := s.api.Doctors(ctx)
	if err != nil {
		return nil, upstream("listing doctors", err)
	}
	if specialtyID == "" {
		return docs, nil
	}
	out := make([]Doctor, 0, len(docs))
	for _, d := range docs {
		if d.SpecialtyID == specialtyID {
			out = append(out, d)
		}
	}
	return out, nil
}

// Patients lists every patient.
func (s *Service) Patients(ctx context.Context) ([]Patient, error) {
	patients, err := s.api.Patients(ctx)
	if err != nil {
		return nil, upstream("listing patients", err)
	}
	return patients, nil
}

// ExpandAvailability returns the annotated slots of doctorID for the coming
// week, as of the service clock.
func (s *Service) ExpandAvailability(ctx context.Context, doctorID string) ([]Slot, error) {
	list, err := s.Slots(ctx, SlotQuery{DoctorID: doctorID})
	if err != nil {
		return nil, err
	}
	return list.Slots, nil
}

// Slots fetches the doctor list, the availability feed and the appointments
// concurrently and computes once all three have arrived. A doctor without
// usable availability yields an empty list with ErrNoSchedules.
func (s *Service) Slots(ctx context.Context, q SlotQuery) (SlotList, error) {
	today := q.Today
	if today.IsZero() {
		today = s.now()
	}
	list := SlotList{DoctorID: q.DoctorID, Today: today.Format(DateLayout), Slots: []Slot{}}

	var (
		doctors      []Doctor
		records      []AvailabilityRecord
		appointments []Appointment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if doctors, err = s.api.Doctors(gctx); err != nil {
			return upstream("listing doctors", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if records, err = s.api.Availability(gctx); err != nil {
			return upstream("fetching availability", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if appointments, err = s.api.Appointments(gctx); err != nil {
			return upstream("listing appointments", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return list, err
	}

	doctor, ok := findDoctor(doctors, q.DoctorID)
	if !ok {
		return list, fmt.Errorf("%w: %s", ErrDoctorNotFound, q.DoctorID)
	}
	if ids, clash := NameCollisions(doctors)[normalizeName(doctor.FullName())]; clash {
		s.logger.Warn().
			Str("doctor_id", doctor.ID).
			Strs("same_name_ids", ids).
			Msg("doctor name is shared; records without a doctor id are ambiguous")
	}

	exp := ExpandAvailability(doctor.ID, FilterRecordsForDoctor(records, doctor))
	for _, d := range exp.Dropped {
		s.logger.Warn().
			Err(d.Reason).
			Str("doctor_id", doctor.ID).
			Str("weekday", d.Record.Weekday).
			Str("start_time", d.Record.StartTime).
			Str("end_time", d.Record.EndTime).
			Msg("dropping availability record")
	}
	if len(exp.Blocks) == 0 {
		list.Message = ErrNoSchedules.Error()
		return list, ErrNoSchedules
	}

	slots := DetectConflicts(exp.Blocks, filterByDoctor(appointments, doctor.ID), q.ExcludeAppointmentID, today)
	if q.FreeOnly {
		slots = FreeSlots(slots)
	}
	list.Slots = slots
	return list, nil
}

func findDoctor(doctors []Doctor, id string) (Doctor, bool) {
	for _, d := range doctors {
		if d.ID == id {
			return d, true
		}
	}
	return Doctor{}, false
}

// filterByDoctor keeps the appointments of doctorID. Appointments without a
// doctor id are kept since the backend may already scope the list.
func filterByDoctor(appointments []Appointment, doctorID string) []Appointment {
	out := make([]Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.DoctorID == "" || a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out
}

// ResolveNextDate parses a weekday alias and returns its next date after
// today, or after the service clock when today is zero.
func (s *Service) ResolveNextDate(weekday string, today time.Time) (string, error) {
	w, err := NormalizeWeekday(weekday)
	if err != nil {
		return "", err
	}
	if today.IsZero() {
		today = s.now()
	}
	return ResolveNextDate(w, today)
}

// FieldPermissions computes the form permissions for actor. An empty
// appointmentID means a new appointment; otherwise the stored appointment is
// fetched and returned along with the decision.
func (s *Service) FieldPermissions(ctx context.Context, actor Actor, appointmentID string) (FieldPermissions, *Appointment, error) {
	if appointmentID == "" {
		return s.matrix.Compute(actor, nil, ModeCreating), nil, nil
	}
	appointments, err := s.api.Appointments(ctx)
	if err != nil {
		return FieldPermissions{}, nil, upstream("listing appointments", err)
	}
	stored, ok := findAppointment(appointments, appointmentID)
	if !ok {
		return FieldPermissions{}, nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, appointmentID)
	}
	return s.matrix.Compute(actor, &stored, ModeEditing), &stored, nil
}

func findAppointment(appointments []Appointment, id string) (Appointment, bool) {
	for _, a := range appointments {
		if a.ID == id {
			return a, true
		}
	}
	return Appointment{}, false
}

// CreateAppointment books a new appointment for actor. Implicit fields are
// filled from the actor, the payload is validated before any backend write,
// and the slot must be free.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, in AppointmentInput) (Appointment, error) {
	perms := s.matrix.Compute(actor, nil, ModeCreating)
	in, err := s.bindParties(ctx, actor, perms, in)
	if err != nil {
		return Appointment{}, err
	}
	if !perms.Status.Editable || in.Status == "" {
		in.Status = StatusPending
	}
	if !perms.Notes.Visible {
		in.Notes = ""
	}

	if err := ValidateAppointment(in, actor); err != nil {
		return Appointment{}, err
	}
	in.Time, _ = NormalizeTime(in.Time)

	appointments, err := s.api.Appointments(ctx)
	if err != nil {
		return Appointment{}, upstream("listing appointments", err)
	}
	if IsTaken(filterByDoctor(appointments, in.DoctorID), "", in.Date, in.Time) {
		return Appointment{}, fmt.Errorf("%w: %s %s", ErrSlotOccupied, in.Date, in.Time)
	}

	created, err := s.api.CreateAppointment(ctx, in)
	if err != nil {
		return Appointment{}, upstream("creating appointment", err)
	}
	s.logger.Info().
		Str("appointment_id", created.ID).
		Str("doctor_id", in.DoctorID).
		Str("date", in.Date).
		Str("time", in.Time).
		Msg("appointment created")
	return created, nil
}

// bindParties overwrites the party fields actor may not choose. Patients book
// for their own record and doctors for themselves; a doctor never picks the
// patient. A patient's doctor is the one whose slot they selected.
func (s *Service) bindParties(ctx context.Context, actor Actor, perms FieldPermissions, in AppointmentInput) (AppointmentInput, error) {
	if !perms.Patient.Editable {
		in.PatientID = ""
		if actor.Role == RolePatient {
			id, err := s.patientRecordID(ctx, actor)
			if err != nil {
				return in, err
			}
			in.PatientID = id
		}
	}
	if !perms.Doctor.Editable && actor.Role == RoleDoctor {
		id, err := s.doctorRecordID(ctx, actor)
		if err != nil {
			return in, err
		}
		in.DoctorID = id
	}
	return in, nil
}

// patientRecordID is the actor's patient-record id: the token claim, or the
// patient whose user id is the actor's.
func (s *Service) patientRecordID(ctx context.Context, actor Actor) (string, error) {
	if actor.PatientID != "" {
		return actor.PatientID, nil
	}
	if actor.ID != "" {
		patients, err := s.api.Patients(ctx)
		if err != nil {
			return "", upstream("listing patients", err)
		}
		for _, p := range patients {
			if p.UserID == actor.ID {
				return p.ID, nil
			}
		}
	}
	return "", ValidationErrors{"pacientes_id": "no patient record is linked to the current user"}
}

// doctorRecordID is patientRecordID for doctors, matched on the doctor's
// user id.
func (s *Service) doctorRecordID(ctx context.Context, actor Actor) (string, error) {
	if actor.DoctorID != "" {
		return actor.DoctorID, nil
	}
	if actor.ID != "" {
		doctors, err := s.api.Doctors(ctx)
		if err != nil {
			return "", upstream("listing doctors", err)
		}
		for _, d := range doctors {
			if d.UserID == actor.ID {
				return d.ID, nil
			}
		}
	}
	return "", ValidationErrors{"medicos_id": "no doctor record is linked to the current user"}
}

// UpdateAppointment edits appointment id. Fields the actor may not edit are
// reset to their stored values before validation.
func (s *Service) UpdateAppointment(ctx context.Context, actor Actor, id string, in AppointmentInput) (Appointment, error) {
	appointments, err := s.api.Appointments(ctx)
	if err != nil {
		return Appointment{}, upstream("listing appointments", err)
	}
	stored, ok := findAppointment(appointments, id)
	if !ok {
		return Appointment{}, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	in, kept := gateFields(s.matrix.Compute(actor, &stored, ModeEditing), in, stored)
	if err := withoutFields(ValidateAppointment(in, actor), kept); err != nil {
		return Appointment{}, err
	}
	if t, err := NormalizeTime(in.Time); err == nil {
		in.Time = t
	}

	if in.Date != stored.Date || in.Time != stored.Time || in.DoctorID != stored.DoctorID {
		if IsTaken(filterByDoctor(appointments, in.DoctorID), id, in.Date, in.Time) {
			return Appointment{}, fmt.Errorf("%w: %s %s", ErrSlotOccupied, in.Date, in.Time)
		}
	}

	updated, err := s.api.UpdateAppointment(ctx, id, in)
	if err != nil {
		return Appointment{}, upstream("updating appointment", err)
	}
	s.logger.Info().Str("appointment_id", id).Str("actor_id", actor.ID).Msg("appointment updated")
	return updated, nil
}

// gateFields resets every non-editable field of in to the stored value and
// returns the payload names of the fields it reset. Stored values are not
// re-validated: the backend may hold statuses outside the canonical set.
func gateFields(p FieldPermissions, in AppointmentInput, stored Appointment) (AppointmentInput, []string) {
	var kept []string
	if !p.Doctor.Editable {
		in.DoctorID = stored.DoctorID
		kept = append(kept, "medicos_id")
	}
	if !p.Patient.Editable {
		in.PatientID = stored.PatientID
		kept = append(kept, "pacientes_id")
	}
	if !p.Date.Editable {
		in.Date = stored.Date
		kept = append(kept, "fechaCita")
	}
	if !p.Time.Editable {
		in.Time = stored.Time
		kept = append(kept, "horaCita")
	}
	if !p.Status.Editable {
		in.Status = stored.Status
		kept = append(kept, "estado")
	}
	if !p.Notes.Editable {
		in.Notes = stored.Notes
		kept = append(kept, "observaciones")
	}
	return in, kept
}

// PublishAvailability validates and stores one weekly range. Doctors always
// publish for themselves.
func (s *Service) PublishAvailability(ctx context.Context, actor Actor, in AvailabilityInput) error {
	if actor.Role == RoleDoctor && actor.DoctorID != "" {
		in.DoctorID = actor.DoctorID
	}
	if err := ValidateAvailability(in); err != nil {
		return err
	}
	day, _ := NormalizeWeekday(in.Weekday)
	in.Weekday = day.SpanishName()
	in.StartTime, _ = NormalizeTime(in.StartTime)
	in.EndTime, _ = NormalizeTime(in.EndTime)

	if err := s.api.CreateAvailability(ctx, in); err != nil {
		return upstream("publishing availability", err)
	}
	s.logger.Info().
		Str("doctor_id", in.DoctorID).
		Str("weekday", string(day)).
		Str("start_time", in.StartTime).
		Str("end_time", in.EndTime).
		Msg("availability published")
	return nil
}

// Selection holds the result for the doctor most recently selected in a
// booking form. A result is applied only if no newer selection started
// while it was being computed.
type Selection struct {
	mu       sync.Mutex
	gen      uint64
	doctorID string
	current  *SlotList
}

// Begin makes doctorID the latest selection, discards the applied result and
// returns the selection's generation.
func (sel *Selection) Begin(doctorID string) uint64 {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	sel.gen++
	sel.doctorID = doctorID
	sel.current = nil
	return sel.gen
}

// Apply stores list if gen is still the latest selection and reports
// whether it did.
func (sel *Selection) Apply(gen uint64, list SlotList) bool {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	if gen != sel.gen || list.DoctorID != sel.doctorID {
		return false
	}
	sel.current = &list
	return true
}

// Current returns the applied result, if any.
func (sel *Selection) Current() (SlotList, bool) {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	if sel.current == nil {
		return SlotList{}, false
	}
	return *sel.current, true
}

// Select computes the slots for q and applies them to sel unless a newer
// selection superseded q in the meantime. ErrNoSchedules results are applied
// like any other result.
func (s *Service) Select(ctx context.Context, sel *Selection, q SlotQuery) (SlotList, bool, error) {
	gen := sel.Begin(q.DoctorID)
	list, err := s.Slots(ctx, q)
	if err != nil && !errors.Is(err, ErrNoSchedules) {
		return list, false, err
	}
	return list, sel.Apply(gen, list), err
}
