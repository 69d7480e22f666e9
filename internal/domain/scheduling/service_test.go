package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// -- Mock Clinic API --

type mockClinicAPI struct {
	mu           sync.Mutex
	doctors      []Doctor
	specialties  []Specialty
	patients     []Patient
	records      []AvailabilityRecord
	appointments []Appointment

	failAppointments error
	created          []AppointmentInput
	updated          map[string]AppointmentInput
	published        []AvailabilityInput
	apptCalls        int
}

func newMockClinicAPI() *mockClinicAPI {
	return &mockClinicAPI{
		doctors: []Doctor{
			{ID: "7", UserID: "u2", FirstName: "Ana", LastName: "Ruiz", SpecialtyID: "1"},
			{ID: "8", FirstName: "Eva", LastName: "Sol", SpecialtyID: "2"},
			{ID: "9", FirstName: "Sin", LastName: "Horario", SpecialtyID: "1"},
		},
		specialties: []Specialty{{ID: "1", Name: "Cardiología"}, {ID: "2", Name: "Pediatría"}},
		patients:    []Patient{{ID: "4", UserID: "u40", FirstName: "Luis", LastName: "Paz"}},
		records: []AvailabilityRecord{
			{FirstName: "Ana", LastName: "Ruiz", Weekday: "martes", StartTime: "10:00:00", EndTime: "10:00:00"},
			{FirstName: "Ana", LastName: "Ruiz", Weekday: "martes", StartTime: "14:00:00", EndTime: "16:00:00"},
			{FirstName: "Ana", LastName: "Ruiz", Weekday: "jueves", StartTime: "09:00", EndTime: "12:00"},
			{FirstName: "Ana", LastName: "Ruiz", Weekday: "someday", StartTime: "09:00", EndTime: "12:00"},
			{FirstName: "Eva", LastName: "Sol", Weekday: "lunes", StartTime: "08:00", EndTime: "09:00"},
		},
		appointments: []Appointment{
			{ID: "12", DoctorID: "7", PatientID: "4", PatientUserID: "u40", PatientName: "Luis Paz", Date: "2024-06-04", Time: "10:00", Status: StatusConfirmed, Notes: "n"},
			{ID: "13", DoctorID: "7", PatientID: "5", PatientName: "Eva Sol", Date: "2024-06-04", Time: "15:00", Status: StatusPending},
			{ID: "14", DoctorID: "8", PatientID: "5", Date: "2024-06-06", Time: "10:00", Status: StatusConfirmed},
		},
		updated: make(map[string]AppointmentInput),
	}
}

func (m *mockClinicAPI) Doctors(context.Context) ([]Doctor, error) { return m.doctors, nil }
func (m *mockClinicAPI) Specialties(context.Context) ([]Specialty, error) {
	return m.specialties, nil
}
func (m *mockClinicAPI) Patients(context.Context) ([]Patient, error) { return m.patients, nil }
func (m *mockClinicAPI) Availability(context.Context) ([]AvailabilityRecord, error) {
	return m.records, nil
}

func (m *mockClinicAPI) Appointments(context.Context) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apptCalls++
	if m.failAppointments != nil {
		return nil, m.failAppointments
	}
	return m.appointments, nil
}

func (m *mockClinicAPI) CreateAppointment(_ context.Context, in AppointmentInput) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, in)
	return Appointment{ID: "100", DoctorID: in.DoctorID, PatientID: in.PatientID, Date: in.Date, Time: in.Time, Status: in.Status, Notes: in.Notes}, nil
}

func (m *mockClinicAPI) UpdateAppointment(_ context.Context, id string, in AppointmentInput) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated[id] = in
	return Appointment{ID: id, DoctorID: in.DoctorID, PatientID: in.PatientID, Date: in.Date, Time: in.Time, Status: in.Status, Notes: in.Notes}, nil
}

func (m *mockClinicAPI) CreateAvailability(_ context.Context, in AvailabilityInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, in)
	return nil
}

func newTestService(api ClinicAPI) *Service {
	return NewService(api, zerolog.Nop(), WithClock(func() time.Time { return monday }))
}

// -- Slots --

func TestService_Slots(t *testing.T) {
	svc := newTestService(newMockClinicAPI())

	list, err := svc.Slots(context.Background(), SlotQuery{DoctorID: "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list.Today != "2024-06-03" {
		t.Errorf("expected today 2024-06-03, got %s", list.Today)
	}
	want := []struct {
		weekday  Weekday
		start    string
		date     string
		occupied bool
	}{
		{Tuesday, "10:00", "2024-06-04", true},
		{Tuesday, "14:00", "2024-06-04", true},
		{Thursday, "09:00", "2024-06-06", false},
	}
	if len(list.Slots) != len(want) {
		t.Fatalf("expected %d slots, got %+v", len(want), list.Slots)
	}
	for i, w := range want {
		s := list.Slots[i]
		if s.Weekday != w.weekday || s.StartTime != w.start || s.ResolvedDate != w.date || s.Occupied != w.occupied {
			t.Errorf("slot %d: expected %+v, got %+v", i, w, s)
		}
		if s.DoctorID != "7" {
			t.Errorf("slot %d: expected doctor 7, got %s", i, s.DoctorID)
		}
	}
}

func TestService_Slots_OtherDoctorsAppointmentsIgnored(t *testing.T) {
	// doctor 8's appointment on Thursday 10:00 must not occupy doctor 7's Thursday block
	svc := newTestService(newMockClinicAPI())
	list, err := svc.Slots(context.Background(), SlotQuery{DoctorID: "7", FreeOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Slots) != 1 || list.Slots[0].Weekday != Thursday {
		t.Errorf("expected only the Thursday slot free, got %+v", list.Slots)
	}
}

func TestService_Slots_EditingExcludesOwnAppointment(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	list, err := svc.Slots(context.Background(), SlotQuery{DoctorID: "7", ExcludeAppointmentID: "12"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list.Slots[0].Occupied {
		t.Error("expected the edited appointment's slot to be free")
	}
}

func TestService_Slots_NoSchedules(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	list, err := svc.Slots(context.Background(), SlotQuery{DoctorID: "9"})
	if !errors.Is(err, ErrNoSchedules) {
		t.Fatalf("expected ErrNoSchedules, got %v", err)
	}
	if list.Message != "no schedules configured" || list.Slots == nil || len(list.Slots) != 0 {
		t.Errorf("expected empty list with message, got %+v", list)
	}
}

func TestService_Slots_UnknownDoctor(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	if _, err := svc.Slots(context.Background(), SlotQuery{DoctorID: "404"}); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
}

func TestService_Slots_UpstreamFailure(t *testing.T) {
	api := newMockClinicAPI()
	api.failAppointments = fmt.Errorf("connection refused")
	svc := newTestService(api)

	_, err := svc.Slots(context.Background(), SlotQuery{DoctorID: "7"})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestService_ExpandAvailability(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	slots, err := svc.ExpandAvailability(context.Background(), "8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 || slots[0].ResolvedDate != "2024-06-10" {
		t.Errorf("expected next Monday slot, got %+v", slots)
	}
}

// -- Lookups --

func TestService_DoctorsBySpecialty(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	docs, err := svc.Doctors(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "7" || docs[1].ID != "9" {
		t.Errorf("unexpected doctors %+v", docs)
	}
}

func TestService_ResolveNextDate(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	got, err := svc.ResolveNextDate("lunes", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-06-10" {
		t.Errorf("expected 2024-06-10, got %s", got)
	}
	if _, err := svc.ResolveNextDate("m", time.Time{}); !errors.Is(err, ErrUnknownWeekday) {
		t.Errorf("expected ErrUnknownWeekday, got %v", err)
	}
}

func TestService_FieldPermissions(t *testing.T) {
	svc := newTestService(newMockClinicAPI())

	p, appt, err := svc.FieldPermissions(context.Background(), patientActor, "")
	if err != nil || appt != nil {
		t.Fatalf("unexpected result: %v %v", appt, err)
	}
	if p.Patient.Visible {
		t.Error("expected hidden patient selector")
	}

	p, appt, err = svc.FieldPermissions(context.Background(), patientActor, "12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt == nil || appt.ID != "12" || !p.Date.Editable {
		t.Errorf("expected owner permissions on 12, got %+v %+v", appt, p)
	}

	if _, _, err := svc.FieldPermissions(context.Background(), patientActor, "999"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

// -- Create --

func TestService_CreateAppointment_PatientImplicitFields(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{PatientID: "999", DoctorID: "7", Date: "2024-06-06", Time: "9:30", Status: StatusConfirmed, Notes: "hi"}
	created, err := svc.CreateAppointment(context.Background(), patientActor, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := api.created[0]
	if sent.PatientID != "4" {
		t.Errorf("expected patient id from actor, got %s", sent.PatientID)
	}
	if sent.Status != StatusPending {
		t.Errorf("expected pending status, got %s", sent.Status)
	}
	if sent.Notes != "" {
		t.Errorf("expected notes dropped on creation, got %q", sent.Notes)
	}
	if sent.Time != "09:30" {
		t.Errorf("expected normalized time, got %s", sent.Time)
	}
	if created.ID != "100" {
		t.Errorf("expected created id, got %s", created.ID)
	}
}

func TestService_CreateAppointment_DoctorImplicit(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{PatientID: "4", DoctorID: "8", Date: "2024-06-06", Time: "11:00", Status: StatusConfirmed}
	if _, err := svc.CreateAppointment(context.Background(), doctorActor, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := api.created[0]; got.DoctorID != "7" || got.PatientID != "" || got.Status != StatusConfirmed {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestService_CreateAppointment_ResolvesHiddenParties(t *testing.T) {
	tests := []struct {
		name        string
		actor       Actor
		in          AppointmentInput
		wantPatient string
		wantDoctor  string
	}{
		{
			name:        "patient without record claim books for own record",
			actor:       Actor{ID: "u40", Role: RolePatient, Name: "Luis Paz"},
			in:          AppointmentInput{PatientID: "5", DoctorID: "7", Date: "2024-06-06", Time: "09:30", Status: StatusPending},
			wantPatient: "4",
			wantDoctor:  "7",
		},
		{
			name:        "doctor without record claim books for self",
			actor:       Actor{ID: "u2", Role: RoleDoctor, Name: "Ana Ruiz"},
			in:          AppointmentInput{PatientID: "5", DoctorID: "8", Date: "2024-06-06", Time: "11:00", Status: StatusPending},
			wantPatient: "",
			wantDoctor:  "7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newMockClinicAPI()
			svc := newTestService(api)

			if _, err := svc.CreateAppointment(context.Background(), tt.actor, tt.in); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := api.created[0]
			if got.PatientID != tt.wantPatient || got.DoctorID != tt.wantDoctor {
				t.Errorf("expected patient %q doctor %q, got %+v", tt.wantPatient, tt.wantDoctor, got)
			}
		})
	}
}

func TestService_CreateAppointment_UnlinkedActorRejected(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		field string
	}{
		{"patient", Actor{ID: "u55", Role: RolePatient, Name: "Nadie"}, "pacientes_id"},
		{"doctor", Actor{ID: "u56", Role: RoleDoctor, Name: "Nadie"}, "medicos_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newMockClinicAPI()
			svc := newTestService(api)

			in := AppointmentInput{PatientID: "4", DoctorID: "7", Date: "2024-06-06", Time: "09:30", Status: StatusPending}
			_, err := svc.CreateAppointment(context.Background(), tt.actor, in)
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			if _, ok := verrs[tt.field]; !ok {
				t.Errorf("expected %s error, got %v", tt.field, verrs)
			}
			if len(api.created) != 0 {
				t.Errorf("expected no create call, got %+v", api.created)
			}
		})
	}
}

func TestService_CreateAppointment_ValidationBeforeNetwork(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	_, err := svc.CreateAppointment(context.Background(), adminActor, AppointmentInput{DoctorID: "7", Date: "bad", Time: "10:00"})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if _, ok := verrs["pacientes_id"]; !ok {
		t.Errorf("expected pacientes_id error, got %v", verrs)
	}
	if api.apptCalls != 0 || len(api.created) != 0 {
		t.Error("expected no backend call on validation failure")
	}
}

func TestService_CreateAppointment_SlotTaken(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{PatientID: "4", DoctorID: "7", Date: "2024-06-04", Time: "10:00:00", Status: StatusPending}
	if _, err := svc.CreateAppointment(context.Background(), adminActor, in); !errors.Is(err, ErrSlotOccupied) {
		t.Errorf("expected ErrSlotOccupied, got %v", err)
	}
	if len(api.created) != 0 {
		t.Error("expected no create call")
	}
}

// -- Update --

func TestService_UpdateAppointment_DoctorCannotMove(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{PatientID: "5", DoctorID: "8", Date: "2024-06-20", Time: "18:00", Status: StatusCompleted, Notes: "seen"}
	if _, err := svc.UpdateAppointment(context.Background(), doctorActor, "12", in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := api.updated["12"]
	want := AppointmentInput{PatientID: "4", DoctorID: "7", Date: "2024-06-04", Time: "10:00", Status: StatusCompleted, Notes: "seen"}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestService_UpdateAppointment_NonOwnerPatientOnlyNotes(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{DoctorID: "8", Date: "2024-06-20", Time: "18:00", Status: StatusCancelled, Notes: "mine now"}
	if _, err := svc.UpdateAppointment(context.Background(), patientActor, "13", in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := api.updated["13"]
	want := AppointmentInput{PatientID: "5", DoctorID: "7", Date: "2024-06-04", Time: "15:00", Status: StatusPending, Notes: "mine now"}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestService_UpdateAppointment_UnknownStoredStatusKept(t *testing.T) {
	api := newMockClinicAPI()
	api.appointments[1].Status = "reprogramada"
	svc := newTestService(api)

	in := AppointmentInput{DoctorID: "7", Date: "2024-06-04", Time: "15:00", Status: StatusConfirmed, Notes: "traer estudios"}
	if _, err := svc.UpdateAppointment(context.Background(), patientActor, "13", in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := api.updated["13"]
	if got.Status != "reprogramada" || got.Notes != "traer estudios" {
		t.Errorf("expected stored status and new notes, got %+v", got)
	}
}

func TestService_UpdateAppointment_EditableStatusStillValidated(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{DoctorID: "7", Date: "2024-06-04", Time: "10:00", Status: "reprogramada"}
	_, err := svc.UpdateAppointment(context.Background(), adminActor, "12", in)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if _, ok := verrs["estado"]; !ok {
		t.Errorf("expected estado error, got %v", verrs)
	}
}

func TestService_UpdateAppointment_OwnerMovesIntoTakenSlot(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{DoctorID: "7", Date: "2024-06-04", Time: "15:00", Status: StatusPending}
	if _, err := svc.UpdateAppointment(context.Background(), patientActor, "12", in); !errors.Is(err, ErrSlotOccupied) {
		t.Errorf("expected ErrSlotOccupied, got %v", err)
	}
}

func TestService_UpdateAppointment_KeepOwnSlot(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AppointmentInput{DoctorID: "7", Date: "2024-06-04", Time: "10:00", Status: StatusCancelled}
	if _, err := svc.UpdateAppointment(context.Background(), patientActor, "12", in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.updated["12"].Status != StatusCancelled {
		t.Error("expected owner to cancel")
	}
}

func TestService_UpdateAppointment_NotFound(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	if _, err := svc.UpdateAppointment(context.Background(), adminActor, "999", validInput()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

// -- Availability --

func TestService_PublishAvailability(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	in := AvailabilityInput{DoctorID: "8", Weekday: "mie", StartTime: "9:00", EndTime: "12:00:00"}
	if err := svc.PublishAvailability(context.Background(), doctorActor, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := AvailabilityInput{DoctorID: "7", Weekday: "Miércoles", StartTime: "09:00", EndTime: "12:00"}
	if got := api.published[0]; got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestService_PublishAvailability_Invalid(t *testing.T) {
	api := newMockClinicAPI()
	svc := newTestService(api)

	err := svc.PublishAvailability(context.Background(), adminActor, AvailabilityInput{DoctorID: "7", Weekday: "lunes", StartTime: "12:00", EndTime: "09:00"})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(api.published) != 0 {
		t.Error("expected no backend call")
	}
}

// -- Selection --

func TestSelection_LastSelectionWins(t *testing.T) {
	var sel Selection
	first := sel.Begin("7")
	second := sel.Begin("8")

	if sel.Apply(first, SlotList{DoctorID: "7"}) {
		t.Error("stale result must not be applied")
	}
	if !sel.Apply(second, SlotList{DoctorID: "8"}) {
		t.Error("latest result must be applied")
	}
	cur, ok := sel.Current()
	if !ok || cur.DoctorID != "8" {
		t.Errorf("expected doctor 8 applied, got %+v", cur)
	}

	sel.Begin("7")
	if _, ok := sel.Current(); ok {
		t.Error("a new selection must discard the applied result")
	}
}

func TestService_Select(t *testing.T) {
	svc := newTestService(newMockClinicAPI())
	var sel Selection

	list, applied, err := svc.Select(context.Background(), &sel, SlotQuery{DoctorID: "9"})
	if !errors.Is(err, ErrNoSchedules) || !applied {
		t.Fatalf("expected applied no-schedules result, got applied=%v err=%v", applied, err)
	}
	if list.Message == "" {
		t.Error("expected message")
	}

	_, applied, err = svc.Select(context.Background(), &sel, SlotQuery{DoctorID: "7"})
	if err != nil || !applied {
		t.Fatalf("expected applied result, got applied=%v err=%v", applied, err)
	}
	cur, _ := sel.Current()
	if cur.DoctorID != "7" || len(cur.Slots) != 3 {
		t.Errorf("unexpected current selection %+v", cur)
	}
}
