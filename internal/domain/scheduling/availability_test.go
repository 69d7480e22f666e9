package scheduling

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestAvailabilityRecord_UnmarshalAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want AvailabilityRecord
	}{
		{
			name: "canonical keys",
			raw:  `{"nombre":"Ana","apellido":"Ruiz","diaSemana":"Lunes","horaInicio":"09:00:00","horaFin":"12:00:00"}`,
			want: AvailabilityRecord{FirstName: "Ana", LastName: "Ruiz", Weekday: "Lunes", StartTime: "09:00:00", EndTime: "12:00:00"},
		},
		{
			name: "snake case with numeric doctor id",
			raw:  `{"medico_id":7,"dia_semana":"martes","hora_inicio":"10:00","hora_fin":null}`,
			want: AvailabilityRecord{DoctorID: "7", Weekday: "martes", StartTime: "10:00"},
		},
		{
			name: "english keys",
			raw:  `{"doctor_id":"d1","weekday":"Fri","start_time":"08:00","end_time":"09:00","first_name":"Eva","last_name":"Sol"}`,
			want: AvailabilityRecord{DoctorID: "d1", FirstName: "Eva", LastName: "Sol", Weekday: "Fri", StartTime: "08:00", EndTime: "09:00"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got AvailabilityRecord
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFilterRecordsForDoctor(t *testing.T) {
	doctor := Doctor{ID: "7", FirstName: "José", LastName: "Pérez"}
	records := []AvailabilityRecord{
		{FirstName: "jose", LastName: "perez", Weekday: "lunes", StartTime: "09:00"},
		{FirstName: "José ", LastName: " Pérez", Weekday: "martes", StartTime: "09:00"},
		{FirstName: "Ana", LastName: "Ruiz", Weekday: "lunes", StartTime: "09:00"},
		{DoctorID: "7", FirstName: "Someone", LastName: "Else", Weekday: "jueves", StartTime: "09:00"},
		{DoctorID: "8", FirstName: "José", LastName: "Pérez", Weekday: "viernes", StartTime: "09:00"},
	}

	got := FilterRecordsForDoctor(records, doctor)
	var days []string
	for _, r := range got {
		days = append(days, r.Weekday)
	}
	want := []string{"lunes", "martes", "jueves"}
	if !reflect.DeepEqual(days, want) {
		t.Errorf("expected %v, got %v", want, days)
	}
}

func TestNameCollisions(t *testing.T) {
	doctors := []Doctor{
		{ID: "1", FirstName: "Ana", LastName: "Ruiz"},
		{ID: "2", FirstName: "ana", LastName: "ruiz"},
		{ID: "3", FirstName: "Eva", LastName: "Sol"},
	}
	got := NameCollisions(doctors)
	if len(got) != 1 || !reflect.DeepEqual(got["ana ruiz"], []string{"1", "2"}) {
		t.Errorf("unexpected collisions: %v", got)
	}
}

func TestExpandAvailability_NormalizesSortsAndDedupes(t *testing.T) {
	records := []AvailabilityRecord{
		{Weekday: "miércoles", StartTime: "14:00:00", EndTime: "16:00:00"},
		{Weekday: "Lunes", StartTime: "9:00", EndTime: "12:00"},
		{Weekday: "lun", StartTime: "09:00:00", EndTime: "12:00:00"},
		{Weekday: "lunes", StartTime: "08:00", EndTime: "08:30"},
		{Weekday: "domingo", StartTime: "10:00", EndTime: "11:00"},
	}

	exp := ExpandAvailability("7", records)
	want := []Block{
		{DoctorID: "7", Weekday: Monday, StartTime: "08:00", EndTime: "08:30"},
		{DoctorID: "7", Weekday: Monday, StartTime: "09:00", EndTime: "12:00"},
		{DoctorID: "7", Weekday: Wednesday, StartTime: "14:00", EndTime: "16:00"},
		{DoctorID: "7", Weekday: Sunday, StartTime: "10:00", EndTime: "11:00"},
	}
	if !reflect.DeepEqual(exp.Blocks, want) {
		t.Errorf("expected %+v, got %+v", want, exp.Blocks)
	}
	if len(exp.Dropped) != 0 {
		t.Errorf("expected nothing dropped, got %+v", exp.Dropped)
	}
}

func TestExpandAvailability_Idempotent(t *testing.T) {
	records := []AvailabilityRecord{
		{Weekday: "martes", StartTime: "10:00", EndTime: "10:00"},
		{Weekday: "martes", StartTime: "10:00:00"},
		{Weekday: "Tue", StartTime: "14:00", EndTime: "16:00"},
	}
	first := ExpandAvailability("7", records)
	second := ExpandAvailability("7", records)
	if !reflect.DeepEqual(first.Blocks, second.Blocks) {
		t.Errorf("expansions differ: %+v vs %+v", first.Blocks, second.Blocks)
	}

	seen := map[Block]bool{}
	for _, b := range first.Blocks {
		if seen[b] {
			t.Errorf("duplicate block %+v", b)
		}
		seen[b] = true
	}
	if len(first.Blocks) != 2 {
		t.Errorf("expected 2 blocks, got %d", len(first.Blocks))
	}
}

func TestExpandAvailability_DropsBadRecords(t *testing.T) {
	records := []AvailabilityRecord{
		{Weekday: "", StartTime: "09:00", EndTime: "10:00"},
		{Weekday: "lunes", StartTime: "", EndTime: "10:00"},
		{Weekday: "someday", StartTime: "09:00", EndTime: "10:00"},
		{Weekday: "lunes", StartTime: "25:00", EndTime: "26:00"},
		{Weekday: "lunes", StartTime: "11:00", EndTime: "10:00"},
		{Weekday: "lunes", StartTime: "09:00", EndTime: "bad"},
		{Weekday: "martes", StartTime: "09:00"},
	}

	exp := ExpandAvailability("7", records)
	if len(exp.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %+v", exp.Blocks)
	}
	if b := exp.Blocks[0]; !b.IsPoint() || b.Weekday != Tuesday || b.StartTime != "09:00" {
		t.Errorf("expected Tue 09:00 point block, got %+v", b)
	}

	wantReasons := []error{ErrMissingWeekday, ErrMissingStartTime, ErrUnknownWeekday, ErrInvalidTime, ErrInvertedRange, ErrInvalidTime}
	if len(exp.Dropped) != len(wantReasons) {
		t.Fatalf("expected %d dropped, got %d", len(wantReasons), len(exp.Dropped))
	}
	for i, want := range wantReasons {
		if !errors.Is(exp.Dropped[i].Reason, want) {
			t.Errorf("dropped[%d]: expected %v, got %v", i, want, exp.Dropped[i].Reason)
		}
	}
}

func TestExpandAvailability_KeepsRecordDoctorIDWhenUnset(t *testing.T) {
	exp := ExpandAvailability("", []AvailabilityRecord{{DoctorID: "9", Weekday: "lunes", StartTime: "09:00", EndTime: "10:00"}})
	if len(exp.Blocks) != 1 || exp.Blocks[0].DoctorID != "9" {
		t.Errorf("unexpected blocks %+v", exp.Blocks)
	}
}
