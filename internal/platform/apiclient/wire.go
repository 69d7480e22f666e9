package apiclient

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ehr/citas/internal/domain/scheduling"
)

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

type wireDoctor struct {
	ID               flexID `json:"id"`
	UsuarioID        flexID `json:"usuario_id"`
	Nombre           string `json:"nombre"`
	Apellido         string `json:"apellido"`
	EspecialidadID   flexID `json:"especialidad_id"`
	EspecialidadesID flexID `json:"especialidades_id"`
}

func (w wireDoctor) toDomain() scheduling.Doctor {
	spec := w.EspecialidadID
	if spec == "" {
		spec = w.EspecialidadesID
	}
	return scheduling.Doctor{
		ID:          w.ID.String(),
		UserID:      w.UsuarioID.String(),
		FirstName:   strings.TrimSpace(w.Nombre),
		LastName:    strings.TrimSpace(w.Apellido),
		SpecialtyID: spec.String(),
	}
}

type wireSpecialty struct {
	ID     flexID `json:"id"`
	Nombre string `json:"nombre"`
}

type wirePatient struct {
	ID        flexID `json:"id"`
	UsuarioID flexID `json:"usuario_id"`
	Nombre    string `json:"nombre"`
	Apellido  string `json:"apellido"`
}

func (w wirePatient) toDomain() scheduling.Patient {
	return scheduling.Patient{
		ID:        w.ID.String(),
		UserID:    w.UsuarioID.String(),
		FirstName: strings.TrimSpace(w.Nombre),
		LastName:  strings.TrimSpace(w.Apellido),
	}
}

type wireAppointment struct {
	ID            flexID       `json:"id"`
	MedicosID     flexID       `json:"medicos_id"`
	PacientesID   flexID       `json:"pacientes_id"`
	FechaCita     string       `json:"fechaCita"`
	HoraCita      string       `json:"horaCita"`
	Estado        string       `json:"estado"`
	Observaciones string       `json:"observaciones"`
	Paciente      *wirePatient `json:"paciente"`
}

func (w wireAppointment) toDomain() scheduling.Appointment {
	a := scheduling.Appointment{
		ID:        w.ID.String(),
		DoctorID:  w.MedicosID.String(),
		PatientID: w.PacientesID.String(),
		Date:      strings.TrimSpace(w.FechaCita),
		Time:      strings.TrimSpace(w.HoraCita),
		Status:    canonicalStatus(w.Estado),
		Notes:     w.Observaciones,
	}
	if len(a.Date) > len(scheduling.DateLayout) {
		a.Date = a.Date[:len(scheduling.DateLayout)]
	}
	if clock, err := scheduling.NormalizeTime(a.Time); err == nil {
		a.Time = clock
	}
	if p := w.Paciente; p != nil {
		if a.PatientID == "" {
			a.PatientID = p.ID.String()
		}
		a.PatientUserID = p.UsuarioID.String()
		a.PatientName = p.toDomain().FullName()
	}
	return a
}

var statusAliases = map[string]string{
	"pendiente":  scheduling.StatusPending,
	"confirmada": scheduling.StatusConfirmed,
	"confirmado": scheduling.StatusConfirmed,
	"completada": scheduling.StatusCompleted,
	"completado": scheduling.StatusCompleted,
	"realizada":  scheduling.StatusCompleted,
	"atendida":   scheduling.StatusCompleted,
	"cancelada":  scheduling.StatusCancelled,
	"cancelado":  scheduling.StatusCancelled,
	"canceled":   scheduling.StatusCancelled,
}

// canonicalStatus maps the backend's Spanish or English status to the
// gateway's English values. Unknown statuses pass through lower-cased.
func canonicalStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if c, ok := statusAliases[s]; ok {
		return c
	}
	return s
}

// decodeList accepts a bare JSON array or an object wrapping it under "data".
func decodeList(body []byte, out interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return err
		}
		if len(env.Data) == 0 {
			return nil
		}
		body = env.Data
	}
	return json.Unmarshal(body, out)
}

// decodeAppointment reads an appointment from a write response, which may be
// the bare record or a record wrapped under "data" or "cita". An empty body
// yields the zero value.
func decodeAppointment(body []byte) (wireAppointment, error) {
	var w wireAppointment
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return w, nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
		Cita json.RawMessage `json:"cita"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return w, err
	}
	switch {
	case len(env.Data) > 0 && env.Data[0] == '{':
		body = env.Data
	case len(env.Cita) > 0 && env.Cita[0] == '{':
		body = env.Cita
	}
	err := json.Unmarshal(body, &w)
	return w, err
}
