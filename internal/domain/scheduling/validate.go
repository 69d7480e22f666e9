package scheduling

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// AppointmentInput is the create/update payload of the clinic API.
type AppointmentInput struct {
	PatientID string `json:"pacientes_id,omitempty"`
	DoctorID  string `json:"medicos_id" validate:"required"`
	Date      string `json:"fechaCita" validate:"required,isodate"`
	Time      string `json:"horaCita" validate:"required,clock"`
	Status    string `json:"estado" validate:"required,appointment_status"`
	Notes     string `json:"observaciones" validate:"max=1000"`
}

// AvailabilityInput publishes one weekly availability range.
type AvailabilityInput struct {
	DoctorID  string `json:"medicos_id" validate:"required"`
	Weekday   string `json:"diaSemana" validate:"required,weekday"`
	StartTime string `json:"horaInicio" validate:"required,clock"`
	EndTime   string `json:"horaFin" validate:"required,clock"`
}

// ValidationErrors maps a payload field name to its problem.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("isodate", isoDateRule)
	v.RegisterValidation("clock", clockRule)
	v.RegisterValidation("weekday", weekdayRule)
	v.RegisterValidation("appointment_status", statusRule)
	return v
}

var isoDateRule validator.Func = func(fl validator.FieldLevel) bool {
	_, err := time.Parse(DateLayout, fl.Field().String())
	return err == nil
}

var clockRule validator.Func = func(fl validator.FieldLevel) bool {
	_, err := NormalizeTime(fl.Field().String())
	return err == nil
}

var weekdayRule validator.Func = func(fl validator.FieldLevel) bool {
	_, ok := LookupWeekday(fl.Field().String())
	return ok
}

var statusRule validator.Func = func(fl validator.FieldLevel) bool {
	return validAppointmentStatuses[fl.Field().String()]
}

var validationMessages = map[string]string{
	"required":           "is required",
	"isodate":            "must be a date formatted YYYY-MM-DD",
	"clock":              "must be a 24-hour time formatted HH:MM",
	"weekday":            "is not a known weekday",
	"appointment_status": "must be one of pending, confirmed, completed, cancelled",
	"max":                "is too long",
}

func collect(err error) ValidationErrors {
	out := ValidationErrors{}
	if err == nil {
		return out
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range fieldErrs {
		msg, ok := validationMessages[fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %q", fe.Tag())
		}
		out[fe.Field()] = msg
	}
	return out
}

// ValidateAppointment checks a payload for the given actor. The patient
// selector is mandatory only for admins; other roles fill it implicitly.
// It returns nil or a ValidationErrors.
func ValidateAppointment(in AppointmentInput, actor Actor) error {
	errs := collect(validate.Struct(in))
	if actor.Role == RoleAdmin && strings.TrimSpace(in.PatientID) == "" {
		errs["pacientes_id"] = validationMessages["required"]
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateAvailability checks a weekly range; the end must be strictly
// after the start.
func ValidateAvailability(in AvailabilityInput) error {
	errs := collect(validate.Struct(in))
	if _, bad := errs["horaInicio"]; !bad {
		if _, bad := errs["horaFin"]; !bad {
			start, _ := NormalizeTime(in.StartTime)
			end, _ := NormalizeTime(in.EndTime)
			if end <= start {
				errs["horaFin"] = "must be after the start time"
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// withoutFields drops the errors reported for fields from a ValidationErrors.
// It returns nil when nothing is left and passes other errors through.
func withoutFields(err error, fields []string) error {
	verrs, ok := err.(ValidationErrors)
	if !ok {
		return err
	}
	for _, f := range fields {
		delete(verrs, f)
	}
	if len(verrs) == 0 {
		return nil
	}
	return verrs
}
