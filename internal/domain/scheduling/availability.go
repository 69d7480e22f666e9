package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrMissingWeekday   = errors.New("missing weekday")
	ErrMissingStartTime = errors.New("missing start time")
	ErrInvertedRange    = errors.New("end time before start time")
)

// Field aliases seen in the availability feed, in lookup order.
var (
	recordDoctorIDKeys  = []string{"medicos_id", "medico_id", "id_medico", "doctor_id"}
	recordFirstNameKeys = []string{"nombre", "nombre_medico", "first_name"}
	recordLastNameKeys  = []string{"apellido", "apellido_medico", "last_name"}
	recordWeekdayKeys   = []string{"diaSemana", "dia_semana", "dia", "weekday"}
	recordStartKeys     = []string{"horaInicio", "hora_inicio", "inicio", "start_time"}
	recordEndKeys       = []string{"horaFin", "hora_fin", "fin", "end_time"}
)

// UnmarshalJSON accepts the heterogeneous field names the feed uses.
func (r *AvailabilityRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = AvailabilityRecord{
		DoctorID:  firstString(raw, recordDoctorIDKeys),
		FirstName: firstString(raw, recordFirstNameKeys),
		LastName:  firstString(raw, recordLastNameKeys),
		Weekday:   firstString(raw, recordWeekdayKeys),
		StartTime: firstString(raw, recordStartKeys),
		EndTime:   firstString(raw, recordEndKeys),
	}
	return nil
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(val)
		}
	}
	return ""
}

// DroppedRecord is a feed record that could not be turned into a block.
type DroppedRecord struct {
	Record AvailabilityRecord
	Reason error
}

// Expansion is the result of ExpandAvailability.
type Expansion struct {
	Blocks  []Block
	Dropped []DroppedRecord
}

// FilterRecordsForDoctor keeps the feed records that belong to doctor. A
// record carrying a doctor id is matched on the id; otherwise the folded full
// names must be equal.
func FilterRecordsForDoctor(records []AvailabilityRecord, doctor Doctor) []AvailabilityRecord {
	want := normalizeName(doctor.FullName())
	var out []AvailabilityRecord
	for _, r := range records {
		if r.DoctorID != "" && doctor.ID != "" {
			if r.DoctorID == doctor.ID {
				out = append(out, r)
			}
			continue
		}
		if want != "" && normalizeName(r.DoctorName()) == want {
			out = append(out, r)
		}
	}
	return out
}

// NameCollisions groups doctor ids by folded full name, keeping only names
// shared by more than one doctor.
func NameCollisions(doctors []Doctor) map[string][]string {
	byName := make(map[string][]string)
	for _, d := range doctors {
		name := normalizeName(d.FullName())
		if name == "" {
			continue
		}
		byName[name] = append(byName[name], d.ID)
	}
	for name, ids := range byName {
		if len(ids) < 2 {
			delete(byName, name)
		}
	}
	return byName
}

// ExpandAvailability normalizes the records of one doctor into de-duplicated
// blocks ordered by weekday then time. Records without a usable weekday or
// start time, or whose end precedes the start, are reported in Dropped and
// do not abort the batch. A missing end time yields a point block.
func ExpandAvailability(doctorID string, records []AvailabilityRecord) Expansion {
	var exp Expansion
	seen := make(map[Block]bool, len(records))

	for _, r := range records {
		block, err := blockFromRecord(doctorID, r)
		if err != nil {
			exp.Dropped = append(exp.Dropped, DroppedRecord{Record: r, Reason: err})
			continue
		}
		key := Block{Weekday: block.Weekday, StartTime: block.StartTime, EndTime: block.EndTime}
		if seen[key] {
			continue
		}
		seen[key] = true
		exp.Blocks = append(exp.Blocks, block)
	}

	sort.SliceStable(exp.Blocks, func(i, j int) bool {
		a, b := exp.Blocks[i], exp.Blocks[j]
		if a.Weekday != b.Weekday {
			return a.Weekday.order() < b.Weekday.order()
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.EndTime < b.EndTime
	})
	return exp
}

func blockFromRecord(doctorID string, r AvailabilityRecord) (Block, error) {
	if strings.TrimSpace(r.Weekday) == "" {
		return Block{}, ErrMissingWeekday
	}
	if strings.TrimSpace(r.StartTime) == "" {
		return Block{}, ErrMissingStartTime
	}
	day, err := NormalizeWeekday(r.Weekday)
	if err != nil {
		return Block{}, err
	}
	start, err := NormalizeTime(r.StartTime)
	if err != nil {
		return Block{}, fmt.Errorf("start: %w", err)
	}
	end := start
	if strings.TrimSpace(r.EndTime) != "" {
		end, err = NormalizeTime(r.EndTime)
		if err != nil {
			return Block{}, fmt.Errorf("end: %w", err)
		}
	}
	if end < start {
		return Block{}, fmt.Errorf("%w: %s-%s", ErrInvertedRange, start, end)
	}

	if doctorID == "" {
		doctorID = r.DoctorID
	}
	return Block{DoctorID: doctorID, Weekday: day, StartTime: start, EndTime: end}, nil
}
