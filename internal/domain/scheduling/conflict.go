package scheduling

import (
	"strings"
	"time"
)

// DetectConflicts resolves every block to its next date and flags it as
// occupied when an active appointment (pending or confirmed) falls on that
// date at a matching time. A point block matches its exact time; a range
// matches any time in [start, end]. The appointment with id excludeID, the
// one being edited, never counts. Inputs are not modified.
func DetectConflicts(blocks []Block, appointments []Appointment, excludeID string, today time.Time) []Slot {
	busy := activeTimesByDate(appointments, excludeID)

	slots := make([]Slot, 0, len(blocks))
	for _, b := range blocks {
		slot := Slot{Block: b}
		date, err := ResolveNextDate(b.Weekday, today)
		if err != nil {
			continue
		}
		slot.ResolvedDate = date
		for _, t := range busy[date] {
			if blockCovers(b, t) {
				slot.Occupied = true
				break
			}
		}
		slots = append(slots, slot)
	}
	return slots
}

// FreeSlots keeps the slots that are not occupied.
func FreeSlots(slots []Slot) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if !s.Occupied {
			out = append(out, s)
		}
	}
	return out
}

// IsTaken reports whether an active appointment other than excludeID sits at
// date and clock (both already normalized).
func IsTaken(appointments []Appointment, excludeID, date, clock string) bool {
	for _, t := range activeTimesByDate(appointments, excludeID)[date] {
		if t == clock {
			return true
		}
	}
	return false
}

func activeTimesByDate(appointments []Appointment, excludeID string) map[string][]string {
	busy := make(map[string][]string)
	for _, a := range appointments {
		if excludeID != "" && a.ID == excludeID {
			continue
		}
		if !IsActiveStatus(a.Status) {
			continue
		}
		clock, err := NormalizeTime(a.Time)
		if err != nil {
			continue
		}
		date := strings.TrimSpace(a.Date)
		if len(date) > len(DateLayout) {
			date = date[:len(DateLayout)]
		}
		busy[date] = append(busy[date], clock)
	}
	return busy
}

func blockCovers(b Block, clock string) bool {
	if b.IsPoint() {
		return clock == b.StartTime
	}
	return clock >= b.StartTime && clock <= b.EndTime
}
