package scheduling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidTime    = errors.New("invalid time")
	ErrUnknownWeekday = errors.New("unknown weekday")
)

// weekdayAliases maps lower-cased, accent-free spellings to canonical codes.
// "m" is not mapped: it is ambiguous between martes and miercoles.
var weekdayAliases = map[string]Weekday{
	"mon": Monday, "l": Monday, "lu": Monday, "lun": Monday, "lunes": Monday, "monday": Monday,
	"tue": Tuesday, "ma": Tuesday, "mar": Tuesday, "martes": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "x": Wednesday, "mi": Wednesday, "mie": Wednesday, "miercoles": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "j": Thursday, "ju": Thursday, "jue": Thursday, "jueves": Thursday, "thursday": Thursday,
	"fri": Friday, "v": Friday, "vi": Friday, "vie": Friday, "viernes": Friday, "friday": Friday,
	"sat": Saturday, "s": Saturday, "sa": Saturday, "sab": Saturday, "sabado": Saturday, "saturday": Saturday,
	"sun": Sunday, "d": Sunday, "do": Sunday, "dom": Sunday, "domingo": Sunday, "sunday": Sunday,
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u",
)

// LookupWeekday maps a weekday alias to its canonical code. When the alias is
// unknown the raw input is returned unchanged together with ok=false.
func LookupWeekday(raw string) (Weekday, bool) {
	key := strings.ToLower(accentFolder.Replace(strings.TrimSpace(raw)))
	key = strings.TrimSuffix(key, ".")
	if w, ok := weekdayAliases[key]; ok {
		return w, true
	}
	return Weekday(raw), false
}

// NormalizeWeekday is LookupWeekday with unmapped input reported as an error.
func NormalizeWeekday(raw string) (Weekday, error) {
	w, ok := LookupWeekday(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownWeekday, raw)
	}
	return w, nil
}

// NormalizeTime canonicalizes a clock string to HH:MM, dropping seconds and
// fractions. Accepted shapes: H:MM, HH:MM, HH:MM:SS[.ffffff], HH.MM, HHhMM,
// each optionally followed by an am/pm marker ("am", "p.m.", "p. m.").
func NormalizeTime(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTime)
	}

	meridiem := ""
	compact := strings.NewReplacer(" ", "", ".", "").Replace(s)
	switch {
	case strings.HasSuffix(compact, "am"):
		meridiem = "am"
	case strings.HasSuffix(compact, "pm"):
		meridiem = "pm"
	}
	if meridiem != "" {
		idx := strings.IndexAny(s, "ap")
		s = strings.TrimSpace(s[:idx])
	}

	sep := strings.IndexAny(s, ":.h")
	if sep <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	hourPart := s[:sep]
	rest := s[sep+1:]
	if len(rest) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	minutePart := rest[:2]
	if tail := rest[2:]; tail != "" && !validSecondsTail(tail) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}

	if len(hourPart) > 2 || !isDigits(hourPart) || !isDigits(minutePart) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	hour, _ := strconv.Atoi(hourPart)
	minute, _ := strconv.Atoi(minutePart)

	switch meridiem {
	case "am":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
		}
		if hour != 12 {
			hour += 12
		}
	}

	if hour > 23 || minute > 59 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// validSecondsTail accepts ":SS" optionally followed by ".fraction".
func validSecondsTail(tail string) bool {
	if len(tail) < 3 || tail[0] != ':' {
		return false
	}
	if !isDigits(tail[1:3]) {
		return false
	}
	if sec, _ := strconv.Atoi(tail[1:3]); sec > 59 {
		return false
	}
	frac := tail[3:]
	if frac == "" {
		return true
	}
	return frac[0] == '.' && isDigits(frac[1:])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeName folds a person name for equality checks: trimmed,
// lower-cased, accent-free, single-spaced.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(accentFolder.Replace(name))), " ")
}

var spanishWeekdayNames = map[Weekday]string{
	Monday:    "Lunes",
	Tuesday:   "Martes",
	Wednesday: "Miércoles",
	Thursday:  "Jueves",
	Friday:    "Viernes",
	Saturday:  "Sábado",
	Sunday:    "Domingo",
}

// SpanishName is the weekday label the clinic backend stores.
func (w Weekday) SpanishName() string {
	return spanishWeekdayNames[w]
}
