package scheduling

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date format used on the wire.
const DateLayout = "2006-01-02"

// NextDate returns the next calendar day after today that falls on w. When
// today already is w the result is one week ahead, so the result is always in
// [today+1, today+7]. Arithmetic is done on the local date of today.
func NextDate(w Weekday, today time.Time) (time.Time, error) {
	if !w.Valid() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownWeekday, string(w))
	}
	diff := (int(w.TimeWeekday()) - int(today.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	y, m, d := today.Date()
	return time.Date(y, m, d+diff, 0, 0, 0, 0, today.Location()), nil
}

// ResolveNextDate is NextDate formatted as YYYY-MM-DD.
func ResolveNextDate(w Weekday, today time.Time) (string, error) {
	next, err := NextDate(w, today)
	if err != nil {
		return "", err
	}
	return next.Format(DateLayout), nil
}
