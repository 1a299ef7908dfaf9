package oee

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// Shift labels a production window within a calendar day.
type Shift string

const (
	ShiftMorning   Shift = "morning"
	ShiftAfternoon Shift = "afternoon"
	ShiftNight     Shift = "night"
	ShiftDaily     Shift = "daily"
)

// ParseShift validates a shift label. Empty means daily.
func ParseShift(value string) (Shift, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ShiftDaily, nil
	}
	switch shift := Shift(value); shift {
	case ShiftMorning, ShiftAfternoon, ShiftNight, ShiftDaily:
		return shift, nil
	default:
		return "", fmt.Errorf("%w: invalid shift %q", ErrInvalidArgument, value)
	}
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(value string) (time.Time, error) {
	date, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidArgument, value)
	}
	return date.UTC(), nil
}

// Window is a half-open [Start, End) production window.
type Window struct {
	Start time.Time
	End   time.Time
}

// PlannedMinutes is the window length in minutes.
func (w Window) PlannedMinutes() float64 {
	return w.End.Sub(w.Start).Minutes()
}

// ShiftWindow returns the window of shift on date (UTC). The night shift ends
// at 06:00 the next day.
func ShiftWindow(shift Shift, date time.Time) (Window, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	switch shift {
	case ShiftMorning:
		return Window{Start: day.Add(6 * time.Hour), End: day.Add(14 * time.Hour)}, nil
	case ShiftAfternoon:
		return Window{Start: day.Add(14 * time.Hour), End: day.Add(22 * time.Hour)}, nil
	case ShiftNight:
		return Window{Start: day.Add(22 * time.Hour), End: day.AddDate(0, 0, 1).Add(6 * time.Hour)}, nil
	case ShiftDaily:
		return Window{Start: day, End: day.AddDate(0, 0, 1)}, nil
	default:
		return Window{}, fmt.Errorf("%w: invalid shift %q", ErrInvalidArgument, shift)
	}
}
