package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// TimeToMinutes converts a wall-clock "HH:MM" or "HH:MM:SS" string to minutes since midnight.
// Seconds, with an optional fraction as Postgres renders them, are accepted and ignored.
func TimeToMinutes(t string) (int, error) {
	parts := strings.Split(strings.TrimSpace(t), ":")
	if len(parts) == 3 {
		parts[2], _, _ = strings.Cut(parts[2], ".")
	}
	if len(parts) < 2 || len(parts) > 3 {
		return 0, validationError(fmt.Sprintf("invalid time %q", t))
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, validationError(fmt.Sprintf("invalid time %q", t))
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, validationError(fmt.Sprintf("invalid time %q", t))
	}
	if len(parts) == 3 {
		if s, err := strconv.Atoi(parts[2]); err != nil || s < 0 || s > 59 {
			return 0, validationError(fmt.Sprintf("invalid time %q", t))
		}
	}
	return h*60 + m, nil
}

// MinutesToTime formats minutes since midnight as "HH:MM:00". No wrapping is performed.
func MinutesToTime(m int) string {
	return fmt.Sprintf("%02d:%02d:00", m/60, m%60)
}

// IntervalsOverlap reports whether [startA,endA) and [startB,endB) intersect.
// Touching endpoints do not overlap.
func IntervalsOverlap(startA, endA, startB, endB int) bool {
	return startA < endB && endA > startB
}

// NormalizeTime parses t and re-renders it in canonical "HH:MM:00" form.
func NormalizeTime(t string) (string, error) {
	m, err := TimeToMinutes(t)
	if err != nil {
		return "", err
	}
	if m >= minutesPerDay {
		return "", validationError(fmt.Sprintf("time %q is past midnight", t))
	}
	return MinutesToTime(m), nil
}

// canonicalTime rewrites a stored time into "HH:MM:00" and leaves unparseable values untouched.
func canonicalTime(t string) string {
	m, err := TimeToMinutes(t)
	if err != nil || m > minutesPerDay {
		return t
	}
	return MinutesToTime(m)
}

// ParseTimeRange parses and validates a [start,end) pair of wall-clock times.
func ParseTimeRange(start, end string) (int, int, error) {
	s, err := TimeToMinutes(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := TimeToMinutes(end)
	if err != nil {
		return 0, 0, err
	}
	if e > minutesPerDay {
		return 0, 0, validationError("end time is past midnight")
	}
	if s >= e {
		return 0, 0, validationError("start time must be before end time")
	}
	return s, e, nil
}

// DateOf truncates t to a calendar date at UTC midnight. The engine works in a single zone.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a "YYYY-MM-DD" date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, validationError(fmt.Sprintf("invalid date %q", s))
	}
	return d, nil
}

// WeekdayOf returns the weekday of a date, 0 = Sunday.
func WeekdayOf(date time.Time) Weekday {
	return Weekday(date.Weekday())
}
