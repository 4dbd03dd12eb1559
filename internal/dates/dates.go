// Package dates implements the relative date vocabulary understood by the
// analytics reporting API: today, yesterday, NdaysAgo and yearToDate, plus
// literal YYYY-MM-DD dates.
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	Layout     = "2006-01-02"
	Today      = "today"
	Yesterday  = "yesterday"
	YearToDate = "yearToDate"

	daysAgoSuffix = "daysAgo"
)

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Now returns the current calendar day according to clock.
func Now(clock clockwork.Clock) time.Time {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Day(clock.Now())
}

func Format(t time.Time) string {
	return t.Format(Layout)
}

// DaysAgo renders the NdaysAgo token.
func DaysAgo(n int) string {
	return strconv.Itoa(n) + daysAgoSuffix
}

// PreviousMonth returns the first and last day of the calendar month before
// today's month.
func PreviousMonth(today time.Time) (time.Time, time.Time) {
	firstOfThisMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	start := firstOfThisMonth.AddDate(0, -1, 0)
	end := firstOfThisMonth.AddDate(0, 0, -1)
	return start, end
}

// IsToken reports whether value is one of the relative tokens.
func IsToken(value string) bool {
	switch value {
	case Today, Yesterday, YearToDate:
		return true
	}
	_, ok := parseDaysAgo(value)
	return ok
}

// Valid reports whether value is a relative token or a literal date.
func Valid(value string) bool {
	if IsToken(value) {
		return true
	}
	_, err := time.Parse(Layout, value)
	return err == nil
}

// Resolve turns a token or literal date into a calendar day relative to today.
func Resolve(value string, today time.Time) (time.Time, error) {
	today = Day(today)
	value = strings.TrimSpace(value)
	switch value {
	case Today:
		return today, nil
	case Yesterday:
		return today.AddDate(0, 0, -1), nil
	case YearToDate:
		return time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location()), nil
	}
	if n, ok := parseDaysAgo(value); ok {
		return today.AddDate(0, 0, -n), nil
	}
	parsed, err := time.ParseInLocation(Layout, value, today.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", value)
	}
	return parsed, nil
}

// ResolveRange resolves both ends of a range and rejects inverted ranges.
func ResolveRange(start, end string, today time.Time) (time.Time, time.Time, error) {
	from, err := Resolve(start, today)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start date: %w", err)
	}
	to, err := Resolve(end, today)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end date: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", Format(to), Format(from))
	}
	return from, to, nil
}

func parseDaysAgo(value string) (int, bool) {
	digits, ok := strings.CutSuffix(value, daysAgoSuffix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
