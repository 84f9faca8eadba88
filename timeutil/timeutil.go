// Package timeutil builds the timezone-aware ISO-8601 range required by the
// updates endpoint.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MakeISORange combines local dates and wall-clock times in the named
// timezone and returns both bounds as UTC ISO-8601 strings with a Z suffix,
// e.g. "2025-08-28T22:00:00Z".
func MakeISORange(fromDate time.Time, fromTime string, toDate time.Time, toTime string, tzName string) (string, string, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return "", "", fmt.Errorf("load timezone %q: %w", tzName, err)
	}

	from, err := combine(fromDate, fromTime, loc)
	if err != nil {
		return "", "", fmt.Errorf("from time: %w", err)
	}
	to, err := combine(toDate, toTime, loc)
	if err != nil {
		return "", "", fmt.Errorf("to time: %w", err)
	}

	return isoUTC(from), isoUTC(to), nil
}

// NowISOUTC returns the current instant as a second-precision UTC ISO string.
func NowISOUTC() string {
	return isoUTC(time.Now())
}

// ParseISO parses an ISO-8601 timestamp, accepting the Z suffix, and returns
// it in UTC.
func ParseISO(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse iso timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// combine merges the date part of d with a clock string HH:MM[:SS] in loc.
func combine(d time.Time, clock string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return time.Time{}, fmt.Errorf("invalid clock %q, want HH:MM[:SS]", clock)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid clock %q: %w", clock, err)
		}
		nums[i] = n
	}
	return time.Date(d.Year(), d.Month(), d.Day(), nums[0], nums[1], nums[2], 0, loc), nil
}

func isoUTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z07:00")
}
