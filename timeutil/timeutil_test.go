package timeutil

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMakeISORange(t *testing.T) {
	tests := []struct {
		name     string
		fromTime string
		toTime   string
		tz       string
		wantFrom string
		wantTo   string
	}{
		{
			name:     "berlin summer time is utc+2",
			fromTime: "00:00:00",
			toTime:   "23:59:59",
			tz:       "Europe/Berlin",
			wantFrom: "2025-08-27T22:00:00Z",
			wantTo:   "2025-08-28T21:59:59Z",
		},
		{
			name:     "utc passes through",
			fromTime: "08:30",
			toTime:   "17:00",
			tz:       "UTC",
			wantFrom: "2025-08-28T08:30:00Z",
			wantTo:   "2025-08-28T17:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := date(2025, time.August, 28)
			from, to, err := MakeISORange(d, tt.fromTime, d, tt.toTime, tt.tz)
			if err != nil {
				t.Fatalf("MakeISORange: %v", err)
			}
			if from != tt.wantFrom || to != tt.wantTo {
				t.Fatalf("range = (%s, %s), want (%s, %s)", from, to, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestMakeISORangeErrors(t *testing.T) {
	d := date(2025, time.August, 28)
	if _, _, err := MakeISORange(d, "00:00", d, "23:59", "Mars/Olympus"); err == nil {
		t.Fatalf("unknown timezone must fail")
	}
	if _, _, err := MakeISORange(d, "25", d, "23:59", "UTC"); err == nil {
		t.Fatalf("clock without minutes must fail")
	}
	if _, _, err := MakeISORange(d, "aa:bb", d, "23:59", "UTC"); err == nil {
		t.Fatalf("non-numeric clock must fail")
	}
}

func TestParseISO(t *testing.T) {
	got, err := ParseISO("2025-08-01T12:00:00Z")
	if err != nil {
		t.Fatalf("ParseISO: %v", err)
	}
	want := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("parsed = %v, want %v", got, want)
	}

	got, err = ParseISO("2025-08-01T12:00:00+02:00")
	if err != nil {
		t.Fatalf("ParseISO offset: %v", err)
	}
	if !got.Equal(time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("offset not converted to UTC: %v", got)
	}

	if _, err := ParseISO("not a time"); err == nil {
		t.Fatalf("garbage must fail")
	}
}

func TestNowISOUTCShape(t *testing.T) {
	now := NowISOUTC()
	if _, err := time.Parse("2006-01-02T15:04:05Z", now); err != nil {
		t.Fatalf("NowISOUTC %q not second-precision UTC: %v", now, err)
	}
}
