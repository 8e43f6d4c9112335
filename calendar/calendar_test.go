package calendar

import (
	"testing"
	"time"
)

var utc = time.UTC

func TestNextIsStrictlyAfterNow(t *testing.T) {
	specs := []Spec{
		{Month: -1, Day: -1, Hour: -1, Minute: -1, Weekday: -1},
		{Month: 3, Day: -1, Hour: -1, Minute: -1, Weekday: -1},
		{Month: -1, Day: -1, Hour: 9, Minute: 30, Weekday: -1},
		{Month: -1, Day: -1, Hour: -1, Minute: -1, Weekday: 1},
	}
	now := time.Date(2024, 3, 1, 23, 50, 17, 0, utc)
	for _, s := range specs {
		next := Next(s, now, utc)
		if !next.After(now) {
			t.Fatalf("spec %+v: Next() = %v, want strictly after %v", s, next, now)
		}
	}
}

func TestNextMatchesNonWildcardFields(t *testing.T) {
	s := Spec{Month: -1, Day: -1, Hour: 0, Minute: 5, Weekday: -1}
	now := time.Date(2024, 3, 1, 23, 50, 0, 0, utc)
	next := Next(s, now, utc)

	if next.Hour() != 0 || next.Minute() != 5 {
		t.Fatalf("Next() = %v, want hour=0 minute=5", next)
	}
}

func TestAllWildcardReturnsNextWholeMinute(t *testing.T) {
	s := Spec{Month: -1, Day: -1, Hour: -1, Minute: -1, Weekday: -1}
	now := time.Date(2024, 3, 1, 23, 50, 17, 0, utc)
	next := Next(s, now, utc)
	want := time.Date(2024, 3, 1, 23, 51, 0, 0, utc)
	if !next.Equal(want) {
		t.Fatalf("Next() = %v, want %v", next, want)
	}
}

func TestNoEarlierTimeMatches(t *testing.T) {
	s := Spec{Month: -1, Day: -1, Hour: 0, Minute: 5, Weekday: -1}
	now := time.Date(2024, 3, 1, 23, 50, 0, 0, utc)
	next := Next(s, now, utc)

	// Scan every whole minute strictly between now and next: none should match.
	for cand := now.Add(time.Minute); cand.Before(next); cand = cand.Add(time.Minute) {
		if cand.Hour() == s.Hour && cand.Minute() == s.Minute {
			t.Fatalf("candidate %v matches spec but is before computed next %v", cand, next)
		}
	}
}

// {Minute:5, Hour:0} at now=2024-03-01T23:50:00 local should fire at
// 2024-03-02T00:05:00 local.
func TestCalendarAlarmScenario(t *testing.T) {
	s := Spec{Month: -1, Day: -1, Hour: 0, Minute: 5, Weekday: -1}
	now := time.Date(2024, 3, 1, 23, 50, 0, 0, utc)
	next := Next(s, now, utc)
	want := time.Date(2024, 3, 2, 0, 5, 0, 0, utc)
	if !next.Equal(want) {
		t.Fatalf("Next() = %v, want %v", next, want)
	}
}

func TestWeekdayOnlyAdvancesByWholeDays(t *testing.T) {
	// Weekday=1 (Monday), Day wildcard: only the weekday candidate applies.
	s := Spec{Month: -1, Day: -1, Hour: 9, Minute: 0, Weekday: 1}
	// 2024-03-01 is a Friday.
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, utc)
	next := Next(s, now, utc)
	if next.Weekday() != time.Monday {
		t.Fatalf("Next().Weekday() = %v, want Monday", next.Weekday())
	}
	want := time.Date(2024, 3, 4, 9, 0, 0, 0, utc)
	if !next.Equal(want) {
		t.Fatalf("Next() = %v, want %v", next, want)
	}
}

func TestWeekdaySevenNormalizesToSunday(t *testing.T) {
	s := Spec{Month: -1, Day: -1, Hour: 9, Minute: 0, Weekday: 7}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, utc) // Friday
	next := Next(s, now, utc)
	if next.Weekday() != time.Sunday {
		t.Fatalf("Next().Weekday() = %v, want Sunday", next.Weekday())
	}
}

func TestMinOfWeekdayAndMdayCandidates(t *testing.T) {
	// Day=15 (far away) but Weekday=Monday (near) should pick the sooner one.
	s := Spec{Month: -1, Day: 15, Hour: 9, Minute: 0, Weekday: 1}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, utc) // Friday
	next := Next(s, now, utc)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, utc)
	if !next.Equal(monday) {
		t.Fatalf("Next() = %v, want earlier weekday candidate %v", next, monday)
	}
}
