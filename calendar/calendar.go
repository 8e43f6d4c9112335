// Package calendar computes the next fire time for a StartCalendarInterval
// spec (§4.D "Calendar alarm"): a set of wildcard fields (month, day of
// month, hour, minute, weekday) where -1 means "any".
package calendar

import "time"

// Spec is a single calendar-interval entry. A field value of -1 means
// wildcard ("any"); missing fields in the on-disk dictionary are normalized
// to -1 by the caller before this package sees them.
//
// Weekday follows the §4.D convention: 0=Sunday..6=Saturday, with 7 also
// accepted and normalized to 0.
type Spec struct {
	Month   int // 1-12, -1 = any
	Day     int // 1-31, -1 = any
	Hour    int // 0-23, -1 = any
	Minute  int // 0-59, -1 = any
	Weekday int // 0-6 (0=Sunday), -1 = any
}

// normalizedWeekday maps 7 to 0 per §4.D step 3.
func (s Spec) normalizedWeekday() int {
	if s.Weekday == 7 {
		return 0
	}
	return s.Weekday
}

// Next computes the next time strictly after now whose local-time
// decomposition matches spec, per the algorithm in §4.D:
//
//  1. Start from now+1 minute, truncated to the minute (seconds=0).
//  2. Descend month -> day -> hour -> minute, incrementing the lowest
//     non-matching field and re-normalizing with the equivalent of mktime
//     (time.Date's overflow normalization) until every non-wildcard field
//     matches.
//  3. If Weekday is given (!=-1), compute the nearest day (at the given
//     hour/minute, or now's when those are wildcard) matching the weekday,
//     and take the minimum of the two candidates — unless Day is wildcard,
//     in which case only the weekday candidate applies.
//
// The loc parameter supplies the "local time" the spec fields are
// interpreted against; production callers pass time.Local.
func Next(spec Spec, now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	// now+1 minute, zero seconds (§4.D step 1). Built from the local-time
	// components rather than a raw duration Truncate so it agrees with
	// local-time semantics across non-whole-minute UTC offsets.
	start := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, loc).Add(time.Minute)

	mdayCandidate := nextMonthDayMatch(spec, start, loc)

	if spec.Weekday == -1 {
		return mdayCandidate
	}

	weekdayCandidate := nextWeekdayMatch(spec, start, loc)

	if spec.Day == -1 {
		return weekdayCandidate
	}
	if weekdayCandidate.Before(mdayCandidate) {
		return weekdayCandidate
	}
	return mdayCandidate
}

// nextMonthDayMatch descends month -> day -> hour -> minute per §4.D step 2.
func nextMonthDayMatch(spec Spec, start time.Time, loc *time.Location) time.Time {
	t := start
	for i := 0; i < 10000; i++ { // bounded: converges in at most a few years
		if matchField(spec.Month, int(t.Month())) &&
			matchField(spec.Day, t.Day()) &&
			matchField(spec.Hour, t.Hour()) &&
			matchField(spec.Minute, t.Minute()) {
			return t
		}
		t = advance(spec, t, loc)
	}
	// Unreachable in practice; guards against an impossible spec (e.g.
	// Day=31 on a spec that also pins Month=2) looping forever.
	return t
}

// advance moves t forward to the next candidate instant by bumping the
// lowest field that fails to match and zeroing everything below it, letting
// time.Date's normalization handle carries (month/day overflow into the
// next year, day overflow into the next month, etc).
func advance(spec Spec, t time.Time, loc *time.Location) time.Time {
	year, month, day, hour, minute := t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute()

	if !matchField(spec.Minute, minute) {
		minute++
		return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	}
	if !matchField(spec.Hour, hour) {
		hour++
		return time.Date(year, time.Month(month), day, hour, 0, 0, 0, loc)
	}
	if !matchField(spec.Day, day) {
		day++
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	}
	if !matchField(spec.Month, month) {
		month++
		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	}
	// All concrete fields already match but we looped (wildcard-only spec
	// reaching here means the caller's start time itself matched and the
	// loop should not have been entered); bump the minute defensively.
	return t.Add(time.Minute)
}

// matchField reports whether a field value matches its spec (-1 = any).
func matchField(spec, value int) bool {
	return spec == -1 || spec == value
}

// nextWeekdayMatch finds the next day matching spec.Weekday at the spec's
// hour/minute (wildcard hour/minute use the start time's hour/minute, per
// §4.D step 3's "next match of weekday+hour+minute by incrementing whole
// days").
func nextWeekdayMatch(spec Spec, start time.Time, loc *time.Location) time.Time {
	hour, minute := spec.Hour, spec.Minute
	if hour == -1 {
		hour = start.Hour()
	}
	if minute == -1 {
		minute = start.Minute()
	}
	wantWeekday := spec.normalizedWeekday()

	candidate := time.Date(start.Year(), start.Month(), start.Day(), hour, minute, 0, 0, loc)
	if candidate.Before(start) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for int(candidate.Weekday()) != wantWeekday {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
