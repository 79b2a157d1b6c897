// Package slot holds the pure time arithmetic used to match preferred
// kick-off times against the sessions the booking site advertises.
//
// Every function takes an explicit *time.Location for "local" so the
// behaviour is pinned in tests; callers pass time.Local in production.
package slot

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/pitchbook/internal/site"
)

// Layouts accepted for full date-times. Zoned layouts are tried first;
// a zoneless input is interpreted in the supplied location.
var (
	zonedLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z07:00",
		"2006-01-02T15:04Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	zonedClockLayouts = []string{
		"15:04:05Z07:00",
		"15:04Z07:00",
	}
	localClockLayouts = []string{
		"15:04:05",
		"15:04",
	}
)

// ParseInstant parses a date-time string into an absolute instant.
// Inputs carrying explicit zone information are taken exactly as
// given; zoneless inputs are wall-clock times in loc. The result is
// normalized to UTC, so feeding an RFC3339 UTC string back through is
// a no-op.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range zonedLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, l := range localLayouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
}

// DateOnly truncates an instant to its calendar date as seen in loc
// and returns that date's midnight (in loc) as an absolute instant.
// The availability endpoint is keyed by date, not instant, so this is
// what goes on the wire.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
}

// CombineDateAndTime composes the calendar date of date (interpreted
// in loc) with a time-of-day string. The zone of the result is loc
// unless timeOfDay itself carries explicit zone information, in which
// case that zone governs.
func CombineDateAndTime(date time.Time, timeOfDay string, loc *time.Location) (time.Time, error) {
	clock, clockLoc, err := parseClock(timeOfDay, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, clockLoc).UTC(), nil
}

func parseClock(s string, loc *time.Location) (time.Time, *time.Location, error) {
	s = strings.TrimSpace(s)
	for _, l := range zonedClockLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, t.Location(), nil
		}
	}
	for _, l := range localClockLayouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, loc, nil
		}
	}
	return time.Time{}, nil, fmt.Errorf("unrecognized time of day %q", s)
}

// FindMatch returns the identifier of the session whose start equals
// want. Equality is instant equality at minute precision, never a
// string comparison, so zone-letter differences cannot cause false
// results. The first session wins if the site lists duplicates.
func FindMatch(want time.Time, sessions []site.Session) (string, bool) {
	byStart := make(map[string]string, len(sessions))
	for _, s := range sessions {
		k := minuteKey(s.Start)
		if _, ok := byStart[k]; !ok {
			byStart[k] = s.GUID
		}
	}
	guid, ok := byStart[minuteKey(want)]
	return guid, ok
}

// MorePrioritized returns the entries of prefs strictly before the
// first entry equal to achieved, or the whole list if no entry
// matches. An empty result means the achieved slot is already the
// most preferred.
func MorePrioritized(prefs []time.Time, achieved time.Time) []time.Time {
	for i, p := range prefs {
		if minuteKey(p) == minuteKey(achieved) {
			return prefs[:i:i]
		}
	}
	return prefs
}

func minuteKey(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(time.RFC3339)
}
