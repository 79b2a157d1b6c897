// Package strategy produces the run's preference list: the ordered
// desired instants the engine will try, most preferred first.
package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/pitchbook/internal/config"
	"github.com/example/pitchbook/internal/slot"
)

// Preferences resolves the configured strategy against now. The list
// is computed once per run and immutable afterwards; the weekday
// strategy deliberately does not re-resolve after a midnight rollover
// mid-run.
func Preferences(cfg config.Strategy, now time.Time, loc *time.Location) ([]time.Time, error) {
	switch cfg.Name {
	case config.StrategyDateAndTimeOrder:
		return fromDates(cfg.Dates, loc)
	case config.StrategyWeekdayAndTimeOrder:
		return fromWeekday(cfg, now, loc)
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Name)
	}
}

func fromDates(dates []string, loc *time.Location) ([]time.Time, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("dateAndTimeOrder needs at least one date")
	}
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, err := slot.ParseInstant(d, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func fromWeekday(cfg config.Strategy, now time.Time, loc *time.Location) ([]time.Time, error) {
	wd, err := parseWeekday(cfg.Weekday)
	if err != nil {
		return nil, err
	}
	if len(cfg.Times) == 0 {
		return nil, fmt.Errorf("weekdayAndTimeOrder needs at least one time")
	}

	// Nearest calendar date >= now+offset whose weekday matches.
	day := now.In(loc).AddDate(0, 0, cfg.MinDaysAhead)
	for day.Weekday() != wd {
		day = day.AddDate(0, 0, 1)
	}
	date := slot.DateOnly(day, loc)

	out := make([]time.Time, 0, len(cfg.Times))
	for _, tod := range cfg.Times {
		t, err := slot.CombineDateAndTime(date, tod, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// parseWeekday accepts an English weekday name (any case) or a 0-6
// index with Sunday as 0, matching time.Weekday.
func parseWeekday(s string) (time.Weekday, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday index %d out of range 0-6", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unrecognized weekday %q", s)
}
