// Package bizday maps instants onto the helpdesk's business calendar, which
// runs at a fixed offset from UTC with no daylight saving.
package bizday

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

type Calendar struct {
	loc *time.Location
}

func New(offset time.Duration) Calendar {
	name := fmt.Sprintf("UTC%+03d:%02d", int(offset.Hours()), int(offset.Minutes())%60)
	return Calendar{loc: time.FixedZone(name, int(offset.Seconds()))}
}

func (c Calendar) Location() *time.Location {
	return c.loc
}

// Local renders t as business wall-clock time.
func (c Calendar) Local(t time.Time) time.Time {
	return t.In(c.loc)
}

// Bounds returns the UTC instants [start, end) of the business day holding t.
func (c Calendar) Bounds(t time.Time) (time.Time, time.Time) {
	local := t.In(c.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// DayKey is the business date of t, e.g. "2025-03-01".
func (c Calendar) DayKey(t time.Time) string {
	return t.In(c.loc).Format(DayLayout)
}

// At resolves a business wall-clock "HH:MM" on the business day holding t.
func (c Calendar) At(t time.Time, clock string) (time.Time, error) {
	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock %q: %w", clock, err)
	}
	local := t.In(c.loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hm.Hour(), hm.Minute(), 0, 0, c.loc)
	return at.UTC(), nil
}

// Nearest resolves a business wall-clock "HH:MM" on whichever of the
// previous, same or next business day puts it closest to t.
func (c Calendar) Nearest(t time.Time, clock string) (time.Time, error) {
	at, err := c.At(t, clock)
	if err != nil {
		return time.Time{}, err
	}
	best := at
	for _, cand := range []time.Time{at.AddDate(0, 0, -1), at.AddDate(0, 0, 1)} {
		if absDuration(t.Sub(cand)) < absDuration(t.Sub(best)) {
			best = cand
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Next returns the first instant strictly after now at business wall-clock
// hour:minute.
func (c Calendar) Next(now time.Time, hour, minute int) time.Time {
	local := now.In(c.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, c.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.UTC()
}
