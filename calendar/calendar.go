// Package calendar answers one question for the engine: is the market open
// at this instant. The core consults the predicate and never computes
// holidays or session boundaries itself.
package calendar

import (
	"fmt"
	"time"
)

// Calendar is the trading-hours collaborator. SessionDate identifies the
// trading session a timestamp belongs to; the engine's daily reset fires
// when it changes, not at wall-clock midnight.
type Calendar interface {
	IsOpen(t time.Time) bool
	NextOpen(t time.Time) time.Time
	SessionDate(t time.Time) string
}

// Futures models the CME Globex schedule for equity index futures:
// Sunday 17:00 CT through Friday 16:00 CT with a daily 16:00-17:00 CT
// maintenance break, plus a configurable holiday list.
type Futures struct {
	loc      *time.Location
	holidays map[string]bool
}

// NewFutures builds the calendar. Holidays are "YYYY-MM-DD" dates in
// exchange time.
func NewFutures(holidays []string) (*Futures, error) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return nil, fmt.Errorf("calendar: load exchange timezone: %w", err)
	}

	hs := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
			return nil, fmt.Errorf("calendar: bad holiday %q: %w", h, err)
		}
		hs[h] = true
	}

	return &Futures{loc: loc, holidays: hs}, nil
}

// IsOpen reports whether Globex is trading at t.
func (c *Futures) IsOpen(t time.Time) bool {
	ct := t.In(c.loc)

	if c.holidays[ct.Format("2006-01-02")] {
		return false
	}

	switch ct.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return ct.Hour() >= 17
	case time.Friday:
		return ct.Hour() < 16
	default:
		// Mon-Thu: closed only during the maintenance break.
		return ct.Hour() != 16
	}
}

// NextOpen returns the first instant at or after t when the market trades.
// Open stretches resolve to t itself; closed stretches resolve to the next
// session open on an hour boundary.
func (c *Futures) NextOpen(t time.Time) time.Time {
	if c.IsOpen(t) {
		return t
	}

	ct := t.In(c.loc)
	// Candidate opens land at 17:00 CT, or at midnight CT when the day
	// before was a holiday. Walk day by day; the holiday list bounds how
	// far this can go in practice.
	day := time.Date(ct.Year(), ct.Month(), ct.Day(), 0, 0, 0, 0, c.loc)
	var candidate time.Time
	for i := 0; i < 366; i++ {
		evening := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, c.loc)
		for _, candidate = range []time.Time{day, evening} {
			if candidate.After(ct) && c.IsOpen(candidate) {
				return candidate
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return candidate
}

// SessionDate maps t to its trading session. Globex sessions run from
// 17:00 CT to the next day's 16:00 CT and are named for the day they
// settle on: anything at or after 17:00 belongs to the next calendar day.
func (c *Futures) SessionDate(t time.Time) string {
	ct := t.In(c.loc)
	if ct.Hour() >= 17 {
		ct = ct.AddDate(0, 0, 1)
	}
	return ct.Format("2006-01-02")
}

var _ Calendar = (*Futures)(nil)

// AlwaysOpen treats every instant as tradable. Backtests over recorded
// bars use it: the recording already reflects the real session.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(t time.Time) bool        { return true }
func (AlwaysOpen) NextOpen(t time.Time) time.Time { return t }
func (AlwaysOpen) SessionDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

var _ Calendar = AlwaysOpen{}
