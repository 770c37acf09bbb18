package vat

import (
	"fmt"
	"time"
)

// Calendar anchors the automation passes to the firm's civil timezone.
// "Day of month" and "month" are business-calendar concepts, so every gating
// predicate converts through here rather than using UTC. The clock is
// injectable so tests can simulate arbitrary instants.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar loads the business timezone, e.g. "Europe/London".
func NewCalendar(tz string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("vat: load business timezone %q: %w", tz, err)
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// NewCalendarAt returns a calendar whose clock is frozen at the given instant.
func NewCalendarAt(tz string, at time.Time) (*Calendar, error) {
	cal, err := NewCalendar(tz)
	if err != nil {
		return nil, err
	}
	cal.now = func() time.Time { return at }
	return cal, nil
}

// Now returns the current instant in the business timezone.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current civil date in the business timezone, normalised to
// UTC midnight so it compares cleanly against stored DATE columns.
func (c *Calendar) Today() time.Time {
	return CivilDate(c.Now())
}

// In converts an instant into the business timezone.
func (c *Calendar) In(t time.Time) time.Time {
	return t.In(c.loc)
}

// Location exposes the business timezone so civil dates arriving as strings
// can be parsed in it rather than in UTC.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// CivilDate strips an instant to its civil date at UTC midnight.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
