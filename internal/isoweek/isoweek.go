// Package isoweek implements ISO-8601 week arithmetic in a fixed reference
// location. Week assignment decides whether the third-forgot alert fires, so
// every timestamp is converted to the institution's zone before the calendar
// date is derived; recomputing in another zone can shift an event across a
// week boundary.
package isoweek

import (
	"fmt"
	"time"
)

// Calendar maps instants to ISO week coordinates using one canonical location.
type Calendar struct {
	loc *time.Location
}

// New returns a calendar anchored to the given location. A nil location
// defaults to UTC.
func New(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location exposes the reference location.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Of returns the ISO week number and ISO week-numbering year for the instant.
// The year may differ from the calendar year near year boundaries.
func (c Calendar) Of(t time.Time) (week, year int) {
	year, week = t.In(c.Location()).ISOWeek()
	return week, year
}

// WeeksIn reports how many ISO weeks the given ISO year has (52 or 53).
// December 28 always falls in the last week of its ISO year.
func (c Calendar) WeeksIn(year int) int {
	_, week := time.Date(year, time.December, 28, 0, 0, 0, 0, c.Location()).ISOWeek()
	return week
}

// Validate rejects week coordinates outside the valid range for the year.
// Out-of-range input is an error, never clamped.
func (c Calendar) Validate(week, year int) error {
	if year < 1 {
		return fmt.Errorf("invalid ISO year %d", year)
	}
	if max := c.WeeksIn(year); week < 1 || week > max {
		return fmt.Errorf("week %d out of range for ISO year %d (1..%d)", week, year, max)
	}
	return nil
}

// FirstDayOf returns the Monday starting the given ISO week, at midnight in
// the reference location. It is the inverse of Of for valid coordinates:
// Of(FirstDayOf(w, y)) == (w, y).
func (c Calendar) FirstDayOf(week, year int) (time.Time, error) {
	if err := c.Validate(week, year); err != nil {
		return time.Time{}, err
	}
	// January 4 is always inside week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, c.Location())
	weekday := (int(jan4.Weekday()) + 6) % 7 // Monday=0..Sunday=6
	return jan4.AddDate(0, 0, -weekday+(week-1)*7), nil
}

// Bounds returns the half-open interval [monday, nextMonday) covering the week.
func (c Calendar) Bounds(week, year int) (start, end time.Time, err error) {
	start, err = c.FirstDayOf(week, year)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 7), nil
}

// Label renders a human-facing description of the week, e.g.
// "Semaine 10 (04/03 - 10/03/2024)".
func (c Calendar) Label(week, year int) string {
	start, err := c.FirstDayOf(week, year)
	if err != nil {
		return fmt.Sprintf("Semaine %d", week)
	}
	end := start.AddDate(0, 0, 6)
	return fmt.Sprintf("Semaine %d (%s - %s)", week, start.Format("02/01"), end.Format("02/01/2006"))
}
