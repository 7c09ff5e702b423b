// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements comic.Clock. Times are reported in its location so that
// comic.Day of Now is the local calendar day of the strip publisher.
type Clock struct {
	loc *time.Location
}

// New creates a UTC clock.
func New() *Clock {
	return NewIn(time.UTC)
}

// NewIn creates a clock reporting times in loc. A nil loc means UTC.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location reports the clock's timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}
