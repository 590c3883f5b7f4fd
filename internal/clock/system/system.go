// Package system provides the wall clock.
package system

import "time"

// Clock implements harvest.Clock. Times are UTC and truncated to microseconds,
// the resolution Postgres stores, so values compare equal after a round trip.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
