// Package system provides the wall clock used for capture timestamps.
package system

import "time"

// Precision is the resolution of every timestamp returned by Clock. It matches Postgres
// timestamptz so a captured time round-trips through the store unchanged.
const Precision = time.Microsecond

// Clock implements harvest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision, without a monotonic reading.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
