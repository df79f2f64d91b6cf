// Package system provides the clocks used to stamp runs and compute crawl
// cutoffs.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Useful for replaying a run window.
type Fixed struct {
	At time.Time
}

// Now returns the configured instant in UTC.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
