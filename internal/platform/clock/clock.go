// Package clock abstracts wall-clock reads so that time-dependent domain
// logic (admission timestamps, bill dates, contract windows) is testable.
package clock

import "time"

// Clock yields the current time.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. Intended for tests.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }
