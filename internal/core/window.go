package core

import "time"

// Window restricts channel listeners to documents created inside a moving time
// range. schedule.OperationalDay implements it.
type Window interface {
	// Bounds returns the open range (start, end) that contains now.
	Bounds(now time.Time) (start, end time.Time)
	// NextRollover returns when Bounds next changes.
	NextRollover(now time.Time) (time.Time, error)
}
