// Package system provides a real clock implementation.
package system

import "time"

// Clock implements pipeline.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Warehouse partitions are keyed on
// UTC days, so everything downstream assumes UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
