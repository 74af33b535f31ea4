// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/fedineko/crabo/internal/snapshot"
)

var _ snapshot.Clock = Clock{}

// Clock implements snapshot.Clock with UTC wall time.
type Clock struct{}

// New returns a wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
