package types

import "time"

// Clock abstracts time.Now so the snapshot validity window and cycle
// timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by the system clock. All times
// are UTC.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
