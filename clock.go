package pipetheory

import "time"

// Clock provides deterministic time for processors and stores.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
