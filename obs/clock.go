package obs

import "time"

// Clock abstracts time for the client so that backoff and timeout behavior
// is testable without real timers.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run on its own goroutine after d.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was
	// already stopped.
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
