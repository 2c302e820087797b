package admission

import "time"

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from firing.
	// Returns false if the callback already fired or the timer was stopped.
	Stop() bool
}

// Clock abstracts time so that wait-timeout races can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
