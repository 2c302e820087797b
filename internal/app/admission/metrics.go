package admission

import (
	"time"

	"github.com/osa030/demoday/internal/domain/slot"
)

// MetricsCollector receives admission queue observations.
type MetricsCollector interface {
	// SetActive sets the number of granted slots.
	SetActive(n int)

	// SetWaiting sets the number of waiting requests.
	SetWaiting(n int)

	// IncGranted counts a granted slot.
	IncGranted(typ slot.Type)

	// IncTimedOut counts a request that gave up waiting.
	IncTimedOut(typ slot.Type)

	// IncFailed counts a granted slot whose token fetch failed.
	IncFailed(typ slot.Type)

	// ObserveWait records how long a request waited before its grant.
	ObserveWait(typ slot.Type, d time.Duration)
}

type disabledMetrics struct{}

func (disabledMetrics) SetActive(int)                        {}
func (disabledMetrics) SetWaiting(int)                       {}
func (disabledMetrics) IncGranted(slot.Type)                 {}
func (disabledMetrics) IncTimedOut(slot.Type)                {}
func (disabledMetrics) IncFailed(slot.Type)                  {}
func (disabledMetrics) ObserveWait(slot.Type, time.Duration) {}
