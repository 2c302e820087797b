// Package admission provides the admission queue that serializes access to
// a scarce number of upstream live sessions.
package admission

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/demoday/internal/domain/slot"
)

var (
	ErrWaitTimeout  = errors.New("session request timed out waiting in queue")
	ErrStaleRequest = errors.New("session request expired")
)

const (
	// DefaultMaxConcurrent is the free tier limit of the upstream avatar API.
	DefaultMaxConcurrent = 1
	// DefaultWaitTimeout bounds how long a request may sit in the queue.
	DefaultWaitTimeout = 30 * time.Second
	// DefaultStaleAge is the age after which SweepStale rejects waiting requests.
	DefaultStaleAge = 10 * time.Minute
)

// FetchFunc performs the upstream token acquisition once a slot is granted.
type FetchFunc func(ctx context.Context) error

// Config represents admission queue configuration.
type Config struct {
	MaxConcurrent int           // Capacity (0 means DefaultMaxConcurrent)
	WaitTimeout   time.Duration // Wait window (0 means DefaultWaitTimeout)
}

// Status is a snapshot of the queue.
type Status struct {
	ActiveCount   int `json:"activeCount"`
	QueueLength   int `json:"queueLength"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for timestamps and wait timers.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithIDGenerator sets the slot id generator.
func WithIDGenerator(f func() string) Option {
	return func(q *Queue) { q.newID = f }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(q *Queue) { q.metrics = m }
}

// entry is a waiting request.
type entry struct {
	slot  *slot.Slot
	ctx   context.Context
	fetch FetchFunc
	timer Timer
	done  chan error // buffered, written exactly once
}

// Queue grants at most MaxConcurrent slots at a time and buffers the rest
// in FIFO order.
type Queue struct {
	mu sync.Mutex

	maxConcurrent int
	waitTimeout   time.Duration

	active  map[string]*slot.Slot
	waiting *list.List               // of *entry, head is the oldest
	index   map[string]*list.Element // waiting entries by slot id

	clock   Clock
	newID   func() string
	metrics MetricsCollector
}

// New creates a new admission queue.
func New(cfg Config, opts ...Option) (*Queue, error) {
	if cfg.MaxConcurrent < 0 {
		return nil, errors.Newf("max concurrent sessions should not be negative, got %d", cfg.MaxConcurrent)
	}
	if cfg.WaitTimeout < 0 {
		return nil, errors.Newf("wait timeout should not be negative, got %v", cfg.WaitTimeout)
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}

	q := &Queue{
		maxConcurrent: cfg.MaxConcurrent,
		waitTimeout:   cfg.WaitTimeout,
		active:        make(map[string]*slot.Slot),
		waiting:       list.New(),
		index:         make(map[string]*list.Element),
		clock:         realClock{},
		newID:         newSlotID,
		metrics:       disabledMetrics{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func newSlotID() string {
	return "session_" + uuid.NewString()
}

// RequestSession obtains a slot and runs fetch once it is granted.
// It returns the slot id, which the caller must later pass to ReleaseSession.
// Blocks while the request is queued. If fetch fails the slot is released
// before the error is returned.
// The id is returned with errors too so that callers can correlate the
// failed request; such an id never refers to an active slot.
func (q *Queue) RequestSession(ctx context.Context, typ slot.Type, fetch FetchFunc) (string, error) {
	id := q.newID()
	now := q.clock.Now()
	s := slot.New(id, typ, now)

	q.mu.Lock()
	if len(q.active) < q.maxConcurrent {
		_ = s.Activate(now)
		q.active[id] = s
		q.updateGaugesLocked()
		q.mu.Unlock()

		zlog.Info().Msgf("immediate session granted: slot=%s type=%s", id, typ)
		q.metrics.IncGranted(typ)
		q.metrics.ObserveWait(typ, 0)

		if err := fetch(ctx); err != nil {
			q.fail(s, err)
			return id, errors.Wrapf(err, "fetch token for %s", id)
		}
		return id, nil
	}

	_ = s.Transition(slot.StateWaiting)
	e := &entry{
		slot:  s,
		ctx:   ctx,
		fetch: fetch,
		done:  make(chan error, 1),
	}
	q.index[id] = q.waiting.PushBack(e)
	e.timer = q.clock.AfterFunc(q.waitTimeout, func() { q.expire(id) })
	position := q.waiting.Len()
	q.updateGaugesLocked()
	q.mu.Unlock()

	zlog.Info().Msgf("adding %s session to queue: slot=%s position=%d", typ, id, position)

	q.drain()

	return q.await(ctx, e)
}

// await blocks until the entry is resolved or ctx is done.
func (q *Queue) await(ctx context.Context, e *entry) (string, error) {
	select {
	case err := <-e.done:
		return e.slot.ID, err
	case <-ctx.Done():
	}

	q.mu.Lock()
	if elem, ok := q.index[e.slot.ID]; ok {
		q.removeWaitingLocked(elem)
		q.updateGaugesLocked()
		q.mu.Unlock()
		zlog.Info().Msgf("queued session withdrawn: slot=%s reason=%v", e.slot.ID, ctx.Err())
		return e.slot.ID, errors.Wrap(ctx.Err(), "session request canceled while queued")
	}
	q.mu.Unlock()

	// Resolved concurrently with the cancellation. A successful grant
	// nobody will ever use must not keep holding capacity.
	if err := <-e.done; err == nil {
		q.ReleaseSession(e.slot.ID)
	}
	return e.slot.ID, errors.Wrap(ctx.Err(), "session request canceled")
}

// drain grants waiting entries while capacity remains.
// The whole pop loop runs under q.mu, so drains triggered from several call
// sites can never interleave or grant out of order.
func (q *Queue) drain() {
	q.mu.Lock()
	var granted []*entry
	for q.waiting.Len() > 0 && len(q.active) < q.maxConcurrent {
		e := q.waiting.Remove(q.waiting.Front()).(*entry)
		delete(q.index, e.slot.ID)
		e.timer.Stop()
		_ = e.slot.Activate(q.clock.Now())
		q.active[e.slot.ID] = e.slot
		granted = append(granted, e)
	}
	if len(granted) > 0 {
		q.updateGaugesLocked()
	}
	q.mu.Unlock()

	for _, e := range granted {
		waited := e.slot.GrantedAt.Sub(e.slot.CreatedAt)
		zlog.Info().Msgf("processing %s session: slot=%s waited=%v", e.slot.Type, e.slot.ID, waited)
		q.metrics.IncGranted(e.slot.Type)
		q.metrics.ObserveWait(e.slot.Type, waited)
		go q.grant(e)
	}
}

// grant runs the fetch of a dequeued entry and resolves its caller.
func (q *Queue) grant(e *entry) {
	if err := e.fetch(e.ctx); err != nil {
		q.fail(e.slot, err)
		e.done <- errors.Wrapf(err, "fetch token for %s", e.slot.ID)
		return
	}
	e.done <- nil
}

// fail removes a slot whose token fetch failed and hands its capacity on.
func (q *Queue) fail(s *slot.Slot, err error) {
	q.mu.Lock()
	if _, ok := q.active[s.ID]; ok {
		_ = s.Transition(slot.StateFailed)
		delete(q.active, s.ID)
		q.updateGaugesLocked()
	}
	q.mu.Unlock()

	zlog.Error().Msgf("failed to fetch token: slot=%s type=%s error=%v", s.ID, s.Type, err)
	q.metrics.IncFailed(s.Type)

	q.drain()
}

// expire is the wait timer callback.
func (q *Queue) expire(id string) {
	q.mu.Lock()
	elem, ok := q.index[id]
	if !ok {
		// Granted or withdrawn before the timer fired.
		q.mu.Unlock()
		return
	}
	e := q.removeWaitingLocked(elem)
	q.updateGaugesLocked()
	q.mu.Unlock()

	zlog.Warn().Msgf("session request timed out in queue: slot=%s type=%s timeout=%v", id, e.slot.Type, q.waitTimeout)
	q.metrics.IncTimedOut(e.slot.Type)
	e.done <- errors.Wrapf(ErrWaitTimeout, "slot %s", id)
}

// removeWaitingLocked takes an entry out of the waiting list for good.
// Must be called with q.mu held.
func (q *Queue) removeWaitingLocked(elem *list.Element) *entry {
	e := q.waiting.Remove(elem).(*entry)
	delete(q.index, e.slot.ID)
	e.timer.Stop()
	_ = e.slot.Transition(slot.StateFailed)
	return e
}

// ReleaseSession releases a granted slot and grants the next waiting request.
// Unknown or already released ids are ignored.
// Returns true if the slot was active.
func (q *Queue) ReleaseSession(id string) bool {
	q.mu.Lock()
	s, ok := q.active[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	_ = s.Transition(slot.StateReleased)
	delete(q.active, id)
	activeCount := len(q.active)
	q.updateGaugesLocked()
	q.mu.Unlock()

	zlog.Info().Msgf("released session %s: active=%d", id, activeCount)

	q.drain()
	return true
}

// GetQueueStatus returns the current queue status.
func (q *Queue) GetQueueStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		ActiveCount:   len(q.active),
		QueueLength:   q.waiting.Len(),
		MaxConcurrent: q.maxConcurrent,
	}
}

// Position returns the 1-based waiting position of a slot.
// Returns 0 if the slot is not waiting.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := 1
	for elem := q.waiting.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*entry).slot.ID == id {
			return pos
		}
		pos++
	}
	return 0
}

// ActiveSlots returns a snapshot of granted slots, oldest grant first.
func (q *Queue) ActiveSlots() []slot.Slot {
	q.mu.Lock()
	result := make([]slot.Slot, 0, len(q.active))
	for _, s := range q.active {
		result = append(result, *s)
	}
	q.mu.Unlock()

	slices.SortFunc(result, func(a, b slot.Slot) int {
		return a.GrantedAt.Compare(b.GrantedAt)
	})
	return result
}

// SweepStale rejects waiting requests older than maxAge.
// Returns the number of rejected requests.
func (q *Queue) SweepStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultStaleAge
	}
	now := q.clock.Now()

	q.mu.Lock()
	var stale []*entry
	for elem := q.waiting.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*entry).slot.Age(now) > maxAge {
			stale = append(stale, q.removeWaitingLocked(elem))
		}
		elem = next
	}
	if len(stale) > 0 {
		q.updateGaugesLocked()
	}
	q.mu.Unlock()

	for _, e := range stale {
		zlog.Warn().Msgf("stale session request removed: slot=%s type=%s age=%v", e.slot.ID, e.slot.Type, e.slot.Age(now))
		q.metrics.IncTimedOut(e.slot.Type)
		e.done <- errors.Wrapf(ErrStaleRequest, "slot %s", e.slot.ID)
	}
	return len(stale)
}

// updateGaugesLocked publishes the queue sizes.
// Must be called with q.mu held.
func (q *Queue) updateGaugesLocked() {
	q.metrics.SetActive(len(q.active))
	q.metrics.SetWaiting(q.waiting.Len())
}
