// Package notification fans session events out to admin subscribers.
package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/demoday/internal/domain/slot"
)

// DefaultBufferSize is the number of undelivered events a subscriber may
// fall behind before it is dropped.
const DefaultBufferSize = 64

// Kind identifies what happened to a slot.
type Kind string

const (
	KindInitialState Kind = "initial_state"
	KindGranted      Kind = "granted"
	KindReleased     Kind = "released"
	KindLeaseExpired Kind = "lease_expired"
	KindRejected     Kind = "rejected"
)

// Event is a session lifecycle event.
type Event struct {
	SequenceNo    int64
	Kind          Kind
	SlotID        string
	Type          slot.Type
	Reason        string
	ActiveCount   int
	QueueLength   int
	MaxConcurrent int
	At            time.Time
}

// Stream is the interface for sending events to one subscriber.
type Stream interface {
	Send(Event) error
}

type subscription struct {
	id     string
	stream Stream
	events chan Event
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithBufferSize sets the per-subscriber backlog.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// Manager manages event subscriptions.
type Manager struct {
	mu            sync.Mutex
	subscriptions map[string]*subscription
	sequenceNo    int64
	bufferSize    int
}

// NewManager creates a new notification manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		subscriptions: make(map[string]*subscription),
		bufferSize:    DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a stream and starts delivering events to it.
// The returned channel is closed once the subscription ends.
func (m *Manager) Subscribe(stream Stream) (string, <-chan struct{}) {
	sub := &subscription{
		id:     uuid.New().String(),
		stream: stream,
		events: make(chan Event, m.bufferSize),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.subscriptions[sub.id] = sub
	m.mu.Unlock()

	go m.deliver(sub)

	zlog.Debug().Msgf("event subscriber added: id=%s", sub.id)
	return sub.id, sub.done
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
// A Send already in progress is not interrupted; the subscription's done
// channel closes once it returns.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) {
	sub, ok := m.subscriptions[id]
	if !ok {
		return
	}
	delete(m.subscriptions, id)
	close(sub.events)
}

// NextSequenceNo reserves the next sequence number.
func (m *Manager) NextSequenceNo() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast stamps ev with the next sequence number and queues it for
// every subscriber. Subscribers whose backlog is full are dropped.
// Each subscriber receives events in sequence order.
func (m *Manager) Broadcast(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequenceNo++
	ev.SequenceNo = m.sequenceNo
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	for id, sub := range m.subscriptions {
		select {
		case sub.events <- ev:
		default:
			zlog.Warn().Msgf("event subscriber too slow, dropping: id=%s", id)
			m.removeLocked(id)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.subscriptions {
		m.removeLocked(id)
	}
}

func (m *Manager) deliver(sub *subscription) {
	defer close(sub.done)
	for ev := range sub.events {
		if err := sub.stream.Send(ev); err != nil {
			zlog.Debug().Msgf("event delivery failed, unsubscribing: id=%s error=%v", sub.id, err)
			m.Unsubscribe(sub.id)
			// Drain so the channel can be collected.
			for range sub.events {
			}
			return
		}
	}
}
