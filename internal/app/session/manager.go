// Package session provides the session manager that hands out upstream
// live session tokens through the admission queue.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/notification"
	"github.com/osa030/demoday/internal/domain/slot"
)

var (
	ErrUnknownSessionType = errors.New("unknown session type")
	ErrRoleNotConfigured  = errors.New("role is not configured")
	ErrManagerRunning     = errors.New("lease janitor is already running")
)

// KeyRotator resolves the API key to use for a role.
type KeyRotator interface {
	RotatedKey(ctx context.Context, role slot.Role) (string, error)
}

// TokenClient exchanges an API key for an upstream session token.
type TokenClient interface {
	SessionToken(ctx context.Context, apiKey, avatarID string) (string, error)
}

// Publisher receives session lifecycle events.
type Publisher interface {
	Broadcast(ev notification.Event)
}

type noopPublisher struct{}

func (noopPublisher) Broadcast(notification.Event) {}

// Persona holds the upstream identities of a role.
type Persona struct {
	AvatarID string
	AgentID  string
}

// Config represents session manager configuration.
type Config struct {
	LeaseTTL      time.Duration // granted slots older than this are reclaimed
	StaleAfter    time.Duration // waiting requests older than this are rejected
	SweepInterval time.Duration // janitor period
}

// Grant is a granted live session.
type Grant struct {
	SessionToken string
	AgentID      string
	SlotID       string
}

// SweepResult reports what a janitor pass reclaimed.
type SweepResult struct {
	ReleasedLeases []string
	SweptWaiting   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithNow sets the clock used to age leases.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPublisher sets the destination of session lifecycle events.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.events = p
		}
	}
}

// Manager composes credential rotation, admission and token exchange.
type Manager struct {
	queue    *admission.Queue
	rotator  KeyRotator
	tokens   TokenClient
	personas map[slot.Role]Persona
	cfg      Config
	now      func() time.Time
	events   Publisher

	mu      sync.Mutex
	running bool
}

// NewManager creates a new session manager.
func NewManager(
	queue *admission.Queue,
	rotator KeyRotator,
	tokens TokenClient,
	personas map[slot.Role]Persona,
	cfg Config,
	opts ...Option,
) *Manager {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = admission.DefaultStaleAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	m := &Manager{
		queue:    queue,
		rotator:  rotator,
		tokens:   tokens,
		personas: make(map[slot.Role]Persona, len(personas)),
		cfg:      cfg,
		now:      time.Now,
		events:   noopPublisher{},
	}
	for role, p := range personas {
		m.personas[role] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire obtains a live session of the given type.
// Blocks while the request waits in the admission queue.
func (m *Manager) Acquire(ctx context.Context, typ slot.Type) (*Grant, error) {
	role := typ.Role()
	if role == "" {
		return nil, errors.Wrapf(ErrUnknownSessionType, "type=%q", typ)
	}

	apiKey, err := m.rotator.RotatedKey(ctx, role)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve API key for %s", role)
	}

	persona, ok := m.personas[role]
	if !ok || persona.AvatarID == "" || persona.AgentID == "" {
		return nil, errors.Wrapf(ErrRoleNotConfigured, "role=%s needs avatar and agent ids", role)
	}

	zlog.Info().Msgf("%s session requested: status=%+v", typ, m.queue.GetQueueStatus())

	// Written by the fetch and read only after RequestSession returns.
	var token string
	slotID, err := m.queue.RequestSession(ctx, typ, func(ctx context.Context) error {
		zlog.Debug().Msgf("fetching %s session token", typ)
		t, err := m.tokens.SessionToken(ctx, apiKey, persona.AvatarID)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		m.publish(notification.KindRejected, slotID, typ, rejectReason(err))
		return nil, err
	}

	zlog.Info().Msgf("%s session granted: slot=%s", typ, slotID)
	m.publish(notification.KindGranted, slotID, typ, "")
	return &Grant{
		SessionToken: token,
		AgentID:      persona.AgentID,
		SlotID:       slotID,
	}, nil
}

// Release returns a slot. Unknown or already released ids are ignored.
// Returns true if the slot was active.
func (m *Manager) Release(slotID string) bool {
	typ := m.activeType(slotID)
	if !m.queue.ReleaseSession(slotID) {
		return false
	}
	m.publish(notification.KindReleased, slotID, typ, "")
	return true
}

// Status returns the admission queue status.
func (m *Manager) Status() admission.Status {
	return m.queue.GetQueueStatus()
}

// ActiveSlots returns the granted slots, oldest first.
func (m *Manager) ActiveSlots() []slot.Slot {
	return m.queue.ActiveSlots()
}

// Sweep releases expired leases and rejects stale waiting requests.
func (m *Manager) Sweep() SweepResult {
	now := m.now()

	var result SweepResult
	for _, s := range m.queue.ActiveSlots() {
		if s.HeldFor(now) <= m.cfg.LeaseTTL {
			continue
		}
		if m.queue.ReleaseSession(s.ID) {
			zlog.Warn().Msgf("lease expired, releasing slot: slot=%s type=%s held=%v", s.ID, s.Type, s.HeldFor(now))
			result.ReleasedLeases = append(result.ReleasedLeases, s.ID)
			m.publish(notification.KindLeaseExpired, s.ID, s.Type, "")
		}
	}
	result.SweptWaiting = m.queue.SweepStale(m.cfg.StaleAfter)

	if len(result.ReleasedLeases) > 0 || result.SweptWaiting > 0 {
		zlog.Info().Msgf("sweep finished: released=%d swept=%d", len(result.ReleasedLeases), result.SweptWaiting)
	}
	return result
}

// Start runs the lease janitor until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	zlog.Info().Msgf("lease janitor started: interval=%v lease_ttl=%v stale_after=%v",
		m.cfg.SweepInterval, m.cfg.LeaseTTL, m.cfg.StaleAfter)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("lease janitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) activeType(slotID string) slot.Type {
	for _, s := range m.queue.ActiveSlots() {
		if s.ID == slotID {
			return s.Type
		}
	}
	return ""
}

func (m *Manager) publish(kind notification.Kind, slotID string, typ slot.Type, reason string) {
	status := m.queue.GetQueueStatus()
	m.events.Broadcast(notification.Event{
		Kind:          kind,
		SlotID:        slotID,
		Type:          typ,
		Reason:        reason,
		ActiveCount:   status.ActiveCount,
		QueueLength:   status.QueueLength,
		MaxConcurrent: status.MaxConcurrent,
		At:            m.now(),
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, admission.ErrWaitTimeout):
		return "wait_timeout"
	case errors.Is(err, admission.ErrStaleRequest):
		return "stale"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "fetch_failed"
	}
}
