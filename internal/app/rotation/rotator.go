// Package rotation picks one of two upstream API credentials per role so that
// load spreads across both accounts.
package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/demoday/internal/domain/slot"
)

var ErrNoCredential = errors.New("no API credential available")

const (
	// DefaultTimeout bounds a single counter increment.
	DefaultTimeout = 5 * time.Second
	// DefaultKeyPrefix is the counter key namespace.
	DefaultKeyPrefix = "rotor"
)

// Source identifies which strategy resolved a credential.
type Source string

const (
	SourceCounter Source = "counter"
	SourceClock   Source = "clock"
	SourceDefault Source = "default"
)

// Counter is a shared atomic counter.
type Counter interface {
	// Incr increments key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
}

// Credentials holds the API keys of one role.
type Credentials struct {
	Slot1   string
	Slot2   string
	Default string
}

// pick returns the key for a 1-based slot index.
func (c Credentials) pick(idx int64) string {
	switch idx {
	case 1:
		return c.Slot1
	case 2:
		return c.Slot2
	default:
		return ""
	}
}

// MetricsCollector receives rotation observations.
type MetricsCollector interface {
	IncRotation(role slot.Role, source Source)
}

type disabledMetrics struct{}

func (disabledMetrics) IncRotation(slot.Role, Source) {}

// Option configures a Rotator.
type Option func(*Rotator)

// WithCounter sets the shared counter. Without one, rotation uses the clock.
func WithCounter(c Counter) Option {
	return func(r *Rotator) { r.counter = c }
}

// WithTimeout sets the counter timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Rotator) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithKeyPrefix sets the counter key prefix.
func WithKeyPrefix(p string) Option {
	return func(r *Rotator) {
		if p != "" {
			r.keyPrefix = p
		}
	}
}

// WithNow sets the wall clock used by the fallback strategy.
func WithNow(now func() time.Time) Option {
	return func(r *Rotator) { r.now = now }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(r *Rotator) { r.metrics = m }
}

// Rotator resolves rotated credentials.
type Rotator struct {
	creds     map[slot.Role]Credentials
	counter   Counter
	timeout   time.Duration
	keyPrefix string
	now       func() time.Time
	metrics   MetricsCollector
}

// New creates a new Rotator. creds is copied.
func New(creds map[slot.Role]Credentials, opts ...Option) *Rotator {
	r := &Rotator{
		creds:     make(map[slot.Role]Credentials, len(creds)),
		timeout:   DefaultTimeout,
		keyPrefix: DefaultKeyPrefix,
		now:       time.Now,
		metrics:   disabledMetrics{},
	}
	for role, c := range creds {
		r.creds[role] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RotatedKey returns the credential to use for the next upstream call of role.
// Counter failures are logged and absorbed. Only ErrNoCredential is returned.
func (r *Rotator) RotatedKey(ctx context.Context, role slot.Role) (string, error) {
	creds := r.creds[role]

	if r.counter != nil {
		key, err := r.fromCounter(ctx, role, creds)
		if err == nil {
			r.metrics.IncRotation(role, SourceCounter)
			return key, nil
		}
		zlog.Error().Msgf("counter rotation failed, falling back to local rotation: role=%s error=%v", role, err)
	} else {
		zlog.Warn().Msgf("rotation counter not configured; using fallback rotation: role=%s", role)
	}

	idx := r.now().Unix()%2 + 1
	if key := creds.pick(idx); key != "" {
		r.metrics.IncRotation(role, SourceClock)
		return key, nil
	}
	if creds.Default != "" {
		r.metrics.IncRotation(role, SourceDefault)
		return creds.Default, nil
	}
	return "", errors.Wrapf(ErrNoCredential, "role=%s", role)
}

func (r *Rotator) fromCounter(ctx context.Context, role slot.Role, creds Credentials) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := r.counter.Incr(ctx, r.counterKey(role))
	if err != nil {
		return "", errors.Wrap(err, "increment rotation counter")
	}

	// Parity convention: 4 selects slot 1, 5 selects slot 2.
	parity := v % 2
	if parity < 0 {
		parity = -parity
	}
	idx := parity + 1
	key := creds.pick(idx)
	if key == "" {
		return "", errors.Newf("missing API key for slot %d", idx)
	}
	return key, nil
}

func (r *Rotator) counterKey(role slot.Role) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, role)
}
