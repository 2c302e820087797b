// Package slot provides the Slot domain entity.
package slot

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnknownType is returned when a session type is not one of the known kinds.
var ErrUnknownType = errors.New("unknown session type")

// Type is the kind of live session a slot is requested for.
type Type string

const (
	TypePitch    Type = "pitch"    // Pitch rehearsal with an investor persona
	TypeFeedback Type = "feedback" // Feedback review with a coach persona
)

// ParseType parses a session type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypePitch, TypeFeedback:
		return Type(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownType, "%q", s)
	}
}

// Role returns the persona role that serves this session type.
func (t Type) Role() Role {
	switch t {
	case TypePitch:
		return RoleInvestor
	case TypeFeedback:
		return RoleCoach
	default:
		return ""
	}
}

// Role selects a persona and its credential pair.
type Role string

const (
	RoleInvestor Role = "investor"
	RoleCoach    Role = "coach"
)

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleInvestor, RoleCoach}
}

// Slot represents a permit to run one upstream live session.
type Slot struct {
	ID        string    // Opaque slot identifier
	Type      Type      // Session kind (observability only)
	CreatedAt time.Time // Time the request entered the admission queue
	GrantedAt time.Time // Zero until the slot becomes active
	State     State
}

// New creates a slot in the requested state.
func New(id string, typ Type, createdAt time.Time) *Slot {
	return &Slot{
		ID:        id,
		Type:      typ,
		CreatedAt: createdAt,
		State:     StateRequested,
	}
}

// Transition moves the slot to the given state.
// Returns an error if the transition is not allowed.
func (s *Slot) Transition(to State) error {
	if !s.State.CanTransition(to) {
		return errors.Newf("slot %s: invalid transition %s -> %s", s.ID, s.State, to)
	}
	s.State = to
	return nil
}

// Activate marks the slot as granted at the given time.
func (s *Slot) Activate(at time.Time) error {
	if err := s.Transition(StateActive); err != nil {
		return err
	}
	s.GrantedAt = at
	return nil
}

// Age returns how long the slot has existed since it was requested.
func (s *Slot) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// HeldFor returns how long the slot has been active.
// Returns zero if the slot was never granted.
func (s *Slot) HeldFor(now time.Time) time.Duration {
	if s.GrantedAt.IsZero() {
		return 0
	}
	return now.Sub(s.GrantedAt)
}
