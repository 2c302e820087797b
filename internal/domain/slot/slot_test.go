package slot

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Type
		wantErr bool
	}{
		{name: "pitch", input: "pitch", want: TypePitch},
		{name: "feedback", input: "feedback", want: TypeFeedback},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown", input: "demo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownType))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestType_Role(t *testing.T) {
	assert.Equal(t, RoleInvestor, TypePitch.Role())
	assert.Equal(t, RoleCoach, TypeFeedback.Role())
	assert.Equal(t, Role(""), Type("other").Role())
}

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateRequested, StateActive, true},
		{StateRequested, StateWaiting, true},
		{StateRequested, StateFailed, true},
		{StateRequested, StateReleased, false},
		{StateWaiting, StateActive, true},
		{StateWaiting, StateFailed, true},
		{StateWaiting, StateWaiting, false},
		{StateWaiting, StateReleased, false},
		{StateActive, StateReleased, true},
		{StateActive, StateFailed, true},
		{StateActive, StateWaiting, false},
		{StateReleased, StateActive, false},
		{StateFailed, StateActive, false},
		{StateFailed, StateWaiting, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSlot_Lifecycle(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New("session_1", TypePitch, created)
	assert.Equal(t, StateRequested, s.State)
	assert.Equal(t, time.Duration(0), s.HeldFor(created.Add(time.Minute)))

	require.NoError(t, s.Transition(StateWaiting))
	require.NoError(t, s.Activate(created.Add(10*time.Second)))
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 50*time.Second, s.HeldFor(created.Add(time.Minute)))
	assert.Equal(t, time.Minute, s.Age(created.Add(time.Minute)))

	require.NoError(t, s.Transition(StateReleased))
	assert.True(t, s.State.IsTerminal())

	// Terminal states are never re-entered.
	err := s.Transition(StateActive)
	assert.Error(t, err)
	assert.Equal(t, StateReleased, s.State)
}
