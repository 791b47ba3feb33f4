package round

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kmajors/buzzroom/internal/protocol"
)

func msg(t protocol.MessageType, name string) protocol.ServerMessage {
	return protocol.ServerMessage{Type: t, Name: name}
}

func TestFreshMachineAllowsBuzzing(t *testing.T) {
	m := NewMachine("dana")

	assert.Equal(t, PhaseIdle, m.Phase())
	assert.True(t, m.CanBuzz())
	assert.Equal(t, OutcomeNone, m.Outcome())
}

func TestAcceptedTransitions(t *testing.T) {
	cases := []struct {
		name        string
		winner      string
		wantOutcome Outcome
		wantBuzzed  bool
	}{
		{
			name:        "own buzz accepted",
			winner:      "dana",
			wantOutcome: OutcomeWon,
			wantBuzzed:  true,
		},
		{
			name:        "someone else won the buzz",
			winner:      "riley",
			wantOutcome: OutcomeLost,
			wantBuzzed:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine("dana")
			m.Apply(msg(protocol.MsgRoundStarted, ""))
			m.Apply(msg(protocol.MsgAccepted, tc.winner))

			assert.Equal(t, PhaseLocked, m.Phase())
			assert.Equal(t, tc.wantOutcome, m.Outcome())
			assert.Equal(t, tc.winner, m.Winner())
			assert.Equal(t, tc.wantBuzzed, m.Buzzed())
			assert.False(t, m.CanBuzz(), "no further buzz until the round reopens")
		})
	}
}

func TestOnlyOneAcceptedIsOpenPerRound(t *testing.T) {
	m := NewMachine("dana")
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	m.Apply(msg(protocol.MsgAccepted, "riley"))

	assert.False(t, m.CanBuzz())

	// A second accepted for another name still overrides the local
	// view; the gate stays shut until the round reopens.
	m.Apply(msg(protocol.MsgAccepted, "sam"))
	assert.False(t, m.CanBuzz())

	m.Apply(msg(protocol.MsgRoundStarted, ""))
	assert.True(t, m.CanBuzz())
}

func TestRejectedKeepsPhase(t *testing.T) {
	m := NewMachine("dana")
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	m.Apply(msg(protocol.MsgRejected, ""))

	assert.Equal(t, PhaseOpen, m.Phase())
	assert.Equal(t, OutcomeRejected, m.Outcome())
}

func TestTimedOutLocksAnswererWithoutReopening(t *testing.T) {
	m := NewMachine("dana")
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	m.Apply(msg(protocol.MsgAccepted, "riley"))
	m.Apply(msg(protocol.MsgTimedOut, "riley"))

	assert.True(t, m.LockedOut("riley"))
	assert.Empty(t, m.Winner())
	// Buzzing does not reopen until the admin continues or restarts.
	assert.Equal(t, PhaseLocked, m.Phase())
}

func TestRoundContinuedLocksPreviousWinner(t *testing.T) {
	m := NewMachine("dana")
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	m.Apply(msg(protocol.MsgAccepted, "riley"))
	m.Apply(msg(protocol.MsgRoundContinued, ""))

	assert.Equal(t, PhaseOpen, m.Phase())
	assert.True(t, m.LockedOut("riley"))
	assert.True(t, m.CanBuzz())
}

func TestRoundContinuedLocksSelfWhenSelfWon(t *testing.T) {
	m := NewMachine("dana")
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	m.Apply(msg(protocol.MsgAccepted, "dana"))
	m.Apply(msg(protocol.MsgRoundContinued, ""))

	assert.True(t, m.LockedOut("dana"))
	assert.False(t, m.CanBuzz())

	// A fresh round clears the lockout.
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	assert.True(t, m.CanBuzz())
}

func TestMarkBuzzedIsOptimisticLockout(t *testing.T) {
	m := NewMachine("dana")
	m.Apply(msg(protocol.MsgRoundStarted, ""))

	m.MarkBuzzed()
	assert.False(t, m.CanBuzz())

	// The next round event clears the local guess.
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	assert.True(t, m.CanBuzz())
}

func TestResetDropsAllRoundContext(t *testing.T) {
	m := NewMachine("dana")
	m.Apply(msg(protocol.MsgRoundStarted, ""))
	m.Apply(msg(protocol.MsgAccepted, "riley"))
	m.Apply(msg(protocol.MsgTimedOut, "riley"))

	m.Reset()

	assert.Equal(t, PhaseIdle, m.Phase())
	assert.Equal(t, OutcomeNone, m.Outcome())
	assert.False(t, m.LockedOut("riley"))
	assert.True(t, m.CanBuzz())
}
