// Package round derives the local view of the buzzer round from the
// server event stream. The machine never originates authoritative
// state: every transition is a reaction to a server message, and the
// only local guess it keeps is the optimistic "already buzzed" flag,
// confirmed or cleared by the next server event.
package round

import (
	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/internal/protocol"
)

// Phase is the round phase as the server last reported it.
type Phase string

const (
	// PhaseIdle is a fresh connection with no round context yet.
	// Buzzing is allowed; the server opened the room buzzable.
	PhaseIdle Phase = "idle"
	// PhaseOpen is an explicitly started or continued round.
	PhaseOpen Phase = "open"
	// PhaseLocked means a buzz was accepted and the room is waiting
	// for the answer verdict.
	PhaseLocked Phase = "locked"
)

// Outcome is the local participant's result for the current round.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeWon      Outcome = "won"
	OutcomeLost     Outcome = "lost"
	OutcomeRejected Outcome = "rejected"
)

// Machine holds the derived round state for one participant.
type Machine struct {
	selfName string

	phase   Phase
	outcome Outcome
	winner  string
	buzzed  bool
	locked  map[string]bool
}

func NewMachine(selfName string) *Machine {
	m := &Machine{selfName: selfName}
	m.Reset()
	return m
}

// Reset drops all round context. Called when a connection is
// (re)established: any prior round state may be stale, so a fresh
// socket always starts clean.
func (m *Machine) Reset() {
	m.phase = PhaseIdle
	m.outcome = OutcomeNone
	m.winner = ""
	m.buzzed = false
	m.locked = make(map[string]bool)
}

func (m *Machine) Phase() Phase     { return m.phase }
func (m *Machine) Outcome() Outcome { return m.outcome }
func (m *Machine) Winner() string   { return m.winner }
func (m *Machine) Buzzed() bool     { return m.buzzed }

// LockedOut reports whether a participant is barred from buzzing for
// the remainder of the current round.
func (m *Machine) LockedOut(name string) bool { return m.locked[name] }

// CanBuzz is the local transmit gate: connected callers may only send
// a buzz when the round is not locked, the local flag is clear, and
// the local participant is not locked out. The server remains the
// arbiter; this only suppresses traffic the server would reject.
func (m *Machine) CanBuzz() bool {
	return m.phase != PhaseLocked && !m.buzzed && !m.locked[m.selfName]
}

// MarkBuzzed records the optimistic local lockout after a buzz is
// transmitted. The next round event confirms or clears it.
func (m *Machine) MarkBuzzed() { m.buzzed = true }

// Apply folds one server message into the round state. Messages that
// do not concern the round are ignored.
func (m *Machine) Apply(msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.MsgRoundStarted:
		m.phase = PhaseOpen
		m.outcome = OutcomeNone
		m.winner = ""
		m.buzzed = false
		m.locked = make(map[string]bool)

	case protocol.MsgAccepted:
		m.phase = PhaseLocked
		m.winner = msg.Name
		if msg.Name == m.selfName {
			m.outcome = OutcomeWon
			m.buzzed = true
		} else {
			m.outcome = OutcomeLost
		}

	case protocol.MsgRejected:
		// The server turned down a local buzz; the phase it reported
		// last still stands.
		m.outcome = OutcomeRejected

	case protocol.MsgTimedOut:
		// The accepted answerer ran out the answer window. They sit
		// out the rest of the round; buzzing does not reopen until
		// the admin says so.
		m.locked[msg.Name] = true
		m.winner = ""

	case protocol.MsgRoundContinued:
		if m.winner != "" {
			m.locked[m.winner] = true
		}
		m.phase = PhaseOpen
		m.outcome = OutcomeNone
		m.winner = ""
		m.buzzed = false

	default:
		log.Debug().Str("type", string(msg.Type)).Msg("round machine ignoring message")
	}
}
