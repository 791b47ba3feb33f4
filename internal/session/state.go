package session

import (
	"sync"
	"time"

	"github.com/kmajors/buzzroom/internal/conn"
	"github.com/kmajors/buzzroom/internal/protocol"
	"github.com/kmajors/buzzroom/internal/round"
	"github.com/kmajors/buzzroom/internal/roster"
)

// stateMu is the session state the event loop writes and Snapshot
// reads. The loop is the only writer.
type stateMu struct {
	sync.Mutex

	view         View
	roomID       string
	name         string
	token        string
	answerWindow time.Duration

	round  *round.Machine
	roster *roster.Reconciler

	notice string
	flash  bool
}

// Snapshot is a point-in-time copy of the observable session state,
// for rendering and tests.
type Snapshot struct {
	View            View
	RoomID          string
	Name            string
	Role            protocol.Role
	AnswerWindow    time.Duration
	ConnectionPhase conn.Phase
	RoundPhase      round.Phase
	Outcome         round.Outcome
	Winner          string
	Buzzed          bool
	Participants    []protocol.Participant
	Notice          string
	Flash           bool
}

// Snapshot returns a consistent copy of the session state. Safe from
// any goroutine.
func (s *Session) Snapshot() Snapshot {
	s.state.Lock()
	defer s.state.Unlock()

	snap := Snapshot{
		View:            s.state.view,
		RoomID:          s.state.roomID,
		Name:            s.state.name,
		AnswerWindow:    s.state.answerWindow,
		ConnectionPhase: s.conn.Phase(),
		Notice:          s.state.notice,
		Flash:           s.state.flash,
	}
	if s.state.round != nil {
		snap.RoundPhase = s.state.round.Phase()
		snap.Outcome = s.state.round.Outcome()
		snap.Winner = s.state.round.Winner()
		snap.Buzzed = s.state.round.Buzzed()
	}
	if s.state.roster != nil {
		snap.Role = s.state.roster.Role()
		snap.Participants = append([]protocol.Participant(nil), s.state.roster.Participants()...)
	}
	return snap
}
