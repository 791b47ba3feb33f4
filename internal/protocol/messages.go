package protocol

import (
	"encoding/json"
	"fmt"
)

// Role is a participant's permission level within a room.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePlayer Role = "player"
)

// Participant is one entry of a roster broadcast. The roster is always
// replaced wholesale; individual entries are never patched.
type Participant struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	// LockedOut is only sent by newer server builds. Absent means false.
	LockedOut bool `json:"locked_out,omitempty"`
}

// MessageType tags a server-to-client message.
type MessageType string

const (
	MsgAccepted       MessageType = "accepted"
	MsgRejected       MessageType = "rejected"
	MsgTimedOut       MessageType = "timed_out"
	MsgRoundStarted   MessageType = "round_started"
	MsgRoundContinued MessageType = "round_continued"
	MsgParticipants   MessageType = "participants"
	MsgActionDenied   MessageType = "action_denied"
	MsgKicked         MessageType = "kicked"
)

// ServerMessage is the decoded form of one frame of the server event
// stream. Fields beyond Type are populated per tag; see the tag
// constants above.
type ServerMessage struct {
	Type         MessageType   `json:"type"`
	Name         string        `json:"name,omitempty"`
	DeadlineInMs uint64        `json:"deadline_in_ms,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// ErrUnknownMessage reports a syntactically valid frame whose tag this
// client does not understand. Callers log and skip, never disconnect.
type ErrUnknownMessage struct {
	Tag string
}

func (e *ErrUnknownMessage) Error() string {
	return fmt.Sprintf("unknown server message tag: %q", e.Tag)
}

var knownTags = map[MessageType]bool{
	MsgAccepted:       true,
	MsgRejected:       true,
	MsgTimedOut:       true,
	MsgRoundStarted:   true,
	MsgRoundContinued: true,
	MsgParticipants:   true,
	MsgActionDenied:   true,
	MsgKicked:         true,
}

// ParseServerMessage decodes one raw frame. Malformed JSON and unknown
// tags come back as errors so the read loop can log and move on.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("malformed server message: %w", err)
	}
	if !knownTags[msg.Type] {
		return ServerMessage{}, &ErrUnknownMessage{Tag: string(msg.Type)}
	}
	return msg, nil
}

// CommandType tags a client-to-server message.
type CommandType string

const (
	CmdBuzz          CommandType = "buzz"
	CmdStartRound    CommandType = "start_round"
	CmdContinueRound CommandType = "continue_round"
	CmdKick          CommandType = "kick"
	CmdSetAdmin      CommandType = "set_admin"
)

// Command is a client-to-server message. Name is only set for the
// admin commands that target another participant.
type Command struct {
	Type CommandType `json:"type"`
	Name string      `json:"name,omitempty"`
}

func BuzzCommand() Command                { return Command{Type: CmdBuzz} }
func StartRoundCommand() Command          { return Command{Type: CmdStartRound} }
func ContinueRoundCommand() Command       { return Command{Type: CmdContinueRound} }
func KickCommand(name string) Command     { return Command{Type: CmdKick, Name: name} }
func SetAdminCommand(name string) Command { return Command{Type: CmdSetAdmin, Name: name} }
