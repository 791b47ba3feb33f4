// Package notify is the boundary to the transient UI and the sound
// board. The engine pushes (event, tone) pairs through a Sink; no
// presentation logic lives on this side of the interface.
package notify

import "github.com/rs/zerolog/log"

// Event names a user-visible state transition.
type Event string

const (
	EventRoundStarted   Event = "round_started"
	EventRoundContinued Event = "round_continued"
	EventBuzzWon        Event = "buzz_won"
	EventBuzzLost       Event = "buzz_lost"
	EventBuzzRejected   Event = "buzz_rejected"
	EventAnswerTimeout  Event = "answer_timeout"
	EventPromoted       Event = "promoted"
	EventDemoted        Event = "demoted"
	EventKicked         Event = "kicked"
	EventActionDenied   Event = "action_denied"
	EventConnectionLost Event = "connection_lost"
	EventReconnected    Event = "reconnected"
)

// Tone selects which sound the board plays alongside an event.
type Tone string

const (
	ToneNone    Tone = ""
	ToneNeutral Tone = "neutral"
	ToneSuccess Tone = "success"
	ToneFailure Tone = "failure"
	ToneAlert   Tone = "alert"
)

// Sink receives notifications. Detail carries the participant name or
// denial reason when the event has one. Implementations must not
// block; they run on the session's event loop.
type Sink interface {
	Notify(event Event, tone Tone, detail string)
}

// LogSink renders notifications through the structured logger. It is
// the default sink for headless runs and tests.
type LogSink struct{}

func (LogSink) Notify(event Event, tone Tone, detail string) {
	log.Info().
		Str("event", string(event)).
		Str("tone", string(tone)).
		Str("detail", detail).
		Msg("notification")
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event Event, tone Tone, detail string)

func (f SinkFunc) Notify(event Event, tone Tone, detail string) { f(event, tone, detail) }
