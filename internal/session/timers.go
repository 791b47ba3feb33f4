package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// timerKind selects one of the session's timer slots. Each slot holds
// at most one live timer; arming a slot cancels its predecessor so a
// stale callback can never fire against newer state.
type timerKind int

const (
	timerNotice timerKind = iota
	timerFlash
	timerReconnect
	timerSlots
)

func (k timerKind) String() string {
	switch k {
	case timerNotice:
		return "notice"
	case timerFlash:
		return "flash"
	case timerReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

type timerSlot struct {
	timer clockwork.Timer
	gen   uuid.UUID
	// done releases the slot's watcher goroutine when the timer is
	// replaced or cancelled before firing.
	done chan struct{}
}

type timerFire struct {
	kind timerKind
	gen  uuid.UUID
}

// startTimer arms a slot, replacing any prior timer in it. The fire is
// delivered onto the session loop tagged with a generation id; the
// loop drops fires whose generation no longer matches the slot.
func (s *Session) startTimer(ctx context.Context, kind timerKind, d time.Duration) {
	slot := &s.timers[kind]
	releaseSlot(slot)

	gen := uuid.New()
	done := make(chan struct{})
	timer := s.clock.NewTimer(d)
	slot.timer = timer
	slot.gen = gen
	slot.done = done

	go func() {
		select {
		case <-timer.Chan():
			select {
			case s.timerFires <- timerFire{kind: kind, gen: gen}:
			case <-done:
			case <-ctx.Done():
			}
		case <-done:
		case <-ctx.Done():
			stopAndDrainTimer(timer)
		}
	}()

	log.Debug().Stringer("timer", kind).Dur("duration", d).Msg("timer armed")
}

// cancelTimer stops and clears one slot.
func (s *Session) cancelTimer(kind timerKind) {
	releaseSlot(&s.timers[kind])
}

// releaseSlot stops the slot's timer and unparks its watcher. Safe on
// an empty or already-fired slot.
func releaseSlot(slot *timerSlot) {
	if slot.timer != nil {
		stopAndDrainTimer(slot.timer)
		slot.timer = nil
	}
	if slot.done != nil {
		close(slot.done)
		slot.done = nil
	}
	slot.gen = uuid.Nil
}

func (s *Session) cancelAllTimers() {
	for kind := timerKind(0); kind < timerSlots; kind++ {
		s.cancelTimer(kind)
	}
}

// timerCurrent reports whether a fire belongs to the timer currently
// occupying its slot.
func (s *Session) timerCurrent(fire timerFire) bool {
	return s.timers[fire.kind].gen == fire.gen
}

// stopAndDrainTimer safely stops a timer and drains its channel so the
// waiting goroutine cannot observe a fire from a cancelled timer. This
// follows the pattern recommended in the time.Timer.Stop()
// documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
