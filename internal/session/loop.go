package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/clients/roomapi"
	"github.com/kmajors/buzzroom/internal/conn"
	"github.com/kmajors/buzzroom/internal/notify"
	"github.com/kmajors/buzzroom/internal/protocol"
	"github.com/kmajors/buzzroom/internal/roster"
	"github.com/kmajors/buzzroom/internal/store"
)

// Run is the session's event loop. Socket events, user inputs and
// timer fires all funnel into this single goroutine and each handler
// runs to completion before the next input, so round and roster
// transitions never interleave. Run returns when ctx is cancelled or
// the session is torn down.
func (s *Session) Run(ctx context.Context) error {
	s.state.Lock()
	inRoom := s.state.view == ViewRoom
	s.state.Unlock()

	if inRoom {
		s.refreshTick = s.clock.NewTicker(s.cfg.RefreshInterval)
		s.connect(ctx)
	}

	defer func() {
		s.cancelAllTimers()
		if s.refreshTick != nil {
			s.refreshTick.Stop()
			s.refreshTick = nil
		}
		s.conn.Close()
	}()

	for {
		var refreshCh <-chan time.Time
		if s.refreshTick != nil {
			refreshCh = s.refreshTick.Chan()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.connEvents:
			s.handleConnEvent(ctx, ev)
		case cmd := <-s.cmds:
			s.handleCommand(ctx, cmd)
		case fire := <-s.timerFires:
			s.handleTimerFire(ctx, fire)
		case <-refreshCh:
			s.handleRefreshTick(ctx)
		}

		s.state.Lock()
		left := s.state.view == ViewLobby
		s.state.Unlock()
		if left {
			// Torn down by leave, kick, removal or a fatal failure.
			return nil
		}
	}
}

func (s *Session) handleConnEvent(ctx context.Context, ev conn.Event) {
	switch ev.Kind {
	case conn.EventConnected:
		// A fresh connection always starts a round clean; any prior
		// round context may be stale.
		s.state.Lock()
		if s.state.round != nil {
			s.state.round.Reset()
		}
		s.state.Unlock()
		if s.lostNotified {
			s.sink.Notify(notify.EventReconnected, notify.ToneSuccess, "")
			s.lostNotified = false
		}

	case conn.EventMessage:
		s.handleMessage(ctx, ev.Message)

	case conn.EventClosed:
		s.handleClosed(ctx, ev)
	}
}

func (s *Session) handleClosed(ctx context.Context, ev conn.Event) {
	s.state.Lock()
	inRoom := s.state.view == ViewRoom
	roomID := s.state.roomID
	bearer := s.state.token
	s.state.Unlock()

	if !inRoom {
		return
	}

	if !s.lostNotified {
		s.sink.Notify(notify.EventConnectionLost, notify.ToneAlert, "")
		s.lostNotified = true
	}

	if ev.Fatal {
		// The handshake itself said the session is dead.
		s.sink.Notify(notify.EventKicked, notify.ToneAlert, "session no longer valid")
		s.reset()
		return
	}

	if s.conn.ShouldProbeSession() {
		// Too many consecutive drops. One refresh call distinguishes
		// a network blip from a dead session; either way we stop
		// retrying blindly.
		newToken, err := s.api.RefreshToken(ctx, roomID, bearer)
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("session probe failed, tearing down")
			s.sink.Notify(notify.EventKicked, notify.ToneAlert, "session no longer valid")
			s.reset()
			return
		}
		s.adoptToken(roomID, newToken)
		s.persistToken(roomID, newToken)
		s.conn.ResetFailures()
	}

	s.startTimer(ctx, timerReconnect, s.cfg.ReconnectDelay)
}

func (s *Session) handleMessage(ctx context.Context, msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.MsgRoundStarted:
		s.applyRound(msg)
		s.sink.Notify(notify.EventRoundStarted, notify.ToneNeutral, "")
		s.setFlash(ctx)

	case protocol.MsgRoundContinued:
		s.applyRound(msg)
		s.sink.Notify(notify.EventRoundContinued, notify.ToneNeutral, "")
		s.setFlash(ctx)

	case protocol.MsgAccepted:
		s.applyRound(msg)
		s.state.Lock()
		won := msg.Name == s.state.name
		s.state.Unlock()
		if won {
			s.sink.Notify(notify.EventBuzzWon, notify.ToneSuccess, msg.Name)
			s.setFlash(ctx)
		} else {
			s.sink.Notify(notify.EventBuzzLost, notify.ToneFailure, msg.Name)
		}
		s.setNotice(ctx, msg.Name+" buzzed first")

	case protocol.MsgRejected:
		s.applyRound(msg)
		s.sink.Notify(notify.EventBuzzRejected, notify.ToneFailure, "")
		s.setNotice(ctx, "buzz rejected")

	case protocol.MsgTimedOut:
		s.applyRound(msg)
		s.sink.Notify(notify.EventAnswerTimeout, notify.ToneAlert, msg.Name)
		s.setNotice(ctx, msg.Name+" ran out of time")

	case protocol.MsgParticipants:
		s.handleRoster(ctx, msg.Participants)

	case protocol.MsgActionDenied:
		// Surfaced as a notice; no state changes.
		s.sink.Notify(notify.EventActionDenied, notify.ToneFailure, msg.Reason)
		s.setNotice(ctx, "action denied: "+msg.Reason)

	case protocol.MsgKicked:
		s.sink.Notify(notify.EventKicked, notify.ToneAlert, "kicked by admin")
		s.reset()
	}
}

func (s *Session) applyRound(msg protocol.ServerMessage) {
	s.state.Lock()
	defer s.state.Unlock()
	if s.state.round != nil {
		s.state.round.Apply(msg)
	}
}

func (s *Session) handleRoster(ctx context.Context, participants []protocol.Participant) {
	s.state.Lock()
	if s.state.roster == nil {
		s.state.Unlock()
		return
	}
	change := s.state.roster.Apply(participants)
	roomID := s.state.roomID
	name := s.state.name
	tok := s.state.token
	role := s.state.roster.Role()
	inRoom := s.state.view == ViewRoom
	s.state.Unlock()

	switch change {
	case roster.ChangeRemoved:
		if inRoom {
			// Absent from the authoritative roster: same as a kick.
			s.sink.Notify(notify.EventKicked, notify.ToneAlert, "removed from room")
			s.reset()
		}
	case roster.ChangePromoted:
		s.sink.Notify(notify.EventPromoted, notify.ToneSuccess, "")
		s.persistRole(roomID, name, tok, role)
	case roster.ChangeDemoted:
		s.sink.Notify(notify.EventDemoted, notify.ToneAlert, "")
		s.persistRole(roomID, name, tok, role)
	}
}

// persistToken writes a renewed token under the room's stored session
// so a restart rejoins with it rather than the stale one.
func (s *Session) persistToken(roomID, tok string) {
	sess, ok, err := s.store.Get(roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to read stored session")
		return
	}
	if !ok {
		sess = store.Session{RoomID: roomID}
	}
	sess.Token = tok
	if err := s.store.Put(sess); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to persist renewed token")
	}
}

func (s *Session) persistRole(roomID, name, tok string, role protocol.Role) {
	err := s.store.Put(store.Session{RoomID: roomID, Name: name, Role: role, Token: tok})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to persist role change")
	}
}

// handleCommand applies one queued user input.
func (s *Session) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdBuzz:
		s.sendBuzz()
	case cmdStartRound:
		s.send(protocol.StartRoundCommand())
	case cmdContinueRound:
		s.send(protocol.ContinueRoundCommand())
	case cmdKick:
		s.send(protocol.KickCommand(cmd.name))
	case cmdSetAdmin:
		s.send(protocol.SetAdminCommand(cmd.name))
	case cmdLeave:
		s.reset()
	}
}

// sendBuzz transmits a buzz only when it has a chance: connected, the
// round not locked, not already buzzed, and not locked out. The
// server stays the arbiter; this just suppresses traffic it would
// reject anyway.
func (s *Session) sendBuzz() {
	s.state.Lock()
	defer s.state.Unlock()

	if s.state.round == nil || s.state.roster == nil {
		return
	}
	if s.conn.Phase() != conn.Connected {
		log.Debug().Msg("buzz suppressed, not connected")
		return
	}
	if !s.state.round.CanBuzz() || s.state.roster.LockedOut(s.state.name) {
		log.Debug().Msg("buzz suppressed by local round state")
		return
	}

	if err := s.conn.Send(protocol.BuzzCommand()); err != nil {
		log.Warn().Err(err).Msg("failed to send buzz")
		return
	}
	s.state.round.MarkBuzzed()
}

func (s *Session) send(cmd protocol.Command) {
	if err := s.conn.Send(cmd); err != nil {
		log.Debug().Err(err).Str("type", string(cmd.Type)).Msg("command not sent")
	}
}

func (s *Session) handleTimerFire(ctx context.Context, fire timerFire) {
	if !s.timerCurrent(fire) {
		// A replaced or cancelled timer fired late; ignore it.
		log.Debug().Stringer("timer", fire.kind).Msg("stale timer fire dropped")
		return
	}
	releaseSlot(&s.timers[fire.kind])

	switch fire.kind {
	case timerNotice:
		s.state.Lock()
		s.state.notice = ""
		s.state.Unlock()
	case timerFlash:
		s.state.Lock()
		s.state.flash = false
		s.state.Unlock()
	case timerReconnect:
		s.state.Lock()
		inRoom := s.state.view == ViewRoom
		s.state.Unlock()
		if inRoom && s.conn.Phase() == conn.Disconnected {
			s.connect(ctx)
		}
	}
}

func (s *Session) handleRefreshTick(ctx context.Context) {
	s.state.Lock()
	inRoom := s.state.view == ViewRoom
	roomID := s.state.roomID
	bearer := s.state.token
	s.state.Unlock()

	if !inRoom {
		return
	}

	fresh, err := s.tokens.RefreshIfNeeded(ctx, roomID, bearer, s.clock.Now())
	if err != nil {
		if roomapi.IsSessionInvalid(err) {
			s.sink.Notify(notify.EventKicked, notify.ToneAlert, "session no longer valid")
			s.reset()
			return
		}
		// Recoverable; the next tick retries with the stale token.
		log.Warn().Err(err).Msg("background token refresh failed")
		return
	}
	s.adoptToken(roomID, fresh)
}

// connect ensures the token is fresh and dials the realtime channel.
// A stale token is never used to authenticate a new connection: when
// refresh fails the dial is skipped and retried after the reconnect
// delay instead.
func (s *Session) connect(ctx context.Context) {
	s.state.Lock()
	roomID := s.state.roomID
	bearer := s.state.token
	s.state.Unlock()

	fresh, err := s.tokens.RefreshIfNeeded(ctx, roomID, bearer, s.clock.Now())
	if err != nil {
		if roomapi.IsSessionInvalid(err) {
			s.sink.Notify(notify.EventKicked, notify.ToneAlert, "session no longer valid")
			s.reset()
			return
		}
		log.Warn().Err(err).Msg("pre-connect token refresh failed, delaying dial")
		s.startTimer(ctx, timerReconnect, s.cfg.ReconnectDelay)
		return
	}
	s.adoptToken(roomID, fresh)

	if err := s.conn.Connect(ctx, roomID, fresh); err != nil {
		// The closure event drives the retry/teardown decision; the
		// timer backstops it in case that event could not be queued.
		log.Debug().Err(err).Msg("connect attempt failed")
		s.startTimer(ctx, timerReconnect, s.cfg.ReconnectDelay)
	}
}

func (s *Session) adoptToken(roomID, fresh string) {
	s.state.Lock()
	defer s.state.Unlock()
	if s.state.roomID == roomID && s.state.token != fresh {
		s.state.token = fresh
	}
}

func (s *Session) setNotice(ctx context.Context, text string) {
	s.state.Lock()
	s.state.notice = text
	s.state.Unlock()
	s.startTimer(ctx, timerNotice, s.cfg.NoticeDuration)
}

func (s *Session) setFlash(ctx context.Context) {
	s.state.Lock()
	s.state.flash = true
	s.state.Unlock()
	s.startTimer(ctx, timerFlash, s.cfg.FlashDuration)
}

// reset is the single teardown path back to the pre-join state, and
// the only one: explicit leave, kick, implicit removal and the
// fatal-failure path all land here. Idempotent. Timers and the socket
// die before the in-memory state clears so no late callback can touch
// a session that no longer exists.
func (s *Session) reset() {
	s.cancelAllTimers()
	if s.refreshTick != nil {
		s.refreshTick.Stop()
		s.refreshTick = nil
	}
	s.conn.Close()
	s.lostNotified = false

	s.state.Lock()
	roomID := s.state.roomID
	s.state.view = ViewLobby
	s.state.roomID = ""
	s.state.name = ""
	s.state.token = ""
	s.state.answerWindow = 0
	s.state.round = nil
	s.state.roster = nil
	s.state.notice = ""
	s.state.flash = false
	s.state.Unlock()

	if roomID != "" {
		if err := s.store.Delete(roomID); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to drop stored session")
		}
		if err := s.store.ClearCurrentRoom(); err != nil {
			log.Error().Err(err).Msg("failed to clear current room pointer")
		}
		log.Info().Str("room_id", roomID).Msg("session reset to pre-join state")
	}
}
