// Package session is the protocol engine behind a buzzer room client.
// One Session owns the authenticated realtime connection, folds the
// server event stream into round and roster state, keeps the bearer
// token alive, and tears everything down when the server removes the
// local user. All state transitions run on a single event loop; see
// Run.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/clients/roomapi"
	"github.com/kmajors/buzzroom/internal/conn"
	"github.com/kmajors/buzzroom/internal/notify"
	"github.com/kmajors/buzzroom/internal/protocol"
	"github.com/kmajors/buzzroom/internal/round"
	"github.com/kmajors/buzzroom/internal/roster"
	"github.com/kmajors/buzzroom/internal/store"
	"github.com/kmajors/buzzroom/internal/token"
)

// View is the client's top-level location: in a room, or back at the
// pre-join state.
type View string

const (
	ViewLobby View = "lobby"
	ViewRoom  View = "room"
)

// Transport is the slice of the connection manager the session
// drives. *conn.Manager satisfies it.
type Transport interface {
	Connect(ctx context.Context, roomID, token string) error
	Send(cmd protocol.Command) error
	Close()
	Phase() conn.Phase
	ShouldProbeSession() bool
	ResetFailures()
}

// RoomAPI is the slice of the REST client the session calls.
type RoomAPI interface {
	CreateRoom(ctx context.Context, name string, window time.Duration) (roomapi.CreateRoomResponse, error)
	JoinRoom(ctx context.Context, roomID, name, token string) (roomapi.JoinRoomResponse, error)
	RefreshToken(ctx context.Context, roomID, token string) (string, error)
}

// Config tunes the session's timers.
type Config struct {
	// NoticeDuration is how long a transient notice stays up.
	NoticeDuration time.Duration
	// FlashDuration is how long the screen flash lasts.
	FlashDuration time.Duration
	// ReconnectDelay spaces reconnect attempts after a closure.
	ReconnectDelay time.Duration
	// RefreshInterval is the background token refresh check period.
	RefreshInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		NoticeDuration:  4 * time.Second,
		FlashDuration:   1500 * time.Millisecond,
		ReconnectDelay:  time.Second,
		RefreshInterval: token.RefreshInterval,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.NoticeDuration <= 0 {
		c.NoticeDuration = def.NoticeDuration
	}
	if c.FlashDuration <= 0 {
		c.FlashDuration = def.FlashDuration
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
}

// Deps wires a session to its collaborators. Events must be the same
// channel the Transport delivers onto.
type Deps struct {
	API       RoomAPI
	Transport Transport
	Events    chan conn.Event
	Store     store.SessionStore
	Sink      notify.Sink
	Clock     clockwork.Clock
}

// command is one queued user input for the event loop.
type commandKind int

const (
	cmdBuzz commandKind = iota
	cmdStartRound
	cmdContinueRound
	cmdKick
	cmdSetAdmin
	cmdLeave
)

type command struct {
	kind commandKind
	name string
}

// Session is the client-side protocol engine for one buzzer room.
// External goroutines interact through the enqueue methods (Buzz,
// StartRound, ...) and Snapshot; everything else runs on the loop.
type Session struct {
	cfg    Config
	api    RoomAPI
	conn   Transport
	tokens *token.Lifecycle
	store  store.SessionStore
	sink   notify.Sink
	clock  clockwork.Clock

	connEvents chan conn.Event
	cmds       chan command
	timerFires chan timerFire

	timers       [timerSlots]timerSlot
	refreshTick  clockwork.Ticker
	lostNotified bool

	// state guards everything the event loop mutates and Snapshot
	// reads.
	state stateMu
}

func New(deps Deps, cfg Config) *Session {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Sink == nil {
		deps.Sink = notify.LogSink{}
	}

	s := &Session{
		cfg:        cfg,
		api:        deps.API,
		conn:       deps.Transport,
		tokens:     token.NewLifecycle(deps.API, deps.Store),
		store:      deps.Store,
		sink:       deps.Sink,
		clock:      deps.Clock,
		connEvents: deps.Events,
		cmds:       make(chan command, 16),
		timerFires: make(chan timerFire, 16),
	}
	s.state.view = ViewLobby
	return s
}

// Host creates a new room and enters it as admin. Must be called
// before Run.
func (s *Session) Host(ctx context.Context, name string, window time.Duration) error {
	resp, err := s.api.CreateRoom(ctx, name, window)
	if err != nil {
		return err
	}

	return s.adopt(store.Session{
		RoomID: resp.RoomID,
		Name:   name,
		Role:   protocol.RoleAdmin,
		Token:  resp.Token,
	}, time.Duration(resp.AnswerWindowInMs)*time.Millisecond)
}

// Join enters an existing room. A session cached for the room is used
// to rejoin under the stored identity; otherwise name performs a
// first join. Must be called before Run.
func (s *Session) Join(ctx context.Context, roomID, name string) error {
	cached, haveCached, err := s.store.Get(roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("session store unreadable, joining fresh")
		haveCached = false
	}

	bearer := ""
	if haveCached {
		bearer = cached.Token
		if name == "" {
			name = cached.Name
		}
	}

	resp, err := s.api.JoinRoom(ctx, roomID, name, bearer)
	if err != nil {
		if haveCached && roomapi.IsSessionInvalid(err) {
			// The cached identity is dead; drop it so the next join
			// starts clean.
			s.store.Delete(roomID)
		}
		return err
	}

	tok := resp.Token
	if tok == "" {
		tok = bearer
	}
	return s.adopt(store.Session{
		RoomID: roomID,
		Name:   name,
		Role:   resp.Role,
		Token:  tok,
	}, time.Duration(resp.AnswerWindowInMs)*time.Millisecond)
}

// adopt persists a fresh session and flips into the room view.
func (s *Session) adopt(sess store.Session, window time.Duration) error {
	if err := s.store.Put(sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := s.store.SetCurrentRoom(sess.RoomID); err != nil {
		log.Error().Err(err).Msg("failed to persist current room")
	}

	s.state.Lock()
	s.state.view = ViewRoom
	s.state.roomID = sess.RoomID
	s.state.name = sess.Name
	s.state.token = sess.Token
	s.state.answerWindow = window
	s.state.round = round.NewMachine(sess.Name)
	s.state.roster = roster.NewReconciler(sess.Name, sess.Role)
	s.state.Unlock()

	log.Info().
		Str("room_id", sess.RoomID).
		Str("name", sess.Name).
		Str("role", string(sess.Role)).
		Msg("entered room")
	return nil
}

// Enqueue methods, safe from any goroutine. Inputs that cannot be
// queued are dropped with a warning; the loop never blocks a caller.

func (s *Session) Buzz()                { s.enqueue(command{kind: cmdBuzz}) }
func (s *Session) StartRound()          { s.enqueue(command{kind: cmdStartRound}) }
func (s *Session) ContinueRound()       { s.enqueue(command{kind: cmdContinueRound}) }
func (s *Session) Kick(name string)     { s.enqueue(command{kind: cmdKick, name: name}) }
func (s *Session) SetAdmin(name string) { s.enqueue(command{kind: cmdSetAdmin, name: name}) }
func (s *Session) Leave()               { s.enqueue(command{kind: cmdLeave}) }

func (s *Session) enqueue(cmd command) {
	select {
	case s.cmds <- cmd:
	default:
		log.Warn().Int("kind", int(cmd.kind)).Msg("command queue full, dropping input")
	}
}
