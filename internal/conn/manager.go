// Package conn owns the realtime socket to the room service: dialing
// with a bearer token, reading the server event stream in order, and
// classifying closures so the session can tell a network blip from a
// dead session.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/clients/roomapi"
	"github.com/kmajors/buzzroom/internal/protocol"
)

// Phase is the connection lifecycle state.
type Phase int32

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// FailureProbeThreshold is how many consecutive closures the session
// tolerates before probing whether the session itself is still valid.
const FailureProbeThreshold = 3

var (
	ErrNotConfigured = errors.New("connect requires a room id and token")
	ErrNotConnected  = errors.New("not connected")
)

// EventKind tags a connection event.
type EventKind int

const (
	// EventConnected: the socket opened and the event stream is live.
	EventConnected EventKind = iota
	// EventMessage carries one decoded server message, in receipt
	// order.
	EventMessage
	// EventClosed: the socket closed or the dial failed.
	EventClosed
)

// Event is what the manager delivers onto the session's event
// channel. Gen identifies the connection generation the event belongs
// to; events from a superseded generation are never delivered.
type Event struct {
	Kind    EventKind
	Gen     uuid.UUID
	Message protocol.ServerMessage
	Err     error
	// Fatal is set on EventClosed when the handshake was rejected for
	// a session-invalid reason (room gone, user removed).
	Fatal bool
}

// Config holds socket tuning knobs.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   4096,
	}
}

// Manager owns at most one live socket. Opening a new connection
// discards any prior handle first, so two event streams can never
// feed the same session.
type Manager struct {
	wsBaseURL string
	config    Config
	dialer    *websocket.Dialer
	events    chan<- Event

	mu       sync.Mutex
	conn     *websocket.Conn
	gen      uuid.UUID
	phase    Phase
	failures int
	// done releases a read loop blocked on delivery when the
	// connection is closed or superseded.
	done chan struct{}
}

// NewManager creates a manager delivering events onto events. The
// channel should be buffered; events that cannot be queued are
// dropped with a warning rather than blocking the read loop.
func NewManager(wsBaseURL string, config Config, events chan<- Event) *Manager {
	return &Manager{
		wsBaseURL: strings.TrimRight(wsBaseURL, "/"),
		config:    config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		events: events,
	}
}

// Connect dials the room's realtime channel, authenticating with the
// bearer token embedded in the query string. It refuses without a
// {token, roomID} pair, and is a no-op when a connection is already
// live or in flight.
func (m *Manager) Connect(ctx context.Context, roomID, token string) error {
	if roomID == "" || token == "" {
		return ErrNotConfigured
	}

	m.mu.Lock()
	if m.phase != Disconnected {
		m.mu.Unlock()
		return nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	gen := uuid.New()
	m.gen = gen
	m.phase = Connecting
	m.mu.Unlock()

	endpoint := fmt.Sprintf("%s/ws/%s?token=%s", m.wsBaseURL, roomID, url.QueryEscape(token))
	conn, resp, err := m.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}

	m.mu.Lock()
	if m.gen != gen {
		// Superseded by Close while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		m.phase = Disconnected
		m.failures++
		failures := m.failures
		m.mu.Unlock()

		closeErr, fatal := classifyDialError(err, resp)
		log.Warn().
			Err(closeErr).
			Str("room_id", roomID).
			Int("consecutive_failures", failures).
			Bool("fatal", fatal).
			Msg("websocket dial failed")
		m.emit(Event{Kind: EventClosed, Gen: gen, Err: closeErr, Fatal: fatal})
		return closeErr
	}

	conn.SetReadLimit(m.config.MaxMessageSize)
	m.conn = conn
	m.phase = Connected
	// The failure counter survives a successful dial: a socket that
	// opens and immediately drops still counts toward the probe
	// threshold. Only ResetFailures and Close clear it.
	if m.done != nil {
		// Release any straggler from the previous connection.
		close(m.done)
	}
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	log.Info().Str("room_id", roomID).Msg("websocket connected")
	m.emit(Event{Kind: EventConnected, Gen: gen})
	go m.readLoop(conn, gen, done)
	return nil
}

// Send transmits one command on the live socket.
func (m *Manager) Send(cmd protocol.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != Connected || m.conn == nil {
		return ErrNotConnected
	}
	m.conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	if err := m.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Type, err)
	}
	return nil
}

// Close discards any live or in-flight connection and invalidates its
// generation so late read-loop callbacks are dropped. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen = uuid.Nil
	m.phase = Disconnected
	m.failures = 0
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.config.WriteTimeout))
		m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Failures is the count of consecutive closures since the last
// successful open.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// ShouldProbeSession reports whether enough consecutive failures have
// piled up that the session should check its token is still honored
// before reconnecting again.
func (m *Manager) ShouldProbeSession() bool {
	return m.Failures() > FailureProbeThreshold
}

// ResetFailures clears the consecutive-failure counter. Called after a
// successful session probe so the next run of closures earns its own
// probe instead of re-probing on every drop.
func (m *Manager) ResetFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uuid.UUID, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(conn, gen, err, done)
			return
		}

		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			// Unknown tags and malformed frames are never fatal.
			log.Debug().Err(err).Msg("ignoring unparseable server message")
			continue
		}
		m.deliver(Event{Kind: EventMessage, Gen: gen, Message: msg}, done)
	}
}

func (m *Manager) handleClosed(conn *websocket.Conn, gen uuid.UUID, err error, done <-chan struct{}) {
	conn.Close()

	m.mu.Lock()
	if m.gen != gen {
		// A newer connection (or Close) already superseded this one.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.phase = Disconnected
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	log.Info().
		Err(err).
		Int("consecutive_failures", failures).
		Msg("websocket closed")
	m.deliver(Event{Kind: EventClosed, Gen: gen, Err: err}, done)
}

// deliver queues an event from the read loop, blocking until the
// consumer takes it so no frame is ever dropped. Close or a new
// connection releases a blocked delivery.
func (m *Manager) deliver(event Event, done <-chan struct{}) {
	select {
	case m.events <- event:
	case <-done:
		log.Debug().Int("kind", int(event.Kind)).Msg("connection superseded, discarding event")
	}
}

// emit is the non-blocking variant for events raised from Connect,
// which runs on the consumer's own goroutine; blocking there would
// deadlock against a full channel.
func (m *Manager) emit(event Event) {
	select {
	case m.events <- event:
	default:
		log.Warn().Int("kind", int(event.Kind)).Msg("connection event channel full, dropping event")
	}
}

// classifyDialError reads the handshake rejection, if any, and
// decides whether it kills the whole session. The server refuses the
// upgrade with the same plain-text reasons as the REST endpoints
// (room_not_found, user_not_in_room, ...), so handshake rejections
// reuse the REST error taxonomy.
func classifyDialError(err error, resp *http.Response) (error, bool) {
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil {
		return err, false
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 256))
	if readErr != nil {
		return err, false
	}
	apiErr := &roomapi.APIError{
		StatusCode: resp.StatusCode,
		Reason:     strings.TrimSpace(string(body)),
	}
	return fmt.Errorf("websocket handshake rejected: %w", apiErr),
		apiErr.Classify() == roomapi.ClassSessionInvalid
}
