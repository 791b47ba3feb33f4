// Package roomapi is the REST client for the buzzer room service:
// room creation, joining, and token refresh. The realtime channel is
// handled separately by internal/conn.
package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/internal/protocol"
)

const (
	createRoomEndpoint   = "/api/rooms"
	joinRoomEndpoint     = "/api/rooms/%s/join"
	refreshTokenEndpoint = "/api/rooms/%s/refresh_token"

	defaultTimeout = 30 * time.Second
)

type CreateRoomResponse struct {
	RoomID           string `json:"room_id"`
	Token            string `json:"token"`
	AnswerWindowInMs uint64 `json:"answer_window_in_ms"`
}

type JoinRoomResponse struct {
	RoomID           string        `json:"room_id"`
	Token            string        `json:"token"`
	AnswerWindowInMs uint64        `json:"answer_window_in_ms"`
	Role             protocol.Role `json:"role"`
}

type refreshTokenResponse struct {
	RoomID   string `json:"room_id"`
	NewToken string `json:"new_token"`
}

type createRoomRequest struct {
	Name             string  `json:"name"`
	AnswerWindowInMs *uint64 `json:"answer_window_in_ms,omitempty"`
}

type joinRoomRequest struct {
	Name string `json:"name,omitempty"`
}

// Client talks to the room service. A 429 response arms a local
// cooldown: until it elapses every call fails fast with a rate-limit
// error instead of hitting the server again.
type Client struct {
	baseURL string
	client  *http.Client
	clock   clockwork.Clock

	mu            sync.Mutex
	cooldownUntil time.Time
}

type Option func(*Client)

// WithClock substitutes the wall clock, used by tests to drive the
// 429 cooldown deterministically.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.client.Timeout = timeout }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: defaultTimeout,
		},
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRoom opens a new room hosted by name. window is clamped
// server-side; zero means the server default.
func (c *Client) CreateRoom(ctx context.Context, name string, window time.Duration) (CreateRoomResponse, error) {
	req := createRoomRequest{Name: name}
	if window > 0 {
		ms := uint64(window.Milliseconds())
		req.AnswerWindowInMs = &ms
	}

	var resp CreateRoomResponse
	if err := c.postJSON(ctx, createRoomEndpoint, "", req, &resp); err != nil {
		return CreateRoomResponse{}, fmt.Errorf("create room: %w", err)
	}
	return resp, nil
}

// JoinRoom joins an existing room. For a first join pass the display
// name and an empty token; for a rejoin pass the cached bearer token
// (the name is then taken from the token's claims server-side).
func (c *Client) JoinRoom(ctx context.Context, roomID, name, token string) (JoinRoomResponse, error) {
	endpoint := fmt.Sprintf(joinRoomEndpoint, roomID)

	var resp JoinRoomResponse
	if err := c.postJSON(ctx, endpoint, token, joinRoomRequest{Name: name}, &resp); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("join room %s: %w", roomID, err)
	}
	return resp, nil
}

// RefreshToken exchanges a still-valid bearer token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context, roomID, token string) (string, error) {
	endpoint := fmt.Sprintf(refreshTokenEndpoint, roomID)

	var resp refreshTokenResponse
	if err := c.postJSON(ctx, endpoint, token, nil, &resp); err != nil {
		return "", fmt.Errorf("refresh token for room %s: %w", roomID, err)
	}
	return resp.NewToken, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, token string, body, out any) error {
	if remaining, ok := c.cooldownRemaining(); ok {
		log.Debug().
			Dur("remaining", remaining).
			Str("endpoint", endpoint).
			Msg("request refused, rate-limit cooldown active")
		return &APIError{StatusCode: http.StatusTooManyRequests, Reason: ReasonRateLimited, RetryAfter: remaining}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(string(responseBody)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.Reason = ReasonRateLimited
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			c.armCooldown(apiErr.RetryAfter)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

func (c *Client) cooldownRemaining() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.cooldownUntil.Sub(c.clock.Now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func (c *Client) armCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	until := c.clock.Now().Add(d)
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
	log.Warn().Dur("cooldown", d).Msg("rate limited by room service")
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
