// Package token keeps a room bearer token alive for the lifetime of a
// session: it decodes the token's expiry claim, decides when a refresh
// is due, and serializes refresh calls against the room service.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/clients/roomapi"
	"github.com/kmajors/buzzroom/internal/protocol"
	"github.com/kmajors/buzzroom/internal/store"
)

const (
	// RefreshThreshold is how close to expiry a token may get before a
	// refresh is due.
	RefreshThreshold = 30 * time.Minute
	// RefreshInterval is the background check period. It is well under
	// RefreshThreshold so an idle session still refreshes in time.
	RefreshInterval = 5 * time.Minute
)

var ErrNoExpiry = errors.New("token has no expiry claim")

// Claims is the subset of the token payload the client reads. The
// token is never verified client-side; the server is the authority.
type Claims struct {
	RoomID    string
	Name      string
	Role      protocol.Role
	ExpiresAt time.Time
}

// Decode extracts claims from a bearer token without verifying its
// signature.
func Decode(tokenString string) (Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("failed to decode token: %w", err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("failed to read token expiry: %w", err)
	}
	if exp == nil {
		return Claims{}, ErrNoExpiry
	}

	claims := Claims{ExpiresAt: exp.Time}
	if mapClaims, ok := parsed.Claims.(jwt.MapClaims); ok {
		if roomID, ok := mapClaims["room_id"].(string); ok {
			claims.RoomID = roomID
		}
		if name, ok := mapClaims["name"].(string); ok {
			claims.Name = name
		}
		if role, ok := mapClaims["role"].(string); ok {
			claims.Role = protocol.Role(role)
		}
	}
	return claims, nil
}

// ExpiresAt returns the token's expiry instant.
func ExpiresAt(tokenString string) (time.Time, error) {
	claims, err := Decode(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

// ShouldRefresh reports whether a refresh is due at now. An
// undecodable token or one without an expiry claim always counts as
// due: refreshing a broken token fails loudly at the service, which
// beats riding it until the socket handshake rejects it.
func ShouldRefresh(tokenString string, now time.Time) bool {
	expiresAt, err := ExpiresAt(tokenString)
	if err != nil {
		log.Debug().Err(err).Msg("treating undecodable token as due for refresh")
		return true
	}
	return expiresAt.Sub(now) < RefreshThreshold
}

// RefreshAPI is the slice of the room service the lifecycle needs.
type RefreshAPI interface {
	RefreshToken(ctx context.Context, roomID, token string) (string, error)
}

// Lifecycle owns refresh policy for one client. Refresh calls are
// serialized; concurrent callers line up on the mutex rather than
// issuing duplicate refreshes.
type Lifecycle struct {
	api   RefreshAPI
	store store.SessionStore

	mu sync.Mutex
}

func NewLifecycle(api RefreshAPI, sessions store.SessionStore) *Lifecycle {
	return &Lifecycle{api: api, store: sessions}
}

// RefreshIfNeeded returns a token guaranteed fresh at now, refreshing
// through the room service when the current one is close to expiry.
// On refresh failure the stale token is returned untouched along with
// the error; the caller keeps the old token and reacts to the error
// class. A session-invalid failure also drops the stored room pointer
// since the room is gone.
func (l *Lifecycle) RefreshIfNeeded(ctx context.Context, roomID, tokenString string, now time.Time) (string, error) {
	if !ShouldRefresh(tokenString, now) {
		return tokenString, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Another caller may have refreshed while we waited on the mutex.
	if sess, ok, err := l.store.Get(roomID); err == nil && ok && sess.Token != tokenString {
		if !ShouldRefresh(sess.Token, now) {
			return sess.Token, nil
		}
	}

	newToken, err := l.api.RefreshToken(ctx, roomID, tokenString)
	if err != nil {
		if roomapi.IsSessionInvalid(err) {
			log.Warn().Err(err).Str("room_id", roomID).Msg("room gone, dropping cached room pointer")
			if clearErr := l.store.ClearCurrentRoom(); clearErr != nil {
				log.Error().Err(clearErr).Msg("failed to clear cached room pointer")
			}
		}
		return tokenString, fmt.Errorf("token refresh failed: %w", err)
	}

	if err := l.persist(roomID, newToken); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to persist refreshed token")
	}

	log.Debug().Str("room_id", roomID).Msg("token refreshed")
	return newToken, nil
}

func (l *Lifecycle) persist(roomID, newToken string) error {
	sess, ok, err := l.store.Get(roomID)
	if err != nil {
		return err
	}
	if !ok {
		sess = store.Session{RoomID: roomID}
	}
	sess.Token = newToken
	return l.store.Put(sess)
}
