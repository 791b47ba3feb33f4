package roomapi

import (
	"errors"
	"fmt"
	"time"
)

// Reason strings the server sends as the plain-text body of non-2xx
// responses.
const (
	ReasonRoomNotFound   = "room_not_found"
	ReasonNameTaken      = "name_taken"
	ReasonFullRoom       = "full_room"
	ReasonAuthRequired   = "auth_required"
	ReasonInvalidToken   = "invalid_token"
	ReasonRoomMismatch   = "room_mismatch"
	ReasonUserNotInRoom  = "user_not_in_room"
	ReasonSessionExpired = "session_expired"
	ReasonKicked         = "kicked"
	ReasonRateLimited    = "rate_limited"
)

// Class buckets API failures by how the caller should react.
type Class int

const (
	// ClassTransport covers network failures and unclassified server
	// errors. Recoverable; retry is allowed.
	ClassTransport Class = iota
	// ClassAuthExpired means the token was rejected but the room may
	// still exist. Recoverable via refresh or re-join.
	ClassAuthExpired
	// ClassSessionInvalid means the room is gone or the user is no
	// longer part of it. Fatal to the session.
	ClassSessionInvalid
	// ClassRateLimited carries a cooldown the caller must respect
	// before calling again.
	ClassRateLimited
)

// APIError is any non-2xx outcome of a room API call.
type APIError struct {
	StatusCode int
	Reason     string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("room api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("room api: %s (status %d)", e.Reason, e.StatusCode)
}

// Classify maps a reason/status pair onto the failure taxonomy.
func (e *APIError) Classify() Class {
	if e.StatusCode == 429 {
		return ClassRateLimited
	}
	switch e.Reason {
	case ReasonRoomNotFound, ReasonRoomMismatch, ReasonUserNotInRoom, ReasonKicked:
		return ClassSessionInvalid
	case ReasonAuthRequired, ReasonInvalidToken, ReasonSessionExpired:
		return ClassAuthExpired
	default:
		return ClassTransport
	}
}

// IsSessionInvalid reports whether err is fatal to the room session.
func IsSessionInvalid(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Classify() == ClassSessionInvalid
}

// IsRateLimited extracts the cooldown from a rate-limit error, if any.
func IsRateLimited(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Classify() == ClassRateLimited {
		return apiErr.RetryAfter, true
	}
	return 0, false
}
