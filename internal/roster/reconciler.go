// Package roster maintains the participant list from the server's
// roster broadcasts and detects what changed for the local user.
package roster

import (
	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/internal/protocol"
)

// Change is what a roster broadcast meant for the local user.
type Change int

const (
	ChangeNone Change = iota
	// ChangePromoted: the local user became admin.
	ChangePromoted
	// ChangeDemoted: the local user lost admin.
	ChangeDemoted
	// ChangeRemoved: the local name is absent from the broadcast.
	// While in a room this is an implicit kick.
	ChangeRemoved
)

// Reconciler tracks the roster for one session. Identity is keyed by
// display name: the server rejects duplicate names at join
// (name_taken), so the broadcast roster is duplicate-free and the
// first match is the local user.
type Reconciler struct {
	selfName string

	participants []protocol.Participant
	role         protocol.Role
	present      bool
}

func NewReconciler(selfName string, initialRole protocol.Role) *Reconciler {
	return &Reconciler{
		selfName: selfName,
		role:     initialRole,
		present:  true,
	}
}

// Apply replaces the roster wholesale with a new broadcast and
// reports what changed for the local user. Incremental diffs are
// never trusted; the broadcast is the source of truth.
func (r *Reconciler) Apply(participants []protocol.Participant) Change {
	r.participants = participants

	var self *protocol.Participant
	for i := range participants {
		if participants[i].Name == r.selfName {
			self = &participants[i]
			break
		}
	}

	if self == nil {
		r.present = false
		log.Info().Str("name", r.selfName).Msg("local user absent from roster broadcast")
		return ChangeRemoved
	}
	r.present = true

	prevRole := r.role
	r.role = self.Role
	switch {
	case prevRole != protocol.RoleAdmin && self.Role == protocol.RoleAdmin:
		log.Info().Str("name", r.selfName).Msg("promoted to admin")
		return ChangePromoted
	case prevRole == protocol.RoleAdmin && self.Role != protocol.RoleAdmin:
		log.Info().Str("name", r.selfName).Msg("demoted from admin")
		return ChangeDemoted
	}
	return ChangeNone
}

// Participants returns the roster as last broadcast.
func (r *Reconciler) Participants() []protocol.Participant { return r.participants }

// Role is the local user's role as last broadcast.
func (r *Reconciler) Role() protocol.Role { return r.role }

func (r *Reconciler) IsAdmin() bool { return r.role == protocol.RoleAdmin }

// Present reports whether the local user appeared in the last
// broadcast.
func (r *Reconciler) Present() bool { return r.present }

// LockedOut reports the server-broadcast lockout flag for a
// participant. Older server builds omit the flag entirely.
func (r *Reconciler) LockedOut(name string) bool {
	for _, p := range r.participants {
		if p.Name == name {
			return p.LockedOut
		}
	}
	return false
}
