package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kmajors/buzzroom/internal/protocol"
)

func TestApplyReplacesRosterWholesale(t *testing.T) {
	r := NewReconciler("dana", protocol.RolePlayer)

	first := []protocol.Participant{
		{Name: "dana", Role: protocol.RolePlayer},
		{Name: "riley", Role: protocol.RoleAdmin},
	}
	second := []protocol.Participant{
		{Name: "dana", Role: protocol.RolePlayer},
	}

	assert.Equal(t, ChangeNone, r.Apply(first))
	assert.Len(t, r.Participants(), 2)

	assert.Equal(t, ChangeNone, r.Apply(second))
	assert.Len(t, r.Participants(), 1)
}

func TestRoleFlips(t *testing.T) {
	cases := []struct {
		name        string
		initialRole protocol.Role
		newRole     protocol.Role
		want        Change
	}{
		{
			name:        "player promoted to admin",
			initialRole: protocol.RolePlayer,
			newRole:     protocol.RoleAdmin,
			want:        ChangePromoted,
		},
		{
			name:        "admin demoted to player",
			initialRole: protocol.RoleAdmin,
			newRole:     protocol.RolePlayer,
			want:        ChangeDemoted,
		},
		{
			name:        "role unchanged",
			initialRole: protocol.RolePlayer,
			newRole:     protocol.RolePlayer,
			want:        ChangeNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReconciler("dana", tc.initialRole)
			change := r.Apply([]protocol.Participant{{Name: "dana", Role: tc.newRole}})

			assert.Equal(t, tc.want, change)
			assert.Equal(t, tc.newRole, r.Role())
		})
	}
}

func TestAbsenceIsRemoval(t *testing.T) {
	r := NewReconciler("dana", protocol.RolePlayer)

	change := r.Apply([]protocol.Participant{{Name: "riley", Role: protocol.RoleAdmin}})

	assert.Equal(t, ChangeRemoved, change)
	assert.False(t, r.Present())
}

func TestRemovalDoesNotRepeatPromotion(t *testing.T) {
	r := NewReconciler("dana", protocol.RolePlayer)

	r.Apply([]protocol.Participant{{Name: "dana", Role: protocol.RoleAdmin}})
	// Same broadcast again: no new change.
	change := r.Apply([]protocol.Participant{{Name: "dana", Role: protocol.RoleAdmin}})

	assert.Equal(t, ChangeNone, change)
	assert.True(t, r.IsAdmin())
}

func TestLockedOutFlag(t *testing.T) {
	r := NewReconciler("dana", protocol.RolePlayer)
	r.Apply([]protocol.Participant{
		{Name: "dana", Role: protocol.RolePlayer},
		{Name: "riley", Role: protocol.RolePlayer, LockedOut: true},
	})

	assert.False(t, r.LockedOut("dana"))
	assert.True(t, r.LockedOut("riley"))
	assert.False(t, r.LockedOut("nobody"))
}
