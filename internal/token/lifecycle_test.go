package token

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmajors/buzzroom/clients/roomapi"
	"github.com/kmajors/buzzroom/internal/store"
)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func mintExpiringToken(t *testing.T, exp time.Time) string {
	return mintToken(t, jwt.MapClaims{
		"room_id": "room-1",
		"name":    "dana",
		"role":    "player",
		"exp":     exp.Unix(),
	})
}

type fakeRefreshAPI struct {
	calls int
	token string
	err   error
}

func (f *fakeRefreshAPI) RefreshToken(ctx context.Context, roomID, token string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func TestDecodeClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := Decode(mintExpiringToken(t, exp))

	require.NoError(t, err)
	assert.Equal(t, "room-1", claims.RoomID)
	assert.Equal(t, "dana", claims.Name)
	assert.Equal(t, "player", string(claims.Role))
	assert.True(t, claims.ExpiresAt.Equal(exp))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not.a.token")
	assert.Error(t, err)
}

func TestDecodeMissingExpiry(t *testing.T) {
	_, err := Decode(mintToken(t, jwt.MapClaims{"name": "dana"}))
	assert.ErrorIs(t, err, ErrNoExpiry)
}

func TestShouldRefreshThresholdBoundary(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name string
		exp  time.Time
		want bool
	}{
		{
			name: "one second inside threshold is due",
			exp:  now.Add(RefreshThreshold - time.Second),
			want: true,
		},
		{
			name: "one second outside threshold is not due",
			exp:  now.Add(RefreshThreshold + time.Second),
			want: false,
		},
		{
			name: "already expired is due",
			exp:  now.Add(-time.Minute),
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldRefresh(mintExpiringToken(t, tc.exp), now))
		})
	}
}

func TestShouldRefreshUndecodableToken(t *testing.T) {
	now := time.Now()

	// Undecodable or expiry-free tokens count as due: the refresh
	// call will surface the real problem instead of the token riding
	// until the socket rejects it.
	assert.True(t, ShouldRefresh("garbage", now))
	assert.True(t, ShouldRefresh(mintToken(t, jwt.MapClaims{"name": "dana"}), now))
}

func TestRefreshIfNeededSkipsFreshToken(t *testing.T) {
	now := time.Now()
	fresh := mintExpiringToken(t, now.Add(2*time.Hour))
	api := &fakeRefreshAPI{}
	lc := NewLifecycle(api, store.NewMemoryStore())

	got, err := lc.RefreshIfNeeded(context.Background(), "room-1", fresh, now)

	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Zero(t, api.calls)
}

func TestRefreshIfNeededRefreshesAndPersists(t *testing.T) {
	now := time.Now()
	stale := mintExpiringToken(t, now.Add(5*time.Minute))
	renewed := mintExpiringToken(t, now.Add(2*time.Hour))

	sessions := store.NewMemoryStore()
	require.NoError(t, sessions.Put(store.Session{RoomID: "room-1", Name: "dana", Token: stale}))

	api := &fakeRefreshAPI{token: renewed}
	lc := NewLifecycle(api, sessions)

	got, err := lc.RefreshIfNeeded(context.Background(), "room-1", stale, now)

	require.NoError(t, err)
	assert.Equal(t, renewed, got)
	assert.Equal(t, 1, api.calls)

	sess, ok, err := sessions.Get("room-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, renewed, sess.Token)

	// The refreshed expiry strictly increases.
	oldExp, err := ExpiresAt(stale)
	require.NoError(t, err)
	newExp, err := ExpiresAt(got)
	require.NoError(t, err)
	assert.True(t, newExp.After(oldExp))
}

func TestRefreshFailureKeepsStaleToken(t *testing.T) {
	now := time.Now()
	stale := mintExpiringToken(t, now.Add(5*time.Minute))

	api := &fakeRefreshAPI{err: &roomapi.APIError{StatusCode: 500, Reason: "boom"}}
	sessions := store.NewMemoryStore()
	require.NoError(t, sessions.SetCurrentRoom("room-1"))
	lc := NewLifecycle(api, sessions)

	got, err := lc.RefreshIfNeeded(context.Background(), "room-1", stale, now)

	assert.Error(t, err)
	assert.Equal(t, stale, got)

	// A transient failure must not drop the cached room pointer.
	roomID, ok, err := sessions.CurrentRoom()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "room-1", roomID)
}

func TestRefreshSessionInvalidClearsRoomPointer(t *testing.T) {
	now := time.Now()
	stale := mintExpiringToken(t, now.Add(5*time.Minute))

	api := &fakeRefreshAPI{err: &roomapi.APIError{StatusCode: 404, Reason: roomapi.ReasonRoomNotFound}}
	sessions := store.NewMemoryStore()
	require.NoError(t, sessions.SetCurrentRoom("room-1"))
	lc := NewLifecycle(api, sessions)

	_, err := lc.RefreshIfNeeded(context.Background(), "room-1", stale, now)

	assert.Error(t, err)
	_, ok, err := sessions.CurrentRoom()
	require.NoError(t, err)
	assert.False(t, ok)
}
