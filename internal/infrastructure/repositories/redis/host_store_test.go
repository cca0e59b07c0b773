package redis

import (
	"context"
	"testing"

	"github.com/artieeg/warpy-media/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHostStore(t *testing.T) *HostStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewHostStore(client)
}

func host(id domain.UserID, stream domain.StreamID) domain.Participant {
	return domain.Participant{ID: id, Stream: stream, Role: domain.RoleStreamer}
}

func TestSetStreamHost(t *testing.T) {
	store := newTestHostStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetStreamHost(ctx, host("user-1", "stream-1")))

	id, err := store.HostID(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-1"), id)

	info, err := store.HostInfo(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStreamer, info.Role)

	stream, err := store.HostedStream(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StreamID("stream-1"), stream)

	isHost, err := store.IsHost(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, isHost)

	// A fresh host starts joined.
	joined, err := store.IsJoined(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, joined)
}

func TestHostIDWithoutHost(t *testing.T) {
	store := newTestHostStore(t)

	_, err := store.HostID(context.Background(), "stream-1")
	assert.ErrorIs(t, err, domain.ErrNoHost)
}

func TestPromotionRemovesCandidateMembership(t *testing.T) {
	store := newTestHostStore(t)
	ctx := context.Background()

	candidate := host("user-2", "stream-1")
	require.NoError(t, store.AddPossibleHost(ctx, candidate))
	require.NoError(t, store.SetStreamHost(ctx, candidate))

	// The installed host must not be drawn again as its own replacement.
	_, err := store.RandomPossibleHost(ctx, "stream-1")
	assert.ErrorIs(t, err, domain.ErrReassignmentExhausted)
}

func TestJoinStatusRoundTrip(t *testing.T) {
	store := newTestHostStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetStreamHost(ctx, host("user-1", "stream-1")))

	require.NoError(t, store.SetJoinStatus(ctx, "user-1", false))
	joined, err := store.IsJoined(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, joined)

	require.NoError(t, store.SetJoinStatus(ctx, "user-1", true))
	joined, err = store.IsJoined(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, joined)
}

func TestRandomPossibleHost(t *testing.T) {
	store := newTestHostStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddPossibleHost(ctx, host("user-2", "stream-1")))

	candidate, err := store.RandomPossibleHost(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-2"), candidate.ID)

	require.NoError(t, store.DelPossibleHost(ctx, "user-2", "stream-1"))
	_, err = store.RandomPossibleHost(ctx, "stream-1")
	assert.ErrorIs(t, err, domain.ErrReassignmentExhausted)
}

func TestDelByStream(t *testing.T) {
	store := newTestHostStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetStreamHost(ctx, host("user-1", "stream-1")))
	require.NoError(t, store.DelByStream(ctx, "stream-1"))

	_, err := store.HostID(ctx, "stream-1")
	assert.ErrorIs(t, err, domain.ErrNoHost)
	_, err = store.HostInfo(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrNoHost)
	_, err = store.HostedStream(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrNoHost)

	// A stream without a host is a no-op.
	require.NoError(t, store.DelByStream(ctx, "stream-1"))
}
