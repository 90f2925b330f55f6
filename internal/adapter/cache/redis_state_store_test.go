package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/railzway-broker/internal/domain/oauth"
)

func newTestStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateStore(client), mr
}

func TestRedisStateStore_SaveAndConsume(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saved := oauth.State{
		State:     "abc",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		RequestID: "req-1",
	}
	require.NoError(t, store.SaveState(ctx, "oauth:state:abc", saved, time.Minute))

	got, err := store.ConsumeState(ctx, "oauth:state:abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, saved.State, got.State)
	require.Equal(t, saved.RequestID, got.RequestID)
	require.True(t, saved.Timestamp.Equal(got.Timestamp))
}

func TestRedisStateStore_ConsumeIsExactlyOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveState(ctx, "oauth:state:abc", oauth.State{State: "abc"}, time.Minute))

	first, err := store.ConsumeState(ctx, "oauth:state:abc")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.ConsumeState(ctx, "oauth:state:abc")
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestRedisStateStore_MissIsNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.ConsumeState(context.Background(), "oauth:state:never")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisStateStore_TTLEviction(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveState(ctx, "oauth:state:abc", oauth.State{State: "abc"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	got, err := store.ConsumeState(ctx, "oauth:state:abc")
	require.NoError(t, err)
	require.Nil(t, got)
}
