package agentmem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, size, ttlSec int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, size, ttlSec), mr
}

func TestRememberAndRecent(t *testing.T) {
	store, _ := setupStore(t, 2, 3600)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "Agent1", "first opinion"))
	require.NoError(t, store.Remember(ctx, "Agent1", "second opinion"))

	got, err := store.Recent(ctx, "Agent1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first opinion", "second opinion"}, got)
}

func TestRemember_TrimsToSize(t *testing.T) {
	store, _ := setupStore(t, 2, 3600)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Remember(ctx, "Agent1", fmt.Sprintf("utterance %d", i)))
	}

	got, err := store.Recent(ctx, "Agent1")
	require.NoError(t, err)
	assert.Equal(t, []string{"utterance 3", "utterance 4"}, got)
}

func TestRemember_IsolatedPerAgent(t *testing.T) {
	store, _ := setupStore(t, 2, 3600)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "Agent1", "mine"))
	require.NoError(t, store.Remember(ctx, "Agent2", "theirs"))

	got, err := store.Recent(ctx, "Agent1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, got)
}

func TestRecent_EmptyIsEmpty(t *testing.T) {
	store, _ := setupStore(t, 2, 3600)
	got, err := store.Recent(context.Background(), "Agent1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTTL_Expires(t *testing.T) {
	store, mr := setupStore(t, 2, 60)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "Agent1", "fleeting"))
	mr.FastForward(61 * time.Second)

	got, err := store.Recent(ctx, "Agent1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestForget(t *testing.T) {
	store, _ := setupStore(t, 2, 3600)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "Agent1", "gone soon"))
	require.NoError(t, store.Forget(ctx, "Agent1"))

	got, err := store.Recent(ctx, "Agent1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
