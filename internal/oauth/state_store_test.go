package oauth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/cache"
	"switchboard/internal/clock"
)

func TestStateStore_SingleUse(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := cache.NewMemoryStore(clk, -1)
	defer store.Close()
	ss := NewStateStore(store, clk)

	nonce, err := ss.StoreState(ctx, "notion", "org-1", "user-1", "verifier")
	require.NoError(t, err)
	assert.Len(t, nonce, 43)

	exists, err := ss.StateExists(ctx, nonce)
	require.NoError(t, err)
	assert.True(t, exists)

	state, err := ss.RetrieveState(ctx, nonce)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "notion", state.PluginID)
	assert.Equal(t, "org-1", state.OrganizationID)
	assert.Equal(t, "user-1", state.UserID)
	assert.Equal(t, "verifier", state.CodeVerifier)

	again, err := ss.RetrieveState(ctx, nonce)
	require.NoError(t, err)
	assert.Nil(t, again, "second retrieval must return nil")
}

func TestStateStore_Expiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := cache.NewMemoryStore(clk, -1)
	defer store.Close()
	ss := NewStateStore(store, clk)

	nonce, err := ss.StoreState(ctx, "notion", "org-1", "", "")
	require.NoError(t, err)

	clk.Advance(StateTTL)

	state, err := ss.RetrieveState(ctx, nonce)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStateStore_UnknownAndEmpty(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(nil, -1)
	defer store.Close()
	ss := NewStateStore(store, nil)

	state, err := ss.RetrieveState(ctx, "never-issued")
	assert.NoError(t, err)
	assert.Nil(t, state)

	state, err = ss.RetrieveState(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, state)
}

func TestStateStore_DeleteState(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(nil, -1)
	defer store.Close()
	ss := NewStateStore(store, nil)

	nonce, err := ss.StoreState(ctx, "notion", "org-1", "", "")
	require.NoError(t, err)
	require.NoError(t, ss.DeleteState(ctx, nonce))

	exists, err := ss.StateExists(ctx, nonce)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStateStore_ConcurrentRetrieveHasOneWinner(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ss := NewStateStore(cache.NewRedisStore(client, "test:"), nil)

	nonce, err := ss.StoreState(ctx, "notion", "org-1", "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, StateTTL, mr.TTL("test:oauth_state:"+nonce))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := ss.RetrieveState(ctx, nonce)
			assert.NoError(t, err)
			if state != nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
