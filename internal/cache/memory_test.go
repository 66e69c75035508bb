package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/clock"
)

func TestMemoryStore_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clk, -1)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clk.Advance(time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "entries expire lazily at read")

	require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))
	clk.Advance(24 * time.Hour)
	ok, err := s.Exists(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_TakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil, -1)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "state", []byte("payload"), time.Minute))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "state"); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestMemoryStore_SetNX(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(0, 0))
	s := NewMemoryStore(clk, -1)
	defer s.Close()

	ok, err := s.SetNX(ctx, "k", []byte("a"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", []byte("b"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(time.Second)
	ok, err = s.SetNX(ctx, "k", []byte("c"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired entries do not block SetNX")
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(0, 0))
	s := NewMemoryStore(clk, -1)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", nil, time.Second))
	require.NoError(t, s.Set(ctx, "b", nil, time.Hour))
	clk.Advance(2 * time.Second)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil, -1)
	defer s.Close()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore(nil, time.Millisecond)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
