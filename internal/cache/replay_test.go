package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/clock"
)

func TestReplayGuard_NonceSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil, -1)
	defer s.Close()
	g := NewReplayGuard(s, nil)

	nonce, err := g.IssueNonce(ctx)
	require.NoError(t, err)

	fresh, err := g.ConsumeNonce(ctx, nonce)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	fresh, err = g.ConsumeNonce(ctx, nonce)
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotEmpty(t, fresh, "a rejected client receives a fresh nonce")
	assert.NotEqual(t, nonce, fresh)

	_, err = g.ConsumeNonce(ctx, fresh)
	assert.NoError(t, err, "the fresh nonce is usable")
}

func TestReplayGuard_NonceExpires(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	s := NewMemoryStore(clk, -1)
	defer s.Close()
	g := NewReplayGuard(s, clk)

	nonce, err := g.IssueNonce(ctx)
	require.NoError(t, err)

	clk.Advance(NonceTTL)
	_, err = g.ConsumeNonce(ctx, nonce)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestReplayGuard_CheckReplay(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	s := NewMemoryStore(clk, -1)
	defer s.Close()
	g := NewReplayGuard(s, clk)

	now := clk.Now()
	require.NoError(t, g.CheckReplay(ctx, "jti-1", now))
	assert.ErrorIs(t, g.CheckReplay(ctx, "jti-1", now), ErrRejected)

	assert.ErrorIs(t, g.CheckReplay(ctx, "jti-2", now.Add(-10*time.Minute)), ErrRejected)
	assert.ErrorIs(t, g.CheckReplay(ctx, "jti-3", now.Add(10*time.Minute)), ErrRejected)
	assert.ErrorIs(t, g.CheckReplay(ctx, "", now), ErrRejected)
	assert.NoError(t, g.CheckReplay(ctx, "jti-4", time.Time{}))

	clk.Advance(ReplayTokenTTL)
	assert.NoError(t, g.CheckReplay(ctx, "jti-1", time.Time{}), "ids are forgotten after the TTL")
}
