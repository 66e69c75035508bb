package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"switchboard/internal/clock"
	"switchboard/pkg/logging"
	"switchboard/pkg/oauth"
)

const (
	// NonceTTL bounds how long an issued server nonce stays valid.
	NonceTTL = 30 * time.Minute

	// ReplayTokenTTL is how long a seen token id is remembered.
	ReplayTokenTTL = 10 * time.Minute

	// DefaultMaxSkew is the accepted distance between a token's issue time and now.
	DefaultMaxSkew = 5 * time.Minute

	noncePrefix  = "nonce:"
	replayPrefix = "replay:"
)

// ErrRejected is the only error reported to untrusted callers. The precise
// reason is written to the audit log.
var ErrRejected = errors.New("request rejected")

// ReplayGuard issues single-use nonces and remembers seen token ids.
type ReplayGuard struct {
	store   Store
	clock   clock.Clock
	maxSkew time.Duration
}

// NewReplayGuard creates a guard on top of store.
func NewReplayGuard(store Store, clk clock.Clock) *ReplayGuard {
	return &ReplayGuard{store: store, clock: clock.OrReal(clk), maxSkew: DefaultMaxSkew}
}

// IssueNonce creates a nonce valid for NonceTTL.
func (g *ReplayGuard) IssueNonce(ctx context.Context) (string, error) {
	nonce, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}
	if err := g.store.Set(ctx, noncePrefix+nonce, []byte{1}, NonceTTL); err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}
	return nonce, nil
}

// ConsumeNonce accepts a nonce exactly once. When the nonce is unknown,
// expired or already used, ErrRejected is returned together with a fresh
// nonce so a legitimate client can retry.
func (g *ReplayGuard) ConsumeNonce(ctx context.Context, nonce string) (string, error) {
	if nonce != "" {
		_, err := g.store.Take(ctx, noncePrefix+nonce)
		if err == nil {
			return "", nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("failed to check nonce: %w", err)
		}
	}

	logging.Audit(logging.AuditEvent{
		Action:  "nonce_check",
		Outcome: "rejected",
		Reason:  "nonce missing, expired or reused: " + logging.TruncateID(nonce),
	})
	fresh, err := g.IssueNonce(ctx)
	if err != nil {
		return "", err
	}
	return fresh, ErrRejected
}

// CheckReplay records id as seen. A second call with the same id within
// ReplayTokenTTL, or an issuedAt outside the skew window, is rejected.
// A zero issuedAt skips the window check.
func (g *ReplayGuard) CheckReplay(ctx context.Context, id string, issuedAt time.Time) error {
	if id == "" {
		g.reject("empty token id")
		return ErrRejected
	}
	if !issuedAt.IsZero() {
		now := g.clock.Now()
		if issuedAt.Before(now.Add(-g.maxSkew)) || issuedAt.After(now.Add(g.maxSkew)) {
			g.reject(fmt.Sprintf("issued-at %s outside window", issuedAt.UTC().Format(time.RFC3339)))
			return ErrRejected
		}
	}

	fresh, err := g.store.SetNX(ctx, replayPrefix+id, []byte{1}, ReplayTokenTTL)
	if err != nil {
		return fmt.Errorf("failed to record token id: %w", err)
	}
	if !fresh {
		g.reject("token id reused: " + logging.TruncateID(id))
		return ErrRejected
	}
	return nil
}

func (g *ReplayGuard) reject(reason string) {
	logging.Audit(logging.AuditEvent{
		Action:  "replay_check",
		Outcome: "rejected",
		Reason:  reason,
	})
}
