package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"switchboard/internal/cache"
	"switchboard/internal/clock"
	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"
)

// StateTTL is how long an authorization request stays valid, read or not.
const StateTTL = 10 * time.Minute

const stateKeyPrefix = "oauth_state:"

// StateStore keeps one-time authorization state in the shared cache.
type StateStore struct {
	store cache.Store
	clock clock.Clock
	ttl   time.Duration
}

// NewStateStore creates a state store on top of store.
func NewStateStore(store cache.Store, clk clock.Clock) *StateStore {
	return &StateStore{
		store: store,
		clock: clock.OrReal(clk),
		ttl:   StateTTL,
	}
}

// StoreState records a new authorization request and returns its nonce.
func (s *StateStore) StoreState(ctx context.Context, pluginID, orgID, userID, codeVerifier string) (string, error) {
	nonce, err := pkgoauth.GenerateState()
	if err != nil {
		return "", err
	}

	state := State{
		Nonce:          nonce,
		PluginID:       pluginID,
		OrganizationID: orgID,
		UserID:         userID,
		CodeVerifier:   codeVerifier,
		CreatedAt:      s.clock.Now(),
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	if err := s.store.Set(ctx, stateKeyPrefix+nonce, payload, s.ttl); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}

	logging.Debug("OAuth", "Stored authorization state nonce=%s plugin=%s org=%s",
		logging.TruncateID(nonce), pluginID, orgID)
	return nonce, nil
}

// RetrieveState consumes the state for nonce. It returns nil, nil when the
// nonce is unknown, expired or was already used.
func (s *StateStore) RetrieveState(ctx context.Context, nonce string) (*State, error) {
	if nonce == "" {
		return nil, nil
	}
	payload, err := s.store.Take(ctx, stateKeyPrefix+nonce)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		logging.Warn("OAuth", "Discarding undecodable state nonce=%s: %v", logging.TruncateID(nonce), err)
		return nil, nil
	}
	if s.clock.Now().Sub(state.CreatedAt) >= s.ttl {
		return nil, nil
	}
	return &state, nil
}

// StateExists reports whether nonce refers to a live state without consuming it.
func (s *StateStore) StateExists(ctx context.Context, nonce string) (bool, error) {
	return s.store.Exists(ctx, stateKeyPrefix+nonce)
}

// DeleteState discards a state.
func (s *StateStore) DeleteState(ctx context.Context, nonce string) error {
	return s.store.Delete(ctx, stateKeyPrefix+nonce)
}
