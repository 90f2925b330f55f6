package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/domain/oauth"
	"github.com/smallbiznis/railzway-broker/internal/repository"
)

const statePrefix = "oauth:state:"

// Manager issues and consumes one-time OAuth CSRF states against the shared
// ephemeral store.
type Manager struct {
	store  repository.OAuthStateStore
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewManager constructs a state manager. maxAge bounds both the physical TTL
// and the logical validity window.
func NewManager(store repository.OAuthStateStore, maxAge time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.L()
	}
	return &Manager{store: store, maxAge: maxAge, logger: logger, now: time.Now}
}

// Generate creates a high-entropy state, persists its payload with TTL, and
// returns the state value for the authorize redirect.
func (m *Manager) Generate(ctx context.Context, requestID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	payload := oauth.State{
		State:     value,
		Timestamp: m.now().UTC(),
		RequestID: requestID,
	}
	if err := m.store.SaveState(ctx, buildStateKey(value), payload, m.maxAge); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	return value, nil
}

// Validate consumes the state exactly once. It returns nil for unknown,
// already-consumed, or over-age states; callers map nil to a user-facing
// session-expired error, never to a silent retry. The stored timestamp is
// re-checked against maxAge even when the store has not evicted the key yet,
// guarding against clock skew between insertion and read.
func (m *Manager) Validate(ctx context.Context, state string) (*oauth.State, error) {
	trimmed := strings.TrimSpace(state)
	if trimmed == "" {
		return nil, nil
	}

	payload, err := m.store.ConsumeState(ctx, buildStateKey(trimmed))
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if payload == nil {
		return nil, nil
	}

	if age := m.now().Sub(payload.Timestamp); age > m.maxAge {
		m.logger.Warn("oauth state over max age",
			zap.Duration("age", age),
			zap.String("request_id", payload.RequestID),
		)
		return nil, nil
	}
	return payload, nil
}

func buildStateKey(state string) string {
	return statePrefix + state
}
