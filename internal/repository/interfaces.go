package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/domain/oauth"
)

// OAuthStateStore persists one-time CSRF state in the shared ephemeral store.
// State must never live in process memory: the broker runs as multiple
// instances behind a load balancer with no affinity.
type OAuthStateStore interface {
	SaveState(ctx context.Context, key string, data oauth.State, ttl time.Duration) error
	// ConsumeState atomically reads and deletes the state so that two
	// concurrent callbacks presenting the same value see exactly one hit.
	// A miss returns (nil, nil).
	ConsumeState(ctx context.Context, key string) (*oauth.State, error)
}

// UserRepository exposes persistence for broker users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByGitHubID(ctx context.Context, githubUserID int64) (domain.User, error)
	// Upsert creates or updates the row keyed by GitHubUserID. IsWhitelisted
	// is preserved on update and defaults false on insert.
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	SetWhitelisted(ctx context.Context, id string, whitelisted bool) error
	// UpdateGitHubTokens runs fn inside a transaction that re-reads the user
	// row with a row lock, serializing concurrent proactive refreshes. fn may
	// return a nil update to signal that no write is needed (another caller
	// already refreshed).
	UpdateGitHubTokens(ctx context.Context, id string, fn func(ctx context.Context, current domain.User) (*domain.GitHubTokenUpdate, error)) (domain.User, error)
}

// RevokedTokenRepository is the jti revocation ledger.
type RevokedTokenRepository interface {
	// Insert is idempotent: re-inserting an existing jti is a no-op.
	Insert(ctx context.Context, token domain.RevokedToken) error
	Get(ctx context.Context, jti string) (domain.RevokedToken, error)
	Exists(ctx context.Context, jti string) (bool, error)
	CountExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ServiceRepository stores trusted downstream services.
type ServiceRepository interface {
	// Upsert creates or updates the row keyed by ServiceIdentifier.
	Upsert(ctx context.Context, entry domain.ServiceRegistryEntry) (domain.ServiceRegistryEntry, error)
	GetByIdentifier(ctx context.Context, identifier string) (domain.ServiceRegistryEntry, error)
	UpdateLastUsed(ctx context.Context, id int64, at time.Time) error
	// RotateAPIKey swaps the hash and rotation timestamp in one statement so
	// the old key is invalid the instant the new one is live.
	RotateAPIKey(ctx context.Context, identifier, hashedAPIKey string, at time.Time) error
}

// AuditLogRepository appends service access records.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.ServiceAuditLogEntry) error
}

// KeyRotationRepository stores rotation bookkeeping per key identifier.
type KeyRotationRepository interface {
	Upsert(ctx context.Context, record domain.KeyRotationRecord) (domain.KeyRotationRecord, error)
	Get(ctx context.Context, keyIdentifier string) (domain.KeyRotationRecord, error)
	ListActive(ctx context.Context) ([]domain.KeyRotationRecord, error)
}
