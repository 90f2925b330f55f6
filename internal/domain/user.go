package domain

import "time"

// User represents a GitHub identity known to the broker. Rows are upserted on
// every successful OAuth callback keyed by GitHubUserID and never hard-deleted.
type User struct {
	ID                    string
	GitHubUserID          int64
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	TokenExpiresAt        *time.Time
	IsWhitelisted         bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// GitHubTokenUpdate carries the re-encrypted token material written back after
// a proactive refresh.
type GitHubTokenUpdate struct {
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	TokenExpiresAt        *time.Time
}
