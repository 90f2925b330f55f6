package domain

import "time"

// ServiceRegistryEntry is a trusted downstream service allowed to call the
// token retrieval API. Only the argon2id hash of its API key is persisted.
type ServiceRegistryEntry struct {
	ID                  int64
	ServiceIdentifier   string
	HashedAPIKey        string
	AllowedScopes       []string
	IsActive            bool
	Description         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastUsedAt          *time.Time
	LastAPIKeyRotatedAt *time.Time
}

// ServiceAuditLogEntry is an append-only record of a token retrieval attempt.
// It never contains credentials or token material.
type ServiceAuditLogEntry struct {
	ID           int64
	ServiceID    int64
	UserID       string
	Action       string
	Success      bool
	ErrorMessage *string
	IPAddress    *string
	UserAgent    *string
	Timestamp    time.Time
}
