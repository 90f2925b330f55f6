package domain

import "time"

// RevokedToken is a ledger row recording that a jti must never verify again.
// Rows become eligible for retention cleanup only after the original token
// would have expired on its own.
type RevokedToken struct {
	JTI            string
	UserID         string
	TokenIssuedAt  time.Time
	TokenExpiresAt time.Time
	RevokedAt      time.Time
	RevokedBy      *string
	Reason         *string
}

// KeyRotationRecord tracks when a key was last rotated and when the next
// rotation is due. NextRotationDue is nil when no rotation policy applies.
type KeyRotationRecord struct {
	KeyIdentifier        string
	KeyType              string
	LastRotatedAt        time.Time
	NextRotationDue      *time.Time
	IsActive             bool
	RotationIntervalDays *int
	Metadata             map[string]string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
