package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/jwt"
	"github.com/smallbiznis/railzway-broker/internal/repository"
)

// ErrUnverifiableToken is returned when revocation is asked for a token whose
// signature or structure cannot be verified at all.
var ErrUnverifiableToken = errors.New("revocation: token cannot be verified")

// Service maintains the jti revocation ledger.
type Service struct {
	revoked repository.RevokedTokenRepository
	users   repository.UserRepository
	signer  *jwt.Signer
	logger  *zap.Logger
}

// NewService wires the revocation service.
func NewService(revoked repository.RevokedTokenRepository, users repository.UserRepository, signer *jwt.Signer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{revoked: revoked, users: users, signer: signer, logger: logger}
}

// RevokeToken records the token's jti in the ledger. The token must carry a
// valid signature; an already-expired token is still revocable so its jti
// stays dead until retention cleanup. Re-revoking an existing jti succeeds
// without a duplicate write.
func (s *Service) RevokeToken(ctx context.Context, token string, revokedBy, reason *string) (string, error) {
	verification, err := s.signer.Verify(token)
	if err != nil && !errors.Is(err, jwt.ErrExpired) {
		return "", ErrUnverifiableToken
	}
	if verification.JTI == "" {
		return "", ErrUnverifiableToken
	}

	entry := domain.RevokedToken{
		JTI:            verification.JTI,
		UserID:         verification.UserID,
		TokenIssuedAt:  verification.IssuedAt,
		TokenExpiresAt: verification.ExpiresAt,
		RevokedAt:      time.Now().UTC(),
		RevokedBy:      revokedBy,
		Reason:         reason,
	}
	if err := s.revoked.Insert(ctx, entry); err != nil {
		return "", fmt.Errorf("record revocation: %w", err)
	}

	s.logger.Info("token revoked",
		zap.String("jti", verification.JTI),
		zap.String("user_id", verification.UserID),
	)
	return verification.JTI, nil
}

// RevokeAllUserTokens kills every session for the user by flipping the
// whitelist flag off. Individual jtis are not enumerated; every verification,
// refresh, and retrieval path re-checks the flag.
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID string, revokedBy, reason *string) error {
	if err := s.users.SetWhitelisted(ctx, userID, false); err != nil {
		return fmt.Errorf("clear whitelist: %w", err)
	}
	fields := []zap.Field{zap.String("user_id", userID)}
	if revokedBy != nil {
		fields = append(fields, zap.String("revoked_by", *revokedBy))
	}
	if reason != nil {
		fields = append(fields, zap.String("reason", *reason))
	}
	s.logger.Info("all user tokens revoked via whitelist", fields...)
	return nil
}

// IsTokenRevoked answers whether a jti appears in the ledger.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revoked.Exists(ctx, jti)
}

// Status returns the ledger row for a jti, or nil when not revoked.
func (s *Service) Status(ctx context.Context, jti string) (*domain.RevokedToken, error) {
	record, err := s.revoked.Get(ctx, jti)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("revocation status: %w", err)
	}
	return &record, nil
}

// CleanupResult reports the outcome of a retention pass.
type CleanupResult struct {
	Affected int64
	DryRun   bool
}

// CleanupExpired removes ledger rows whose original token has been expired
// longer than retentionDays. A row is only ever eligible once the token it
// names could no longer verify anyway, so revocation answers stay correct for
// any token still inside its lifetime. Dry-run counts without deleting.
func (s *Service) CleanupExpired(ctx context.Context, retentionDays int, dryRun bool) (CleanupResult, error) {
	if retentionDays < 0 {
		return CleanupResult{}, fmt.Errorf("retention days must not be negative")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	if dryRun {
		count, err := s.revoked.CountExpiredBefore(ctx, cutoff)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("count cleanup candidates: %w", err)
		}
		return CleanupResult{Affected: count, DryRun: true}, nil
	}

	deleted, err := s.revoked.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup revoked tokens: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("revocation ledger cleanup",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return CleanupResult{Affected: deleted}, nil
}
