package token

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

// RefreshErrorKind is the closed set of reasons a refresh can fail. Callers
// branch on the kind, never on error message text.
type RefreshErrorKind int

const (
	RefreshExpired RefreshErrorKind = iota
	RefreshInvalid
	RefreshRevoked
	RefreshUserNotFound
	RefreshWhitelistRevoked
)

// RefreshError wraps a refresh failure with its kind.
type RefreshError struct {
	Kind RefreshErrorKind
}

func (e *RefreshError) Error() string {
	switch e.Kind {
	case RefreshExpired:
		return "token: refresh rejected: token expired"
	case RefreshRevoked:
		return "token: refresh rejected: token revoked"
	case RefreshUserNotFound:
		return "token: refresh rejected: user not found"
	case RefreshWhitelistRevoked:
		return "token: refresh rejected: whitelist revoked"
	default:
		return "token: refresh rejected: token invalid"
	}
}

// IssuedToken is a freshly minted session token.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresIn int64
	ExpiresAt time.Time
}

// Service issues and refreshes broker session JWTs.
type Service struct {
	users   repository.UserRepository
	revoked repository.RevokedTokenRepository
	signer  *jwt.Signer
	logger  *zap.Logger
}

// NewService wires the token service.
func NewService(users repository.UserRepository, revoked repository.RevokedTokenRepository, signer *jwt.Signer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{users: users, revoked: revoked, signer: signer, logger: logger}
}

// Generate loads the user and mints a token carrying the whitelist status as
// it stands right now, never a cached snapshot.
func (s *Service) Generate(ctx context.Context, userID string) (*IssuedToken, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.mint(user)
}

// GenerateForUser mints a token for an already-loaded user row.
func (s *Service) GenerateForUser(user domain.User) (*IssuedToken, error) {
	return s.mint(user)
}

func (s *Service) mint(user domain.User) (*IssuedToken, error) {
	signed, err := s.signer.Sign(user.ID, user.GitHubUserID, user.IsWhitelisted)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}
	return &IssuedToken{
		Token:     signed.Token,
		JTI:       signed.JTI,
		ExpiresIn: int64(s.signer.Expiry().Seconds()),
		ExpiresAt: signed.ExpiresAt,
	}, nil
}

// Refresh verifies the presented token, checks its jti against the revocation
// ledger, re-reads the user, and mints a brand-new token. The old token's
// lifetime is never extended; a refresh always produces a new jti.
func (s *Service) Refresh(ctx context.Context, oldToken string) (*IssuedToken, error) {
	verification, err := s.signer.Verify(oldToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, &RefreshError{Kind: RefreshExpired}
		}
		return nil, &RefreshError{Kind: RefreshInvalid}
	}

	revoked, err := s.revoked.Exists(ctx, verification.JTI)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, &RefreshError{Kind: RefreshRevoked}
	}

	user, err := s.users.GetByID(ctx, verification.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, &RefreshError{Kind: RefreshUserNotFound}
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsWhitelisted {
		s.logger.Warn("jwt refresh rejected for de-whitelisted user", zap.String("user_id", user.ID))
		return nil, &RefreshError{Kind: RefreshWhitelistRevoked}
	}

	return s.mint(user)
}

// Verify exposes token verification to transport-layer callers.
func (s *Service) Verify(token string) (*jwt.Verification, error) {
	return s.signer.Verify(token)
}
