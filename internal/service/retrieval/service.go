package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/adapter/github"
	"github.com/smallbiznis/railzway-broker/internal/crypto"
	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/repository"
	"github.com/smallbiznis/railzway-broker/internal/service/registry"
)

// ActionGitHubToken is the audit action recorded for every retrieval attempt.
const ActionGitHubToken = "github_token_retrieval"

// FailureCode is the closed set of retrieval outcomes the transport layer maps
// to status codes. Callers branch on the code, never on message text.
type FailureCode int

const (
	MissingUserIdentifier FailureCode = iota
	UserNotFound
	UserNotWhitelisted
	TokenNotAvailable
	TokenRefreshFailed
)

// Message renders the human-readable form recorded in audit rows.
func (c FailureCode) Message() string {
	switch c {
	case MissingUserIdentifier:
		return "User identifier is required"
	case UserNotFound:
		return "User not found"
	case UserNotWhitelisted:
		return "User is not whitelisted"
	case TokenNotAvailable:
		return "No GitHub token available"
	case TokenRefreshFailed:
		return "GitHub token refresh failed"
	default:
		return ""
	}
}

// Error is a retrieval failure carrying its code.
type Error struct {
	Code FailureCode
}

func (e *Error) Error() string {
	switch e.Code {
	case MissingUserIdentifier:
		return "retrieval: missing user identifier"
	case UserNotFound:
		return "retrieval: user not found"
	case UserNotWhitelisted:
		return "retrieval: user not whitelisted"
	case TokenNotAvailable:
		return "retrieval: no github token on file"
	case TokenRefreshFailed:
		return "retrieval: github token expired and refresh failed"
	default:
		return "retrieval: failed"
	}
}

// Result is a successful retrieval: the decrypted GitHub access token plus the
// user identity the caller may cache.
type Result struct {
	AccessToken   string
	ExpiresAt     *time.Time
	UserID        string
	GitHubUserID  int64
	IsWhitelisted bool
}

// Service orchestrates GitHub token retrieval for authenticated services. It
// refreshes tokens nearing expiry before handing them out, so callers never
// need to understand GitHub's refresh protocol.
type Service struct {
	users     repository.UserRepository
	github    github.Client
	cipher    *crypto.TokenCipher
	registry  *registry.Service
	threshold time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the retrieval service. threshold is how close to expiry a
// stored token may get before a proactive refresh is attempted.
func NewService(users repository.UserRepository, gh github.Client, cipher *crypto.TokenCipher, reg *registry.Service, threshold time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		users:     users,
		github:    gh,
		cipher:    cipher,
		registry:  reg,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// errRefreshUpstream marks a provider-side refresh failure inside the token
// update transaction so Retrieve can tell it apart from storage errors.
var errRefreshUpstream = errors.New("retrieval: upstream refresh failed")

// Query identifies the user whose token is requested, by broker user ID or
// GitHub user ID.
type Query struct {
	UserID       string
	GitHubUserID int64
}

// Retrieve returns the user's GitHub access token for an already-authenticated
// service. Exactly one audit row is written per call, success or failure.
func (s *Service) Retrieve(ctx context.Context, svc domain.ServiceRegistryEntry, query Query, meta registry.AccessLogOptions) (*Result, error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" && query.GitHubUserID == 0 {
		s.audit(ctx, svc, "unknown", false, MissingUserIdentifier, meta)
		return nil, &Error{Code: MissingUserIdentifier}
	}

	var (
		user domain.User
		err  error
	)
	if userID != "" {
		user, err = s.users.GetByID(ctx, userID)
	} else {
		userID = fmt.Sprintf("github:%d", query.GitHubUserID)
		user, err = s.users.GetByGitHubID(ctx, query.GitHubUserID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.audit(ctx, svc, userID, false, UserNotFound, meta)
			return nil, &Error{Code: UserNotFound}
		}
		s.auditInternal(ctx, svc, userID, meta)
		return nil, fmt.Errorf("load user: %w", err)
	}
	userID = user.ID

	if !user.IsWhitelisted {
		s.audit(ctx, svc, userID, false, UserNotWhitelisted, meta)
		return nil, &Error{Code: UserNotWhitelisted}
	}
	if user.EncryptedAccessToken == "" {
		s.audit(ctx, svc, userID, false, TokenNotAvailable, meta)
		return nil, &Error{Code: TokenNotAvailable}
	}

	now := s.now().UTC()
	if github.ExpiringSoon(user.TokenExpiresAt, s.threshold, now) && user.EncryptedRefreshToken != nil {
		refreshed, err := s.refreshStoredToken(ctx, user.ID)
		switch {
		case err == nil:
			user = refreshed
		case errors.Is(err, errRefreshUpstream):
			// A token that still has life left is served as-is; only a token
			// that is already dead turns the upstream failure into an error.
			if user.TokenExpiresAt != nil && !user.TokenExpiresAt.After(now) {
				s.audit(ctx, svc, userID, false, TokenRefreshFailed, meta)
				return nil, &Error{Code: TokenRefreshFailed}
			}
			s.logger.Warn("serving unrefreshed github token after refresh failure",
				zap.String("user_id", user.ID),
			)
		default:
			s.auditInternal(ctx, svc, userID, meta)
			return nil, fmt.Errorf("refresh github token: %w", err)
		}
	}

	plaintext, err := s.cipher.DecryptString(user.EncryptedAccessToken)
	if err != nil {
		s.auditInternal(ctx, svc, userID, meta)
		return nil, fmt.Errorf("decrypt github token: %w", err)
	}

	s.audit(ctx, svc, userID, true, 0, meta)
	return &Result{
		AccessToken:   plaintext,
		ExpiresAt:     user.TokenExpiresAt,
		UserID:        user.ID,
		GitHubUserID:  user.GitHubUserID,
		IsWhitelisted: user.IsWhitelisted,
	}, nil
}

// refreshStoredToken exchanges the stored refresh token for a new pair inside
// the row-locked update transaction. The expiry check is repeated against the
// locked row so that of two concurrent callers only one talks to GitHub; the
// loser sees the fresh row and writes nothing.
func (s *Service) refreshStoredToken(ctx context.Context, userID string) (domain.User, error) {
	return s.users.UpdateGitHubTokens(ctx, userID, func(ctx context.Context, current domain.User) (*domain.GitHubTokenUpdate, error) {
		now := s.now().UTC()
		if !github.ExpiringSoon(current.TokenExpiresAt, s.threshold, now) {
			return nil, nil
		}
		if current.EncryptedRefreshToken == nil {
			return nil, nil
		}

		refreshToken, err := s.cipher.DecryptString(*current.EncryptedRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}

		fresh, err := s.github.RefreshAccessToken(ctx, refreshToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errRefreshUpstream, err)
		}

		encryptedAccess, err := s.cipher.EncryptString(fresh.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt access token: %w", err)
		}
		update := domain.GitHubTokenUpdate{
			EncryptedAccessToken: encryptedAccess,
			TokenExpiresAt:       github.TokenExpiration(now, fresh.ExpiresIn),
		}
		if fresh.RefreshToken != "" {
			encryptedRefresh, err := s.cipher.EncryptString(fresh.RefreshToken)
			if err != nil {
				return nil, fmt.Errorf("encrypt refresh token: %w", err)
			}
			update.EncryptedRefreshToken = &encryptedRefresh
		} else {
			update.EncryptedRefreshToken = current.EncryptedRefreshToken
		}

		s.logger.Info("github token refreshed", zap.String("user_id", current.ID))
		return &update, nil
	})
}

func (s *Service) audit(ctx context.Context, svc domain.ServiceRegistryEntry, userID string, success bool, code FailureCode, meta registry.AccessLogOptions) {
	if !success {
		meta.ErrorMessage = code.Message()
	}
	s.registry.LogAccess(ctx, svc.ID, userID, ActionGitHubToken, success, meta)
}

// auditInternal records an unexpected failure without leaking driver or cipher
// error text into the audit trail.
func (s *Service) auditInternal(ctx context.Context, svc domain.ServiceRegistryEntry, userID string, meta registry.AccessLogOptions) {
	meta.ErrorMessage = "Internal error"
	s.registry.LogAccess(ctx, svc.ID, userID, ActionGitHubToken, false, meta)
}
