package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/adapter/github"
	"github.com/smallbiznis/railzway-broker/internal/crypto"
	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/domain/oauth"
	"github.com/smallbiznis/railzway-broker/internal/repository"
	"github.com/smallbiznis/railzway-broker/internal/service/state"
	"github.com/smallbiznis/railzway-broker/internal/service/token"
)

// OAuthService drives the GitHub authorization-code flow end to end: state
// issuance, callback validation, token sealing, and session minting.
type OAuthService struct {
	states *state.Manager
	github github.Client
	users  repository.UserRepository
	cipher *crypto.TokenCipher
	tokens *token.Service
	logger *zap.Logger
	now    func() time.Time
}

// NewOAuthService wires the OAuth flow service.
func NewOAuthService(states *state.Manager, gh github.Client, users repository.UserRepository, cipher *crypto.TokenCipher, tokens *token.Service, logger *zap.Logger) *OAuthService {
	if logger == nil {
		logger = zap.L()
	}
	return &OAuthService{
		states: states,
		github: gh,
		users:  users,
		cipher: cipher,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Start issues a one-time CSRF state and returns the provider authorize URL
// the caller should redirect to.
func (s *OAuthService) Start(ctx context.Context, requestID string) (string, error) {
	value, err := s.states.Generate(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("issue oauth state: %w", err)
	}
	return s.github.AuthorizeURL(value), nil
}

// CallbackResult is the outcome of a completed authorization flow. Session is
// nil when the user is not whitelisted: the login itself succeeded and the
// GitHub tokens are stored, but no broker session is minted.
type CallbackResult struct {
	User    domain.User
	Session *token.IssuedToken
	Profile github.User
}

// HandleCallback validates the state exactly once, exchanges the code,
// persists the user with sealed tokens, and mints a session JWT for
// whitelisted users. A reused, unknown, or over-age state fails with
// ErrInvalidState and is never retried.
func (s *OAuthService) HandleCallback(ctx context.Context, code, stateValue string) (*CallbackResult, error) {
	payload, err := s.states.Validate(ctx, stateValue)
	if err != nil {
		return nil, fmt.Errorf("validate oauth state: %w", err)
	}
	if payload == nil {
		return nil, oauth.ErrInvalidState
	}
	if strings.TrimSpace(code) == "" {
		return nil, oauth.ErrInvalidRequest
	}

	exchanged, err := s.github.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	profile, err := s.github.FetchUser(ctx, exchanged.AccessToken)
	if err != nil {
		s.logger.Warn("github profile fetch failed after exchange", zap.Error(err))
		return nil, oauth.ErrExchangeFailed
	}

	encryptedAccess, err := s.cipher.EncryptString(exchanged.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	var encryptedRefresh *string
	if exchanged.RefreshToken != "" {
		sealed, err := s.cipher.EncryptString(exchanged.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
		encryptedRefresh = &sealed
	}

	user, err := s.users.Upsert(ctx, domain.User{
		ID:                    uuid.New().String(),
		GitHubUserID:          profile.ID,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		TokenExpiresAt:        github.TokenExpiration(s.now().UTC(), exchanged.ExpiresIn),
	})
	if err != nil {
		return nil, fmt.Errorf("persist user: %w", err)
	}

	result := &CallbackResult{User: user, Profile: *profile}
	if user.IsWhitelisted {
		session, err := s.tokens.GenerateForUser(user)
		if err != nil {
			return nil, fmt.Errorf("mint session: %w", err)
		}
		result.Session = session
	} else {
		s.logger.Info("login completed for non-whitelisted user",
			zap.String("user_id", user.ID),
			zap.Int64("github_user_id", user.GitHubUserID),
		)
	}

	s.logger.Info("oauth callback completed",
		zap.String("user_id", user.ID),
		zap.String("request_id", payload.RequestID),
		zap.Bool("whitelisted", user.IsWhitelisted),
	)
	return result, nil
}
