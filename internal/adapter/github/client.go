package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	domainoauth "github.com/smallbiznis/railzway-broker/internal/domain/oauth"
)

const (
	defaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	defaultTokenURL     = "https://github.com/login/oauth/access_token"
	defaultAPIBaseURL   = "https://api.github.com"
)

// Client encapsulates outbound HTTP calls to GitHub's OAuth and REST APIs.
type Client interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)
	FetchUser(ctx context.Context, accessToken string) (*User, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error)
}

// Token models the response from GitHub's token endpoint. RefreshToken and
// ExpiresIn are empty/zero for classic non-expiring tokens.
type Token struct {
	AccessToken           string
	RefreshToken          string
	TokenType             string
	Scope                 string
	ExpiresIn             int64
	RefreshTokenExpiresIn int64
}

// User is the subset of the GitHub user profile the broker keeps.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Config holds the OAuth app credentials and endpoint overrides for tests.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

// HTTPClient is the default implementation.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default GitHub client.
func NewHTTPClient(cfg Config, client *http.Client, logger *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if logger == nil {
		logger = zap.L()
	}
	return &HTTPClient{cfg: cfg, httpClient: client, logger: logger}
}

// AuthorizeURL builds the provider authorize URL for the given state.
func (c *HTTPClient) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("redirect_uri", c.cfg.CallbackURL)
	params.Set("state", state)
	if len(c.cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(c.cfg.Scopes, " "))
	}
	return c.cfg.AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode performs the code-for-token exchange. Provider errors are
// logged in full but callers only ever see ErrExchangeFailed.
func (c *HTTPClient) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", c.cfg.CallbackURL)

	token, err := c.postTokenEndpoint(ctx, data)
	if err != nil {
		c.logger.Warn("github code exchange failed", zap.Error(err))
		return nil, domainoauth.ErrExchangeFailed
	}
	return token, nil
}

// RefreshAccessToken exchanges a refresh token for a fresh token pair.
// Failures surface as ErrRefreshFailed so callers can fall back to an
// unexpired stored token.
func (c *HTTPClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	token, err := c.postTokenEndpoint(ctx, data)
	if err != nil {
		c.logger.Warn("github token refresh failed", zap.Error(err))
		return nil, domainoauth.ErrRefreshFailed
	}
	return token, nil
}

func (c *HTTPClient) postTokenEndpoint(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint: status=%d", resp.StatusCode)
	}

	var raw struct {
		AccessToken           string `json:"access_token"`
		RefreshToken          string `json:"refresh_token"`
		TokenType             string `json:"token_type"`
		Scope                 string `json:"scope"`
		ExpiresIn             int64  `json:"expires_in"`
		RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
		Error                 string `json:"error"`
		ErrorDescription      string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("token endpoint: %s (%s)", raw.Error, raw.ErrorDescription)
	}
	if strings.TrimSpace(raw.AccessToken) == "" {
		return nil, fmt.Errorf("token endpoint: missing access_token")
	}

	return &Token{
		AccessToken:           raw.AccessToken,
		RefreshToken:          raw.RefreshToken,
		TokenType:             raw.TokenType,
		Scope:                 raw.Scope,
		ExpiresIn:             raw.ExpiresIn,
		RefreshTokenExpiresIn: raw.RefreshTokenExpiresIn,
	}, nil
}

// FetchUser loads the authenticated user's profile.
func (c *HTTPClient) FetchUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read user response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("user endpoint: status=%d", resp.StatusCode)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("user endpoint: missing id")
	}
	return &user, nil
}

// TokenExpiration converts an expires_in value into an absolute timestamp.
// Zero or negative expires_in means a non-expiring token; callers store nil.
func TokenExpiration(now time.Time, expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := now.Add(time.Duration(expiresIn) * time.Second)
	return &t
}

// ExpiringSoon reports whether a stored expiry falls inside the threshold.
// A nil expiry never expires; a timestamp already in the past counts as
// expiring soon.
func ExpiringSoon(expiresAt *time.Time, threshold time.Duration, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !expiresAt.After(now.Add(threshold))
}
