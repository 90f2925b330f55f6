package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/adapter/github"
	"github.com/smallbiznis/railzway-broker/internal/crypto"
	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/domain/oauth"
	"github.com/smallbiznis/railzway-broker/internal/jwt"
	"github.com/smallbiznis/railzway-broker/internal/service/state"
	tokensvc "github.com/smallbiznis/railzway-broker/internal/service/token"
)

// ---- Test harness and fakes ----

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]oauth.State
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]oauth.State)}
}

func (s *memoryStateStore) SaveState(_ context.Context, key string, data oauth.State, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = data
	return nil
}

func (s *memoryStateStore) ConsumeState(_ context.Context, key string) (*oauth.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	delete(s.states, key)
	return &data, nil
}

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]domain.User)}
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *memoryUserRepo) GetByGitHubID(_ context.Context, githubUserID int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.GitHubUserID == githubUserID {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *memoryUserRepo) Upsert(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.users {
		if existing.GitHubUserID == user.GitHubUserID {
			existing.EncryptedAccessToken = user.EncryptedAccessToken
			existing.EncryptedRefreshToken = user.EncryptedRefreshToken
			existing.TokenExpiresAt = user.TokenExpiresAt
			r.users[id] = existing
			return existing, nil
		}
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memoryUserRepo) SetWhitelisted(_ context.Context, id string, whitelisted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.IsWhitelisted = whitelisted
	r.users[id] = user
	return nil
}

func (r *memoryUserRepo) UpdateGitHubTokens(ctx context.Context, id string, fn func(context.Context, domain.User) (*domain.GitHubTokenUpdate, error)) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	update, err := fn(ctx, user)
	if err != nil {
		return domain.User{}, err
	}
	if update != nil {
		user.EncryptedAccessToken = update.EncryptedAccessToken
		user.EncryptedRefreshToken = update.EncryptedRefreshToken
		user.TokenExpiresAt = update.TokenExpiresAt
		r.users[id] = user
	}
	return user, nil
}

type memoryRevokedRepo struct{}

func (memoryRevokedRepo) Insert(context.Context, domain.RevokedToken) error { return nil }
func (memoryRevokedRepo) Get(context.Context, string) (domain.RevokedToken, error) {
	return domain.RevokedToken{}, domain.ErrNotFound
}
func (memoryRevokedRepo) Exists(context.Context, string) (bool, error) { return false, nil }
func (memoryRevokedRepo) CountExpiredBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (memoryRevokedRepo) DeleteExpiredBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeGitHubClient struct {
	token    *github.Token
	user     *github.User
	exchErr  error
	fetchErr error
}

func (c *fakeGitHubClient) AuthorizeURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + state
}

func (c *fakeGitHubClient) ExchangeCode(context.Context, string) (*github.Token, error) {
	if c.exchErr != nil {
		return nil, c.exchErr
	}
	return c.token, nil
}

func (c *fakeGitHubClient) FetchUser(context.Context, string) (*github.User, error) {
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.user, nil
}

func (c *fakeGitHubClient) RefreshAccessToken(context.Context, string) (*github.Token, error) {
	return nil, oauth.ErrRefreshFailed
}

type oauthTestHarness struct {
	service *OAuthService
	states  *state.Manager
	github  *fakeGitHubClient
	users   *memoryUserRepo
	cipher  *crypto.TokenCipher
}

func newOAuthTestHarness(t *testing.T) *oauthTestHarness {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	signer, err := jwt.NewSigner(jwt.Options{
		PrivateKeyPEM: privatePEM,
		PublicKeyPEM:  publicPEM,
		KeyID:         "test-key",
		Issuer:        "railzway-broker",
		Audience:      "railzway",
		Expiry:        time.Hour,
	})
	require.NoError(t, err)

	encKey := make([]byte, 32)
	_, err = rand.Read(encKey)
	require.NoError(t, err)
	cipher, err := crypto.NewTokenCipher(encKey)
	require.NoError(t, err)

	users := newMemoryUserRepo()
	states := state.NewManager(newMemoryStateStore(), 10*time.Minute, zap.NewNop())
	gh := &fakeGitHubClient{}
	tokens := tokensvc.NewService(users, memoryRevokedRepo{}, signer, zap.NewNop())

	return &oauthTestHarness{
		service: NewOAuthService(states, gh, users, cipher, tokens, zap.NewNop()),
		states:  states,
		github:  gh,
		users:   users,
		cipher:  cipher,
	}
}

func TestOAuthService_Start(t *testing.T) {
	h := newOAuthTestHarness(t)

	authorizeURL, err := h.service.Start(context.Background(), "req-1")
	require.NoError(t, err)
	require.Contains(t, authorizeURL, "https://github.test/login/oauth/authorize?state=")
}

func TestOAuthService_HandleCallback_Whitelisted(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	// Pre-register a whitelisted user for this GitHub identity.
	_, err := h.users.Upsert(ctx, domain.User{ID: "user-1", GitHubUserID: 42})
	require.NoError(t, err)
	require.NoError(t, h.users.SetWhitelisted(ctx, "user-1", true))

	stateValue, err := h.states.Generate(ctx, "req-1")
	require.NoError(t, err)
	h.github.token = &github.Token{AccessToken: "gho_abc", RefreshToken: "ghr_def", ExpiresIn: 28800}
	h.github.user = &github.User{ID: 42, Login: "octocat"}

	result, err := h.service.HandleCallback(ctx, "the-code", stateValue)
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	require.NotEmpty(t, result.Session.Token)
	require.Equal(t, "octocat", result.Profile.Login)
	require.True(t, result.User.IsWhitelisted)

	// Stored tokens are sealed, never plaintext.
	stored, err := h.users.GetByGitHubID(ctx, 42)
	require.NoError(t, err)
	require.NotEqual(t, "gho_abc", stored.EncryptedAccessToken)
	plain, err := h.cipher.DecryptString(stored.EncryptedAccessToken)
	require.NoError(t, err)
	require.Equal(t, "gho_abc", plain)
	require.NotNil(t, stored.TokenExpiresAt)
}

func TestOAuthService_HandleCallback_NotWhitelisted(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	stateValue, err := h.states.Generate(ctx, "req-1")
	require.NoError(t, err)
	h.github.token = &github.Token{AccessToken: "gho_abc"}
	h.github.user = &github.User{ID: 99, Login: "newcomer"}

	result, err := h.service.HandleCallback(ctx, "the-code", stateValue)
	require.NoError(t, err)
	require.Nil(t, result.Session)
	require.False(t, result.User.IsWhitelisted)

	// Tokens are stored even without a session so a later whitelisting works.
	stored, err := h.users.GetByGitHubID(ctx, 99)
	require.NoError(t, err)
	require.NotEmpty(t, stored.EncryptedAccessToken)
}

func TestOAuthService_HandleCallback_InvalidState(t *testing.T) {
	h := newOAuthTestHarness(t)

	_, err := h.service.HandleCallback(context.Background(), "the-code", "never-issued")
	require.ErrorIs(t, err, oauth.ErrInvalidState)
}

func TestOAuthService_HandleCallback_StateSingleUse(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	stateValue, err := h.states.Generate(ctx, "req-1")
	require.NoError(t, err)
	h.github.token = &github.Token{AccessToken: "gho_abc"}
	h.github.user = &github.User{ID: 42, Login: "octocat"}

	_, err = h.service.HandleCallback(ctx, "the-code", stateValue)
	require.NoError(t, err)

	_, err = h.service.HandleCallback(ctx, "the-code", stateValue)
	require.ErrorIs(t, err, oauth.ErrInvalidState)
}

func TestOAuthService_HandleCallback_MissingCode(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	stateValue, err := h.states.Generate(ctx, "req-1")
	require.NoError(t, err)

	_, err = h.service.HandleCallback(ctx, "", stateValue)
	require.ErrorIs(t, err, oauth.ErrInvalidRequest)
}

func TestOAuthService_HandleCallback_ExchangeFailure(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	stateValue, err := h.states.Generate(ctx, "req-1")
	require.NoError(t, err)
	h.github.exchErr = oauth.ErrExchangeFailed

	_, err = h.service.HandleCallback(ctx, "stale-code", stateValue)
	require.ErrorIs(t, err, oauth.ErrExchangeFailed)
}

func TestOAuthService_HandleCallback_ReusesExistingUserID(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	_, err := h.users.Upsert(ctx, domain.User{ID: "stable-id", GitHubUserID: 42})
	require.NoError(t, err)

	stateValue, err := h.states.Generate(ctx, "req-1")
	require.NoError(t, err)
	h.github.token = &github.Token{AccessToken: "gho_abc"}
	h.github.user = &github.User{ID: 42, Login: "octocat"}

	result, err := h.service.HandleCallback(ctx, "the-code", stateValue)
	require.NoError(t, err)
	require.Equal(t, "stable-id", result.User.ID)
}
