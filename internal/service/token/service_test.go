package token

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

	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/jwt"
)

func newTestSigner(t *testing.T, expiry time.Duration) *jwt.Signer {
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
		Expiry:        expiry,
	})
	require.NoError(t, err)
	return signer
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepo(users ...domain.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByGitHubID(_ context.Context, githubUserID int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.GitHubUserID == githubUserID {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *fakeUserRepo) Upsert(_ context.Context, user domain.User) (domain.User, error) {
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

func (r *fakeUserRepo) SetWhitelisted(_ context.Context, id string, whitelisted bool) error {
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

func (r *fakeUserRepo) UpdateGitHubTokens(ctx context.Context, id string, fn func(ctx context.Context, current domain.User) (*domain.GitHubTokenUpdate, error)) (domain.User, error) {
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
	if update == nil {
		return user, nil
	}
	user.EncryptedAccessToken = update.EncryptedAccessToken
	user.EncryptedRefreshToken = update.EncryptedRefreshToken
	user.TokenExpiresAt = update.TokenExpiresAt
	r.users[id] = user
	return user, nil
}

type fakeRevokedRepo struct {
	mu      sync.Mutex
	entries map[string]domain.RevokedToken
}

func newFakeRevokedRepo() *fakeRevokedRepo {
	return &fakeRevokedRepo{entries: make(map[string]domain.RevokedToken)}
}

func (r *fakeRevokedRepo) Insert(_ context.Context, token domain.RevokedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[token.JTI]; ok {
		return nil
	}
	r.entries[token.JTI] = token
	return nil
}

func (r *fakeRevokedRepo) Get(_ context.Context, jti string) (domain.RevokedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[jti]
	if !ok {
		return domain.RevokedToken{}, domain.ErrNotFound
	}
	return entry, nil
}

func (r *fakeRevokedRepo) Exists(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[jti]
	return ok, nil
}

func (r *fakeRevokedRepo) CountExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, entry := range r.entries {
		if entry.TokenExpiresAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (r *fakeRevokedRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for jti, entry := range r.entries {
		if entry.TokenExpiresAt.Before(cutoff) {
			delete(r.entries, jti)
			deleted++
		}
	}
	return deleted, nil
}

func TestService_Generate(t *testing.T) {
	users := newFakeUserRepo(domain.User{ID: "user-1", GitHubUserID: 42, IsWhitelisted: true})
	svc := NewService(users, newFakeRevokedRepo(), newTestSigner(t, time.Hour), zap.NewNop())

	issued, err := svc.Generate(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.NotEmpty(t, issued.JTI)
	require.Equal(t, int64(3600), issued.ExpiresIn)

	verification, err := svc.Verify(issued.Token)
	require.NoError(t, err)
	require.Equal(t, "user-1", verification.UserID)
	require.True(t, verification.IsWhitelisted)
}

func TestService_Generate_UnknownUser(t *testing.T) {
	svc := NewService(newFakeUserRepo(), newFakeRevokedRepo(), newTestSigner(t, time.Hour), zap.NewNop())

	_, err := svc.Generate(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestService_Refresh_MintsNewJTI(t *testing.T) {
	users := newFakeUserRepo(domain.User{ID: "user-1", GitHubUserID: 42, IsWhitelisted: true})
	svc := NewService(users, newFakeRevokedRepo(), newTestSigner(t, time.Hour), zap.NewNop())
	ctx := context.Background()

	old, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, old.Token)
	require.NoError(t, err)
	require.NotEqual(t, old.JTI, refreshed.JTI)
	require.NotEqual(t, old.Token, refreshed.Token)
}

func TestService_Refresh_ExpiredToken(t *testing.T) {
	users := newFakeUserRepo(domain.User{ID: "user-1", IsWhitelisted: true})
	svc := NewService(users, newFakeRevokedRepo(), newTestSigner(t, time.Millisecond), zap.NewNop())
	ctx := context.Background()

	old, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = svc.Refresh(ctx, old.Token)
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.Equal(t, RefreshExpired, refreshErr.Kind)
}

func TestService_Refresh_GarbageToken(t *testing.T) {
	svc := NewService(newFakeUserRepo(), newFakeRevokedRepo(), newTestSigner(t, time.Hour), zap.NewNop())

	_, err := svc.Refresh(context.Background(), "garbage")
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.Equal(t, RefreshInvalid, refreshErr.Kind)
}

func TestService_Refresh_RevokedToken(t *testing.T) {
	users := newFakeUserRepo(domain.User{ID: "user-1", IsWhitelisted: true})
	revoked := newFakeRevokedRepo()
	svc := NewService(users, revoked, newTestSigner(t, time.Hour), zap.NewNop())
	ctx := context.Background()

	old, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, revoked.Insert(ctx, domain.RevokedToken{JTI: old.JTI, UserID: "user-1"}))

	_, err = svc.Refresh(ctx, old.Token)
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.Equal(t, RefreshRevoked, refreshErr.Kind)
}

func TestService_Refresh_UserDeleted(t *testing.T) {
	users := newFakeUserRepo(domain.User{ID: "user-1", IsWhitelisted: true})
	svc := NewService(users, newFakeRevokedRepo(), newTestSigner(t, time.Hour), zap.NewNop())
	ctx := context.Background()

	old, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	users.mu.Lock()
	delete(users.users, "user-1")
	users.mu.Unlock()

	_, err = svc.Refresh(ctx, old.Token)
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.Equal(t, RefreshUserNotFound, refreshErr.Kind)
}

func TestService_Refresh_WhitelistRevoked(t *testing.T) {
	users := newFakeUserRepo(domain.User{ID: "user-1", IsWhitelisted: true})
	svc := NewService(users, newFakeRevokedRepo(), newTestSigner(t, time.Hour), zap.NewNop())
	ctx := context.Background()

	old, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, users.SetWhitelisted(ctx, "user-1", false))

	_, err = svc.Refresh(ctx, old.Token)
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.Equal(t, RefreshWhitelistRevoked, refreshErr.Kind)
}

func TestService_Generate_ReadsCurrentWhitelist(t *testing.T) {
	users := newFakeUserRepo(domain.User{ID: "user-1", IsWhitelisted: false})
	svc := NewService(users, newFakeRevokedRepo(), newTestSigner(t, time.Hour), zap.NewNop())
	ctx := context.Background()

	issued, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	verification, err := svc.Verify(issued.Token)
	require.NoError(t, err)
	require.False(t, verification.IsWhitelisted)
}
