package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainoauth "github.com/smallbiznis/railzway-broker/internal/domain/oauth"
)

func TestAuthorizeURL(t *testing.T) {
	client := NewHTTPClient(Config{
		ClientID:    "client-id",
		CallbackURL: "https://broker.example.com/auth/github/callback",
		Scopes:      []string{"read:user", "user:email"},
	}, nil, zap.NewNop())

	url := client.AuthorizeURL("state-123")
	require.Contains(t, url, defaultAuthorizeURL)
	require.Contains(t, url, "client_id=client-id")
	require.Contains(t, url, "state=state-123")
	require.Contains(t, url, "scope=read%3Auser+user%3Aemail")
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		require.Equal(t, "client-id", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_abc","refresh_token":"ghr_def","token_type":"bearer","expires_in":28800}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{
		ClientID:     "client-id",
		ClientSecret: "secret",
		CallbackURL:  "https://broker/callback",
		TokenURL:     srv.URL,
	}, nil, zap.NewNop())

	token, err := client.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	require.Equal(t, "gho_abc", token.AccessToken)
	require.Equal(t, "ghr_def", token.RefreshToken)
	require.Equal(t, int64(28800), token.ExpiresIn)
}

func TestExchangeCode_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code is incorrect."}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}, nil, zap.NewNop())

	_, err := client.ExchangeCode(context.Background(), "stale-code")
	require.ErrorIs(t, err, domainoauth.ErrExchangeFailed)
}

func TestRefreshAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "ghr_old", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_new","refresh_token":"ghr_new","expires_in":28800}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}, nil, zap.NewNop())

	token, err := client.RefreshAccessToken(context.Background(), "ghr_old")
	require.NoError(t, err)
	require.Equal(t, "gho_new", token.AccessToken)
	require.Equal(t, "ghr_new", token.RefreshToken)
}

func TestRefreshAccessToken_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}, nil, zap.NewNop())

	_, err := client.RefreshAccessToken(context.Background(), "ghr_old")
	require.ErrorIs(t, err, domainoauth.ErrRefreshFailed)
}

func TestFetchUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		require.Equal(t, "Bearer gho_abc", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":12345,"login":"octocat","email":"octo@example.com","name":"Octo Cat"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{APIBaseURL: srv.URL}, nil, zap.NewNop())

	user, err := client.FetchUser(context.Background(), "gho_abc")
	require.NoError(t, err)
	require.Equal(t, int64(12345), user.ID)
	require.Equal(t, "octocat", user.Login)
}

func TestFetchUser_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{APIBaseURL: srv.URL}, nil, zap.NewNop())

	_, err := client.FetchUser(context.Background(), "gho_abc")
	require.Error(t, err)
}

func TestTokenExpiration(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.Nil(t, TokenExpiration(now, 0))
	require.Nil(t, TokenExpiration(now, -1))

	got := TokenExpiration(now, 3600)
	require.NotNil(t, got)
	require.Equal(t, now.Add(time.Hour), *got)
}

func TestExpiringSoon(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := time.Hour

	require.False(t, ExpiringSoon(nil, threshold, now))

	future := now.Add(2 * time.Hour)
	require.False(t, ExpiringSoon(&future, threshold, now))

	soon := now.Add(30 * time.Minute)
	require.True(t, ExpiringSoon(&soon, threshold, now))

	past := now.Add(-time.Minute)
	require.True(t, ExpiringSoon(&past, threshold, now))
}
