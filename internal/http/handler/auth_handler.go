package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainoauth "github.com/smallbiznis/railzway-broker/internal/domain/oauth"
	"github.com/smallbiznis/railzway-broker/internal/http/middleware"
	authsvc "github.com/smallbiznis/railzway-broker/internal/service/auth"
)

// AuthHandler drives the GitHub login endpoints.
type AuthHandler struct {
	OAuth *authsvc.OAuthService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(oauth *authsvc.OAuthService) *AuthHandler {
	return &AuthHandler{OAuth: oauth}
}

// Login redirects the browser to GitHub's authorize URL with a one-time state.
func (h *AuthHandler) Login(c *gin.Context) {
	authorizeURL, err := h.OAuth.Start(c.Request.Context(), middleware.RequestID(c))
	if err != nil {
		zap.L().Error("oauth start failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Could not start login."})
		return
	}
	c.Redirect(http.StatusFound, authorizeURL)
}

// Callback completes the authorization-code flow. A provider-reported error
// short-circuits before any state or code handling.
func (h *AuthHandler) Callback(c *gin.Context) {
	if providerErr := strings.TrimSpace(c.Query("error")); providerErr != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             providerErr,
			"error_description": c.Query("error_description"),
		})
		return
	}

	result, err := h.OAuth.HandleCallback(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		h.respondCallbackError(c, err)
		return
	}

	user := gin.H{
		"id":             result.User.ID,
		"github_user_id": result.User.GitHubUserID,
		"login":          result.Profile.Login,
		"is_whitelisted": result.User.IsWhitelisted,
	}

	if result.Session == nil {
		c.JSON(http.StatusForbidden, gin.H{
			"status":  "not_whitelisted",
			"message": "Login succeeded but this account is not authorized yet.",
			"user":    user,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "authenticated",
		"token":      result.Session.Token,
		"expires_in": result.Session.ExpiresIn,
		"expires_at": result.Session.ExpiresAt,
		"user":       user,
	})
}

func (h *AuthHandler) respondCallbackError(c *gin.Context, err error) {
	logger := zap.L()
	switch {
	case errors.Is(err, domainoauth.ErrInvalidState):
		logger.Warn("oauth callback with invalid state", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "error_description": "Login session expired or was already used. Please retry."})
	case errors.Is(err, domainoauth.ErrInvalidRequest):
		logger.Warn("oauth callback invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "code and state are required."})
	case errors.Is(err, domainoauth.ErrExchangeFailed):
		logger.Warn("oauth code exchange failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange_failed", "error_description": "GitHub did not accept the authorization code."})
	default:
		logger.Error("oauth callback failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}
