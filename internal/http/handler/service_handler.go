package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/http/middleware"
	"github.com/smallbiznis/railzway-broker/internal/keyrotation"
	"github.com/smallbiznis/railzway-broker/internal/service/registry"
	"github.com/smallbiznis/railzway-broker/internal/service/retrieval"
)

// ServiceHandler serves the service-to-service API surface.
type ServiceHandler struct {
	Retrieval *retrieval.Service
	Rotation  *keyrotation.Tracker
}

// NewServiceHandler creates the handler set.
func NewServiceHandler(retrievalSvc *retrieval.Service, rotation *keyrotation.Tracker) *ServiceHandler {
	return &ServiceHandler{Retrieval: retrievalSvc, Rotation: rotation}
}

// GitHubToken hands the caller a decrypted GitHub access token. The service
// identity comes from the auth middleware; every attempt is audited.
func (h *ServiceHandler) GitHubToken(c *gin.Context) {
	svc, ok := middleware.AuthenticatedService(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "error_description": "Invalid service credentials."})
		return
	}

	var req struct {
		UserID       string `json:"userId"`
		GitHubUserID string `json:"githubUserId"`
	}
	// An empty body is the missing-identifier case, not a malformed request.
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "error_description": "Request body must be JSON."})
		return
	}

	query := retrieval.Query{UserID: req.UserID}
	if raw := strings.TrimSpace(req.GitHubUserID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "error_description": "githubUserId must be numeric."})
			return
		}
		query.GitHubUserID = id
	}

	result, err := h.Retrieval.Retrieve(c.Request.Context(), svc, query, registry.AccessLogOptions{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.respondRetrievalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      result.AccessToken,
		"expires_at": result.ExpiresAt,
		"user": gin.H{
			"id":             result.UserID,
			"github_user_id": result.GitHubUserID,
			"is_whitelisted": result.IsWhitelisted,
		},
	})
}

func (h *ServiceHandler) respondRetrievalError(c *gin.Context, err error) {
	var retrievalErr *retrieval.Error
	if !errors.As(err, &retrievalErr) {
		zap.L().Error("github token retrieval failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
		return
	}

	switch retrievalErr.Code {
	case retrieval.MissingUserIdentifier:
		c.JSON(http.StatusBadRequest, gin.H{"error": "MISSING_USER_IDENTIFIER", "error_description": retrievalErr.Code.Message()})
	case retrieval.UserNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND", "error_description": retrievalErr.Code.Message()})
	case retrieval.UserNotWhitelisted:
		c.JSON(http.StatusForbidden, gin.H{"error": "USER_NOT_WHITELISTED", "error_description": retrievalErr.Code.Message()})
	case retrieval.TokenNotAvailable:
		c.JSON(http.StatusNotFound, gin.H{"error": "TOKEN_NOT_AVAILABLE", "error_description": retrievalErr.Code.Message()})
	case retrieval.TokenRefreshFailed:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "TOKEN_REFRESH_FAILED", "error_description": retrievalErr.Code.Message()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
	}
}

// KeyRotationStatus reports rotation health for every tracked key.
func (h *ServiceHandler) KeyRotationStatus(c *gin.Context) {
	statuses, err := h.Rotation.Check(c.Request.Context())
	if err != nil {
		zap.L().Error("key rotation check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": statuses})
}
