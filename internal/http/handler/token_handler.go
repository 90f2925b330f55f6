package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/jwt"
	"github.com/smallbiznis/railzway-broker/internal/service/revocation"
	tokensvc "github.com/smallbiznis/railzway-broker/internal/service/token"
)

// TokenHandler serves the broker session-token API and key material.
type TokenHandler struct {
	Tokens     *tokensvc.Service
	Revocation *revocation.Service
	Signer     *jwt.Signer
}

// NewTokenHandler creates the handler set.
func NewTokenHandler(tokens *tokensvc.Service, rev *revocation.Service, signer *jwt.Signer) *TokenHandler {
	return &TokenHandler{Tokens: tokens, Revocation: rev, Signer: signer}
}

// Issue mints a session token for the given user with their current
// whitelist status.
func (h *TokenHandler) Issue(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "error_description": "userId is required."})
		return
	}

	issued, err := h.Tokens.Generate(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND", "error_description": "User not found."})
			return
		}
		zap.L().Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      issued.Token,
		"expires_in": issued.ExpiresIn,
		"expires_at": issued.ExpiresAt,
	})
}

// Refresh exchanges a live token for a brand-new one.
func (h *TokenHandler) Refresh(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "error_description": "token is required."})
		return
	}

	issued, err := h.Tokens.Refresh(c.Request.Context(), req.Token)
	if err != nil {
		h.respondRefreshError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      issued.Token,
		"expires_in": issued.ExpiresIn,
		"expires_at": issued.ExpiresAt,
	})
}

func (h *TokenHandler) respondRefreshError(c *gin.Context, err error) {
	var refreshErr *tokensvc.RefreshError
	if !errors.As(err, &refreshErr) {
		zap.L().Error("token refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
		return
	}

	switch refreshErr.Kind {
	case tokensvc.RefreshExpired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "EXPIRED_TOKEN", "error_description": "Token has expired."})
	case tokensvc.RefreshRevoked:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "TOKEN_REVOKED", "error_description": "Token has been revoked."})
	case tokensvc.RefreshUserNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND", "error_description": "User not found."})
	case tokensvc.RefreshWhitelistRevoked:
		c.JSON(http.StatusForbidden, gin.H{"error": "WHITELIST_REVOKED", "error_description": "User is no longer authorized."})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_TOKEN", "error_description": "Token could not be verified."})
	}
}

// Revoke records the presented token's jti in the revocation ledger.
func (h *TokenHandler) Revoke(c *gin.Context) {
	var req struct {
		Token     string  `json:"token" binding:"required"`
		Reason    *string `json:"reason"`
		RevokedBy *string `json:"revokedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "error_description": "token is required."})
		return
	}

	jti, err := h.Revocation.RevokeToken(c.Request.Context(), req.Token, req.RevokedBy, req.Reason)
	if err != nil {
		if errors.Is(err, revocation.ErrUnverifiableToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "REVOCATION_FAILED", "error_description": "Token could not be verified."})
			return
		}
		zap.L().Error("token revocation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "jti": jti})
}

// RevocationStatus reports whether a jti appears in the ledger.
func (h *TokenHandler) RevocationStatus(c *gin.Context) {
	jti := strings.TrimSpace(c.Query("jti"))
	if jti == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "error_description": "jti is required."})
		return
	}

	record, err := h.Revocation.Status(c.Request.Context(), jti)
	if err != nil {
		zap.L().Error("revocation status lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
		return
	}
	if record == nil {
		c.JSON(http.StatusOK, gin.H{"revoked": false})
		return
	}

	details := gin.H{
		"jti":        record.JTI,
		"user_id":    record.UserID,
		"revoked_at": record.RevokedAt,
	}
	if record.RevokedBy != nil {
		details["revoked_by"] = *record.RevokedBy
	}
	if record.Reason != nil {
		details["reason"] = *record.Reason
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true, "details": details})
}

// JWKS exposes the current public key as a JWKS document plus PEM.
func (h *TokenHandler) JWKS(c *gin.Context) {
	pem, err := h.Signer.PublicPEM()
	if err != nil {
		zap.L().Error("public key export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "error_description": "Internal server error."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"keys": h.Signer.JWKS().Keys,
		"pem":  pem,
	})
}
