package middleware

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/service/registry"
)

const serviceContextKey = "authenticated_service"

// AuthenticatedService returns the service entry set by ServiceAuth.
func AuthenticatedService(c *gin.Context) (domain.ServiceRegistryEntry, bool) {
	if v, ok := c.Get(serviceContextKey); ok {
		if entry, ok := v.(domain.ServiceRegistryEntry); ok {
			return entry, true
		}
	}
	return domain.ServiceRegistryEntry{}, false
}

// ServiceAuth authenticates service-to-service callers. Credentials arrive as
// `Authorization: Bearer <identifier>:<apiKey>` or `Basic base64(identifier:apiKey)`.
// Every failure collapses to one generic 401 so callers cannot probe which
// identifiers exist; the distinct reason lands in the audit log only.
func ServiceAuth(services *registry.Service, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		identifier, apiKey, ok := parseServiceCredentials(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		result, err := services.Authenticate(c.Request.Context(), identifier, apiKey)
		if err != nil {
			logger.Error("service authentication failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":             "INTERNAL_ERROR",
				"error_description": "Internal server error.",
			})
			return
		}
		if !result.Authenticated {
			if result.Service != nil {
				services.LogAccess(c.Request.Context(), result.Service.ID, "unknown", "service_authentication", false, registry.AccessLogOptions{
					ErrorMessage: result.Reason.Message(),
					IPAddress:    c.ClientIP(),
					UserAgent:    c.Request.UserAgent(),
				})
			}
			logger.Warn("service auth rejected",
				zap.String("service", identifier),
				zap.String("reason", result.Reason.Message()),
			)
			unauthorized(c)
			return
		}

		c.Set(serviceContextKey, *result.Service)
		c.Next()
	}
}

func parseServiceCredentials(header string) (identifier, apiKey string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	var raw string
	switch {
	case strings.EqualFold(parts[0], "Bearer"):
		raw = parts[1]
	case strings.EqualFold(parts[0], "Basic"):
		decoded, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return "", "", false
		}
		raw = string(decoded)
	default:
		return "", "", false
	}

	identifier, apiKey, found := strings.Cut(raw, ":")
	identifier = strings.TrimSpace(identifier)
	if !found || identifier == "" || apiKey == "" {
		return "", "", false
	}
	return identifier, apiKey, true
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             "UNAUTHORIZED",
		"error_description": "Invalid service credentials.",
	})
}
