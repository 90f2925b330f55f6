package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/railzway-broker/internal/config"
	"github.com/smallbiznis/railzway-broker/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/railzway-broker/internal/http/middleware"
	"github.com/smallbiznis/railzway-broker/internal/middleware"
	"github.com/smallbiznis/railzway-broker/internal/service/registry"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, tokenHandler *handler.TokenHandler, serviceHandler *handler.ServiceHandler, services *registry.Service, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		authGroup.GET("/github", authHandler.Login)
		authGroup.GET("/github/callback", authHandler.Callback)
	}

	api := r.Group("/api")
	{
		api.GET("/token", tokenHandler.Issue)
		api.POST("/token", tokenHandler.Refresh)
		api.POST("/token/revoke", tokenHandler.Revoke)
		api.GET("/token/revocation-status", tokenHandler.RevocationStatus)
		api.GET("/jwks", tokenHandler.JWKS)

		serviceOnly := api.Group("", httpmiddleware.ServiceAuth(services, nil))
		{
			serviceOnly.POST("/github-token", serviceHandler.GitHubToken)
			serviceOnly.GET("/key-rotation/status", serviceHandler.KeyRotationStatus)
		}
	}

	r.GET("/.well-known/jwks.json", tokenHandler.JWKS)

	return r
}
