package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/railzway-broker/internal/adapter/cache"
	"github.com/smallbiznis/railzway-broker/internal/adapter/github"
	"github.com/smallbiznis/railzway-broker/internal/bootstrap"
	"github.com/smallbiznis/railzway-broker/internal/config"
	"github.com/smallbiznis/railzway-broker/internal/crypto"
	httptransport "github.com/smallbiznis/railzway-broker/internal/http"
	"github.com/smallbiznis/railzway-broker/internal/http/handler"
	"github.com/smallbiznis/railzway-broker/internal/jwt"
	"github.com/smallbiznis/railzway-broker/internal/keyrotation"
	apimiddleware "github.com/smallbiznis/railzway-broker/internal/middleware"
	"github.com/smallbiznis/railzway-broker/internal/repository"
	"github.com/smallbiznis/railzway-broker/internal/server"
	authservice "github.com/smallbiznis/railzway-broker/internal/service/auth"
	"github.com/smallbiznis/railzway-broker/internal/service/registry"
	"github.com/smallbiznis/railzway-broker/internal/service/retrieval"
	"github.com/smallbiznis/railzway-broker/internal/service/revocation"
	"github.com/smallbiznis/railzway-broker/internal/service/state"
	tokenservice "github.com/smallbiznis/railzway-broker/internal/service/token"
	"github.com/smallbiznis/railzway-broker/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newRevokedTokenRepository,
			newServiceRepository,
			newAuditLogRepository,
			newKeyRotationRepository,
			newRedisClient,
			newOAuthStateStore,
			newStateManager,
			newGitHubClient,
			newTokenCipher,
			newSigner,
			newRateLimiter,
			newKeyRotationTracker,
			newTokenService,
			newRevocationService,
			newRegistryService,
			newRetrievalService,
			newOAuthService,
			handler.NewAuthHandler,
			handler.NewTokenHandler,
			handler.NewServiceHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureService, bootstrap.EnsureKeyRotationRecords, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newRevokedTokenRepository(pool *pgxpool.Pool) repository.RevokedTokenRepository {
	return repository.NewPostgresRevokedTokenRepo(pool)
}

func newServiceRepository(pool *pgxpool.Pool) repository.ServiceRepository {
	return repository.NewPostgresServiceRepo(pool)
}

func newAuditLogRepository(pool *pgxpool.Pool) repository.AuditLogRepository {
	return repository.NewPostgresAuditLogRepo(pool)
}

func newKeyRotationRepository(pool *pgxpool.Pool) repository.KeyRotationRepository {
	return repository.NewPostgresKeyRotationRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newOAuthStateStore(client redis.UniversalClient) repository.OAuthStateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newStateManager(store repository.OAuthStateStore, cfg config.Config, logger *zap.Logger) *state.Manager {
	return state.NewManager(store, cfg.StateMaxAge, logger)
}

func newGitHubClient(cfg config.Config, logger *zap.Logger) github.Client {
	return github.NewHTTPClient(github.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		CallbackURL:  cfg.GitHubCallbackURL,
		Scopes:       cfg.GitHubScopes,
	}, nil, logger)
}

func newTokenCipher(cfg config.Config) (*crypto.TokenCipher, error) {
	return crypto.NewTokenCipher(cfg.TokenEncryptionKey)
}

func newSigner(cfg config.Config) (*jwt.Signer, error) {
	privatePEM, err := os.ReadFile(cfg.JWTPrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	publicPEM, err := os.ReadFile(cfg.JWTPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return jwt.NewSigner(jwt.Options{
		PrivateKeyPEM:  privatePEM,
		PublicKeyPEM:   publicPEM,
		KeyID:          cfg.JWTKeyID,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		Expiry:         cfg.JWTExpiry,
		ClockTolerance: cfg.JWTClockTolerance,
	})
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyRotationTracker(records repository.KeyRotationRepository, logger *zap.Logger) *keyrotation.Tracker {
	return keyrotation.NewTracker(records, time.Minute, logger)
}

func newTokenService(users repository.UserRepository, revoked repository.RevokedTokenRepository, signer *jwt.Signer, logger *zap.Logger) *tokenservice.Service {
	return tokenservice.NewService(users, revoked, signer, logger)
}

func newRevocationService(revoked repository.RevokedTokenRepository, users repository.UserRepository, signer *jwt.Signer, logger *zap.Logger) *revocation.Service {
	return revocation.NewService(revoked, users, signer, logger)
}

func newRegistryService(services repository.ServiceRepository, audit repository.AuditLogRepository, node *snowflake.Node, logger *zap.Logger) *registry.Service {
	return registry.NewService(services, audit, node, logger)
}

func newRetrievalService(users repository.UserRepository, gh github.Client, cipher *crypto.TokenCipher, reg *registry.Service, cfg config.Config, logger *zap.Logger) *retrieval.Service {
	return retrieval.NewService(users, gh, cipher, reg, cfg.RefreshThreshold, logger)
}

func newOAuthService(states *state.Manager, gh github.Client, users repository.UserRepository, cipher *crypto.TokenCipher, tokens *tokenservice.Service, logger *zap.Logger) *authservice.OAuthService {
	return authservice.NewOAuthService(states, gh, users, cipher, tokens, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
