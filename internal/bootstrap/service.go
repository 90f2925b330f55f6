package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/config"
	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/keyrotation"
	"github.com/smallbiznis/railzway-broker/internal/repository"
	"github.com/smallbiznis/railzway-broker/internal/service/registry"
)

// EnsureService seeds a default trusted service for dev/e2e if missing.
func EnsureService(lc fx.Lifecycle, cfg config.Config, services repository.ServiceRepository, reg *registry.Service, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureService(ctx, cfg, services, reg, logger)
		},
	})
}

func ensureService(ctx context.Context, cfg config.Config, services repository.ServiceRepository, reg *registry.Service, logger *zap.Logger) error {
	identifier := strings.TrimSpace(cfg.BootstrapServiceID)
	if identifier == "" || cfg.BootstrapServiceKey == "" {
		if logger != nil {
			logger.Info("service bootstrap skipped: no credentials configured")
		}
		return nil
	}

	if _, err := services.GetByIdentifier(ctx, identifier); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrServiceNotFound) {
		return fmt.Errorf("bootstrap lookup service: %w", err)
	}

	created, err := reg.Create(ctx, registry.CreateInput{
		Identifier:  identifier,
		PlainAPIKey: cfg.BootstrapServiceKey,
		Description: "Bootstrap service",
	})
	if err != nil {
		return fmt.Errorf("bootstrap create service: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap service created",
			zap.String("service", created.ServiceIdentifier),
			zap.Int64("service_id", created.ID),
		)
	}
	return nil
}

// EnsureKeyRotationRecords seeds rotation bookkeeping for the signing and
// encryption keys on first boot. Existing records are left untouched so
// lastRotatedAt keeps meaning what it says.
func EnsureKeyRotationRecords(lc fx.Lifecycle, cfg config.Config, records repository.KeyRotationRepository, tracker *keyrotation.Tracker, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureKeyRotationRecords(ctx, cfg, records, tracker, logger)
		},
	})
}

func ensureKeyRotationRecords(ctx context.Context, cfg config.Config, records repository.KeyRotationRepository, tracker *keyrotation.Tracker, logger *zap.Logger) error {
	seeds := map[string]string{
		"jwt_signing":      cfg.JWTKeyID,
		"token_encryption": "token-encryption-key",
	}
	now := time.Now().UTC()

	for keyType, identifier := range seeds {
		if _, err := records.Get(ctx, identifier); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("bootstrap lookup rotation record: %w", err)
		}

		if _, err := tracker.RecordRotation(ctx, identifier, keyType, now, cfg.RotationIntervalDays[keyType], nil); err != nil {
			return fmt.Errorf("bootstrap seed rotation record: %w", err)
		}
		if logger != nil {
			logger.Info("bootstrap rotation record seeded",
				zap.String("key", identifier),
				zap.String("type", keyType),
			)
		}
	}
	return nil
}
