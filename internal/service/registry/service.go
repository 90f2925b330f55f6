package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/apikey"
	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/repository"
)

// AuthFailureReason is the closed set of internal authentication outcomes.
// The HTTP layer collapses every failure to one generic 401 so callers
// cannot enumerate service identifiers; the distinct reasons exist for
// audit logs only.
type AuthFailureReason int

const (
	AuthOK AuthFailureReason = iota
	AuthServiceNotFound
	AuthServiceInactive
	AuthInvalidKey
)

// Message renders the internal reason for audit logging.
func (r AuthFailureReason) Message() string {
	switch r {
	case AuthServiceNotFound:
		return "Service not found"
	case AuthServiceInactive:
		return "Service is inactive"
	case AuthInvalidKey:
		return "Invalid API key"
	default:
		return ""
	}
}

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	Authenticated bool
	Service       *domain.ServiceRegistryEntry
	Reason        AuthFailureReason
}

// CreateInput describes a new trusted service.
type CreateInput struct {
	Identifier    string
	PlainAPIKey   string
	AllowedScopes []string
	Description   string
	IsActive      *bool
}

// Service manages trusted downstream services and their audit trail.
type Service struct {
	services repository.ServiceRepository
	audit    repository.AuditLogRepository
	node     *snowflake.Node
	logger   *zap.Logger
}

// NewService wires the registry service.
func NewService(services repository.ServiceRepository, audit repository.AuditLogRepository, node *snowflake.Node, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{services: services, audit: audit, node: node, logger: logger}
}

// Create registers a service, persisting only the argon2id hash of its API
// key. The plaintext key exists only in the caller's hands after this call.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.ServiceRegistryEntry, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.PlainAPIKey == "" {
		return domain.ServiceRegistryEntry{}, fmt.Errorf("service identifier and api key are required")
	}

	hashed, err := apikey.Hash(in.PlainAPIKey)
	if err != nil {
		return domain.ServiceRegistryEntry{}, fmt.Errorf("hash api key: %w", err)
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	entry := domain.ServiceRegistryEntry{
		ID:                s.node.Generate().Int64(),
		ServiceIdentifier: identifier,
		HashedAPIKey:      hashed,
		AllowedScopes:     in.AllowedScopes,
		IsActive:          active,
		Description:       in.Description,
	}
	stored, err := s.services.Upsert(ctx, entry)
	if err != nil {
		return domain.ServiceRegistryEntry{}, fmt.Errorf("persist service: %w", err)
	}

	s.logger.Info("service registered", zap.String("service", identifier))
	return stored, nil
}

// Authenticate checks a service credential pair. Inactive services
// short-circuit before the hash comparison. On success the entry's
// lastUsedAt advances; that write is best-effort.
func (s *Service) Authenticate(ctx context.Context, identifier, plainAPIKey string) (AuthResult, error) {
	entry, err := s.services.GetByIdentifier(ctx, strings.TrimSpace(identifier))
	if err != nil {
		if errors.Is(err, domain.ErrServiceNotFound) {
			return AuthResult{Reason: AuthServiceNotFound}, nil
		}
		return AuthResult{}, fmt.Errorf("load service: %w", err)
	}

	if !entry.IsActive {
		return AuthResult{Service: &entry, Reason: AuthServiceInactive}, nil
	}

	ok, err := apikey.Verify(plainAPIKey, entry.HashedAPIKey)
	if err != nil || !ok {
		return AuthResult{Service: &entry, Reason: AuthInvalidKey}, nil
	}

	if err := s.services.UpdateLastUsed(ctx, entry.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update service last used", zap.Error(err), zap.String("service", entry.ServiceIdentifier))
	}

	return AuthResult{Authenticated: true, Service: &entry}, nil
}

// RotateAPIKey swaps in a new key hash atomically. The old key stops working
// the moment this returns.
func (s *Service) RotateAPIKey(ctx context.Context, identifier, newPlainAPIKey string) error {
	if newPlainAPIKey == "" {
		return fmt.Errorf("new api key is required")
	}
	hashed, err := apikey.Hash(newPlainAPIKey)
	if err != nil {
		return fmt.Errorf("hash api key: %w", err)
	}
	if err := s.services.RotateAPIKey(ctx, strings.TrimSpace(identifier), hashed, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("service api key rotated", zap.String("service", identifier))
	return nil
}

// AccessLogOptions carries optional audit metadata.
type AccessLogOptions struct {
	ErrorMessage string
	IPAddress    string
	UserAgent    string
}

// LogAccess appends one audit row. Logging is best-effort: a ledger write
// failure is logged and swallowed so it can never fail the outer request.
// Only identifiers, outcome, and network metadata are recorded.
func (s *Service) LogAccess(ctx context.Context, serviceID int64, userID, action string, success bool, opts AccessLogOptions) {
	entry := domain.ServiceAuditLogEntry{
		ID:        s.node.Generate().Int64(),
		ServiceID: serviceID,
		UserID:    userID,
		Action:    action,
		Success:   success,
		Timestamp: time.Now().UTC(),
	}
	if opts.ErrorMessage != "" {
		entry.ErrorMessage = &opts.ErrorMessage
	}
	if opts.IPAddress != "" {
		entry.IPAddress = &opts.IPAddress
	}
	if opts.UserAgent != "" {
		entry.UserAgent = &opts.UserAgent
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit log write failed",
			zap.Error(err),
			zap.Int64("service_id", serviceID),
			zap.String("action", action),
		)
	}
}
