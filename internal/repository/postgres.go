package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/railzway-broker/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ RevokedTokenRepository = (*PostgresRevokedTokenRepo)(nil)
	_ ServiceRepository      = (*PostgresServiceRepo)(nil)
	_ AuditLogRepository     = (*PostgresAuditLogRepo)(nil)
	_ KeyRotationRepository  = (*PostgresKeyRotationRepo)(nil)
)

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserSQL = `SELECT id, github_user_id, encrypted_access_token, encrypted_refresh_token, token_expires_at, is_whitelisted, created_at, updated_at
FROM users`

func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetByGitHubID(ctx context.Context, githubUserID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE github_user_id = $1`, githubUserID)
	return scanUser(row)
}

const upsertUserSQL = `INSERT INTO users (id, github_user_id, encrypted_access_token, encrypted_refresh_token, token_expires_at, is_whitelisted, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
ON CONFLICT (github_user_id) DO UPDATE SET
	encrypted_access_token = EXCLUDED.encrypted_access_token,
	encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
	token_expires_at = EXCLUDED.token_expires_at,
	updated_at = NOW()
RETURNING id, github_user_id, encrypted_access_token, encrypted_refresh_token, token_expires_at, is_whitelisted, created_at, updated_at`

// Upsert writes the row in a single conditional statement so two concurrent
// callbacks for the same GitHub identity cannot race a check-then-insert.
func (r *PostgresUserRepo) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, upsertUserSQL,
		user.ID,
		user.GitHubUserID,
		user.EncryptedAccessToken,
		user.EncryptedRefreshToken,
		user.TokenExpiresAt,
	)
	stored, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return stored, nil
}

func (r *PostgresUserRepo) SetWhitelisted(ctx context.Context, id string, whitelisted bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_whitelisted = $2, updated_at = NOW() WHERE id = $1`, id, whitelisted)
	if err != nil {
		return fmt.Errorf("set whitelisted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateGitHubTokens serializes proactive refreshes on the user row. The row
// lock makes the second concurrent caller wait, then observe the refreshed
// tokens and skip its own upstream call.
func (r *PostgresUserRepo) UpdateGitHubTokens(ctx context.Context, id string, fn func(ctx context.Context, current domain.User) (*domain.GitHubTokenUpdate, error)) (domain.User, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return domain.User{}, fmt.Errorf("begin refresh tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, selectUserSQL+` WHERE id = $1 FOR UPDATE`, id)
	current, err := scanUser(row)
	if err != nil {
		return domain.User{}, err
	}

	update, err := fn(ctx, current)
	if err != nil {
		return domain.User{}, err
	}
	if update == nil {
		if err := tx.Commit(ctx); err != nil {
			return domain.User{}, fmt.Errorf("commit refresh tx: %w", err)
		}
		return current, nil
	}

	row = tx.QueryRow(ctx, `UPDATE users SET encrypted_access_token = $2, encrypted_refresh_token = $3, token_expires_at = $4, updated_at = NOW()
WHERE id = $1
RETURNING id, github_user_id, encrypted_access_token, encrypted_refresh_token, token_expires_at, is_whitelisted, created_at, updated_at`,
		id,
		update.EncryptedAccessToken,
		update.EncryptedRefreshToken,
		update.TokenExpiresAt,
	)
	updated, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, fmt.Errorf("commit refresh tx: %w", err)
	}
	return updated, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.GitHubUserID,
		&user.EncryptedAccessToken,
		&user.EncryptedRefreshToken,
		&user.TokenExpiresAt,
		&user.IsWhitelisted,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// PostgresRevokedTokenRepo implements RevokedTokenRepository.
type PostgresRevokedTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRevokedTokenRepo(pool *pgxpool.Pool) *PostgresRevokedTokenRepo {
	return &PostgresRevokedTokenRepo{db: pool}
}

const insertRevokedSQL = `INSERT INTO revoked_tokens (jti, user_id, token_issued_at, token_expires_at, revoked_at, revoked_by, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (jti) DO NOTHING`

func (r *PostgresRevokedTokenRepo) Insert(ctx context.Context, token domain.RevokedToken) error {
	_, err := r.db.Exec(ctx, insertRevokedSQL,
		token.JTI,
		token.UserID,
		token.TokenIssuedAt,
		token.TokenExpiresAt,
		token.RevokedAt,
		token.RevokedBy,
		token.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert revoked token: %w", err)
	}
	return nil
}

func (r *PostgresRevokedTokenRepo) Get(ctx context.Context, jti string) (domain.RevokedToken, error) {
	row := r.db.QueryRow(ctx, `SELECT jti, user_id, token_issued_at, token_expires_at, revoked_at, revoked_by, reason
FROM revoked_tokens WHERE jti = $1`, jti)
	var token domain.RevokedToken
	if err := row.Scan(
		&token.JTI,
		&token.UserID,
		&token.TokenIssuedAt,
		&token.TokenExpiresAt,
		&token.RevokedAt,
		&token.RevokedBy,
		&token.Reason,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RevokedToken{}, domain.ErrNotFound
		}
		return domain.RevokedToken{}, fmt.Errorf("get revoked token: %w", err)
	}
	return token, nil
}

func (r *PostgresRevokedTokenRepo) Exists(ctx context.Context, jti string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&exists); err != nil {
		return false, fmt.Errorf("revoked token exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresRevokedTokenRepo) CountExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE token_expires_at < $1`, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("count expired revoked tokens: %w", err)
	}
	return count, nil
}

func (r *PostgresRevokedTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM revoked_tokens WHERE token_expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired revoked tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresServiceRepo implements ServiceRepository.
type PostgresServiceRepo struct {
	db *pgxpool.Pool
}

func NewPostgresServiceRepo(pool *pgxpool.Pool) *PostgresServiceRepo {
	return &PostgresServiceRepo{db: pool}
}

const upsertServiceSQL = `INSERT INTO service_registry (id, service_identifier, hashed_api_key, allowed_scopes, is_active, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
ON CONFLICT (service_identifier) DO UPDATE SET
	hashed_api_key = EXCLUDED.hashed_api_key,
	allowed_scopes = EXCLUDED.allowed_scopes,
	is_active = EXCLUDED.is_active,
	description = EXCLUDED.description,
	updated_at = NOW()
RETURNING id, service_identifier, hashed_api_key, allowed_scopes, is_active, description, created_at, updated_at, last_used_at, last_api_key_rotated_at`

func (r *PostgresServiceRepo) Upsert(ctx context.Context, entry domain.ServiceRegistryEntry) (domain.ServiceRegistryEntry, error) {
	row := r.db.QueryRow(ctx, upsertServiceSQL,
		entry.ID,
		entry.ServiceIdentifier,
		entry.HashedAPIKey,
		entry.AllowedScopes,
		entry.IsActive,
		entry.Description,
	)
	stored, err := scanService(row)
	if err != nil {
		return domain.ServiceRegistryEntry{}, fmt.Errorf("upsert service: %w", err)
	}
	return stored, nil
}

func (r *PostgresServiceRepo) GetByIdentifier(ctx context.Context, identifier string) (domain.ServiceRegistryEntry, error) {
	row := r.db.QueryRow(ctx, `SELECT id, service_identifier, hashed_api_key, allowed_scopes, is_active, description, created_at, updated_at, last_used_at, last_api_key_rotated_at
FROM service_registry WHERE service_identifier = $1`, identifier)
	entry, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ServiceRegistryEntry{}, domain.ErrServiceNotFound
		}
		return domain.ServiceRegistryEntry{}, fmt.Errorf("get service: %w", err)
	}
	return entry, nil
}

func (r *PostgresServiceRepo) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE service_registry SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("update last used: %w", err)
	}
	return nil
}

func (r *PostgresServiceRepo) RotateAPIKey(ctx context.Context, identifier, hashedAPIKey string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE service_registry SET hashed_api_key = $2, last_api_key_rotated_at = $3, updated_at = NOW() WHERE service_identifier = $1`,
		identifier, hashedAPIKey, at)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrServiceNotFound
	}
	return nil
}

func scanService(row pgx.Row) (domain.ServiceRegistryEntry, error) {
	var entry domain.ServiceRegistryEntry
	if err := row.Scan(
		&entry.ID,
		&entry.ServiceIdentifier,
		&entry.HashedAPIKey,
		&entry.AllowedScopes,
		&entry.IsActive,
		&entry.Description,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&entry.LastUsedAt,
		&entry.LastAPIKeyRotatedAt,
	); err != nil {
		return domain.ServiceRegistryEntry{}, err
	}
	return entry, nil
}

// PostgresAuditLogRepo implements AuditLogRepository.
type PostgresAuditLogRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuditLogRepo(pool *pgxpool.Pool) *PostgresAuditLogRepo {
	return &PostgresAuditLogRepo{db: pool}
}

const insertAuditSQL = `INSERT INTO service_audit_log (id, service_id, user_id, action, success, error_message, ip_address, user_agent, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (r *PostgresAuditLogRepo) Append(ctx context.Context, entry domain.ServiceAuditLogEntry) error {
	_, err := r.db.Exec(ctx, insertAuditSQL,
		entry.ID,
		entry.ServiceID,
		entry.UserID,
		entry.Action,
		entry.Success,
		entry.ErrorMessage,
		entry.IPAddress,
		entry.UserAgent,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// PostgresKeyRotationRepo implements KeyRotationRepository.
type PostgresKeyRotationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRotationRepo(pool *pgxpool.Pool) *PostgresKeyRotationRepo {
	return &PostgresKeyRotationRepo{db: pool}
}

const upsertKeyRotationSQL = `INSERT INTO key_rotation_records (key_identifier, key_type, last_rotated_at, next_rotation_due, is_active, rotation_interval_days, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
ON CONFLICT (key_identifier) DO UPDATE SET
	key_type = EXCLUDED.key_type,
	last_rotated_at = EXCLUDED.last_rotated_at,
	next_rotation_due = EXCLUDED.next_rotation_due,
	is_active = EXCLUDED.is_active,
	rotation_interval_days = EXCLUDED.rotation_interval_days,
	metadata = EXCLUDED.metadata,
	updated_at = NOW()
RETURNING key_identifier, key_type, last_rotated_at, next_rotation_due, is_active, rotation_interval_days, metadata, created_at, updated_at`

func (r *PostgresKeyRotationRepo) Upsert(ctx context.Context, record domain.KeyRotationRecord) (domain.KeyRotationRecord, error) {
	row := r.db.QueryRow(ctx, upsertKeyRotationSQL,
		record.KeyIdentifier,
		record.KeyType,
		record.LastRotatedAt,
		record.NextRotationDue,
		record.IsActive,
		record.RotationIntervalDays,
		record.Metadata,
	)
	stored, err := scanKeyRotation(row)
	if err != nil {
		return domain.KeyRotationRecord{}, fmt.Errorf("upsert key rotation: %w", err)
	}
	return stored, nil
}

func (r *PostgresKeyRotationRepo) Get(ctx context.Context, keyIdentifier string) (domain.KeyRotationRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT key_identifier, key_type, last_rotated_at, next_rotation_due, is_active, rotation_interval_days, metadata, created_at, updated_at
FROM key_rotation_records WHERE key_identifier = $1`, keyIdentifier)
	record, err := scanKeyRotation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.KeyRotationRecord{}, domain.ErrNotFound
		}
		return domain.KeyRotationRecord{}, fmt.Errorf("get key rotation: %w", err)
	}
	return record, nil
}

func (r *PostgresKeyRotationRepo) ListActive(ctx context.Context) ([]domain.KeyRotationRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT key_identifier, key_type, last_rotated_at, next_rotation_due, is_active, rotation_interval_days, metadata, created_at, updated_at
FROM key_rotation_records WHERE is_active ORDER BY key_identifier`)
	if err != nil {
		return nil, fmt.Errorf("list key rotations: %w", err)
	}
	defer rows.Close()

	var records []domain.KeyRotationRecord
	for rows.Next() {
		record, err := scanKeyRotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key rotation: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanKeyRotation(row pgx.Row) (domain.KeyRotationRecord, error) {
	var record domain.KeyRotationRecord
	if err := row.Scan(
		&record.KeyIdentifier,
		&record.KeyType,
		&record.LastRotatedAt,
		&record.NextRotationDue,
		&record.IsActive,
		&record.RotationIntervalDays,
		&record.Metadata,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return domain.KeyRotationRecord{}, err
	}
	return record, nil
}
