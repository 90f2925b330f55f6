package keyrotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-broker/internal/domain"
	"github.com/smallbiznis/railzway-broker/internal/repository"
)

// Health classifies how a tracked key stands against its rotation policy.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDueSoon  Health = "due_soon"
	HealthOverdue  Health = "overdue"
	HealthNoPolicy Health = "no_policy"
)

// dueSoonWindow is how far ahead of the due date a key starts reporting
// due_soon.
const dueSoonWindow = 7 * 24 * time.Hour

// Status is the evaluated rotation posture of one key.
type Status struct {
	KeyIdentifier string     `json:"key_identifier"`
	KeyType       string     `json:"key_type"`
	Health        Health     `json:"health"`
	LastRotatedAt time.Time  `json:"last_rotated_at"`
	NextDue       *time.Time `json:"next_rotation_due,omitempty"`
}

// Tracker records key rotations and evaluates rotation health. It never
// performs rotations itself; operators rotate out of band and the tracker
// keeps the bookkeeping honest.
type Tracker struct {
	records  repository.KeyRotationRepository
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	cached   []Status
	cachedAt time.Time
}

// NewTracker wires the tracker. cacheTTL bounds how stale a cached Check
// answer may be; zero disables caching.
func NewTracker(records repository.KeyRotationRepository, cacheTTL time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.L()
	}
	return &Tracker{records: records, cacheTTL: cacheTTL, logger: logger, now: time.Now}
}

// RecordRotation upserts the bookkeeping row for a key. A positive interval
// sets the next due date; zero or negative means no rotation policy and the
// due date is cleared.
func (t *Tracker) RecordRotation(ctx context.Context, keyIdentifier, keyType string, rotatedAt time.Time, intervalDays int, metadata map[string]string) (domain.KeyRotationRecord, error) {
	if keyIdentifier == "" {
		return domain.KeyRotationRecord{}, errors.New("keyrotation: key identifier is required")
	}
	rotatedAt = rotatedAt.UTC()

	record := domain.KeyRotationRecord{
		KeyIdentifier: keyIdentifier,
		KeyType:       keyType,
		LastRotatedAt: rotatedAt,
		IsActive:      true,
		Metadata:      metadata,
	}
	if intervalDays > 0 {
		due := rotatedAt.AddDate(0, 0, intervalDays)
		record.NextRotationDue = &due
		record.RotationIntervalDays = &intervalDays
	}

	stored, err := t.records.Upsert(ctx, record)
	if err != nil {
		return domain.KeyRotationRecord{}, fmt.Errorf("record rotation: %w", err)
	}
	t.Clear()

	t.logger.Info("key rotation recorded",
		zap.String("key", keyIdentifier),
		zap.String("type", keyType),
		zap.Int("interval_days", intervalDays),
	)
	return stored, nil
}

// StatusFor evaluates one key's rotation posture, bypassing the cache.
func (t *Tracker) StatusFor(ctx context.Context, keyIdentifier string) (Status, error) {
	record, err := t.records.Get(ctx, keyIdentifier)
	if err != nil {
		return Status{}, err
	}
	return t.evaluate(record), nil
}

// Check evaluates every active key. Answers are cached for cacheTTL; Clear
// drops the cache after an out-of-band rotation so the next Check re-reads.
func (t *Tracker) Check(ctx context.Context) ([]Status, error) {
	t.mu.Lock()
	if t.cacheTTL > 0 && t.cached != nil && t.now().Sub(t.cachedAt) < t.cacheTTL {
		out := t.cached
		t.mu.Unlock()
		return out, nil
	}
	t.mu.Unlock()

	records, err := t.records.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rotation records: %w", err)
	}
	statuses := make([]Status, 0, len(records))
	for _, record := range records {
		status := t.evaluate(record)
		if status.Health == HealthOverdue {
			t.logger.Warn("key rotation overdue",
				zap.String("key", record.KeyIdentifier),
				zap.Timep("due", record.NextRotationDue),
			)
		}
		statuses = append(statuses, status)
	}

	t.mu.Lock()
	t.cached = statuses
	t.cachedAt = t.now()
	t.mu.Unlock()
	return statuses, nil
}

// Clear drops the cached Check answer.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.cached = nil
	t.mu.Unlock()
}

func (t *Tracker) evaluate(record domain.KeyRotationRecord) Status {
	status := Status{
		KeyIdentifier: record.KeyIdentifier,
		KeyType:       record.KeyType,
		LastRotatedAt: record.LastRotatedAt,
		NextDue:       record.NextRotationDue,
	}
	if record.NextRotationDue == nil {
		status.Health = HealthNoPolicy
		return status
	}
	now := t.now().UTC()
	switch {
	case now.After(*record.NextRotationDue):
		status.Health = HealthOverdue
	case now.Add(dueSoonWindow).After(*record.NextRotationDue):
		status.Health = HealthDueSoon
	default:
		status.Health = HealthOK
	}
	return status
}
