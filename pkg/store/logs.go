package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
)

// SubscriptionLogStore implements domain.SubscriptionLogRepository on
// PostgreSQL. The table is append-only.
type SubscriptionLogStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionLogStore creates a new SubscriptionLogStore.
func NewSubscriptionLogStore(pool *pgxpool.Pool) *SubscriptionLogStore {
	return &SubscriptionLogStore{pool: pool}
}

// Append writes one billing event.
func (s *SubscriptionLogStore) Append(ctx context.Context, l *domain.SubscriptionLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	meta, err := marshalMetadata(l.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO subscription_logs (id, tenant_id, event_type, description, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, l.ID, l.TenantID, l.EventType, l.Description, meta)
	if err != nil {
		return fmt.Errorf("failed to append subscription log: %w", err)
	}
	return nil
}

// HasEventSince reports whether the tenant already has an event of the given
// type newer than since. Used to keep reminders single-shot per period.
func (s *SubscriptionLogStore) HasEventSince(ctx context.Context, tenantID, eventType string, since time.Time) (bool, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscription_logs
		WHERE tenant_id = $1 AND event_type = $2 AND created_at >= $3
	`, tenantID, eventType, since).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query subscription logs: %w", err)
	}
	return count > 0, nil
}

// ListByTenant returns the newest log entries for a tenant.
func (s *SubscriptionLogStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.SubscriptionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, event_type, description, metadata, created_at
		FROM subscription_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.SubscriptionLog
	for rows.Next() {
		var (
			l    domain.SubscriptionLog
			meta []byte
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &l.EventType, &l.Description, &meta, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription log: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode log metadata: %w", err)
			}
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
