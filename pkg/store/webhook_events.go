package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
)

const webhookEventColumns = `id, event_key, topic, action, resource_id, payload, source_ip,
	signature_valid, status, outcome, created_at, processed_at`

// WebhookEventStore implements domain.WebhookEventRepository on PostgreSQL.
// The unique index on event_key is the authoritative dedup check.
type WebhookEventStore struct {
	pool *pgxpool.Pool
}

// NewWebhookEventStore creates a new WebhookEventStore.
func NewWebhookEventStore(pool *pgxpool.Pool) *WebhookEventStore {
	return &WebhookEventStore{pool: pool}
}

// InsertPending records the event before processing. When the key already
// exists the insert is skipped and the prior row is returned, so the caller
// can tell a replay from a first delivery.
func (s *WebhookEventStore) InsertPending(ctx context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = domain.WebhookPending
	}

	query := `
		INSERT INTO webhook_events (id, event_key, topic, action, resource_id, payload,
			source_ip, signature_valid, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_key) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		ev.ID, ev.EventKey, ev.Topic, ev.Action, ev.ResourceID, ev.Payload,
		ev.SourceIP, ev.SignatureValid, ev.Status)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert webhook event: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil, nil
	}

	prior, err := s.getByKey(ctx, ev.EventKey)
	if err != nil {
		return false, nil, err
	}
	return false, prior, nil
}

// MarkOutcome records the processing result of an event.
func (s *WebhookEventStore) MarkOutcome(ctx context.Context, eventKey string, status domain.WebhookStatus, outcome string) error {
	query := `
		UPDATE webhook_events SET status = $2, outcome = $3, processed_at = $4
		WHERE event_key = $1
	`
	tag, err := s.pool.Exec(ctx, query, eventKey, status, outcome, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark webhook outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("webhook event")
	}
	return nil
}

// ListByResource returns the newest events for one provider resource.
func (s *WebhookEventStore) ListByResource(ctx context.Context, resourceID string, limit int) ([]*domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE resource_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []*domain.WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *WebhookEventStore) getByKey(ctx context.Context, eventKey string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE event_key = $1`
	return scanWebhookEvent(s.pool.QueryRow(ctx, query, eventKey))
}

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	err := row.Scan(
		&ev.ID, &ev.EventKey, &ev.Topic, &ev.Action, &ev.ResourceID, &ev.Payload,
		&ev.SourceIP, &ev.SignatureValid, &ev.Status, &ev.Outcome,
		&ev.CreatedAt, &ev.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("webhook event")
		}
		return nil, fmt.Errorf("failed to scan webhook event: %w", err)
	}
	return &ev, nil
}
