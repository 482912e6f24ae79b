package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
)

const subscriptionColumns = `id, tenant_id, preapproval_id, plan, amount, currency, status,
	external_reference, next_billing_date, cancelled_at, created_at, updated_at`

// SubscriptionStore implements domain.SubscriptionRepository on PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore creates a new SubscriptionStore.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

// Create persists a new agreement. The partial unique index on open rows
// rejects a second open agreement for the same tenant.
func (s *SubscriptionStore) Create(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	query := `
		INSERT INTO subscriptions (id, tenant_id, preapproval_id, plan, amount, currency,
			status, external_reference, next_billing_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		sub.ID, sub.TenantID, sub.PreapprovalID, sub.Plan, sub.Amount, sub.Currency,
		sub.Status, sub.ExternalReference, sub.NextBillingDate)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError("tenant already has an open subscription")
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetByPreapprovalID retrieves the agreement tied to a provider preapproval.
func (s *SubscriptionStore) GetByPreapprovalID(ctx context.Context, preapprovalID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE preapproval_id = $1`
	return scanSubscription(s.pool.QueryRow(ctx, query, preapprovalID))
}

// GetByExternalReference retrieves the agreement by our own reference.
func (s *SubscriptionStore) GetByExternalReference(ctx context.Context, ref string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_reference = $1`
	return scanSubscription(s.pool.QueryRow(ctx, query, ref))
}

// GetOpenByTenant retrieves the tenant's single open agreement.
func (s *SubscriptionStore) GetOpenByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status IN ('pending', 'authorized', 'active')
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanSubscription(s.pool.QueryRow(ctx, query, tenantID))
}

// ApplyTransition applies one status change to the subscription row, the
// tenant row, and the event trail in a single transaction. The tenant row is
// locked first so concurrent writers serialize per tenant.
func (s *SubscriptionStore) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tenant, err := lockTenant(ctx, tx, tr.TenantID)
	if err != nil {
		return err
	}

	if tr.SubscriptionID != "" {
		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions SET
				status = $2,
				next_billing_date = COALESCE($3, next_billing_date),
				cancelled_at = COALESCE($4, cancelled_at),
				updated_at = now()
			WHERE id = $1
		`, tr.SubscriptionID, tr.Status, tr.NextBillingDate, tr.CancelledAt)
		if err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NewNotFoundError("subscription")
		}
	}

	applyToTenant(tenant, tr)

	_, err = tx.Exec(ctx, `
		UPDATE tenants SET
			tier = $2,
			subscription_status = $3,
			premium_until = $4,
			auto_renew = $5,
			scheduled_tier = $6,
			menu_limit = $7,
			updated_at = now()
		WHERE id = $1
	`, tenant.ID, tenant.Tier, tenant.SubscriptionStatus, tenant.PremiumUntil,
		tenant.AutoRenew, tierPtr(tenant.ScheduledTier), tenant.MenuLimit)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	meta, err := marshalMetadata(tr.LogMetadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO subscription_logs (id, tenant_id, event_type, description, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), tr.TenantID, tr.LogEventType, tr.LogDescription, meta)
	if err != nil {
		return fmt.Errorf("failed to append transition log: %w", err)
	}

	return tx.Commit(ctx)
}

// applyToTenant folds a transition into the in-memory tenant row.
func applyToTenant(t *domain.Tenant, tr domain.Transition) {
	if tr.Downgrade {
		t.Tier = domain.TierFree
		t.SubscriptionStatus = domain.SubscriptionActive
		t.PremiumUntil = nil
		t.AutoRenew = false
		t.ScheduledTier = nil
		t.MenuLimit = domain.FreeTierMenuLimit
		return
	}

	t.SubscriptionStatus = tr.Status
	if tr.TenantStatus != nil {
		t.SubscriptionStatus = *tr.TenantStatus
	}
	if tr.Tier != nil {
		t.Tier = *tr.Tier
		t.MenuLimit = domain.MenuLimitForTier(*tr.Tier)
		// A fresh activation supersedes any scheduled change.
		t.ScheduledTier = nil
	}
	if tr.PremiumUntil != nil {
		t.PremiumUntil = tr.PremiumUntil
	}
	if tr.AutoRenew != nil {
		t.AutoRenew = *tr.AutoRenew
	}
	if tr.ScheduledTier != nil {
		t.ScheduledTier = tr.ScheduledTier
	}
}

func lockTenant(ctx context.Context, tx pgx.Tx, tenantID string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1 FOR UPDATE`
	return scanTenant(tx.QueryRow(ctx, query, tenantID))
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PreapprovalID, &sub.Plan, &sub.Amount, &sub.Currency,
		&sub.Status, &sub.ExternalReference, &sub.NextBillingDate, &sub.CancelledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription")
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}
