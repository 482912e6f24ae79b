package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
)

const tenantColumns = `id, name, owner_user_id, contact_email, tier, subscription_status,
	premium_until, auto_renew, scheduled_tier, menu_limit,
	mp_access_token, mp_customer_id, mp_card_id, created_at, updated_at`

// TenantStore implements domain.TenantRepository on PostgreSQL.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a new TenantStore.
func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

// Get retrieves a tenant by ID.
func (s *TenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(s.pool.QueryRow(ctx, query, id))
}

// UpdateBilling writes the billing-owned columns of a tenant.
func (s *TenantStore) UpdateBilling(ctx context.Context, t *domain.Tenant) error {
	query := `
		UPDATE tenants SET
			tier = $2,
			subscription_status = $3,
			premium_until = $4,
			auto_renew = $5,
			scheduled_tier = $6,
			menu_limit = $7,
			updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.Tier, t.SubscriptionStatus, t.PremiumUntil,
		t.AutoRenew, tierPtr(t.ScheduledTier), t.MenuLimit)
	if err != nil {
		return fmt.Errorf("failed to update tenant billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("tenant")
	}
	return nil
}

// Downgrade resets a tenant to free-tier defaults and appends a log entry
// in the same transaction.
func (s *TenantStore) Downgrade(ctx context.Context, tenantID, reason string, metadata map[string]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin downgrade tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE tenants SET
			tier = 'free',
			subscription_status = 'active',
			premium_until = NULL,
			auto_renew = FALSE,
			scheduled_tier = NULL,
			menu_limit = $2,
			updated_at = now()
		WHERE id = $1
	`, tenantID, domain.FreeTierMenuLimit)
	if err != nil {
		return fmt.Errorf("failed to downgrade tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("tenant")
	}

	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO subscription_logs (id, tenant_id, event_type, description, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), tenantID, domain.LogSweepExpired, reason, meta)
	if err != nil {
		return fmt.Errorf("failed to append downgrade log: %w", err)
	}

	return tx.Commit(ctx)
}

// ListExpiredActive returns paid tenants whose period end has passed.
func (s *TenantStore) ListExpiredActive(ctx context.Context, now time.Time) ([]*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE tier <> 'free'
		  AND subscription_status IN ('active', 'authorized')
		  AND premium_until IS NOT NULL
		  AND premium_until < $1
		ORDER BY premium_until
	`
	return s.list(ctx, query, now)
}

// ListStalePastDue returns past_due tenants whose grace period elapsed.
func (s *TenantStore) ListStalePastDue(ctx context.Context, cutoff time.Time) ([]*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE subscription_status = 'past_due'
		  AND premium_until IS NOT NULL
		  AND premium_until < $1
		ORDER BY premium_until
	`
	return s.list(ctx, query, cutoff)
}

// ListFreeInconsistent returns free tenants carrying residual billing state.
func (s *TenantStore) ListFreeInconsistent(ctx context.Context) ([]*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE tier = 'free'
		  AND (premium_until IS NOT NULL OR subscription_status <> 'active')
	`
	return s.list(ctx, query)
}

// ListPaidMissingExpiry returns paid tenants with no period end recorded.
func (s *TenantStore) ListPaidMissingExpiry(ctx context.Context) ([]*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE tier <> 'free' AND premium_until IS NULL
	`
	return s.list(ctx, query)
}

// ListUpcomingRenewals returns auto-renewing paid tenants whose period ends
// inside the window.
func (s *TenantStore) ListUpcomingRenewals(ctx context.Context, from, to time.Time) ([]*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE tier <> 'free'
		  AND auto_renew = TRUE
		  AND subscription_status IN ('active', 'authorized')
		  AND premium_until IS NOT NULL
		  AND premium_until >= $1
		  AND premium_until < $2
		ORDER BY premium_until
	`
	return s.list(ctx, query, from, to)
}

func (s *TenantStore) list(ctx context.Context, query string, args ...any) ([]*domain.Tenant, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var (
		t             domain.Tenant
		scheduledTier *string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.OwnerUserID, &t.ContactEmail, &t.Tier, &t.SubscriptionStatus,
		&t.PremiumUntil, &t.AutoRenew, &scheduledTier, &t.MenuLimit,
		&t.MPAccessToken, &t.MPCustomerID, &t.MPCardID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("tenant")
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	if scheduledTier != nil {
		tier := domain.Tier(*scheduledTier)
		t.ScheduledTier = &tier
	}
	return &t, nil
}

func tierPtr(t *domain.Tier) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log metadata: %w", err)
	}
	return b, nil
}
