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

const orderColumns = `id, tenant_id, total, currency, status, idempotency_key,
	external_reference, preference_id, payment_id, customer_name, customer_phone,
	delivery_type, delivery_address, delivery_notes, created_at, updated_at`

// OrderStore implements domain.OrderRepository on PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// CreateWithItems persists the order and its recomputed lines in one
// transaction.
func (s *OrderStore) CreateWithItems(ctx context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin order tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, tenant_id, total, currency, status, idempotency_key,
			external_reference, customer_name, customer_phone,
			delivery_type, delivery_address, delivery_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.ID, o.TenantID, o.Total, o.Currency, o.Status, o.IdempotencyKey,
		o.ExternalReference, o.CustomerName, o.CustomerPhone,
		o.DeliveryType, o.DeliveryAddress, o.DeliveryNotes)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError("order already exists for this idempotency key")
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = o.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, unit_price,
				quantity, extras, comment, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, item.ID, item.OrderID, item.ProductID, item.Name, item.UnitPrice,
			item.Quantity, item.Extras, item.Comment, item.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

// Get retrieves an order with its items.
func (s *OrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByExternalReference retrieves an order by our own reference. Used by the
// webhook path to tie a provider payment back to its order.
func (s *OrderStore) GetByExternalReference(ctx context.Context, ref string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE external_reference = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, ref))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// SetPreference records the checkout preference the provider issued.
func (s *OrderStore) SetPreference(ctx context.Context, orderID, preferenceID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET preference_id = $2, updated_at = now() WHERE id = $1
	`, orderID, preferenceID)
	if err != nil {
		return fmt.Errorf("failed to set order preference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("order")
	}
	return nil
}

// UpdatePayment records the payment outcome reported by the provider.
func (s *OrderStore) UpdatePayment(ctx context.Context, orderID string, status domain.PaymentStatus, paymentID string) error {
	var pid *string
	if paymentID != "" {
		pid = &paymentID
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $2, payment_id = COALESCE($3, payment_id), updated_at = now()
		WHERE id = $1
	`, orderID, status, pid)
	if err != nil {
		return fmt.Errorf("failed to update order payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("order")
	}
	return nil
}

func (s *OrderStore) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, name, unit_price, quantity, extras, comment, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name,
			&item.UnitPrice, &item.Quantity, &item.Extras, &item.Comment, &item.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.TenantID, &o.Total, &o.Currency, &o.Status, &o.IdempotencyKey,
		&o.ExternalReference, &o.PreferenceID, &o.PaymentID, &o.CustomerName, &o.CustomerPhone,
		&o.DeliveryType, &o.DeliveryAddress, &o.DeliveryNotes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("order")
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}
