package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
)

// ProductStore implements domain.ProductRepository on PostgreSQL.
type ProductStore struct {
	pool *pgxpool.Pool
}

// NewProductStore creates a new ProductStore.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

// Get retrieves one catalog item scoped to its tenant. The tenant filter is
// part of the query so a checkout can never price another tenant's product.
func (s *ProductStore) Get(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, price, available
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID).Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("product")
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	return &p, nil
}
