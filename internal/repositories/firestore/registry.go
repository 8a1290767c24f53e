package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/bloomora/api/internal/platform/firestore"
	"github.com/bloomora/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	stock    *ProductStockRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the order and stock repositories over a shared provider.
// The health repository is optional; callers without dependency checks get a
// nil Health().
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewProductStockRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		stock:    stock,
		health:   health,
	}, nil
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository {
	return r.orders
}

// ProductStock returns the stock ledger repository.
func (r *Registry) ProductStock() repositories.ProductStockRepository {
	return r.stock
}

// Health returns the dependency health repository, if configured.
func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}

// RunInTx executes fn directly. Cross-aggregate consistency is handled by
// the services' explicit compensating protocol; the stock ledger's own
// conditional mutations run in their own Firestore transactions.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction function is required")
	}
	return fn(ctx)
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
