package repositories

import (
	"context"
	"time"

	domain "github.com/bloomora/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	ProductStock() ProductStockRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides query helpers for
// buyers, admins and the unauthenticated tracking lookup.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// Delete removes the order document. Used by the checkout compensating
	// rollback and by the admin hard delete; neither touches stock.
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ExistsByNumber(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProductStockRepository is the accessor for the external stock ledger. The
// conditional mutation operations are the authority on insufficiency; callers
// must not rely on a prior read staying valid.
type ProductStockRepository interface {
	FindByRefs(ctx context.Context, productRefs []string) (map[string]domain.ProductStock, error)
	// DecrementBatch applies every line's decrement in one transactional
	// batch. Lines whose remaining stock would go negative are reported in
	// the result rather than applied; the batch commits only when every
	// line fits, otherwise nothing is modified.
	DecrementBatch(ctx context.Context, req StockDecrementRequest) (StockDecrementResult, error)
	// Increment restores quantity to a single product. Used by
	// cancellation approval, independently per line item.
	Increment(ctx context.Context, productRef string, quantity int64, now time.Time) (domain.ProductStock, error)
}

// StockDecrementRequest carries the per-product quantities to reserve.
type StockDecrementRequest struct {
	Lines []StockLine
	// OrderRef ties the mutation to the order being created for audit logs.
	OrderRef string
	Now      time.Time
}

// StockLine is one product's share of a batch mutation.
type StockLine struct {
	ProductRef string
	Quantity   int64
}

// StockDecrementResult reports how many lines were applied and which failed.
// Modified < len(lines) means the batch was rolled back in full.
type StockDecrementResult struct {
	Modified int
	Failed   []StockLineFailure
	Stocks   map[string]domain.ProductStock
}

// StockLineFailure names one line that could not be applied.
type StockLineFailure struct {
	ProductRef string
	Requested  int64
	Available  int64
	Reason     string
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows and pages order listings.
type OrderListFilter struct {
	Filter     domain.OrderFilter
	Pagination domain.Pagination
}
