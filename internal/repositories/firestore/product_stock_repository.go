package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bloomora/api/internal/domain"
	pfirestore "github.com/bloomora/api/internal/platform/firestore"
	"github.com/bloomora/api/internal/repositories"
)

const productsCollection = "products"

// ProductStockRepository mutates the per-product stock ledger. All mutations
// run inside Firestore transactions so that a concurrent checkout can never
// observe or produce negative stock.
type ProductStockRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

func NewProductStockRepository(provider *pfirestore.Provider) (*ProductStockRepository, error) {
	if provider == nil {
		return nil, errors.New("product stock repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductStockRepository{provider: provider, products: products}, nil
}

func (r *ProductStockRepository) FindByRefs(ctx context.Context, productRefs []string) (map[string]domain.ProductStock, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("product stock repository not initialised")
	}

	stocks := make(map[string]domain.ProductStock, len(productRefs))
	for _, ref := range productRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, ok := stocks[ref]; ok {
			continue
		}
		doc, err := r.products.Get(ctx, ref)
		if err != nil {
			if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
				continue
			}
			return nil, wrapStockError("products.findByRefs", err)
		}
		stocks[ref] = doc.Data.toDomain(doc.ID)
	}
	return stocks, nil
}

// DecrementBatch applies every line inside one transaction. When any line
// cannot be satisfied the transaction aborts without writes and the failures
// are reported with Modified set to zero.
func (r *ProductStockRepository) DecrementBatch(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockDecrementResult{}, errors.New("product stock repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockDecrementResult{}, errors.New("stock decrement: at least one line is required")
	}

	now := req.Now.UTC()
	var result repositories.StockDecrementResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
			id  string
		}

		var (
			failures []repositories.StockLineFailure
			writes   []pendingWrite
		)
		stocks := make(map[string]domain.ProductStock, len(req.Lines))

		for _, line := range req.Lines {
			productRef := strings.TrimSpace(line.ProductRef)
			if productRef == "" {
				return repositories.NewStockError(repositories.StockErrorUnknown, "stock decrement: product ref is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock decrement: quantity for %s must be > 0", productRef), nil)
			}

			docRef, err := r.products.DocumentRef(ctx, productRef)
			if err != nil {
				return err
			}
			snap, err := tx.Get(docRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					failures = append(failures, repositories.StockLineFailure{
						ProductRef: productRef,
						Requested:  line.Quantity,
						Reason:     "product not found",
					})
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productRef, err)
			}
			if doc.Stock < line.Quantity {
				failures = append(failures, repositories.StockLineFailure{
					ProductRef: productRef,
					Requested:  line.Quantity,
					Available:  doc.Stock,
					Reason:     "insufficient stock",
				})
				continue
			}
			doc.Stock -= line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: docRef, doc: doc, id: productRef})
		}

		if len(failures) > 0 {
			// Abort with no writes. The partial view is reported to the
			// caller, which compensates by deleting the order.
			result = repositories.StockDecrementResult{Modified: 0, Failed: failures}
			return nil
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
			stocks[w.id] = w.doc.toDomain(w.id)
		}
		result = repositories.StockDecrementResult{Modified: len(writes), Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.StockDecrementResult{}, wrapStockError("products.decrementBatch", err)
	}
	return result, nil
}

// Increment restores quantity to one product. Callers treat failures as
// best-effort and log them.
func (r *ProductStockRepository) Increment(ctx context.Context, productRef string, quantity int64, now time.Time) (domain.ProductStock, error) {
	if r == nil || r.provider == nil {
		return domain.ProductStock{}, errors.New("product stock repository not initialised")
	}
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorUnknown, "stock increment: product ref is required", nil)
	}
	if quantity <= 0 {
		return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock increment: quantity for %s must be > 0", productRef), nil)
	}

	var restored domain.ProductStock
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.products.DocumentRef(ctx, productRef)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productRef), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productRef, err)
		}
		doc.Stock += quantity
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		restored = doc.toDomain(productRef)
		return nil
	})
	if err != nil {
		return domain.ProductStock{}, wrapStockError("products.increment", err)
	}
	return restored, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name      string    `firestore:"name"`
	UnitPrice float64   `firestore:"price"`
	Stock     int64     `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.ProductStock {
	return domain.ProductStock{
		ProductRef: id,
		Name:       strings.TrimSpace(d.Name),
		UnitPrice:  d.UnitPrice,
		Stock:      d.Stock,
		UpdatedAt:  d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
