package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/bloomora/api/internal/domain"
	"github.com/bloomora/api/internal/repositories"
)

const notificationCancellationResolved = "order.cancellation.resolved"

var (
	// ErrCancellationInvalidInput signals missing or malformed request fields.
	ErrCancellationInvalidInput = errors.New("cancellation: invalid input")
	// ErrCancellationForbidden indicates the caller does not own the order.
	ErrCancellationForbidden = errors.New("cancellation: forbidden")
	// ErrCancellationNotAllowed indicates the order status admits no cancellation request.
	ErrCancellationNotAllowed = errors.New("cancellation: order status does not allow cancellation")
	// ErrCancellationPending indicates a request is already awaiting resolution.
	ErrCancellationPending = errors.New("cancellation: request already pending")
	// ErrCancellationNoneActive indicates there is no pending request to resolve.
	ErrCancellationNoneActive = errors.New("cancellation: no pending request")
)

// CancellationServiceDeps wires the dependencies required by the
// cancellation workflow.
type CancellationServiceDeps struct {
	Orders     repositories.OrderRepository
	Stock      repositories.ProductStockRepository
	UnitOfWork repositories.UnitOfWork
	Notifier   OrderNotifier
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type cancellationService struct {
	orders   repositories.OrderRepository
	stock    repositories.ProductStockRepository
	uow      repositories.UnitOfWork
	notifier OrderNotifier
	now      func() time.Time
	sanitize *bluemonday.Policy
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCancellationService constructs a CancellationService validating
// required dependencies.
func NewCancellationService(deps CancellationServiceDeps) (CancellationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("cancellation service: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("cancellation service: stock repository is required")
	}

	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cancellationService{
		orders:   deps.Orders,
		stock:    deps.Stock,
		uow:      uow,
		notifier: deps.Notifier,
		now: func() time.Time {
			return clock().UTC()
		},
		sanitize: bluemonday.StrictPolicy(),
		logger:   logger,
	}, nil
}

// RequestCancellation records a buyer's cancellation ask. The order moves to
// CANCELLATION_REQUESTED and stays there until an admin resolves the request.
func (s *cancellationService) RequestCancellation(ctx context.Context, cmd RequestCancellationCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrCancellationInvalidInput)
	}
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrCancellationInvalidInput)
	}
	reason := s.sanitize.Sanitize(strings.TrimSpace(cmd.Reason))
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrCancellationInvalidInput)
	}

	var updated Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.BuyerID != buyerID {
			return fmt.Errorf("%w: order belongs to another buyer", ErrCancellationForbidden)
		}
		if order.HasPendingCancellation() {
			return ErrCancellationPending
		}
		if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusConfirmed {
			return fmt.Errorf("%w: status %s", ErrCancellationNotAllowed, order.Status)
		}

		now := s.now()
		order.CancellationRequest = &domain.CancellationRequest{
			Status:      domain.CancellationStatusPending,
			Reason:      reason,
			RequestedBy: buyerID,
			RequestedAt: now,
		}
		order.Status = domain.OrderStatusCancellationRequested
		appendStatusHistory(&order, order.Status, buyerID, valuePtr(reason), now)
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// ProcessCancellation resolves a pending request. Approval cancels the order
// and restores the reserved quantities; rejection returns the order to the
// status it held before the request, derived from its history.
func (s *cancellationService) ProcessCancellation(ctx context.Context, cmd ProcessCancellationCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrCancellationInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrCancellationInvalidInput)
	}
	if cmd.Action != domain.CancellationActionApprove && cmd.Action != domain.CancellationActionReject {
		return Order{}, fmt.Errorf("%w: action must be APPROVED or REJECTED", ErrCancellationInvalidInput)
	}
	adminNote := s.sanitize.Sanitize(strings.TrimSpace(cmd.AdminNote))
	if adminNote == "" {
		return Order{}, fmt.Errorf("%w: admin note is required", ErrCancellationInvalidInput)
	}

	var updated Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if !order.HasPendingCancellation() {
			return ErrCancellationNoneActive
		}

		now := s.now()
		request := *order.CancellationRequest
		request.ProcessedBy = valuePtr(actorID)
		request.ProcessedAt = valuePtr(now)
		request.AdminNote = valuePtr(adminNote)

		switch cmd.Action {
		case domain.CancellationActionApprove:
			request.Status = domain.CancellationStatusApproved
			order.Status = domain.OrderStatusCancelled
		case domain.CancellationActionReject:
			request.Status = domain.CancellationStatusRejected
			order.Status = revertStatusAfterRejection(order)
		}
		order.CancellationRequest = &request
		appendStatusHistory(&order, order.Status, actorID, valuePtr(adminNote), now)
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if cmd.Action == domain.CancellationActionApprove {
		s.restoreStock(ctx, updated)
	}
	s.notifyResolution(ctx, updated, cmd.Action, actorID)
	return updated, nil
}

// revertStatusAfterRejection derives the pre-request status from the history
// rather than a stored field: an order that was ever confirmed goes back to
// CONFIRMED, everything else to PENDING.
func revertStatusAfterRejection(order Order) domain.OrderStatus {
	if _, ok := order.StatusHistory[domain.OrderStatusConfirmed]; ok {
		return domain.OrderStatusConfirmed
	}
	return domain.OrderStatusPending
}

// restoreStock returns the ordered quantities to the ledger. Each line is a
// separate best-effort increment; a failed line is logged for manual
// reconciliation and never blocks the approval.
func (s *cancellationService) restoreStock(ctx context.Context, order Order) {
	now := s.now()
	for _, item := range order.LineItems {
		if _, err := s.stock.Increment(ctx, item.ProductRef, item.Quantity, now); err != nil {
			s.logger(ctx, "cancellation.stock_restore_failed", map[string]any{
				"orderId":    order.ID,
				"productRef": item.ProductRef,
				"quantity":   item.Quantity,
				"error":      err.Error(),
			})
		}
	}
}

func (s *cancellationService) notifyResolution(ctx context.Context, order Order, action CancellationAction, actorID string) {
	if s.notifier == nil {
		return
	}
	notification := OrderNotification{
		Kind:          notificationCancellationResolved,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		BuyerEmail:    order.BuyerEmail,
		CurrentStatus: order.Status,
		ActorID:       actorID,
		OccurredAt:    s.now(),
		Metadata:      map[string]any{"action": string(action)},
	}
	if err := s.notifier.SendOrderNotification(ctx, notification); err != nil {
		s.logger(ctx, "cancellation.notification_failed", map[string]any{
			"orderId": order.ID,
			"action":  string(action),
			"error":   err.Error(),
		})
	}
}
