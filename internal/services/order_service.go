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

const (
	notificationStatusChanged = "order.status.changed"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller may not act on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates an illegal lifecycle transition was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderMissingTrackingInfo indicates a ship transition without tracking details.
	ErrOrderMissingTrackingInfo = errors.New("order: missing tracking info")
	// ErrOrderConflict indicates a concurrent update collided.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store is unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// orderStateTransitions enumerates the legal lifecycle moves. Every pair not
// listed here is rejected. CANCELLATION_REQUESTED is entered and exited only
// by the cancellation workflow, never by a direct transition.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:             {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusPendingVerification: {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:           {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:             {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, candidate := range orderStateTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// notifiableStatuses lists the targets that fire a buyer notification.
var notifiableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusConfirmed: true,
	domain.OrderStatusShipped:   true,
	domain.OrderStatusDelivered: true,
	domain.OrderStatusCancelled: true,
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Notifier   OrderNotifier
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	uow      repositories.UnitOfWork
	notifier OrderNotifier
	now      func() time.Time
	sanitize *bluemonday.Policy
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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

	return &orderService{
		orders:   deps.Orders,
		uow:      uow,
		notifier: deps.Notifier,
		now: func() time.Time {
			return clock().UTC()
		},
		sanitize: bluemonday.StrictPolicy(),
		logger:   logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if !domain.ValidOrderNumber(orderNumber) {
		return Order{}, fmt.Errorf("%w: malformed order number %q", ErrOrderInvalidInput, orderNumber)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Pagination.PageSize <= 0 {
		filter.Pagination.PageSize = defaultOrderPageSize
	}
	if filter.Pagination.PageSize > maxOrderPageSize {
		filter.Pagination.PageSize = maxOrderPageSize
	}
	for _, status := range filter.Filter.Statuses {
		if !validOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus applies one lifecycle move, enforcing the transition
// table and the ship/deliver side-effect contract.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	if !validOrderStatus(cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	if cmd.TargetStatus == domain.OrderStatusCancellationRequested {
		return Order{}, fmt.Errorf("%w: CANCELLATION_REQUESTED is set by the cancellation workflow", ErrOrderInvalidTransition)
	}

	var (
		updated  Order
		previous domain.OrderStatus
		notifyAt time.Time
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.HasPendingCancellation() {
			return fmt.Errorf("%w: order has a pending cancellation request", ErrOrderInvalidTransition)
		}
		if !canTransition(order.Status, cmd.TargetStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, cmd.TargetStatus)
		}

		now := s.now()
		if cmd.TargetStatus == domain.OrderStatusShipped {
			tracking := optionalString(cmd.TrackingNumber)
			courier := optionalString(cmd.CourierProvider)
			if tracking == "" || courier == "" {
				return fmt.Errorf("%w: tracking number and courier provider are required to ship", ErrOrderMissingTrackingInfo)
			}
			order.TrackingNumber = valuePtr(tracking)
			order.CourierProvider = valuePtr(courier)
			if url := optionalString(cmd.TrackingURL); url != "" {
				order.TrackingURL = valuePtr(url)
			}
		}
		if cmd.TargetStatus == domain.OrderStatusDelivered && order.PaymentMethod == domain.PaymentMethodCOD {
			order.PaymentStatus = domain.PaymentStatusPaid
		}

		previous = order.Status
		order.Status = cmd.TargetStatus
		appendStatusHistory(&order, cmd.TargetStatus, actorID, s.sanitizeOptional(cmd.Note), now)
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		notifyAt = now
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	// Notify only once the transaction has committed.
	s.notifyStatusChange(ctx, updated, previous, actorID, notifyAt)
	return updated, nil
}

func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidPaymentStatus(cmd.PaymentStatus) {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.PaymentStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.PaymentStatus = cmd.PaymentStatus
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) AddNote(ctx context.Context, cmd AddOrderNoteCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	note := s.sanitize.Sanitize(strings.TrimSpace(cmd.Note))
	if note == "" {
		return Order{}, fmt.Errorf("%w: note text is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	now := s.now()
	order.Notes = append(order.Notes, OrderNote{Note: note, AddedBy: actorID, Timestamp: now})
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// TrackOrder serves the anonymous lookup. A wrong number/email pair reports
// not found without revealing which half was wrong.
func (s *orderService) TrackOrder(ctx context.Context, query TrackOrderQuery) (OrderTrackingView, error) {
	orderNumber := strings.TrimSpace(query.OrderNumber)
	email := strings.TrimSpace(query.Email)
	if !domain.ValidOrderNumber(orderNumber) || !domain.ValidEmail(email) {
		return OrderTrackingView{}, fmt.Errorf("%w: order number and email are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return OrderTrackingView{}, s.mapRepositoryError(err)
	}
	if !strings.EqualFold(order.BuyerEmail, email) {
		return OrderTrackingView{}, ErrOrderNotFound
	}

	items := make([]TrackingLineItem, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		items = append(items, TrackingLineItem{Name: item.Name, Quantity: item.Quantity})
	}
	return OrderTrackingView{
		OrderNumber:           order.OrderNumber,
		Status:                order.Status,
		PaymentStatus:         order.PaymentStatus,
		Items:                 items,
		TrackingNumber:        cloneStringPtr(order.TrackingNumber),
		CourierProvider:       cloneStringPtr(order.CourierProvider),
		TrackingURL:           cloneStringPtr(order.TrackingURL),
		EstimatedDeliveryDate: order.EstimatedDeliveryDate,
		CreatedAt:             order.CreatedAt,
	}, nil
}

// DeleteOrder removes the order record. Stock is deliberately untouched;
// restoring inventory is the cancellation workflow's job.
func (s *orderService) DeleteOrder(ctx context.Context, orderID string, actorID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.deleted", map[string]any{
		"orderId": orderID,
		"actorId": strings.TrimSpace(actorID),
	})
	return nil
}

func (s *orderService) sanitizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := s.sanitize.Sanitize(strings.TrimSpace(*value))
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func (s *orderService) notifyStatusChange(ctx context.Context, order Order, previous OrderStatus, actorID string, occurredAt time.Time) {
	if s.notifier == nil || !notifiableStatuses[order.Status] {
		return
	}
	notification := OrderNotification{
		Kind:           notificationStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		BuyerID:        order.BuyerID,
		BuyerEmail:     order.BuyerEmail,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		ActorID:        actorID,
		OccurredAt:     occurredAt,
	}
	if err := s.notifier.SendOrderNotification(ctx, notification); err != nil {
		s.logger(ctx, "order.notification_failed", map[string]any{
			"kind":    notification.Kind,
			"orderId": order.ID,
			"status":  string(order.Status),
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapOrderRepositoryError(err)
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

func validOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending,
		domain.OrderStatusPendingVerification,
		domain.OrderStatusConfirmed,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
		domain.OrderStatusCancellationRequested:
		return true
	default:
		return false
	}
}

func appendStatusHistory(order *Order, status OrderStatus, actorID string, note *string, at time.Time) {
	if order.StatusHistory == nil {
		order.StatusHistory = make(map[OrderStatus]StatusHistoryEntry)
	}
	order.StatusHistory[status] = StatusHistoryEntry{Timestamp: at, UpdatedBy: actorID, Note: note}
}

// Shared pointer and clone helpers -----------------------------------------

func valuePtr[T any](value T) *T {
	return &value
}

func optionalString(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

func cloneAddress(addr *domain.Address) *domain.Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	cloned.Line2 = cloneStringPtr(addr.Line2)
	cloned.State = cloneStringPtr(addr.State)
	return &cloned
}

// noopUnitOfWork runs the supplied function without transactional scope.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
