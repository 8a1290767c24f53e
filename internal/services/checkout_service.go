package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bloomora/api/internal/domain"
	"github.com/bloomora/api/internal/repositories"
)

const (
	orderIDPrefix         = "ord_"
	checkoutOuterAttempts = 5

	defaultDeliveryLeadTime = 120 * time.Hour

	notificationOrderPlaced = "order.placed"
)

var (
	// ErrCheckoutUnauthenticated indicates no authenticated buyer was supplied.
	ErrCheckoutUnauthenticated = errors.New("checkout: unauthenticated")
	// ErrCheckoutInvalidInput indicates the caller supplied malformed or missing fields.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutProductValidation aggregates per-item product failures.
	ErrCheckoutProductValidation = errors.New("checkout: product validation failed")
	// ErrCheckoutTotalMismatch indicates the client total does not reconcile with the server computation.
	ErrCheckoutTotalMismatch = errors.New("checkout: total mismatch")
	// ErrCheckoutStockReservation indicates the ledger could not reserve every line; the order was rolled back.
	ErrCheckoutStockReservation = errors.New("checkout: stock reservation failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// LineItemError names one product that failed checkout validation.
type LineItemError struct {
	ProductRef string
	Reason     string
	Requested  int64
	Available  int64
}

// ProductValidationError carries every per-item failure collected during
// checkout validation. No stock is touched and no order is persisted when it
// is returned.
type ProductValidationError struct {
	Lines []LineItemError
}

// Error implements the error interface.
func (e *ProductValidationError) Error() string {
	if e == nil || len(e.Lines) == 0 {
		return ErrCheckoutProductValidation.Error()
	}
	reasons := make([]string, len(e.Lines))
	for i, line := range e.Lines {
		reasons[i] = fmt.Sprintf("%s: %s", line.ProductRef, line.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrCheckoutProductValidation.Error(), strings.Join(reasons, "; "))
}

// Unwrap lets errors.Is match the checkout sentinel.
func (e *ProductValidationError) Unwrap() error {
	return ErrCheckoutProductValidation
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders           repositories.OrderRepository
	Stock            repositories.ProductStockRepository
	Numbers          OrderNumberGenerator
	Notifier         OrderNotifier
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)
	DeliveryLeadTime time.Duration
}

type checkoutService struct {
	orders   repositories.OrderRepository
	stock    repositories.ProductStockRepository
	numbers  OrderNumberGenerator
	notifier OrderNotifier
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
	leadTime time.Duration
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("checkout service: stock repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("checkout service: order number generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	leadTime := deps.DeliveryLeadTime
	if leadTime <= 0 {
		leadTime = defaultDeliveryLeadTime
	}

	return &checkoutService{
		orders:   deps.Orders,
		stock:    deps.Stock,
		numbers:  deps.Numbers,
		notifier: deps.Notifier,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		leadTime: leadTime,
	}, nil
}

// CreateOrder validates the request, persists the order, and reserves stock
// as one logical unit. When the ledger cannot satisfy every line the freshly
// created order is deleted before the error is returned, preserving the
// invariant that an order exists only if its stock was fully reserved.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, ErrCheckoutUnauthenticated
	}

	if err := validateCheckoutInput(cmd); err != nil {
		return Order{}, err
	}

	stocks, err := s.stock.FindByRefs(ctx, lineProductRefs(cmd.LineItems))
	if err != nil {
		return Order{}, s.translateStockError(ctx, err)
	}

	// Collect every per-item failure rather than failing fast; the ledger's
	// conditional decrement below remains the authority on availability.
	if lineErrs := validateLineItems(cmd.LineItems, stocks); len(lineErrs) > 0 {
		return Order{}, &ProductValidationError{Lines: lineErrs}
	}

	items := buildCheckoutOrderItems(cmd.LineItems, stocks)

	var itemSubtotal float64
	for _, item := range items {
		itemSubtotal += item.LineTotal()
	}
	expectedTotal := domain.ComputeOrderTotal(itemSubtotal, cmd.ShippingCost, cmd.Tax, cmd.Discount)
	if !domain.MoneyEquals(expectedTotal, cmd.TotalAmount) {
		return Order{}, fmt.Errorf("%w: expected %.2f but caller supplied %.2f", ErrCheckoutTotalMismatch, expectedTotal, cmd.TotalAmount)
	}

	number, err := s.obtainOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	status := domain.OrderStatusPending
	paymentStatus := domain.PaymentStatusPending
	if cmd.PaymentMethod.IsPrepaid() {
		status = domain.OrderStatusPendingVerification
		paymentStatus = domain.PaymentStatusPaid
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     number,
		BuyerID:         buyerID,
		BuyerEmail:      strings.TrimSpace(cmd.BuyerEmail),
		LineItems:       items,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cloneAddress(cmd.BillingAddress),
		Currency:        cmd.Currency,
		Subtotal:        itemSubtotal,
		ShippingCost:    cmd.ShippingCost,
		Tax:             cmd.Tax,
		Discount:        cmd.Discount,
		TotalAmount:     expectedTotal,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   paymentStatus,
		Status:          status,
		StatusHistory: map[OrderStatus]StatusHistoryEntry{
			status: {Timestamp: now, UpdatedBy: buyerID},
		},
		EstimatedDeliveryDate: now.Add(s.leadTime),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	stockLines := aggregateStockLines(cmd.LineItems)
	result, err := s.stock.DecrementBatch(ctx, repositories.StockDecrementRequest{
		Lines:    stockLines,
		OrderRef: order.ID,
		Now:      now,
	})
	if err != nil {
		s.rollbackOrder(ctx, order.ID, "decrement_error")
		return Order{}, s.translateStockError(ctx, err)
	}
	if result.Modified != len(stockLines) {
		s.rollbackOrder(ctx, order.ID, "partial_decrement")
		return Order{}, s.reservationFailure(result)
	}

	s.notify(ctx, OrderNotification{
		Kind:          notificationOrderPlaced,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		BuyerEmail:    order.BuyerEmail,
		CurrentStatus: order.Status,
		ActorID:       buyerID,
		OccurredAt:    now,
	})

	return order, nil
}

func (s *checkoutService) obtainOrderNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < checkoutOuterAttempts; attempt++ {
		number, err := s.numbers.Generate(ctx)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, ErrOrderNumberExhausted) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %d generator calls", ErrOrderNumberExhausted, checkoutOuterAttempts)
}

// rollbackOrder is the compensating action for a failed stock reservation.
// The delete runs synchronously before the checkout error is returned so a
// partial order is never visible to callers.
func (s *checkoutService) rollbackOrder(ctx context.Context, orderID string, reason string) {
	if err := s.orders.Delete(ctx, orderID); err != nil {
		s.logger(ctx, "checkout.rollback_failed", map[string]any{
			"orderId": orderID,
			"reason":  reason,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) reservationFailure(result repositories.StockDecrementResult) error {
	if len(result.Failed) == 0 {
		return ErrCheckoutStockReservation
	}
	reasons := make([]string, len(result.Failed))
	for i, failure := range result.Failed {
		reasons[i] = fmt.Sprintf("%s: %s", failure.ProductRef, failure.Reason)
	}
	return fmt.Errorf("%w: %s", ErrCheckoutStockReservation, strings.Join(reasons, "; "))
}

func (s *checkoutService) notify(ctx context.Context, notification OrderNotification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendOrderNotification(ctx, notification); err != nil {
		s.logger(ctx, "checkout.notification_failed", map[string]any{
			"kind":    notification.Kind,
			"orderId": notification.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: order already exists", ErrCheckoutUnavailable)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: order store unavailable", ErrCheckoutUnavailable)
		}
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func (s *checkoutService) translateStockError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	s.logger(ctx, "checkout.stock_error", map[string]any{"error": err.Error()})
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient {
		return fmt.Errorf("%w: %v", ErrCheckoutStockReservation, err)
	}
	return fmt.Errorf("%w: stock ledger unavailable", ErrCheckoutUnavailable)
}

func validateCheckoutInput(cmd CreateOrderCommand) error {
	if len(cmd.LineItems) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrCheckoutInvalidInput)
	}
	for _, line := range cmd.LineItems {
		if strings.TrimSpace(line.ProductRef) == "" {
			return fmt.Errorf("%w: line item product ref is required", ErrCheckoutInvalidInput)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: line item quantity must be at least 1", ErrCheckoutInvalidInput)
		}
	}
	if err := domain.ValidateAddress(cmd.ShippingAddress); err != nil {
		return fmt.Errorf("%w: shipping %v", ErrCheckoutInvalidInput, err)
	}
	if cmd.BillingAddress != nil {
		if err := domain.ValidateAddress(*cmd.BillingAddress); err != nil {
			return fmt.Errorf("%w: billing %v", ErrCheckoutInvalidInput, err)
		}
	}
	if !domain.ValidCurrency(cmd.Currency) {
		return fmt.Errorf("%w: currency must be INR or USD", ErrCheckoutInvalidInput)
	}
	if !domain.ValidPaymentMethod(cmd.PaymentMethod) {
		return fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if email := strings.TrimSpace(cmd.BuyerEmail); email != "" && !domain.ValidEmail(email) {
		return fmt.Errorf("%w: buyer email is malformed", ErrCheckoutInvalidInput)
	}
	if cmd.Subtotal <= 0 {
		return fmt.Errorf("%w: subtotal must be positive", ErrCheckoutInvalidInput)
	}
	if cmd.TotalAmount <= 0 {
		return fmt.Errorf("%w: total amount must be positive", ErrCheckoutInvalidInput)
	}
	if cmd.ShippingCost < 0 || cmd.Tax < 0 || cmd.Discount < 0 {
		return fmt.Errorf("%w: monetary components must not be negative", ErrCheckoutInvalidInput)
	}
	return nil
}

func validateLineItems(lines []CheckoutLineItem, stocks map[string]ProductStock) []LineItemError {
	requested := aggregateQuantities(lines)

	var lineErrs []LineItemError
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if seen[ref] {
			continue
		}
		seen[ref] = true

		stock, ok := stocks[ref]
		if !ok {
			lineErrs = append(lineErrs, LineItemError{
				ProductRef: ref,
				Reason:     "product not found",
				Requested:  requested[ref],
			})
			continue
		}
		if requested[ref] > stock.Stock {
			lineErrs = append(lineErrs, LineItemError{
				ProductRef: ref,
				Reason:     "insufficient stock",
				Requested:  requested[ref],
				Available:  stock.Stock,
			})
		}
		if stock.UnitPrice <= 0 {
			lineErrs = append(lineErrs, LineItemError{
				ProductRef: ref,
				Reason:     "non-positive unit price",
				Requested:  requested[ref],
			})
		}
	}
	return lineErrs
}

func buildCheckoutOrderItems(lines []CheckoutLineItem, stocks map[string]ProductStock) []OrderLineItem {
	items := make([]OrderLineItem, 0, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		stock := stocks[ref]
		items = append(items, OrderLineItem{
			ProductRef: ref,
			Name:       stock.Name,
			Size:       cloneStringPtr(line.Size),
			Color:      cloneStringPtr(line.Color),
			Quantity:   line.Quantity,
			UnitPrice:  stock.UnitPrice,
		})
	}
	return items
}

func lineProductRefs(lines []CheckoutLineItem) []string {
	refs := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

func aggregateQuantities(lines []CheckoutLineItem) map[string]int64 {
	totals := make(map[string]int64, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" {
			continue
		}
		totals[ref] += line.Quantity
	}
	return totals
}

func aggregateStockLines(lines []CheckoutLineItem) []repositories.StockLine {
	totals := aggregateQuantities(lines)
	refs := make([]string, 0, len(totals))
	for ref := range totals {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	stockLines := make([]repositories.StockLine, 0, len(refs))
	for _, ref := range refs {
		stockLines = append(stockLines, repositories.StockLine{ProductRef: ref, Quantity: totals[ref]})
	}
	return stockLines
}
