package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/bloomora/api/internal/domain"
	"github.com/bloomora/api/internal/repositories"
)

type stubOrderRepository struct {
	mu        sync.Mutex
	insertFn  func(context.Context, domain.Order) error
	updateFn  func(context.Context, domain.Order) error
	deleteFn  func(context.Context, string) error
	findFn    func(context.Context, string) (domain.Order, error)
	byNumber  func(context.Context, string) (domain.Order, error)
	existsFn  func(context.Context, string) (bool, error)
	listFn    func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	inserted  []domain.Order
	updated   []domain.Order
	deletedID []string
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	s.inserted = append(s.inserted, order)
	s.mu.Unlock()
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	s.updated = append(s.updated, order)
	s.mu.Unlock()
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepository) Delete(ctx context.Context, orderID string) error {
	s.mu.Lock()
	s.deletedID = append(s.deletedID, orderID)
	s.mu.Unlock()
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID)
	}
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not configured")
}

func (s *stubOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.byNumber != nil {
		return s.byNumber(ctx, orderNumber)
	}
	return domain.Order{}, errors.New("not configured")
}

func (s *stubOrderRepository) ExistsByNumber(ctx context.Context, orderNumber string) (bool, error) {
	if s.existsFn != nil {
		return s.existsFn(ctx, orderNumber)
	}
	return false, nil
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubStockRepository struct {
	mu          sync.Mutex
	findFn      func(context.Context, []string) (map[string]domain.ProductStock, error)
	decrementFn func(context.Context, repositories.StockDecrementRequest) (repositories.StockDecrementResult, error)
	incrementFn func(context.Context, string, int64, time.Time) (domain.ProductStock, error)
	decrements  []repositories.StockDecrementRequest
	increments  []stockIncrementCall
}

type stockIncrementCall struct {
	ProductRef string
	Quantity   int64
}

func (s *stubStockRepository) FindByRefs(ctx context.Context, refs []string) (map[string]domain.ProductStock, error) {
	if s.findFn != nil {
		return s.findFn(ctx, refs)
	}
	return map[string]domain.ProductStock{}, nil
}

func (s *stubStockRepository) DecrementBatch(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	s.mu.Lock()
	s.decrements = append(s.decrements, req)
	s.mu.Unlock()
	if s.decrementFn != nil {
		return s.decrementFn(ctx, req)
	}
	return repositories.StockDecrementResult{Modified: len(req.Lines)}, nil
}

func (s *stubStockRepository) Increment(ctx context.Context, productRef string, quantity int64, now time.Time) (domain.ProductStock, error) {
	s.mu.Lock()
	s.increments = append(s.increments, stockIncrementCall{ProductRef: productRef, Quantity: quantity})
	s.mu.Unlock()
	if s.incrementFn != nil {
		return s.incrementFn(ctx, productRef, quantity, now)
	}
	return domain.ProductStock{}, nil
}

type stubNumberGenerator struct {
	mu    sync.Mutex
	fn    func(context.Context) (string, error)
	calls int
}

func (s *stubNumberGenerator) Generate(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx)
	}
	return "BO-250807-1432-059-9F3A21BC", nil
}

type stubNotifier struct {
	mu   sync.Mutex
	fn   func(context.Context, OrderNotification) error
	sent []OrderNotification
}

func (s *stubNotifier) SendOrderNotification(ctx context.Context, notification OrderNotification) error {
	s.mu.Lock()
	s.sent = append(s.sent, notification)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, notification)
	}
	return nil
}

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func validShippingAddress() domain.Address {
	return domain.Address{
		Recipient:  "Asha Rao",
		Line1:      "14 Lotus Lane",
		City:       "Bengaluru",
		PostalCode: "560001",
		Country:    "IN",
		Phone:      "9876543210",
	}
}

func validCheckoutCommand() CreateOrderCommand {
	return CreateOrderCommand{
		BuyerID:    "buyer-1",
		BuyerEmail: "asha@example.com",
		LineItems: []CheckoutLineItem{
			{ProductRef: "prod-rose", Quantity: 3},
		},
		ShippingAddress: validShippingAddress(),
		Currency:        domain.CurrencyINR,
		PaymentMethod:   domain.PaymentMethodUPI,
		Subtotal:        300,
		ShippingCost:    10,
		Tax:             0,
		Discount:        0,
		TotalAmount:     310,
	}
}

func roseStock() map[string]domain.ProductStock {
	return map[string]domain.ProductStock{
		"prod-rose": {ProductRef: "prod-rose", Name: "Rose Bouquet", UnitPrice: 100, Stock: 5},
	}
}

func newCheckoutForTest(t *testing.T, orders *stubOrderRepository, stock *stubStockRepository, numbers *stubNumberGenerator, notifier *stubNotifier) CheckoutService {
	t.Helper()
	now := time.Date(2025, 8, 7, 14, 32, 0, 59_000_000, time.UTC)
	deps := CheckoutServiceDeps{
		Orders:      orders,
		Stock:       stock,
		Numbers:     numbers,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TESTULID" },
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCheckoutServicePrepaidOrder(t *testing.T) {
	orders := &stubOrderRepository{}
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return roseStock(), nil
		},
	}
	numbers := &stubNumberGenerator{}
	notifier := &stubNotifier{}
	svc := newCheckoutForTest(t, orders, stock, numbers, notifier)

	order, err := svc.CreateOrder(context.Background(), validCheckoutCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.ID != "ord_01TESTULID" {
		t.Fatalf("expected order id ord_01TESTULID, got %s", order.ID)
	}
	if !domain.ValidOrderNumber(order.OrderNumber) {
		t.Fatalf("order number %q does not match contract", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPendingVerification {
		t.Fatalf("expected PENDING_VERIFICATION for prepaid, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment PAID for prepaid, got %s", order.PaymentStatus)
	}
	if order.Subtotal != 300 || order.TotalAmount != 310 {
		t.Fatalf("unexpected amounts: subtotal %.2f total %.2f", order.Subtotal, order.TotalAmount)
	}
	if order.LineItems[0].Name != "Rose Bouquet" || order.LineItems[0].UnitPrice != 100 {
		t.Fatalf("line item should snapshot ledger name and price, got %+v", order.LineItems[0])
	}
	entry, ok := order.StatusHistory[domain.OrderStatusPendingVerification]
	if !ok || entry.UpdatedBy != "buyer-1" {
		t.Fatalf("expected seeded status history, got %+v", order.StatusHistory)
	}
	if got := order.EstimatedDeliveryDate.Sub(order.CreatedAt); got != 120*time.Hour {
		t.Fatalf("expected 120h delivery lead time, got %s", got)
	}

	if len(orders.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(orders.inserted))
	}
	if len(stock.decrements) != 1 {
		t.Fatalf("expected one decrement batch, got %d", len(stock.decrements))
	}
	req := stock.decrements[0]
	if req.OrderRef != order.ID {
		t.Fatalf("decrement should carry the order ref, got %s", req.OrderRef)
	}
	if len(req.Lines) != 1 || req.Lines[0].ProductRef != "prod-rose" || req.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected decrement lines: %+v", req.Lines)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Kind != "order.placed" {
		t.Fatalf("expected order.placed notification, got %+v", notifier.sent)
	}
}

func TestCheckoutServiceCODStartsPending(t *testing.T) {
	orders := &stubOrderRepository{}
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return roseStock(), nil
		},
	}
	svc := newCheckoutForTest(t, orders, stock, &stubNumberGenerator{}, nil)

	cmd := validCheckoutCommand()
	cmd.PaymentMethod = domain.PaymentMethodCOD

	order, err := svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected PENDING for COD, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected payment PENDING for COD, got %s", order.PaymentStatus)
	}
}

func TestCheckoutServiceUnauthenticated(t *testing.T) {
	svc := newCheckoutForTest(t, &stubOrderRepository{}, &stubStockRepository{}, &stubNumberGenerator{}, nil)

	cmd := validCheckoutCommand()
	cmd.BuyerID = "  "

	if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutUnauthenticated) {
		t.Fatalf("expected ErrCheckoutUnauthenticated, got %v", err)
	}
}

func TestCheckoutServiceAggregatesProductFailures(t *testing.T) {
	orders := &stubOrderRepository{}
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return map[string]domain.ProductStock{
				"prod-rose": {ProductRef: "prod-rose", Name: "Rose Bouquet", UnitPrice: 100, Stock: 2},
			}, nil
		},
	}
	svc := newCheckoutForTest(t, orders, stock, &stubNumberGenerator{}, nil)

	cmd := validCheckoutCommand()
	cmd.LineItems = []CheckoutLineItem{
		{ProductRef: "prod-rose", Quantity: 3},
		{ProductRef: "prod-lily", Quantity: 1},
	}

	_, err := svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutProductValidation) {
		t.Fatalf("expected ErrCheckoutProductValidation, got %v", err)
	}

	var productErr *ProductValidationError
	if !errors.As(err, &productErr) {
		t.Fatalf("expected ProductValidationError, got %T", err)
	}
	if len(productErr.Lines) != 2 {
		t.Fatalf("expected both failures reported, got %+v", productErr.Lines)
	}
	byRef := make(map[string]LineItemError)
	for _, line := range productErr.Lines {
		byRef[line.ProductRef] = line
	}
	if byRef["prod-rose"].Reason != "insufficient stock" || byRef["prod-rose"].Available != 2 {
		t.Fatalf("unexpected rose failure: %+v", byRef["prod-rose"])
	}
	if byRef["prod-lily"].Reason != "product not found" {
		t.Fatalf("unexpected lily failure: %+v", byRef["prod-lily"])
	}

	if len(orders.inserted) != 0 {
		t.Fatalf("no order should be persisted, got %d inserts", len(orders.inserted))
	}
	if len(stock.decrements) != 0 {
		t.Fatalf("no stock should be touched, got %d decrements", len(stock.decrements))
	}
}

func TestCheckoutServiceAggregatesDuplicateLineQuantities(t *testing.T) {
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return roseStock(), nil
		},
	}
	svc := newCheckoutForTest(t, &stubOrderRepository{}, stock, &stubNumberGenerator{}, nil)

	cmd := validCheckoutCommand()
	cmd.LineItems = []CheckoutLineItem{
		{ProductRef: "prod-rose", Quantity: 3},
		{ProductRef: "prod-rose", Quantity: 3},
	}
	cmd.Subtotal = 600
	cmd.TotalAmount = 610

	_, err := svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutProductValidation) {
		t.Fatalf("expected aggregated quantity to exceed stock, got %v", err)
	}
	var productErr *ProductValidationError
	if !errors.As(err, &productErr) {
		t.Fatalf("expected ProductValidationError, got %T", err)
	}
	if len(productErr.Lines) != 1 || productErr.Lines[0].Requested != 6 {
		t.Fatalf("expected one failure requesting 6 units, got %+v", productErr.Lines)
	}
}

func TestCheckoutServiceTotalMismatch(t *testing.T) {
	orders := &stubOrderRepository{}
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return roseStock(), nil
		},
	}
	svc := newCheckoutForTest(t, orders, stock, &stubNumberGenerator{}, nil)

	cmd := validCheckoutCommand()
	cmd.TotalAmount = 320

	_, err := svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutTotalMismatch) {
		t.Fatalf("expected ErrCheckoutTotalMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "310.00") {
		t.Fatalf("mismatch error should name the server total, got %v", err)
	}
	if len(orders.inserted) != 0 {
		t.Fatalf("no order should be persisted on mismatch")
	}
}

func TestCheckoutServiceRollsBackOnPartialDecrement(t *testing.T) {
	orders := &stubOrderRepository{}
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return roseStock(), nil
		},
		decrementFn: func(_ context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
			return repositories.StockDecrementResult{
				Modified: 0,
				Failed: []repositories.StockLineFailure{
					{ProductRef: "prod-rose", Requested: 3, Available: 1, Reason: "insufficient stock"},
				},
			}, nil
		},
	}
	notifier := &stubNotifier{}
	svc := newCheckoutForTest(t, orders, stock, &stubNumberGenerator{}, notifier)

	_, err := svc.CreateOrder(context.Background(), validCheckoutCommand())
	if !errors.Is(err, ErrCheckoutStockReservation) {
		t.Fatalf("expected ErrCheckoutStockReservation, got %v", err)
	}

	if len(orders.inserted) != 1 {
		t.Fatalf("order should have been inserted before the reservation attempt")
	}
	if len(orders.deletedID) != 1 || orders.deletedID[0] != orders.inserted[0].ID {
		t.Fatalf("expected compensating delete of %s, got %v", orders.inserted[0].ID, orders.deletedID)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("no notification should fire for a rolled back checkout")
	}
}

func TestCheckoutServiceNotifierFailureDoesNotFailCheckout(t *testing.T) {
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return roseStock(), nil
		},
	}
	notifier := &stubNotifier{
		fn: func(context.Context, OrderNotification) error {
			return errors.New("publish failed")
		},
	}
	svc := newCheckoutForTest(t, &stubOrderRepository{}, stock, &stubNumberGenerator{}, notifier)

	if _, err := svc.CreateOrder(context.Background(), validCheckoutCommand()); err != nil {
		t.Fatalf("notification failure must not fail checkout, got %v", err)
	}
}

func TestCheckoutServiceOrderNumberExhaustion(t *testing.T) {
	orders := &stubOrderRepository{}
	stock := &stubStockRepository{
		findFn: func(context.Context, []string) (map[string]domain.ProductStock, error) {
			return roseStock(), nil
		},
	}
	numbers := &stubNumberGenerator{
		fn: func(context.Context) (string, error) {
			return "", ErrOrderNumberExhausted
		},
	}
	svc := newCheckoutForTest(t, orders, stock, numbers, nil)

	_, err := svc.CreateOrder(context.Background(), validCheckoutCommand())
	if !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected ErrOrderNumberExhausted, got %v", err)
	}
	if numbers.calls != 5 {
		t.Fatalf("expected 5 generator calls, got %d", numbers.calls)
	}
	if len(orders.inserted) != 0 {
		t.Fatalf("no order should be persisted when numbering fails")
	}
}

func TestCheckoutServiceInvalidInput(t *testing.T) {
	svc := newCheckoutForTest(t, &stubOrderRepository{}, &stubStockRepository{}, &stubNumberGenerator{}, nil)

	cases := map[string]func(*CreateOrderCommand){
		"no line items":   func(cmd *CreateOrderCommand) { cmd.LineItems = nil },
		"zero quantity":   func(cmd *CreateOrderCommand) { cmd.LineItems[0].Quantity = 0 },
		"bad postal code": func(cmd *CreateOrderCommand) { cmd.ShippingAddress.PostalCode = "11" },
		"bad currency":    func(cmd *CreateOrderCommand) { cmd.Currency = "EUR" },
		"bad method":      func(cmd *CreateOrderCommand) { cmd.PaymentMethod = "CHEQUE" },
		"bad email":       func(cmd *CreateOrderCommand) { cmd.BuyerEmail = "not-an-email" },
		"negative tax":    func(cmd *CreateOrderCommand) { cmd.Tax = -1 },
		"zero subtotal":   func(cmd *CreateOrderCommand) { cmd.Subtotal = 0 },
		"zero total":      func(cmd *CreateOrderCommand) { cmd.TotalAmount = 0 },
	}
	for name, mutate := range cases {
		cmd := validCheckoutCommand()
		mutate(&cmd)
		if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
			t.Fatalf("%s: expected ErrCheckoutInvalidInput, got %v", name, err)
		}
	}
}
