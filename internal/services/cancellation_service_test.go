package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bloomora/api/internal/domain"
)

func newCancellationForTest(t *testing.T, orders *stubOrderRepository, stock *stubStockRepository, notifier *stubNotifier) CancellationService {
	t.Helper()
	now := time.Date(2025, 8, 12, 16, 30, 0, 0, time.UTC)
	deps := CancellationServiceDeps{
		Orders: orders,
		Stock:  stock,
		Clock:  func() time.Time { return now },
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	svc, err := NewCancellationService(deps)
	if err != nil {
		t.Fatalf("new cancellation service: %v", err)
	}
	return svc
}

func TestCancellationServiceRequest(t *testing.T) {
	stored := sampleOrder(domain.OrderStatusPending)
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	svc := newCancellationForTest(t, orders, &stubStockRepository{}, nil)

	updated, err := svc.RequestCancellation(context.Background(), RequestCancellationCommand{
		OrderID: stored.ID,
		BuyerID: "buyer-1",
		Reason:  "ordered the wrong item",
	})
	if err != nil {
		t.Fatalf("request cancellation: %v", err)
	}
	if updated.Status != domain.OrderStatusCancellationRequested {
		t.Fatalf("expected CANCELLATION_REQUESTED, got %s", updated.Status)
	}
	request := updated.CancellationRequest
	if request == nil || request.Status != domain.CancellationStatusPending {
		t.Fatalf("expected pending request, got %+v", request)
	}
	if request.Reason != "ordered the wrong item" || request.RequestedBy != "buyer-1" {
		t.Fatalf("unexpected request fields: %+v", request)
	}
	if len(orders.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(orders.updated))
	}
}

func TestCancellationServiceRequestRejectsNonOwner(t *testing.T) {
	stored := sampleOrder(domain.OrderStatusPending)
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	svc := newCancellationForTest(t, orders, &stubStockRepository{}, nil)

	_, err := svc.RequestCancellation(context.Background(), RequestCancellationCommand{
		OrderID: stored.ID,
		BuyerID: "buyer-2",
		Reason:  "not mine",
	})
	if !errors.Is(err, ErrCancellationForbidden) {
		t.Fatalf("expected ErrCancellationForbidden, got %v", err)
	}
	if len(orders.updated) != 0 {
		t.Fatalf("foreign requests must not persist")
	}
}

func TestCancellationServiceRequestDuplicate(t *testing.T) {
	stored := sampleOrder(domain.OrderStatusCancellationRequested)
	stored.CancellationRequest = &domain.CancellationRequest{
		Status:      domain.CancellationStatusPending,
		Reason:      "first ask",
		RequestedBy: "buyer-1",
		RequestedAt: stored.CreatedAt,
	}
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	svc := newCancellationForTest(t, orders, &stubStockRepository{}, nil)

	_, err := svc.RequestCancellation(context.Background(), RequestCancellationCommand{
		OrderID: stored.ID,
		BuyerID: "buyer-1",
		Reason:  "asking again",
	})
	if !errors.Is(err, ErrCancellationPending) {
		t.Fatalf("expected ErrCancellationPending, got %v", err)
	}
}

func TestCancellationServiceRequestRejectsShippedOrder(t *testing.T) {
	stored := sampleOrder(domain.OrderStatusShipped)
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	svc := newCancellationForTest(t, orders, &stubStockRepository{}, nil)

	_, err := svc.RequestCancellation(context.Background(), RequestCancellationCommand{
		OrderID: stored.ID,
		BuyerID: "buyer-1",
		Reason:  "too late now",
	})
	if !errors.Is(err, ErrCancellationNotAllowed) {
		t.Fatalf("expected ErrCancellationNotAllowed, got %v", err)
	}
}

func pendingCancellationOrder() domain.Order {
	order := sampleOrder(domain.OrderStatusCancellationRequested)
	order.LineItems = []domain.OrderLineItem{
		{ProductRef: "prod-rose", Name: "Rose Bouquet", Quantity: 3, UnitPrice: 100},
		{ProductRef: "prod-lily", Name: "Lily Stem", Quantity: 2, UnitPrice: 40},
	}
	order.CancellationRequest = &domain.CancellationRequest{
		Status:      domain.CancellationStatusPending,
		Reason:      "ordered the wrong item",
		RequestedBy: "buyer-1",
		RequestedAt: order.CreatedAt,
	}
	return order
}

func TestCancellationServiceApproveRestoresStock(t *testing.T) {
	stored := pendingCancellationOrder()
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	stock := &stubStockRepository{}
	notifier := &stubNotifier{}
	svc := newCancellationForTest(t, orders, stock, notifier)

	updated, err := svc.ProcessCancellation(context.Background(), ProcessCancellationCommand{
		OrderID:   stored.ID,
		Action:    domain.CancellationActionApprove,
		ActorID:   "admin-1",
		AdminNote: "refund issued",
	})
	if err != nil {
		t.Fatalf("process cancellation: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", updated.Status)
	}
	request := updated.CancellationRequest
	if request == nil || request.Status != domain.CancellationStatusApproved {
		t.Fatalf("expected approved request, got %+v", request)
	}
	if request.ProcessedBy == nil || *request.ProcessedBy != "admin-1" {
		t.Fatalf("expected processor recorded, got %+v", request.ProcessedBy)
	}
	if request.AdminNote == nil || *request.AdminNote != "refund issued" {
		t.Fatalf("expected admin note recorded, got %+v", request.AdminNote)
	}

	if len(stock.increments) != 2 {
		t.Fatalf("expected both quantities restored, got %+v", stock.increments)
	}
	byRef := make(map[string]int64)
	for _, call := range stock.increments {
		byRef[call.ProductRef] = call.Quantity
	}
	if byRef["prod-rose"] != 3 || byRef["prod-lily"] != 2 {
		t.Fatalf("restored quantities wrong: %+v", byRef)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].Kind != "order.cancellation.resolved" {
		t.Fatalf("expected resolution notification, got %+v", notifier.sent)
	}
	if notifier.sent[0].Metadata["action"] != "APPROVED" {
		t.Fatalf("expected action metadata, got %+v", notifier.sent[0].Metadata)
	}
}

func TestCancellationServiceApproveToleratesRestoreFailure(t *testing.T) {
	stored := pendingCancellationOrder()
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	var logged []string
	stock := &stubStockRepository{
		incrementFn: func(_ context.Context, productRef string, _ int64, _ time.Time) (domain.ProductStock, error) {
			if productRef == "prod-lily" {
				return domain.ProductStock{}, errors.New("ledger offline")
			}
			return domain.ProductStock{}, nil
		},
	}
	now := time.Date(2025, 8, 12, 16, 30, 0, 0, time.UTC)
	svc, err := NewCancellationService(CancellationServiceDeps{
		Orders: orders,
		Stock:  stock,
		Clock:  func() time.Time { return now },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("new cancellation service: %v", err)
	}

	updated, err := svc.ProcessCancellation(context.Background(), ProcessCancellationCommand{
		OrderID:   stored.ID,
		Action:    domain.CancellationActionApprove,
		ActorID:   "admin-1",
		AdminNote: "refund issued",
	})
	if err != nil {
		t.Fatalf("restore failure must not fail approval, got %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", updated.Status)
	}
	found := false
	for _, event := range logged {
		if event == "cancellation.stock_restore_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected restore failure logged, got %v", logged)
	}
}

func TestCancellationServiceRejectRevertsToConfirmed(t *testing.T) {
	stored := pendingCancellationOrder()
	stored.StatusHistory[domain.OrderStatusConfirmed] = domain.StatusHistoryEntry{
		Timestamp: stored.CreatedAt.Add(time.Hour),
		UpdatedBy: "admin-1",
	}
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	stock := &stubStockRepository{}
	svc := newCancellationForTest(t, orders, stock, nil)

	updated, err := svc.ProcessCancellation(context.Background(), ProcessCancellationCommand{
		OrderID:   stored.ID,
		Action:    domain.CancellationActionReject,
		ActorID:   "admin-1",
		AdminNote: "outside the cancellation window",
	})
	if err != nil {
		t.Fatalf("process cancellation: %v", err)
	}
	if updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected revert to CONFIRMED, got %s", updated.Status)
	}
	if updated.CancellationRequest.Status != domain.CancellationStatusRejected {
		t.Fatalf("expected rejected request, got %+v", updated.CancellationRequest)
	}
	if len(stock.increments) != 0 {
		t.Fatalf("rejection must not touch stock, got %+v", stock.increments)
	}
}

func TestCancellationServiceRejectRevertsToPendingWithoutConfirmHistory(t *testing.T) {
	stored := pendingCancellationOrder()
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	svc := newCancellationForTest(t, orders, &stubStockRepository{}, nil)

	updated, err := svc.ProcessCancellation(context.Background(), ProcessCancellationCommand{
		OrderID:   stored.ID,
		Action:    domain.CancellationActionReject,
		ActorID:   "admin-1",
		AdminNote: "verified with buyer",
	})
	if err != nil {
		t.Fatalf("process cancellation: %v", err)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("expected revert to PENDING, got %s", updated.Status)
	}
}

func TestCancellationServiceProcessWithoutPendingRequest(t *testing.T) {
	stored := sampleOrder(domain.OrderStatusConfirmed)
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	svc := newCancellationForTest(t, orders, &stubStockRepository{}, nil)

	_, err := svc.ProcessCancellation(context.Background(), ProcessCancellationCommand{
		OrderID:   stored.ID,
		Action:    domain.CancellationActionApprove,
		ActorID:   "admin-1",
		AdminNote: "n/a",
	})
	if !errors.Is(err, ErrCancellationNoneActive) {
		t.Fatalf("expected ErrCancellationNoneActive, got %v", err)
	}
}

func TestCancellationServiceProcessRequiresNoteAndAction(t *testing.T) {
	svc := newCancellationForTest(t, &stubOrderRepository{}, &stubStockRepository{}, nil)

	_, err := svc.ProcessCancellation(context.Background(), ProcessCancellationCommand{
		OrderID: "ord_01SAMPLE",
		Action:  "MAYBE",
		ActorID: "admin-1", AdminNote: "note",
	})
	if !errors.Is(err, ErrCancellationInvalidInput) {
		t.Fatalf("expected ErrCancellationInvalidInput for bad action, got %v", err)
	}

	_, err = svc.ProcessCancellation(context.Background(), ProcessCancellationCommand{
		OrderID: "ord_01SAMPLE",
		Action:  domain.CancellationActionApprove,
		ActorID: "admin-1",
	})
	if !errors.Is(err, ErrCancellationInvalidInput) {
		t.Fatalf("expected ErrCancellationInvalidInput for missing note, got %v", err)
	}
}
