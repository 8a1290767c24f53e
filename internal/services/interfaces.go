package services

import (
	"context"
	"time"

	domain "github.com/bloomora/api/internal/domain"
	"github.com/bloomora/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Order               = domain.Order
	OrderLineItem       = domain.OrderLineItem
	OrderStatus         = domain.OrderStatus
	OrderNote           = domain.OrderNote
	StatusHistoryEntry  = domain.StatusHistoryEntry
	CancellationRequest = domain.CancellationRequest
	CancellationAction  = domain.CancellationAction
	Address             = domain.Address
	Currency            = domain.Currency
	PaymentMethod       = domain.PaymentMethod
	PaymentStatus       = domain.PaymentStatus
	ProductStock        = domain.ProductStock
	OrderFilter         = domain.OrderFilter
	SystemHealthReport  = domain.SystemHealthReport
)

// OrderListFilter mirrors the repository filter used by list queries.
type OrderListFilter = repositories.OrderListFilter

// CheckoutService turns a validated checkout request into a persisted order
// with its stock fully reserved.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
}

// OrderService encapsulates order reads and the admin lifecycle flows.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Order, error)
	AddNote(ctx context.Context, cmd AddOrderNoteCommand) (Order, error)
	TrackOrder(ctx context.Context, query TrackOrderQuery) (OrderTrackingView, error)
	DeleteOrder(ctx context.Context, orderID string, actorID string) error
}

// CancellationService runs the buyer-initiated, admin-resolved cancellation
// workflow.
type CancellationService interface {
	RequestCancellation(ctx context.Context, cmd RequestCancellationCommand) (Order, error)
	ProcessCancellation(ctx context.Context, cmd ProcessCancellationCommand) (Order, error)
}

// OrderNumberGenerator produces unique human-facing order numbers.
type OrderNumberGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// OrderNotifier delivers best-effort notifications for order events. Failures
// are logged by callers and never affect the underlying operation.
type OrderNotifier interface {
	SendOrderNotification(ctx context.Context, notification OrderNotification) error
}

// OrderNotification carries the data a downstream mail worker needs.
type OrderNotification struct {
	Kind           string
	OrderID        string
	OrderNumber    string
	BuyerID        string
	BuyerEmail     string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// SystemService exposes operational health with dependency detail.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// Commands and queries ------------------------------------------------------

// CheckoutLineItem is one requested product in a checkout.
type CheckoutLineItem struct {
	ProductRef string
	Quantity   int64
	Size       *string
	Color      *string
}

// CreateOrderCommand carries everything the checkout orchestrator needs.
// Amount fields are the untrusted client figures reconciled against the
// server-side computation.
type CreateOrderCommand struct {
	BuyerID    string
	BuyerEmail string

	LineItems       []CheckoutLineItem
	ShippingAddress Address
	BillingAddress  *Address

	Currency      Currency
	PaymentMethod PaymentMethod

	Subtotal     float64
	ShippingCost float64
	Tax          float64
	Discount     float64
	TotalAmount  float64
}

// OrderStatusTransitionCommand describes an admin-driven lifecycle change.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Note         *string

	// Shipping details, mandatory when the target status is SHIPPED.
	TrackingNumber  *string
	CourierProvider *string
	TrackingURL     *string
}

// UpdatePaymentStatusCommand records the caller-supplied settlement state.
type UpdatePaymentStatusCommand struct {
	OrderID       string
	PaymentStatus PaymentStatus
	ActorID       string
}

// AddOrderNoteCommand appends a free-text note to an order.
type AddOrderNoteCommand struct {
	OrderID string
	Note    string
	ActorID string
}

// RequestCancellationCommand is the buyer's cancellation ask.
type RequestCancellationCommand struct {
	OrderID string
	BuyerID string
	Reason  string
}

// ProcessCancellationCommand is the admin resolution of a pending request.
type ProcessCancellationCommand struct {
	OrderID   string
	Action    CancellationAction
	ActorID   string
	AdminNote string
}

// TrackOrderQuery is the unauthenticated lookup pair.
type TrackOrderQuery struct {
	OrderNumber string
	Email       string
}

// TrackingLineItem is the reduced line-item projection for tracking lookups.
type TrackingLineItem struct {
	Name     string
	Quantity int64
}

// OrderTrackingView is the non-sensitive subset returned to anonymous
// tracking lookups.
type OrderTrackingView struct {
	OrderNumber           string
	Status                OrderStatus
	PaymentStatus         PaymentStatus
	Items                 []TrackingLineItem
	TrackingNumber        *string
	CourierProvider       *string
	TrackingURL           *string
	EstimatedDeliveryDate time.Time
	CreatedAt             time.Time
}
