package domain

import (
	"time"
)

// OrderStatus enumerates the lifecycle states an order can be in.
type OrderStatus string

const (
	OrderStatusPending               OrderStatus = "PENDING"
	OrderStatusPendingVerification   OrderStatus = "PENDING_VERIFICATION"
	OrderStatusConfirmed             OrderStatus = "CONFIRMED"
	OrderStatusShipped               OrderStatus = "SHIPPED"
	OrderStatusDelivered             OrderStatus = "DELIVERED"
	OrderStatusCancelled             OrderStatus = "CANCELLED"
	OrderStatusCancellationRequested OrderStatus = "CANCELLATION_REQUESTED"
)

// IsTerminal reports whether the status admits no further lifecycle transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus tracks the settlement state reported by the caller.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// PaymentMethod identifies how the buyer intends to pay.
type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "COD"
	PaymentMethodUPI        PaymentMethod = "UPI"
	PaymentMethodCard       PaymentMethod = "CARD"
	PaymentMethodNetBanking PaymentMethod = "NETBANKING"
)

// IsPrepaid reports whether the method settles before fulfilment. Cash on
// delivery is the only post-paid method.
func (m PaymentMethod) IsPrepaid() bool {
	return m != "" && m != PaymentMethodCOD
}

// Currency is the ISO currency code an order is denominated in.
type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
)

// CancellationStatus enumerates the states of a cancellation request.
type CancellationStatus string

const (
	CancellationStatusPending  CancellationStatus = "PENDING"
	CancellationStatusApproved CancellationStatus = "APPROVED"
	CancellationStatusRejected CancellationStatus = "REJECTED"
)

// CancellationAction is the admin resolution applied to a pending request.
type CancellationAction string

const (
	CancellationActionApprove CancellationAction = "APPROVED"
	CancellationActionReject  CancellationAction = "REJECTED"
)

// Address is a structured postal address attached to an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      string
}

// OrderLineItem is a purchased product snapshot. Quantities and prices are
// frozen at order time and never mutated afterwards.
type OrderLineItem struct {
	ProductRef string
	Name       string
	Size       *string
	Color      *string
	Quantity   int64
	UnitPrice  float64
}

// LineTotal returns the extended price for the line.
func (li OrderLineItem) LineTotal() float64 {
	return li.UnitPrice * float64(li.Quantity)
}

// StatusHistoryEntry records one visit to a lifecycle status.
type StatusHistoryEntry struct {
	Timestamp time.Time
	UpdatedBy string
	Note      *string
}

// OrderNote is a free-text annotation on an order.
type OrderNote struct {
	Note      string
	AddedBy   string
	Timestamp time.Time
}

// CancellationRequest is the nested approval record attached to an order once
// a buyer asks for cancellation. At most one request is active at a time.
type CancellationRequest struct {
	Status      CancellationStatus
	Reason      string
	RequestedBy string
	RequestedAt time.Time
	ProcessedBy *string
	ProcessedAt *time.Time
	AdminNote   *string
}

// Order is the aggregate root for one checkout.
//
// Invariant: TotalAmount == Subtotal + ShippingCost + Tax - Discount (within
// MoneyTolerance), and an order exists only if its stock was fully reserved.
type Order struct {
	ID          string
	OrderNumber string
	BuyerID     string
	BuyerEmail  string

	LineItems       []OrderLineItem
	ShippingAddress Address
	// BillingAddress is nil when the buyer billed to the shipping address.
	BillingAddress *Address

	Currency     Currency
	Subtotal     float64
	ShippingCost float64
	Tax          float64
	Discount     float64
	TotalAmount  float64

	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus

	Status              OrderStatus
	CancellationRequest *CancellationRequest
	// StatusHistory keeps one entry per status. Re-entering a status
	// overwrites the earlier visit; the ordered Notes log retains the trail.
	StatusHistory map[OrderStatus]StatusHistoryEntry
	Notes         []OrderNote

	TrackingNumber  *string
	CourierProvider *string
	TrackingURL     *string

	EstimatedDeliveryDate time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// EffectiveBillingAddress resolves the billing address, defaulting to the
// shipping address when none was supplied.
func (o Order) EffectiveBillingAddress() Address {
	if o.BillingAddress != nil {
		return *o.BillingAddress
	}
	return o.ShippingAddress
}

// HasPendingCancellation reports whether a cancellation request is awaiting
// admin resolution.
func (o Order) HasPendingCancellation() bool {
	return o.CancellationRequest != nil && o.CancellationRequest.Status == CancellationStatusPending
}

// ProductStock is the ledger view of a purchasable product. The order core
// mutates only the Stock field, and only through conditional
// decrement/increment operations.
type ProductStock struct {
	ProductRef string
	Name       string
	UnitPrice  float64
	Stock      int64
	UpdatedAt  time.Time
}

// MoneyTolerance is the absolute difference below which two monetary values
// are considered equal.
const MoneyTolerance = 0.01

// MoneyEquals compares two monetary amounts within MoneyTolerance.
func MoneyEquals(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= MoneyTolerance
}

// ComputeOrderTotal recomputes the total the server expects for the supplied
// components.
func ComputeOrderTotal(subtotal, shippingCost, tax, discount float64) float64 {
	return subtotal + shippingCost + tax - discount
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is a single page of list results with an opaque continuation
// token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	BuyerID       string
	Statuses      []OrderStatus
	PaymentStatus *PaymentStatus
	PaymentMethod *PaymentMethod
	CreatedAt     RangeQuery[time.Time]
	Search        string
}
