package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bloomora/api/internal/domain"
	"github.com/bloomora/api/internal/platform/auth"
	"github.com/bloomora/api/internal/platform/httpx"
	"github.com/bloomora/api/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 64 * 1024
	maxOrderSmallBodySize = 8 * 1024
)

// OrderHandlers exposes checkout, order lifecycle, and cancellation endpoints.
type OrderHandlers struct {
	authn         *auth.Authenticator
	checkout      services.CheckoutService
	orders        services.OrderService
	cancellations services.CancellationService
	trackLimiter  rateLimiter
}

// OrderHandlersOption customises the order handlers.
type OrderHandlersOption func(*OrderHandlers)

// WithTrackRateLimit throttles the anonymous tracking endpoint per client
// address.
func WithTrackRateLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.trackLimiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, cancellations services.CancellationService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:         authn,
		checkout:      checkout,
		orders:        orders,
		cancellations: cancellations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints. The tracking lookup stays outside
// the authenticated group so anonymous buyers can use it.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Post("/track", h.trackOrder)

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/", h.createOrder)
		g.Get("/", h.listOrders)
		g.Get("/by-number/{orderNumber}", h.getOrderByNumber)
		g.Get("/{orderID}", h.getOrder)
		g.Patch("/{orderID}/status", h.updateStatus)
		g.Patch("/{orderID}/confirm", h.confirmOrder)
		g.Patch("/{orderID}/ship", h.shipOrder)
		g.Patch("/{orderID}/deliver", h.deliverOrder)
		g.Patch("/{orderID}/payment-status", h.updatePaymentStatus)
		g.Post("/{orderID}/cancel-request", h.requestCancellation)
		g.Patch("/{orderID}/cancel-request", h.processCancellation)
		g.Post("/{orderID}/notes", h.addNote)
		g.Delete("/{orderID}", h.deleteOrder)
	})
}

// Request payloads --------------------------------------------------------

type createOrderRequest struct {
	Items           []createOrderItem `json:"items"`
	ShippingAddress addressBody       `json:"shipping_address"`
	BillingAddress  *addressBody      `json:"billing_address"`
	Currency        string            `json:"currency"`
	PaymentMethod   string            `json:"payment_method"`
	Subtotal        float64           `json:"subtotal"`
	ShippingCost    float64           `json:"shipping_cost"`
	Tax             float64           `json:"tax"`
	Discount        float64           `json:"discount"`
	TotalAmount     float64           `json:"total_amount"`
}

type createOrderItem struct {
	ProductRef string  `json:"product_ref"`
	Quantity   int64   `json:"quantity"`
	Size       *string `json:"size"`
	Color      *string `json:"color"`
}

type addressBody struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2"`
	City       string  `json:"city"`
	State      *string `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      string  `json:"phone"`
}

type updateStatusRequest struct {
	Status          string  `json:"status"`
	Note            *string `json:"note"`
	TrackingNumber  *string `json:"tracking_number"`
	CourierProvider *string `json:"courier_provider"`
	TrackingURL     *string `json:"tracking_url"`
}

type shipOrderRequest struct {
	TrackingNumber  *string `json:"tracking_number"`
	CourierProvider *string `json:"courier_provider"`
	TrackingURL     *string `json:"tracking_url"`
	Note            *string `json:"note"`
}

type updatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type cancelRequestBody struct {
	Reason string `json:"reason"`
}

type processCancellationBody struct {
	Action    string `json:"action"`
	AdminNote string `json:"admin_note"`
}

type addNoteRequest struct {
	Note string `json:"note"`
}

type trackOrderRequest struct {
	OrderNumber string `json:"order_number"`
	Email       string `json:"email"`
}

// Handlers -----------------------------------------------------------------

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	items := make([]services.CheckoutLineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutLineItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Quantity:   item.Quantity,
			Size:       cloneStringPointer(item.Size),
			Color:      cloneStringPointer(item.Color),
		})
	}

	cmd := services.CreateOrderCommand{
		BuyerID:         strings.TrimSpace(identity.UID),
		BuyerEmail:      strings.TrimSpace(identity.Email),
		LineItems:       items,
		ShippingAddress: addressFromBody(req.ShippingAddress),
		Currency:        domain.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Subtotal:        req.Subtotal,
		ShippingCost:    req.ShippingCost,
		Tax:             req.Tax,
		Discount:        req.Discount,
		TotalAmount:     req.TotalAmount,
	}
	if req.BillingAddress != nil {
		billing := addressFromBody(*req.BillingAddress)
		cmd.BillingAddress = &billing
	}

	order, err := h.checkout.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	var filter domain.OrderFilter
	for _, raw := range parseFilterValues(query["status"]) {
		filter.Statuses = append(filter.Statuses, domain.OrderStatus(raw))
	}
	if raw := strings.ToUpper(strings.TrimSpace(query.Get("payment_status"))); raw != "" {
		status := domain.PaymentStatus(raw)
		filter.PaymentStatus = &status
	}
	if raw := strings.ToUpper(strings.TrimSpace(query.Get("payment_method"))); raw != "" {
		method := domain.PaymentMethod(raw)
		filter.PaymentMethod = &method
	}
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedAt.To = &ts
	}
	filter.Search = strings.TrimSpace(query.Get("search"))

	if isStaff(identity) {
		filter.BuyerID = strings.TrimSpace(query.Get("buyer_id"))
	} else {
		// Buyers only ever see their own orders.
		filter.BuyerID = strings.TrimSpace(identity.UID)
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Filter: filter,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !canReadOrder(identity, order) {
		writeOrderForbidden(ctx, w)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	order, err := h.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !canReadOrder(identity, order) {
		writeOrderForbidden(ctx, w)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeBody(ctx, w, r, maxOrderSmallBodySize, &req) {
		return
	}

	h.applyTransition(ctx, w, services.OrderStatusTransitionCommand{
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus:    domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		ActorID:         strings.TrimSpace(identity.UID),
		Note:            req.Note,
		TrackingNumber:  req.TrackingNumber,
		CourierProvider: req.CourierProvider,
		TrackingURL:     req.TrackingURL,
	})
}

func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}
	h.applyTransition(ctx, w, services.OrderStatusTransitionCommand{
		OrderID:      strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus: domain.OrderStatusConfirmed,
		ActorID:      strings.TrimSpace(identity.UID),
	})
}

func (h *OrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}

	var req shipOrderRequest
	if !decodeBody(ctx, w, r, maxOrderSmallBodySize, &req) {
		return
	}

	h.applyTransition(ctx, w, services.OrderStatusTransitionCommand{
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus:    domain.OrderStatusShipped,
		ActorID:         strings.TrimSpace(identity.UID),
		Note:            req.Note,
		TrackingNumber:  req.TrackingNumber,
		CourierProvider: req.CourierProvider,
		TrackingURL:     req.TrackingURL,
	})
}

func (h *OrderHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}
	h.applyTransition(ctx, w, services.OrderStatusTransitionCommand{
		OrderID:      strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus: domain.OrderStatusDelivered,
		ActorID:      strings.TrimSpace(identity.UID),
	})
}

func (h *OrderHandlers) applyTransition(ctx context.Context, w http.ResponseWriter, cmd services.OrderStatusTransitionCommand) {
	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}

	var req updatePaymentStatusRequest
	if !decodeBody(ctx, w, r, maxOrderSmallBodySize, &req) {
		return
	}

	order, err := h.orders.UpdatePaymentStatus(ctx, services.UpdatePaymentStatusCommand{
		OrderID:       strings.TrimSpace(chi.URLParam(r, "orderID")),
		PaymentStatus: domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.PaymentStatus))),
		ActorID:       strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancelRequestBody
	if !decodeBody(ctx, w, r, maxOrderSmallBodySize, &req) {
		return
	}

	order, err := h.cancellations.RequestCancellation(ctx, services.RequestCancellationCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		BuyerID: strings.TrimSpace(identity.UID),
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) processCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}

	var req processCancellationBody
	if !decodeBody(ctx, w, r, maxOrderSmallBodySize, &req) {
		return
	}

	order, err := h.cancellations.ProcessCancellation(ctx, services.ProcessCancellationCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		Action:    domain.CancellationAction(strings.ToUpper(strings.TrimSpace(req.Action))),
		ActorID:   strings.TrimSpace(identity.UID),
		AdminNote: req.AdminNote,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}

	var req addNoteRequest
	if !decodeBody(ctx, w, r, maxOrderSmallBodySize, &req) {
		return
	}

	order, err := h.orders.AddNote(ctx, services.AddOrderNoteCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Note:    req.Note,
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if err := h.orders.DeleteOrder(ctx, orderID, strings.TrimSpace(identity.UID)); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	if h.trackLimiter != nil && !h.trackLimiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many tracking requests", http.StatusTooManyRequests))
		return
	}

	var req trackOrderRequest
	if !decodeBody(ctx, w, r, maxOrderSmallBodySize, &req) {
		return
	}

	view, err := h.orders.TrackOrder(ctx, services.TrackOrderQuery{
		OrderNumber: strings.TrimSpace(req.OrderNumber),
		Email:       strings.TrimSpace(req.Email),
	})
	if err != nil {
		// Invalid pairs and malformed lookups all collapse to not found so
		// the endpoint cannot be used to probe order numbers.
		if errors.Is(err, services.ErrOrderNotFound) || errors.Is(err, services.ErrOrderInvalidInput) {
			writeOrderNotFound(ctx, w)
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTrackingPayload(view))
}

// Authorisation helpers ----------------------------------------------------

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requireStaff(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if !isStaff(identity) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func isStaff(identity *auth.Identity) bool {
	return identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff)
}

// canReadOrder grants staff full read access; buyers may only read their own
// orders.
func canReadOrder(identity *auth.Identity, order services.Order) bool {
	if isStaff(identity) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(order.BuyerID), strings.TrimSpace(identity.UID))
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, target any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func writeOrderNotFound(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
}

func writeOrderForbidden(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you do not have access to this order", http.StatusForbidden))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var productErr *services.ProductValidationError
	if errors.As(err, &productErr) {
		details := make([]map[string]any, 0, len(productErr.Lines))
		for _, line := range productErr.Lines {
			entry := map[string]any{
				"product_ref": line.ProductRef,
				"reason":      line.Reason,
			}
			if line.Requested > 0 {
				entry["requested"] = line.Requested
			}
			if line.Available > 0 || line.Reason == "insufficient stock" {
				entry["available"] = line.Available
			}
			details = append(details, entry)
		}
		httpx.WriteError(ctx, w, httpx.
			NewError("product_validation_failed", "one or more line items failed validation", http.StatusConflict).
			WithDetails(map[string]any{"items": details}))
		return
	}

	switch {
	case errors.Is(err, services.ErrCheckoutUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCancellationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutTotalMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("total_mismatch", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderMissingTrackingInfo):
		httpx.WriteError(ctx, w, httpx.NewError("missing_tracking_info", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		writeOrderNotFound(ctx, w)
	case errors.Is(err, services.ErrOrderForbidden), errors.Is(err, services.ErrCancellationForbidden):
		writeOrderForbidden(ctx, w)
	case errors.Is(err, services.ErrCancellationPending):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_pending", "a cancellation request is already pending", http.StatusConflict))
	case errors.Is(err, services.ErrCancellationNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_not_allowed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCancellationNoneActive):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_none_pending", "no cancellation request is pending", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutStockReservation):
		httpx.WriteError(ctx, w, httpx.NewError("stock_reservation_failed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNumberExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_number_exhausted", "could not allocate an order number", http.StatusInternalServerError))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "checkout temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// Response payloads --------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string  `json:"id"`
	OrderNumber   string  `json:"order_number"`
	BuyerID       string  `json:"buyer_id"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	PaymentMethod string  `json:"payment_method"`
	Currency      string  `json:"currency"`
	TotalAmount   float64 `json:"total_amount"`
	ItemCount     int     `json:"item_count"`
	CreatedAt     string  `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	BuyerID         string             `json:"buyer_id"`
	BuyerEmail      string             `json:"buyer_email,omitempty"`
	Status          string             `json:"status"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress addressBody        `json:"shipping_address"`
	BillingAddress  *addressBody       `json:"billing_address,omitempty"`

	Currency     string  `json:"currency"`
	Subtotal     float64 `json:"subtotal"`
	ShippingCost float64 `json:"shipping_cost"`
	Tax          float64 `json:"tax"`
	Discount     float64 `json:"discount,omitempty"`
	TotalAmount  float64 `json:"total_amount"`

	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`

	StatusHistory       map[string]statusHistoryPayload `json:"status_history,omitempty"`
	CancellationRequest *cancellationRequestPayload     `json:"cancellation_request,omitempty"`
	Notes               []orderNotePayload              `json:"notes,omitempty"`

	TrackingNumber  *string `json:"tracking_number,omitempty"`
	CourierProvider *string `json:"courier_provider,omitempty"`
	TrackingURL     *string `json:"tracking_url,omitempty"`

	EstimatedDeliveryDate string `json:"estimated_delivery_date,omitempty"`
	CreatedAt             string `json:"created_at"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductRef string  `json:"product_ref"`
	Name       string  `json:"name,omitempty"`
	Size       *string `json:"size,omitempty"`
	Color      *string `json:"color,omitempty"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	LineTotal  float64 `json:"line_total"`
}

type statusHistoryPayload struct {
	Timestamp string  `json:"timestamp"`
	UpdatedBy string  `json:"updated_by"`
	Note      *string `json:"note,omitempty"`
}

type cancellationRequestPayload struct {
	Status      string  `json:"status"`
	Reason      string  `json:"reason"`
	RequestedBy string  `json:"requested_by"`
	RequestedAt string  `json:"requested_at"`
	ProcessedBy *string `json:"processed_by,omitempty"`
	ProcessedAt string  `json:"processed_at,omitempty"`
	AdminNote   *string `json:"admin_note,omitempty"`
}

type orderNotePayload struct {
	Note      string `json:"note"`
	AddedBy   string `json:"added_by"`
	Timestamp string `json:"timestamp"`
}

type trackingPayload struct {
	OrderNumber           string                `json:"order_number"`
	Status                string                `json:"status"`
	PaymentStatus         string                `json:"payment_status"`
	Items                 []trackingItemPayload `json:"items"`
	TrackingNumber        *string               `json:"tracking_number,omitempty"`
	CourierProvider       *string               `json:"courier_provider,omitempty"`
	TrackingURL           *string               `json:"tracking_url,omitempty"`
	EstimatedDeliveryDate string                `json:"estimated_delivery_date,omitempty"`
	CreatedAt             string                `json:"created_at"`
}

type trackingItemPayload struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		BuyerID:       strings.TrimSpace(order.BuyerID),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      string(order.Currency),
		TotalAmount:   order.TotalAmount,
		ItemCount:     len(order.LineItems),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              strings.TrimSpace(order.ID),
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		BuyerID:         strings.TrimSpace(order.BuyerID),
		BuyerEmail:      strings.TrimSpace(order.BuyerEmail),
		Status:          string(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.LineItems)),
		ShippingAddress: addressToBody(order.ShippingAddress),
		Currency:        string(order.Currency),
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		Tax:             order.Tax,
		Discount:        order.Discount,
		TotalAmount:     order.TotalAmount,
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),

		TrackingNumber:  cloneStringPointer(order.TrackingNumber),
		CourierProvider: cloneStringPointer(order.CourierProvider),
		TrackingURL:     cloneStringPointer(order.TrackingURL),

		EstimatedDeliveryDate: formatTime(order.EstimatedDeliveryDate),
		CreatedAt:             formatTime(order.CreatedAt),
		UpdatedAt:             formatTime(order.UpdatedAt),
	}

	for _, item := range order.LineItems {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Name:       strings.TrimSpace(item.Name),
			Size:       cloneStringPointer(item.Size),
			Color:      cloneStringPointer(item.Color),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal(),
		})
	}

	if order.BillingAddress != nil {
		billing := addressToBody(*order.BillingAddress)
		payload.BillingAddress = &billing
	}

	if len(order.StatusHistory) > 0 {
		payload.StatusHistory = make(map[string]statusHistoryPayload, len(order.StatusHistory))
		for status, entry := range order.StatusHistory {
			payload.StatusHistory[string(status)] = statusHistoryPayload{
				Timestamp: formatTime(entry.Timestamp),
				UpdatedBy: entry.UpdatedBy,
				Note:      cloneStringPointer(entry.Note),
			}
		}
	}

	if order.CancellationRequest != nil {
		request := order.CancellationRequest
		processedAt := ""
		if request.ProcessedAt != nil {
			processedAt = formatTime(*request.ProcessedAt)
		}
		payload.CancellationRequest = &cancellationRequestPayload{
			Status:      string(request.Status),
			Reason:      request.Reason,
			RequestedBy: request.RequestedBy,
			RequestedAt: formatTime(request.RequestedAt),
			ProcessedBy: cloneStringPointer(request.ProcessedBy),
			ProcessedAt: processedAt,
			AdminNote:   cloneStringPointer(request.AdminNote),
		}
	}

	for _, note := range order.Notes {
		payload.Notes = append(payload.Notes, orderNotePayload{
			Note:      note.Note,
			AddedBy:   note.AddedBy,
			Timestamp: formatTime(note.Timestamp),
		})
	}

	return payload
}

func buildTrackingPayload(view services.OrderTrackingView) trackingPayload {
	items := make([]trackingItemPayload, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, trackingItemPayload{Name: item.Name, Quantity: item.Quantity})
	}
	return trackingPayload{
		OrderNumber:           view.OrderNumber,
		Status:                string(view.Status),
		PaymentStatus:         string(view.PaymentStatus),
		Items:                 items,
		TrackingNumber:        cloneStringPointer(view.TrackingNumber),
		CourierProvider:       cloneStringPointer(view.CourierProvider),
		TrackingURL:           cloneStringPointer(view.TrackingURL),
		EstimatedDeliveryDate: formatTime(view.EstimatedDeliveryDate),
		CreatedAt:             formatTime(view.CreatedAt),
	}
}

func addressFromBody(body addressBody) domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(body.Recipient),
		Line1:      strings.TrimSpace(body.Line1),
		Line2:      cloneStringPointer(body.Line2),
		City:       strings.TrimSpace(body.City),
		State:      cloneStringPointer(body.State),
		PostalCode: strings.TrimSpace(body.PostalCode),
		Country:    strings.TrimSpace(body.Country),
		Phone:      strings.TrimSpace(body.Phone),
	}
}

func addressToBody(addr domain.Address) addressBody {
	return addressBody{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      cloneStringPointer(addr.Line2),
		City:       addr.City,
		State:      cloneStringPointer(addr.State),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}
