package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bloomora/api/internal/domain"
	pfirestore "github.com/bloomora/api/internal/platform/firestore"
	"github.com/bloomora/api/internal/platform/textutil"
	"github.com/bloomora/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// Delete removes the order document. No stock is touched here; the checkout
// rollback and the admin hard delete both rely on that.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// FindByNumber fetches the order carrying the given human-facing number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findByNumber", fmt.Errorf("order %s not found", orderNumber))
	}
	return decodeOrderDocument(docs[0].ID, docs[0].Data), nil
}

// ExistsByNumber reports whether an order already holds the number. Used by
// the generator's collision check.
func (r *OrderRepository) ExistsByNumber(ctx context.Context, orderNumber string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return false, errors.New("order repository: order number is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// List returns orders matching the filter, newest first. Free-text search is
// applied to the fetched page after the structured Firestore filters.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Filter.Statuses))
	for _, s := range filter.Filter.Statuses {
		if v := strings.TrimSpace(string(s)); v != "" {
			statusFilters = append(statusFilters, v)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyerID := strings.TrimSpace(filter.Filter.BuyerID); buyerID != "" {
			q = q.Where("buyerId", "==", buyerID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		if filter.Filter.PaymentStatus != nil {
			q = q.Where("paymentStatus", "==", string(*filter.Filter.PaymentStatus))
		}
		if filter.Filter.PaymentMethod != nil {
			q = q.Where("paymentMethod", "==", string(*filter.Filter.PaymentMethod))
		}
		if filter.Filter.CreatedAt.From != nil {
			q = q.Where("createdAt", ">=", filter.Filter.CreatedAt.From.UTC())
		}
		if filter.Filter.CreatedAt.To != nil {
			q = q.Where("createdAt", "<=", filter.Filter.CreatedAt.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		order := decodeOrderDocument(doc.ID, doc.Data)
		if !orderMatchesSearch(order, filter.Filter.Search) {
			continue
		}
		items = append(items, order)
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

func orderMatchesSearch(order domain.Order, search string) bool {
	search = strings.TrimSpace(search)
	if search == "" {
		return true
	}
	return textutil.ContainsFold(order.OrderNumber, search) ||
		textutil.ContainsFold(order.BuyerEmail, search) ||
		textutil.ContainsFold(order.ShippingAddress.Recipient, search)
}

// Document mapping ----------------------------------------------------------

type orderDocument struct {
	OrderNumber string `firestore:"orderNumber"`
	BuyerID     string `firestore:"buyerId"`
	BuyerEmail  string `firestore:"buyerEmail"`

	LineItems       []orderLineItemDocument `firestore:"lineItems"`
	ShippingAddress addressDocument         `firestore:"shippingAddress"`
	BillingAddress  *addressDocument        `firestore:"billingAddress,omitempty"`

	Currency     string  `firestore:"currency"`
	Subtotal     float64 `firestore:"subtotal"`
	ShippingCost float64 `firestore:"shippingCost"`
	Tax          float64 `firestore:"tax"`
	Discount     float64 `firestore:"discount"`
	TotalAmount  float64 `firestore:"totalAmount"`

	PaymentMethod string `firestore:"paymentMethod"`
	PaymentStatus string `firestore:"paymentStatus"`

	Status        string                           `firestore:"status"`
	Cancellation  *cancellationRequestDocument     `firestore:"cancellationRequest,omitempty"`
	StatusHistory map[string]statusHistoryDocument `firestore:"statusHistory"`
	Notes         []orderNoteDocument              `firestore:"notes,omitempty"`

	TrackingNumber  *string `firestore:"trackingNumber,omitempty"`
	CourierProvider *string `firestore:"courierProvider,omitempty"`
	TrackingURL     *string `firestore:"trackingUrl,omitempty"`

	EstimatedDeliveryDate time.Time `firestore:"estimatedDeliveryDate"`
	CreatedAt             time.Time `firestore:"createdAt"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

type orderLineItemDocument struct {
	ProductRef string  `firestore:"productRef"`
	Name       string  `firestore:"name"`
	Size       *string `firestore:"size,omitempty"`
	Color      *string `firestore:"color,omitempty"`
	Quantity   int64   `firestore:"qty"`
	UnitPrice  float64 `firestore:"unitPrice"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      string  `firestore:"phone"`
}

type statusHistoryDocument struct {
	Timestamp time.Time `firestore:"timestamp"`
	UpdatedBy string    `firestore:"updatedBy"`
	Note      *string   `firestore:"note,omitempty"`
}

type orderNoteDocument struct {
	Note      string    `firestore:"note"`
	AddedBy   string    `firestore:"addedBy"`
	Timestamp time.Time `firestore:"timestamp"`
}

type cancellationRequestDocument struct {
	Status      string     `firestore:"status"`
	Reason      string     `firestore:"reason"`
	RequestedBy string     `firestore:"requestedBy"`
	RequestedAt time.Time  `firestore:"requestedAt"`
	ProcessedBy *string    `firestore:"processedBy,omitempty"`
	ProcessedAt *time.Time `firestore:"processedAt,omitempty"`
	AdminNote   *string    `firestore:"adminNote,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineItemDocument, len(order.LineItems))
	for i, li := range order.LineItems {
		lines[i] = orderLineItemDocument{
			ProductRef: strings.TrimSpace(li.ProductRef),
			Name:       li.Name,
			Size:       li.Size,
			Color:      li.Color,
			Quantity:   li.Quantity,
			UnitPrice:  li.UnitPrice,
		}
	}

	history := make(map[string]statusHistoryDocument, len(order.StatusHistory))
	for status, entry := range order.StatusHistory {
		history[string(status)] = statusHistoryDocument{
			Timestamp: entry.Timestamp.UTC(),
			UpdatedBy: entry.UpdatedBy,
			Note:      entry.Note,
		}
	}

	notes := make([]orderNoteDocument, len(order.Notes))
	for i, note := range order.Notes {
		notes[i] = orderNoteDocument{
			Note:      note.Note,
			AddedBy:   note.AddedBy,
			Timestamp: note.Timestamp.UTC(),
		}
	}

	doc := orderDocument{
		OrderNumber:           strings.TrimSpace(order.OrderNumber),
		BuyerID:               strings.TrimSpace(order.BuyerID),
		BuyerEmail:            strings.TrimSpace(order.BuyerEmail),
		LineItems:             lines,
		ShippingAddress:       encodeAddressDocument(order.ShippingAddress),
		Currency:              string(order.Currency),
		Subtotal:              order.Subtotal,
		ShippingCost:          order.ShippingCost,
		Tax:                   order.Tax,
		Discount:              order.Discount,
		TotalAmount:           order.TotalAmount,
		PaymentMethod:         string(order.PaymentMethod),
		PaymentStatus:         string(order.PaymentStatus),
		Status:                string(order.Status),
		StatusHistory:         history,
		Notes:                 notes,
		TrackingNumber:        order.TrackingNumber,
		CourierProvider:       order.CourierProvider,
		TrackingURL:           order.TrackingURL,
		EstimatedDeliveryDate: order.EstimatedDeliveryDate.UTC(),
		CreatedAt:             order.CreatedAt.UTC(),
		UpdatedAt:             order.UpdatedAt.UTC(),
	}

	if order.BillingAddress != nil {
		billing := encodeAddressDocument(*order.BillingAddress)
		doc.BillingAddress = &billing
	}
	if order.CancellationRequest != nil {
		doc.Cancellation = &cancellationRequestDocument{
			Status:      string(order.CancellationRequest.Status),
			Reason:      order.CancellationRequest.Reason,
			RequestedBy: order.CancellationRequest.RequestedBy,
			RequestedAt: order.CancellationRequest.RequestedAt.UTC(),
			ProcessedBy: order.CancellationRequest.ProcessedBy,
			ProcessedAt: order.CancellationRequest.ProcessedAt,
			AdminNote:   order.CancellationRequest.AdminNote,
		}
	}
	return doc
}

func encodeAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	lines := make([]domain.OrderLineItem, len(doc.LineItems))
	for i, li := range doc.LineItems {
		lines[i] = domain.OrderLineItem{
			ProductRef: li.ProductRef,
			Name:       li.Name,
			Size:       li.Size,
			Color:      li.Color,
			Quantity:   li.Quantity,
			UnitPrice:  li.UnitPrice,
		}
	}

	history := make(map[domain.OrderStatus]domain.StatusHistoryEntry, len(doc.StatusHistory))
	for status, entry := range doc.StatusHistory {
		history[domain.OrderStatus(status)] = domain.StatusHistoryEntry{
			Timestamp: entry.Timestamp,
			UpdatedBy: entry.UpdatedBy,
			Note:      entry.Note,
		}
	}

	notes := make([]domain.OrderNote, len(doc.Notes))
	for i, note := range doc.Notes {
		notes[i] = domain.OrderNote{
			Note:      note.Note,
			AddedBy:   note.AddedBy,
			Timestamp: note.Timestamp,
		}
	}

	order := domain.Order{
		ID:                    id,
		OrderNumber:           doc.OrderNumber,
		BuyerID:               doc.BuyerID,
		BuyerEmail:            doc.BuyerEmail,
		LineItems:             lines,
		ShippingAddress:       decodeAddressDocument(doc.ShippingAddress),
		Currency:              domain.Currency(doc.Currency),
		Subtotal:              doc.Subtotal,
		ShippingCost:          doc.ShippingCost,
		Tax:                   doc.Tax,
		Discount:              doc.Discount,
		TotalAmount:           doc.TotalAmount,
		PaymentMethod:         domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:         domain.PaymentStatus(doc.PaymentStatus),
		Status:                domain.OrderStatus(doc.Status),
		StatusHistory:         history,
		Notes:                 notes,
		TrackingNumber:        doc.TrackingNumber,
		CourierProvider:       doc.CourierProvider,
		TrackingURL:           doc.TrackingURL,
		EstimatedDeliveryDate: doc.EstimatedDeliveryDate,
		CreatedAt:             doc.CreatedAt,
		UpdatedAt:             doc.UpdatedAt,
	}
	if doc.BillingAddress != nil {
		billing := decodeAddressDocument(*doc.BillingAddress)
		order.BillingAddress = &billing
	}
	if doc.Cancellation != nil {
		order.CancellationRequest = &domain.CancellationRequest{
			Status:      domain.CancellationStatus(doc.Cancellation.Status),
			Reason:      doc.Cancellation.Reason,
			RequestedBy: doc.Cancellation.RequestedBy,
			RequestedAt: doc.Cancellation.RequestedAt,
			ProcessedBy: doc.Cancellation.ProcessedBy,
			ProcessedAt: doc.Cancellation.ProcessedAt,
			AdminNote:   doc.Cancellation.AdminNote,
		}
	}
	return order
}

func decodeAddressDocument(doc addressDocument) domain.Address {
	return domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      doc.Phone,
	}
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}
