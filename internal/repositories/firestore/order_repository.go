package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/marketfold/api/internal/domain"
	pfirestore "github.com/marketfold/api/internal/platform/firestore"
	"github.com/marketfold/api/internal/platform/pagination"
	"github.com/marketfold/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

// OrderRepository persists the order aggregate as a single Firestore document
// per order, with a companion ledger collection enforcing order-number
// uniqueness.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
	numbers  *pfirestore.BaseRepository[orderNumberDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		numbers:  pfirestore.NewBaseRepository[orderNumberDocument](provider, orderNumbersCollection, nil, nil),
	}, nil
}

// Insert creates the order document and reserves its order number in one
// transaction. Either Create fails with AlreadyExists when the ID or number
// is taken, which surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	orderNumber := strings.TrimSpace(order.OrderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	order.Version = 1
	doc := encodeOrderDocument(order)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		numberRef, err := r.numbers.DocumentRef(ctx, orderNumber)
		if err != nil {
			return err
		}
		if err := tx.Create(numberRef, orderNumberDocument{
			OrderID:   orderID,
			CreatedAt: doc.OrderDate,
		}); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.insert", err)
	}
	return order, nil
}

// Update rewrites the aggregate with a compare-and-swap on Version. A stale
// caller loses with a conflict error and the document is untouched.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	next := order
	next.Version = order.Version + 1
	doc := encodeOrderDocument(next)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snapshot.DataTo(&current); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}
		if current.Version != order.Version {
			return status.Errorf(codes.FailedPrecondition,
				"order %s version mismatch: have %d, want %d", orderID, current.Version, order.Version)
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return next, nil
}

// FindByID fetches a single order aggregate.
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

// FindByNumber resolves the order via the number ledger.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.numbers == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}
	ledger, err := r.numbers.Get(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, ledger.Data.OrderID)
}

// ListByCustomer returns a customer's orders newest first with cursor paging.
func (r *OrderRepository) ListByCustomer(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	customerID := strings.TrimSpace(filter.CustomerID)
	if customerID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: customer id is required")
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		if trimmed := strings.TrimSpace(string(s)); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	return r.listOrders(ctx, filter.Pagination, filter.DateRange, func(q firestore.Query) firestore.Query {
		q = q.Where("customerId", "==", customerID)
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}
		return q
	})
}

// ListBySeller returns orders containing a sub-order for the seller, newest
// first with cursor paging. Sub-order seller refs are denormalised into a
// top-level array for this query.
func (r *OrderRepository) ListBySeller(ctx context.Context, filter repositories.SellerOrderFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	sellerRef := strings.TrimSpace(filter.SellerRef)
	if sellerRef == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: seller ref is required")
	}

	return r.listOrders(ctx, filter.Pagination, filter.DateRange, func(q firestore.Query) firestore.Query {
		return q.Where("sellerRefs", "array-contains", sellerRef)
	})
}

func (r *OrderRepository) listOrders(
	ctx context.Context,
	page domain.Pagination,
	dateRange domain.RangeQuery[time.Time],
	scope func(firestore.Query) firestore.Query,
) (domain.CursorPage[domain.Order], error) {
	limit := page.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(page.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = scope(q)
		if dateRange.From != nil && !dateRange.From.IsZero() {
			q = q.Where("orderDate", ">=", dateRange.From.UTC())
		}
		if dateRange.To != nil && !dateRange.To.IsZero() {
			q = q.Where("orderDate", "<=", dateRange.To.UTC())
		}
		q = q.OrderBy("orderDate", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
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

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderListToken(last.Data.OrderDate, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// CountCreatedOn counts orders placed within [dayStart, dayEnd) using a
// server-side aggregation, so the generator can seed a lost daily counter.
func (r *OrderRepository) CountCreatedOn(ctx context.Context, dayStart, dayEnd time.Time) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}
	if !dayStart.Before(dayEnd) {
		return 0, errors.New("order repository: day start must precede day end")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(ordersCollection).
		Where("orderDate", ">=", dayStart.UTC()).
		Where("orderDate", "<", dayEnd.UTC())

	results, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.count_created_on", err)
	}

	raw, ok := results["total"]
	if !ok {
		return 0, errors.New("order repository: aggregation result missing count")
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("order repository: unexpected aggregation value %T", raw)
	}
	return value.GetIntegerValue(), nil
}

// List cursors ride the shared pagination token format: a StartAfter pair of
// (orderDate, documentID) matching the query's composite sort key.
func encodeOrderListToken(orderDate time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{orderDate.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: malformed order cursor", pagination.ErrInvalidPageToken)
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	docID, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID || docID == "" {
		return time.Time{}, "", fmt.Errorf("%w: malformed order cursor", pagination.ErrInvalidPageToken)
	}
	tokenTime, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return tokenTime, docID, nil
}

// Documents ------------------------------------------------------------------

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber     string                 `firestore:"orderNumber"`
	CustomerID      string                 `firestore:"customerId"`
	Status          string                 `firestore:"status"`
	Currency        string                 `firestore:"currency"`
	Totals          orderTotalsDocument    `firestore:"totals"`
	Items           []orderItemDocument    `firestore:"items"`
	SubOrders       []subOrderDocument     `firestore:"subOrders"`
	SellerRefs      []string               `firestore:"sellerRefs"`
	Returns         []returnDocument       `firestore:"returns,omitempty"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	BillingAddress  addressDocument        `firestore:"billingAddress"`
	Payment         paymentDocument        `firestore:"payment"`
	Cancellation    *cancellationDocument  `firestore:"cancellation,omitempty"`
	CreatedBy       string                 `firestore:"createdBy,omitempty"`
	UpdatedBy       string                 `firestore:"updatedBy,omitempty"`
	Metadata        map[string]any         `firestore:"metadata,omitempty"`
	Version         int64                  `firestore:"version"`
	OrderDate       time.Time              `firestore:"orderDate"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
	ConfirmedAt     *time.Time             `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time             `firestore:"deliveredAt,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Tax      int64 `firestore:"tax"`
	Shipping int64 `firestore:"shipping"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type orderItemDocument struct {
	ID            string            `firestore:"id"`
	ProductRef    string            `firestore:"productRef"`
	SellerRef     string            `firestore:"sellerRef"`
	Name          string            `firestore:"name"`
	Variant       string            `firestore:"variant,omitempty"`
	Quantity      int               `firestore:"quantity"`
	UnitPrice     int64             `firestore:"unitPrice"`
	CommissionBps int               `firestore:"commissionBps"`
	Status        string            `firestore:"status"`
	Tracking      *trackingDocument `firestore:"tracking,omitempty"`
}

type trackingDocument struct {
	Carrier           string                  `firestore:"carrier"`
	Number            string                  `firestore:"number"`
	EstimatedDelivery *time.Time              `firestore:"estimatedDelivery,omitempty"`
	Events            []trackingEventDocument `firestore:"events,omitempty"`
}

type trackingEventDocument struct {
	Status     string    `firestore:"status"`
	Message    string    `firestore:"message,omitempty"`
	Location   string    `firestore:"location,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

type subOrderDocument struct {
	ID                         string   `firestore:"id"`
	SellerRef                  string   `firestore:"sellerRef"`
	ItemIDs                    []string `firestore:"itemIds"`
	Status                     string   `firestore:"status"`
	Total                      int64    `firestore:"total"`
	Commission                 int64    `firestore:"commission"`
	Payout                     int64    `firestore:"payout"`
	RefundedAmount             int64    `firestore:"refundedAmount"`
	CommissionRetainedOnReturn bool     `firestore:"commissionRetainedOnReturn"`
}

type returnDocument struct {
	ID           string               `firestore:"id"`
	Lines        []returnLineDocument `firestore:"lines"`
	Reason       string               `firestore:"reason,omitempty"`
	Status       string               `firestore:"status"`
	RefundAmount int64                `firestore:"refundAmount"`
	RequestedAt  time.Time            `firestore:"requestedAt"`
	ProcessedAt  *time.Time           `firestore:"processedAt,omitempty"`
}

type returnLineDocument struct {
	ItemID   string `firestore:"itemId"`
	Quantity int    `firestore:"quantity"`
}

type paymentDocument struct {
	Method         string           `firestore:"method"`
	Status         string           `firestore:"status"`
	TransactionRef string           `firestore:"transactionRef,omitempty"`
	Refunds        []refundDocument `firestore:"refunds,omitempty"`
}

type refundDocument struct {
	ID        string    `firestore:"id"`
	Amount    int64     `firestore:"amount"`
	Reason    string    `firestore:"reason,omitempty"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type cancellationDocument struct {
	Reason       string    `firestore:"reason,omitempty"`
	ActorRef     string    `firestore:"actorRef,omitempty"`
	RefundAmount int64     `firestore:"refundAmount"`
	CancelledAt  time.Time `firestore:"cancelledAt"`
}

// Encoding -------------------------------------------------------------------

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CustomerID:  strings.TrimSpace(order.CustomerID),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Tax:      order.Totals.Tax,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		ShippingAddress: encodeAddress(order.ShippingAddress),
		BillingAddress:  encodeAddress(order.BillingAddress),
		Payment:         encodePayment(order.Payment),
		Metadata:        cloneAnyMap(order.Metadata),
		Version:         order.Version,
		OrderDate:       order.OrderDate.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		ConfirmedAt:     utcTimePtr(order.ConfirmedAt),
		ShippedAt:       utcTimePtr(order.ShippedAt),
		DeliveredAt:     utcTimePtr(order.DeliveredAt),
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, encodeOrderItem(item))
	}

	doc.SubOrders = make([]subOrderDocument, 0, len(order.SubOrders))
	doc.SellerRefs = make([]string, 0, len(order.SubOrders))
	for _, sub := range order.SubOrders {
		doc.SubOrders = append(doc.SubOrders, subOrderDocument{
			ID:                         sub.ID,
			SellerRef:                  sub.SellerRef,
			ItemIDs:                    append([]string(nil), sub.ItemIDs...),
			Status:                     string(sub.Status),
			Total:                      sub.Total,
			Commission:                 sub.Commission,
			Payout:                     sub.Payout,
			RefundedAmount:             sub.RefundedAmount,
			CommissionRetainedOnReturn: sub.CommissionRetainedOnReturn,
		})
		doc.SellerRefs = append(doc.SellerRefs, sub.SellerRef)
	}

	if len(order.Returns) > 0 {
		doc.Returns = make([]returnDocument, 0, len(order.Returns))
		for _, ret := range order.Returns {
			doc.Returns = append(doc.Returns, encodeReturn(ret))
		}
	}

	if order.Cancellation != nil {
		doc.Cancellation = &cancellationDocument{
			Reason:       order.Cancellation.Reason,
			ActorRef:     order.Cancellation.ActorRef,
			RefundAmount: order.Cancellation.RefundAmount,
			CancelledAt:  order.Cancellation.CancelledAt.UTC(),
		}
	}
	if order.Audit.CreatedBy != nil {
		doc.CreatedBy = *order.Audit.CreatedBy
	}
	if order.Audit.UpdatedBy != nil {
		doc.UpdatedBy = *order.Audit.UpdatedBy
	}
	return doc
}

func encodeOrderItem(item domain.OrderItem) orderItemDocument {
	doc := orderItemDocument{
		ID:            item.ID,
		ProductRef:    item.ProductRef,
		SellerRef:     item.SellerRef,
		Name:          item.Name,
		Quantity:      item.Quantity,
		UnitPrice:     item.UnitPrice,
		CommissionBps: item.CommissionBps,
		Status:        string(item.Status),
	}
	if item.Variant != nil {
		doc.Variant = *item.Variant
	}
	if item.Tracking != nil {
		tracking := &trackingDocument{
			Carrier:           item.Tracking.Carrier,
			Number:            item.Tracking.Number,
			EstimatedDelivery: utcTimePtr(item.Tracking.EstimatedDelivery),
		}
		for _, event := range item.Tracking.Events {
			tracking.Events = append(tracking.Events, trackingEventDocument{
				Status:     event.Status,
				Message:    event.Message,
				Location:   event.Location,
				OccurredAt: event.OccurredAt.UTC(),
			})
		}
		doc.Tracking = tracking
	}
	return doc
}

func encodeReturn(ret domain.ReturnRequest) returnDocument {
	doc := returnDocument{
		ID:           ret.ID,
		Reason:       ret.Reason,
		Status:       string(ret.Status),
		RefundAmount: ret.RefundAmount,
		RequestedAt:  ret.RequestedAt.UTC(),
		ProcessedAt:  utcTimePtr(ret.ProcessedAt),
	}
	for _, line := range ret.Lines {
		doc.Lines = append(doc.Lines, returnLineDocument{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	return doc
}

func encodePayment(payment domain.PaymentInfo) paymentDocument {
	doc := paymentDocument{
		Method:         string(payment.Method),
		Status:         string(payment.Status),
		TransactionRef: payment.TransactionRef,
	}
	for _, refund := range payment.Refunds {
		doc.Refunds = append(doc.Refunds, refundDocument{
			ID:        refund.ID,
			Amount:    refund.Amount,
			Reason:    refund.Reason,
			Status:    string(refund.Status),
			CreatedAt: refund.CreatedAt.UTC(),
		})
	}
	return doc
}

func encodeAddress(addr domain.Address) addressDocument {
	doc := addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
	}
	if addr.Line2 != nil {
		doc.Line2 = strings.TrimSpace(*addr.Line2)
	}
	if addr.State != nil {
		doc.State = strings.TrimSpace(*addr.State)
	}
	if addr.Phone != nil {
		doc.Phone = strings.TrimSpace(*addr.Phone)
	}
	return doc
}

// Decoding -------------------------------------------------------------------

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		CustomerID:  doc.CustomerID,
		Status:      domain.OrderStatus(doc.Status),
		Currency:    doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal: doc.Totals.Subtotal,
			Tax:      doc.Totals.Tax,
			Shipping: doc.Totals.Shipping,
			Discount: doc.Totals.Discount,
			Total:    doc.Totals.Total,
		},
		ShippingAddress: decodeAddress(doc.ShippingAddress),
		BillingAddress:  decodeAddress(doc.BillingAddress),
		Payment:         decodePayment(doc.Payment),
		Metadata:        cloneAnyMap(doc.Metadata),
		Version:         doc.Version,
		OrderDate:       doc.OrderDate,
		UpdatedAt:       doc.UpdatedAt,
		ConfirmedAt:     doc.ConfirmedAt,
		ShippedAt:       doc.ShippedAt,
		DeliveredAt:     doc.DeliveredAt,
	}

	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, decodeOrderItem(item))
	}

	order.SubOrders = make([]domain.SubOrder, 0, len(doc.SubOrders))
	for _, sub := range doc.SubOrders {
		order.SubOrders = append(order.SubOrders, domain.SubOrder{
			ID:                         sub.ID,
			SellerRef:                  sub.SellerRef,
			ItemIDs:                    append([]string(nil), sub.ItemIDs...),
			Status:                     domain.OrderStatus(sub.Status),
			Total:                      sub.Total,
			Commission:                 sub.Commission,
			Payout:                     sub.Payout,
			RefundedAmount:             sub.RefundedAmount,
			CommissionRetainedOnReturn: sub.CommissionRetainedOnReturn,
		})
	}

	for _, ret := range doc.Returns {
		order.Returns = append(order.Returns, decodeReturn(ret))
	}

	if doc.Cancellation != nil {
		order.Cancellation = &domain.Cancellation{
			Reason:       doc.Cancellation.Reason,
			ActorRef:     doc.Cancellation.ActorRef,
			RefundAmount: doc.Cancellation.RefundAmount,
			CancelledAt:  doc.Cancellation.CancelledAt,
		}
	}
	if doc.CreatedBy != "" {
		createdBy := doc.CreatedBy
		order.Audit.CreatedBy = &createdBy
	}
	if doc.UpdatedBy != "" {
		updatedBy := doc.UpdatedBy
		order.Audit.UpdatedBy = &updatedBy
	}
	return order
}

func decodeOrderItem(doc orderItemDocument) domain.OrderItem {
	item := domain.OrderItem{
		ID:            doc.ID,
		ProductRef:    doc.ProductRef,
		SellerRef:     doc.SellerRef,
		Name:          doc.Name,
		Quantity:      doc.Quantity,
		UnitPrice:     doc.UnitPrice,
		CommissionBps: doc.CommissionBps,
		Status:        domain.OrderStatus(doc.Status),
	}
	if doc.Variant != "" {
		variant := doc.Variant
		item.Variant = &variant
	}
	if doc.Tracking != nil {
		tracking := &domain.Tracking{
			Carrier:           doc.Tracking.Carrier,
			Number:            doc.Tracking.Number,
			EstimatedDelivery: doc.Tracking.EstimatedDelivery,
		}
		for _, event := range doc.Tracking.Events {
			tracking.Events = append(tracking.Events, domain.TrackingEvent{
				Status:     event.Status,
				Message:    event.Message,
				Location:   event.Location,
				OccurredAt: event.OccurredAt,
			})
		}
		item.Tracking = tracking
	}
	return item
}

func decodeReturn(doc returnDocument) domain.ReturnRequest {
	ret := domain.ReturnRequest{
		ID:           doc.ID,
		Reason:       doc.Reason,
		Status:       domain.ReturnStatus(doc.Status),
		RefundAmount: doc.RefundAmount,
		RequestedAt:  doc.RequestedAt,
		ProcessedAt:  doc.ProcessedAt,
	}
	for _, line := range doc.Lines {
		ret.Lines = append(ret.Lines, domain.ReturnLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	return ret
}

func decodePayment(doc paymentDocument) domain.PaymentInfo {
	payment := domain.PaymentInfo{
		Method:         domain.PaymentMethod(doc.Method),
		Status:         domain.PaymentStatus(doc.Status),
		TransactionRef: doc.TransactionRef,
	}
	for _, refund := range doc.Refunds {
		payment.Refunds = append(payment.Refunds, domain.Refund{
			ID:        refund.ID,
			Amount:    refund.Amount,
			Reason:    refund.Reason,
			Status:    domain.RefundStatus(refund.Status),
			CreatedAt: refund.CreatedAt,
		})
	}
	return payment
}

func decodeAddress(doc addressDocument) domain.Address {
	addr := domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		City:       doc.City,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
	if doc.Line2 != "" {
		line2 := doc.Line2
		addr.Line2 = &line2
	}
	if doc.State != "" {
		state := doc.State
		addr.State = &state
	}
	if doc.Phone != "" {
		phone := doc.Phone
		addr.Phone = &phone
	}
	return addr
}

func utcTimePtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
