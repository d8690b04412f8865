package domain

import (
	"fmt"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders and line items.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed but payment is not yet settled.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment was authorized (or COD accepted).
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the seller acknowledged and is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates tracking has been assigned and the order left the seller.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates delivery has been confirmed.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before fulfilment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned indicates all items were returned after delivery.
	OrderStatusReturned OrderStatus = "returned"
)

// orderStatusRank orders forward-progress states for display roll-ups.
// Terminal side-exits are not part of the forward ordering.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// ParseOrderStatus validates a raw status string against the closed enumeration.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return status, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// PaymentMethod enumerates the closed set of supported payment instruments.
type PaymentMethod string

const (
	// PaymentMethodCardStripe routes card payments through the Stripe gateway.
	PaymentMethodCardStripe PaymentMethod = "card_stripe"
	// PaymentMethodCardAdyen routes card payments through the Adyen gateway.
	PaymentMethodCardAdyen PaymentMethod = "card_adyen"
	// PaymentMethodWalletRegional covers the regional wallet gateway.
	PaymentMethodWalletRegional PaymentMethod = "wallet_regional"
	// PaymentMethodCashOnDelivery collects payment at the door.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	// PaymentMethodBankTransfer settles via manual bank transfer.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// ParsePaymentMethod validates a raw method string against the closed enumeration.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodCardStripe, PaymentMethodCardAdyen, PaymentMethodWalletRegional,
		PaymentMethodCashOnDelivery, PaymentMethodBankTransfer:
		return method, nil
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

// PaymentStatus enumerates the payment sub-state machine of an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no authorization has completed yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusAuthorized indicates the gateway authorized the amount.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusCaptured indicates the authorized amount has been captured.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusCODPending indicates a cash-on-delivery order awaiting collection.
	PaymentStatusCODPending PaymentStatus = "cod_pending"
	// PaymentStatusFailed indicates the gateway declined or errored.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the full order total has been refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusPartiallyRefunded indicates a refund smaller than the order total.
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// RefundStatus tracks the gateway-side progress of an individual refund record.
type RefundStatus string

const (
	// RefundStatusPending indicates the refund was recorded but not yet settled by the gateway.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusSucceeded indicates the gateway confirmed the refund.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusFailed indicates the gateway rejected the refund; reconciliation is manual.
	RefundStatusFailed RefundStatus = "failed"
)

// ReturnStatus enumerates lifecycle states of a return request.
type ReturnStatus string

const (
	// ReturnStatusRequested indicates the customer filed the return.
	ReturnStatusRequested ReturnStatus = "requested"
	// ReturnStatusApproved indicates operations accepted the request.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusReceived indicates the returned goods arrived at the seller.
	ReturnStatusReceived ReturnStatus = "received"
	// ReturnStatusProcessed indicates the refund amount has been computed and applied.
	ReturnStatusProcessed ReturnStatus = "processed"
	// ReturnStatusCompleted indicates the return is fully settled.
	ReturnStatusCompleted ReturnStatus = "completed"
	// ReturnStatusRejected is the terminal refusal state.
	ReturnStatusRejected ReturnStatus = "rejected"
)

// ParseReturnStatus validates a raw status string against the closed enumeration.
func ParseReturnStatus(raw string) (ReturnStatus, error) {
	status := ReturnStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case ReturnStatusRequested, ReturnStatusApproved, ReturnStatusReceived,
		ReturnStatusProcessed, ReturnStatusCompleted, ReturnStatusRejected:
		return status, nil
	}
	return "", fmt.Errorf("unknown return status %q", raw)
}

// Address represents postal address structures shared by customer and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// Order is the aggregate root owning line items, sub-orders, payment state, and returns.
// All monetary fields are minor currency units.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	Status          OrderStatus
	Currency        string
	Totals          OrderTotals
	Items           []OrderItem
	SubOrders       []SubOrder
	Returns         []ReturnRequest
	ShippingAddress Address
	BillingAddress  Address
	Payment         PaymentInfo
	Cancellation    *Cancellation
	Audit           OrderAudit
	Metadata        map[string]any
	Version         int64
	OrderDate       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
}

// OrderTotals holds the reconciled monetary roll-up for an order.
type OrderTotals struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Discount int64
	Total    int64
}

// OrderItem mirrors a purchased product at checkout time. Price, seller, and
// commission are immutable snapshots; later catalog changes never affect them.
type OrderItem struct {
	ID            string
	ProductRef    string
	SellerRef     string
	Name          string
	Variant       *string
	Quantity      int
	UnitPrice     int64
	CommissionBps int
	Status        OrderStatus
	Tracking      *Tracking
}

// Tracking stores carrier assignment and the append-only carrier event log for one item.
type Tracking struct {
	Carrier           string
	Number            string
	EstimatedDelivery *time.Time
	Events            []TrackingEvent
}

// TrackingEvent is a timestamped carrier or operations update.
type TrackingEvent struct {
	Status     string
	Message    string
	Location   string
	OccurredAt time.Time
}

// SubOrder is the per-seller partition of an order, tracked and paid out independently.
type SubOrder struct {
	ID                         string
	SellerRef                  string
	ItemIDs                    []string
	Status                     OrderStatus
	Total                      int64
	Commission                 int64
	Payout                     int64
	RefundedAmount             int64
	CommissionRetainedOnReturn bool
}

// ReturnRequest captures one customer return covering a subset of items.
type ReturnRequest struct {
	ID           string
	Lines        []ReturnLine
	Reason       string
	Status       ReturnStatus
	RefundAmount int64
	RequestedAt  time.Time
	ProcessedAt  *time.Time
}

// ReturnLine references a returned item and the quantity sent back.
type ReturnLine struct {
	ItemID   string
	Quantity int
}

// PaymentInfo groups the payment sub-state of an order. Refunds are append-only.
type PaymentInfo struct {
	Method         PaymentMethod
	Status         PaymentStatus
	TransactionRef string
	Refunds        []Refund
}

// Refund is one immutable refund ledger entry.
type Refund struct {
	ID        string
	Amount    int64
	Reason    string
	Status    RefundStatus
	CreatedAt time.Time
}

// Cancellation records the single cancellation of an order, set at most once.
type Cancellation struct {
	Reason       string
	ActorRef     string
	RefundAmount int64
	CancelledAt  time.Time
}

// OrderAudit records the actors responsible for creating/updating the order.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// RefundedTotal sums refund records that have not failed at the gateway.
func (p PaymentInfo) RefundedTotal() int64 {
	var total int64
	for _, refund := range p.Refunds {
		if refund.Status == RefundStatusFailed {
			continue
		}
		total += refund.Amount
	}
	return total
}

// ItemByID returns a pointer into Items for in-place mutation by the engine.
func (o *Order) ItemByID(itemID string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// SubOrderBySeller returns a pointer into SubOrders for the given seller.
func (o *Order) SubOrderBySeller(sellerRef string) (*SubOrder, bool) {
	for i := range o.SubOrders {
		if o.SubOrders[i].SellerRef == sellerRef {
			return &o.SubOrders[i], true
		}
	}
	return nil, false
}

// ProductListing is the catalog's view of a purchasable product. Checkout
// copies these values into the order item snapshot.
type ProductListing struct {
	ProductRef    string
	SellerRef     string
	Name          string
	UnitPrice     int64
	Currency      string
	CommissionBps int
	Active        bool
}
