package services

import (
	"context"
	"time"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Address            = domain.Address
	Order              = domain.Order
	OrderTotals        = domain.OrderTotals
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderAudit         = domain.OrderAudit
	SubOrder           = domain.SubOrder
	ReturnRequest      = domain.ReturnRequest
	ReturnLine         = domain.ReturnLine
	ReturnStatus       = domain.ReturnStatus
	PaymentInfo        = domain.PaymentInfo
	PaymentMethod      = domain.PaymentMethod
	PaymentStatus      = domain.PaymentStatus
	Refund             = domain.Refund
	RefundStatus       = domain.RefundStatus
	Cancellation       = domain.Cancellation
	Tracking           = domain.Tracking
	TrackingEvent      = domain.TrackingEvent
	PricingBreakdown   = domain.PricingBreakdown
	LinePricing        = domain.LinePricing
	SellerSplit        = domain.SellerSplit
	SystemHealthReport = domain.SystemHealthReport
)

// Filter aliases keep handler wiring free of repository imports.
type (
	OrderListFilter   = repositories.OrderListFilter
	SellerOrderFilter = repositories.SellerOrderFilter
)

// CheckoutService converts a cart snapshot into a durable order and settles
// the initial payment step.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// OrderService encapsulates order reads and every lifecycle mutation other
// than returns: confirmation, seller acknowledgement, shipping, delivery,
// and cancellation.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListCustomerOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListSellerOrders(ctx context.Context, filter SellerOrderFilter) (domain.CursorPage[Order], error)
	AcknowledgeSubOrder(ctx context.Context, cmd AcknowledgeSubOrderCommand) (Order, error)
	AssignTracking(ctx context.Context, cmd AssignTrackingCommand) (Order, error)
	AppendTrackingEvent(ctx context.Context, cmd AppendTrackingEventCommand) (Order, error)
	ConfirmDelivery(ctx context.Context, cmd ConfirmDeliveryCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// ReturnService owns the time-windowed return workflow and refund bookkeeping.
type ReturnService interface {
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error)
	TransitionReturn(ctx context.Context, cmd ReturnTransitionCommand) (Order, error)
}

// PaymentService applies gateway outcomes (webhooks, COD collection) to the
// payment sub-state of an order.
type PaymentService interface {
	RecordGatewayEvent(ctx context.Context, cmd GatewayEventCommand) (Order, error)
	RecordCODCollection(ctx context.Context, cmd CODCollectionCommand) (Order, error)
}

// OrderNumberService issues collision-free, date-scoped order numbers.
type OrderNumberService interface {
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)
}

// SystemService surfaces operational health for infrastructure probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// CatalogGateway is the narrow interface onto the external catalog service.
// The engine snapshots the returned values at order creation and never
// re-queries for historical orders.
type CatalogGateway interface {
	Snapshot(ctx context.Context, productRef string) (ProductSnapshot, error)
}

// ProductSnapshot carries the purchase-time values copied into an order item.
type ProductSnapshot struct {
	ProductRef    string
	SellerRef     string
	Name          string
	UnitPrice     int64
	Currency      string
	CommissionBps int
}

// OrderEventPublisher publishes order domain events for downstream consumers.
// Publishing is fire-and-forget; failures are logged, never surfaced.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	Locale         string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// Commands ------------------------------------------------------------------

// CartLine is one requested product within a checkout payload.
type CartLine struct {
	ProductRef string
	Quantity   int
	Variant    *string
}

// PlaceOrderCommand carries a validated checkout request.
type PlaceOrderCommand struct {
	CustomerID      string
	Lines           []CartLine
	Currency        string
	Tax             int64
	Shipping        int64
	Discount        int64
	PaymentMethod   PaymentMethod
	ShippingAddress Address
	BillingAddress  Address
	ActorID         string
	Locale          string
	Metadata        map[string]any
}

// AcknowledgeSubOrderCommand moves a seller's sub-order into processing.
type AcknowledgeSubOrderCommand struct {
	OrderID   string
	SellerRef string
	ActorID   string
}

// AssignTrackingCommand attaches carrier tracking to an item, shipping it.
type AssignTrackingCommand struct {
	OrderID           string
	ItemID            string
	SellerRef         string
	Carrier           string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ActorID           string
}

// AppendTrackingEventCommand appends a carrier update to an item's tracking log.
type AppendTrackingEventCommand struct {
	OrderID  string
	ItemID   string
	Status   string
	Message  string
	Location string
	ActorID  string
}

// ConfirmDeliveryCommand marks items delivered; empty ItemIDs covers all shipped items.
type ConfirmDeliveryCommand struct {
	OrderID string
	ItemIDs []string
	ActorID string
}

// CancelOrderCommand requests cancellation while the order is still cancellable.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// RequestReturnCommand files a return for a subset of delivered items.
type RequestReturnCommand struct {
	OrderID string
	Lines   []ReturnLine
	Reason  string
	ActorID string
}

// ReturnTransitionCommand advances one return request through its state machine.
type ReturnTransitionCommand struct {
	OrderID      string
	ReturnID     string
	TargetStatus ReturnStatus
	ActorID      string
}

// GatewayEventCommand normalises a PSP webhook into a payment outcome.
type GatewayEventCommand struct {
	OrderID        string
	Provider       string
	TransactionRef string
	Outcome        GatewayOutcome
	ActorID        string
}

// GatewayOutcome enumerates normalised gateway event results.
type GatewayOutcome string

const (
	// GatewayOutcomeAuthorized indicates funds were authorized.
	GatewayOutcomeAuthorized GatewayOutcome = "authorized"
	// GatewayOutcomeCaptured indicates funds were captured.
	GatewayOutcomeCaptured GatewayOutcome = "captured"
	// GatewayOutcomeFailed indicates the gateway declined or errored.
	GatewayOutcomeFailed GatewayOutcome = "failed"
	// GatewayOutcomeRefundSucceeded settles a pending refund record.
	GatewayOutcomeRefundSucceeded GatewayOutcome = "refund_succeeded"
	// GatewayOutcomeRefundFailed marks a pending refund record as failed.
	GatewayOutcomeRefundFailed GatewayOutcome = "refund_failed"
)

// CODCollectionCommand records cash collection for a cash-on-delivery order.
type CODCollectionCommand struct {
	OrderID string
	ActorID string
}
