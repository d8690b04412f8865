package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/repositories"
)

const defaultNumberRetryBudget = 3

var (
	// ErrCheckoutInvalidInput signals a checkout payload that cannot become an order.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrPaymentFailed indicates the gateway declined the initial authorization.
	// The order is persisted in pending with a failed payment sub-state.
	ErrPaymentFailed = errors.New("checkout: payment failed")
)

// PaymentAuthorizer performs the initial gateway authorization for an order.
// A nil error means funds are secured; Captured reports whether the gateway
// captured immediately rather than holding an authorization.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, order Order) (PaymentAuthorization, error)
}

// PaymentAuthorization is the gateway's answer to an authorization attempt.
type PaymentAuthorization struct {
	TransactionRef string
	Captured       bool
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders                   repositories.OrderRepository
	Numbers                  OrderNumberService
	Catalog                  CatalogGateway
	Payments                 PaymentAuthorizer
	Clock                    func() time.Time
	IDGenerator              func() string
	Events                   OrderEventPublisher
	Logger                   func(ctx context.Context, event string, fields map[string]any)
	NumberRetryBudget        int
	RetainCommissionOnReturn bool
	DisabledMethods          []domain.PaymentMethod
}

type checkoutService struct {
	orders            repositories.OrderRepository
	numbers           OrderNumberService
	catalog           CatalogGateway
	payments          PaymentAuthorizer
	clock             func() time.Time
	newID             func() string
	events            OrderEventPublisher
	logger            func(context.Context, string, map[string]any)
	numberRetryBudget int
	retainCommission  bool
	disabledMethods   map[domain.PaymentMethod]struct{}
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("checkout service: order number service is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog gateway is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment authorizer is required")
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

	budget := deps.NumberRetryBudget
	if budget <= 0 {
		budget = defaultNumberRetryBudget
	}

	disabled := make(map[domain.PaymentMethod]struct{}, len(deps.DisabledMethods))
	for _, method := range deps.DisabledMethods {
		disabled[method] = struct{}{}
	}

	return &checkoutService{
		orders:   deps.Orders,
		numbers:  deps.Numbers,
		catalog:  deps.Catalog,
		payments: deps.Payments,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:             idGen,
		events:            deps.Events,
		logger:            logger,
		numberRetryBudget: budget,
		retainCommission:  deps.RetainCommissionOnReturn,
		disabledMethods:   disabled,
	}, nil
}

// PlaceOrder converts a validated cart into a durable order. The order is
// persisted before the gateway is contacted, so a payment failure leaves a
// pending order with a failed payment sub-state rather than losing the cart.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if err := validatePlaceOrder(cmd); err != nil {
		return Order{}, err
	}
	if _, off := s.disabledMethods[cmd.PaymentMethod]; off {
		return Order{}, fmt.Errorf("%w: payment method %s is not available", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	now := s.clock()
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))

	items, err := s.snapshotItems(ctx, cmd, currency)
	if err != nil {
		return Order{}, err
	}

	breakdown, err := PriceOrder(items, cmd.Tax, cmd.Shipping, cmd.Discount)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	order := Order{
		ID:         orderIDPrefix + s.newID(),
		CustomerID: strings.TrimSpace(cmd.CustomerID),
		Status:     domain.OrderStatusPending,
		Currency:   currency,
		Totals: domain.OrderTotals{
			Subtotal: breakdown.Subtotal,
			Tax:      breakdown.Tax,
			Shipping: breakdown.Shipping,
			Discount: breakdown.Discount,
			Total:    breakdown.Total,
		},
		Items:           items,
		SubOrders:       s.buildSubOrders(items),
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		Payment: domain.PaymentInfo{
			Method: cmd.PaymentMethod,
			Status: domain.PaymentStatusPending,
		},
		OrderDate: now,
		UpdatedAt: now,
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		order.Audit.CreatedBy = &actor
	}
	if len(cmd.Metadata) > 0 {
		order.Metadata = maps.Clone(cmd.Metadata)
	}

	persisted, err := s.insertWithNumber(ctx, order, now)
	if err != nil {
		return Order{}, err
	}

	settled, err := s.settlePayment(ctx, persisted)
	if err != nil {
		return settled, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       settled.ID,
		OrderNumber:   settled.OrderNumber,
		CurrentStatus: string(settled.Status),
		ActorID:       cmd.ActorID,
		Locale:        cmd.Locale,
		OccurredAt:    s.clock(),
	})
	return settled, nil
}

// snapshotItems resolves catalog state for every cart line and freezes it
// into order items. Historical orders never re-query the catalog.
func (s *checkoutService) snapshotItems(ctx context.Context, cmd PlaceOrderCommand, currency string) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		productRef := strings.TrimSpace(line.ProductRef)
		snapshot, err := s.catalog.Snapshot(ctx, productRef)
		if err != nil {
			return nil, fmt.Errorf("%w: product %s: %v", ErrCheckoutInvalidInput, productRef, err)
		}
		if snapshot.Currency != "" && snapshot.Currency != currency {
			return nil, fmt.Errorf("%w: product %s is priced in %s, cart is %s",
				ErrCheckoutInvalidInput, productRef, snapshot.Currency, currency)
		}
		// A rate above 100% would retain more commission than the line grosses
		// and drive the seller payout negative.
		if snapshot.CommissionBps < 0 || snapshot.CommissionBps > commissionBpsDenominator {
			return nil, fmt.Errorf("%w: product %s has commission rate %d bps outside [0, %d]",
				ErrCheckoutInvalidInput, productRef, snapshot.CommissionBps, commissionBpsDenominator)
		}
		items = append(items, domain.OrderItem{
			ID:            itemIDPrefix + s.newID(),
			ProductRef:    snapshot.ProductRef,
			SellerRef:     snapshot.SellerRef,
			Name:          snapshot.Name,
			Variant:       line.Variant,
			Quantity:      line.Quantity,
			UnitPrice:     snapshot.UnitPrice,
			CommissionBps: snapshot.CommissionBps,
			Status:        domain.OrderStatusPending,
		})
	}
	return items, nil
}

// buildSubOrders materialises seller splits as sub-orders. Sub-order IDs are
// derived from the seller ref so re-deriving splits stays idempotent.
func (s *checkoutService) buildSubOrders(items []domain.OrderItem) []domain.SubOrder {
	splits := SplitBySeller(items)
	subs := make([]domain.SubOrder, 0, len(splits))
	for _, split := range splits {
		subs = append(subs, domain.SubOrder{
			ID:                         subOrderIDPrefix + split.SellerRef,
			SellerRef:                  split.SellerRef,
			ItemIDs:                    split.ItemIDs,
			Status:                     domain.OrderStatusPending,
			Total:                      split.Total,
			Commission:                 split.Commission,
			Payout:                     split.Payout,
			CommissionRetainedOnReturn: s.retainCommission,
		})
	}
	return subs
}

// insertWithNumber assigns a fresh order number and inserts, retrying on
// uniqueness conflicts within a bounded budget. A drained budget surfaces as
// number exhaustion so callers can back off.
func (s *checkoutService) insertWithNumber(ctx context.Context, order Order, now time.Time) (Order, error) {
	var lastErr error
	for attempt := 0; attempt < s.numberRetryBudget; attempt++ {
		number, err := s.numbers.NextOrderNumber(ctx, now)
		if err != nil {
			return Order{}, err
		}
		order.OrderNumber = number

		persisted, err := s.orders.Insert(ctx, order)
		if err == nil {
			return persisted, nil
		}
		if !isConflictError(err) {
			return Order{}, mapOrderRepositoryError(err)
		}
		lastErr = err
		s.logger(ctx, "checkout.number.conflict", map[string]any{
			"order":   order.ID,
			"number":  number,
			"attempt": attempt + 1,
		})
	}
	return Order{}, fmt.Errorf("%w: %d attempts: %v", ErrOrderNumberExhausted, s.numberRetryBudget, lastErr)
}

// settlePayment runs the initial payment step for a freshly inserted order.
// Offline methods confirm immediately; gateway methods authorize first.
func (s *checkoutService) settlePayment(ctx context.Context, order Order) (Order, error) {
	now := s.clock()

	switch order.Payment.Method {
	case domain.PaymentMethodCashOnDelivery:
		order.Payment.Status = domain.PaymentStatusCODPending
		return s.confirm(ctx, order, now)
	case domain.PaymentMethodBankTransfer:
		// Confirmation waits for the transfer to be reconciled.
		return order, nil
	}

	auth, err := s.payments.Authorize(ctx, order)
	if err != nil {
		order.Payment.Status = domain.PaymentStatusFailed
		failed, uerr := s.orders.Update(ctx, order)
		if uerr != nil {
			s.logger(ctx, "checkout.payment.record.failed", map[string]any{
				"order": order.ID,
				"error": uerr.Error(),
			})
			failed = order
		}
		return failed, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	order.Payment.TransactionRef = auth.TransactionRef
	if auth.Captured {
		order.Payment.Status = domain.PaymentStatusCaptured
	} else {
		order.Payment.Status = domain.PaymentStatusAuthorized
	}
	return s.confirm(ctx, order, now)
}

func (s *checkoutService) confirm(ctx context.Context, order Order, now time.Time) (Order, error) {
	if err := applyOrderTransition(&order, domain.OrderStatusConfirmed, now); err != nil {
		return Order{}, err
	}
	for i := range order.Items {
		if order.Items[i].Status == domain.OrderStatusPending {
			order.Items[i].Status = domain.OrderStatusConfirmed
		}
	}
	for i := range order.SubOrders {
		if order.SubOrders[i].Status == domain.OrderStatusPending {
			order.SubOrders[i].Status = domain.OrderStatusConfirmed
		}
	}
	order.UpdatedAt = now

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return updated, nil
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func validatePlaceOrder(cmd PlaceOrderCommand) error {
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductRef) == "" {
			return fmt.Errorf("%w: product ref is required", ErrCheckoutInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrCheckoutInvalidInput)
		}
	}
	currency := strings.TrimSpace(cmd.Currency)
	if len(currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrCheckoutInvalidInput)
	}
	if cmd.Tax < 0 || cmd.Shipping < 0 || cmd.Discount < 0 {
		return fmt.Errorf("%w: tax, shipping, and discount must not be negative", ErrCheckoutInvalidInput)
	}
	if _, err := domain.ParsePaymentMethod(string(cmd.PaymentMethod)); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if err := validateAddress("shipping", cmd.ShippingAddress); err != nil {
		return err
	}
	if err := validateAddress("billing", cmd.BillingAddress); err != nil {
		return err
	}
	return nil
}

func validateAddress(label string, addr domain.Address) error {
	switch {
	case strings.TrimSpace(addr.Recipient) == "":
		return fmt.Errorf("%w: %s address recipient is required", ErrCheckoutInvalidInput, label)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: %s address line1 is required", ErrCheckoutInvalidInput, label)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: %s address city is required", ErrCheckoutInvalidInput, label)
	case strings.TrimSpace(addr.PostalCode) == "":
		return fmt.Errorf("%w: %s address postal code is required", ErrCheckoutInvalidInput, label)
	case strings.TrimSpace(addr.Country) == "":
		return fmt.Errorf("%w: %s address country is required", ErrCheckoutInvalidInput, label)
	}
	return nil
}
