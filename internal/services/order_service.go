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

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventCancelled       = "order.cancelled"
	orderEventTrackingUpdated = "order.tracking.updated"

	orderIDPrefix    = "ord_"
	itemIDPrefix     = "itm_"
	subOrderIDPrefix = "sub_"
	refundIDPrefix   = "ref_"

	defaultConflictRetries = 2
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates an illegal status change was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent modification lost the compare-and-swap.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrCancellationNotAllowed indicates the order has progressed past the cancellable states.
	ErrCancellationNotAllowed = errors.New("order: cancellation not allowed")
)

// orderStateTransitions is the single legal-transition table, applied at both
// order and item granularity. Cancellation and return are side-exits, not
// reversals; cancelled and returned have no outgoing edges.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Clock           func() time.Time
	IDGenerator     func() string
	Events          OrderEventPublisher
	Logger          func(ctx context.Context, event string, fields map[string]any)
	ConflictRetries int
}

type orderService struct {
	orders          repositories.OrderRepository
	clock           func() time.Time
	newID           func() string
	events          OrderEventPublisher
	logger          func(context.Context, string, map[string]any)
	conflictRetries int
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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

	retries := deps.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	if deps.ConflictRetries == 0 {
		retries = defaultConflictRetries
	}

	return &orderService{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:           idGen,
		events:          deps.Events,
		logger:          logger,
		conflictRetries: retries,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListCustomerOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(filter.CustomerID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByCustomer(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListSellerOrders(ctx context.Context, filter SellerOrderFilter) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(filter.SellerRef) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: seller ref is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListBySeller(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) AcknowledgeSubOrder(ctx context.Context, cmd AcknowledgeSubOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	sellerRef := strings.TrimSpace(cmd.SellerRef)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if sellerRef == "" {
		return Order{}, fmt.Errorf("%w: seller ref is required", ErrOrderInvalidInput)
	}

	var prevStatus domain.OrderStatus
	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		prevStatus = order.Status
		now := s.clock()

		sub, ok := order.SubOrderBySeller(sellerRef)
		if !ok {
			return fmt.Errorf("%w: seller %s has no sub-order on %s", ErrOrderNotFound, sellerRef, orderID)
		}
		if err := validTransition(sub.Status, domain.OrderStatusProcessing); err != nil {
			return err
		}
		sub.Status = domain.OrderStatusProcessing

		for _, itemID := range sub.ItemIDs {
			item, ok := order.ItemByID(itemID)
			if !ok {
				continue
			}
			if item.Status == domain.OrderStatusConfirmed {
				item.Status = domain.OrderStatusProcessing
			}
		}

		if order.Status == domain.OrderStatusConfirmed && allSubOrdersAtLeast(order, domain.OrderStatusProcessing) {
			if err := applyOrderTransition(order, domain.OrderStatusProcessing, now); err != nil {
				return err
			}
		}
		s.touch(order, cmd.ActorID, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, prevStatus, cmd.ActorID, map[string]any{"seller": sellerRef})
	return order, nil
}

func (s *orderService) AssignTracking(ctx context.Context, cmd AssignTrackingCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	carrier := strings.TrimSpace(cmd.Carrier)
	number := strings.TrimSpace(cmd.TrackingNumber)
	if orderID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: order id and item id are required", ErrOrderInvalidInput)
	}
	if carrier == "" || number == "" {
		return Order{}, fmt.Errorf("%w: carrier and tracking number are required", ErrOrderInvalidInput)
	}

	var prevStatus domain.OrderStatus
	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		prevStatus = order.Status
		now := s.clock()

		item, ok := order.ItemByID(itemID)
		if !ok {
			return fmt.Errorf("%w: item %s", ErrOrderNotFound, itemID)
		}
		if sellerRef := strings.TrimSpace(cmd.SellerRef); sellerRef != "" && item.SellerRef != sellerRef {
			return fmt.Errorf("%w: item %s does not belong to seller %s", ErrOrderInvalidInput, itemID, sellerRef)
		}
		if err := validTransition(item.Status, domain.OrderStatusShipped); err != nil {
			return err
		}

		item.Tracking = &domain.Tracking{
			Carrier:           carrier,
			Number:            number,
			EstimatedDelivery: cmd.EstimatedDelivery,
			Events: []domain.TrackingEvent{{
				Status:     string(domain.OrderStatusShipped),
				Message:    "tracking assigned",
				OccurredAt: now,
			}},
		}
		item.Status = domain.OrderStatusShipped

		rollUpSubOrder(order, item.SellerRef, domain.OrderStatusShipped)
		if allItemsAtLeast(order, domain.OrderStatusShipped) {
			if err := applyOrderTransition(order, domain.OrderStatusShipped, now); err != nil {
				return err
			}
		}
		s.touch(order, cmd.ActorID, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, prevStatus, cmd.ActorID, map[string]any{
		"item":    itemID,
		"carrier": carrier,
	})
	return order, nil
}

func (s *orderService) AppendTrackingEvent(ctx context.Context, cmd AppendTrackingEventCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	status := strings.TrimSpace(cmd.Status)
	if orderID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: order id and item id are required", ErrOrderInvalidInput)
	}
	if status == "" {
		return Order{}, fmt.Errorf("%w: event status is required", ErrOrderInvalidInput)
	}

	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		now := s.clock()
		item, ok := order.ItemByID(itemID)
		if !ok {
			return fmt.Errorf("%w: item %s", ErrOrderNotFound, itemID)
		}
		if item.Tracking == nil {
			return fmt.Errorf("%w: item %s has no tracking assigned", ErrOrderInvalidInput, itemID)
		}
		item.Tracking.Events = append(item.Tracking.Events, domain.TrackingEvent{
			Status:     status,
			Message:    strings.TrimSpace(cmd.Message),
			Location:   strings.TrimSpace(cmd.Location),
			OccurredAt: now,
		})
		s.touch(order, cmd.ActorID, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventTrackingUpdated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.ActorID,
		OccurredAt:  s.clock(),
		Metadata:    map[string]any{"item": itemID, "status": status},
	})
	return order, nil
}

func (s *orderService) ConfirmDelivery(ctx context.Context, cmd ConfirmDeliveryCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var prevStatus domain.OrderStatus
	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		prevStatus = order.Status
		now := s.clock()

		targets := cmd.ItemIDs
		if len(targets) == 0 {
			for _, item := range order.Items {
				if item.Status == domain.OrderStatusShipped {
					targets = append(targets, item.ID)
				}
			}
			if len(targets) == 0 {
				return fmt.Errorf("%w: no shipped items to deliver", ErrOrderInvalidInput)
			}
		}

		sellers := make(map[string]struct{}, len(targets))
		for _, itemID := range targets {
			item, ok := order.ItemByID(strings.TrimSpace(itemID))
			if !ok {
				return fmt.Errorf("%w: item %s", ErrOrderNotFound, itemID)
			}
			if err := validTransition(item.Status, domain.OrderStatusDelivered); err != nil {
				return err
			}
			item.Status = domain.OrderStatusDelivered
			sellers[item.SellerRef] = struct{}{}
		}

		for sellerRef := range sellers {
			rollUpSubOrder(order, sellerRef, domain.OrderStatusDelivered)
		}
		if allItemsAtLeast(order, domain.OrderStatusDelivered) {
			if err := applyOrderTransition(order, domain.OrderStatusDelivered, now); err != nil {
				return err
			}
		}
		s.touch(order, cmd.ActorID, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, prevStatus, cmd.ActorID, nil)
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)

	var prevStatus domain.OrderStatus
	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		prevStatus = order.Status
		now := s.clock()

		if !statusIn(order.Status, cancellableStatuses) {
			return fmt.Errorf("%w: order status is %s", ErrCancellationNotAllowed, order.Status)
		}
		if order.Cancellation != nil {
			return fmt.Errorf("%w: order is already cancelled", ErrCancellationNotAllowed)
		}

		refundAmount := cancellationRefund(order)
		if err := applyOrderTransition(order, domain.OrderStatusCancelled, now); err != nil {
			return err
		}

		for i := range order.Items {
			if _, forward := domain.StatusRank(order.Items[i].Status); forward {
				order.Items[i].Status = domain.OrderStatusCancelled
			}
		}
		for i := range order.SubOrders {
			if _, forward := domain.StatusRank(order.SubOrders[i].Status); forward {
				order.SubOrders[i].Status = domain.OrderStatusCancelled
			}
		}

		order.Cancellation = &domain.Cancellation{
			Reason:       reason,
			ActorRef:     strings.TrimSpace(cmd.ActorID),
			RefundAmount: refundAmount,
			CancelledAt:  now,
		}
		if refundAmount > 0 {
			appendRefund(order, domain.Refund{
				ID:        refundIDPrefix + s.newID(),
				Amount:    refundAmount,
				Reason:    "order cancelled",
				Status:    domain.RefundStatusPending,
				CreatedAt: now,
			})
		}
		s.touch(order, cmd.ActorID, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     s.clock(),
		Metadata:       metadata,
	})
	return order, nil
}

// mutate runs a read-modify-write against the aggregate with a bounded retry
// on compare-and-swap conflicts. The mutation fn must leave the order
// untouched when it returns an error.
func (s *orderService) mutate(ctx context.Context, orderID string, fn func(*Order) error) (Order, error) {
	attempts := s.conflictRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if err := fn(&order); err != nil {
			return Order{}, err
		}
		updated, err := s.orders.Update(ctx, order)
		if err != nil {
			if isConflictError(err) && attempt < attempts-1 {
				continue
			}
			return Order{}, s.mapRepositoryError(err)
		}
		return updated, nil
	}
	return Order{}, ErrOrderConflict
}

func (s *orderService) touch(order *Order, actorID string, now time.Time) {
	order.UpdatedAt = now
	if actor := strings.TrimSpace(actorID); actor != "" {
		order.Audit.UpdatedBy = &actor
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapOrderRepositoryError(err)
}

func (s *orderService) publishStatusEvent(ctx context.Context, order Order, prev domain.OrderStatus, actorID string, metadata map[string]any) {
	if order.Status == prev {
		s.publishEvent(ctx, OrderEvent{
			Type:        orderEventTrackingUpdated,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			ActorID:     actorID,
			OccurredAt:  s.clock(),
			Metadata:    metadata,
		})
		return
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     s.clock(),
		Metadata:       metadata,
	})
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

// Shared helpers ------------------------------------------------------------

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func isConflictError(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return statusIn(target, next)
}

func validTransition(current, target domain.OrderStatus) error {
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, current, target)
	}
	return nil
}

// applyOrderTransition validates and applies one order-level transition,
// setting each lifecycle timestamp exactly once.
func applyOrderTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	if err := validTransition(order.Status, target); err != nil {
		return err
	}
	order.Status = target
	switch target {
	case domain.OrderStatusConfirmed:
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}
	case domain.OrderStatusShipped:
		if order.ShippedAt == nil {
			order.ShippedAt = &now
		}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	}
	return nil
}

// rollUpSubOrder advances a sub-order's status once every one of its items has
// reached the target (side-exited items do not block the roll-up).
func rollUpSubOrder(order *Order, sellerRef string, target domain.OrderStatus) {
	sub, ok := order.SubOrderBySeller(sellerRef)
	if !ok {
		return
	}
	targetRank, ok := domain.StatusRank(target)
	if !ok {
		return
	}
	for _, itemID := range sub.ItemIDs {
		item, found := order.ItemByID(itemID)
		if !found {
			continue
		}
		rank, forward := domain.StatusRank(item.Status)
		if !forward {
			continue
		}
		if rank < targetRank {
			return
		}
	}
	if canTransition(sub.Status, target) {
		sub.Status = target
	}
}

// allItemsAtLeast reports whether every forward-progress item has reached the
// target rank. Orders whose items are all side-exited report false.
func allItemsAtLeast(order *Order, target domain.OrderStatus) bool {
	targetRank, ok := domain.StatusRank(target)
	if !ok {
		return false
	}
	var forwardCount int
	for _, item := range order.Items {
		rank, forward := domain.StatusRank(item.Status)
		if !forward {
			continue
		}
		forwardCount++
		if rank < targetRank {
			return false
		}
	}
	return forwardCount > 0
}

func allSubOrdersAtLeast(order *Order, target domain.OrderStatus) bool {
	targetRank, ok := domain.StatusRank(target)
	if !ok {
		return false
	}
	var forwardCount int
	for _, sub := range order.SubOrders {
		rank, forward := domain.StatusRank(sub.Status)
		if !forward {
			continue
		}
		forwardCount++
		if rank < targetRank {
			return false
		}
	}
	return forwardCount > 0
}

func statusIn(status domain.OrderStatus, set []domain.OrderStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}

// cancellationRefund returns the amount owed back to the customer when an
// order is cancelled: the full total once funds were authorized or captured,
// nothing when payment never settled.
func cancellationRefund(order *Order) int64 {
	switch order.Payment.Status {
	case domain.PaymentStatusAuthorized, domain.PaymentStatusCaptured:
		return order.Totals.Total
	}
	return 0
}

// appendRefund appends to the immutable refund ledger and re-derives the
// payment sub-state from the cumulative refunded amount.
func appendRefund(order *Order, refund domain.Refund) {
	order.Payment.Refunds = append(order.Payment.Refunds, refund)
	refunded := order.Payment.RefundedTotal()
	switch {
	case refunded >= order.Totals.Total && order.Totals.Total > 0:
		order.Payment.Status = domain.PaymentStatusRefunded
	case refunded > 0:
		order.Payment.Status = domain.PaymentStatusPartiallyRefunded
	}
}
