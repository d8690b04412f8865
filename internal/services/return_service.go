package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/repositories"
)

const (
	returnEventRequested = "order.return.requested"
	returnEventUpdated   = "order.return.updated"

	returnIDPrefix = "ret_"

	defaultReturnWindow = 720 * time.Hour
)

var (
	// ErrReturnInvalidInput signals a malformed return request.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the referenced return request does not exist.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnInvalidTransition indicates an illegal return status change.
	ErrReturnInvalidTransition = errors.New("return: invalid status transition")
	// ErrReturnWindowExpired indicates the return window has closed for the order.
	ErrReturnWindowExpired = errors.New("return: window expired")
)

// returnStateTransitions is the legal-transition table for return requests.
// Rejection is only reachable from requested; completed and rejected are terminal.
var returnStateTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusRequested: {domain.ReturnStatusApproved, domain.ReturnStatusRejected},
	domain.ReturnStatusApproved:  {domain.ReturnStatusReceived},
	domain.ReturnStatusReceived:  {domain.ReturnStatusProcessed},
	domain.ReturnStatusProcessed: {domain.ReturnStatusCompleted},
}

// GatewayRefunder triggers a refund at the payment gateway. Implementations
// must be safe to call outside the persistence transaction; the refund ledger
// entry stays pending until a gateway event settles it.
type GatewayRefunder interface {
	RefundPayment(ctx context.Context, order Order, amount int64, reason string) error
}

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	Orders          repositories.OrderRepository
	Clock           func() time.Time
	IDGenerator     func() string
	Events          OrderEventPublisher
	Refunder        GatewayRefunder
	Logger          func(ctx context.Context, event string, fields map[string]any)
	ReturnWindow    time.Duration
	ConflictRetries int
}

type returnService struct {
	orders          repositories.OrderRepository
	clock           func() time.Time
	newID           func() string
	events          OrderEventPublisher
	refunder        GatewayRefunder
	logger          func(context.Context, string, map[string]any)
	window          time.Duration
	conflictRetries int
}

// NewReturnService wires dependencies into a concrete ReturnService implementation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
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

	window := deps.ReturnWindow
	if window <= 0 {
		window = defaultReturnWindow
	}

	retries := deps.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	if deps.ConflictRetries == 0 {
		retries = defaultConflictRetries
	}

	return &returnService{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:           idGen,
		events:          deps.Events,
		refunder:        deps.Refunder,
		logger:          logger,
		window:          window,
		conflictRetries: retries,
	}, nil
}

func (s *returnService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one return line is required", ErrReturnInvalidInput)
	}

	var returnID string
	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		now := s.clock()

		if order.DeliveredAt == nil {
			return fmt.Errorf("%w: order has not been delivered", ErrReturnInvalidTransition)
		}
		// The window is continuous from the delivery instant, not calendar days.
		if now.After(order.DeliveredAt.Add(s.window)) {
			return fmt.Errorf("%w: window closed at %s", ErrReturnWindowExpired,
				order.DeliveredAt.Add(s.window).Format(time.RFC3339))
		}

		lines, err := normalizeReturnLines(order, cmd.Lines)
		if err != nil {
			return err
		}
		refund, err := RefundValue(*order, lines)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReturnInvalidInput, err)
		}

		returnID = returnIDPrefix + s.newID()
		order.Returns = append(order.Returns, domain.ReturnRequest{
			ID:           returnID,
			Lines:        lines,
			Reason:       strings.TrimSpace(cmd.Reason),
			Status:       domain.ReturnStatusRequested,
			RefundAmount: refund,
			RequestedAt:  now,
		})
		s.touch(order, cmd.ActorID, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        returnEventRequested,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.ActorID,
		OccurredAt:  s.clock(),
		Metadata:    map[string]any{"return": returnID},
	})
	return order, nil
}

func (s *returnService) TransitionReturn(ctx context.Context, cmd ReturnTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	returnID := strings.TrimSpace(cmd.ReturnID)
	if orderID == "" || returnID == "" {
		return Order{}, fmt.Errorf("%w: order id and return id are required", ErrReturnInvalidInput)
	}
	target, err := domain.ParseReturnStatus(string(cmd.TargetStatus))
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrReturnInvalidInput, err)
	}

	var (
		prevStatus   domain.ReturnStatus
		refundAmount int64
	)
	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		now := s.clock()
		refundAmount = 0

		ret := findReturn(order, returnID)
		if ret == nil {
			return fmt.Errorf("%w: %s", ErrReturnNotFound, returnID)
		}
		prevStatus = ret.Status

		if !returnStatusIn(target, returnStateTransitions[ret.Status]) {
			return fmt.Errorf("%w: %s to %s", ErrReturnInvalidTransition, ret.Status, target)
		}
		ret.Status = target

		switch target {
		case domain.ReturnStatusProcessed:
			ret.ProcessedAt = &now
			amount, err := s.applyRefund(order, ret, now)
			if err != nil {
				return err
			}
			refundAmount = amount
		case domain.ReturnStatusCompleted:
			settleReturnedItems(order)
		}
		s.touch(order, cmd.ActorID, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if refundAmount > 0 && s.refunder != nil && requiresGatewayRefund(order.Payment.Method) {
		if err := s.refunder.RefundPayment(ctx, order, refundAmount, "return "+returnID); err != nil {
			s.logger(ctx, "order.return.refund.failed", map[string]any{
				"order":  order.ID,
				"return": returnID,
				"amount": refundAmount,
				"error":  err.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           returnEventUpdated,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(target),
		ActorID:        cmd.ActorID,
		OccurredAt:     s.clock(),
		Metadata:       map[string]any{"return": returnID},
	})
	return order, nil
}

// applyRefund records the refund ledger entry and reconciles per-seller
// payout figures. When a sub-order does not retain commission on returns, the
// platform gives back the per-line commission of the returned quantities.
func (s *returnService) applyRefund(order *Order, ret *domain.ReturnRequest, now time.Time) (int64, error) {
	amount, err := RefundValue(*order, ret.Lines)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrReturnInvalidInput, err)
	}
	ret.RefundAmount = amount

	appendRefund(order, domain.Refund{
		ID:        refundIDPrefix + s.newID(),
		Amount:    amount,
		Reason:    "return " + ret.ID,
		Status:    domain.RefundStatusPending,
		CreatedAt: now,
	})

	for _, line := range ret.Lines {
		item, ok := order.ItemByID(line.ItemID)
		if !ok {
			continue
		}
		sub, ok := order.SubOrderBySeller(item.SellerRef)
		if !ok {
			continue
		}
		sub.RefundedAmount += item.UnitPrice * int64(line.Quantity)
		if !sub.CommissionRetainedOnReturn {
			sub.Commission -= LineCommission(item.UnitPrice, line.Quantity, item.CommissionBps)
			if sub.Commission < 0 {
				sub.Commission = 0
			}
		}
		sub.Payout = sub.Total - sub.Commission - sub.RefundedAmount
		if sub.Payout < 0 {
			sub.Payout = 0
		}
	}
	return amount, nil
}

func (s *returnService) mutate(ctx context.Context, orderID string, fn func(*Order) error) (Order, error) {
	attempts := s.conflictRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, mapOrderRepositoryError(err)
		}
		if err := fn(&order); err != nil {
			return Order{}, err
		}
		updated, err := s.orders.Update(ctx, order)
		if err != nil {
			if isConflictError(err) && attempt < attempts-1 {
				continue
			}
			return Order{}, mapOrderRepositoryError(err)
		}
		return updated, nil
	}
	return Order{}, ErrOrderConflict
}

func (s *returnService) touch(order *Order, actorID string, now time.Time) {
	order.UpdatedAt = now
	if actor := strings.TrimSpace(actorID); actor != "" {
		order.Audit.UpdatedBy = &actor
	}
}

func (s *returnService) publishEvent(ctx context.Context, event OrderEvent) {
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

// normalizeReturnLines validates each line against its item snapshot and the
// quantities already claimed by live returns on the same order.
func normalizeReturnLines(order *Order, lines []domain.ReturnLine) ([]domain.ReturnLine, error) {
	claimed := claimedReturnQuantities(order)
	out := make([]domain.ReturnLine, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))

	for _, line := range lines {
		itemID := strings.TrimSpace(line.ItemID)
		if itemID == "" {
			return nil, fmt.Errorf("%w: return line item id is required", ErrReturnInvalidInput)
		}
		if _, dup := seen[itemID]; dup {
			return nil, fmt.Errorf("%w: duplicate return line for item %s", ErrReturnInvalidInput, itemID)
		}
		seen[itemID] = struct{}{}

		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: return quantity must be positive", ErrReturnInvalidInput)
		}
		item, ok := order.ItemByID(itemID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown item %s", ErrReturnInvalidInput, itemID)
		}
		if item.Status != domain.OrderStatusDelivered && item.Status != domain.OrderStatusReturned {
			return nil, fmt.Errorf("%w: item %s is %s, only delivered items can be returned",
				ErrReturnInvalidTransition, itemID, item.Status)
		}
		if claimed[itemID]+line.Quantity > item.Quantity {
			return nil, fmt.Errorf("%w: item %s has only %d unit(s) left to return",
				ErrReturnInvalidInput, itemID, item.Quantity-claimed[itemID])
		}
		out = append(out, domain.ReturnLine{ItemID: itemID, Quantity: line.Quantity})
	}
	return out, nil
}

// claimedReturnQuantities sums per-item quantities across returns that are
// still live. Rejected returns release their claim.
func claimedReturnQuantities(order *Order) map[string]int {
	claimed := make(map[string]int)
	for _, ret := range order.Returns {
		if ret.Status == domain.ReturnStatusRejected {
			continue
		}
		for _, line := range ret.Lines {
			claimed[line.ItemID] += line.Quantity
		}
	}
	return claimed
}

// settleReturnedItems flips items to returned once completed returns cover
// their full quantity, and rolls the order up to returned when every item is.
func settleReturnedItems(order *Order) {
	completed := make(map[string]int)
	for _, ret := range order.Returns {
		if ret.Status != domain.ReturnStatusCompleted {
			continue
		}
		for _, line := range ret.Lines {
			completed[line.ItemID] += line.Quantity
		}
	}

	allReturned := len(order.Items) > 0
	for i := range order.Items {
		item := &order.Items[i]
		if item.Status == domain.OrderStatusDelivered && completed[item.ID] >= item.Quantity {
			item.Status = domain.OrderStatusReturned
		}
		if item.Status != domain.OrderStatusReturned {
			allReturned = false
		}
	}

	if allReturned && order.Status == domain.OrderStatusDelivered {
		order.Status = domain.OrderStatusReturned
		for i := range order.SubOrders {
			if order.SubOrders[i].Status == domain.OrderStatusDelivered {
				order.SubOrders[i].Status = domain.OrderStatusReturned
			}
		}
	}
}

func requiresGatewayRefund(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCashOnDelivery, domain.PaymentMethodBankTransfer:
		return false
	}
	return true
}

func findReturn(order *Order, returnID string) *domain.ReturnRequest {
	for i := range order.Returns {
		if order.Returns[i].ID == returnID {
			return &order.Returns[i]
		}
	}
	return nil
}

func returnStatusIn(status domain.ReturnStatus, set []domain.ReturnStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}
