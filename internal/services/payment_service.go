package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/repositories"
)

const paymentEventUpdated = "order.payment.updated"

var (
	// ErrPaymentInvalidInput signals a malformed gateway event payload.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentInvalidState indicates the event does not apply to the order's
	// current payment sub-state.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders          repositories.OrderRepository
	Clock           func() time.Time
	Events          OrderEventPublisher
	Logger          func(ctx context.Context, event string, fields map[string]any)
	ConflictRetries int
}

type paymentService struct {
	orders          repositories.OrderRepository
	clock           func() time.Time
	events          OrderEventPublisher
	logger          func(context.Context, string, map[string]any)
	conflictRetries int
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
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

	return &paymentService{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		events:          deps.Events,
		logger:          logger,
		conflictRetries: retries,
	}, nil
}

// RecordGatewayEvent applies a normalised gateway outcome to the order's
// payment sub-state. Events are idempotent: re-delivering an outcome the
// order already reflects is a no-op, not an error.
func (s *paymentService) RecordGatewayEvent(ctx context.Context, cmd GatewayEventCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	var changed bool
	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		now := s.clock()
		changed = false

		switch cmd.Outcome {
		case GatewayOutcomeAuthorized:
			changed = s.applyAuthorized(order, cmd.TransactionRef, now)
		case GatewayOutcomeCaptured:
			changed = s.applyCaptured(order, cmd.TransactionRef, now)
		case GatewayOutcomeFailed:
			changed = s.applyFailed(order)
		case GatewayOutcomeRefundSucceeded:
			return s.settleRefund(order, domain.RefundStatusSucceeded, &changed)
		case GatewayOutcomeRefundFailed:
			return s.settleRefund(order, domain.RefundStatusFailed, &changed)
		default:
			return fmt.Errorf("%w: unknown outcome %q", ErrPaymentInvalidInput, cmd.Outcome)
		}

		if changed {
			order.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if changed {
		metadata := map[string]any{"outcome": string(cmd.Outcome)}
		if provider := strings.TrimSpace(cmd.Provider); provider != "" {
			metadata["provider"] = provider
		}
		s.publishEvent(ctx, OrderEvent{
			Type:          paymentEventUpdated,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CurrentStatus: string(order.Status),
			ActorID:       cmd.ActorID,
			OccurredAt:    s.clock(),
			Metadata:      metadata,
		})
	}
	return order, nil
}

// RecordCODCollection marks a cash-on-delivery order as collected.
func (s *paymentService) RecordCODCollection(ctx context.Context, cmd CODCollectionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.mutate(ctx, orderID, func(order *Order) error {
		now := s.clock()
		if order.Payment.Method != domain.PaymentMethodCashOnDelivery {
			return fmt.Errorf("%w: order is not cash on delivery", ErrPaymentInvalidState)
		}
		if order.Payment.Status == domain.PaymentStatusCaptured {
			return nil
		}
		if order.Payment.Status != domain.PaymentStatusCODPending {
			return fmt.Errorf("%w: payment is %s", ErrPaymentInvalidState, order.Payment.Status)
		}
		order.Payment.Status = domain.PaymentStatusCaptured
		order.UpdatedAt = now
		if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
			order.Audit.UpdatedBy = &actor
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          paymentEventUpdated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.ActorID,
		OccurredAt:    s.clock(),
		Metadata:      map[string]any{"outcome": "cod_collected"},
	})
	return order, nil
}

func (s *paymentService) applyAuthorized(order *Order, transactionRef string, now time.Time) bool {
	if order.Payment.Status != domain.PaymentStatusPending {
		return false
	}
	order.Payment.Status = domain.PaymentStatusAuthorized
	if ref := strings.TrimSpace(transactionRef); ref != "" {
		order.Payment.TransactionRef = ref
	}
	s.confirmIfPending(order, now)
	return true
}

func (s *paymentService) applyCaptured(order *Order, transactionRef string, now time.Time) bool {
	switch order.Payment.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusAuthorized:
	default:
		return false
	}
	order.Payment.Status = domain.PaymentStatusCaptured
	if ref := strings.TrimSpace(transactionRef); ref != "" {
		order.Payment.TransactionRef = ref
	}
	s.confirmIfPending(order, now)
	return true
}

func (s *paymentService) applyFailed(order *Order) bool {
	switch order.Payment.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusAuthorized:
		order.Payment.Status = domain.PaymentStatusFailed
		return true
	}
	return false
}

// settleRefund resolves the oldest pending refund ledger entry and re-derives
// the payment sub-state from the cumulative refunded amount.
func (s *paymentService) settleRefund(order *Order, outcome domain.RefundStatus, changed *bool) error {
	for i := range order.Payment.Refunds {
		if order.Payment.Refunds[i].Status != domain.RefundStatusPending {
			continue
		}
		order.Payment.Refunds[i].Status = outcome
		*changed = true

		refunded := order.Payment.RefundedTotal()
		switch {
		case refunded >= order.Totals.Total && order.Totals.Total > 0:
			order.Payment.Status = domain.PaymentStatusRefunded
		case refunded > 0:
			order.Payment.Status = domain.PaymentStatusPartiallyRefunded
		case order.Payment.Status == domain.PaymentStatusPartiallyRefunded,
			order.Payment.Status == domain.PaymentStatusRefunded:
			// Every refund failed at the gateway; funds remain captured.
			order.Payment.Status = domain.PaymentStatusCaptured
		}
		order.UpdatedAt = s.clock()
		return nil
	}
	return fmt.Errorf("%w: no pending refund to settle", ErrPaymentInvalidState)
}

// confirmIfPending lifts a pending order to confirmed once funds are secured.
func (s *paymentService) confirmIfPending(order *Order, now time.Time) {
	if order.Status != domain.OrderStatusPending {
		return
	}
	if err := applyOrderTransition(order, domain.OrderStatusConfirmed, now); err != nil {
		return
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
}

func (s *paymentService) mutate(ctx context.Context, orderID string, fn func(*Order) error) (Order, error) {
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

func (s *paymentService) publishEvent(ctx context.Context, event OrderEvent) {
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
