package payments

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/platform/textutil"
	"github.com/marketfold/api/internal/services"
)

// OrderGateway bridges the checkout and return services onto the provider
// manager. Card payments capture immediately; every other gateway-backed
// method holds an authorization until the PSP confirms capture via webhook.
type OrderGateway struct {
	manager *Manager
	logger  StripeLogger
}

// NewOrderGateway constructs the gateway adapter over the provider manager.
func NewOrderGateway(manager *Manager, logger StripeLogger) (*OrderGateway, error) {
	if manager == nil {
		return nil, errors.New("payments: manager is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderGateway{manager: manager, logger: logger}, nil
}

var (
	_ services.PaymentAuthorizer = (*OrderGateway)(nil)
	_ services.GatewayRefunder   = (*OrderGateway)(nil)
)

// Authorize secures funds for a freshly placed order.
func (g *OrderGateway) Authorize(ctx context.Context, order domain.Order) (services.PaymentAuthorization, error) {
	details, err := g.manager.Authorize(ctx, paymentContextFor(order), AuthorizeRequest{
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		CustomerID:     order.CustomerID,
		Description:    "order " + order.OrderNumber,
		IdempotencyKey: "auth-" + order.ID,
		Metadata: textutil.NormalizeStringMap(map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		}),
		CaptureNow: isCardMethod(order.Payment.Method),
	})
	if err != nil {
		return services.PaymentAuthorization{}, fmt.Errorf("payments: authorize order %s: %w", order.ID, err)
	}
	if details.Status == StatusFailed {
		return services.PaymentAuthorization{}, fmt.Errorf("payments: authorize order %s: gateway declined", order.ID)
	}

	g.logger(ctx, "payments.order.authorized", map[string]any{
		"orderId":  order.ID,
		"intentId": details.IntentID,
		"captured": details.Captured,
	})

	return services.PaymentAuthorization{
		TransactionRef: details.IntentID,
		Captured:       details.Captured,
	}, nil
}

// RefundPayment asks the PSP to return funds against the order's original
// transaction. The refund ledger entry stays pending until the PSP webhook
// settles it.
func (g *OrderGateway) RefundPayment(ctx context.Context, order domain.Order, amount int64, reason string) error {
	if order.Payment.TransactionRef == "" {
		return fmt.Errorf("payments: refund order %s: no transaction reference", order.ID)
	}
	if amount <= 0 {
		return fmt.Errorf("payments: refund order %s: non-positive amount %d", order.ID, amount)
	}

	refundAmount := amount
	_, err := g.manager.Refund(ctx, paymentContextFor(order), RefundRequest{
		IntentID:       order.Payment.TransactionRef,
		Amount:         &refundAmount,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("refund-%s-%d", order.ID, len(order.Payment.Refunds)),
		Metadata: textutil.NormalizeStringMap(map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		}),
	})
	if err != nil {
		return fmt.Errorf("payments: refund order %s: %w", order.ID, err)
	}

	g.logger(ctx, "payments.order.refund.requested", map[string]any{
		"orderId": order.ID,
		"amount":  amount,
	})
	return nil
}

func paymentContextFor(order domain.Order) PaymentContext {
	return PaymentContext{
		PreferredProvider: providerForMethod(order.Payment.Method),
		Currency:          order.Currency,
	}
}

func providerForMethod(method domain.PaymentMethod) string {
	switch method {
	case domain.PaymentMethodCardStripe:
		return "stripe"
	case domain.PaymentMethodCardAdyen:
		return "adyen"
	case domain.PaymentMethodWalletRegional:
		return "wallet"
	default:
		return ""
	}
}

func isCardMethod(method domain.PaymentMethod) bool {
	return method == domain.PaymentMethodCardStripe || method == domain.PaymentMethodCardAdyen
}
