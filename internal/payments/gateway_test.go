package payments

import (
	"context"
	"strings"
	"testing"

	domain "github.com/marketfold/api/internal/domain"
)

type recordingProvider struct {
	fakeProvider
	authorizeReqs []AuthorizeRequest
	refundReqs    []RefundRequest
}

func (r *recordingProvider) Authorize(ctx context.Context, req AuthorizeRequest) (PaymentDetails, error) {
	r.authorizeReqs = append(r.authorizeReqs, req)
	return r.fakeProvider.Authorize(ctx, req)
}

func (r *recordingProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	r.refundReqs = append(r.refundReqs, req)
	return r.fakeProvider.Refund(ctx, req)
}

func gatewayOrder(method domain.PaymentMethod) domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "MF2506010001",
		CustomerID:  "cust_1",
		Currency:    "USD",
		Totals:      domain.OrderTotals{Total: 5500},
		Payment:     domain.PaymentInfo{Method: method, TransactionRef: "pi_123"},
	}
}

func newTestGateway(t *testing.T, providers map[string]Provider) *OrderGateway {
	t.Helper()
	mgr, err := NewManager(providers)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	gw, err := NewOrderGateway(mgr, nil)
	if err != nil {
		t.Fatalf("new order gateway: %v", err)
	}
	return gw
}

func TestOrderGatewayAuthorizeCardCapturesNow(t *testing.T) {
	stripe := &recordingProvider{fakeProvider: fakeProvider{payment: PaymentDetails{IntentID: "pi_9", Captured: true}}}
	gw := newTestGateway(t, map[string]Provider{"stripe": stripe})

	auth, err := gw.Authorize(context.Background(), gatewayOrder(domain.PaymentMethodCardStripe))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.TransactionRef != "pi_9" || !auth.Captured {
		t.Fatalf("unexpected authorization %+v", auth)
	}

	if len(stripe.authorizeReqs) != 1 {
		t.Fatalf("expected one authorize request, got %d", len(stripe.authorizeReqs))
	}
	req := stripe.authorizeReqs[0]
	if !req.CaptureNow {
		t.Errorf("expected card authorization to capture immediately")
	}
	if req.Amount != 5500 || req.Currency != "USD" {
		t.Errorf("unexpected charge %d %s", req.Amount, req.Currency)
	}
	if req.IdempotencyKey != "auth-ord_1" {
		t.Errorf("unexpected idempotency key %s", req.IdempotencyKey)
	}
	if req.Metadata["orderNumber"] != "MF2506010001" {
		t.Errorf("expected order number metadata, got %v", req.Metadata)
	}
}

func TestOrderGatewayAuthorizeWalletHoldsCapture(t *testing.T) {
	stripe := &recordingProvider{fakeProvider: fakeProvider{payment: PaymentDetails{IntentID: "pi_stripe"}}}
	wallet := &recordingProvider{fakeProvider: fakeProvider{payment: PaymentDetails{IntentID: "pi_wallet"}}}
	gw := newTestGateway(t, map[string]Provider{"stripe": stripe, "wallet": wallet})

	auth, err := gw.Authorize(context.Background(), gatewayOrder(domain.PaymentMethodWalletRegional))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.TransactionRef != "pi_wallet" || auth.Captured {
		t.Fatalf("expected uncaptured wallet authorization, got %+v", auth)
	}
	if len(wallet.authorizeReqs) != 1 || wallet.authorizeReqs[0].CaptureNow {
		t.Fatalf("expected wallet provider without immediate capture, got %+v", wallet.authorizeReqs)
	}
	if len(stripe.authorizeReqs) != 0 {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestOrderGatewayAuthorizeDeclined(t *testing.T) {
	stripe := &recordingProvider{fakeProvider: fakeProvider{payment: PaymentDetails{IntentID: "pi_9", Status: StatusFailed}}}
	gw := newTestGateway(t, map[string]Provider{"stripe": stripe})

	_, err := gw.Authorize(context.Background(), gatewayOrder(domain.PaymentMethodCardStripe))
	if err == nil || !strings.Contains(err.Error(), "declined") {
		t.Fatalf("expected declined error, got %v", err)
	}
}

func TestOrderGatewayRefundPayment(t *testing.T) {
	stripe := &recordingProvider{fakeProvider: fakeProvider{payment: PaymentDetails{IntentID: "pi_123"}}}
	gw := newTestGateway(t, map[string]Provider{"stripe": stripe})

	order := gatewayOrder(domain.PaymentMethodCardStripe)
	order.Payment.Refunds = []domain.Refund{{ID: "ref_0", Amount: 500, Status: domain.RefundStatusSucceeded}}

	if err := gw.RefundPayment(context.Background(), order, 1500, "return ret_1"); err != nil {
		t.Fatalf("refund payment: %v", err)
	}

	if len(stripe.refundReqs) != 1 {
		t.Fatalf("expected one refund request, got %d", len(stripe.refundReqs))
	}
	req := stripe.refundReqs[0]
	if req.IntentID != "pi_123" {
		t.Errorf("expected refund against original transaction, got %s", req.IntentID)
	}
	if req.Amount == nil || *req.Amount != 1500 {
		t.Errorf("unexpected refund amount %v", req.Amount)
	}
	if req.IdempotencyKey != "refund-ord_1-1" {
		t.Errorf("unexpected idempotency key %s", req.IdempotencyKey)
	}
	if req.Reason != "return ret_1" {
		t.Errorf("unexpected reason %s", req.Reason)
	}
}

func TestOrderGatewayRefundValidation(t *testing.T) {
	stripe := &recordingProvider{}
	gw := newTestGateway(t, map[string]Provider{"stripe": stripe})

	order := gatewayOrder(domain.PaymentMethodCardStripe)
	order.Payment.TransactionRef = ""
	if err := gw.RefundPayment(context.Background(), order, 1500, "x"); err == nil {
		t.Fatalf("expected error without transaction reference")
	}

	order = gatewayOrder(domain.PaymentMethodCardStripe)
	if err := gw.RefundPayment(context.Background(), order, 0, "x"); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}

	if len(stripe.refundReqs) != 0 {
		t.Fatalf("expected no refund requests, got %d", len(stripe.refundReqs))
	}
}
