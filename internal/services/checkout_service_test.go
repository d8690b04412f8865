package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/marketfold/api/internal/domain"
)

type stubCatalogGateway struct {
	snapshotFn func(context.Context, string) (ProductSnapshot, error)
}

func (s *stubCatalogGateway) Snapshot(ctx context.Context, productRef string) (ProductSnapshot, error) {
	if s.snapshotFn != nil {
		return s.snapshotFn(ctx, productRef)
	}
	return ProductSnapshot{}, errors.New("snapshot not configured")
}

func catalogWith(listings map[string]ProductSnapshot) *stubCatalogGateway {
	return &stubCatalogGateway{snapshotFn: func(_ context.Context, productRef string) (ProductSnapshot, error) {
		snapshot, ok := listings[productRef]
		if !ok {
			return ProductSnapshot{}, errors.New("listing not found")
		}
		return snapshot, nil
	}}
}

type stubAuthorizer struct {
	mu          sync.Mutex
	authorizeFn func(context.Context, Order) (PaymentAuthorization, error)
	calls       []Order
}

func (s *stubAuthorizer) Authorize(ctx context.Context, order Order) (PaymentAuthorization, error) {
	s.mu.Lock()
	s.calls = append(s.calls, order)
	s.mu.Unlock()
	if s.authorizeFn != nil {
		return s.authorizeFn(ctx, order)
	}
	return PaymentAuthorization{TransactionRef: "pi_stub"}, nil
}

type stubNumberService struct {
	mu      sync.Mutex
	numbers []string
	err     error
	issued  int
}

func (s *stubNumberService) NextOrderNumber(context.Context, time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.issued++
	if len(s.numbers) == 0 {
		return fmt.Sprintf("ORD250601%04d", s.issued), nil
	}
	number := s.numbers[0]
	if len(s.numbers) > 1 {
		s.numbers = s.numbers[1:]
	}
	return number, nil
}

func validPlaceOrder(method domain.PaymentMethod) PlaceOrderCommand {
	return PlaceOrderCommand{
		CustomerID:    "cust_1",
		Lines:         []CartLine{{ProductRef: "prod_a", Quantity: 2}, {ProductRef: "prod_b", Quantity: 1}},
		Currency:      "USD",
		Tax:           300,
		Shipping:      500,
		PaymentMethod: method,
		ShippingAddress: Address{
			Recipient:  "Ada Lovelace",
			Line1:      "1 Analytical Way",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "GB",
		},
		BillingAddress: Address{
			Recipient:  "Ada Lovelace",
			Line1:      "1 Analytical Way",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "GB",
		},
		ActorID: "cust_1",
		Locale:  "en",
	}
}

func testListings() map[string]ProductSnapshot {
	return map[string]ProductSnapshot{
		"prod_a": {ProductRef: "prod_a", SellerRef: "sellers/alpha", Name: "Walnut board", UnitPrice: 1200, Currency: "USD", CommissionBps: 1000},
		"prod_b": {ProductRef: "prod_b", SellerRef: "sellers/beta", Name: "Ceramic mug", UnitPrice: 800, Currency: "USD", CommissionBps: 500},
	}
}

type checkoutFixture struct {
	repo       *stubOrderRepository
	numbers    *stubNumberService
	authorizer *stubAuthorizer
	events     *stubEventPublisher
	svc        CheckoutService
}

func newCheckoutFixture(t *testing.T, mutate func(*CheckoutServiceDeps)) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		repo:       newStubOrderRepository(),
		numbers:    &stubNumberService{},
		authorizer: &stubAuthorizer{},
		events:     &stubEventPublisher{},
	}
	deps := CheckoutServiceDeps{
		Orders:      f.repo,
		Numbers:     f.numbers,
		Catalog:     catalogWith(testListings()),
		Payments:    f.authorizer,
		Clock:       fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs("x"),
		Events:      f.events,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	f.svc = svc
	return f
}

func TestPlaceOrderCardCapturesAndConfirms(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	f.authorizer.authorizeFn = func(_ context.Context, order Order) (PaymentAuthorization, error) {
		return PaymentAuthorization{TransactionRef: "pi_42", Captured: true}, nil
	}

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCardStripe))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed order, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusCaptured || order.Payment.TransactionRef != "pi_42" {
		t.Fatalf("unexpected payment state %+v", order.Payment)
	}
	if order.ConfirmedAt == nil {
		t.Fatal("expected confirmation timestamp")
	}

	// 2*1200 + 800 = 3200 subtotal, +300 tax +500 shipping.
	if order.Totals.Subtotal != 3200 || order.Totals.Total != 4000 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	if order.Items[0].Name != "Walnut board" || order.Items[0].UnitPrice != 1200 {
		t.Fatalf("expected catalog snapshot on item, got %+v", order.Items[0])
	}

	if len(order.SubOrders) != 2 {
		t.Fatalf("expected one sub-order per seller, got %d", len(order.SubOrders))
	}
	alpha, ok := order.SubOrderBySeller("sellers/alpha")
	if !ok || alpha.Total != 2400 || alpha.Commission != 240 || alpha.Payout != 2160 {
		t.Fatalf("unexpected alpha split %+v", alpha)
	}
	beta, ok := order.SubOrderBySeller("sellers/beta")
	if !ok || beta.Total != 800 || beta.Commission != 40 || beta.Payout != 760 {
		t.Fatalf("unexpected beta split %+v", beta)
	}

	published := f.events.published()
	if len(published) != 1 || published[0].Type != "order.created" {
		t.Fatalf("expected order created event, got %+v", published)
	}
	if published[0].CurrentStatus != string(domain.OrderStatusConfirmed) {
		t.Fatalf("expected event to carry confirmed status, got %s", published[0].CurrentStatus)
	}
}

func TestPlaceOrderWalletHoldsAuthorization(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	f.authorizer.authorizeFn = func(context.Context, Order) (PaymentAuthorization, error) {
		return PaymentAuthorization{TransactionRef: "wal_7", Captured: false}, nil
	}

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodWalletRegional))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusAuthorized {
		t.Fatalf("expected authorized payment, got %s", order.Payment.Status)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed order, got %s", order.Status)
	}
}

func TestPlaceOrderCashOnDeliverySkipsGateway(t *testing.T) {
	f := newCheckoutFixture(t, nil)

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCashOnDelivery))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusCODPending {
		t.Fatalf("expected cod pending payment, got %s", order.Payment.Status)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed order, got %s", order.Status)
	}
	if len(f.authorizer.calls) != 0 {
		t.Fatalf("expected gateway to be skipped, got %d calls", len(f.authorizer.calls))
	}
}

func TestPlaceOrderBankTransferStaysPending(t *testing.T) {
	f := newCheckoutFixture(t, nil)

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodBankTransfer))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order awaiting reconciliation, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", order.Payment.Status)
	}
	if len(f.authorizer.calls) != 0 {
		t.Fatalf("expected gateway to be skipped, got %d calls", len(f.authorizer.calls))
	}
}

func TestPlaceOrderPaymentFailureKeepsPendingOrder(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	f.authorizer.authorizeFn = func(context.Context, Order) (PaymentAuthorization, error) {
		return PaymentAuthorization{}, errors.New("card declined")
	}

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCardStripe))
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected payment failed, got %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment sub-state, got %s", order.Payment.Status)
	}

	stored := f.repo.stored(t, order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected persisted pending order, got %s", stored.Status)
	}
	if stored.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected persisted failed payment, got %s", stored.Payment.Status)
	}
}

func TestPlaceOrderRetriesNumberConflicts(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	f.numbers.numbers = []string{"ORD2506010001", "ORD2506010002"}
	var attempts int
	f.repo.insertFn = func(_ context.Context, order domain.Order) (domain.Order, error) {
		attempts++
		if order.OrderNumber == "ORD2506010001" {
			return domain.Order{}, repoError{conflict: true}
		}
		f.repo.mu.Lock()
		f.repo.orders[order.ID] = order
		f.repo.mu.Unlock()
		return order, nil
	}

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCashOnDelivery))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 insert attempts, got %d", attempts)
	}
	if order.OrderNumber != "ORD2506010002" {
		t.Fatalf("expected retried order number, got %s", order.OrderNumber)
	}
}

func TestPlaceOrderNumberBudgetExhausted(t *testing.T) {
	f := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.NumberRetryBudget = 2
	})
	f.repo.insertFn = func(context.Context, domain.Order) (domain.Order, error) {
		return domain.Order{}, repoError{conflict: true}
	}

	_, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCashOnDelivery))
	if !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected number exhaustion, got %v", err)
	}
	if f.repo.insertCalls != 2 {
		t.Fatalf("expected budget of 2 attempts, got %d", f.repo.insertCalls)
	}
}

func TestPlaceOrderRejectsCurrencyMismatch(t *testing.T) {
	f := newCheckoutFixture(t, nil)

	cmd := validPlaceOrder(domain.PaymentMethodCardStripe)
	cmd.Currency = "EUR"
	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "priced in USD") {
		t.Fatalf("expected currency mismatch detail, got %v", err)
	}
}

func TestPlaceOrderRejectsInactiveListing(t *testing.T) {
	f := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Catalog = &stubCatalogGateway{snapshotFn: func(context.Context, string) (ProductSnapshot, error) {
			return ProductSnapshot{}, errors.New("listing is not purchasable")
		}}
	})

	_, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCardStripe))
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPlaceOrderRejectsCommissionAboveFullPrice(t *testing.T) {
	listings := testListings()
	overclaiming := listings["prod_a"]
	overclaiming.CommissionBps = 15000
	listings["prod_a"] = overclaiming
	f := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Catalog = catalogWith(listings)
	})

	_, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCardStripe))
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "commission rate") {
		t.Fatalf("expected commission rate detail, got %v", err)
	}
	if f.repo.insertCalls != 0 {
		t.Fatalf("expected no order persisted, got %d inserts", f.repo.insertCalls)
	}
}

func TestPlaceOrderRejectsNegativeCommission(t *testing.T) {
	listings := testListings()
	negative := listings["prod_b"]
	negative.CommissionBps = -50
	listings["prod_b"] = negative
	f := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Catalog = catalogWith(listings)
	})

	_, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCardStripe))
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPlaceOrderRejectsDisabledMethod(t *testing.T) {
	f := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.DisabledMethods = []domain.PaymentMethod{domain.PaymentMethodCashOnDelivery}
	})

	_, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder(domain.PaymentMethodCashOnDelivery))
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "not available") {
		t.Fatalf("expected method availability detail, got %v", err)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	base := validPlaceOrder(domain.PaymentMethodCardStripe)

	cases := []struct {
		name   string
		mutate func(*PlaceOrderCommand)
	}{
		{"missing customer", func(cmd *PlaceOrderCommand) { cmd.CustomerID = " " }},
		{"empty cart", func(cmd *PlaceOrderCommand) { cmd.Lines = nil }},
		{"zero quantity", func(cmd *PlaceOrderCommand) { cmd.Lines[0].Quantity = 0 }},
		{"blank product", func(cmd *PlaceOrderCommand) { cmd.Lines[0].ProductRef = "" }},
		{"bad currency", func(cmd *PlaceOrderCommand) { cmd.Currency = "USDT" }},
		{"negative tax", func(cmd *PlaceOrderCommand) { cmd.Tax = -1 }},
		{"unknown method", func(cmd *PlaceOrderCommand) { cmd.PaymentMethod = "barter" }},
		{"missing recipient", func(cmd *PlaceOrderCommand) { cmd.ShippingAddress.Recipient = "" }},
		{"missing billing country", func(cmd *PlaceOrderCommand) { cmd.BillingAddress.Country = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			cmd.Lines = append([]CartLine(nil), base.Lines...)
			tc.mutate(&cmd)
			if _, err := f.svc.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}
