package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/services"
)

type stubPaymentService struct {
	gatewayFn func(context.Context, services.GatewayEventCommand) (services.Order, error)
	codFn     func(context.Context, services.CODCollectionCommand) (services.Order, error)
	commands  []services.GatewayEventCommand
}

func (s *stubPaymentService) RecordGatewayEvent(ctx context.Context, cmd services.GatewayEventCommand) (services.Order, error) {
	s.commands = append(s.commands, cmd)
	if s.gatewayFn != nil {
		return s.gatewayFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubPaymentService) RecordCODCollection(ctx context.Context, cmd services.CODCollectionCommand) (services.Order, error) {
	if s.codFn != nil {
		return s.codFn(ctx, cmd)
	}
	return services.Order{}, nil
}

var _ services.PaymentService = (*stubPaymentService)(nil)

func newWebhookRouter(payments services.PaymentService) chi.Router {
	r := chi.NewRouter()
	NewWebhookHandlers(payments).Routes(r)
	return r
}

func TestWebhookPaymentEvent(t *testing.T) {
	svc := &stubPaymentService{
		gatewayFn: func(_ context.Context, cmd services.GatewayEventCommand) (services.Order, error) {
			return services.Order{
				ID:      cmd.OrderID,
				Status:  domain.OrderStatusConfirmed,
				Payment: domain.PaymentInfo{Status: domain.PaymentStatusCaptured},
			}, nil
		},
	}
	router := newWebhookRouter(svc)

	body := `{"order_id":"ord_1","transaction_ref":"pi_9","outcome":"captured"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.commands) != 1 {
		t.Fatalf("expected one gateway command, got %d", len(svc.commands))
	}
	cmd := svc.commands[0]
	if cmd.OrderID != "ord_1" || cmd.TransactionRef != "pi_9" || cmd.Outcome != services.GatewayOutcomeCaptured {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Provider != "stripe" {
		t.Fatalf("expected provider stripe, got %q", cmd.Provider)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["payment"] != string(domain.PaymentStatusCaptured) {
		t.Fatalf("expected captured payment in response, got %v", resp["payment"])
	}
}

func TestWebhookPaymentEventNormalisesOutcome(t *testing.T) {
	svc := &stubPaymentService{}
	router := newWebhookRouter(svc)

	body := `{"order_id":"ord_1","outcome":" Refund_Succeeded "}`
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.commands) != 1 || svc.commands[0].Outcome != services.GatewayOutcomeRefundSucceeded {
		t.Fatalf("expected normalised refund outcome, got %+v", svc.commands)
	}
}

func TestWebhookPaymentEventNormalisesProvider(t *testing.T) {
	svc := &stubPaymentService{}
	router := newWebhookRouter(svc)

	body := `{"order_id":"ord_1","outcome":"captured"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/PayPay", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.commands) != 1 || svc.commands[0].Provider != "paypay" {
		t.Fatalf("expected lower-cased provider, got %+v", svc.commands)
	}
}

func TestWebhookPaymentEventRequiresProviderSegment(t *testing.T) {
	svc := &stubPaymentService{}
	router := newWebhookRouter(svc)

	body := `{"order_id":"ord_1","outcome":"captured"}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if len(svc.commands) != 0 {
		t.Fatalf("expected no gateway commands, got %d", len(svc.commands))
	}
}

func TestWebhookPaymentEventUnknownOutcome(t *testing.T) {
	svc := &stubPaymentService{}
	router := newWebhookRouter(svc)

	body := `{"order_id":"ord_1","outcome":"teleported"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if len(svc.commands) != 0 {
		t.Fatalf("expected no gateway commands, got %d", len(svc.commands))
	}
}

func TestWebhookPaymentEventRejectsEmptyBody(t *testing.T) {
	router := newWebhookRouter(&stubPaymentService{})

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(""))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookPaymentEventMapsServiceErrors(t *testing.T) {
	svc := &stubPaymentService{
		gatewayFn: func(context.Context, services.GatewayEventCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newWebhookRouter(svc)

	body := `{"order_id":"ord_missing","outcome":"captured"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
}
