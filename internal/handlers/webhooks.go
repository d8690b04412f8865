package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marketfold/api/internal/platform/httpx"
	"github.com/marketfold/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers ingests payment gateway callbacks. The enclosing route
// group is expected to enforce HMAC signature verification.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the webhook endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentEvent)
}

type paymentWebhookRequest struct {
	OrderID        string `json:"order_id"`
	TransactionRef string `json:"transaction_ref"`
	Outcome        string `json:"outcome"`
}

var gatewayOutcomes = map[string]services.GatewayOutcome{
	string(services.GatewayOutcomeAuthorized):      services.GatewayOutcomeAuthorized,
	string(services.GatewayOutcomeCaptured):        services.GatewayOutcomeCaptured,
	string(services.GatewayOutcomeFailed):          services.GatewayOutcomeFailed,
	string(services.GatewayOutcomeRefundSucceeded): services.GatewayOutcomeRefundSucceeded,
	string(services.GatewayOutcomeRefundFailed):    services.GatewayOutcomeRefundFailed,
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	outcome, ok := gatewayOutcomes[strings.ToLower(strings.TrimSpace(req.Outcome))]
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown gateway outcome", http.StatusBadRequest))
		return
	}

	order, err := h.payments.RecordGatewayEvent(ctx, services.GatewayEventCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		Provider:       strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider"))),
		TransactionRef: strings.TrimSpace(req.TransactionRef),
		Outcome:        outcome,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"order_id": order.ID,
		"status":   string(order.Status),
		"payment":  string(order.Payment.Status),
	})
}
