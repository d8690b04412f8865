package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/platform/httpx"
	"github.com/marketfold/api/internal/services"
)

// ReturnHandlers exposes operations endpoints for working returns through
// their workflow. The enclosing route group is expected to enforce OIDC auth.
type ReturnHandlers struct {
	returns  services.ReturnService
	payments services.PaymentService
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(returns services.ReturnService, payments services.PaymentService) *ReturnHandlers {
	return &ReturnHandlers{
		returns:  returns,
		payments: payments,
	}
}

// Routes registers the operations endpoints for returns and COD settlement.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/returns/{returnID}:transition", h.transitionReturn)
	r.Post("/orders/{orderID}:collect-cod", h.collectCOD)
}

type returnTransitionRequest struct {
	Status string `json:"status"`
}

func (h *ReturnHandlers) transitionReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req returnTransitionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target, err := domain.ParseReturnStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.returns.TransitionReturn(ctx, services.ReturnTransitionCommand{
		OrderID:      strings.TrimSpace(chi.URLParam(r, "orderID")),
		ReturnID:     strings.TrimSpace(chi.URLParam(r, "returnID")),
		TargetStatus: target,
		ActorID:      serviceActor(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *ReturnHandlers) collectCOD(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.payments.RecordCODCollection(ctx, services.CODCollectionCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: serviceActor(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
