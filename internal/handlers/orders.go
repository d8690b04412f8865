package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/platform/auth"
	"github.com/marketfold/api/internal/platform/httpx"
	"github.com/marketfold/api/internal/platform/pagination"
	"github.com/marketfold/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

// OrderHandlers exposes order endpoints for authenticated customers.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	returns services.ReturnService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, returns services.ReturnService) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		returns: returns,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:confirm-delivery", h.confirmDelivery)
	r.Post("/{orderID}/returns", h.requestReturn)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("placed_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("placed_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(identity.UID),
		Status:     statuses,
		DateRange:  dateRange,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	page, err := h.orders.ListCustomerOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnedOrder(w, r, chi.URLParam(r, "orderID"))
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !strings.EqualFold(strings.TrimSpace(order.CustomerID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.loadOwnedOrder(w, r, chi.URLParam(r, "orderID"))
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)
	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: order.ID,
		Reason:  sanitizeFreeText(req.Reason),
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

type confirmDeliveryRequest struct {
	ItemIDs []string `json:"item_ids"`
}

func (h *OrderHandlers) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.loadOwnedOrder(w, r, chi.URLParam(r, "orderID"))
	if !ok {
		return
	}

	var req confirmDeliveryRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)
	delivered, err := h.orders.ConfirmDelivery(ctx, services.ConfirmDeliveryCommand{
		OrderID: order.ID,
		ItemIDs: req.ItemIDs,
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(delivered)})
}

type requestReturnRequest struct {
	Lines  []returnLinePayload `json:"lines"`
	Reason string              `json:"reason"`
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, ok := h.loadOwnedOrder(w, r, chi.URLParam(r, "orderID"))
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req requestReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	lines := make([]services.ReturnLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.ReturnLine{
			ItemID:   strings.TrimSpace(line.ItemID),
			Quantity: line.Quantity,
		})
	}

	identity, _ := auth.IdentityFromContext(ctx)
	updated, err := h.returns.RequestReturn(ctx, services.RequestReturnCommand{
		OrderID: order.ID,
		Lines:   lines,
		Reason:  sanitizeFreeText(req.Reason),
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(updated)})
}

// loadOwnedOrder authenticates the caller, fetches the order, and hides
// other customers' orders behind a 404.
func (h *OrderHandlers) loadOwnedOrder(w http.ResponseWriter, r *http.Request, rawOrderID string) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.Order{}, false
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Order{}, false
	}

	orderID := strings.TrimSpace(rawOrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.Order{}, false
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return services.Order{}, false
	}
	if !strings.EqualFold(strings.TrimSpace(order.CustomerID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}

// decodeOptionalBody parses a JSON body when present; an empty body is fine.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, target any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) {
			return true
		}
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
