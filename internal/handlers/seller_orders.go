package handlers

import (
	"encoding/json"
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

// SellerOrderHandlers exposes fulfilment endpoints for seller back-office
// services. The enclosing route group is expected to enforce OIDC auth.
type SellerOrderHandlers struct {
	orders services.OrderService
}

// NewSellerOrderHandlers constructs a new SellerOrderHandlers instance.
func NewSellerOrderHandlers(orders services.OrderService) *SellerOrderHandlers {
	return &SellerOrderHandlers{orders: orders}
}

// Routes registers the seller fulfilment endpoints.
func (h *SellerOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/sellers/{sellerRef}/orders", h.listOrders)
	r.Post("/sellers/{sellerRef}/orders/{orderID}:acknowledge", h.acknowledge)
	r.Post("/sellers/{sellerRef}/orders/{orderID}/items/{itemID}:ship", h.assignTracking)
	r.Post("/sellers/{sellerRef}/orders/{orderID}/items/{itemID}/tracking-events", h.appendTrackingEvent)
}

func (h *SellerOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	sellerRef := strings.TrimSpace(chi.URLParam(r, "sellerRef"))
	if sellerRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "seller ref is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
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

	page, err := h.orders.ListSellerOrders(ctx, services.SellerOrderFilter{
		SellerRef: sellerRef,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
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

func (h *SellerOrderHandlers) acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.AcknowledgeSubOrder(ctx, services.AcknowledgeSubOrderCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		SellerRef: strings.TrimSpace(chi.URLParam(r, "sellerRef")),
		ActorID:   serviceActor(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type assignTrackingRequest struct {
	Carrier           string  `json:"carrier"`
	TrackingNumber    string  `json:"tracking_number"`
	EstimatedDelivery *string `json:"estimated_delivery,omitempty"`
}

func (h *SellerOrderHandlers) assignTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req assignTrackingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	var estimated *time.Time
	if req.EstimatedDelivery != nil && strings.TrimSpace(*req.EstimatedDelivery) != "" {
		ts, err := parseTimeParam(strings.TrimSpace(*req.EstimatedDelivery))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		estimated = &ts
	}

	order, err := h.orders.AssignTracking(ctx, services.AssignTrackingCommand{
		OrderID:           strings.TrimSpace(chi.URLParam(r, "orderID")),
		ItemID:            strings.TrimSpace(chi.URLParam(r, "itemID")),
		SellerRef:         strings.TrimSpace(chi.URLParam(r, "sellerRef")),
		Carrier:           strings.TrimSpace(req.Carrier),
		TrackingNumber:    strings.TrimSpace(req.TrackingNumber),
		EstimatedDelivery: estimated,
		ActorID:           serviceActor(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type trackingEventRequest struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Location string `json:"location"`
}

func (h *SellerOrderHandlers) appendTrackingEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req trackingEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AppendTrackingEvent(ctx, services.AppendTrackingEventCommand{
		OrderID:  strings.TrimSpace(chi.URLParam(r, "orderID")),
		ItemID:   strings.TrimSpace(chi.URLParam(r, "itemID")),
		Status:   strings.TrimSpace(req.Status),
		Message:  sanitizeFreeText(req.Message),
		Location: sanitizeFreeText(req.Location),
		ActorID:  serviceActor(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func serviceActor(r *http.Request) string {
	if identity, ok := auth.ServiceIdentityFromContext(r.Context()); ok && identity != nil {
		return strings.TrimSpace(identity.Subject)
	}
	return ""
}
