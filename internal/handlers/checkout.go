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
	"github.com/marketfold/api/internal/services"
)

const maxCheckoutBodySize = 32 * 1024

// CheckoutHandlers exposes the checkout endpoint converting carts into orders.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutOption customises checkout handler construction.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit throttles order placement per customer.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the standalone /checkout endpoint.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/checkout", h.placeOrder)
	})
}

type checkoutRequest struct {
	Lines           []checkoutLinePayload `json:"lines"`
	Currency        string                `json:"currency"`
	Tax             int64                 `json:"tax"`
	Shipping        int64                 `json:"shipping"`
	Discount        int64                 `json:"discount"`
	PaymentMethod   string                `json:"payment_method"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	BillingAddress  *addressPayload       `json:"billing_address"`
	Metadata        map[string]any        `json:"metadata"`
}

type checkoutLinePayload struct {
	ProductRef string  `json:"product_ref"`
	Quantity   int     `json:"quantity"`
	Variant    *string `json:"variant,omitempty"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CartLine{
			ProductRef: strings.TrimSpace(line.ProductRef),
			Quantity:   line.Quantity,
			Variant:    line.Variant,
		})
	}

	shipping := parseAddressPayload(req.ShippingAddress)
	billing := shipping
	if req.BillingAddress != nil {
		billing = parseAddressPayload(*req.BillingAddress)
	}

	customerID := strings.TrimSpace(identity.UID)
	order, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		CustomerID:      customerID,
		Lines:           lines,
		Currency:        strings.TrimSpace(req.Currency),
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Discount:        req.Discount,
		PaymentMethod:   method,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		ActorID:         customerID,
		Locale:          negotiateLocale(r.Header.Get("Accept-Language")),
		Metadata:        cloneMap(req.Metadata),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}
