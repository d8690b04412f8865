package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/platform/httpx"
	"github.com/marketfold/api/internal/services"
)

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	DisplayStatus string `json:"display_status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	ItemCount     int    `json:"item_count"`
	OrderDate     string `json:"order_date"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	CustomerID      string                 `json:"customer_id"`
	Status          string                 `json:"status"`
	DisplayStatus   string                 `json:"display_status"`
	Currency        string                 `json:"currency"`
	Totals          orderTotalsPayload     `json:"totals"`
	Items           []orderItemPayload     `json:"items"`
	SubOrders       []subOrderPayload      `json:"sub_orders"`
	Returns         []returnPayload        `json:"returns,omitempty"`
	ShippingAddress addressPayload         `json:"shipping_address"`
	BillingAddress  addressPayload         `json:"billing_address"`
	Payment         paymentPayload         `json:"payment"`
	Cancellation    *cancellationPayload   `json:"cancellation,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	Version         int64                  `json:"version"`
	OrderDate       string                 `json:"order_date"`
	UpdatedAt       string                 `json:"updated_at,omitempty"`
	ConfirmedAt     string                 `json:"confirmed_at,omitempty"`
	ShippedAt       string                 `json:"shipped_at,omitempty"`
	DeliveredAt     string                 `json:"delivered_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ID         string           `json:"id"`
	ProductRef string           `json:"product_ref"`
	SellerRef  string           `json:"seller_ref"`
	Name       string           `json:"name"`
	Variant    *string          `json:"variant,omitempty"`
	Quantity   int              `json:"quantity"`
	UnitPrice  int64            `json:"unit_price"`
	Status     string           `json:"status"`
	Tracking   *trackingPayload `json:"tracking,omitempty"`
}

type trackingPayload struct {
	Carrier           string                 `json:"carrier"`
	Number            string                 `json:"number"`
	EstimatedDelivery string                 `json:"estimated_delivery,omitempty"`
	Events            []trackingEventPayload `json:"events,omitempty"`
}

type trackingEventPayload struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Location   string `json:"location,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type subOrderPayload struct {
	ID             string   `json:"id"`
	SellerRef      string   `json:"seller_ref"`
	ItemIDs        []string `json:"item_ids"`
	Status         string   `json:"status"`
	Total          int64    `json:"total"`
	Commission     int64    `json:"commission"`
	Payout         int64    `json:"payout"`
	RefundedAmount int64    `json:"refunded_amount,omitempty"`
}

type returnPayload struct {
	ID           string              `json:"id"`
	Lines        []returnLinePayload `json:"lines"`
	Reason       string              `json:"reason,omitempty"`
	Status       string              `json:"status"`
	RefundAmount int64               `json:"refund_amount"`
	RequestedAt  string              `json:"requested_at"`
	ProcessedAt  string              `json:"processed_at,omitempty"`
}

type returnLinePayload struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type paymentPayload struct {
	Method         string          `json:"method"`
	Status         string          `json:"status"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	Refunds        []refundPayload `json:"refunds,omitempty"`
}

type refundPayload struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type cancellationPayload struct {
	Reason       string `json:"reason,omitempty"`
	RefundAmount int64  `json:"refund_amount"`
	CancelledAt  string `json:"cancelled_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Status:        string(order.Status),
		DisplayStatus: string(domain.DeriveDisplayStatus(order)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:         order.Totals.Total,
		ItemCount:     len(order.Items),
		OrderDate:     formatTime(order.OrderDate),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		CustomerID:    strings.TrimSpace(order.CustomerID),
		Status:        string(order.Status),
		DisplayStatus: string(domain.DeriveDisplayStatus(order)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Tax:      order.Totals.Tax,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		SubOrders:       make([]subOrderPayload, 0, len(order.SubOrders)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		Payment:         buildPaymentPayload(order.Payment),
		Metadata:        cloneMap(order.Metadata),
		Version:         order.Version,
		OrderDate:       formatTime(order.OrderDate),
		UpdatedAt:       formatTime(order.UpdatedAt),
		ConfirmedAt:     formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:       formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, buildOrderItemPayload(item))
	}
	for _, sub := range order.SubOrders {
		payload.SubOrders = append(payload.SubOrders, subOrderPayload{
			ID:             sub.ID,
			SellerRef:      sub.SellerRef,
			ItemIDs:        append([]string(nil), sub.ItemIDs...),
			Status:         string(sub.Status),
			Total:          sub.Total,
			Commission:     sub.Commission,
			Payout:         sub.Payout,
			RefundedAmount: sub.RefundedAmount,
		})
	}
	for _, ret := range order.Returns {
		payload.Returns = append(payload.Returns, buildReturnPayload(ret))
	}

	if order.Cancellation != nil {
		payload.Cancellation = &cancellationPayload{
			Reason:       order.Cancellation.Reason,
			RefundAmount: order.Cancellation.RefundAmount,
			CancelledAt:  formatTime(order.Cancellation.CancelledAt),
		}
	}
	return payload
}

func buildOrderItemPayload(item services.OrderItem) orderItemPayload {
	payload := orderItemPayload{
		ID:         item.ID,
		ProductRef: item.ProductRef,
		SellerRef:  item.SellerRef,
		Name:       item.Name,
		Variant:    cloneStringPointer(item.Variant),
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPrice,
		Status:     string(item.Status),
	}
	if item.Tracking != nil {
		tracking := &trackingPayload{
			Carrier:           item.Tracking.Carrier,
			Number:            item.Tracking.Number,
			EstimatedDelivery: formatTime(pointerTime(item.Tracking.EstimatedDelivery)),
		}
		for _, event := range item.Tracking.Events {
			tracking.Events = append(tracking.Events, trackingEventPayload{
				Status:     event.Status,
				Message:    event.Message,
				Location:   event.Location,
				OccurredAt: formatTime(event.OccurredAt),
			})
		}
		payload.Tracking = tracking
	}
	return payload
}

func buildReturnPayload(ret services.ReturnRequest) returnPayload {
	payload := returnPayload{
		ID:           ret.ID,
		Lines:        make([]returnLinePayload, 0, len(ret.Lines)),
		Reason:       ret.Reason,
		Status:       string(ret.Status),
		RefundAmount: ret.RefundAmount,
		RequestedAt:  formatTime(ret.RequestedAt),
		ProcessedAt:  formatTime(pointerTime(ret.ProcessedAt)),
	}
	for _, line := range ret.Lines {
		payload.Lines = append(payload.Lines, returnLinePayload{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	return payload
}

func buildPaymentPayload(payment services.PaymentInfo) paymentPayload {
	payload := paymentPayload{
		Method:         string(payment.Method),
		Status:         string(payment.Status),
		TransactionRef: payment.TransactionRef,
	}
	for _, refund := range payment.Refunds {
		payload.Refunds = append(payload.Refunds, refundPayload{
			ID:        refund.ID,
			Amount:    refund.Amount,
			Reason:    refund.Reason,
			Status:    string(refund.Status),
			CreatedAt: formatTime(refund.CreatedAt),
		})
	}
	return payload
}

// writeOrderError maps service-layer sentinels onto the HTTP error contract.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrReturnInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput),
		errors.Is(err, services.ErrOrderNumberInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCancellationNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_not_allowed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition),
		errors.Is(err, services.ErrReturnInvalidTransition),
		errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrReturnWindowExpired):
		httpx.WriteError(ctx, w, httpx.NewError("return_window_expired", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrOrderNumberExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_numbers_exhausted", "order numbers exhausted, retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
