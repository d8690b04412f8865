package domain

// PricingBreakdown captures the aggregated monetary results of pricing an order.
// Total is clamped at zero; TruncatedDiscount records any discount excess the
// clamp absorbed so audits can reconcile the original discount input.
type PricingBreakdown struct {
	Currency          string
	Subtotal          int64
	Tax               int64
	Shipping          int64
	Discount          int64
	Total             int64
	TruncatedDiscount int64
	Lines             []LinePricing
}

// LinePricing stores the per-line pricing outputs after running the engine.
type LinePricing struct {
	ItemID    string
	UnitPrice int64
	Quantity  int
	Total     int64
}

// SellerSplit is the pricing engine's per-seller partition prior to becoming a SubOrder.
type SellerSplit struct {
	SellerRef  string
	ItemIDs    []string
	Total      int64
	Commission int64
	Payout     int64
}
