package services

import (
	"errors"
	"fmt"

	domain "github.com/marketfold/api/internal/domain"
)

const commissionBpsDenominator = 10_000

var (
	// ErrPricingInvalidInput indicates a line or adjustment that cannot be priced.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// PriceOrder computes the deterministic monetary roll-up for the given items.
// Total is clamped at zero; any discount excess absorbed by the clamp is
// reported in TruncatedDiscount so audits reconcile against the raw input.
func PriceOrder(items []domain.OrderItem, tax, shipping, discount int64) (domain.PricingBreakdown, error) {
	if len(items) == 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}
	if tax < 0 || shipping < 0 || discount < 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: tax, shipping, and discount must not be negative", ErrPricingInvalidInput)
	}

	lines := make([]domain.LinePricing, 0, len(items))
	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: item %s quantity must be positive", ErrPricingInvalidInput, item.ID)
		}
		if item.UnitPrice < 0 {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: item %s price must not be negative", ErrPricingInvalidInput, item.ID)
		}
		lineTotal := item.UnitPrice * int64(item.Quantity)
		subtotal += lineTotal
		lines = append(lines, domain.LinePricing{
			ItemID:    item.ID,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     lineTotal,
		})
	}

	total := subtotal + tax + shipping - discount
	var truncated int64
	if total < 0 {
		truncated = -total
		total = 0
	}

	return domain.PricingBreakdown{
		Subtotal:          subtotal,
		Tax:               tax,
		Shipping:          shipping,
		Discount:          discount,
		Total:             total,
		TruncatedDiscount: truncated,
		Lines:             lines,
	}, nil
}

// SplitBySeller partitions items by seller in first-appearance order. The
// result is deterministic for a given item slice: re-running on unchanged
// items yields identical splits. Each line's commission is rounded to the
// minor unit independently before summing, keeping payouts auditable per line.
func SplitBySeller(items []domain.OrderItem) []domain.SellerSplit {
	splits := make([]domain.SellerSplit, 0, len(items))
	index := make(map[string]int, len(items))

	for _, item := range items {
		pos, seen := index[item.SellerRef]
		if !seen {
			pos = len(splits)
			index[item.SellerRef] = pos
			splits = append(splits, domain.SellerSplit{SellerRef: item.SellerRef})
		}
		lineTotal := item.UnitPrice * int64(item.Quantity)
		splits[pos].ItemIDs = append(splits[pos].ItemIDs, item.ID)
		splits[pos].Total += lineTotal
		splits[pos].Commission += LineCommission(item.UnitPrice, item.Quantity, item.CommissionBps)
	}

	for i := range splits {
		splits[i].Payout = splits[i].Total - splits[i].Commission
	}
	return splits
}

// LineCommission computes the platform cut for one line, rounded half away
// from zero to the currency's minor unit. Aggregates are never rounded.
func LineCommission(unitPrice int64, quantity int, commissionBps int) int64 {
	gross := unitPrice * int64(quantity) * int64(commissionBps)
	commission := gross / commissionBpsDenominator
	if (gross%commissionBpsDenominator)*2 >= commissionBpsDenominator {
		commission++
	}
	return commission
}

// RefundValue sums price*quantity for the returned lines against the order's
// item snapshots. Quantities above the purchased amount are rejected.
func RefundValue(order domain.Order, lines []domain.ReturnLine) (int64, error) {
	var refund int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			return 0, fmt.Errorf("%w: return quantity must be positive", ErrPricingInvalidInput)
		}
		item, ok := order.ItemByID(line.ItemID)
		if !ok {
			return 0, fmt.Errorf("%w: unknown item %s", ErrPricingInvalidInput, line.ItemID)
		}
		if line.Quantity > item.Quantity {
			return 0, fmt.Errorf("%w: return quantity %d exceeds purchased quantity %d for item %s",
				ErrPricingInvalidInput, line.Quantity, item.Quantity, line.ItemID)
		}
		refund += item.UnitPrice * int64(line.Quantity)
	}
	return refund, nil
}

// ReconcileTotals recomputes the order's totals from its current items and
// discount. It is the only sanctioned way to change Order.Totals.
func ReconcileTotals(order *domain.Order) error {
	breakdown, err := PriceOrder(order.Items, order.Totals.Tax, order.Totals.Shipping, order.Totals.Discount)
	if err != nil {
		return err
	}
	order.Totals = domain.OrderTotals{
		Subtotal: breakdown.Subtotal,
		Tax:      breakdown.Tax,
		Shipping: breakdown.Shipping,
		Discount: breakdown.Discount,
		Total:    breakdown.Total,
	}
	return nil
}
