package domain

// DeriveDisplayStatus computes the presentation roll-up of item statuses: the
// earliest forward-progress state across items still moving forward. Items on
// the cancellation/return side-exits do not drag the roll-up backwards; an
// order whose items are all side-exited reports the order's stored status.
// The result is never persisted — the stored order status is authoritative.
func DeriveDisplayStatus(order Order) OrderStatus {
	display := order.Status
	best := -1
	for _, item := range order.Items {
		rank, forward := orderStatusRank[item.Status]
		if !forward {
			continue
		}
		if best == -1 || rank < best {
			best = rank
			display = item.Status
		}
	}
	return display
}

// StatusRank exposes the forward ordering used for display roll-ups. The
// second result is false for the cancelled/returned side-exits.
func StatusRank(status OrderStatus) (int, bool) {
	rank, ok := orderStatusRank[status]
	return rank, ok
}
