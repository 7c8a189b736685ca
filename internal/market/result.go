package market

// ClearingResult is the outcome of clearing one product window on one tier
// for one round.
type ClearingResult struct {
	Product ProductKey

	// Cleared is false when no feasible supply/demand intersection exists.
	// That is a normal outcome, not an error: Price is meaningless and every
	// order is in Rejected.
	Cleared bool
	Price   float64

	// Accepted holds orders with non-zero AcceptedVolume, Rejected the fully
	// unmatched ones. Both are copies; the submitted orders are never
	// mutated.
	Accepted []Order
	Rejected []Order
}

// Leftovers returns the volume that failed to clear: every rejected order
// plus a residual order for each partial fill whose unfilled volume is
// economically significant (strictly above epsilon).
func (r ClearingResult) Leftovers(epsilon float64) []Order {
	var out []Order
	for _, o := range r.Rejected {
		out = append(out, o.Residual())
	}
	for _, o := range r.Accepted {
		if abs(o.Remaining()) > epsilon {
			out = append(out, o.Residual())
		}
	}
	return out
}

// CounterOrders negates Leftovers for injection into a dependent market: the
// child market offers/demands the opposite of what failed to clear above.
func (r ClearingResult) CounterOrders(epsilon float64) []Order {
	left := r.Leftovers(epsilon)
	out := make([]Order, 0, len(left))
	for _, o := range left {
		o.Volume = -o.Volume
		out = append(out, o)
	}
	return out
}

// ClearingMessage is the settlement feedback delivered to one participant:
// its own accepted orders for one product, with AcceptedVolume and
// AcceptedPrice populated.
type ClearingMessage struct {
	TierID  string     `json:"tier_id"`
	Round   int        `json:"round"`
	Product ProductKey `json:"product"`
	Cleared bool       `json:"cleared"`
	Price   float64    `json:"price"`
	Orders  []Order    `json:"accepted_orders"`
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
