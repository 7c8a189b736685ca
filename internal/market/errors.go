package market

import (
	"errors"
	"fmt"
)

var (
	// ErrTierNotAcceptingOrders is returned by submission when the tier is
	// already past Clearing for the current round.
	ErrTierNotAcceptingOrders = errors.New("tier not accepting orders")

	// ErrUnknownTier is returned when a tier id does not exist.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrDuplicateSignal marks a parent signalling the same child twice in
	// one round. This is an internal invariant violation and aborts the
	// round.
	ErrDuplicateSignal = errors.New("duplicate parent signal")
)

// InvalidOrderError rejects an order at submission time, before it can enter
// matching: zero volume, missing product key, or a price outside the
// configured bounds.
type InvalidOrderError struct {
	Reason string
	Order  Order
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order from %q: %s", e.Order.Origin, e.Reason)
}

// UpstreamTimeoutError reports that a dependent tier's parent failed to
// signal within the round deadline. The tier's round is abandoned; the next
// round starts clean.
type UpstreamTimeoutError struct {
	Tier   string
	Parent string
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("tier %q: upstream timeout waiting for parent %q", e.Tier, e.Parent)
}
