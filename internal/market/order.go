package market

import (
	"fmt"
	"time"
)

// Direction is the side of an order, derived from the sign of its volume.
type Direction string

const (
	Supply Direction = "SUPPLY"
	Demand Direction = "DEMAND"
)

// ProductKey identifies one tradable delivery window. Orders for different
// keys never match against each other.
type ProductKey struct {
	Start     time.Time
	End       time.Time
	OnlyHours bool
}

func (k ProductKey) IsZero() bool {
	return k.Start.IsZero() && k.End.IsZero()
}

func (k ProductKey) String() string {
	return fmt.Sprintf("%s/%s/%t", k.Start.Format(time.RFC3339), k.End.Format(time.RFC3339), k.OnlyHours)
}

// Order is one bid or offer for one product window.
// Sign convention: positive volume = supply (sell), negative = demand (buy).
// Price is the limit: minimum acceptable sale price for supply, maximum
// acceptable purchase price for demand.
//
// An Order is immutable once submitted to a round. Clearing returns copies
// with AcceptedVolume/AcceptedPrice set; residuals are re-issued as new
// orders, never mutated in place.
type Order struct {
	Product ProductKey
	Origin  string // submitting participant/node
	Price   float64
	Volume  float64 // MW, signed

	// Set by clearing only. AcceptedVolume carries the sign of Volume and
	// satisfies 0 <= |AcceptedVolume| <= |Volume|.
	AcceptedVolume float64
	AcceptedPrice  float64
}

func (o Order) Direction() Direction {
	if o.Volume < 0 {
		return Demand
	}
	return Supply
}

// Remaining is the unfilled signed volume after clearing.
func (o Order) Remaining() float64 {
	return o.Volume - o.AcceptedVolume
}

// Counter returns a new order offering the opposite of this order's unfilled
// volume, with the clearing annotations stripped. Used when a parent tier's
// leftover volume is pushed down into a child market.
func (o Order) Counter() Order {
	return Order{
		Product: o.Product,
		Origin:  o.Origin,
		Price:   o.Price,
		Volume:  -o.Remaining(),
	}
}

// Residual returns a new order carrying this order's unfilled volume,
// sign-preserved, with the clearing annotations stripped. Used when a child
// tier re-submits its leftovers to the parent market for the next round.
func (o Order) Residual() Order {
	return Order{
		Product: o.Product,
		Origin:  o.Origin,
		Price:   o.Price,
		Volume:  o.Remaining(),
	}
}
