// Package clearing implements the pay-as-clear merit-order auction: one
// uniform clearing price per product, all matched volume settling at the
// marginal price.
package clearing

import (
	"math"
	"sort"

	"github.com/openmod-tracker/assume/internal/market"
)

// Engine matches one product window's order book into a clearing price and
// an accepted/rejected partition. It is a pure computation: no I/O, no
// internal state besides configuration, safe to call concurrently on
// disjoint order sets.
type Engine struct {
	// Epsilon is the volume below which an unfilled residual is economically
	// insignificant: a partial fill whose leftover is within Epsilon counts
	// as fully accepted.
	Epsilon float64
}

func New(epsilon float64) *Engine {
	return &Engine{Epsilon: epsilon}
}

// cursorEntry tracks one order's unfilled quantity during the walk.
// remaining is always the unsigned quantity.
type cursorEntry struct {
	order     market.Order
	remaining float64
}

// Clear runs the merit-order walk over the live orders of one product.
//
// Supply (volume > 0) is sorted ascending by price, demand (volume < 0)
// descending by willingness-to-pay; ties keep submission order, which makes
// the partition deterministic. Two cursors walk the curves: a trade happens
// while the current demand price is at least the current supply price, for
// min of both unfilled quantities, and the walk stops at the first crossing.
// The reported clearing price is the supply price of the last matched pair,
// the marginal cost of the most expensive unit that ran.
//
// Orders with zero volume never reach the walk; they fail the whole call
// with InvalidOrderError so the caller can reject them at the boundary.
func (e *Engine) Clear(product market.ProductKey, orders []market.Order) (market.ClearingResult, error) {
	res := market.ClearingResult{Product: product}

	var supply, demand []cursorEntry
	for _, o := range orders {
		if o.Volume == 0 {
			return res, &market.InvalidOrderError{Reason: "zero volume", Order: o}
		}
		if o.Product != product {
			return res, &market.InvalidOrderError{Reason: "order does not belong to product " + product.String(), Order: o}
		}
		entry := cursorEntry{order: o, remaining: math.Abs(o.Volume)}
		if o.Volume > 0 {
			supply = append(supply, entry)
		} else {
			demand = append(demand, entry)
		}
	}

	// Stable sorts keep submission order as the tie-break.
	sort.SliceStable(supply, func(i, j int) bool {
		return supply[i].order.Price < supply[j].order.Price
	})
	sort.SliceStable(demand, func(i, j int) bool {
		return demand[i].order.Price > demand[j].order.Price
	})

	var (
		si, di  int
		price   float64
		matched bool
	)
	for si < len(supply) && di < len(demand) {
		s, d := &supply[si], &demand[di]
		if d.order.Price < s.order.Price {
			break
		}
		qty := math.Min(s.remaining, d.remaining)
		s.remaining -= qty
		d.remaining -= qty
		price = s.order.Price
		matched = true
		if s.remaining <= 0 {
			si++
		}
		if d.remaining <= 0 {
			di++
		}
	}

	if !matched {
		// Empty side or no feasible intersection: no clearing price, all
		// orders rejected.
		for _, o := range orders {
			res.Rejected = append(res.Rejected, o)
		}
		return res, nil
	}

	res.Cleared = true
	res.Price = price
	e.partition(&res, supply, 1)
	e.partition(&res, demand, -1)
	return res, nil
}

// partition assigns accepted volumes from cursor state. sign restores the
// order's volume sign (+1 supply, -1 demand).
func (e *Engine) partition(res *market.ClearingResult, entries []cursorEntry, sign float64) {
	for _, en := range entries {
		total := math.Abs(en.order.Volume)
		filled := total - en.remaining
		if en.remaining <= e.Epsilon && filled > 0 {
			// Insignificant residual: treat the order as fully accepted.
			filled = total
		}
		o := en.order
		if filled == 0 {
			res.Rejected = append(res.Rejected, o)
			continue
		}
		o.AcceptedVolume = sign * filled
		o.AcceptedPrice = res.Price
		res.Accepted = append(res.Accepted, o)
	}
}

// ClearAll groups an order book by product key and clears each product
// independently; there is no cross-product coupling. Results come back in
// the order of the products slice.
func (e *Engine) ClearAll(products []market.ProductKey, orders []market.Order) ([]market.ClearingResult, error) {
	byProduct := make(map[market.ProductKey][]market.Order, len(products))
	for _, o := range orders {
		byProduct[o.Product] = append(byProduct[o.Product], o)
	}
	results := make([]market.ClearingResult, 0, len(products))
	for _, p := range products {
		r, err := e.Clear(p, byProduct[p])
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
