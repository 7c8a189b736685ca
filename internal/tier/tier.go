// Package tier holds the per-market round state machine: each tier owns its
// pending order book and its position in the market hierarchy, and clears
// through a pure engine when the coordinator says it may.
package tier

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/clearing"
	"github.com/openmod-tracker/assume/internal/market"
)

// State is the per-round lifecycle of a tier.
type State int32

const (
	// AwaitingParent: a dependent tier blocked until its parent clears.
	AwaitingParent State = iota
	// Clearing: accepting orders and eligible to match. Root tiers start
	// every round here.
	Clearing
	// Cleared: matching done, book closed for the round.
	Cleared
)

func (s State) String() string {
	switch s {
	case AwaitingParent:
		return "AWAITING_PARENT"
	case Clearing:
		return "CLEARING"
	case Cleared:
		return "CLEARED"
	}
	return "UNKNOWN"
}

// Params is the static configuration of one tier.
type Params struct {
	ID       string
	ParentID string // empty = root tier
	Products []market.ProductSpec

	// Bid price bounds enforced at submission.
	MinPrice float64
	MaxPrice float64

	// OpeningDuration bounds how long the tier waits on its parent before
	// the round fails with an upstream timeout.
	OpeningDuration time.Duration
}

type Tier struct {
	params Params
	engine *clearing.Engine
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	round   int
	open    []market.ProductKey
	pending map[market.ProductKey][]market.Order
	results []market.ClearingResult
}

func New(params Params, engine *clearing.Engine, log *zap.Logger) *Tier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tier{
		params:  params,
		engine:  engine,
		log:     log.With(zap.String("tier", params.ID)),
		pending: make(map[market.ProductKey][]market.Order),
	}
}

func (t *Tier) ID() string                     { return t.params.ID }
func (t *Tier) ParentID() string               { return t.params.ParentID }
func (t *Tier) IsRoot() bool                   { return t.params.ParentID == "" }
func (t *Tier) OpeningDuration() time.Duration { return t.params.OpeningDuration }

func (t *Tier) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// BeginRound resets the tier for a new round: the previous book and results
// are discarded, the round's product windows are materialized from the open
// time, and the state moves to Clearing for roots or AwaitingParent for
// dependent tiers. No round overlap: whatever was pending is gone.
func (t *Tier) BeginRound(round int, openAt time.Time) []market.ProductKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.round = round
	t.pending = make(map[market.ProductKey][]market.Order)
	t.results = nil
	t.open = nil
	for _, spec := range t.params.Products {
		t.open = append(t.open, spec.Windows(openAt)...)
	}
	if t.IsRoot() {
		t.state = Clearing
	} else {
		t.state = AwaitingParent
	}
	t.log.Debug("round started",
		zap.Int("round", round),
		zap.String("state", t.state.String()),
		zap.Int("products", len(t.open)))
	return append([]market.ProductKey(nil), t.open...)
}

// Submit adds one order to the current round's book. The book keeps
// insertion order per product, which is the deterministic tie-break for
// equal prices.
func (t *Tier) Submit(o market.Order) error {
	if err := t.validate(o); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Cleared {
		return market.ErrTierNotAcceptingOrders
	}
	t.pending[o.Product] = append(t.pending[o.Product], o)
	return nil
}

func (t *Tier) validate(o market.Order) error {
	if o.Volume == 0 {
		return &market.InvalidOrderError{Reason: "zero volume", Order: o}
	}
	if o.Product.IsZero() {
		return &market.InvalidOrderError{Reason: "missing product key", Order: o}
	}
	if o.Price > t.params.MaxPrice || o.Price < t.params.MinPrice {
		return &market.InvalidOrderError{Reason: "price outside configured bounds", Order: o}
	}
	return nil
}

// Inject appends counter-orders from the parent's clearing. The coordinator
// calls this before the tier leaves AwaitingParent, so the tier's own clear
// always observes the parent's final result.
func (t *Tier) Inject(orders []market.Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Cleared {
		return market.ErrTierNotAcceptingOrders
	}
	for _, o := range orders {
		if o.Volume == 0 {
			continue
		}
		t.pending[o.Product] = append(t.pending[o.Product], o)
	}
	return nil
}

// MarkClearing transitions AwaitingParent -> Clearing after the parent's
// signal.
func (t *Tier) MarkClearing() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != AwaitingParent {
		return market.ErrDuplicateSignal
	}
	t.state = Clearing
	return nil
}

// ClearRound matches every open product window and moves the tier to
// Cleared. Orders for windows the tier does not trade this round are left
// out of the results and die with the round.
func (t *Tier) ClearRound() ([]market.ClearingResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Clearing {
		return nil, market.ErrTierNotAcceptingOrders
	}

	var book []market.Order
	for _, p := range t.open {
		book = append(book, t.pending[p]...)
	}
	results, err := t.engine.ClearAll(t.open, book)
	if err != nil {
		return nil, err
	}
	t.results = results
	t.state = Cleared
	for _, r := range results {
		t.log.Info("product cleared",
			zap.Int("round", t.round),
			zap.String("product", r.Product.String()),
			zap.Bool("cleared", r.Cleared),
			zap.Float64("price", r.Price),
			zap.Int("accepted", len(r.Accepted)),
			zap.Int("rejected", len(r.Rejected)))
	}
	return results, nil
}

// Abandon discards the round after an upstream timeout. Pending orders are
// dropped, not carried into the next round.
func (t *Tier) Abandon() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[market.ProductKey][]market.Order)
	t.results = nil
	t.log.Warn("round abandoned", zap.Int("round", t.round))
}

// OpenProducts returns the product windows of the current round.
func (t *Tier) OpenProducts() []market.ProductKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]market.ProductKey(nil), t.open...)
}

// Results returns the current round's clearing results, or nil before the
// tier cleared.
func (t *Tier) Results() []market.ClearingResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]market.ClearingResult(nil), t.results...)
}

// PendingCount reports how many live orders sit in the book. Used by tests
// and the status API.
func (t *Tier) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, orders := range t.pending {
		n += len(orders)
	}
	return n
}
