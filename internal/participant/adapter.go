// Package participant is the boundary between unit-operator logic and the
// market core: orders come in through Submit, settlement feedback goes back
// out as ClearingMessages.
package participant

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/market"
	"github.com/openmod-tracker/assume/internal/tier"
)

// Receiver consumes settlement feedback for one participant.
type Receiver interface {
	HandleClearing(msg market.ClearingMessage)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(msg market.ClearingMessage)

func (f ReceiverFunc) HandleClearing(msg market.ClearingMessage) { f(msg) }

type deliveryKey struct {
	tier    string
	round   int
	product market.ProductKey
}

// Adapter routes submissions to tiers and settlement back to the origins
// that placed orders. It implements coordinator.SettlementSink.
type Adapter struct {
	log *zap.Logger

	mu        sync.Mutex
	tiers     map[string]*tier.Tier
	receivers map[string][]Receiver
	observers []Receiver
	delivered map[deliveryKey]struct{}
	invalid   int
}

func NewAdapter(log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		log:       log,
		tiers:     make(map[string]*tier.Tier),
		receivers: make(map[string][]Receiver),
		delivered: make(map[deliveryKey]struct{}),
	}
}

// Attach makes a tier reachable for submissions.
func (a *Adapter) Attach(t *tier.Tier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tiers[t.ID()] = t
}

// Register subscribes a receiver to the settlement feedback of one origin.
func (a *Adapter) Register(origin string, r Receiver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.receivers[origin] = append(a.receivers[origin], r)
}

// Observe subscribes a receiver to every ClearingMessage regardless of
// origin. The websocket feed and the round ledger hang off this.
func (a *Adapter) Observe(r Receiver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, r)
}

// Submit adds an order to the named tier's current-round book. Invalid
// orders are dropped and counted, never entering matching; submissions after
// the tier cleared fail with ErrTierNotAcceptingOrders.
func (a *Adapter) Submit(tierID string, o market.Order) error {
	a.mu.Lock()
	t, ok := a.tiers[tierID]
	a.mu.Unlock()
	if !ok {
		return market.ErrUnknownTier
	}
	err := t.Submit(o)
	var invalid *market.InvalidOrderError
	if errors.As(err, &invalid) {
		a.mu.Lock()
		a.invalid++
		a.mu.Unlock()
		a.log.Warn("order rejected at submission",
			zap.String("tier", tierID),
			zap.String("origin", o.Origin),
			zap.String("reason", invalid.Reason))
	}
	return err
}

// InvalidCount reports how many orders were rejected at submission time.
func (a *Adapter) InvalidCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.invalid
}

// DeliverSettlement fans one product's clearing result out to every
// participant that had an order in it, exactly once per product per round.
// Each participant sees only its own accepted orders; a participant whose
// orders were all rejected still gets the message, with an empty list.
func (a *Adapter) DeliverSettlement(tierID string, round int, res market.ClearingResult) {
	key := deliveryKey{tier: tierID, round: round, product: res.Product}
	a.mu.Lock()
	if _, dup := a.delivered[key]; dup {
		a.mu.Unlock()
		a.log.Error("settlement already delivered, dropping duplicate",
			zap.String("tier", tierID),
			zap.Int("round", round),
			zap.String("product", res.Product.String()))
		return
	}
	a.delivered[key] = struct{}{}
	observers := append([]Receiver(nil), a.observers...)
	a.mu.Unlock()

	accepted := make(map[string][]market.Order)
	origins := make(map[string]struct{})
	for _, o := range res.Accepted {
		accepted[o.Origin] = append(accepted[o.Origin], o)
		origins[o.Origin] = struct{}{}
	}
	for _, o := range res.Rejected {
		origins[o.Origin] = struct{}{}
	}

	for origin := range origins {
		msg := market.ClearingMessage{
			TierID:  tierID,
			Round:   round,
			Product: res.Product,
			Cleared: res.Cleared,
			Price:   res.Price,
			Orders:  accepted[origin],
		}
		a.mu.Lock()
		rs := append([]Receiver(nil), a.receivers[origin]...)
		a.mu.Unlock()
		for _, r := range rs {
			r.HandleClearing(msg)
		}
	}

	for _, r := range observers {
		r.HandleClearing(market.ClearingMessage{
			TierID:  tierID,
			Round:   round,
			Product: res.Product,
			Cleared: res.Cleared,
			Price:   res.Price,
			Orders:  res.Accepted,
		})
	}
}
