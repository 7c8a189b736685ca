// Package coordinator sequences clearing across dependent market tiers. It
// owns the dependency graph and the per-edge signal/wait protocol; tiers own
// their books, the engine stays pure.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/clock"
	"github.com/openmod-tracker/assume/internal/market"
	"github.com/openmod-tracker/assume/internal/tier"
)

// SettlementSink receives clearing feedback for delivery to participants.
type SettlementSink interface {
	DeliverSettlement(tierID string, round int, res market.ClearingResult)
}

// TierOutcome is one tier's result for a round: either its clearing results
// or the error that ended its round (an upstream timeout, typically).
type TierOutcome struct {
	Results []market.ClearingResult
	Err     error
}

// RoundReport aggregates all tier outcomes for one round.
type RoundReport struct {
	Round    int
	OpenedAt time.Time
	Tiers    map[string]*TierOutcome
}

// Failed lists the tiers whose round ended in an error.
func (r *RoundReport) Failed() []string {
	var out []string
	for id, o := range r.Tiers {
		if o.Err != nil {
			out = append(out, id)
		}
	}
	return out
}

// Coordinator drives rounds over a set of registered tiers. A round has two
// phases: OpenRound resets every tier and re-injects the previous round's
// upward counter-orders, then submissions flow in, then ClearRound runs the
// dependency wavefronts until every tier is Cleared or timed out.
type Coordinator struct {
	log  *zap.Logger
	clk  clock.Clock
	sink SettlementSink

	mu       sync.Mutex
	tiers    map[string]*tier.Tier
	epsilon  map[string]float64
	children map[string][]string
	order    []string // stable topological order, roots first

	round    int
	openedAt time.Time
	// carry holds child leftovers queued for the parent's next round.
	carry map[string][]market.Order
}

func New(log *zap.Logger, clk clock.Clock, sink SettlementSink) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{
		log:      log,
		clk:      clk,
		sink:     sink,
		tiers:    make(map[string]*tier.Tier),
		epsilon:  make(map[string]float64),
		children: make(map[string][]string),
		carry:    make(map[string][]market.Order),
	}
}

// Register adds a tier to the graph. epsilon is the tier's residual
// significance threshold, used when its leftovers are translated into
// counter-orders.
func (c *Coordinator) Register(t *tier.Tier, epsilon float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tiers[t.ID()]; ok {
		return fmt.Errorf("tier %q already registered", t.ID())
	}
	c.tiers[t.ID()] = t
	c.epsilon[t.ID()] = epsilon
	c.order = nil // recomputed on next round
	return nil
}

func (c *Coordinator) Tier(id string) (*tier.Tier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tiers[id]
	return t, ok
}

func (c *Coordinator) TierIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.tiers))
	for id := range c.tiers {
		ids = append(ids, id)
	}
	return ids
}

// resolveGraph validates parent references, rebuilds the child index and
// computes a stable topological order (roots first, then by registration).
func (c *Coordinator) resolveGraph() error {
	if c.order != nil {
		return nil
	}
	c.children = make(map[string][]string)
	indeg := make(map[string]int, len(c.tiers))
	for id, t := range c.tiers {
		if t.IsRoot() {
			indeg[id] = 0
			continue
		}
		if _, ok := c.tiers[t.ParentID()]; !ok {
			return fmt.Errorf("tier %q: %w: parent %q", id, market.ErrUnknownTier, t.ParentID())
		}
		c.children[t.ParentID()] = append(c.children[t.ParentID()], id)
		indeg[id] = 1
	}
	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		kids := append([]string(nil), c.children[id]...)
		sort.Strings(kids)
		queue = append(queue, kids...)
	}
	if len(order) != len(c.tiers) {
		return fmt.Errorf("market hierarchy contains a cycle")
	}
	c.order = order
	return nil
}

// OpenRound resets every tier for a new round and injects the upward
// counter-orders carried over from the previous round. Submissions are
// accepted between OpenRound and ClearRound.
func (c *Coordinator) OpenRound(openAt time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolveGraph(); err != nil {
		return 0, err
	}
	c.round++
	c.openedAt = openAt
	for _, id := range c.order {
		c.tiers[id].BeginRound(c.round, openAt)
	}
	for id, orders := range c.carry {
		if len(orders) == 0 {
			continue
		}
		if err := c.tiers[id].Inject(orders); err != nil {
			c.log.Warn("carried counter-orders dropped",
				zap.String("tier", id), zap.Error(err))
		} else {
			c.log.Info("carried counter-orders injected",
				zap.String("tier", id),
				zap.Int("round", c.round),
				zap.Int("orders", len(orders)))
		}
	}
	c.carry = make(map[string][]market.Order)
	return c.round, nil
}

// ClearRound runs the round to completion: all tiers with satisfied
// dependencies clear in parallel, each parent signals its children exactly
// once with the downward counter-orders, and every dependent tier's wait is
// bounded by its opening duration. The returned report has one outcome per
// tier; only an internal invariant violation makes ClearRound itself fail.
func (c *Coordinator) ClearRound(ctx context.Context) (*RoundReport, error) {
	c.mu.Lock()
	round := c.round
	openedAt := c.openedAt
	if err := c.resolveGraph(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	order := append([]string(nil), c.order...)
	children := c.children
	tiers := make(map[string]*tier.Tier, len(c.tiers))
	for id, t := range c.tiers {
		tiers[id] = t
	}
	c.mu.Unlock()

	report := &RoundReport{
		Round:    round,
		OpenedAt: openedAt,
		Tiers:    make(map[string]*TierOutcome, len(order)),
	}
	var reportMu sync.Mutex
	record := func(id string, o *TierOutcome) {
		reportMu.Lock()
		report.Tiers[id] = o
		reportMu.Unlock()
	}

	// One signal edge per (parent, child) pair, keyed by child.
	edges := make(map[string]*signalEdge, len(order))
	for _, id := range order {
		if t := tiers[id]; !t.IsRoot() {
			edges[id] = newSignalEdge(t.ParentID(), id)
		}
	}

	fatal := make(chan error, len(order))
	var wg sync.WaitGroup
	for _, id := range order {
		wg.Add(1)
		go func(t *tier.Tier) {
			defer wg.Done()
			c.runTier(ctx, t, edges, children[t.ID()], round, record, fatal)
		}(tiers[id])
	}
	wg.Wait()

	select {
	case err := <-fatal:
		return nil, fmt.Errorf("round %d aborted: %w", round, err)
	default:
	}
	return report, nil
}

// runTier executes one tier's share of the round: wait for the parent if
// any, clear, deliver settlement, fan counter-orders out to children and
// queue leftovers for the parent's next round.
func (c *Coordinator) runTier(
	ctx context.Context,
	t *tier.Tier,
	edges map[string]*signalEdge,
	childIDs []string,
	round int,
	record func(string, *TierOutcome),
	fatal chan<- error,
) {
	if !t.IsRoot() {
		select {
		case counters := <-edges[t.ID()].ch:
			// Injection completes before the tier leaves AwaitingParent, so
			// its clear observes the parent's final result.
			if err := t.Inject(counters); err != nil {
				record(t.ID(), &TierOutcome{Err: err})
				return
			}
			if err := t.MarkClearing(); err != nil {
				fatal <- err
				return
			}
		case <-c.clk.After(t.OpeningDuration()):
			t.Abandon()
			err := &market.UpstreamTimeoutError{Tier: t.ID(), Parent: t.ParentID()}
			c.log.Warn("round failed", zap.Int("round", round), zap.Error(err))
			record(t.ID(), &TierOutcome{Err: err})
			return
		case <-ctx.Done():
			t.Abandon()
			record(t.ID(), &TierOutcome{Err: ctx.Err()})
			return
		}
	}

	results, err := t.ClearRound()
	if err != nil {
		record(t.ID(), &TierOutcome{Err: err})
		return
	}
	record(t.ID(), &TierOutcome{Results: results})

	if c.sink != nil {
		for _, r := range results {
			c.sink.DeliverSettlement(t.ID(), round, r)
		}
	}

	eps := c.epsilonFor(t.ID())

	// Downward: this tier's leftovers, negated, open the child markets.
	if len(childIDs) > 0 {
		var counters []market.Order
		for _, r := range results {
			counters = append(counters, r.CounterOrders(eps)...)
		}
		for _, childID := range childIDs {
			if err := edges[childID].signal(counters); err != nil {
				fatal <- err
				return
			}
		}
	}

	// Upward: leftovers seek a match in the parent market next round,
	// sign-preserved.
	if !t.IsRoot() {
		var up []market.Order
		for _, r := range results {
			up = append(up, r.Leftovers(eps)...)
		}
		if len(up) > 0 {
			c.mu.Lock()
			c.carry[t.ParentID()] = append(c.carry[t.ParentID()], up...)
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) epsilonFor(id string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epsilon[id]
}

// signalEdge is the named wait/signal primitive for one (parent, child)
// dependency. It fires exactly once per round; a second signal is a
// programming fault.
type signalEdge struct {
	parent, child string

	mu       sync.Mutex
	signaled bool
	ch       chan []market.Order
}

func newSignalEdge(parent, child string) *signalEdge {
	return &signalEdge{parent: parent, child: child, ch: make(chan []market.Order, 1)}
}

func (e *signalEdge) signal(counters []market.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		return fmt.Errorf("%w: %s -> %s", market.ErrDuplicateSignal, e.parent, e.child)
	}
	e.signaled = true
	e.ch <- counters
	return nil
}
