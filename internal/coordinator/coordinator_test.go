package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmod-tracker/assume/internal/clearing"
	"github.com/openmod-tracker/assume/internal/clock"
	"github.com/openmod-tracker/assume/internal/market"
	"github.com/openmod-tracker/assume/internal/tier"
)

var openAt = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTier(id, parent string) *tier.Tier {
	return tier.New(tier.Params{
		ID:       id,
		ParentID: parent,
		Products: []market.ProductSpec{{
			Duration: 2 * time.Hour,
			Count:    1,
		}},
		MinPrice:        -500,
		MaxPrice:        3000,
		OpeningDuration: 30 * time.Minute,
	}, clearing.New(1.0), nil)
}

func submit(t *testing.T, tr *tier.Tier, origin string, price, volume float64) {
	t.Helper()
	require.NoError(t, tr.Submit(market.Order{
		Product: tr.OpenProducts()[0],
		Origin:  origin,
		Price:   price,
		Volume:  volume,
	}))
}

func TestTwoTierRoundWithCounterOrders(t *testing.T) {
	upper := newTestTier("upper", "")
	lower := newTestTier("lower", "upper")
	c := New(nil, clock.Real{}, nil)
	require.NoError(t, c.Register(upper, 1.0))
	require.NoError(t, c.Register(lower, 1.0))

	_, err := c.OpenRound(openAt)
	require.NoError(t, err)

	submit(t, upper, "big-gen", 10, 100)
	submit(t, upper, "national-demand", 20, -50)
	submit(t, lower, "regional-gen", 5, 50)

	rep, err := c.ClearRound(context.Background())
	require.NoError(t, err)
	require.Empty(t, rep.Failed())

	up := rep.Tiers["upper"]
	require.NoError(t, up.Err)
	require.Len(t, up.Results, 1)
	assert.True(t, up.Results[0].Cleared)
	assert.Equal(t, 10.0, up.Results[0].Price)

	// The upper market left 50 MW of big-gen unfilled. The lower market
	// received that leftover negated, so the regional generator finds a
	// 50 MW buyer.
	lo := rep.Tiers["lower"]
	require.NoError(t, lo.Err)
	require.Len(t, lo.Results, 1)
	require.True(t, lo.Results[0].Cleared)
	assert.Equal(t, 5.0, lo.Results[0].Price)

	var counterVolume float64
	foundCounter := false
	for _, o := range lo.Results[0].Accepted {
		if o.Origin == "big-gen" {
			foundCounter = true
			counterVolume = o.AcceptedVolume
		}
	}
	require.True(t, foundCounter, "parent leftover must appear in the child market")
	assert.Equal(t, -50.0, counterVolume, "counter-order volume is the negated parent leftover")
}

func TestCounterOrderConservation(t *testing.T) {
	upper := newTestTier("upper", "")
	lower := newTestTier("lower", "upper")
	c := New(nil, clock.Real{}, nil)
	require.NoError(t, c.Register(upper, 1.0))
	require.NoError(t, c.Register(lower, 1.0))

	_, err := c.OpenRound(openAt)
	require.NoError(t, err)

	// 170 MW of supply against 100 MW demand: a 30 MW residual on the
	// marginal unit plus a fully rejected 40 MW unit.
	submit(t, upper, "gen-a", 10, 80)
	submit(t, upper, "gen-b", 15, 50)
	submit(t, upper, "gen-c", 25, 40)
	submit(t, upper, "buyer", 20, -100)

	rep, err := c.ClearRound(context.Background())
	require.NoError(t, err)

	up := rep.Tiers["upper"]
	require.NoError(t, up.Err)
	leftover := 0.0
	for _, o := range up.Results[0].Leftovers(1.0) {
		leftover += o.Volume
	}

	lo := rep.Tiers["lower"]
	require.NoError(t, lo.Err)
	injected := 0.0
	for _, o := range lo.Results[0].Rejected {
		injected += -o.Volume
	}
	for _, o := range lo.Results[0].Accepted {
		injected += -o.AcceptedVolume // nothing else was in the book
	}
	assert.InDelta(t, leftover, injected, 1e-9,
		"total counter-order volume equals the parent's rejected+residual volume")
}

func TestLeftoversCarriedUpward(t *testing.T) {
	upper := newTestTier("upper", "")
	lower := newTestTier("lower", "upper")
	c := New(nil, clock.Real{}, nil)
	require.NoError(t, c.Register(upper, 1.0))
	require.NoError(t, c.Register(lower, 1.0))

	_, err := c.OpenRound(openAt)
	require.NoError(t, err)
	submit(t, lower, "stranded-demand", 50, -80)

	rep, err := c.ClearRound(context.Background())
	require.NoError(t, err)
	require.False(t, rep.Tiers["lower"].Results[0].Cleared)

	// Same opening time, so the delivery window is still tradable when the
	// leftover reaches the parent book.
	_, err = c.OpenRound(openAt)
	require.NoError(t, err)
	assert.Equal(t, 1, upper.PendingCount(), "child leftover waits in the parent book")

	submit(t, upper, "national-gen", 20, 80)
	rep, err = c.ClearRound(context.Background())
	require.NoError(t, err)

	up := rep.Tiers["upper"]
	require.NoError(t, up.Err)
	require.True(t, up.Results[0].Cleared)
	assert.Equal(t, 20.0, up.Results[0].Price)

	found := false
	for _, o := range up.Results[0].Accepted {
		if o.Origin == "stranded-demand" {
			found = true
			assert.Equal(t, -80.0, o.AcceptedVolume, "upward counter-order keeps its sign")
		}
	}
	assert.True(t, found)
}

func TestSiblingsClearInSameWavefront(t *testing.T) {
	upper := newTestTier("upper", "")
	lower1 := newTestTier("lower1", "upper")
	lower2 := newTestTier("lower2", "upper")
	c := New(nil, clock.Real{}, nil)
	require.NoError(t, c.Register(upper, 1.0))
	require.NoError(t, c.Register(lower1, 1.0))
	require.NoError(t, c.Register(lower2, 1.0))

	_, err := c.OpenRound(openAt)
	require.NoError(t, err)
	submit(t, lower1, "gen1", 10, 40)
	submit(t, lower1, "dem1", 30, -40)
	submit(t, lower2, "gen2", 12, 60)
	submit(t, lower2, "dem2", 25, -60)

	rep, err := c.ClearRound(context.Background())
	require.NoError(t, err)
	require.Empty(t, rep.Failed())
	require.Len(t, rep.Tiers, 3)
	assert.True(t, rep.Tiers["lower1"].Results[0].Cleared)
	assert.True(t, rep.Tiers["lower2"].Results[0].Cleared)
}

func TestUpstreamTimeoutAbandonsRound(t *testing.T) {
	fake := clock.NewFake(openAt)
	child := newTestTier("child", "parent")
	c := New(nil, fake, nil)
	require.NoError(t, c.Register(child, 1.0))

	child.BeginRound(1, openAt)
	require.NoError(t, child.Submit(market.Order{
		Product: child.OpenProducts()[0],
		Origin:  "doomed",
		Price:   10,
		Volume:  20,
	}))

	// A parent edge that never fires.
	edges := map[string]*signalEdge{"child": newSignalEdge("parent", "child")}
	outcomes := make(map[string]*TierOutcome)
	record := func(id string, o *TierOutcome) { outcomes[id] = o }
	fatal := make(chan error, 1)

	done := make(chan struct{})
	go func() {
		c.runTier(context.Background(), child, edges, nil, 1, record, fatal)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			var timeout *market.UpstreamTimeoutError
			require.ErrorAs(t, outcomes["child"].Err, &timeout)
			assert.Equal(t, "child", timeout.Tier)
			assert.Equal(t, "parent", timeout.Parent)
			assert.Equal(t, 0, child.PendingCount(), "pending orders are discarded, not carried over")
			return
		case <-deadline:
			t.Fatal("tier did not time out")
		default:
			fake.Advance(time.Minute)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestDuplicateSignalIsFatal(t *testing.T) {
	e := newSignalEdge("parent", "child")
	require.NoError(t, e.signal(nil))
	assert.ErrorIs(t, e.signal(nil), market.ErrDuplicateSignal)
}

func TestGraphValidation(t *testing.T) {
	t.Run("unknown parent", func(t *testing.T) {
		c := New(nil, clock.Real{}, nil)
		require.NoError(t, c.Register(newTestTier("orphan", "missing"), 1.0))
		_, err := c.OpenRound(openAt)
		assert.ErrorIs(t, err, market.ErrUnknownTier)
	})

	t.Run("cycle", func(t *testing.T) {
		c := New(nil, clock.Real{}, nil)
		require.NoError(t, c.Register(newTestTier("a", "b"), 1.0))
		require.NoError(t, c.Register(newTestTier("b", "a"), 1.0))
		_, err := c.OpenRound(openAt)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("duplicate id", func(t *testing.T) {
		c := New(nil, clock.Real{}, nil)
		require.NoError(t, c.Register(newTestTier("a", ""), 1.0))
		assert.Error(t, c.Register(newTestTier("a", ""), 1.0))
	})
}

func TestRoundsAreIsolated(t *testing.T) {
	root := newTestTier("root", "")
	c := New(nil, clock.Real{}, nil)
	require.NoError(t, c.Register(root, 1.0))

	_, err := c.OpenRound(openAt)
	require.NoError(t, err)
	submit(t, root, "gen", 10, 100) // one-sided, will be rejected

	rep, err := c.ClearRound(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Tiers["root"].Results[0].Cleared)

	// Root tiers have no parent to re-bid into: the rejected volume is
	// gone next round.
	round, err := c.OpenRound(openAt.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, round)
	assert.Equal(t, 0, root.PendingCount())
}
