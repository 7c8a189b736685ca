package tier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmod-tracker/assume/internal/clearing"
	"github.com/openmod-tracker/assume/internal/market"
)

var openAt = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTier(id, parent string) *Tier {
	return New(Params{
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

func submitOrder(t *testing.T, tr *Tier, origin string, price, volume float64) {
	t.Helper()
	require.NoError(t, tr.Submit(market.Order{
		Product: tr.OpenProducts()[0],
		Origin:  origin,
		Price:   price,
		Volume:  volume,
	}))
}

func TestBeginRoundStates(t *testing.T) {
	root := newTestTier("root", "")
	root.BeginRound(1, openAt)
	assert.Equal(t, Clearing, root.State(), "root tiers start the round clearing")

	child := newTestTier("child", "root")
	child.BeginRound(1, openAt)
	assert.Equal(t, AwaitingParent, child.State())
}

func TestSubmitLifecycle(t *testing.T) {
	tr := newTestTier("eom", "")
	tr.BeginRound(1, openAt)

	submitOrder(t, tr, "sup", 10, 100)
	submitOrder(t, tr, "dem", 50, -80)
	assert.Equal(t, 2, tr.PendingCount())

	_, err := tr.ClearRound()
	require.NoError(t, err)
	assert.Equal(t, Cleared, tr.State())

	err = tr.Submit(market.Order{Product: tr.OpenProducts()[0], Origin: "late", Price: 10, Volume: 5})
	assert.ErrorIs(t, err, market.ErrTierNotAcceptingOrders)
}

func TestSubmitValidation(t *testing.T) {
	tr := newTestTier("eom", "")
	tr.BeginRound(1, openAt)
	product := tr.OpenProducts()[0]

	tests := []struct {
		name   string
		order  market.Order
		reason string
	}{
		{
			name:   "zero volume",
			order:  market.Order{Product: product, Origin: "u", Price: 10},
			reason: "zero volume",
		},
		{
			name:   "missing product key",
			order:  market.Order{Origin: "u", Price: 10, Volume: 5},
			reason: "missing product key",
		},
		{
			name:   "price above bound",
			order:  market.Order{Product: product, Origin: "u", Price: 9000, Volume: 5},
			reason: "price outside configured bounds",
		},
		{
			name:   "price below bound",
			order:  market.Order{Product: product, Origin: "u", Price: -600, Volume: 5},
			reason: "price outside configured bounds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.Submit(tt.order)
			var invalid *market.InvalidOrderError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.reason, invalid.Reason)
		})
	}
	assert.Equal(t, 0, tr.PendingCount(), "invalid orders never enter the book")
}

func TestMarkClearingOnlyOnce(t *testing.T) {
	tr := newTestTier("child", "root")
	tr.BeginRound(1, openAt)

	require.NoError(t, tr.MarkClearing())
	assert.Equal(t, Clearing, tr.State())
	assert.ErrorIs(t, tr.MarkClearing(), market.ErrDuplicateSignal)
}

func TestClearRoundProducesResultPerProduct(t *testing.T) {
	tr := New(Params{
		ID: "multi",
		Products: []market.ProductSpec{{
			Duration: time.Hour,
			Count:    4,
		}},
		MinPrice:        -500,
		MaxPrice:        3000,
		OpeningDuration: time.Hour,
	}, clearing.New(1.0), nil)
	tr.BeginRound(1, openAt)

	products := tr.OpenProducts()
	require.Len(t, products, 4)
	require.NoError(t, tr.Submit(market.Order{Product: products[1], Origin: "s", Price: 10, Volume: 20}))
	require.NoError(t, tr.Submit(market.Order{Product: products[1], Origin: "d", Price: 30, Volume: -20}))

	results, err := tr.ClearRound()
	require.NoError(t, err)
	require.Len(t, results, 4, "one result per open product, cleared or not")
	assert.True(t, results[1].Cleared)
	for i, r := range results {
		if i != 1 {
			assert.False(t, r.Cleared)
		}
	}
}

func TestStaleProductOrdersDieWithTheRound(t *testing.T) {
	tr := newTestTier("eom", "")
	tr.BeginRound(1, openAt)

	stale := market.ProductKey{Start: openAt.Add(-4 * time.Hour), End: openAt.Add(-2 * time.Hour)}
	require.NoError(t, tr.Inject([]market.Order{{Product: stale, Origin: "old", Price: 10, Volume: 5}}))

	results, err := tr.ClearRound()
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, stale, r.Product)
	}

	tr.BeginRound(2, openAt.Add(2*time.Hour))
	assert.Equal(t, 0, tr.PendingCount(), "no carry-over between rounds")
}

func TestAbandonDiscardsPending(t *testing.T) {
	tr := newTestTier("child", "root")
	tr.BeginRound(1, openAt)
	require.NoError(t, tr.Submit(market.Order{Product: tr.OpenProducts()[0], Origin: "u", Price: 10, Volume: 5}))

	tr.Abandon()
	assert.Equal(t, 0, tr.PendingCount())
	assert.Empty(t, tr.Results())
}
