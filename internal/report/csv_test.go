package report

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmod-tracker/assume/internal/coordinator"
	"github.com/openmod-tracker/assume/internal/market"
)

func sampleReport() *coordinator.RoundReport {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	key := market.ProductKey{Start: start, End: start.Add(time.Hour)}
	return &coordinator.RoundReport{
		Round:    3,
		OpenedAt: start,
		Tiers: map[string]*coordinator.TierOutcome{
			"lower": {Err: errors.New("no signal from parent upper within 30m0s")},
			"upper": {Results: []market.ClearingResult{{
				Product: key,
				Cleared: true,
				Price:   42,
				Accepted: []market.Order{
					{Product: key, Origin: "gen", Price: 40, Volume: 100, AcceptedVolume: 90, AcceptedPrice: 42},
					{Product: key, Origin: "load", Price: 60, Volume: -90, AcceptedVolume: -90, AcceptedPrice: 42},
				},
				Rejected: []market.Order{
					{Product: key, Origin: "peaker", Price: 90, Volume: 20},
				},
			}}},
		},
	}
}

func TestFromReport(t *testing.T) {
	rows := FromReport(sampleReport())
	require.Len(t, rows, 2)

	// Tiers come out in id order.
	assert.Equal(t, "lower", rows[0].Tier)
	assert.Contains(t, rows[0].Failure, "no signal")
	assert.False(t, rows[0].Cleared)

	upper := rows[1]
	assert.Equal(t, "upper", upper.Tier)
	assert.Equal(t, 3, upper.Round)
	assert.True(t, upper.Cleared)
	assert.Equal(t, 42.0, upper.Price)
	assert.Equal(t, 90.0, upper.SupplyMW)
	assert.Equal(t, 90.0, upper.DemandMW)
	assert.Equal(t, 2, upper.AcceptedOrders)
	assert.Equal(t, 1, upper.RejectedOrders)
}

func TestWriteLedgerCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, WriteLedgerCSV(path, FromReport(sampleReport())))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "round", records[0][0])
	assert.Equal(t, "upper", records[2][1])
	assert.Equal(t, "42.000000", records[2][6])
	assert.Equal(t, "2019-01-01T00:00:00Z", records[2][2])
}
