// Two-stage market demo: one national (upper) market with two regional
// (lower) markets underneath. Regional leftovers are re-bid into the
// national market on the following round; national leftovers open the
// regional books as counter-orders.
package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/clock"
	"github.com/openmod-tracker/assume/internal/config"
	"github.com/openmod-tracker/assume/internal/logging"
	"github.com/openmod-tracker/assume/internal/market"
	"github.com/openmod-tracker/assume/internal/participant"
	"github.com/openmod-tracker/assume/internal/sim"
)

// demoConfig builds a two-stage hierarchy. The lower markets trade two
// 2-hour windows per round while the upper market trades one: the second
// lower window lines up with the upper market's window of the following
// round, so regional leftovers re-bid upward still refer to a deliverable
// window when the national market clears them.
func demoConfig() *config.Config {
	eps := 1.0
	mk := func(id, parent string, count int) config.MarketConfig {
		return config.MarketConfig{
			ID:              id,
			Parent:          parent,
			OpeningDuration: config.Duration(30 * time.Minute),
			MaxPrice:        3000,
			MinPrice:        -500,
			ResidualEpsilon: &eps,
			Products: []config.ProductConfig{{
				Duration: config.Duration(2 * time.Hour),
				Count:    count,
			}},
		}
	}
	return &config.Config{
		Markets: []config.MarketConfig{
			mk("upper", "", 1),
			mk("lower1", "upper", 2),
			mk("lower2", "upper", 2),
		},
	}
}

// bid is one unit's standing offer, re-submitted every round.
type bid struct {
	tier   string
	origin string
	price  float64
	volume float64
}

func main() {
	log, err := logging.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := demoConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal("demo config invalid", zap.Error(err))
	}

	coord, adapter, err := sim.Build(cfg, log, clock.Real{})
	if err != nil {
		log.Fatal("market setup failed", zap.Error(err))
	}

	// Print every participant's settlement as it arrives.
	adapter.Observe(participant.ReceiverFunc(func(msg market.ClearingMessage) {
		if !msg.Cleared {
			fmt.Printf("round %d %-7s no clearing price\n", msg.Round, msg.TierID)
			return
		}
		fmt.Printf("round %d %-7s cleared at %6.2f EUR/MWh\n", msg.Round, msg.TierID, msg.Price)
		for _, o := range msg.Orders {
			fmt.Printf("    %-10s %-6s %8.1f MW accepted\n", o.Origin, o.Direction(), o.AcceptedVolume)
		}
	}))

	// Region 1 is short on generation, region 2 is long: the imbalance has
	// to resolve through the national market.
	bids := []bid{
		{tier: "lower1", origin: "demand1", price: 100, volume: -1000},
		{tier: "lower1", origin: "nuclear1", price: 3, volume: 800},
		{tier: "lower2", origin: "demand2", price: 60, volume: -500},
		{tier: "lower2", origin: "nuclear2", price: 4, volume: 2000},
	}

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for round := 0; round < 3; round++ {
		openAt := start.Add(time.Duration(round) * 2 * time.Hour)
		if _, err := coord.OpenRound(openAt); err != nil {
			log.Fatal("round open failed", zap.Error(err))
		}
		for _, b := range bids {
			t, _ := coord.Tier(b.tier)
			// Regional units bid the forward window, whose leftovers can
			// still reach the national market next round.
			windows := t.OpenProducts()
			order := market.Order{
				Product: windows[len(windows)-1],
				Origin:  b.origin,
				Price:   b.price,
				Volume:  b.volume,
			}
			if err := adapter.Submit(b.tier, order); err != nil {
				log.Warn("order not accepted", zap.String("origin", b.origin), zap.Error(err))
			}
		}
		rep, err := coord.ClearRound(context.Background())
		if err != nil {
			log.Fatal("round aborted", zap.Error(err))
		}
		for _, id := range rep.Failed() {
			fmt.Printf("round %d %-7s failed: %v\n", rep.Round, id, rep.Tiers[id].Err)
		}
		fmt.Println()
	}
}
