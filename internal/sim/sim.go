// Package sim wires a configured market hierarchy into a runnable
// coordinator. Shared by the API server, the CLI and the demo.
package sim

import (
	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/clearing"
	"github.com/openmod-tracker/assume/internal/clock"
	"github.com/openmod-tracker/assume/internal/config"
	"github.com/openmod-tracker/assume/internal/coordinator"
	"github.com/openmod-tracker/assume/internal/participant"
	"github.com/openmod-tracker/assume/internal/tier"
)

// Build constructs tiers, coordinator and participant adapter from a
// validated config.
func Build(cfg *config.Config, log *zap.Logger, clk clock.Clock) (*coordinator.Coordinator, *participant.Adapter, error) {
	adapter := participant.NewAdapter(log)
	coord := coordinator.New(log, clk, adapter)
	for _, m := range cfg.Markets {
		t := tier.New(m.TierParams(), clearing.New(m.Epsilon()), log)
		if err := coord.Register(t, m.Epsilon()); err != nil {
			return nil, nil, err
		}
		adapter.Attach(t)
	}
	return coord, adapter, nil
}
