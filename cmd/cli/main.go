package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/clock"
	"github.com/openmod-tracker/assume/internal/config"
	"github.com/openmod-tracker/assume/internal/logging"
	"github.com/openmod-tracker/assume/internal/market"
	"github.com/openmod-tracker/assume/internal/report"
	"github.com/openmod-tracker/assume/internal/sim"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  cli run --config examples/twostage.yaml --orders examples/orders.json --out results/rounds.csv")
	fmt.Println("  cli validate --config examples/twostage.yaml")
	fmt.Println("")
	fmt.Println("notes:")
	fmt.Println("  - run clears one round per entry in the orders file and writes a CSV ledger")
	fmt.Println("  - leftovers of dependent markets are re-bid into their parent next round")
}

// scenarioFile is the on-disk order stream: one entry per round.
type scenarioFile struct {
	Rounds []scenarioRound `json:"rounds"`
}

type scenarioRound struct {
	Orders []orderSpec `json:"orders"`
}

type orderSpec struct {
	Tier   string  `json:"tier"`
	Origin string  `json:"origin"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	// Product indexes the tier's delivery windows for the round.
	Product int `json:"product"`
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML market config")
	ordersPath := fs.String("orders", "", "Path to JSON order stream")
	outPath := fs.String("out", "results/rounds.csv", "Output CSV path")
	startStr := fs.String("start", "2019-01-01T00:00:00Z", "First round open time (RFC3339)")
	step := fs.Duration("step", 2*time.Hour, "Time between round openings")
	_ = fs.Parse(args)

	if *cfgPath == "" || *ordersPath == "" {
		fmt.Println("--config and --orders are required")
		os.Exit(2)
	}

	log, err := logging.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	scenario, err := loadScenario(*ordersPath)
	if err != nil {
		log.Fatal("orders load failed", zap.Error(err))
	}

	start, err := time.Parse(time.RFC3339, *startStr)
	if err != nil {
		log.Fatal("invalid --start", zap.Error(err))
	}

	coord, adapter, err := sim.Build(cfg, log, clock.Real{})
	if err != nil {
		log.Fatal("market setup failed", zap.Error(err))
	}

	var rows []report.LedgerRow
	for i, rnd := range scenario.Rounds {
		openAt := start.Add(time.Duration(i) * *step)
		round, err := coord.OpenRound(openAt)
		if err != nil {
			log.Fatal("round open failed", zap.Error(err))
		}

		for _, spec := range rnd.Orders {
			t, ok := coord.Tier(spec.Tier)
			if !ok {
				log.Fatal("unknown tier in orders file", zap.String("tier", spec.Tier))
			}
			windows := t.OpenProducts()
			if spec.Product < 0 || spec.Product >= len(windows) {
				log.Fatal("product index out of range",
					zap.String("tier", spec.Tier), zap.Int("product", spec.Product))
			}
			order := market.Order{
				Product: windows[spec.Product],
				Origin:  spec.Origin,
				Price:   spec.Price,
				Volume:  spec.Volume,
			}
			if err := adapter.Submit(spec.Tier, order); err != nil {
				// Invalid orders are dropped and counted; anything else is fatal.
				log.Warn("order not accepted", zap.String("origin", spec.Origin), zap.Error(err))
			}
		}

		rep, err := coord.ClearRound(context.Background())
		if err != nil {
			log.Fatal("round aborted", zap.Int("round", round), zap.Error(err))
		}
		rows = append(rows, report.FromReport(rep)...)
	}

	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		log.Fatal("cannot create output directory", zap.Error(err))
	}
	if err := report.WriteLedgerCSV(*outPath, rows); err != nil {
		log.Fatal("csv write failed", zap.Error(err))
	}
	log.Info("done",
		zap.Int("rounds", len(scenario.Rounds)),
		zap.Int("ledger_rows", len(rows)),
		zap.Int("invalid_orders", adapter.InvalidCount()),
		zap.String("out", *outPath))
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML market config")
	_ = fs.Parse(args)

	if *cfgPath == "" {
		fmt.Println("--config is required")
		os.Exit(2)
	}
	if _, err := config.Load(*cfgPath); err != nil {
		fmt.Println("invalid:", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func loadScenario(path string) (*scenarioFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s scenarioFile
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if len(s.Rounds) == 0 {
		return nil, fmt.Errorf("orders file has no rounds")
	}
	return &s, nil
}
