// Package report turns round results into a flat ledger for CSV output. It
// is driver glue around the core, not part of the clearing protocol.
package report

import (
	"encoding/csv"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/openmod-tracker/assume/internal/coordinator"
)

// LedgerRow is one (round, tier, product) line of output.
type LedgerRow struct {
	Round int
	Tier  string

	ProductStart time.Time
	ProductEnd   time.Time
	OnlyHours    bool

	Cleared bool
	Price   float64

	// Total accepted volume per side, MW.
	SupplyMW float64
	DemandMW float64

	AcceptedOrders int
	RejectedOrders int

	Failure string // e.g. the upstream timeout message, empty otherwise
}

// FromReport flattens a round report into ledger rows, tiers in id order.
func FromReport(rep *coordinator.RoundReport) []LedgerRow {
	ids := make([]string, 0, len(rep.Tiers))
	for id := range rep.Tiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []LedgerRow
	for _, id := range ids {
		outcome := rep.Tiers[id]
		if outcome.Err != nil {
			rows = append(rows, LedgerRow{Round: rep.Round, Tier: id, Failure: outcome.Err.Error()})
			continue
		}
		for _, res := range outcome.Results {
			row := LedgerRow{
				Round:          rep.Round,
				Tier:           id,
				ProductStart:   res.Product.Start,
				ProductEnd:     res.Product.End,
				OnlyHours:      res.Product.OnlyHours,
				Cleared:        res.Cleared,
				Price:          res.Price,
				AcceptedOrders: len(res.Accepted),
				RejectedOrders: len(res.Rejected),
			}
			for _, o := range res.Accepted {
				if o.AcceptedVolume > 0 {
					row.SupplyMW += o.AcceptedVolume
				} else {
					row.DemandMW += -o.AcceptedVolume
				}
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func WriteLedgerCSV(path string, rows []LedgerRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"round",
		"tier",
		"product_start",
		"product_end",
		"only_hours",
		"cleared",
		"price",
		"supply_mw",
		"demand_mw",
		"accepted_orders",
		"rejected_orders",
		"failure",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		row := []string{
			strconv.Itoa(r.Round),
			r.Tier,
			fmtTime(r.ProductStart),
			fmtTime(r.ProductEnd),
			strconv.FormatBool(r.OnlyHours),
			strconv.FormatBool(r.Cleared),
			fmtFloat(r.Price),
			fmtFloat(r.SupplyMW),
			fmtFloat(r.DemandMW),
			strconv.Itoa(r.AcceptedOrders),
			strconv.Itoa(r.RejectedOrders),
			r.Failure,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return w.Error()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
