package models

import (
	"sort"
	"time"

	"github.com/openmod-tracker/assume/internal/coordinator"
	"github.com/openmod-tracker/assume/internal/market"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OrderAcceptedResponse struct {
	Status string `json:"status"`
}

type OpenRoundResponse struct {
	Round  int       `json:"round"`
	OpenAt time.Time `json:"open_at"`
}

// RoundResponse reports the outcome of a cleared round.
type RoundResponse struct {
	Round int                   `json:"round"`
	Tiers map[string]TierResult `json:"tiers"`
}

type TierResult struct {
	Failure  string          `json:"failure,omitempty"`
	Products []ProductResult `json:"products,omitempty"`
}

type ProductResult struct {
	ProductStart time.Time   `json:"product_start"`
	ProductEnd   time.Time   `json:"product_end"`
	OnlyHours    bool        `json:"only_hours"`
	Cleared      bool        `json:"cleared"`
	Price        float64     `json:"price"`
	Accepted     []OrderView `json:"accepted"`
	Rejected     []OrderView `json:"rejected"`
}

type OrderView struct {
	Origin         string  `json:"origin"`
	Price          float64 `json:"price"`
	Volume         float64 `json:"volume"`
	AcceptedVolume float64 `json:"accepted_volume,omitempty"`
	AcceptedPrice  float64 `json:"accepted_price,omitempty"`
}

type TierStatus struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// FromRoundReport converts a coordinator report into the API shape.
func FromRoundReport(rep *coordinator.RoundReport) RoundResponse {
	out := RoundResponse{Round: rep.Round, Tiers: make(map[string]TierResult, len(rep.Tiers))}
	ids := make([]string, 0, len(rep.Tiers))
	for id := range rep.Tiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		outcome := rep.Tiers[id]
		tr := TierResult{}
		if outcome.Err != nil {
			tr.Failure = outcome.Err.Error()
		}
		for _, res := range outcome.Results {
			tr.Products = append(tr.Products, ProductResult{
				ProductStart: res.Product.Start,
				ProductEnd:   res.Product.End,
				OnlyHours:    res.Product.OnlyHours,
				Cleared:      res.Cleared,
				Price:        res.Price,
				Accepted:     orderViews(res.Accepted),
				Rejected:     orderViews(res.Rejected),
			})
		}
		out.Tiers[id] = tr
	}
	return out
}

func orderViews(orders []market.Order) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, OrderView{
			Origin:         o.Origin,
			Price:          o.Price,
			Volume:         o.Volume,
			AcceptedVolume: o.AcceptedVolume,
			AcceptedPrice:  o.AcceptedPrice,
		})
	}
	return views
}
