package models

import "time"

// SubmitOrderRequest places one order into a tier's current round.
type SubmitOrderRequest struct {
	Tier   string  `json:"tier" binding:"required"`
	Origin string  `json:"origin" binding:"required"`
	Price  float64 `json:"price"`
	// Volume in MW, signed: positive = supply, negative = demand.
	Volume float64 `json:"volume"`

	ProductStart time.Time `json:"product_start" binding:"required"`
	ProductEnd   time.Time `json:"product_end" binding:"required"`
	OnlyHours    bool      `json:"only_hours"`
}

// OpenRoundRequest starts a new round. OpenAt defaults to the server's now.
type OpenRoundRequest struct {
	OpenAt time.Time `json:"open_at"`
}
