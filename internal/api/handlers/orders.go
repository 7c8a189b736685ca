package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmod-tracker/assume/internal/api/models"
	"github.com/openmod-tracker/assume/internal/market"
	"github.com/openmod-tracker/assume/internal/participant"
)

// OrdersHandler accepts order submissions for the current round.
type OrdersHandler struct {
	adapter *participant.Adapter
}

func NewOrdersHandler(adapter *participant.Adapter) *OrdersHandler {
	return &OrdersHandler{adapter: adapter}
}

// Submit handles POST /api/v1/orders
func (h *OrdersHandler) Submit(c *gin.Context) {
	var req models.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	order := market.Order{
		Product: market.ProductKey{
			Start:     req.ProductStart,
			End:       req.ProductEnd,
			OnlyHours: req.OnlyHours,
		},
		Origin: req.Origin,
		Price:  req.Price,
		Volume: req.Volume,
	}

	err := h.adapter.Submit(req.Tier, order)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, models.OrderAcceptedResponse{Status: "accepted"})
	case errors.Is(err, market.ErrUnknownTier):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "UNKNOWN_TIER", Message: err.Error()},
		})
	case errors.Is(err, market.ErrTierNotAcceptingOrders):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "TIER_NOT_ACCEPTING_ORDERS", Message: err.Error()},
		})
	default:
		var invalid *market.InvalidOrderError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: models.ErrorDetail{Code: "INVALID_ORDER", Message: invalid.Error()},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "SUBMIT_ERROR", Message: err.Error()},
		})
	}
}
