package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmod-tracker/assume/internal/api/models"
	"github.com/openmod-tracker/assume/internal/coordinator"
)

// RoundsHandler drives the round lifecycle over HTTP.
type RoundsHandler struct {
	coord *coordinator.Coordinator
}

func NewRoundsHandler(coord *coordinator.Coordinator) *RoundsHandler {
	return &RoundsHandler{coord: coord}
}

// Open handles POST /api/v1/rounds/open
func (h *RoundsHandler) Open(c *gin.Context) {
	var req models.OpenRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}
	openAt := req.OpenAt
	if openAt.IsZero() {
		openAt = time.Now().UTC()
	}
	round, err := h.coord.OpenRound(openAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "ROUND_ERROR", Message: err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, models.OpenRoundResponse{Round: round, OpenAt: openAt})
}

// Clear handles POST /api/v1/rounds/clear
func (h *RoundsHandler) Clear(c *gin.Context) {
	rep, err := h.coord.ClearRound(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "ROUND_ERROR", Message: err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, models.FromRoundReport(rep))
}

// Tiers handles GET /api/v1/tiers
func (h *RoundsHandler) Tiers(c *gin.Context) {
	ids := h.coord.TierIDs()
	sort.Strings(ids)
	out := make([]models.TierStatus, 0, len(ids))
	for _, id := range ids {
		t, ok := h.coord.Tier(id)
		if !ok {
			continue
		}
		out = append(out, models.TierStatus{ID: id, State: t.State().String()})
	}
	c.JSON(http.StatusOK, out)
}
