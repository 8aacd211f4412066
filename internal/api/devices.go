package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traxcore/telemetry-core/internal/store"
)

// DevicesHandler exposes device lookups and accumulator administration
// (§3: total_distance/hours are monotonic except on explicit admin
// reset).
type DevicesHandler struct {
	store store.Store
}

// NewDevicesHandler builds a DevicesHandler.
func NewDevicesHandler(st store.Store) *DevicesHandler {
	return &DevicesHandler{store: st}
}

// Get godoc
// @Summary Get a device by id
// @Router /api/v1/devices/{id} [get]
func (h *DevicesHandler) Get(c *gin.Context) {
	d, err := h.store.DeviceByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithAppErrorOr(c, "failed to get device", err)
		return
	}
	c.JSON(http.StatusOK, ok(d, ""))
}

// ResetAccumulatorsRequest is the request body for an admin accumulator
// reset.
type ResetAccumulatorsRequest struct {
	TotalDistance float64 `json:"total_distance"`
	EngineHours   float64 `json:"hours"`
}

// ResetAccumulators godoc
// @Summary Reset a device's distance/engine-hours accumulators
// @Router /api/v1/devices/{id}/accumulators [put]
func (h *DevicesHandler) ResetAccumulators(c *gin.Context) {
	var req ResetAccumulatorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithBadRequest(c, "invalid request body")
		return
	}

	deviceID := c.Param("id")
	if err := h.store.UpdateAccumulators(c.Request.Context(), deviceID, req.TotalDistance, req.EngineHours); err != nil {
		AbortWithAppErrorOr(c, "failed to reset accumulators", err)
		return
	}
	c.JSON(http.StatusOK, ok(nil, "accumulators reset"))
}
