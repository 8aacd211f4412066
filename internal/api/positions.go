package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/traxcore/telemetry-core/internal/events"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/apperrors"
)

// PositionsHandler serves the latest-position and position-history reads
// (§4.3, §6), scoped to the devices visible to the calling user.
type PositionsHandler struct {
	store  store.Store
	access events.AccessControl
}

// NewPositionsHandler builds a PositionsHandler.
func NewPositionsHandler(st store.Store, access events.AccessControl) *PositionsHandler {
	return &PositionsHandler{store: st, access: access}
}

func (h *PositionsHandler) authorizeDevice(c *gin.Context, deviceID string) bool {
	visible, err := h.access.DevicesVisibleTo(c.Request.Context(), UserRef(c))
	if err != nil {
		AbortWithInternal(c, "failed to resolve visible devices", err)
		return false
	}
	for _, ref := range visible {
		if ref == deviceID {
			return true
		}
	}
	AbortWithError(c, apperrors.NewForbiddenError("device is outside your fleet"))
	return false
}

// Latest godoc
// @Summary Get a device's latest position
// @Router /api/v1/devices/{id}/positions/latest [get]
func (h *PositionsHandler) Latest(c *gin.Context) {
	deviceID := c.Param("id")
	if !h.authorizeDevice(c, deviceID) {
		return
	}

	pos, err := h.store.LatestPositionForDevice(c.Request.Context(), deviceID)
	if err != nil {
		AbortWithAppErrorOr(c, "failed to load latest position", err)
		return
	}
	if pos == nil {
		AbortWithNotFound(c, "position")
		return
	}
	c.JSON(http.StatusOK, ok(pos, ""))
}

// History godoc
// @Summary Get a device's position history over a time window
// @Router /api/v1/devices/{id}/positions [get]
func (h *PositionsHandler) History(c *gin.Context) {
	deviceID := c.Param("id")
	if !h.authorizeDevice(c, deviceID) {
		return
	}

	from, to, err := parseTimeWindow(c)
	if err != nil {
		AbortWithValidation(c, err.Error())
		return
	}

	positions, err := h.store.PositionHistory(c.Request.Context(), deviceID, from, to)
	if err != nil {
		AbortWithAppErrorOr(c, "failed to query position history", err)
		return
	}
	c.JSON(http.StatusOK, list(positions, len(positions)))
}

func parseTimeWindow(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}
