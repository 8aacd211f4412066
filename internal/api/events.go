package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/traxcore/telemetry-core/internal/events"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// EventsHandler exposes the recipient-filtered event query surface
// (§4.4) over events.Service.
type EventsHandler struct {
	service *events.Service
}

// NewEventsHandler builds an EventsHandler.
func NewEventsHandler(service *events.Service) *EventsHandler {
	return &EventsHandler{service: service}
}

// Query godoc
// @Summary Query events visible to the caller
// @Router /api/v1/events [get]
func (h *EventsHandler) Query(c *gin.Context) {
	filter := store.EventFilter{DeviceRef: c.Query("device_id")}

	if types := c.Query("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, models.EventType(strings.TrimSpace(t)))
		}
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			AbortWithValidation(c, "invalid from timestamp")
			return
		}
		filter.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			AbortWithValidation(c, "invalid to timestamp")
			return
		}
		filter.To = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			AbortWithValidation(c, "invalid limit")
			return
		}
		filter.Limit = n
	}

	evts, err := h.service.Query(c.Request.Context(), UserRef(c), filter)
	if err != nil {
		AbortWithAppErrorOr(c, "failed to query events", err)
		return
	}
	c.JSON(http.StatusOK, list(evts, len(evts)))
}
