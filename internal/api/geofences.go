package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/traxcore/telemetry-core/internal/geofence"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// GeofencesHandler is the CRUD surface over geofence definitions (§4.6),
// reloading the in-memory spatial cache after every mutation so new
// positions are evaluated against the latest boundaries immediately.
type GeofencesHandler struct {
	store     store.Store
	cache     *geofence.Cache
	log       *logging.Logger
	validator *validator.Validate
}

// NewGeofencesHandler builds a GeofencesHandler.
func NewGeofencesHandler(st store.Store, cache *geofence.Cache, log *logging.Logger) *GeofencesHandler {
	return &GeofencesHandler{store: st, cache: cache, log: log, validator: validator.New()}
}

// List godoc
// @Summary List all geofences
// @Router /api/v1/geofences [get]
func (h *GeofencesHandler) List(c *gin.Context) {
	geofences, err := h.store.ListGeofences(c.Request.Context())
	if err != nil {
		AbortWithAppErrorOr(c, "failed to list geofences", err)
		return
	}
	c.JSON(http.StatusOK, list(geofences, len(geofences)))
}

// Get godoc
// @Summary Get a geofence by id
// @Router /api/v1/geofences/{id} [get]
func (h *GeofencesHandler) Get(c *gin.Context) {
	g, err := h.store.GeofenceByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithAppErrorOr(c, "failed to get geofence", err)
		return
	}
	if g == nil {
		AbortWithNotFound(c, "geofence")
		return
	}
	c.JSON(http.StatusOK, ok(g, ""))
}

// GeofenceRequest is the request body for creating or updating a
// geofence.
type GeofenceRequest struct {
	Name        string               `json:"name" binding:"required"`
	Type        models.GeometryType  `json:"type" binding:"required"`
	Geometry    models.Geometry      `json:"geometry" binding:"required"`
	Disabled    bool                 `json:"disabled"`
	CalendarRef *string              `json:"calendar_ref,omitempty"`
}

// Create godoc
// @Summary Create a geofence
// @Router /api/v1/geofences [post]
func (h *GeofencesHandler) Create(c *gin.Context) {
	var req GeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithBadRequest(c, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		AbortWithValidation(c, err.Error())
		return
	}

	g := &models.Geofence{
		Name:        req.Name,
		Type:        req.Type,
		Geometry:    req.Geometry,
		Disabled:    req.Disabled,
		CalendarRef: req.CalendarRef,
	}
	if err := h.store.UpsertGeofence(c.Request.Context(), g); err != nil {
		AbortWithAppErrorOr(c, "failed to create geofence", err)
		return
	}
	h.reload(c)
	c.JSON(http.StatusCreated, ok(g, "geofence created"))
}

// Update godoc
// @Summary Update a geofence
// @Router /api/v1/geofences/{id} [put]
func (h *GeofencesHandler) Update(c *gin.Context) {
	id := c.Param("id")
	existing, err := h.store.GeofenceByID(c.Request.Context(), id)
	if err != nil {
		AbortWithAppErrorOr(c, "failed to load geofence", err)
		return
	}
	if existing == nil {
		AbortWithNotFound(c, "geofence")
		return
	}

	var req GeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithBadRequest(c, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		AbortWithValidation(c, err.Error())
		return
	}

	existing.Name = req.Name
	existing.Type = req.Type
	existing.Geometry = req.Geometry
	existing.Disabled = req.Disabled
	existing.CalendarRef = req.CalendarRef

	if err := h.store.UpsertGeofence(c.Request.Context(), existing); err != nil {
		AbortWithAppErrorOr(c, "failed to update geofence", err)
		return
	}
	h.reload(c)
	c.JSON(http.StatusOK, ok(existing, "geofence updated"))
}

// Delete godoc
// @Summary Delete a geofence
// @Router /api/v1/geofences/{id} [delete]
func (h *GeofencesHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteGeofence(c.Request.Context(), id); err != nil {
		AbortWithAppErrorOr(c, "failed to delete geofence", err)
		return
	}
	h.reload(c)
	c.JSON(http.StatusOK, ok(nil, "geofence deleted"))
}

func (h *GeofencesHandler) reload(c *gin.Context) {
	active, err := h.store.ActiveGeofences(c.Request.Context())
	if err != nil {
		h.log.LogError(err, "failed to reload geofence cache after mutation", nil)
		return
	}
	h.cache.Reload(active)
}
