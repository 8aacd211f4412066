package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP handlers for health checks.
type Handler struct {
	checker *HealthChecker
}

// NewHandler creates a new health check handler.
func NewHandler(checker *HealthChecker) *Handler {
	return &Handler{checker: checker}
}

// HandleHealth handles a basic health check (liveness probe).
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.Check())
}

// HandleLiveness handles the Kubernetes liveness probe.
func (h *Handler) HandleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.CheckLiveness())
}

// HandleReadiness handles the Kubernetes readiness probe, reflecting
// dependency health in the response status code.
func (h *Handler) HandleReadiness(c *gin.Context) {
	response := h.checker.CheckReadiness(c.Request.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// HandleDetailed handles the detailed ops/debugging health check.
func (h *Handler) HandleDetailed(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.CheckReadiness(c.Request.Context()))
}

// SetupRoutes registers every health endpoint on r.
func SetupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/health", handler.HandleHealth)
	r.GET("/health/live", handler.HandleLiveness)
	r.GET("/health/ready", handler.HandleReadiness)
	r.GET("/health/detailed", handler.HandleDetailed)
}
