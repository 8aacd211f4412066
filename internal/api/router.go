package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/traxcore/telemetry-core/internal/command"
	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/events"
	"github.com/traxcore/telemetry-core/internal/geofence"
	"github.com/traxcore/telemetry-core/internal/health"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/realtime"
	"github.com/traxcore/telemetry-core/internal/store"
)

// Dependencies bundles everything the router needs to wire its route
// groups, mirroring the teacher's setupRoutes parameter list.
type Dependencies struct {
	Config        *config.Config
	Logger        *logging.Logger
	Store         store.Store
	Access        events.AccessControl
	EventsService *events.Service
	CommandEngine *command.Engine
	GeofenceCache *geofence.Cache
	Hub           *realtime.Hub
	Health        *health.Handler
	Metrics       *health.MetricsHandler
}

// NewRouter builds the gin.Engine with every middleware and route group
// wired, following the teacher's cmd/server/main.go middleware ordering:
// compression, logging, CORS, recovery, error handling, last.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(logging.RequestLoggingMiddleware(deps.Logger))
	r.Use(logging.RecoveryLoggingMiddleware(deps.Logger))
	r.Use(RequestID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.Config.AllowedHosts,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-User-Ref", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(RecoveryHandler())
	r.Use(ErrorHandler())

	health.SetupRoutes(r, deps.Health)
	health.SetupMetricsRoutes(r, deps.Metrics)

	positions := NewPositionsHandler(deps.Store, deps.Access)
	eventsHandler := NewEventsHandler(deps.EventsService)
	commandsHandler := NewCommandsHandler(deps.CommandEngine, deps.Store)
	geofencesHandler := NewGeofencesHandler(deps.Store, deps.GeofenceCache, deps.Logger)
	devicesHandler := NewDevicesHandler(deps.Store)
	wsHandler := NewWebSocketHandler(deps.Hub, deps.Logger)

	v1 := r.Group("/api/v1")
	v1.Use(UserContext())
	{
		v1.GET("/ws", wsHandler.Handle)

		v1.GET("/events", eventsHandler.Query)

		devicesGroup := v1.Group("/devices")
		{
			devicesGroup.GET("/:id", devicesHandler.Get)
			devicesGroup.PUT("/:id/accumulators", devicesHandler.ResetAccumulators)
			devicesGroup.GET("/:id/positions/latest", positions.Latest)
			devicesGroup.GET("/:id/positions", positions.History)
			devicesGroup.POST("/:id/commands", commandsHandler.Submit)
			devicesGroup.GET("/:id/commands", commandsHandler.List)
		}

		commandsGroup := v1.Group("/commands")
		{
			commandsGroup.DELETE("/:commandId", commandsHandler.Cancel)
			commandsGroup.POST("/:commandId/retry", commandsHandler.Retry)
		}

		geofencesGroup := v1.Group("/geofences")
		{
			geofencesGroup.GET("", geofencesHandler.List)
			geofencesGroup.POST("", geofencesHandler.Create)
			geofencesGroup.GET("/:id", geofencesHandler.Get)
			geofencesGroup.PUT("/:id", geofencesHandler.Update)
			geofencesGroup.DELETE("/:id", geofencesHandler.Delete)
		}
	}

	return r
}
