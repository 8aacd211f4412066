// Package main wires the telemetry core's collaborators together and
// runs the HTTP API alongside the protocol listeners, following the
// teacher's cmd/server/main.go shape: load env/config, connect
// dependencies, build services bottom-up, start everything, then wait
// on SIGINT/SIGTERM for a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/traxcore/telemetry-core/internal/api"
	"github.com/traxcore/telemetry-core/internal/command"
	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/events"
	"github.com/traxcore/telemetry-core/internal/geofence"
	"github.com/traxcore/telemetry-core/internal/health"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/pipeline"
	"github.com/traxcore/telemetry-core/internal/protocol"
	"github.com/traxcore/telemetry-core/internal/realtime"
	"github.com/traxcore/telemetry-core/internal/session"
	"github.com/traxcore/telemetry-core/internal/store"
)

// positionSerializerPoolSize bounds the number of per-device ordering
// lanes the pipeline runs concurrently (§9), matching the teacher's own
// modest default worker concurrency (internal/common/jobs.
// DefaultManagerConfig's WorkerConcurrency: 5, scaled up since this pool
// serializes network-bound work rather than job execution).
const positionSerializerPoolSize = 16

// allowAllAccess is a placeholder for the external UserAccess
// collaborator (§1 EXPANSION: "External collaborator interfaces").
// SPEC_FULL.md treats fleet/tenant scoping as owned by an
// already-authenticated system fronting this service; until that
// system is wired, every caller sees every device.
type allowAllAccess struct {
	store store.Store
}

func (a *allowAllAccess) DevicesVisibleTo(ctx context.Context, _ string) ([]string, error) {
	devices, err := a.store.ListDeviceIDs(ctx)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, using system environment variables")
	}

	cfg := config.Load()

	loggerConfig := &logging.LoggerConfig{
		Level:      logging.LogLevel(cfg.LogLevel),
		Format:     "json",
		Output:     os.Stdout,
		AddSource:  true,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	logger := logging.NewLogger(loggerConfig)
	logging.InitDefaultLogger(loggerConfig)

	logger.Info("starting telemetry core", "environment", cfg.Environment)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		log.Fatalf("database connect: %v", err)
	}
	db.Logger = logging.NewSlowQueryLogger(logger, 100*time.Millisecond)
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("database handle: %v", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	defer sqlDB.Close()
	logger.Info("database connected")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		log.Fatalf("redis connect: %v", err)
	}
	defer redisClient.Close()
	logger.Info("redis connected")

	st := store.NewGormStore(db)

	geofenceCache := geofence.NewCache()
	activeGeofences, err := st.ActiveGeofences(context.Background())
	if err != nil {
		logger.Error("failed to load initial geofences", "error", err)
		log.Fatalf("initial geofence load: %v", err)
	}
	geofenceCache.Reload(activeGeofences)
	logger.Info("geofence cache loaded", "count", len(activeGeofences))

	hub := realtime.NewHub(cfg, logger)
	defer hub.Stop()

	processor := pipeline.NewProcessor(cfg, logger, st, geofenceCache, hub, positionSerializerPoolSize)
	defer processor.Stop()

	sessions := session.NewRegistry(processor.HandleOffline)
	go sweepIdleSessions(sessions, cfg.SessionIdleTimeout)

	commandEngine := command.NewEngine(cfg, logger, st, sessions, nil)
	processor.SetCommandAcker(commandEngine)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	commandEngine.Start(rootCtx)
	defer commandEngine.Stop()

	protocolManager := protocol.NewManager(cfg, logger, sessions, processor)
	httpProtocolMux := http.NewServeMux()
	if err := protocolManager.Start(rootCtx, httpProtocolMux); err != nil {
		logger.Error("failed to start protocol listeners", "error", err)
		log.Fatalf("protocol manager start: %v", err)
	}
	defer protocolManager.Stop()
	logger.Info("protocol listeners started", "protocols", protocolManager.Listening())

	var httpProtocolServer *http.Server
	if pc, ok := cfg.Protocols["osmand"]; ok && pc.Enabled {
		httpProtocolServer = &http.Server{Addr: fmt.Sprintf(":%d", pc.Port), Handler: httpProtocolMux}
		go func() {
			if err := httpProtocolServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("osmand http listener failed", "error", err)
			}
		}()
		logger.Info("osmand http listener started", "port", pc.Port)
	}

	access := &allowAllAccess{store: st}
	eventsService := events.NewService(st, access)

	healthChecker := health.NewHealthChecker(db, redisClient, sessions, "telemetry-core", "1.0.0")
	healthHandler := health.NewHandler(healthChecker)
	metricsHandler := health.NewMetricsHandler(healthChecker)

	router := api.NewRouter(api.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Store:         st,
		Access:        access,
		EventsService: eventsService,
		CommandEngine: commandEngine,
		GeofenceCache: geofenceCache,
		Hub:           hub,
		Health:        healthHandler,
		Metrics:       metricsHandler,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("api server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server forced to shutdown", "error", err)
	}
	if httpProtocolServer != nil {
		if err := httpProtocolServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("osmand http listener forced to shutdown", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// sweepIdleSessions periodically drops sessions that have gone quiet
// past the configured idle timeout (§4.2), since Registry itself runs no
// internal timer.
func sweepIdleSessions(sessions *session.Registry, timeout time.Duration) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for range ticker.C {
		sessions.SweepIdle(time.Now(), timeout)
	}
}
