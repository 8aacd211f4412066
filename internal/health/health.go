// Package health implements liveness/readiness probes and Prometheus
// metrics, adapted from the teacher's internal/common/health package:
// same HealthResponse/Dependency/SystemMetrics shape and database/Redis
// ping checks, with the fleet-management dependency checks swapped for
// this domain's own live session count.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Status represents health check status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// SessionCounter reports the number of live device sessions; satisfied
// by *internal/session.Registry without this package importing it
// directly, keeping the dependency direction shallow.
type SessionCounter interface {
	Count() int
}

// HealthChecker provides health check functionality.
type HealthChecker struct {
	db          *gorm.DB
	redis       *redis.Client
	sessions    SessionCounter
	startTime   time.Time
	version     string
	serviceName string
	mu          sync.RWMutex
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(db *gorm.DB, redisClient *redis.Client, sessions SessionCounter, serviceName, version string) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redis:       redisClient,
		sessions:    sessions,
		startTime:   time.Now(),
		version:     version,
		serviceName: serviceName,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       Status                 `json:"status"`
	Timestamp    time.Time              `json:"timestamp"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	Dependencies map[string]Dependency  `json:"dependencies,omitempty"`
	System       *SystemMetrics         `json:"system,omitempty"`
	Errors       []string               `json:"errors,omitempty"`
}

// Dependency represents a dependency health check.
type Dependency struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SystemMetrics represents system health metrics.
type SystemMetrics struct {
	MemoryUsageMB  uint64 `json:"memory_usage_mb"`
	MemoryAllocMB  uint64 `json:"memory_alloc_mb"`
	GoroutineCount int    `json:"goroutine_count"`
	CPUCount       int    `json:"cpu_count"`
	LiveSessions   int    `json:"live_sessions"`
}

// Check performs a basic health check (liveness probe).
func (hc *HealthChecker) Check() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Service:   hc.serviceName,
		Version:   hc.version,
		Uptime:    hc.getUptime(),
	}
}

// CheckReadiness performs a comprehensive readiness check against every
// configured dependency.
func (hc *HealthChecker) CheckReadiness(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	response := HealthResponse{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Service:      hc.serviceName,
		Version:      hc.version,
		Uptime:       hc.getUptime(),
		Dependencies: make(map[string]Dependency),
		System:       hc.getSystemMetrics(),
		Errors:       []string{},
	}

	if hc.db != nil {
		dbDep := hc.checkDatabase(ctx)
		response.Dependencies["database"] = dbDep
		if dbDep.Status != StatusHealthy {
			response.Status = StatusUnhealthy
			response.Errors = append(response.Errors, fmt.Sprintf("database: %s", dbDep.Error))
		}
	} else {
		response.Dependencies["database"] = Dependency{Status: StatusUnhealthy, Error: "database not configured"}
		response.Status = StatusUnhealthy
		response.Errors = append(response.Errors, "database: not configured")
	}

	// Redis backs the geofence-cache reload signal and cross-instance
	// session/command coordination, not the ingestion critical path, so
	// its failure degrades rather than fails the check.
	if hc.redis != nil {
		redisDep := hc.checkRedis(ctx)
		response.Dependencies["redis"] = redisDep
		if redisDep.Status != StatusHealthy && response.Status == StatusHealthy {
			response.Status = StatusDegraded
			response.Errors = append(response.Errors, fmt.Sprintf("redis: %s", redisDep.Error))
		}
	} else {
		response.Dependencies["redis"] = Dependency{Status: StatusUnhealthy, Error: "redis not configured"}
		if response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
		response.Errors = append(response.Errors, "redis: not configured")
	}

	return response
}

// CheckLiveness performs a liveness check (Kubernetes liveness probe).
func (hc *HealthChecker) CheckLiveness() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Service:   hc.serviceName,
		Version:   hc.version,
	}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) Dependency {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	sqlDB, err := hc.db.DB()
	if err != nil {
		return Dependency{Status: StatusUnhealthy, LatencyMs: time.Since(start).Milliseconds(), Error: fmt.Sprintf("failed to get database: %v", err)}
	}
	if err := sqlDB.PingContext(checkCtx); err != nil {
		return Dependency{Status: StatusUnhealthy, LatencyMs: time.Since(start).Milliseconds(), Error: fmt.Sprintf("database ping failed: %v", err)}
	}

	latency := time.Since(start).Milliseconds()
	status, message := StatusHealthy, "connected"
	if latency > 1000 {
		status, message = StatusDegraded, "slow response"
	}
	return Dependency{Status: status, LatencyMs: latency, Message: message}
}

func (hc *HealthChecker) checkRedis(ctx context.Context) Dependency {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := hc.redis.Ping(checkCtx).Err(); err != nil {
		return Dependency{Status: StatusUnhealthy, LatencyMs: time.Since(start).Milliseconds(), Error: fmt.Sprintf("redis ping failed: %v", err)}
	}

	latency := time.Since(start).Milliseconds()
	status, message := StatusHealthy, "connected"
	if latency > 500 {
		status, message = StatusDegraded, "slow response"
	}
	return Dependency{Status: status, LatencyMs: latency, Message: message}
}

func (hc *HealthChecker) getSystemMetrics() *SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	liveSessions := 0
	if hc.sessions != nil {
		liveSessions = hc.sessions.Count()
	}

	return &SystemMetrics{
		MemoryUsageMB:  m.Sys / 1024 / 1024,
		MemoryAllocMB:  m.Alloc / 1024 / 1024,
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		LiveSessions:   liveSessions,
	}
}

func (hc *HealthChecker) getUptime() string {
	duration := time.Since(hc.startTime)
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// GetUptime returns the service uptime duration.
func (hc *HealthChecker) GetUptime() time.Duration {
	return time.Since(hc.startTime)
}

// GetStartTime returns the service start time.
func (hc *HealthChecker) GetStartTime() time.Time {
	return hc.startTime
}
