package health

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// MetricsHandler provides Prometheus-compatible metrics.
type MetricsHandler struct {
	checker *HealthChecker
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(checker *HealthChecker) *MetricsHandler {
	return &MetricsHandler{checker: checker}
}

// HandleMetrics handles the Prometheus text-exposition metrics endpoint.
func (mh *MetricsHandler) HandleMetrics(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	liveSessions := 0
	if mh.checker.sessions != nil {
		liveSessions = mh.checker.sessions.Count()
	}

	metrics := fmt.Sprintf(`# HELP telemetry_core_up Service up status (1 = up, 0 = down)
# TYPE telemetry_core_up gauge
telemetry_core_up 1

# HELP telemetry_core_uptime_seconds Service uptime in seconds
# TYPE telemetry_core_uptime_seconds counter
telemetry_core_uptime_seconds %f

# HELP telemetry_core_live_sessions Currently connected device sessions
# TYPE telemetry_core_live_sessions gauge
telemetry_core_live_sessions %d

# HELP telemetry_core_memory_usage_bytes Memory usage in bytes
# TYPE telemetry_core_memory_usage_bytes gauge
telemetry_core_memory_usage_bytes %d

# HELP telemetry_core_memory_alloc_bytes Allocated memory in bytes
# TYPE telemetry_core_memory_alloc_bytes gauge
telemetry_core_memory_alloc_bytes %d

# HELP telemetry_core_goroutines Current number of goroutines
# TYPE telemetry_core_goroutines gauge
telemetry_core_goroutines %d

# HELP telemetry_core_cpu_count Number of CPUs
# TYPE telemetry_core_cpu_count gauge
telemetry_core_cpu_count %d

# HELP telemetry_core_gc_pause_seconds Total GC pause duration in seconds
# TYPE telemetry_core_gc_pause_seconds gauge
telemetry_core_gc_pause_seconds %f

# HELP telemetry_core_heap_objects Number of allocated heap objects
# TYPE telemetry_core_heap_objects gauge
telemetry_core_heap_objects %d
`,
		mh.checker.GetUptime().Seconds(),
		liveSessions,
		m.Sys,
		m.Alloc,
		runtime.NumGoroutine(),
		runtime.NumCPU(),
		float64(m.PauseTotalNs)/1e9,
		m.HeapObjects,
	)

	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(metrics))
}

// MetricsResponse represents metrics in JSON format.
type MetricsResponse struct {
	Timestamp    time.Time     `json:"timestamp"`
	Service      string        `json:"service"`
	Version      string        `json:"version"`
	Uptime       string        `json:"uptime"`
	Memory       MemoryMetrics `json:"memory"`
	Goroutines   int           `json:"goroutines"`
	CPUCount     int           `json:"cpu_count"`
	LiveSessions int           `json:"live_sessions"`
}

// MemoryMetrics represents memory metrics.
type MemoryMetrics struct {
	AllocMB      uint64 `json:"alloc_mb"`
	TotalAllocMB uint64 `json:"total_alloc_mb"`
	SysMB        uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
}

// HandleMetricsJSON handles metrics rendered as JSON for dashboards.
func (mh *MetricsHandler) HandleMetricsJSON(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	liveSessions := 0
	if mh.checker.sessions != nil {
		liveSessions = mh.checker.sessions.Count()
	}

	c.JSON(http.StatusOK, MetricsResponse{
		Timestamp: time.Now().UTC(),
		Service:   mh.checker.serviceName,
		Version:   mh.checker.version,
		Uptime:    mh.checker.getUptime(),
		Memory: MemoryMetrics{
			AllocMB:      m.Alloc / 1024 / 1024,
			TotalAllocMB: m.TotalAlloc / 1024 / 1024,
			SysMB:        m.Sys / 1024 / 1024,
			NumGC:        m.NumGC,
		},
		Goroutines:   runtime.NumGoroutine(),
		CPUCount:     runtime.NumCPU(),
		LiveSessions: liveSessions,
	})
}

// SetupMetricsRoutes registers the metrics endpoints on r.
func SetupMetricsRoutes(r *gin.Engine, handler *MetricsHandler) {
	r.GET("/metrics", handler.HandleMetrics)
	r.GET("/metrics/json", handler.HandleMetricsJSON)
}
