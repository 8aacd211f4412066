// Package config loads runtime configuration from the environment,
// following the same godotenv + getEnv convention as the rest of the
// stack.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ProtocolConfig is the listener configuration for one ingestion protocol
// (§1, §5).
type ProtocolConfig struct {
	Enabled bool
	Port    int
}

// Config holds every environment-tunable setting for the server (§9).
type Config struct {
	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string
	SecretKey   string

	HTTPAddr     string
	AllowedHosts []string

	Protocols map[string]ProtocolConfig

	PositionBatchSize    int
	WebSocketHeartbeat   time.Duration
	DefaultGeofenceBuffer float64 // meters, used for LineString corridors lacking an explicit buffer

	// Pipeline tunables (§4.3), grounded in original_source defaults.
	TripGapDuration     time.Duration
	MotionThresholdM    float64
	MotionTimeout       time.Duration
	DefaultSpeedLimit   float64 // km/h
	OverspeedThreshold  float64 // km/h
	MinSpeedForDetect   float64 // km/h
	ClockSkewBound      time.Duration

	// Listener / framer tunables (§5, §7).
	FrameReadTimeout    time.Duration
	MaxFrameBytes       int
	MaxFrameErrors      int
	DBOperationTimeout  time.Duration
	ShutdownGracePeriod time.Duration

	// Live fan-out hub tunables (§4.5).
	SubscriberQueueSize int

	// Command engine tunables (§4.7).
	CommandNoSessionBackoff time.Duration
	CommandAckTimeout       time.Duration
	CommandMaxRetries       int
	CommandRetryBase        time.Duration
	CommandRetryFactor      float64
	CommandRetryCap         time.Duration

	// Session registry tunables (§4.2).
	SessionIdleTimeout time.Duration
}

// Load reads configuration from the process environment, applying the
// defaults used throughout the rest of the system.
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/telemetry?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SecretKey:   getEnv("SECRET_KEY", "change-me-in-production"),

		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		AllowedHosts: getEnvList("ALLOWED_HOSTS", []string{"*"}),

		Protocols: map[string]ProtocolConfig{
			"suntech": {Enabled: getEnvBool("SUNTECH_ENABLED", true), Port: getEnvInt("SUNTECH_PORT", 5001)},
			"gt06":    {Enabled: getEnvBool("GT06_ENABLED", true), Port: getEnvInt("GT06_PORT", 5002)},
			"h02":     {Enabled: getEnvBool("H02_ENABLED", true), Port: getEnvInt("H02_PORT", 5003)},
			"osmand":  {Enabled: getEnvBool("OSMAND_ENABLED", true), Port: getEnvInt("OSMAND_PORT", 5055)},
		},

		PositionBatchSize:     getEnvInt("POSITION_BATCH_SIZE", 50),
		WebSocketHeartbeat:    getEnvDuration("WEBSOCKET_HEARTBEAT", 30*time.Second),
		DefaultGeofenceBuffer: getEnvFloat("DEFAULT_GEOFENCE_BUFFER_M", 50),

		TripGapDuration:    getEnvDuration("TRIP_GAP_DURATION", 30*time.Minute),
		MotionThresholdM:   getEnvFloat("MOTION_THRESHOLD_M", 50),
		MotionTimeout:      getEnvDuration("MOTION_TIMEOUT", 300*time.Second),
		DefaultSpeedLimit:  getEnvFloat("DEFAULT_SPEED_LIMIT_KMH", 80),
		OverspeedThreshold: getEnvFloat("OVERSPEED_THRESHOLD_KMH", 5),
		MinSpeedForDetect:  getEnvFloat("MIN_SPEED_FOR_DETECT_KMH", 10),
		ClockSkewBound:     getEnvDuration("CLOCK_SKEW_BOUND", 5*time.Minute),

		FrameReadTimeout:    getEnvDuration("FRAME_READ_TIMEOUT", 180*time.Second),
		MaxFrameBytes:       getEnvInt("MAX_FRAME_BYTES", 8192),
		MaxFrameErrors:      getEnvInt("MAX_FRAME_ERRORS", 10),
		DBOperationTimeout:  getEnvDuration("DB_OPERATION_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 30*time.Second),

		SubscriberQueueSize: getEnvInt("SUBSCRIBER_QUEUE_SIZE", 256),

		CommandNoSessionBackoff: getEnvDuration("COMMAND_NO_SESSION_BACKOFF", 15*time.Second),
		CommandAckTimeout:       getEnvDuration("COMMAND_ACK_TIMEOUT", 60*time.Second),
		CommandMaxRetries:       getEnvInt("COMMAND_MAX_RETRIES", 3),
		CommandRetryBase:        getEnvDuration("COMMAND_RETRY_BASE", 30*time.Second),
		CommandRetryFactor:      getEnvFloat("COMMAND_RETRY_FACTOR", 2),
		CommandRetryCap:         getEnvDuration("COMMAND_RETRY_CAP", 10*time.Minute),

		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
