// Package logging wraps log/slog with the domain-specific helpers the
// ingestion pipeline, command engine, and API layer all share.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel represents logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level      LogLevel
	Format     string // "json" or "text"
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultLoggerConfig returns default logger configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      LevelInfo,
		Format:     "json",
		Output:     os.Stdout,
		AddSource:  true,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger with domain-specific helpers.
type Logger struct {
	*slog.Logger
	config *LoggerConfig
}

// NewLogger creates a new structured logger.
func NewLogger(config *LoggerConfig) *Logger {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	var level slog.Level
	switch config.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelInfo:
		level = slog.LevelInfo
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// WithContext returns a logger enriched with request/session identifiers
// carried on ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger.With(contextFields(ctx)...),
		config: l.config,
	}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithField returns a logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		config: l.config,
	}
}

// LogHTTPRequest logs an HTTP request/response pair.
func (l *Logger) LogHTTPRequest(method, path string, statusCode int, duration time.Duration, fields map[string]interface{}) {
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", statusCode),
		slog.Duration("duration", duration),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "http request", attrs...)
}

// LogError logs an error with contextual fields.
func (l *Logger) LogError(err error, message string, fields map[string]interface{}) {
	args := []interface{}{"error", err}
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.Error(message, args...)
}

// LogSlowQuery logs slow database queries.
func (l *Logger) LogSlowQuery(query string, duration time.Duration, fields map[string]interface{}) {
	args := []interface{}{
		"query", query,
		"duration", duration,
		"slow_query", true,
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.Warn("slow query detected", args...)
}

// LogProtocolFrame logs one decoded inbound frame (§4.1).
func (l *Logger) LogProtocolFrame(protocol, remoteAddr string, uniqueID string, byteLen int) {
	l.Debug("protocol frame decoded",
		"protocol", protocol,
		"remote_addr", remoteAddr,
		"unique_id", uniqueID,
		"bytes", byteLen,
	)
}

// LogPipelineStep logs one position processor stage outcome (§4.3).
func (l *Logger) LogPipelineStep(step, deviceID string, positionID string, err error) {
	args := []interface{}{"step", step, "device_id", deviceID, "position_id", positionID}
	if err != nil {
		args = append(args, "error", err)
		l.Warn("pipeline step failed", args...)
		return
	}
	l.Debug("pipeline step", args...)
}

// LogCommandDelivery logs a command lifecycle transition (§4.7).
func (l *Logger) LogCommandDelivery(commandID, deviceID, status string, err error) {
	args := []interface{}{"command_id", commandID, "device_id", deviceID, "status", status}
	if err != nil {
		args = append(args, "error", err)
		l.Error("command delivery failed", args...)
		return
	}
	l.Info("command delivery", args...)
}

// LogSecurityEvent logs security-relevant events.
func (l *Logger) LogSecurityEvent(eventType, actorID, ipAddress string, fields map[string]interface{}) {
	args := []interface{}{
		"security_event", eventType,
		"actor_id", actorID,
		"ip_address", ipAddress,
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.Warn("security event", args...)
}

// LogCacheOperation logs cache operations.
func (l *Logger) LogCacheOperation(operation, key string, hit bool, duration time.Duration) {
	l.Debug("cache operation",
		"operation", operation,
		"key", key,
		"hit", hit,
		"duration", duration,
	)
}

// LogDatabaseOperation logs database operations.
func (l *Logger) LogDatabaseOperation(operation, table string, rowsAffected int64, duration time.Duration) {
	l.Debug("database operation",
		"operation", operation,
		"table", table,
		"rows_affected", rowsAffected,
		"duration", duration,
	)
}

func contextFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 4)
	if requestID := ctx.Value(ctxKeyRequestID); requestID != nil {
		fields = append(fields, "request_id", requestID)
	}
	if deviceID := ctx.Value(ctxKeyDeviceID); deviceID != nil {
		fields = append(fields, "device_id", deviceID)
	}
	if sessionID := ctx.Value(ctxKeySessionID); sessionID != nil {
		fields = append(fields, "session_id", sessionID)
	}
	return fields
}

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyDeviceID  ctxKey = "device_id"
	ctxKeySessionID ctxKey = "session_id"
)

// WithRequestID attaches a request id to ctx for later log enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// WithDeviceID attaches a device id to ctx for later log enrichment.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyDeviceID, id)
}

// WithSessionID attaches a session id to ctx for later log enrichment.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, id)
}

var defaultLogger *Logger

// InitDefaultLogger initializes the global logger.
func InitDefaultLogger(config *LoggerConfig) {
	defaultLogger = NewLogger(config)
}

// GetLogger returns the global logger, creating a default one if needed.
func GetLogger() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewLogger(DefaultLoggerConfig())
	}
	return defaultLogger
}

func Debug(msg string, args ...interface{}) { GetLogger().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { GetLogger().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { GetLogger().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { GetLogger().Error(msg, args...) }

func WithFields(fields map[string]interface{}) *Logger { return GetLogger().WithFields(fields) }
func WithField(key string, value interface{}) *Logger   { return GetLogger().WithField(key, value) }
