package logging

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/logger"
)

// SlowQueryLogger adapts Logger to gorm's logger.Interface so database
// timing flows through the same structured sink as everything else.
type SlowQueryLogger struct {
	logger        *Logger
	slowThreshold time.Duration
	logLevel      logger.LogLevel
}

// NewSlowQueryLogger creates a new slow query logger.
func NewSlowQueryLogger(log *Logger, slowThreshold time.Duration) *SlowQueryLogger {
	return &SlowQueryLogger{
		logger:        log,
		slowThreshold: slowThreshold,
		logLevel:      logger.Warn,
	}
}

func (l *SlowQueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *SlowQueryLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *SlowQueryLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *SlowQueryLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *SlowQueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
		"rows":        rows,
	}
	if requestID := ctx.Value(ctxKeyRequestID); requestID != nil {
		fields["request_id"] = requestID
	}

	if err != nil && l.logLevel >= logger.Error {
		fields["error"] = err
		l.logger.WithFields(fields).Error("database error: " + sql)
		return
	}

	if elapsed > l.slowThreshold {
		fields["slow_query"] = true
		fields["threshold_ms"] = l.slowThreshold.Milliseconds()
		l.logger.WithFields(fields).Warn("slow query detected: " + sql)
		return
	}

	if l.logLevel >= logger.Info {
		l.logger.WithFields(fields).Debug("query executed: " + sql)
	}
}

// PerformanceMonitor tracks ad-hoc operation timing. Nothing in this
// module constructs one.
type PerformanceMonitor struct {
	logger *Logger
}

func NewPerformanceMonitor(logger *Logger) *PerformanceMonitor {
	return &PerformanceMonitor{logger: logger}
}

// TrackOperation runs operation, logging its duration and outcome.
func (pm *PerformanceMonitor) TrackOperation(name string, operation func() error) error {
	start := time.Now()
	err := operation()
	duration := time.Since(start)

	fields := map[string]interface{}{
		"operation":   name,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		fields["error"] = err
		pm.logger.WithFields(fields).Error("operation failed")
		return err
	}

	if duration > 500*time.Millisecond {
		pm.logger.WithFields(fields).Warn("slow operation detected")
	} else {
		pm.logger.WithFields(fields).Debug("operation completed")
	}

	return nil
}

// LogGoroutineCount logs the given goroutine count, at warn level above
// 1000.
func (pm *PerformanceMonitor) LogGoroutineCount(count int) {
	if count > 1000 {
		pm.logger.Warn("high goroutine count", "count", count, "threshold", 1000)
	} else {
		pm.logger.Debug("goroutine count", "count", count)
	}
}
