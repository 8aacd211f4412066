package logging

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestLoggingMiddleware logs all HTTP requests and responses against
// the REST surface (§6).
func RequestLoggingMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)

		start := time.Now()

		var requestBody []byte
		if c.Request.Body != nil && (c.Request.Method == "POST" || c.Request.Method == "PUT") {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		writer := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer

		c.Next()

		duration := time.Since(start)

		fields := map[string]interface{}{
			"request_id":   requestID,
			"method":       c.Request.Method,
			"path":         c.Request.URL.Path,
			"query":        c.Request.URL.RawQuery,
			"status":       c.Writer.Status(),
			"duration_ms":  duration.Milliseconds(),
			"client_ip":    c.ClientIP(),
			"user_agent":   c.Request.UserAgent(),
			"content_type": c.ContentType(),
		}

		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}

		if len(requestBody) > 0 && len(requestBody) < 10240 && !isSensitivePath(c.Request.URL.Path) {
			fields["request_body"] = string(requestBody)
		}

		fields["response_size"] = writer.body.Len()

		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.WithFields(fields).Error("http request - server error")
		case c.Writer.Status() >= 400:
			logger.WithFields(fields).Warn("http request - client error")
		default:
			logger.WithFields(fields).Info("http request")
		}

		if duration > time.Second {
			logger.WithFields(fields).Warn("slow http request detected")
		}
	}
}

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// isSensitivePath reports whether the request body for this path should
// be excluded from logs.
func isSensitivePath(path string) bool {
	sensitive := []string{"/auth/", "/commands"}
	for _, prefix := range sensitive {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// PerformanceLoggingMiddleware logs requests slower than threshold.
func PerformanceLoggingMiddleware(logger *Logger, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if duration > slowThreshold {
			logger.Warn("performance: slow request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"duration_ms", duration.Milliseconds(),
				"threshold_ms", slowThreshold.Milliseconds(),
				"status", c.Writer.Status(),
			)
		}
	}
}

// ErrorLoggingMiddleware logs every gin.Error attached to the request.
func ErrorLoggingMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, err := range c.Errors {
			logger.Error("request error",
				"error", err.Err,
				"type", err.Type,
				"meta", err.Meta,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)
		}
	}
}

// RecoveryLoggingMiddleware logs panics recovered from handlers.
func RecoveryLoggingMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"client_ip", c.ClientIP(),
				)
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
