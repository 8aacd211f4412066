// Package api is the gin-based REST and WebSocket surface over the core
// (§6): positions, events, commands, and geofence CRUD, plus the
// real-time fan-out upgrade endpoint. Its error-handling and response
// conventions follow the teacher's internal/common/middleware, re-based
// onto pkg/apperrors.
package api

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/traxcore/telemetry-core/pkg/apperrors"
)

// ErrorResponse is the standardized error envelope.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and message.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler drains gin's error list and writes the standardized error
// envelope. It must sit late in the middleware chain.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		appErr := asAppError(c.Errors.Last().Err)
		logAPIError(c, appErr)

		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.Status, ErrorResponse{
			Success: false,
			Error: &ErrorDetail{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: appErr.Details,
			},
		})
	}
}

// RecoveryHandler recovers from panics and returns a 500, in the
// teacher's style of always logging the stack trace first.
func RecoveryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %v\n%s", r, debug.Stack())
				if c.Writer.Written() {
					return
				}
				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Success: false,
					Error:   &ErrorDetail{Code: apperrors.CodeInternal, Message: "internal server error"},
				})
			}
		}()
		c.Next()
	}
}

// RequestID assigns a request id to every inbound request, echoing one
// the caller already supplied.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// UserContext extracts the caller identity handed off by the external,
// already-authenticated access-control system fronting this service
// (§4.4, §6) and stores it for downstream handlers. This service never
// issues or validates credentials itself. The WebSocket upgrade request
// can't carry a custom header from a browser client, so it also accepts
// the identity as a query parameter, matching the teacher's own
// HandleWebSocket query-param convention.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userRef := c.GetHeader("X-User-Ref")
		if userRef == "" {
			userRef = c.Query("user_ref")
		}
		if userRef == "" {
			AbortWithUnauthorized(c, "missing X-User-Ref")
			return
		}
		c.Set("user_ref", userRef)
		c.Next()
	}
}

// UserRef reads the caller identity set by UserContext.
func UserRef(c *gin.Context) string {
	return c.GetString("user_ref")
}

func asAppError(err error) *apperrors.AppError {
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr
	}
	return apperrors.NewInternalError("unexpected error").WithInternal(err)
}

func logAPIError(c *gin.Context, err *apperrors.AppError) {
	requestID := c.GetString("request_id")
	log.Printf("[ERROR] [%s] %s %s | Code: %s | Message: %s | Internal: %v",
		requestID, c.Request.Method, c.Request.URL.Path, err.Code, err.Message, err.InternalErr)
}

// AbortWithError aborts the request with an *apperrors.AppError, letting
// ErrorHandler render the response.
func AbortWithError(c *gin.Context, err *apperrors.AppError) {
	c.Error(err)
	c.Abort()
}

// AbortWithNotFound aborts with a 404.
func AbortWithNotFound(c *gin.Context, resource string) {
	AbortWithError(c, apperrors.NewNotFoundError(resource))
}

// AbortWithUnauthorized aborts with a 401.
func AbortWithUnauthorized(c *gin.Context, message string) {
	AbortWithError(c, apperrors.NewUnauthorizedError(message))
}

// AbortWithBadRequest aborts with a 400.
func AbortWithBadRequest(c *gin.Context, message string) {
	AbortWithError(c, apperrors.NewBadRequestError(message))
}

// AbortWithValidation aborts with a 400 validation error.
func AbortWithValidation(c *gin.Context, message string) {
	AbortWithError(c, apperrors.NewValidationError(message))
}

// AbortWithInternal aborts with a 500, wrapping the underlying error.
func AbortWithInternal(c *gin.Context, message string, err error) {
	AbortWithError(c, apperrors.NewInternalError(message).WithInternal(err))
}

// AbortWithAppErrorOr aborts with err's own *apperrors.AppError if it is
// one, else wraps it as an internal error with the given message. This
// is the pattern every handler below uses when a service call fails.
func AbortWithAppErrorOr(c *gin.Context, message string, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		AbortWithError(c, appErr)
		return
	}
	AbortWithInternal(c, message, err)
}
