package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/traxcore/telemetry-core/internal/command"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/apperrors"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// CommandsHandler submits and tracks device commands through
// command.Engine (§4.7).
type CommandsHandler struct {
	engine    *command.Engine
	store     store.Store
	validator *validator.Validate
}

// NewCommandsHandler builds a CommandsHandler.
func NewCommandsHandler(engine *command.Engine, st store.Store) *CommandsHandler {
	return &CommandsHandler{engine: engine, store: st, validator: validator.New()}
}

// SubmitCommandRequest is the request body for submitting a command.
type SubmitCommandRequest struct {
	Type        models.CommandType     `json:"command_type" binding:"required"`
	Priority    models.CommandPriority `json:"priority"`
	Parameters  map[string]interface{} `json:"parameters"`
	TextChannel bool                   `json:"text_channel"`
	MaxRetries  int                    `json:"max_retries"`
}

// Submit godoc
// @Summary Submit a command to a device
// @Router /api/v1/devices/{id}/commands [post]
func (h *CommandsHandler) Submit(c *gin.Context) {
	deviceID := c.Param("id")

	var req SubmitCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithBadRequest(c, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		AbortWithValidation(c, err.Error())
		return
	}

	priority := req.Priority
	if priority == 0 {
		priority = models.PriorityNormal
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	cmd := &models.Command{
		DeviceRef:   deviceID,
		UserRef:     UserRef(c),
		Type:        req.Type,
		Priority:    priority,
		Parameters:  req.Parameters,
		TextChannel: req.TextChannel,
		MaxRetries:  maxRetries,
	}

	if err := h.engine.Submit(c.Request.Context(), cmd); err != nil {
		AbortWithAppErrorOr(c, "failed to submit command", err)
		return
	}
	c.JSON(http.StatusCreated, ok(cmd, "command queued"))
}

// List godoc
// @Summary List recent commands for a device
// @Router /api/v1/devices/{id}/commands [get]
func (h *CommandsHandler) List(c *gin.Context) {
	deviceID := c.Param("id")
	commands, err := h.store.CommandsForDevice(c.Request.Context(), deviceID, 50)
	if err != nil {
		AbortWithAppErrorOr(c, "failed to list commands", err)
		return
	}
	c.JSON(http.StatusOK, list(commands, len(commands)))
}

// Cancel godoc
// @Summary Cancel a queued command
// @Router /api/v1/commands/{commandId} [delete]
func (h *CommandsHandler) Cancel(c *gin.Context) {
	commandID := c.Param("commandId")
	if err := h.engine.Cancel(c.Request.Context(), commandID); err != nil {
		if err == command.ErrCommandNotFound {
			AbortWithNotFound(c, "command")
			return
		}
		AbortWithAppErrorOr(c, "failed to cancel command", err)
		return
	}
	c.JSON(http.StatusOK, ok(nil, "command cancelled"))
}

// Retry godoc
// @Summary Force-retry a failed command
// @Router /api/v1/commands/{commandId}/retry [post]
func (h *CommandsHandler) Retry(c *gin.Context) {
	commandID := c.Param("commandId")
	if err := h.engine.Retry(c.Request.Context(), commandID); err != nil {
		switch err {
		case command.ErrCommandNotFound:
			AbortWithNotFound(c, "command")
		case command.ErrCommandNotRetryable:
			AbortWithError(c, apperrors.NewConflictError("command is not retryable"))
		default:
			AbortWithAppErrorOr(c, "failed to retry command", err)
		}
		return
	}
	c.JSON(http.StatusOK, ok(nil, "command re-queued"))
}
