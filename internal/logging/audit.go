package logging

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuditLogger provides audit trail logging for state-changing operations
// against devices, geofences, and commands.
type AuditLogger struct {
	logger *Logger
	db     *gorm.DB
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger *Logger, db *gorm.DB) *AuditLogger {
	return &AuditLogger{logger: logger, db: db}
}

// AuditEvent represents an audit event.
type AuditEvent struct {
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	ActorID    string                 `json:"actor_id"`
	IPAddress  string                 `json:"ip_address"`
	UserAgent  string                 `json:"user_agent"`
	Changes    map[string]interface{} `json:"changes,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// LogCreate logs creation of a resource.
func (al *AuditLogger) LogCreate(ctx context.Context, resource, resourceID, actorID string, data interface{}) {
	event := AuditEvent{Action: "create", Resource: resource, ResourceID: resourceID, ActorID: actorID, Timestamp: time.Now()}
	if data != nil {
		dataBytes, _ := json.Marshal(data)
		var changes map[string]interface{}
		json.Unmarshal(dataBytes, &changes)
		event.Changes = changes
	}
	al.logEvent(ctx, &event)
}

// LogUpdate logs update of a resource, diffing old and new representations.
func (al *AuditLogger) LogUpdate(ctx context.Context, resource, resourceID, actorID string, oldData, newData interface{}) {
	event := AuditEvent{Action: "update", Resource: resource, ResourceID: resourceID, ActorID: actorID, Timestamp: time.Now()}

	changes := make(map[string]interface{})
	if oldData != nil && newData != nil {
		oldBytes, _ := json.Marshal(oldData)
		newBytes, _ := json.Marshal(newData)

		var oldMap, newMap map[string]interface{}
		json.Unmarshal(oldBytes, &oldMap)
		json.Unmarshal(newBytes, &newMap)

		for key, newValue := range newMap {
			if oldValue, exists := oldMap[key]; !exists || oldValue != newValue {
				changes[key] = map[string]interface{}{"old": oldValue, "new": newValue}
			}
		}
	}

	event.Changes = changes
	al.logEvent(ctx, &event)
}

// LogDelete logs deletion of a resource.
func (al *AuditLogger) LogDelete(ctx context.Context, resource, resourceID, actorID string) {
	event := AuditEvent{Action: "delete", Resource: resource, ResourceID: resourceID, ActorID: actorID, Timestamp: time.Now()}
	al.logEvent(ctx, &event)
}

// LogAccess logs access to a resource.
func (al *AuditLogger) LogAccess(ctx context.Context, resource, resourceID, actorID string) {
	event := AuditEvent{Action: "access", Resource: resource, ResourceID: resourceID, ActorID: actorID, Timestamp: time.Now()}
	al.logEvent(ctx, &event)
}

// LogSecurityEvent logs security-relevant events, e.g. repeated malformed
// frames from one remote address.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, eventType, actorID, ipAddress string, metadata map[string]interface{}) {
	event := AuditEvent{Action: "security_event", Resource: eventType, ActorID: actorID, IPAddress: ipAddress, Metadata: metadata, Timestamp: time.Now()}
	al.logEvent(ctx, &event)
}

// LogCommandIssued records who issued a command to which device (§4.7).
func (al *AuditLogger) LogCommandIssued(ctx context.Context, commandID, deviceID, actorID, commandType string, parameters map[string]interface{}) {
	event := AuditEvent{
		Action:     "command_issued",
		Resource:   "command",
		ResourceID: commandID,
		ActorID:    actorID,
		Metadata: map[string]interface{}{
			"device_id":    deviceID,
			"command_type": commandType,
			"parameters":   parameters,
		},
		Timestamp: time.Now(),
	}
	al.logger.LogCommandDelivery(commandID, deviceID, "issued", nil)
	al.logEvent(ctx, &event)
}

// LogGeofenceViolation logs a geofence enter/exit/overspeed event against
// a device.
func (al *AuditLogger) LogGeofenceViolation(ctx context.Context, deviceID, geofenceID, violationType string, location map[string]interface{}) {
	metadata := map[string]interface{}{
		"violation_type": violationType,
		"device_id":      deviceID,
		"geofence_id":    geofenceID,
		"location":       location,
	}
	event := AuditEvent{Action: "geofence_violation", Resource: "geofence", ResourceID: geofenceID, Metadata: metadata, Timestamp: time.Now()}

	al.logger.Warn("geofence violation detected",
		"device_id", deviceID,
		"geofence_id", geofenceID,
		"violation_type", violationType,
	)

	al.logEvent(ctx, &event)
}

// logEvent persists the audit event to structured logs and, best-effort,
// to the audit_logs table.
func (al *AuditLogger) logEvent(_ context.Context, event *AuditEvent) {
	fields := map[string]interface{}{
		"action":      event.Action,
		"resource":    event.Resource,
		"resource_id": event.ResourceID,
		"actor_id":    event.ActorID,
		"ip_address":  event.IPAddress,
		"timestamp":   event.Timestamp,
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}
	if event.Metadata != nil {
		fields["metadata"] = event.Metadata
	}
	al.logger.WithFields(fields).Info("audit event recorded")

	go func() {
		if al.db == nil {
			return
		}
		changesJSON, _ := json.Marshal(event.Changes)
		metadataJSON, _ := json.Marshal(event.Metadata)

		auditLog := map[string]interface{}{
			"actor_id":    event.ActorID,
			"action":      event.Action,
			"resource":    event.Resource,
			"resource_id": event.ResourceID,
			"ip_address":  event.IPAddress,
			"user_agent":  event.UserAgent,
			"details": map[string]interface{}{
				"changes":  string(changesJSON),
				"metadata": string(metadataJSON),
			},
		}
		al.db.Table("audit_logs").Create(auditLog)
	}()
}

// AuditMiddleware creates audit logs for state-changing REST operations.
func AuditMiddleware(auditLogger *AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "GET" || c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}

		actorID, _ := c.Get("user_id")
		resource := extractResource(c.Request.URL.Path)
		resourceID := c.Param("id")

		c.Next()

		if c.Writer.Status() >= 200 && c.Writer.Status() < 300 {
			action := actionFromMethod(c.Request.Method)
			auditLogger.logger.WithFields(map[string]interface{}{
				"ip_address": c.ClientIP(),
				"user_agent": c.Request.UserAgent(),
			}).Info("audit event recorded",
				"action", action,
				"resource", resource,
				"resource_id", resourceID,
				"actor_id", actorIDStr(actorID),
			)
		}
	}
}

func extractResource(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if part == "api" || part == "v1" {
			if i+1 < len(parts) {
				return parts[i+1]
			}
		}
	}
	if len(parts) > 0 {
		return parts[0]
	}
	return "unknown"
}

func actionFromMethod(method string) string {
	switch method {
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return "unknown"
	}
}

func actorIDStr(actorID interface{}) string {
	if actorID == nil {
		return ""
	}
	if str, ok := actorID.(string); ok {
		return str
	}
	return ""
}
