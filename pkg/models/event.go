package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/traxcore/telemetry-core/pkg/attr"
)

// EventType enumerates the derived events the pipeline and command engine
// can synthesize (§3).
type EventType string

const (
	EventDeviceOnline    EventType = "deviceOnline"
	EventDeviceOffline   EventType = "deviceOffline"
	EventDeviceMoving    EventType = "deviceMoving"
	EventDeviceStopped   EventType = "deviceStopped"
	EventDeviceOverspeed EventType = "deviceOverspeed"
	EventDeviceFuelDrop  EventType = "deviceFuelDrop"
	EventGeofenceEnter   EventType = "geofenceEnter"
	EventGeofenceExit    EventType = "geofenceExit"
	EventIgnitionOn      EventType = "ignitionOn"
	EventIgnitionOff     EventType = "ignitionOff"
	EventAlarm           EventType = "alarm"
	EventMaintenance     EventType = "maintenance"
	EventDriverChanged   EventType = "driverChanged"
	EventCommandResult   EventType = "commandResult"
	EventMedia           EventType = "media"
)

// Severity drives routing in the event dispatcher (§4.4).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityOf implements the fixed severity/routing table from spec.md §4.4.
func SeverityOf(t EventType) Severity {
	switch t {
	case EventAlarm:
		return SeverityCritical
	case EventDeviceOffline, EventDeviceOverspeed:
		return SeverityHigh
	case EventGeofenceEnter, EventGeofenceExit, EventDeviceFuelDrop:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Event is immutable once created (§3).
type Event struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Type           EventType `json:"type" gorm:"size:40;not null;index:idx_event_device_time"`
	DeviceRef      string    `json:"device_ref" gorm:"type:uuid;not null;index:idx_event_device_time"`
	PositionRef    *string   `json:"position_ref,omitempty" gorm:"type:uuid"`
	EventTime      time.Time `json:"event_time" gorm:"not null;index:idx_event_device_time"`
	GeofenceRef    *string   `json:"geofence_ref,omitempty" gorm:"type:uuid"`
	MaintenanceRef *string   `json:"maintenance_ref,omitempty" gorm:"type:uuid"`
	Attributes     attr.Bag  `json:"attributes" gorm:"type:jsonb"`
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Attributes == nil {
		e.Attributes = attr.NewBag()
	}
	if e.EventTime.IsZero() {
		e.EventTime = time.Now().UTC()
	}
	return nil
}

// Severity returns this event's routing severity.
func (e *Event) Severity() Severity {
	return SeverityOf(e.Type)
}
