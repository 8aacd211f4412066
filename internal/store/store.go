// Package store defines the narrow persistence contract the core consumes
// (§4.8) and a GORM-backed implementation of it, following the teacher's
// repository error-wrapping convention ("failed to %s: %w").
package store

import (
	"context"
	"time"

	"github.com/traxcore/telemetry-core/pkg/models"
)

// EventFilter narrows an events.query call.
type EventFilter struct {
	DeviceRef string
	Types     []models.EventType
	From, To  time.Time
	Limit     int
}

// Store is the persistence contract the position pipeline, command
// engine, and REST surface depend on (§4.8). Positions and events are
// append-only; devices and commands mutate in place.
type Store interface {
	// Devices
	DeviceByUniqueID(ctx context.Context, uniqueID string) (*models.Device, error)
	DeviceByID(ctx context.Context, id string) (*models.Device, error)
	ListDeviceIDs(ctx context.Context) ([]string, error)
	UpdateAccumulators(ctx context.Context, deviceID string, totalDistance, engineHours float64) error
	UpdateDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus, lastUpdate time.Time) error
	UpdateMotionState(ctx context.Context, d *models.Device) error
	UpdateOverspeedState(ctx context.Context, d *models.Device) error
	UpdateGeofenceMembership(ctx context.Context, d *models.Device) error

	// Unknown devices
	UpsertUnknownDevice(ctx context.Context, uniqueID, protocol, transport string, port int, now time.Time) (*models.UnknownDevice, error)

	// Positions
	InsertPosition(ctx context.Context, p *models.Position) error
	LatestPositionForDevice(ctx context.Context, deviceID string) (*models.Position, error)
	PositionHistory(ctx context.Context, deviceID string, from, to time.Time) ([]*models.Position, error)

	// Events
	InsertEvent(ctx context.Context, e *models.Event) error
	QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error)

	// Commands
	UpsertCommand(ctx context.Context, c *models.Command) error
	CommandByID(ctx context.Context, id string) (*models.Command, error)
	PopReadyCommands(ctx context.Context, limit int) ([]*models.Command, error)
	SentCommandsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Command, error)
	CommandsForDevice(ctx context.Context, deviceRef string, limit int) ([]*models.Command, error)

	// Geofences
	ActiveGeofences(ctx context.Context) ([]*models.Geofence, error)
	ListGeofences(ctx context.Context) ([]*models.Geofence, error)
	GeofenceByID(ctx context.Context, id string) (*models.Geofence, error)
	UpsertGeofence(ctx context.Context, g *models.Geofence) error
	DeleteGeofence(ctx context.Context, id string) error
}
