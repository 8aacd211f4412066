package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/traxcore/telemetry-core/pkg/models"
)

// GormStore is the default Store implementation, backed by
// gorm.io/gorm + gorm.io/driver/postgres, following the teacher's
// repository idiom of wrapping every GORM error with "failed to %s: %w".
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-connected *gorm.DB.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DeviceByUniqueID(ctx context.Context, uniqueID string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).First(&d, "unique_id = ?", uniqueID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up device by unique id: %w", err)
	}
	return &d, nil
}

func (s *GormStore) DeviceByID(ctx context.Context, id string) (*models.Device, error) {
	var d models.Device
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &d, nil
}

// ListDeviceIDs lists every known device id. It stands in for a real
// fleet/tenant scoping query until an external UserAccess collaborator
// is wired (§1 EXPANSION).
func (s *GormStore) ListDeviceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Device{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list device ids: %w", err)
	}
	return ids, nil
}

// UpdateAccumulators sets total_distance/hours directly rather than via
// an atomic increment clause, since the pipeline already holds the
// authoritative post-update value under the device's single-writer
// serializer (§5 shared-resource discipline (c)).
func (s *GormStore) UpdateAccumulators(ctx context.Context, deviceID string, totalDistance, engineHours float64) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", deviceID).
		Updates(map[string]interface{}{"total_distance": totalDistance, "hours": engineHours}).Error
	if err != nil {
		return fmt.Errorf("failed to update accumulators: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus, lastUpdate time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", deviceID).
		Updates(map[string]interface{}{"status": status, "last_update": lastUpdate}).Error
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateMotionState(ctx context.Context, d *models.Device) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", d.ID).
		Updates(map[string]interface{}{
			"motion_state":        d.MotionState,
			"motion_streak":       d.MotionStreak,
			"motion_position_ref": d.MotionPositionRef,
			"motion_time":         d.MotionTime,
			"motion_distance":     d.MotionDistance,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update motion state: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateOverspeedState(ctx context.Context, d *models.Device) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", d.ID).
		Updates(map[string]interface{}{
			"overspeed_state":        d.OverspeedState,
			"overspeed_time":         d.OverspeedTime,
			"overspeed_geofence_ref": d.OverspeedGeofenceRef,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update overspeed state: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateGeofenceMembership(ctx context.Context, d *models.Device) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", d.ID).
		Update("geofence_ids", d.GeofenceIDs).Error
	if err != nil {
		return fmt.Errorf("failed to update geofence membership: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertUnknownDevice(ctx context.Context, uniqueID, protocol, transport string, port int, now time.Time) (*models.UnknownDevice, error) {
	var u models.UnknownDevice
	err := s.db.WithContext(ctx).First(&u, "unique_id = ?", uniqueID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		u = models.UnknownDevice{
			UniqueID:  uniqueID,
			Protocol:  protocol,
			Port:      port,
			Transport: transport,
			FirstSeen: now,
			LastSeen:  now,
		}
		if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
			return nil, fmt.Errorf("failed to create unknown device: %w", err)
		}
		return &u, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up unknown device: %w", err)
	default:
		u.LastSeen = now
		if err := s.db.WithContext(ctx).Model(&u).Update("last_seen", now).Error; err != nil {
			return nil, fmt.Errorf("failed to touch unknown device: %w", err)
		}
		return &u, nil
	}
}

func (s *GormStore) InsertPosition(ctx context.Context, p *models.Position) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// LatestPositionForDevice returns the most recent position by server_time,
// honoring the per-device monotonic ordering the contract requires (§4.8).
func (s *GormStore) LatestPositionForDevice(ctx context.Context, deviceID string) (*models.Position, error) {
	var p models.Position
	err := s.db.WithContext(ctx).Where("device_ref = ?", deviceID).Order("server_time DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest position: %w", err)
	}
	return &p, nil
}

func (s *GormStore) PositionHistory(ctx context.Context, deviceID string, from, to time.Time) ([]*models.Position, error) {
	var positions []*models.Position
	err := s.db.WithContext(ctx).
		Where("device_ref = ? AND server_time BETWEEN ? AND ?", deviceID, from, to).
		Order("server_time ASC").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query position history: %w", err)
	}
	return positions, nil
}

func (s *GormStore) InsertEvent(ctx context.Context, e *models.Event) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *GormStore) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	query := s.db.WithContext(ctx).Model(&models.Event{})
	if filter.DeviceRef != "" {
		query = query.Where("device_ref = ?", filter.DeviceRef)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if !filter.From.IsZero() {
		query = query.Where("event_time >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("event_time <= ?", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var events []*models.Event
	if err := query.Order("event_time DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

func (s *GormStore) UpsertCommand(ctx context.Context, c *models.Command) error {
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return fmt.Errorf("failed to upsert command: %w", err)
	}
	return nil
}

func (s *GormStore) CommandByID(ctx context.Context, id string) (*models.Command, error) {
	var c models.Command
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get command: %w", err)
	}
	return &c, nil
}

// PopReadyCommands returns up to limit QUEUED commands ordered by
// priority (CRITICAL first) then FIFO by queued_at, matching the worker
// pool's scheduling order (§4.7). "Pop" here means "select for the
// worker pool to claim", not a destructive dequeue — the worker
// transitions status itself once it has rendered and sent the command.
func (s *GormStore) PopReadyCommands(ctx context.Context, limit int) ([]*models.Command, error) {
	var commands []*models.Command
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusQueued).
		Order("priority DESC, queued_at ASC").
		Limit(limit).
		Find(&commands).Error
	if err != nil {
		return nil, fmt.Errorf("failed to pop ready commands: %w", err)
	}
	return commands, nil
}

// SentCommandsOlderThan returns SENT commands whose sent_at precedes
// cutoff, for the command engine's ack-timeout sweep (§4.7).
func (s *GormStore) SentCommandsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Command, error) {
	var commands []*models.Command
	err := s.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", models.StatusSent, cutoff).
		Find(&commands).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sent commands: %w", err)
	}
	return commands, nil
}

// CommandsForDevice lists the most recent commands for a device, newest
// first, for the REST command-history endpoint.
func (s *GormStore) CommandsForDevice(ctx context.Context, deviceRef string, limit int) ([]*models.Command, error) {
	if limit <= 0 {
		limit = 50
	}
	var commands []*models.Command
	err := s.db.WithContext(ctx).
		Where("device_ref = ?", deviceRef).
		Order("created_at DESC").
		Limit(limit).
		Find(&commands).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list commands for device: %w", err)
	}
	return commands, nil
}

func (s *GormStore) ActiveGeofences(ctx context.Context) ([]*models.Geofence, error) {
	var geofences []*models.Geofence
	if err := s.db.WithContext(ctx).Where("disabled = ?", false).Find(&geofences).Error; err != nil {
		return nil, fmt.Errorf("failed to load active geofences: %w", err)
	}
	return geofences, nil
}

func (s *GormStore) ListGeofences(ctx context.Context) ([]*models.Geofence, error) {
	var geofences []*models.Geofence
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&geofences).Error; err != nil {
		return nil, fmt.Errorf("failed to list geofences: %w", err)
	}
	return geofences, nil
}

func (s *GormStore) GeofenceByID(ctx context.Context, id string) (*models.Geofence, error) {
	var g models.Geofence
	err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geofence: %w", err)
	}
	return &g, nil
}

func (s *GormStore) UpsertGeofence(ctx context.Context, g *models.Geofence) error {
	if err := s.db.WithContext(ctx).Save(g).Error; err != nil {
		return fmt.Errorf("failed to upsert geofence: %w", err)
	}
	return nil
}

// DeleteGeofence hard-deletes the row. Reload of the in-memory spatial
// cache (§4.6) is the caller's responsibility once the write commits.
func (s *GormStore) DeleteGeofence(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.Geofence{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete geofence: %w", err)
	}
	return nil
}

var _ Store = (*GormStore)(nil)
