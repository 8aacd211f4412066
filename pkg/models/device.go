package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/traxcore/telemetry-core/pkg/attr"
)

// DeviceStatus is the connectivity status of a Device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// Device is a known tracker. Accumulators (total_distance, hours) and
// motion/overspeed state are updated by the position processor and are
// monotonically non-decreasing except on explicit admin reset.
type Device struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UniqueID  string `json:"unique_id" gorm:"size:128;not null;uniqueIndex"`
	Name      string `json:"name" gorm:"size:200"`
	GroupID   *string `json:"group_id,omitempty" gorm:"type:uuid;index"`
	CalendarID *string `json:"calendar_id,omitempty" gorm:"type:uuid"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`

	Status     DeviceStatus `json:"status" gorm:"size:20;not null;default:'unknown'"`
	LastUpdate *time.Time   `json:"last_update,omitempty"`

	// Accumulators (§3 invariant: monotonically non-decreasing).
	TotalDistance float64 `json:"total_distance" gorm:"not null;default:0"` // meters
	EngineHours   float64 `json:"hours" gorm:"not null;default:0"`          // seconds

	// Motion state machine (§4.3 step 6).
	MotionState       bool       `json:"motion_state" gorm:"not null;default:false"`
	MotionStreak      bool       `json:"motion_streak" gorm:"not null;default:false"`
	MotionPositionRef *string    `json:"motion_position_ref,omitempty" gorm:"type:uuid"`
	MotionTime        *time.Time `json:"motion_time,omitempty"`
	MotionDistance    float64    `json:"motion_distance" gorm:"not null;default:0"`

	// Overspeed state (§4.3 step 7).
	OverspeedState       bool    `json:"overspeed_state" gorm:"not null;default:false"`
	OverspeedTime        *time.Time `json:"overspeed_time,omitempty"`
	OverspeedGeofenceRef *string `json:"overspeed_geofence_ref,omitempty" gorm:"type:uuid"`

	// Last known geofence residency, used to diff enter/exit on the next
	// position (§4.3 step 5).
	GeofenceIDs attr.Bag `json:"-" gorm:"type:jsonb"`

	// Phone number used by the command engine's SMS fallback (§4.7).
	PhoneNumber string `json:"phone_number,omitempty" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = DeviceStatusUnknown
	}
	return nil
}

// GeofenceMembership returns the set of geofence IDs the device was last
// known to reside in, used by the residency diff in the position pipeline.
func (d *Device) GeofenceMembership() map[string]struct{} {
	if d.GeofenceIDs == nil {
		return map[string]struct{}{}
	}
	return d.GeofenceIDs.GetStringSet(attr.GeofenceIDs)
}

// SetGeofenceMembership persists the current geofence residency set onto
// the device record.
func (d *Device) SetGeofenceMembership(ids []string) {
	if d.GeofenceIDs == nil {
		d.GeofenceIDs = attr.NewBag()
	}
	d.GeofenceIDs.SetStringList(attr.GeofenceIDs, ids)
}

// UnknownDevice is an identifier seen on the wire for which no Device
// record exists (§3). Created on first sighting, optionally promoted to a
// Device by the CRUD layer.
type UnknownDevice struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UniqueID           string    `json:"unique_id" gorm:"size:128;not null;uniqueIndex:idx_unknown_device_unique"`
	Protocol           string    `json:"protocol" gorm:"size:50;not null"`
	Port               int       `json:"port" gorm:"not null"`
	Transport          string    `json:"transport" gorm:"size:10;not null"` // tcp, udp, http
	FirstSeen          time.Time `json:"first_seen" gorm:"not null"`
	LastSeen           time.Time `json:"last_seen" gorm:"not null"`
	IsRegistered       bool      `json:"is_registered" gorm:"not null;default:false"`
	RegisteredDeviceRef *string  `json:"registered_device_ref,omitempty" gorm:"type:uuid"`
}

func (u *UnknownDevice) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
