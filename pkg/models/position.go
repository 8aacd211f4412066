package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/traxcore/telemetry-core/pkg/attr"
)

// Position is one normalized report. Exactly one of DeviceRef or
// UnknownDeviceRef is set (§3 invariant).
type Position struct {
	ID                string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	DeviceRef         *string `json:"device_ref,omitempty" gorm:"type:uuid;index:idx_position_device_time"`
	UnknownDeviceRef  *string `json:"unknown_device_ref,omitempty" gorm:"type:uuid"`
	Protocol          string  `json:"protocol" gorm:"size:50;not null"`

	ServerTime time.Time  `json:"server_time" gorm:"not null;index:idx_position_device_time"`
	DeviceTime *time.Time `json:"device_time,omitempty"`
	FixTime    *time.Time `json:"fix_time,omitempty"`

	Latitude  float64 `json:"latitude" gorm:"not null;index:idx_position_latlon"`
	Longitude float64 `json:"longitude" gorm:"not null;index:idx_position_latlon"`
	Valid     bool    `json:"valid" gorm:"not null;default:true"`

	Speed    *float64 `json:"speed,omitempty"`    // km/h, normalized
	Course   *float64 `json:"course,omitempty"`
	Altitude *float64 `json:"altitude,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Address  string   `json:"address,omitempty" gorm:"size:255"`

	// Derived by the pipeline (§4.3).
	Distance  float64 `json:"distance" gorm:"default:0"`
	Outdated  bool    `json:"outdated" gorm:"default:false"`

	Attributes attr.Bag `json:"attributes" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (p *Position) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Attributes == nil {
		p.Attributes = attr.NewBag()
	}
	if p.ServerTime.IsZero() {
		p.ServerTime = time.Now().UTC()
	}
	return nil
}

// CoordinatesValid reports whether lat/lon fall within the allowed ranges
// (§3 invariant, §8 boundary behavior: ±90/±180 accepted, one ULP beyond
// rejected).
func (p *Position) CoordinatesValid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// EffectiveFixTime returns FixTime if set, else ServerTime — used when a
// protocol doesn't report a distinct device fix time.
func (p *Position) EffectiveFixTime() time.Time {
	if p.FixTime != nil {
		return *p.FixTime
	}
	return p.ServerTime
}

// SpeedKMH returns the normalized speed, defaulting to 0 when unset.
func (p *Position) SpeedKMH() float64 {
	if p.Speed == nil {
		return 0
	}
	return *p.Speed
}
