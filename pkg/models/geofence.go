package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/traxcore/telemetry-core/pkg/attr"
)

// GeometryType enumerates the GeoJSON-flavored shapes a Geofence can carry
// (§3). Circle is not a native GeoJSON shape; it is carried as a
// "center" [lon,lat] pair plus a separate "radius" in meters. A single
// [lon,lat,radius_m] coordinate array is not accepted.
type GeometryType string

const (
	GeometryPolygon    GeometryType = "Polygon"
	GeometryCircle     GeometryType = "Circle"
	GeometryLineString GeometryType = "LineString"
)

// LonLat is a single [longitude, latitude] coordinate pair, GeoJSON order.
type LonLat [2]float64

func (p LonLat) Lon() float64 { return p[0] }
func (p LonLat) Lat() float64 { return p[1] }

// Geometry is the GeoJSON-flavored shape carried by a Geofence.
type Geometry struct {
	Type GeometryType `json:"type"`
	// Polygon: outer ring, first point == last point not required here.
	// LineString: ordered path.
	Points []LonLat `json:"coordinates,omitempty"`
	// Circle: center [lon, lat] and radius in meters.
	Center LonLat  `json:"center,omitempty"`
	Radius float64 `json:"radius,omitempty"`
}

// Geofence (§3). SpeedLimit, BufferDistance, AlertEnabled live in the
// attribute bag per spec so the geometry-specific fields stay minimal.
type Geofence struct {
	ID          string       `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name        string       `json:"name" gorm:"size:200;not null"`
	Type        GeometryType `json:"type" gorm:"size:20;not null"`
	Geometry    Geometry     `json:"geometry" gorm:"type:jsonb;serializer:json"`
	Disabled    bool         `json:"disabled" gorm:"not null;default:false;index:idx_geofence_disabled_type"`
	CalendarRef *string      `json:"calendar_ref,omitempty" gorm:"type:uuid"`
	Attributes  attr.Bag     `json:"attributes" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (g *Geofence) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.Attributes == nil {
		g.Attributes = attr.NewBag()
	}
	return nil
}

// SpeedLimit returns the geofence's posted speed limit in km/h, or 0 (no
// limit) if unset.
func (g *Geofence) SpeedLimit() float64 {
	if g.Attributes == nil {
		return 0
	}
	return g.Attributes.GetFloat(attr.SpeedLimit, 0)
}

// BufferDistanceM returns the corridor half-width for a LineString
// geofence, in meters.
func (g *Geofence) BufferDistanceM() float64 {
	if g.Attributes == nil {
		return 0
	}
	return g.Attributes.GetFloat(attr.BufferDistance, 0)
}

// Valid checks the per-type invariants from §3: well-formed coordinates,
// buffer distance > 0 for LineString corridors, radius > 0 for Circle.
func (g *Geofence) Valid() bool {
	switch g.Type {
	case GeometryCircle:
		return g.Geometry.Radius > 0 && coordValid(g.Geometry.Center)
	case GeometryLineString:
		return g.BufferDistanceM() > 0 && len(g.Geometry.Points) >= 2 && allCoordsValid(g.Geometry.Points)
	case GeometryPolygon:
		return len(g.Geometry.Points) >= 3 && allCoordsValid(g.Geometry.Points)
	default:
		return false
	}
}

func coordValid(p LonLat) bool {
	return p.Lat() >= -90 && p.Lat() <= 90 && p.Lon() >= -180 && p.Lon() <= 180
}

func allCoordsValid(pts []LonLat) bool {
	for _, p := range pts {
		if !coordValid(p) {
			return false
		}
	}
	return true
}
