// Package geofence maintains an in-memory spatial index of active
// geofences so the position pipeline can test containment without a
// database round trip on every report (§4.6).
package geofence

import (
	"math"
	"sync/atomic"

	"github.com/traxcore/telemetry-core/pkg/models"
)

const earthRadiusM = 6371000.0

// boundingBox is the axis-aligned lat/lon envelope of a geofence, used as
// a cheap pre-filter before the exact per-type containment test.
type boundingBox struct {
	minLat, maxLat float64
	minLon, maxLon float64
}

func (b boundingBox) contains(lat, lon float64) bool {
	return lat >= b.minLat && lat <= b.maxLat && lon >= b.minLon && lon <= b.maxLon
}

// entry is one geofence prepared for fast containment testing.
type entry struct {
	geofence *models.Geofence
	box      boundingBox
}

// snapshot is an immutable, fully built index. Reload swaps the atomic
// pointer to a new snapshot rather than mutating one in place, so readers
// never observe a half-updated index (§4.6 invariant).
type snapshot struct {
	entries []entry
	byID    map[string]*models.Geofence
}

// Cache is a reload-swappable spatial index over active geofences.
type Cache struct {
	current atomic.Pointer[snapshot]
}

// NewCache returns an empty cache; call Reload before first use.
func NewCache() *Cache {
	c := &Cache{}
	c.current.Store(&snapshot{byID: map[string]*models.Geofence{}})
	return c
}

// Reload rebuilds the index from the full set of active geofences. Safe
// to call concurrently with Containing/Get from other goroutines.
func (c *Cache) Reload(geofences []*models.Geofence) {
	next := &snapshot{
		entries: make([]entry, 0, len(geofences)),
		byID:    make(map[string]*models.Geofence, len(geofences)),
	}
	for _, g := range geofences {
		if g.Disabled {
			continue
		}
		next.entries = append(next.entries, entry{geofence: g, box: boundsOf(g)})
		next.byID[g.ID] = g
	}
	c.current.Store(next)
}

// Get returns a geofence by id, or nil if it is not in the current
// snapshot (disabled or deleted geofences are absent).
func (c *Cache) Get(id string) *models.Geofence {
	return c.current.Load().byID[id]
}

// Containing returns every active geofence whose geometry contains the
// given point, in the spec's residency-diff order: bounding box
// rejection first, then the exact per-type test (§4.6).
func (c *Cache) Containing(lat, lon float64) []*models.Geofence {
	snap := c.current.Load()
	var out []*models.Geofence
	for _, e := range snap.entries {
		if !e.box.contains(lat, lon) {
			continue
		}
		if Contains(e.geofence, lat, lon) {
			out = append(out, e.geofence)
		}
	}
	return out
}

// Contains runs the exact containment test for one geofence's geometry.
func Contains(g *models.Geofence, lat, lon float64) bool {
	switch g.Type {
	case models.GeometryCircle:
		return haversine(lat, lon, g.Geometry.Center.Lat(), g.Geometry.Center.Lon()) <= g.Geometry.Radius
	case models.GeometryPolygon:
		return pointInPolygon(lat, lon, g.Geometry.Points)
	case models.GeometryLineString:
		return distanceToPolyline(lat, lon, g.Geometry.Points) <= g.BufferDistanceM()
	default:
		return false
	}
}

func boundsOf(g *models.Geofence) boundingBox {
	switch g.Type {
	case models.GeometryCircle:
		return circleBounds(g.Geometry.Center.Lat(), g.Geometry.Center.Lon(), g.Geometry.Radius)
	case models.GeometryPolygon, models.GeometryLineString:
		return polylineBounds(g.Geometry.Points, bufferPad(g))
	default:
		return boundingBox{}
	}
}

func bufferPad(g *models.Geofence) float64 {
	if g.Type == models.GeometryLineString {
		return g.BufferDistanceM()
	}
	return 0
}

// circleBounds computes a lat/lon envelope around a circle, using the
// small-angle approximation (1 deg latitude ~ 111320m); adequate for a
// cheap pre-filter, not for the exact test.
func circleBounds(lat, lon, radiusM float64) boundingBox {
	dLat := radiusM / 111320.0
	dLon := radiusM / (111320.0 * math.Max(0.1, math.Cos(lat*math.Pi/180)))
	return boundingBox{minLat: lat - dLat, maxLat: lat + dLat, minLon: lon - dLon, maxLon: lon + dLon}
}

func polylineBounds(pts []models.LonLat, padM float64) boundingBox {
	if len(pts) == 0 {
		return boundingBox{}
	}
	box := boundingBox{minLat: pts[0].Lat(), maxLat: pts[0].Lat(), minLon: pts[0].Lon(), maxLon: pts[0].Lon()}
	for _, p := range pts[1:] {
		box.minLat = math.Min(box.minLat, p.Lat())
		box.maxLat = math.Max(box.maxLat, p.Lat())
		box.minLon = math.Min(box.minLon, p.Lon())
		box.maxLon = math.Max(box.maxLon, p.Lon())
	}
	if padM > 0 {
		dLat := padM / 111320.0
		midLat := (box.minLat + box.maxLat) / 2
		dLon := padM / (111320.0 * math.Max(0.1, math.Cos(midLat*math.Pi/180)))
		box.minLat -= dLat
		box.maxLat += dLat
		box.minLon -= dLon
		box.maxLon += dLon
	}
	return box
}

// haversine computes great-circle distance in meters, WGS-84 mean
// radius, grounded in the fleet tracker's distance calculation.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// pointInPolygon is the standard ray-casting test.
func pointInPolygon(lat, lon float64, pts []models.LonLat) bool {
	if len(pts) < 3 {
		return false
	}
	inside := false
	j := len(pts) - 1
	for i := 0; i < len(pts); i++ {
		pi, pj := pts[i], pts[j]
		if (pi.Lat() > lat) != (pj.Lat() > lat) &&
			lon < (pj.Lon()-pi.Lon())*(lat-pi.Lat())/(pj.Lat()-pi.Lat())+pi.Lon() {
			inside = !inside
		}
		j = i
	}
	return inside
}

// distanceToPolyline returns the minimum haversine distance in meters
// from the point to any segment of the path, used by LineString corridor
// geofences.
func distanceToPolyline(lat, lon float64, pts []models.LonLat) float64 {
	if len(pts) == 0 {
		return math.Inf(1)
	}
	if len(pts) == 1 {
		return haversine(lat, lon, pts[0].Lat(), pts[0].Lon())
	}
	min := math.Inf(1)
	for i := 0; i+1 < len(pts); i++ {
		d := distanceToSegment(lat, lon, pts[i], pts[i+1])
		if d < min {
			min = d
		}
	}
	return min
}

// distanceToSegment projects the point onto the segment in an
// equirectangular approximation (adequate at geofence-corridor scale,
// tens of meters to a few kilometers) and measures the haversine
// distance to the closest point on it.
func distanceToSegment(lat, lon float64, a, b models.LonLat) float64 {
	toRad := math.Pi / 180
	midLat := (a.Lat() + b.Lat()) / 2 * toRad
	cosLat := math.Cos(midLat)

	ax, ay := a.Lon()*cosLat, a.Lat()
	bx, by := b.Lon()*cosLat, b.Lat()
	px, py := lon*cosLat, lat

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return haversine(lat, lon, a.Lat(), a.Lon())
	}

	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closestLon := (ax + t*dx) / cosLat
	closestLat := ay + t*dy
	return haversine(lat, lon, closestLat, closestLon)
}
