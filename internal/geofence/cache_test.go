package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

func circleGeofence(id string, lat, lon, radius float64) *models.Geofence {
	return &models.Geofence{
		ID:   id,
		Type: models.GeometryCircle,
		Geometry: models.Geometry{
			Type:   models.GeometryCircle,
			Center: models.LonLat{lon, lat},
			Radius: radius,
		},
		Attributes: attr.NewBag(),
	}
}

func polygonGeofence(id string, pts []models.LonLat) *models.Geofence {
	return &models.Geofence{
		ID:         id,
		Type:       models.GeometryPolygon,
		Geometry:   models.Geometry{Type: models.GeometryPolygon, Points: pts},
		Attributes: attr.NewBag(),
	}
}

func TestCacheContainingCircle(t *testing.T) {
	c := NewCache()
	c.Reload([]*models.Geofence{circleGeofence("g1", -6.2, 106.8, 500)})

	inside := c.Containing(-6.2, 106.8)
	require.Len(t, inside, 1)
	assert.Equal(t, "g1", inside[0].ID)

	outside := c.Containing(-7.0, 106.8)
	assert.Empty(t, outside)
}

func TestCacheContainingPolygon(t *testing.T) {
	square := []models.LonLat{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	c := NewCache()
	c.Reload([]*models.Geofence{polygonGeofence("g2", square)})

	inside := c.Containing(0.5, 0.5)
	require.Len(t, inside, 1)
	assert.Equal(t, "g2", inside[0].ID)

	outside := c.Containing(5, 5)
	assert.Empty(t, outside)
}

func TestCacheReloadSwapsAtomically(t *testing.T) {
	c := NewCache()
	c.Reload([]*models.Geofence{circleGeofence("g1", 0, 0, 1000)})
	require.NotNil(t, c.Get("g1"))

	c.Reload([]*models.Geofence{circleGeofence("g2", 0, 0, 1000)})
	assert.Nil(t, c.Get("g1"))
	assert.NotNil(t, c.Get("g2"))
}

func TestCacheSkipsDisabledGeofences(t *testing.T) {
	g := circleGeofence("g1", 0, 0, 1000)
	g.Disabled = true

	c := NewCache()
	c.Reload([]*models.Geofence{g})

	assert.Empty(t, c.Containing(0, 0))
	assert.Nil(t, c.Get("g1"))
}

func TestDiffEnterAndExit(t *testing.T) {
	previous := map[string]struct{}{"a": {}, "b": {}}
	entered, exited := Diff(previous, []string{"b", "c"})

	assert.ElementsMatch(t, []string{"c"}, entered)
	assert.ElementsMatch(t, []string{"a"}, exited)
}
