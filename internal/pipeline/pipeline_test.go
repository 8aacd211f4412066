package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/geofence"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/protocol"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		TripGapDuration:     30 * time.Minute,
		MotionThresholdM:    50,
		MotionTimeout:       300 * time.Second,
		DefaultSpeedLimit:   80,
		OverspeedThreshold:  5,
		MinSpeedForDetect:   10,
		ClockSkewBound:      5 * time.Minute,
		ShutdownGracePeriod: time.Second,
	}
}

func testLogger() *logging.Logger {
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = io.Discard
	return logging.NewLogger(cfg)
}

type fakePublisher struct {
	positions []*models.Position
	events    []*models.Event
	statuses  []*models.Device
}

func (f *fakePublisher) PublishPosition(_ context.Context, p *models.Position) { f.positions = append(f.positions, p) }
func (f *fakePublisher) PublishEvent(_ context.Context, e *models.Event)       { f.events = append(f.events, e) }
func (f *fakePublisher) PublishDeviceStatus(_ context.Context, d *models.Device) {
	f.statuses = append(f.statuses, d)
}

func newTestProcessor(t *testing.T) (*Processor, *store.MemStore, *fakePublisher) {
	t.Helper()
	st := store.NewMemStore()
	cache := geofence.NewCache()
	pub := &fakePublisher{}
	p := NewProcessor(testConfig(), testLogger(), st, cache, pub, 4)
	t.Cleanup(p.Stop)
	return p, st, pub
}

func decodedAt(lat, lon float64, speed *float64) *protocol.DecodedPosition {
	return &protocol.DecodedPosition{
		UniqueID:   "123456789012345",
		Protocol:   "osmand",
		DeviceTime: time.Now().UTC(),
		Latitude:   lat,
		Longitude:  lon,
		Valid:      true,
		Speed:      speed,
		Attributes: map[string]interface{}{},
	}
}

func speedPtr(v float64) *float64 { return &v }

func TestHandleUnknownDevicePersistsWithoutEventsOrBroadcast(t *testing.T) {
	p, st, pub := newTestProcessor(t)
	ctx := context.Background()

	p.handle(ctx, "unknown-device-1", decodedAt(-23.5505, -46.6333, nil))

	device, err := st.DeviceByUniqueID(ctx, "unknown-device-1")
	require.NoError(t, err)
	assert.Nil(t, device, "no Device record was ever registered for this unique id")

	assert.Empty(t, pub.positions, "unknown-device traffic must never fan out")
	assert.Empty(t, pub.events, "unknown-device traffic must never synthesize events")
}

func TestHandleBasicIngestionStoresOnePosition(t *testing.T) {
	p, st, pub := newTestProcessor(t)
	ctx := context.Background()

	device := st.PutDevice(&models.Device{UniqueID: "dev-1", Status: models.DeviceStatusUnknown})

	p.handle(ctx, "dev-1", decodedAt(-23.5505, -46.6333, speedPtr(40)))

	latest, err := st.LatestPositionForDevice(ctx, device.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "osmand", latest.Protocol)
	assert.Equal(t, -23.5505, latest.Latitude)

	require.Len(t, pub.positions, 1)
	assert.Equal(t, models.DeviceStatusOnline, device.Status)
	require.Len(t, pub.statuses, 1, "device was offline/unknown, online transition must broadcast")
}

func TestHandleGeofenceEnterAndExit(t *testing.T) {
	p, st, pub := newTestProcessor(t)
	ctx := context.Background()

	st.PutDevice(&models.Device{UniqueID: "dev-2", Status: models.DeviceStatusOnline})
	st.PutGeofence(&models.Geofence{
		Name: "depot",
		Type: models.GeometryCircle,
		Geometry: models.Geometry{
			Type:   models.GeometryCircle,
			Center: models.LonLat{-46.6333, -23.5505},
			Radius: 500,
		},
	})
	active, err := st.ActiveGeofences(ctx)
	require.NoError(t, err)
	p.geofences.Reload(active)

	// Inside the depot circle.
	p.handle(ctx, "dev-2", decodedAt(-23.5505, -46.6333, nil))
	// Far outside it.
	p.handle(ctx, "dev-2", decodedAt(-23.7000, -46.9000, nil))

	var enters, exits int
	for _, e := range pub.events {
		switch e.Type {
		case models.EventGeofenceEnter:
			enters++
		case models.EventGeofenceExit:
			exits++
		}
	}
	assert.Equal(t, 1, enters)
	assert.Equal(t, 1, exits)
}

func TestHandleOverspeedHysteresisSequence(t *testing.T) {
	p, st, pub := newTestProcessor(t)
	ctx := context.Background()

	st.PutDevice(&models.Device{UniqueID: "dev-3", Status: models.DeviceStatusOnline})

	speeds := []float64{70, 86, 90, 70}
	lat, lon := -23.5505, -46.6333
	for i, s := range speeds {
		// Nudge coordinates slightly each step so the duplicate filter
		// never rejects a report (§4.3 step 2).
		lat += float64(i) * 0.0001
		p.handle(ctx, "dev-3", decodedAt(lat, lon, speedPtr(s)))
	}

	var overspeedEvents int
	for _, e := range pub.events {
		if e.Type == models.EventDeviceOverspeed {
			overspeedEvents++
		}
	}
	assert.Equal(t, 1, overspeedEvents, "overspeed fires once on crossing limit+threshold, not again while still over")

	device, err := st.DeviceByUniqueID(ctx, "dev-3")
	require.NoError(t, err)
	assert.False(t, device.OverspeedState, "speed dropping to 70 (<= 80 limit) must clear overspeed state")
}

func TestHandleDuplicatePositionIsNoop(t *testing.T) {
	p, st, pub := newTestProcessor(t)
	ctx := context.Background()

	st.PutDevice(&models.Device{UniqueID: "dev-4", Status: models.DeviceStatusOnline})

	decoded := decodedAt(-23.5505, -46.6333, speedPtr(30))
	fixTime := time.Now().UTC()
	decoded.FixTime = &fixTime

	p.handle(ctx, "dev-4", decoded)
	firstCount := len(pub.positions)

	p.handle(ctx, "dev-4", decoded)
	assert.Equal(t, firstCount, len(pub.positions), "reprocessing an identical (device, fix_time, lat, lon) report must not persist or broadcast again")
}

func TestHandleOutOfRangeCoordinatesRejected(t *testing.T) {
	p, st, pub := newTestProcessor(t)
	ctx := context.Background()

	device := st.PutDevice(&models.Device{UniqueID: "dev-5", Status: models.DeviceStatusOnline})
	p.handle(ctx, "dev-5", decodedAt(95, 0, nil))

	assert.Empty(t, pub.positions)
	latest, err := st.LatestPositionForDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}
