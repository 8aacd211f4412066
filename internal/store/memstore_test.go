package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/pkg/models"
)

func TestMemStoreDeviceLookup(t *testing.T) {
	s := NewMemStore()
	d := s.PutDevice(&models.Device{UniqueID: "123456789012345"})

	got, err := s.DeviceByUniqueID(context.Background(), "123456789012345")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ID, got.ID)

	missing, err := s.DeviceByUniqueID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemStoreLatestPositionForDevice(t *testing.T) {
	s := NewMemStore()
	d := s.PutDevice(&models.Device{UniqueID: "dev-1"})
	ctx := context.Background()

	older := &models.Position{DeviceRef: &d.ID, ServerTime: time.Unix(1000, 0)}
	newer := &models.Position{DeviceRef: &d.ID, ServerTime: time.Unix(2000, 0)}
	require.NoError(t, s.InsertPosition(ctx, older))
	require.NoError(t, s.InsertPosition(ctx, newer))

	latest, err := s.LatestPositionForDevice(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)
}

func TestMemStorePositionHistoryOrdersByTimeAndFilters(t *testing.T) {
	s := NewMemStore()
	d := s.PutDevice(&models.Device{UniqueID: "dev-1"})
	ctx := context.Background()

	for _, sec := range []int64{3000, 1000, 2000, 9000} {
		require.NoError(t, s.InsertPosition(ctx, &models.Position{
			DeviceRef:  &d.ID,
			ServerTime: time.Unix(sec, 0),
		}))
	}

	history, err := s.PositionHistory(ctx, d.ID, time.Unix(500, 0), time.Unix(2500, 0))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].ServerTime.Before(history[1].ServerTime))
}

func TestMemStorePopReadyCommandsOrdersByPriorityThenFIFO(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	early := time.Unix(1000, 0)
	late := time.Unix(2000, 0)

	low := &models.Command{Status: models.StatusQueued, Priority: models.PriorityLow, QueuedAt: &early}
	highEarly := &models.Command{Status: models.StatusQueued, Priority: models.PriorityHigh, QueuedAt: &early}
	highLate := &models.Command{Status: models.StatusQueued, Priority: models.PriorityHigh, QueuedAt: &late}
	sent := &models.Command{Status: models.StatusSent, Priority: models.PriorityCritical, QueuedAt: &early}

	for _, c := range []*models.Command{low, highEarly, highLate, sent} {
		require.NoError(t, s.UpsertCommand(ctx, c))
	}

	ready, err := s.PopReadyCommands(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, highEarly.ID, ready[0].ID)
	assert.Equal(t, highLate.ID, ready[1].ID)
	assert.Equal(t, low.ID, ready[2].ID)
}

func TestMemStoreUpsertUnknownDeviceTouchesLastSeen(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	first, err := s.UpsertUnknownDevice(ctx, "999", "suntech", "tcp", 5011, time.Unix(1000, 0))
	require.NoError(t, err)

	second, err := s.UpsertUnknownDevice(ctx, "999", "suntech", "tcp", 5011, time.Unix(2000, 0))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, time.Unix(2000, 0), second.LastSeen)
}

func TestMemStoreActiveGeofencesExcludesDisabled(t *testing.T) {
	s := NewMemStore()
	s.PutGeofence(&models.Geofence{Name: "active", Disabled: false})
	s.PutGeofence(&models.Geofence{Name: "off", Disabled: true})

	active, err := s.ActiveGeofences(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active", active[0].Name)
}
