package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/apperrors"
	"github.com/traxcore/telemetry-core/pkg/models"
)

type fakeAccess struct {
	visible map[string][]string
}

func (f *fakeAccess) DevicesVisibleTo(_ context.Context, userRef string) ([]string, error) {
	return f.visible[userRef], nil
}

func TestQueryScopedToSingleVisibleDevice(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, st.InsertEvent(ctx, &models.Event{DeviceRef: "device-1", Type: models.EventAlarm}))
	require.NoError(t, st.InsertEvent(ctx, &models.Event{DeviceRef: "device-2", Type: models.EventAlarm}))

	svc := NewService(st, &fakeAccess{visible: map[string][]string{"user-1": {"device-1"}}})

	out, err := svc.Query(ctx, "user-1", store.EventFilter{DeviceRef: "device-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "device-1", out[0].DeviceRef)
}

func TestQueryRejectsDeviceOutsideFleet(t *testing.T) {
	st := store.NewMemStore()
	svc := NewService(st, &fakeAccess{visible: map[string][]string{"user-1": {"device-1"}}})

	_, err := svc.Query(context.Background(), "user-1", store.EventFilter{DeviceRef: "device-99"})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeForbidden, appErr.Code)
}

func TestQueryWithoutDeviceFilterCoversWholeFleet(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, st.InsertEvent(ctx, &models.Event{DeviceRef: "device-1", Type: models.EventAlarm}))
	require.NoError(t, st.InsertEvent(ctx, &models.Event{DeviceRef: "device-2", Type: models.EventAlarm}))
	require.NoError(t, st.InsertEvent(ctx, &models.Event{DeviceRef: "device-3", Type: models.EventAlarm}))

	svc := NewService(st, &fakeAccess{visible: map[string][]string{"user-1": {"device-1", "device-2"}}})

	out, err := svc.Query(ctx, "user-1", store.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, out, 2, "events for device-3 must never appear for a user who can't see it")
}
