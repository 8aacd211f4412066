package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/pkg/models"
)

func TestOpenAndIdentify(t *testing.T) {
	r := NewRegistry(nil)
	now := time.Now()

	s := r.Open("conn-1", "1.2.3.4:555", "suntech", 5011, now)
	assert.False(t, s.Identified())

	r.Identify(s, "device-1", "imei-1")
	assert.True(t, s.Identified())

	found, ok := r.ByDevice("device-1")
	require.True(t, ok)
	assert.Same(t, s, found)
}

func TestIdentifySupersedesPreviousSession(t *testing.T) {
	var offlined []string
	r := NewRegistry(func(deviceRef string, _ *models.Session) {
		offlined = append(offlined, deviceRef)
	})
	now := time.Now()

	s1 := r.Open("conn-1", "1.1.1.1:1", "suntech", 5011, now)
	r.Identify(s1, "device-1", "imei-1")

	s2 := r.Open("conn-2", "2.2.2.2:2", "suntech", 5011, now)
	r.Identify(s2, "device-1", "imei-1")

	assert.Equal(t, []string{"device-1"}, offlined)
	found, ok := r.ByDevice("device-1")
	require.True(t, ok)
	assert.Same(t, s2, found)

	_, ok = r.ByHandle("conn-1")
	assert.False(t, ok)
}

func TestCloseReportsOffline(t *testing.T) {
	var offlined []string
	r := NewRegistry(func(deviceRef string, _ *models.Session) {
		offlined = append(offlined, deviceRef)
	})
	now := time.Now()

	s := r.Open("conn-1", "1.1.1.1:1", "suntech", 5011, now)
	r.Identify(s, "device-1", "imei-1")

	r.Close("conn-1")

	assert.Equal(t, []string{"device-1"}, offlined)
	assert.Equal(t, 0, r.Count())
}

func TestSweepIdleClosesStaleSessions(t *testing.T) {
	r := NewRegistry(nil)
	now := time.Now()

	s := r.Open("conn-1", "1.1.1.1:1", "suntech", 5011, now.Add(-time.Hour))
	r.Identify(s, "device-1", "imei-1")

	offline := r.SweepIdle(now, 10*time.Minute)

	assert.Equal(t, []string{"device-1"}, offline)
	assert.Equal(t, 0, r.Count())
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	r := NewRegistry(nil)
	start := time.Now().Add(-time.Hour)
	r.Open("conn-1", "1.1.1.1:1", "suntech", 5011, start)

	later := time.Now()
	r.Touch("conn-1", later)

	s, ok := r.ByHandle("conn-1")
	require.True(t, ok)
	assert.WithinDuration(t, later, s.LastSeen, time.Second)
}
