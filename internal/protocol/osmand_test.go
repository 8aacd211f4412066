package protocol

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOsmAndDecodeHTTPQueryString(t *testing.T) {
	q := url.Values{}
	q.Set("id", "test-device-001")
	q.Set("lat", "-23.5505")
	q.Set("lon", "-46.6333")
	q.Set("timestamp", "1700000000")
	q.Set("speed", "15.5")
	q.Set("course", "180.0")
	q.Set("altitude", "760.0")
	q.Set("accuracy", "5.0")
	q.Set("battery", "85.0")
	q.Set("valid", "1")
	q.Set("motion", "1")

	req := httptest.NewRequest(http.MethodGet, "/?"+q.Encode(), nil)

	msg, err := NewOsmAnd().DecodeHTTP(req)
	require.NoError(t, err)
	require.NotNil(t, msg.Position)
	assert.Equal(t, "test-device-001", msg.UniqueID)
	assert.InDelta(t, -23.5505, msg.Position.Latitude, 1e-6)
	assert.InDelta(t, -46.6333, msg.Position.Longitude, 1e-6)
	require.NotNil(t, msg.Position.Speed)
	assert.InDelta(t, 15.5, *msg.Position.Speed, 1e-6)
	assert.True(t, msg.Position.Valid)
}

func TestOsmAndDecodeHTTPJSON(t *testing.T) {
	body := `{
		"device_id": "test-device-002",
		"location": {
			"timestamp": "2024-01-15T14:30:00Z",
			"coords": {"latitude": -23.5505, "longitude": -46.6333, "speed": 15.5, "heading": 180.0, "altitude": 760.0, "accuracy": 5.0},
			"event": "location_update",
			"is_moving": true
		},
		"battery": 85.0,
		"network": {"wifi": "TestWiFi", "cell": "TestCell"}
	}`

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	msg, err := NewOsmAnd().DecodeHTTP(req)
	require.NoError(t, err)
	require.NotNil(t, msg.Position)
	assert.Equal(t, "test-device-002", msg.UniqueID)
	assert.InDelta(t, -23.5505, msg.Position.Latitude, 1e-6)
	assert.InDelta(t, -46.6333, msg.Position.Longitude, 1e-6)
}

func TestOsmAndDecodeHTTPMissingID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?lat=1&lon=2", nil)
	_, err := NewOsmAnd().DecodeHTTP(req)
	assert.ErrorIs(t, err, ErrRejected)
}
