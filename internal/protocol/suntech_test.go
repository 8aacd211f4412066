package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

func TestSuntechDecodePosition(t *testing.T) {
	line := "ST300STT;123456789012345;04;ST300;20240115;14:30:00;0;-23.550500;-46.633300;45.5;180.0;8;1;12345.6;87;01\n"

	msg, err := NewSuntech().Decode([]byte(line[:len(line)-1]), nil)
	require.NoError(t, err)
	require.NotNil(t, msg.Position)

	assert.Equal(t, "123456789012345", msg.UniqueID)
	assert.Equal(t, KindPosition, msg.Kind)
	assert.InDelta(t, -23.5505, msg.Position.Latitude, 1e-6)
	assert.InDelta(t, -46.6333, msg.Position.Longitude, 1e-6)
	require.NotNil(t, msg.Position.Speed)
	assert.InDelta(t, 45.5, *msg.Position.Speed, 1e-6)
	assert.True(t, msg.Position.Valid)
	assert.True(t, msg.Position.Attributes[attr.Ignition].(bool))
}

func TestSuntechDecodeRejectsShortFrame(t *testing.T) {
	_, err := NewSuntech().Decode([]byte("ST300STT;1;2"), nil)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSuntechEncodeCommand(t *testing.T) {
	cmd := &models.Command{Type: models.CommandEngineStop}
	out, err := NewSuntech().EncodeCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, "ST300CMD;80;1;1\r\n", string(out))

	_, err = NewSuntech().EncodeCommand(&models.Command{Type: models.CommandSetGeofence})
	assert.ErrorIs(t, err, ErrCommandUnsupported)
}
