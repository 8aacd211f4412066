package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/pkg/models"
)

func TestH02DecodePosition(t *testing.T) {
	frame := "*HQ,1234567890,V1,143000,A,2333.0300,S,04638.0000,W,025.0,180.0,150124,01,00#"

	msg, err := NewH02().Decode([]byte(frame), nil)
	require.NoError(t, err)
	require.NotNil(t, msg.Position)
	assert.Equal(t, "1234567890", msg.UniqueID)
	assert.True(t, msg.Position.Valid)
	assert.InDelta(t, -23.55, msg.Position.Latitude, 1e-2)
	assert.InDelta(t, -46.6333, msg.Position.Longitude, 1e-2)
}

func TestH02DecodeRejectsShortFrame(t *testing.T) {
	_, err := NewH02().Decode([]byte("*HQ,1#"), nil)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestH02EncodeCommand(t *testing.T) {
	out, err := NewH02().EncodeCommand(&models.Command{Type: models.CommandEngineStop})
	require.NoError(t, err)
	assert.Equal(t, "*HQ,RELAY,1#", string(out))

	_, err = NewH02().EncodeCommand(&models.Command{Type: models.CommandReboot})
	assert.ErrorIs(t, err, ErrCommandUnsupported)
}

func TestTerminatorFramer(t *testing.T) {
	f := &terminatorFramer{terminator: '#', maxLen: 64}

	partial := []byte("*HQ,123")
	assert.Equal(t, FrameNeedMore, f.Frame(partial).Result)

	full := []byte("*HQ,123#")
	result := f.Frame(full)
	assert.Equal(t, FrameOK, result.Result)
	assert.Equal(t, len(full), result.Consumed)
	assert.Equal(t, "*HQ,123", string(result.Message))
}
