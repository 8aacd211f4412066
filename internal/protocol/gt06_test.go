package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/pkg/models"
)

func buildGT06Frame(protoNum byte, body []byte) []byte {
	frame := make([]byte, 0, len(body)+10)
	frame = append(frame, 0x78, 0x78, byte(len(body)+5), protoNum)
	frame = append(frame, body...)
	frame = append(frame, 0x00, 0x01) // serial
	frame = append(frame, 0x00, 0x00) // crc placeholder, unchecked on decode
	frame = append(frame, 0x0D, 0x0A)
	return frame
}

func TestGT06DecodeLogin(t *testing.T) {
	imeiBCD := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0x01, 0x23, 0x45}
	frame := buildGT06Frame(gt06ProtoLogin, imeiBCD)

	msg, err := NewGT06().Decode(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, KindLogin, msg.Kind)
	assert.Equal(t, "123456789012345", msg.UniqueID)
	assert.NotNil(t, msg.Reply)
}

func TestGT06DecodePosition(t *testing.T) {
	body := make([]byte, 18)
	body[0], body[1], body[2] = 24, 1, 15 // 2024-01-15
	body[3], body[4], body[5] = 14, 30, 0
	body[6] = 0x08 // 8 satellites

	lat := uint32(23.5505 * 30000 * 60)
	lon := uint32(46.6333 * 30000 * 60)
	binary.BigEndian.PutUint32(body[7:11], lat)
	binary.BigEndian.PutUint32(body[11:15], lon)
	body[15] = 45 // speed

	var courseStatus uint16 = 180 | 0x1000 // course=180, valid bit set, lat/lon negative bits clear -> negative
	binary.BigEndian.PutUint16(body[16:18], courseStatus)

	frame := buildGT06Frame(gt06ProtoPosition, body)
	session := &models.Session{UniqueID: "123456789012345"}

	msg, err := NewGT06().Decode(frame, session)
	require.NoError(t, err)
	require.NotNil(t, msg.Position)
	assert.Equal(t, "123456789012345", msg.UniqueID)
	assert.True(t, msg.Position.Valid)
	assert.InDelta(t, -23.5505, msg.Position.Latitude, 1e-3)
	assert.InDelta(t, -46.6333, msg.Position.Longitude, 1e-3)
}

func TestGT06EncodeCommand(t *testing.T) {
	out, err := NewGT06().EncodeCommand(&models.Command{Type: models.CommandReboot})
	require.NoError(t, err)
	assert.Equal(t, byte(0x78), out[0])
	assert.Equal(t, byte(0x78), out[1])
	assert.Equal(t, byte(0x80), out[3])
	assert.Equal(t, byte(0x0D), out[len(out)-2])
	assert.Equal(t, byte(0x0A), out[len(out)-1])

	_, err = NewGT06().EncodeCommand(&models.Command{Type: models.CommandSetGeofence})
	assert.ErrorIs(t, err, ErrCommandUnsupported)
}

func TestLengthPrefixedFramerNeedsMoreAndOK(t *testing.T) {
	framer := &lengthPrefixedFramer{startBytes: []byte{0x78, 0x78}, lengthOffset: 2, trailerLen: 2, maxLen: 2048}

	partial := []byte{0x78, 0x78, 0x05}
	assert.Equal(t, FrameNeedMore, framer.Frame(partial).Result)

	full := buildGT06Frame(gt06ProtoHeartbeat, nil)
	result := framer.Frame(full)
	assert.Equal(t, FrameOK, result.Result)
	assert.Equal(t, len(full), result.Consumed)
}
