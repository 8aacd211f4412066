package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// Suntech implements the ST300-family text protocol: semicolon-delimited
// ASCII records terminated by a line break (§4.1, §8 scenario a).
//
//	ST300STT;<id>;<fw>;<model>;<date:YYYYMMDD>;<time:HH:MM:SS>;<cell>;
//	<lat>;<lon>;<speed>;<course>;<sat>;<fix>;<odometer>;<battery>;<io>;...
//
// The spec mandates field 1 (the second semicolon-delimited field) as the
// device id, overriding the source's conflicting prefix-based indexing
// (§9 open question).
type Suntech struct{}

func NewSuntech() *Suntech { return &Suntech{} }

func (Suntech) Name() string      { return "suntech" }
func (Suntech) Transport() string { return "tcp" }

// suntechMinFields covers every field index Decode accesses, up to and
// including parts[15] (the ignition/io field).
const suntechMinFields = 16

func (Suntech) NewFramer() Framer { return &lineFramer{maxLen: 8192} }

func (Suntech) Decode(message []byte, _ *models.Session) (*DecodedMessage, error) {
	line := strings.TrimSpace(string(message))
	if line == "" {
		return nil, fmt.Errorf("%w: empty suntech frame", ErrRejected)
	}
	parts := strings.Split(line, ";")
	if len(parts) < suntechMinFields {
		return nil, fmt.Errorf("%w: suntech frame has %d fields, want at least %d", ErrRejected, len(parts), suntechMinFields)
	}

	uniqueID := parts[1]

	lat, err1 := strconv.ParseFloat(parts[7], 64)
	lon, err2 := strconv.ParseFloat(parts[8], 64)
	speed, _ := strconv.ParseFloat(parts[9], 64)
	course, err4 := strconv.ParseFloat(parts[10], 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: suntech coordinates: %v / %v", ErrRejected, err1, err2)
	}

	deviceTime := parseSuntechTime(parts[4], parts[5])

	satellites, _ := strconv.Atoi(parts[11])
	valid := parts[12] == "1"
	battery, _ := strconv.ParseFloat(parts[14], 64)
	ignition := suntechIgnition(parts[15])

	attrs := map[string]interface{}{
		attr.Satellites: satellites,
		attr.Power:      battery,
		attr.Ignition:   ignition,
	}

	pos := &DecodedPosition{
		UniqueID:   uniqueID,
		Protocol:   "suntech",
		DeviceTime: deviceTime,
		FixTime:    &deviceTime,
		Latitude:   lat,
		Longitude:  lon,
		Valid:      valid,
		Speed:      floatPtr(speed),
		Attributes: attrs,
	}
	if err4 == nil {
		pos.Course = floatPtr(course)
	}

	return &DecodedMessage{Kind: KindPosition, UniqueID: uniqueID, Position: pos}, nil
}

func suntechIgnition(ioField string) bool {
	v, err := strconv.ParseInt(ioField, 16, 64)
	if err != nil {
		return false
	}
	return v&0x1 != 0
}

func parseSuntechTime(date, clock string) time.Time {
	t, err := time.Parse("20060102 15:04:05", date+" "+clock)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

func floatPtr(f float64) *float64 { return &f }

// EncodeCommand renders a subset of command types as Suntech ST300
// configuration strings. Unsupported types are rejected.
func (Suntech) EncodeCommand(cmd *models.Command) ([]byte, error) {
	switch cmd.Type {
	case models.CommandSetInterval:
		interval, _ := cmd.Parameters["interval"].(float64)
		return []byte(fmt.Sprintf("ST300CMD;02;%d\r\n", int(interval))), nil
	case models.CommandReboot:
		return []byte("ST300CMD;04;1\r\n"), nil
	case models.CommandEngineStop:
		return []byte("ST300CMD;80;1;1\r\n"), nil
	case models.CommandEngineStart:
		return []byte("ST300CMD;80;1;0\r\n"), nil
	default:
		return nil, ErrCommandUnsupported
	}
}
