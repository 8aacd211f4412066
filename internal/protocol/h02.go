package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// H02 implements the common H02 ASCII protocol:
// *HQ,<id>,V1,<time:HHMMSS>,<status A/V>,<lat>,<N/S>,<lon>,<E/W>,<speed>,
// <course>,<date:DDMMYY>,<io_status>,<alarm>#
// (§4.1).
type H02 struct{}

func NewH02() *H02 { return &H02{} }

func (H02) Name() string      { return "h02" }
func (H02) Transport() string { return "tcp" }

func (H02) NewFramer() Framer { return &terminatorFramer{terminator: '#', maxLen: 512} }

func (H02) Decode(message []byte, _ *models.Session) (*DecodedMessage, error) {
	text := strings.TrimSpace(strings.Trim(string(message), "*#"))
	parts := strings.Split(text, ",")
	// 12 fields covers every index Decode accesses, including parts[11]
	// (the date field consumed by parseH02Time).
	if len(parts) < 12 {
		return nil, fmt.Errorf("%w: h02 frame has %d fields", ErrRejected, len(parts))
	}
	// parts[0] == "HQ"
	uniqueID := parts[1]

	deviceTime := parseH02Time(parts[3], parts[11])
	valid := parts[4] == "A"

	lat, err := parseH02Coordinate(parts[5], parts[6], true)
	if err != nil {
		return nil, err
	}
	lon, err := parseH02Coordinate(parts[7], parts[8], false)
	if err != nil {
		return nil, err
	}

	speedKnots, _ := strconv.ParseFloat(parts[9], 64)
	speedKMH := speedKnots * 1.852
	course, _ := strconv.ParseFloat(parts[10], 64)

	attrs := map[string]interface{}{}
	if len(parts) > 12 {
		ioStatus := parts[12]
		attrs[attr.Ignition] = ioStatusBit(ioStatus, 0)
	}

	pos := &DecodedPosition{
		UniqueID:   uniqueID,
		Protocol:   "h02",
		DeviceTime: deviceTime,
		FixTime:    &deviceTime,
		Latitude:   lat,
		Longitude:  lon,
		Valid:      valid,
		Speed:      floatPtr(speedKMH),
		Course:     floatPtr(course),
		Attributes: attrs,
	}

	return &DecodedMessage{Kind: KindPosition, UniqueID: uniqueID, Position: pos}, nil
}

// parseH02Coordinate parses H02's DDMM.MMMM / DDDMM.MMMM sexagesimal
// coordinate encoding into decimal degrees. Longitude carries an extra
// leading degree digit but the DDMM.MMMM/100 split is the same either way.
func parseH02Coordinate(raw, hemisphere string, _ bool) (float64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: h02 coordinate %q: %v", ErrRejected, raw, err)
	}

	degrees := float64(int(value / 100))
	minutes := value - degrees*100

	decimal := degrees + minutes/60
	if hemisphere == "S" || hemisphere == "W" {
		decimal = -decimal
	}
	return decimal, nil
}

func parseH02Time(clock, date string) time.Time {
	if len(clock) < 6 || len(date) < 6 {
		return time.Now().UTC()
	}
	t, err := time.Parse("020106 150405", date+" "+clock)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

func ioStatusBit(hex string, bit uint) bool {
	v, err := strconv.ParseInt(hex, 16, 64)
	if err != nil {
		return false
	}
	return v&(1<<bit) != 0
}

// terminatorFramer splits a byte stream on a single terminator byte,
// used by protocols like H02 whose frames end in '#' rather than a line
// break.
type terminatorFramer struct {
	terminator byte
	maxLen     int
}

func (f *terminatorFramer) Frame(buf []byte) Frame {
	idx := -1
	for i, b := range buf {
		if b == f.terminator {
			idx = i
			break
		}
	}
	if idx < 0 {
		if f.maxLen > 0 && len(buf) > f.maxLen {
			return Frame{Result: FrameBad, Consumed: len(buf)}
		}
		return Frame{Result: FrameNeedMore}
	}

	consumed := idx + 1
	if f.maxLen > 0 && consumed > f.maxLen {
		return Frame{Result: FrameBad, Consumed: consumed}
	}

	out := make([]byte, idx)
	copy(out, buf[:idx])
	return Frame{Result: FrameOK, Message: out, Consumed: consumed}
}

// EncodeCommand renders a command as an H02 text control frame.
func (H02) EncodeCommand(cmd *models.Command) ([]byte, error) {
	switch cmd.Type {
	case models.CommandEngineStop:
		return []byte("*HQ,RELAY,1#"), nil
	case models.CommandEngineStart:
		return []byte("*HQ,RELAY,0#"), nil
	default:
		return nil, ErrCommandUnsupported
	}
}
