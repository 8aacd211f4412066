package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// GT06 implements the common Chinese binary tracker protocol family:
// 0x78 0x78 <len> <protocol#> <payload> <serial:2> <crc:2> 0x0D 0x0A
// (§4.1).
type GT06 struct{}

func NewGT06() *GT06 { return &GT06{} }

func (GT06) Name() string      { return "gt06" }
func (GT06) Transport() string { return "tcp" }

const (
	gt06ProtoLogin    = 0x01
	gt06ProtoPosition = 0x12
	gt06ProtoHeartbeat = 0x13
	gt06ProtoAlarm    = 0x16
)

func (GT06) NewFramer() Framer {
	return &lengthPrefixedFramer{
		startBytes:   []byte{0x78, 0x78},
		lengthOffset: 2,
		trailerLen:   2, // length counts protocol#(1)+payload+serial(2)+crc(2); only stop(2) follows
		maxLen:       2048,
	}
}

func (GT06) Decode(message []byte, session *models.Session) (*DecodedMessage, error) {
	if len(message) < 10 {
		return nil, fmt.Errorf("%w: gt06 frame too short", ErrRejected)
	}
	protoNum := message[3]
	body := message[4 : len(message)-6] // strip header+length+proto, serial+crc+stop

	switch protoNum {
	case gt06ProtoLogin:
		if len(body) < 8 {
			return nil, fmt.Errorf("%w: gt06 login body too short", ErrRejected)
		}
		imei := decodeBCD(body[:8])
		return &DecodedMessage{
			Kind:     KindLogin,
			UniqueID: imei,
			Reply:    gt06Ack(message, protoNum),
		}, nil

	case gt06ProtoPosition, gt06ProtoAlarm:
		pos, err := decodeGT06Position(body)
		if err != nil {
			return nil, err
		}
		uniqueID := ""
		if session != nil {
			uniqueID = session.UniqueID
		}
		pos.UniqueID = uniqueID
	pos.Protocol = "gt06"
		if protoNum == gt06ProtoAlarm {
			pos.Attributes[attr.Alarm] = "gt06"
		}
		return &DecodedMessage{
			Kind:     KindPosition,
			UniqueID: uniqueID,
			Position: pos,
			Reply:    gt06Ack(message, protoNum),
		}, nil

	case gt06ProtoHeartbeat:
		return &DecodedMessage{Kind: KindHeartbeat, Reply: gt06Ack(message, protoNum)}, nil

	default:
		return &DecodedMessage{Kind: KindUnknown}, nil
	}
}

func decodeGT06Position(body []byte) (*DecodedPosition, error) {
	if len(body) < 18 {
		return nil, fmt.Errorf("%w: gt06 position body too short", ErrRejected)
	}

	year, month, day := int(body[0])+2000, int(body[1]), int(body[2])
	hour, minute, second := int(body[3]), int(body[4]), int(body[5])
	deviceTime := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)

	satellites := int(body[6] & 0x0F)

	rawLat := binary.BigEndian.Uint32(body[7:11])
	rawLon := binary.BigEndian.Uint32(body[11:15])
	lat := float64(rawLat) / 30000.0 / 60.0
	lon := float64(rawLon) / 30000.0 / 60.0

	speed := float64(body[15])

	courseStatus := binary.BigEndian.Uint16(body[16:18])
	course := float64(courseStatus & 0x03FF)
	latNegative := courseStatus&0x0400 == 0
	lonNegative := courseStatus&0x0800 == 0
	valid := courseStatus&0x1000 != 0

	if latNegative {
		lat = -lat
	}
	if lonNegative {
		lon = -lon
	}

	return &DecodedPosition{
		DeviceTime: deviceTime,
		FixTime:    &deviceTime,
		Latitude:   lat,
		Longitude:  lon,
		Valid:      valid,
		Speed:      floatPtr(speed),
		Course:     floatPtr(course),
		Attributes: map[string]interface{}{attr.Satellites: satellites},
	}, nil
}

// decodeBCD decodes a binary-coded-decimal IMEI, two digits per byte.
func decodeBCD(b []byte) string {
	digits := make([]byte, 0, len(b)*2)
	for _, v := range b {
		digits = append(digits, '0'+(v>>4), '0'+(v&0x0F))
	}
	// GT06 IMEIs are padded to 16 BCD digits from a 15-digit IMEI; drop a
	// leading zero pad if present.
	s := string(digits)
	if len(s) > 15 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

// gt06Ack builds the standard GT06 acknowledgment: same header, protocol
// number, and echoed serial, with a fresh CRC.
func gt06Ack(message []byte, protoNum byte) []byte {
	if len(message) < 6 {
		return nil
	}
	serial := message[len(message)-6 : len(message)-4]

	ack := make([]byte, 0, 10)
	ack = append(ack, 0x78, 0x78, 0x05, protoNum)
	ack = append(ack, serial...)
	crc := crc16X25(ack[2:])
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crc)
	ack = append(ack, crcBytes...)
	ack = append(ack, 0x0D, 0x0A)
	return ack
}

// crc16X25 computes the CRC-ITU (X.25) checksum GT06 uses for its frame
// trailer.
func crc16X25(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}

// EncodeCommand renders a command as a GT06 "0x80" server command
// packet; only a small, well-known subset is supported.
func (GT06) EncodeCommand(cmd *models.Command) ([]byte, error) {
	var content string
	switch cmd.Type {
	case models.CommandEngineStop:
		content = "RELAY,1#"
	case models.CommandEngineStart:
		content = "RELAY,0#"
	case models.CommandReboot:
		content = "RESET#"
	default:
		return nil, ErrCommandUnsupported
	}

	body := []byte(content)
	packet := make([]byte, 0, len(body)+10)
	packet = append(packet, 0x78, 0x78, byte(len(body)+5), 0x80, byte(len(body)))
	packet = append(packet, body...)
	crc := crc16X25(packet[2:])
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crc)
	packet = append(packet, crcBytes...)
	packet = append(packet, 0x0D, 0x0A)
	return packet, nil
}
