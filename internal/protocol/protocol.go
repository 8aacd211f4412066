// Package protocol defines the contract every tracker protocol
// implements (§4.1) plus the ingestion manager that starts/stops the
// configured listeners.
package protocol

import (
	"errors"
	"time"

	"github.com/traxcore/telemetry-core/pkg/models"
)

// FrameResult is the outcome of one Framer.Frame call.
type FrameResult int

const (
	// FrameOK means a complete frame was extracted; Consumed bytes were
	// used from the head of the buffer.
	FrameOK FrameResult = iota
	// FrameNeedMore means the buffer does not yet hold a full frame;
	// the framer must be re-entered once more bytes arrive.
	FrameNeedMore
	// FrameBad means the buffer's head contains an unrecoverable frame;
	// the caller discards Consumed bytes and continues scanning.
	FrameBad
)

// Frame is one raw protocol message extracted from the transport stream,
// along with the byte count consumed from the input buffer.
type Frame struct {
	Result   FrameResult
	Message  []byte
	Consumed int
}

// Framer splits a byte stream into discrete protocol messages. It must
// never block: Frame is pure over the buffer it is given.
type Framer interface {
	Frame(buf []byte) Frame
}

// MessageKind classifies a decoded message.
type MessageKind string

const (
	KindLogin    MessageKind = "login"
	KindPosition MessageKind = "position"
	KindHeartbeat MessageKind = "heartbeat"
	KindCommandAck MessageKind = "command_ack"
	KindUnknown  MessageKind = "unknown"
)

// DecodedPosition is the protocol-neutral intermediate produced by a
// Decoder for a position message, before device identity is resolved.
type DecodedPosition struct {
	UniqueID  string
	Protocol  string
	DeviceTime time.Time
	FixTime   *time.Time
	Latitude  float64
	Longitude float64
	Valid     bool
	Speed     *float64 // km/h, already normalized
	Course    *float64
	Altitude  *float64
	Accuracy  *float64
	Attributes map[string]interface{}
}

// DecodedMessage is what Decoder.Decode returns for any message kind.
type DecodedMessage struct {
	Kind     MessageKind
	UniqueID string
	Position *DecodedPosition
	Ack      *CommandAck // set when Kind == KindCommandAck
	Reply    []byte      // bytes the listener should write back (ack/keep-alive), may be nil
}

// CommandAck correlates a device reply to an outstanding Command (§4.7).
type CommandAck struct {
	CorrelationID string
	Executed      bool
	Response      string
}

var ErrRejected = errors.New("protocol: message rejected")

// Decoder turns one framed message into a DecodedMessage, given the
// session it arrived on (so it may bind device identity on a login
// frame).
type Decoder interface {
	Decode(message []byte, session *models.Session) (*DecodedMessage, error)
}

// CommandEncoder renders an outbound Command into protocol-specific wire
// bytes. Returns ErrCommandUnsupported if the protocol cannot express the
// command type.
type CommandEncoder interface {
	EncodeCommand(cmd *models.Command) ([]byte, error)
}

var ErrCommandUnsupported = errors.New("protocol: command type unsupported")

// Protocol bundles the per-protocol contract pieces the ingestion
// manager and listeners need (§4.1).
type Protocol interface {
	Name() string
	Transport() string // "tcp", "udp", or "http"
	NewFramer() Framer
	Decoder
	CommandEncoder
}
