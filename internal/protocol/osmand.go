package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// OsmAnd implements the OsmAnd Tracker app's HTTP reporting protocol
// (§4.1, §6, §8 scenario b). Unlike the TCP/binary protocols it carries
// no framing step: each HTTP request is exactly one position report, in
// one of two shapes:
//
//   - query-string (GET or POST form): id, lat, lon, timestamp, speed,
//     course, altitude, accuracy, battery, valid, motion
//   - JSON body: {"device_id", "location": {"timestamp", "coords": {...},
//     "event", "is_moving"}, "battery", "network": {...}}
//
// OsmAnd does not implement Framer/Decoder; the ingestion manager
// recognizes Transport() == "http" and routes requests to DecodeHTTP
// instead.
type OsmAnd struct{}

func NewOsmAnd() *OsmAnd { return &OsmAnd{} }

func (OsmAnd) Name() string      { return "osmand" }
func (OsmAnd) Transport() string { return "http" }

// NewFramer is unused for the http transport; present only to satisfy
// the Protocol interface.
func (OsmAnd) NewFramer() Framer { return nil }

// Decode is unused for the http transport; present only to satisfy the
// Protocol interface. See DecodeHTTP.
func (OsmAnd) Decode(_ []byte, _ *models.Session) (*DecodedMessage, error) {
	return nil, fmt.Errorf("%w: osmand decodes over http, not a framed stream", ErrRejected)
}

// osmandJSONBody mirrors the nested shape the OsmAnd Tracker Android
// client posts when configured for JSON reporting.
type osmandJSONBody struct {
	DeviceID string `json:"device_id"`
	Location struct {
		Timestamp string `json:"timestamp"`
		Coords    struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Speed     float64 `json:"speed"`
			Heading   float64 `json:"heading"`
			Altitude  float64 `json:"altitude"`
			Accuracy  float64 `json:"accuracy"`
		} `json:"coords"`
		Event    string `json:"event"`
		IsMoving bool   `json:"is_moving"`
	} `json:"location"`
	Battery float64 `json:"battery"`
	Network struct {
		Wifi string `json:"wifi"`
		Cell string `json:"cell"`
	} `json:"network"`
}

// DecodeHTTP parses one OsmAnd HTTP report. It accepts query-string
// parameters (GET or form-encoded POST) and falls back to a JSON body
// when the request carries application/json.
func (OsmAnd) DecodeHTTP(r *http.Request) (*DecodedMessage, error) {
	if ct := r.Header.Get("Content-Type"); len(ct) >= 16 && ct[:16] == "application/json" {
		return decodeOsmAndJSON(r)
	}
	return decodeOsmAndQuery(r)
}

func decodeOsmAndQuery(r *http.Request) (*DecodedMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: osmand form parse: %v", ErrRejected, err)
	}
	q := r.Form

	uniqueID := q.Get("id")
	if uniqueID == "" {
		return nil, fmt.Errorf("%w: osmand report missing id", ErrRejected)
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: osmand lat: %v", ErrRejected, err)
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: osmand lon: %v", ErrRejected, err)
	}

	deviceTime := time.Now().UTC()
	if ts := q.Get("timestamp"); ts != "" {
		if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
			deviceTime = time.Unix(secs, 0).UTC()
		}
	}

	attrs := map[string]interface{}{}
	if battery := q.Get("battery"); battery != "" {
		if v, err := strconv.ParseFloat(battery, 64); err == nil {
			attrs[attr.Power] = v
		}
	}
	if motion := q.Get("motion"); motion != "" {
		attrs[attr.Motion] = motion == "1" || motion == "true"
	}

	valid := true
	if v := q.Get("valid"); v != "" {
		valid = v == "1" || v == "true"
	}

	pos := &DecodedPosition{
		UniqueID:   uniqueID,
		Protocol:   "osmand",
		DeviceTime: deviceTime,
		FixTime:    &deviceTime,
		Latitude:   lat,
		Longitude:  lon,
		Valid:      valid,
		Speed:      parseOptionalFloat(q.Get("speed")),
		Course:     parseOptionalFloat(q.Get("course")),
		Altitude:   parseOptionalFloat(q.Get("altitude")),
		Accuracy:   parseOptionalFloat(q.Get("accuracy")),
		Attributes: attrs,
	}
	return &DecodedMessage{Kind: KindPosition, UniqueID: uniqueID, Position: pos}, nil
}

func decodeOsmAndJSON(r *http.Request) (*DecodedMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: osmand body read: %v", ErrRejected, err)
	}
	var payload osmandJSONBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: osmand json decode: %v", ErrRejected, err)
	}
	if payload.DeviceID == "" {
		return nil, fmt.Errorf("%w: osmand json report missing device_id", ErrRejected)
	}

	deviceTime := time.Now().UTC()
	if payload.Location.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, payload.Location.Timestamp); err == nil {
			deviceTime = t.UTC()
		}
	}

	attrs := map[string]interface{}{
		attr.Power:  payload.Battery,
		attr.Motion: payload.Location.IsMoving,
	}
	if payload.Network.Wifi != "" {
		attrs[attr.NetworkType] = payload.Network.Wifi
	} else if payload.Network.Cell != "" {
		attrs[attr.NetworkType] = payload.Network.Cell
	}
	if payload.Location.Event != "" {
		attrs[attr.EventType] = payload.Location.Event
	}

	coords := payload.Location.Coords
	pos := &DecodedPosition{
		UniqueID:   payload.DeviceID,
		Protocol:   "osmand",
		DeviceTime: deviceTime,
		FixTime:    &deviceTime,
		Latitude:   coords.Latitude,
		Longitude:  coords.Longitude,
		Valid:      true,
		Speed:      floatPtr(coords.Speed),
		Course:     floatPtr(coords.Heading),
		Altitude:   floatPtr(coords.Altitude),
		Accuracy:   floatPtr(coords.Accuracy),
		Attributes: attrs,
	}
	return &DecodedMessage{Kind: KindPosition, UniqueID: payload.DeviceID, Position: pos}, nil
}

func parseOptionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// EncodeCommand: OsmAnd is a report-only protocol with no downstream
// channel back to the device.
func (OsmAnd) EncodeCommand(_ *models.Command) ([]byte, error) {
	return nil, ErrCommandUnsupported
}
