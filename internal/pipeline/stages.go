package pipeline

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/traxcore/telemetry-core/internal/protocol"
	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

const earthRadiusM = 6371000.0

// haversine returns the great-circle distance in meters between two
// WGS-84 points (§4.3 step 3).
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// toPosition builds the canonical Position from a decoded wire message.
// The id is assigned here, rather than left to the store's create hook,
// because later stages need a stable PositionRef before the record is
// ever persisted (events reference the position they arose from).
func toPosition(deviceID string, decoded *protocol.DecodedPosition) *models.Position {
	p := &models.Position{
		ID:         uuid.New().String(),
		Protocol:   decoded.Protocol,
		ServerTime: time.Now().UTC(),
		DeviceTime: timePtr(decoded.DeviceTime),
		FixTime:    decoded.FixTime,
		Latitude:   decoded.Latitude,
		Longitude:  decoded.Longitude,
		Valid:      decoded.Valid,
		Speed:      decoded.Speed,
		Course:     decoded.Course,
		Altitude:   decoded.Altitude,
		Accuracy:   decoded.Accuracy,
		Attributes: attr.FromMap(decoded.Attributes),
	}
	if deviceID != "" {
		p.DeviceRef = &deviceID
	}
	return p
}

func timePtr(t time.Time) *time.Time { return &t }

// isDuplicate reports whether current repeats previous under the
// contract's duplicate definition: identical fix time and coordinates
// for the same device (§4.3 step 2).
func isDuplicate(previous, current *models.Position) bool {
	return previous.EffectiveFixTime().Equal(current.EffectiveFixTime()) &&
		previous.Latitude == current.Latitude &&
		previous.Longitude == current.Longitude
}

// enrich computes distance from the previous accepted position and
// derives the raw motion flag when the wire didn't report one (§4.3 step
// 3).
func enrich(position, previous *models.Position, tripGap time.Duration, motionSpeedThresholdKMH float64) {
	if previous == nil {
		position.Distance = 0
	} else if position.ServerTime.Sub(previous.ServerTime) > tripGap {
		position.Distance = 0
	} else {
		position.Distance = haversine(previous.Latitude, previous.Longitude, position.Latitude, position.Longitude)
	}

	if _, hasMotion := position.Attributes[attr.Motion]; !hasMotion {
		position.Attributes.SetBool(attr.Motion, position.SpeedKMH() >= motionSpeedThresholdKMH)
	}
}

// applyAccumulators updates device.total_distance and device.hours in
// place (§4.3 step 4). hours accrues only while ignition is on, or while
// in motion when ignition is unreported, and is capped at the trip gap so
// an outage never inflates engine-hours across the gap.
func applyAccumulators(device *models.Device, position, previous *models.Position, tripGap time.Duration) {
	device.TotalDistance += position.Distance
	if previous == nil {
		return
	}

	gap := position.ServerTime.Sub(previous.ServerTime)
	if gap > tripGap {
		gap = tripGap
	}
	if gap <= 0 {
		return
	}

	_, ignitionKnown := position.Attributes[attr.Ignition]
	ignitionOn := position.Attributes.GetBool(attr.Ignition, false)
	motionOn := position.Attributes.GetBool(attr.Motion, false)
	if ignitionOn || (!ignitionKnown && motionOn) {
		device.EngineHours += gap.Seconds()
	}
}

// applyMotionStateMachine runs the still/moving state machine (§4.3 step
// 6). It approximates "distance from motion_position_ref" with the
// distance already computed against the immediately previous stored
// position, since the reference is retained only as an id rather than a
// full coordinate pair — sufficient because the reference is always
// itself the most recent qualifying (or initial) position.
func applyMotionStateMachine(device *models.Device, position *models.Position, thresholdM float64, timeout time.Duration) []*models.Event {
	var events []*models.Event
	now := position.ServerTime
	qualifies := position.Distance >= thresholdM

	switch {
	case !device.MotionState && qualifies:
		device.MotionState = true
		device.MotionDistance += position.Distance
		device.MotionPositionRef = strPtr(position.ID)
		device.MotionTime = timePtr(now)
		events = append(events, newEvent(models.EventDeviceMoving, device.ID, position.ID, now, attr.NewBag()))

	case device.MotionState && qualifies:
		device.MotionDistance += position.Distance
		device.MotionPositionRef = strPtr(position.ID)
		device.MotionTime = timePtr(now)

	case device.MotionState && !qualifies:
		if device.MotionTime != nil && now.Sub(*device.MotionTime) > timeout {
			device.MotionState = false
			device.MotionDistance = 0
			events = append(events, newEvent(models.EventDeviceStopped, device.ID, position.ID, now, attr.NewBag()))
		}
	}

	position.Attributes.SetBool(attr.Motion, device.MotionState)
	return events
}

// applyOverspeedDetection runs the hysteresis-gated overspeed check
// (§4.3 step 7): entering requires clearing limit+threshold, clearing
// requires dropping back to or below the plain limit.
func applyOverspeedDetection(device *models.Device, position *models.Position, geofences []*models.Geofence, defaultLimitKMH, thresholdKMH float64) []*models.Event {
	limit, limitGeofenceID := resolveSpeedLimit(device, geofences, defaultLimitKMH)
	speed := position.SpeedKMH()

	var events []*models.Event
	switch {
	case speed > limit+thresholdKMH:
		if !device.OverspeedState {
			device.OverspeedState = true
			now := position.ServerTime
			device.OverspeedTime = timePtr(now)
			if limitGeofenceID != "" {
				device.OverspeedGeofenceRef = strPtr(limitGeofenceID)
			}
			events = append(events, newEvent(models.EventDeviceOverspeed, device.ID, position.ID, now, attr.NewBag().SetFloat(attr.SpeedLimit, limit)))
		}
	case speed <= limit:
		device.OverspeedState = false
		device.OverspeedTime = nil
		device.OverspeedGeofenceRef = nil
	}

	position.Attributes.SetBool(attr.Overspeed, device.OverspeedState)
	return events
}

// resolveSpeedLimit picks the applicable speed limit: the device's
// sticky overspeed geofence if the position is still inside it, else the
// first geofence containing the point that carries a speedLimit
// attribute, else the system default.
func resolveSpeedLimit(device *models.Device, geofences []*models.Geofence, defaultLimitKMH float64) (float64, string) {
	if device.OverspeedGeofenceRef != nil {
		for _, g := range geofences {
			if g.ID == *device.OverspeedGeofenceRef {
				if limit := g.SpeedLimit(); limit > 0 {
					return limit, g.ID
				}
			}
		}
	}
	for _, g := range geofences {
		if limit := g.SpeedLimit(); limit > 0 {
			return limit, g.ID
		}
	}
	return defaultLimitKMH, ""
}

// derivedFlagEvents synthesizes ignitionOn/ignitionOff and alarm events
// from the position's attribute bag (§4.3 step 8).
func derivedFlagEvents(device *models.Device, previous, position *models.Position) []*models.Event {
	var events []*models.Event
	now := position.ServerTime

	if current, hasIgnition := boolAttr(position.Attributes, attr.Ignition); hasIgnition {
		previousIgnition := false
		if previous != nil {
			previousIgnition, _ = boolAttr(previous.Attributes, attr.Ignition)
		}
		if previous == nil || current != previousIgnition {
			t := models.EventIgnitionOff
			if current {
				t = models.EventIgnitionOn
			}
			events = append(events, newEvent(t, device.ID, position.ID, now, attr.NewBag()))
		}
	}

	if v, ok := position.Attributes[attr.Alarm]; ok && v.Kind == attr.KindString && v.S != "" {
		events = append(events, newEvent(models.EventAlarm, device.ID, position.ID, now, attr.NewBag().SetString(attr.Alarm, v.S)))
	}

	return events
}

func boolAttr(bag attr.Bag, key string) (bool, bool) {
	if _, ok := bag[key]; !ok {
		return false, false
	}
	return bag.GetBool(key, false), true
}

func strPtr(s string) *string { return &s }
