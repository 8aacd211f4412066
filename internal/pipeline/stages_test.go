package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Sao Paulo to Rio de Janeiro, ~357km great-circle.
	d := haversine(-23.5505, -46.6333, -22.9068, -43.1729)
	assert.InDelta(t, 357000, d, 5000)
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	assert.Equal(t, 0.0, haversine(10, 20, 10, 20))
}

func TestIsDuplicateMatchesFixTimeAndCoords(t *testing.T) {
	fixTime := time.Unix(1000, 0)
	a := &models.Position{FixTime: &fixTime, Latitude: 1, Longitude: 2}
	b := &models.Position{FixTime: &fixTime, Latitude: 1, Longitude: 2}
	assert.True(t, isDuplicate(a, b))

	c := &models.Position{FixTime: &fixTime, Latitude: 1, Longitude: 3}
	assert.False(t, isDuplicate(a, c))
}

func TestEnrichZerosDistanceAcrossTripGap(t *testing.T) {
	previous := &models.Position{ServerTime: time.Unix(0, 0), Latitude: -23.5505, Longitude: -46.6333}
	current := &models.Position{ServerTime: time.Unix(0, 0).Add(40 * time.Minute), Latitude: -23.56, Longitude: -46.64, Attributes: attr.NewBag()}

	enrich(current, previous, 30*time.Minute, 10)
	assert.Equal(t, 0.0, current.Distance)
}

func TestEnrichComputesDistanceWithinTripGap(t *testing.T) {
	previous := &models.Position{ServerTime: time.Unix(0, 0), Latitude: -23.5505, Longitude: -46.6333}
	current := &models.Position{ServerTime: time.Unix(60, 0), Latitude: -23.5506, Longitude: -46.6334, Attributes: attr.NewBag()}

	enrich(current, previous, 30*time.Minute, 10)
	assert.Greater(t, current.Distance, 0.0)
	assert.Less(t, current.Distance, 50.0)
}

func TestEnrichDerivesMotionFromSpeedWhenAbsent(t *testing.T) {
	speed := 25.0
	current := &models.Position{ServerTime: time.Unix(60, 0), Speed: &speed, Attributes: attr.NewBag()}
	enrich(current, nil, 30*time.Minute, 10)
	assert.True(t, current.Attributes.GetBool(attr.Motion, false))
}

func TestApplyAccumulatorsGatesHoursOnIgnition(t *testing.T) {
	device := &models.Device{ID: "d1"}
	previous := &models.Position{ServerTime: time.Unix(0, 0)}
	current := &models.Position{ServerTime: time.Unix(600, 0), Distance: 500, Attributes: attr.NewBag().SetBool(attr.Ignition, true)}

	applyAccumulators(device, current, previous, 30*time.Minute)
	assert.Equal(t, 500.0, device.TotalDistance)
	assert.Equal(t, 600.0, device.EngineHours)
}

func TestApplyAccumulatorsSkipsHoursWithIgnitionOff(t *testing.T) {
	device := &models.Device{ID: "d1"}
	previous := &models.Position{ServerTime: time.Unix(0, 0)}
	current := &models.Position{ServerTime: time.Unix(600, 0), Distance: 100, Attributes: attr.NewBag().SetBool(attr.Ignition, false)}

	applyAccumulators(device, current, previous, 30*time.Minute)
	assert.Equal(t, 100.0, device.TotalDistance)
	assert.Equal(t, 0.0, device.EngineHours)
}

func TestApplyAccumulatorsCapsHoursAtTripGap(t *testing.T) {
	device := &models.Device{ID: "d1"}
	previous := &models.Position{ServerTime: time.Unix(0, 0)}
	current := &models.Position{ServerTime: time.Unix(0, 0).Add(2 * time.Hour), Distance: 0, Attributes: attr.NewBag().SetBool(attr.Ignition, true)}

	applyAccumulators(device, current, previous, 30*time.Minute)
	assert.Equal(t, (30 * time.Minute).Seconds(), device.EngineHours)
}

func TestApplyMotionStateMachineEntersMovingAtThreshold(t *testing.T) {
	device := &models.Device{ID: "d1"}
	pos := &models.Position{ID: "p1", ServerTime: time.Unix(100, 0), Distance: 60, Attributes: attr.NewBag()}

	events := applyMotionStateMachine(device, pos, 50, 300*time.Second)
	assert.True(t, device.MotionState)
	assert.Equal(t, 60.0, device.MotionDistance)
	if assert.Len(t, events, 1) {
		assert.Equal(t, models.EventDeviceMoving, events[0].Type)
	}
}

func TestApplyMotionStateMachineStaysStillBelowThreshold(t *testing.T) {
	device := &models.Device{ID: "d1"}
	pos := &models.Position{ID: "p1", ServerTime: time.Unix(100, 0), Distance: 10, Attributes: attr.NewBag()}

	events := applyMotionStateMachine(device, pos, 50, 300*time.Second)
	assert.False(t, device.MotionState)
	assert.Empty(t, events)
}

func TestApplyMotionStateMachineReturnsToStillAfterTimeout(t *testing.T) {
	motionTime := time.Unix(0, 0)
	device := &models.Device{ID: "d1", MotionState: true, MotionTime: &motionTime}
	pos := &models.Position{ID: "p2", ServerTime: time.Unix(0, 0).Add(400 * time.Second), Distance: 5, Attributes: attr.NewBag()}

	events := applyMotionStateMachine(device, pos, 50, 300*time.Second)
	assert.False(t, device.MotionState)
	if assert.Len(t, events, 1) {
		assert.Equal(t, models.EventDeviceStopped, events[0].Type)
	}
}

func TestApplyOverspeedDetectionFiresOnceAndClears(t *testing.T) {
	device := &models.Device{ID: "d1"}
	speedOf := func(v float64) *float64 { return &v }

	pos1 := &models.Position{ID: "p1", ServerTime: time.Unix(0, 0), Speed: speedOf(70), Attributes: attr.NewBag()}
	events := applyOverspeedDetection(device, pos1, nil, 80, 5)
	assert.Empty(t, events)
	assert.False(t, device.OverspeedState)

	pos2 := &models.Position{ID: "p2", ServerTime: time.Unix(1, 0), Speed: speedOf(86), Attributes: attr.NewBag()}
	events = applyOverspeedDetection(device, pos2, nil, 80, 5)
	assert.True(t, device.OverspeedState)
	if assert.Len(t, events, 1) {
		assert.Equal(t, models.EventDeviceOverspeed, events[0].Type)
	}

	pos3 := &models.Position{ID: "p3", ServerTime: time.Unix(2, 0), Speed: speedOf(90), Attributes: attr.NewBag()}
	events = applyOverspeedDetection(device, pos3, nil, 80, 5)
	assert.Empty(t, events, "no duplicate event while already overspeeding")

	pos4 := &models.Position{ID: "p4", ServerTime: time.Unix(3, 0), Speed: speedOf(70), Attributes: attr.NewBag()}
	events = applyOverspeedDetection(device, pos4, nil, 80, 5)
	assert.False(t, device.OverspeedState)
	assert.Empty(t, events)
}

func TestDerivedFlagEventsFiresIgnitionTransitions(t *testing.T) {
	device := &models.Device{ID: "d1"}
	previous := &models.Position{ID: "p0", Attributes: attr.NewBag().SetBool(attr.Ignition, false)}
	current := &models.Position{ID: "p1", ServerTime: time.Unix(10, 0), Attributes: attr.NewBag().SetBool(attr.Ignition, true)}

	events := derivedFlagEvents(device, previous, current)
	if assert.Len(t, events, 1) {
		assert.Equal(t, models.EventIgnitionOn, events[0].Type)
	}
}

func TestDerivedFlagEventsFiresAlarm(t *testing.T) {
	device := &models.Device{ID: "d1"}
	current := &models.Position{ID: "p1", ServerTime: time.Unix(10, 0), Attributes: attr.NewBag().SetString(attr.Alarm, "sos")}

	events := derivedFlagEvents(device, nil, current)
	if assert.Len(t, events, 1) {
		assert.Equal(t, models.EventAlarm, events[0].Type)
		assert.Equal(t, "sos", events[0].Attributes.GetString(attr.Alarm, ""))
	}
}
