// Package pipeline implements the position processor (§4.3): it turns a
// protocol-neutral DecodedPosition into the canonical Position record,
// updates device accumulators and state machines, synthesizes Events,
// persists everything, and fans out to the LiveHub. It implements
// protocol.Sink so the ingestion manager can hand it decoded messages
// without either package importing the other's concrete types.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/geofence"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/protocol"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/attr"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// Publisher is the LiveHub's fan-out surface as the pipeline needs it
// (§4.5). internal/realtime implements it; kept narrow here to avoid a
// pipeline -> realtime -> pipeline import cycle.
type Publisher interface {
	PublishPosition(ctx context.Context, p *models.Position)
	PublishEvent(ctx context.Context, e *models.Event)
	PublishDeviceStatus(ctx context.Context, d *models.Device)
}

// CommandAcker receives protocol-level command acknowledgments decoded
// off the wire (§4.7's "Acknowledgment" step). The command engine
// implements it and registers itself with SetCommandAcker once it
// starts; until then, acks are logged and dropped.
type CommandAcker interface {
	AcceptAck(ctx context.Context, uniqueID string, ack *protocol.CommandAck)
}

// noopPublisher discards everything; used when the caller hasn't wired a
// real LiveHub yet (e.g. unit tests exercising only pipeline stages).
type noopPublisher struct{}

func (noopPublisher) PublishPosition(context.Context, *models.Position)    {}
func (noopPublisher) PublishEvent(context.Context, *models.Event)         {}
func (noopPublisher) PublishDeviceStatus(context.Context, *models.Device) {}

// Processor is the position pipeline's entry point. One Processor serves
// the whole fleet; per-device ordering is enforced by its serializer
// pool (§9), not by a lock on Processor itself.
type Processor struct {
	cfg       *config.Config
	log       *logging.Logger
	store     store.Store
	geofences *geofence.Cache
	publisher Publisher

	ackerMu sync.RWMutex
	acker   CommandAcker

	pool *serializerPool
}

// NewProcessor wires a position processor against its collaborators. Pass
// nil for publisher to run with fan-out disabled (tests exercising
// persistence/state only).
func NewProcessor(cfg *config.Config, log *logging.Logger, st store.Store, geofences *geofence.Cache, publisher Publisher, poolSize int) *Processor {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	p := &Processor{
		cfg:       cfg,
		log:       log,
		store:     st,
		geofences: geofences,
		publisher: publisher,
	}
	p.pool = newSerializerPool(poolSize)
	return p
}

// SetCommandAcker registers the command engine's ack handler once it has
// started. Safe to call concurrently with AcceptAck.
func (p *Processor) SetCommandAcker(acker CommandAcker) {
	p.ackerMu.Lock()
	p.acker = acker
	p.ackerMu.Unlock()
}

// Stop drains and stops the serializer pool, waiting up to the
// configured shutdown grace period (§5).
func (p *Processor) Stop() {
	p.pool.stop(p.cfg.ShutdownGracePeriod)
}

// AcceptPosition implements protocol.Sink. The position is queued onto
// the serializer owning uniqueID's hash bucket and processed
// asynchronously, preserving wire-arrival order per device.
func (p *Processor) AcceptPosition(ctx context.Context, uniqueID string, pos *protocol.DecodedPosition) {
	p.pool.submit(uniqueID, func() { p.handle(ctx, uniqueID, pos) })
}

// AcceptAck implements protocol.Sink, forwarding to the registered
// command engine if one has started.
func (p *Processor) AcceptAck(ctx context.Context, uniqueID string, ack *protocol.CommandAck) {
	p.ackerMu.RLock()
	acker := p.acker
	p.ackerMu.RUnlock()
	if acker == nil {
		p.log.Warn("pipeline: command ack received with no command engine registered", "unique_id", uniqueID)
		return
	}
	acker.AcceptAck(ctx, uniqueID, ack)
}

// HandleOffline matches session.OfflineFunc: it is invoked by the
// session registry when a device's last live session drops, and emits
// the deviceOffline event the registry itself has no business knowing
// about (§4.2, §4.4).
func (p *Processor) HandleOffline(uniqueID string, _ *models.Session) {
	ctx := context.Background()
	device, err := p.store.DeviceByUniqueID(ctx, uniqueID)
	if err != nil || device == nil {
		return
	}
	if device.Status != models.DeviceStatusOnline {
		return
	}
	now := time.Now().UTC()
	if err := p.store.UpdateDeviceStatus(ctx, device.ID, models.DeviceStatusOffline, now); err != nil {
		p.log.LogPipelineStep("update_status_offline", device.ID, "", err)
		return
	}
	device.Status = models.DeviceStatusOffline
	device.LastUpdate = &now

	evt := &models.Event{Type: models.EventDeviceOffline, DeviceRef: device.ID, EventTime: now, Attributes: attr.NewBag()}
	if err := p.store.InsertEvent(ctx, evt); err != nil {
		p.log.LogPipelineStep("insert_event", device.ID, "", err)
	}
	p.publisher.PublishDeviceStatus(ctx, device)
	p.publisher.PublishEvent(ctx, evt)
}

// handle runs the full ten-step pipeline (§4.3) for one decoded position.
// It always runs on the serializer owning this device, so device state
// reads/writes here need no additional locking (§5 shared-resource (c)).
func (p *Processor) handle(ctx context.Context, uniqueID string, decoded *protocol.DecodedPosition) {
	device, err := p.store.DeviceByUniqueID(ctx, uniqueID)
	if err != nil {
		p.log.LogPipelineStep("ownership_attribution", "", "", err)
		return
	}

	// Step 1: ownership attribution. No Device record -> park under
	// UnknownDevice and stop; never broadcast, never synthesize events.
	if device == nil {
		p.handleUnknownDevice(ctx, uniqueID, decoded)
		return
	}

	position := toPosition(device.ID, decoded)

	previous, err := p.store.LatestPositionForDevice(ctx, device.ID)
	if err != nil {
		p.log.LogPipelineStep("load_previous_position", device.ID, "", err)
		return
	}

	// Step 2: sanity filtering.
	if !position.CoordinatesValid() {
		p.log.LogPipelineStep("sanity_filter", device.ID, "", fmt.Errorf("coordinates out of range: %f,%f", position.Latitude, position.Longitude))
		return
	}
	if previous != nil && isDuplicate(previous, position) {
		p.log.LogPipelineStep("sanity_filter", device.ID, "", fmt.Errorf("duplicate position"))
		return
	}
	if previous != nil && position.EffectiveFixTime().Before(previous.EffectiveFixTime().Add(-p.cfg.ClockSkewBound)) {
		position.Outdated = true
	}

	// Step 3: enrichment.
	enrich(position, previous, p.cfg.TripGapDuration, p.cfg.MinSpeedForDetect)

	// Step 4: accumulator update.
	applyAccumulators(device, position, previous, p.cfg.TripGapDuration)

	// Step 5: geofence residency.
	currentGeofences := p.geofences.Containing(position.Latitude, position.Longitude)
	currentIDs := geofenceIDs(currentGeofences)
	entered, exited := geofence.Diff(device.GeofenceMembership(), currentIDs)
	position.Attributes.SetStringList(attr.GeofenceIDs, currentIDs)
	device.SetGeofenceMembership(currentIDs)

	var events []*models.Event
	now := position.ServerTime
	for _, id := range entered {
		events = append(events, newGeofenceEvent(models.EventGeofenceEnter, device.ID, position.ID, id, now))
	}
	for _, id := range exited {
		events = append(events, newGeofenceEvent(models.EventGeofenceExit, device.ID, position.ID, id, now))
	}

	// Step 6: motion state machine.
	events = append(events, applyMotionStateMachine(device, position, p.cfg.MotionThresholdM, p.cfg.MotionTimeout)...)

	// Step 7: overspeed detection.
	events = append(events, applyOverspeedDetection(device, position, currentGeofences, p.cfg.DefaultSpeedLimit, p.cfg.OverspeedThreshold)...)

	// Step 8: derived flags (ignition, alarm).
	events = append(events, derivedFlagEvents(device, previous, position)...)

	wasOffline := device.Status != models.DeviceStatusOnline
	device.Status = models.DeviceStatusOnline
	device.LastUpdate = &now
	if wasOffline {
		events = append(events, newEvent(models.EventDeviceOnline, device.ID, position.ID, now, attr.NewBag()))
	}

	// Step 9: persistence, position then events, in order.
	if err := p.store.InsertPosition(ctx, position); err != nil {
		p.log.LogPipelineStep("insert_position", device.ID, "", err)
		return
	}
	for _, evt := range events {
		if err := p.store.InsertEvent(ctx, evt); err != nil {
			p.log.LogPipelineStep("insert_event", device.ID, evt.ID, err)
		}
	}
	if err := p.store.UpdateAccumulators(ctx, device.ID, device.TotalDistance, device.EngineHours); err != nil {
		p.log.LogPipelineStep("update_accumulators", device.ID, position.ID, err)
	}
	if err := p.store.UpdateDeviceStatus(ctx, device.ID, device.Status, now); err != nil {
		p.log.LogPipelineStep("update_status", device.ID, position.ID, err)
	}
	if err := p.store.UpdateMotionState(ctx, device); err != nil {
		p.log.LogPipelineStep("update_motion_state", device.ID, position.ID, err)
	}
	if err := p.store.UpdateOverspeedState(ctx, device); err != nil {
		p.log.LogPipelineStep("update_overspeed_state", device.ID, position.ID, err)
	}
	if err := p.store.UpdateGeofenceMembership(ctx, device); err != nil {
		p.log.LogPipelineStep("update_geofence_membership", device.ID, position.ID, err)
	}

	// Step 10: fan-out. Critical/high events go out before returning
	// (§4.4); the publisher itself is required to be non-blocking, so
	// this never stalls the serializer.
	p.publisher.PublishPosition(ctx, position)
	if wasOffline {
		p.publisher.PublishDeviceStatus(ctx, device)
	}
	for _, evt := range events {
		p.publisher.PublishEvent(ctx, evt)
	}
}

func (p *Processor) handleUnknownDevice(ctx context.Context, uniqueID string, decoded *protocol.DecodedPosition) {
	now := time.Now().UTC()
	unknown, err := p.store.UpsertUnknownDevice(ctx, uniqueID, decoded.Protocol, "tcp", 0, now)
	if err != nil {
		p.log.LogPipelineStep("upsert_unknown_device", "", "", err)
		return
	}
	position := toPosition("", decoded)
	position.UnknownDeviceRef = &unknown.ID
	if err := p.store.InsertPosition(ctx, position); err != nil {
		p.log.LogPipelineStep("insert_position_unknown", "", "", err)
	}
}

func newEvent(t models.EventType, deviceRef, positionRef string, when time.Time, attrs attr.Bag) *models.Event {
	return &models.Event{
		Type:        t,
		DeviceRef:   deviceRef,
		PositionRef: &positionRef,
		EventTime:   when,
		Attributes:  attrs,
	}
}

func newGeofenceEvent(t models.EventType, deviceRef, positionRef, geofenceID string, when time.Time) *models.Event {
	evt := newEvent(t, deviceRef, positionRef, when, attr.NewBag())
	evt.GeofenceRef = strPtr(geofenceID)
	return evt
}

func geofenceIDs(geofences []*models.Geofence) []string {
	ids := make([]string, 0, len(geofences))
	for _, g := range geofences {
		ids = append(ids, g.ID)
	}
	return ids
}
