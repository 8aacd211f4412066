// Package realtime implements the LiveHub fan-out surface (§4.5): a
// pub/sub core that pushes positions, events, and device-status changes
// out to WebSocket subscribers without ever blocking the position
// pipeline that feeds it. It implements pipeline.Publisher.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/pipeline"
	"github.com/traxcore/telemetry-core/pkg/models"
)

var _ pipeline.Publisher = (*Hub)(nil)

// Topic names a subscription channel (§4.5).
type Topic string

const (
	TopicPositions     Topic = "positions"
	TopicEvents        Topic = "events"
	TopicDeviceStatus  Topic = "device_status"
	TopicNotifications Topic = "notifications"
)

// Envelope is the wire shape of everything the hub pushes to a
// subscriber, including its own control messages (stale, heartbeat).
type Envelope struct {
	Type      string      `json:"type"`
	DeviceRef string      `json:"device_ref,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscriber is one live consumer of the hub (typically one WebSocket
// connection). DeviceRefs scopes which devices it receives traffic
// for; a nil/empty set means no scoping (every device), used for an
// operator dashboard rather than an end-user session.
type Subscriber struct {
	ID         string
	Topics     map[Topic]bool
	DeviceRefs map[string]struct{}

	send  chan []byte
	stale atomic.Bool
	once  sync.Once
}

// Send returns the channel the WebSocket write pump should drain.
// Closed when the subscriber is unregistered.
func (s *Subscriber) Send() <-chan []byte { return s.send }

func (s *Subscriber) wants(topic Topic, deviceRef string) bool {
	if !s.Topics[topic] {
		return false
	}
	if len(s.DeviceRefs) == 0 {
		return true
	}
	if deviceRef == "" {
		return true
	}
	_, ok := s.DeviceRefs[deviceRef]
	return ok
}

// deliver pushes payload to the subscriber's queue without blocking. A
// full queue drops its oldest entry to make room for the new one
// (real-time data supersedes stale data); the first drop of a
// saturation episode is replaced by a "stale" control envelope so the
// client learns a gap occurred, rather than silently missing data.
func (s *Subscriber) deliver(payload []byte, log *logging.Logger) {
	select {
	case s.send <- payload:
		s.stale.Store(false)
		return
	default:
	}

	select {
	case <-s.send:
	default:
	}

	if !s.stale.Swap(true) {
		log.Warn("realtime: subscriber queue saturated, dropping oldest", "subscriber_id", s.ID)
		if marker, err := json.Marshal(Envelope{Type: "stale", Timestamp: time.Now().UTC()}); err == nil {
			select {
			case s.send <- marker:
				return
			default:
			}
		}
	}

	select {
	case s.send <- payload:
	default:
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub is the LiveHub (§4.5). One Hub serves the whole process; the
// WebSocket listener registers/unregisters subscribers against it and
// the position pipeline (via the Publisher interface) is its only
// producer.
type Hub struct {
	cfg *config.Config
	log *logging.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHub constructs a Hub and starts its heartbeat loop.
func NewHub(cfg *config.Config, log *logging.Logger) *Hub {
	h := &Hub{
		cfg:         cfg,
		log:         log,
		subscribers: make(map[string]*Subscriber),
		stopCh:      make(chan struct{}),
	}
	go h.heartbeatLoop()
	return h
}

// Subscribe registers a new subscriber and returns it; the caller reads
// Subscriber.Send() to drain outbound messages.
func (h *Hub) Subscribe(id string, topics []Topic, deviceRefs []string) *Subscriber {
	sub := &Subscriber{
		ID:         id,
		Topics:     make(map[Topic]bool, len(topics)),
		DeviceRefs: make(map[string]struct{}, len(deviceRefs)),
		send:       make(chan []byte, h.queueSize()),
	}
	for _, t := range topics {
		sub.Topics[t] = true
	}
	for _, d := range deviceRefs {
		sub.DeviceRefs[d] = struct{}{}
	}

	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscriber's queue.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Stop closes every subscriber's queue and ends the heartbeat loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		sub.close()
		delete(h.subscribers, id)
	}
}

func (h *Hub) queueSize() int {
	if h.cfg != nil && h.cfg.SubscriberQueueSize > 0 {
		return h.cfg.SubscriberQueueSize
	}
	return 256
}

func (h *Hub) broadcast(topic Topic, deviceRef string, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.log.LogError(err, "realtime: marshal envelope failed", nil)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.wants(topic, deviceRef) {
			sub.deliver(payload, h.log)
		}
	}
}

// PublishPosition implements pipeline.Publisher.
func (h *Hub) PublishPosition(_ context.Context, p *models.Position) {
	deviceRef := ""
	if p.DeviceRef != nil {
		deviceRef = *p.DeviceRef
	}
	h.broadcast(TopicPositions, deviceRef, Envelope{Type: "position", DeviceRef: deviceRef, Data: p, Timestamp: time.Now().UTC()})
}

// PublishEvent implements pipeline.Publisher. Every event routes to the
// events topic; critical and high severity events also route to
// notifications, matching §4.4's "synthesize once, dispatch to multiple
// consumers" model.
func (h *Hub) PublishEvent(_ context.Context, e *models.Event) {
	envelope := Envelope{Type: "event", DeviceRef: e.DeviceRef, Data: e, Timestamp: time.Now().UTC()}
	h.broadcast(TopicEvents, e.DeviceRef, envelope)
	if e.Severity() == models.SeverityCritical || e.Severity() == models.SeverityHigh {
		h.broadcast(TopicNotifications, e.DeviceRef, envelope)
	}
}

// PublishDeviceStatus implements pipeline.Publisher.
func (h *Hub) PublishDeviceStatus(_ context.Context, d *models.Device) {
	h.broadcast(TopicDeviceStatus, d.ID, Envelope{Type: "device_status", DeviceRef: d.ID, Data: d, Timestamp: time.Now().UTC()})
}

func (h *Hub) heartbeatLoop() {
	interval := h.cfg.WebSocketHeartbeat
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			envelope := Envelope{Type: "heartbeat", Timestamp: time.Now().UTC()}
			payload, err := json.Marshal(envelope)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for _, sub := range h.subscribers {
				sub.deliver(payload, h.log)
			}
			h.mu.RUnlock()
		}
	}
}
