// Package session tracks the ephemeral transport bindings for connected
// devices (§4.2). A Session lives only in memory: protocol listeners
// create one on first contact and the registry resolves it on each
// subsequent frame by transport handle, or by device ref once identified.
package session

import (
	"sync"
	"time"

	"github.com/traxcore/telemetry-core/pkg/models"
)

// OfflineFunc is invoked when a session is dropped, either because its
// transport closed or because a newer session superseded it for the same
// device (§4.2 invariant: at most one live session per device).
type OfflineFunc func(deviceRef string, session *models.Session)

// Registry binds transport handles to devices.
type Registry struct {
	mu           sync.RWMutex
	byHandle     map[interface{}]*models.Session
	byDeviceRef  map[string]*models.Session
	onOffline    OfflineFunc
}

// NewRegistry returns an empty session registry.
func NewRegistry(onOffline OfflineFunc) *Registry {
	return &Registry{
		byHandle:    make(map[interface{}]*models.Session),
		byDeviceRef: make(map[string]*models.Session),
		onOffline:   onOffline,
	}
}

// Open registers a new, not-yet-identified session for a transport
// handle.
func (r *Registry) Open(handle interface{}, remoteAddr, protocol string, port int, now time.Time) *models.Session {
	s := &models.Session{
		TransportHandle: handle,
		RemoteAddr:      remoteAddr,
		Protocol:        protocol,
		Port:            port,
		FirstSeen:       now,
		LastSeen:        now,
	}
	r.mu.Lock()
	r.byHandle[handle] = s
	r.mu.Unlock()
	return s
}

// Identify binds a session to a device once the protocol decoder has
// resolved a unique id to a known Device. Any existing session for the
// same device is closed first, enforcing the single-session invariant.
func (r *Registry) Identify(s *models.Session, deviceRef, uniqueID string) {
	r.mu.Lock()
	if previous, ok := r.byDeviceRef[deviceRef]; ok && previous != s {
		delete(r.byHandle, previous.TransportHandle)
		r.mu.Unlock()
		if r.onOffline != nil {
			r.onOffline(deviceRef, previous)
		}
		r.mu.Lock()
	}
	s.DeviceRef = deviceRef
	s.UniqueID = uniqueID
	r.byDeviceRef[deviceRef] = s
	r.mu.Unlock()
}

// Touch refreshes LastSeen for the session bound to handle, if any.
func (r *Registry) Touch(handle interface{}, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byHandle[handle]; ok {
		s.Touch(now)
	}
}

// ByHandle looks up the session for a transport handle.
func (r *Registry) ByHandle(handle interface{}) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byHandle[handle]
	return s, ok
}

// ByDevice looks up the live session for a device, if connected.
func (r *Registry) ByDevice(deviceRef string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byDeviceRef[deviceRef]
	return s, ok
}

// Close removes the session bound to handle and reports deviceOffline if
// it had been identified.
func (r *Registry) Close(handle interface{}) {
	r.mu.Lock()
	s, ok := r.byHandle[handle]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byHandle, handle)
	if s.DeviceRef != "" && r.byDeviceRef[s.DeviceRef] == s {
		delete(r.byDeviceRef, s.DeviceRef)
	}
	r.mu.Unlock()

	if s.DeviceRef != "" && r.onOffline != nil {
		r.onOffline(s.DeviceRef, s)
	}
}

// SweepIdle closes every session that has been silent longer than
// timeout, returning the device refs that went offline.
func (r *Registry) SweepIdle(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	var idle []interface{}
	for handle, s := range r.byHandle {
		if s.Idle(now, timeout) {
			idle = append(idle, handle)
		}
	}
	r.mu.RUnlock()

	offline := make([]string, 0, len(idle))
	for _, handle := range idle {
		r.mu.RLock()
		s, ok := r.byHandle[handle]
		r.mu.RUnlock()
		if ok && s.DeviceRef != "" {
			offline = append(offline, s.DeviceRef)
		}
		r.Close(handle)
	}
	return offline
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
