package models

import "time"

// Session is an ephemeral transport binding held only in the session
// registry's memory (§3) — never persisted. The transport handle is an
// opaque identifier owned by the protocol manager (a net.Conn pointer or
// connection id), not serialized here to keep this package free of net
// dependencies.
type Session struct {
	TransportHandle interface{} `json:"-"`
	RemoteAddr      string      `json:"remote_addr"`
	Protocol        string      `json:"protocol"`
	Port            int         `json:"port"`
	DeviceRef       string      `json:"device_ref,omitempty"`
	UniqueID        string      `json:"unique_id,omitempty"`
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`
}

// Identified reports whether this session has completed device
// identification (§4.2).
func (s *Session) Identified() bool {
	return s.DeviceRef != ""
}

// Touch refreshes LastSeen, used on every inbound frame to drive idle
// timeout detection.
func (s *Session) Touch(now time.Time) {
	s.LastSeen = now
}

// Idle reports whether the session has been silent longer than timeout.
func (s *Session) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastSeen) > timeout
}
