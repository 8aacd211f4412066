package protocol

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/session"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// Sink receives the decoded output of every protocol listener. The
// pipeline package implements it; keeping it here (rather than importing
// the pipeline) avoids a dependency cycle (§4.1 boundary with §4.3).
type Sink interface {
	AcceptPosition(ctx context.Context, uniqueID string, pos *DecodedPosition)
	AcceptAck(ctx context.Context, uniqueID string, ack *CommandAck)
}

// Manager is the single place that knows how to start, stop, and list
// the running protocol listeners (§4.1). Each configured, enabled
// protocol gets one TCP listener or one HTTP route, identified by the
// (protocol, port, transport) triple. No UDP listener is opened: a
// protocol reporting any other transport is skipped with a warning.
type Manager struct {
	cfg      *config.Config
	log      *logging.Logger
	sessions *session.Registry
	sink     Sink

	mu        sync.Mutex
	listeners map[string]net.Listener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager wires a protocol manager against the shared session
// registry and downstream sink.
func NewManager(cfg *config.Config, log *logging.Logger, sessions *session.Registry, sink Sink) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log,
		sessions:  sessions,
		sink:      sink,
		listeners: make(map[string]net.Listener),
	}
}

// registeredProtocols lists every protocol the manager knows how to
// start, keyed by name, matching spec §6's default port table.
func registeredProtocols() map[string]Protocol {
	return map[string]Protocol{
		"suntech": NewSuntech(),
		"gt06":    NewGT06(),
		"h02":     NewH02(),
		"osmand":  NewOsmAnd(),
	}
}

// ByName resolves a protocol name (as stored on a session) to the
// Protocol instance that can decode/encode its wire format. The command
// engine uses this to turn a live session's Protocol field back into
// something it can call EncodeCommand on.
func ByName(name string) (Protocol, bool) {
	p, ok := registeredProtocols()[name]
	return p, ok
}

// Start launches a listener for every enabled protocol in cfg.Protocols.
// HTTP-transport protocols are registered as routes on mux instead of
// opening their own listener; the caller is responsible for serving mux.
func (m *Manager) Start(ctx context.Context, mux *http.ServeMux) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	protocols := registeredProtocols()
	for name, proto := range protocols {
		pc, ok := m.cfg.Protocols[name]
		if !ok || !pc.Enabled {
			continue
		}

		switch proto.Transport() {
		case "tcp":
			ln, err := net.Listen("tcp", addrForPort(pc.Port))
			if err != nil {
				cancel()
				return err
			}
			m.mu.Lock()
			m.listeners[name] = ln
			m.mu.Unlock()

			m.wg.Add(1)
			go m.acceptLoop(ctx, name, proto, ln)

		case "http":
			handler := proto.(interface {
				DecodeHTTP(r *http.Request) (*DecodedMessage, error)
			})
			mux.HandleFunc("/", m.httpHandler(name, handler))

		default:
			m.log.Warn("protocol manager: unknown transport, skipping", "protocol", name, "transport", proto.Transport())
		}
	}
	return nil
}

// Stop cancels every listener's accept loop and closes its socket, then
// waits up to the configured grace period for in-flight connections to
// drain.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for name, ln := range m.listeners {
		if err := ln.Close(); err != nil {
			m.log.Warn("protocol manager: error closing listener", "protocol", name, "error", err)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownGracePeriod):
		m.log.Warn("protocol manager: shutdown grace period elapsed with connections still open")
	}
}

// Listening reports the protocol names with an active listener.
func (m *Manager) Listening() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.listeners))
	for name := range m.listeners {
		names = append(names, name)
	}
	return names
}

func addrForPort(port int) string {
	return ":" + strconv.Itoa(port)
}

// acceptLoop accepts connections for one TCP listener until ctx is
// cancelled or the listener is closed.
func (m *Manager) acceptLoop(ctx context.Context, name string, proto Protocol, ln net.Listener) {
	defer m.wg.Done()
	limiter := rate.NewLimiter(rate.Limit(200), 400) // bounds connection-accept storms per listener

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				m.log.Warn("protocol manager: accept error", "protocol", name, "error", err)
				continue
			}
		}

		if !limiter.Allow() {
			conn.Close()
			continue
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("protocol manager: recovered panic in connection handler",
						"protocol", name, "remote_addr", conn.RemoteAddr().String(),
						"panic", r, "stack", string(debug.Stack()))
					conn.Close()
				}
			}()
			m.handleConn(ctx, name, proto, conn)
		}()
	}
}

// handleConn runs a single TCP connection's read loop: frame, decode,
// dispatch, repeat, until the connection errors, idles past
// FrameReadTimeout, or accumulates too many bad frames.
func (m *Manager) handleConn(ctx context.Context, name string, proto Protocol, conn net.Conn) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	now := time.Now()
	sess := m.sessions.Open(conn, remoteAddr, name, portOf(conn), now)
	defer m.sessions.Close(conn)

	framer := proto.NewFramer()
	buf := make([]byte, 0, 4096)
	read := make([]byte, 4096)
	badFrames := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(m.cfg.FrameReadTimeout))
		n, err := conn.Read(read)
		if err != nil {
			return
		}
		buf = append(buf, read[:n]...)

		for {
			frame := framer.Frame(buf)
			switch frame.Result {
			case FrameNeedMore:
				goto nextRead
			case FrameBad:
				badFrames++
				buf = buf[frame.Consumed:]
				if badFrames > m.cfg.MaxFrameErrors {
					m.log.Warn("protocol manager: too many bad frames, closing connection", "protocol", name, "remote_addr", remoteAddr)
					return
				}
			case FrameOK:
				buf = buf[frame.Consumed:]
				m.sessions.Touch(conn, time.Now())
				m.log.LogProtocolFrame(name, remoteAddr, sess.UniqueID, len(frame.Message))
				m.dispatch(ctx, name, proto, sess, frame.Message, conn)
			}
			if len(buf) == 0 {
				break
			}
		}
	nextRead:
	}
}

// dispatch decodes one framed message and routes it to the session
// registry (for login/identify) or the sink (for positions/acks),
// writing back any protocol-level reply (ack/keep-alive). A malformed
// frame from one device must never take down its listener (§4.1, §7),
// so a panic anywhere in decode/route is recovered, logged, and treated
// like any other bad frame — the connection's read loop carries on.
func (m *Manager) dispatch(ctx context.Context, name string, proto Protocol, sess *models.Session, message []byte, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("protocol manager: recovered panic in dispatch",
				"protocol", name, "remote_addr", conn.RemoteAddr().String(),
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	msg, err := proto.Decode(message, sess)
	if err != nil {
		m.log.LogPipelineStep("decode", sess.DeviceRef, "", err)
		return
	}

	// The session registry keys on the protocol's own unique id; resolving
	// that id to a Device (and its UUID DeviceRef) is the pipeline's
	// ownership-attribution step (§4.3 step 1), not the listener's job.
	switch msg.Kind {
	case KindLogin:
		m.sessions.Identify(sess, msg.UniqueID, msg.UniqueID)
	case KindPosition:
		if !sess.Identified() && msg.UniqueID != "" {
			m.sessions.Identify(sess, msg.UniqueID, msg.UniqueID)
		}
		m.sink.AcceptPosition(ctx, msg.UniqueID, msg.Position)
	case KindCommandAck:
		m.sink.AcceptAck(ctx, sess.UniqueID, msg.Ack)
	}

	if msg.Reply != nil {
		conn.SetWriteDeadline(time.Now().Add(m.cfg.FrameReadTimeout))
		conn.Write(msg.Reply)
	}
}

// httpHandler adapts an HTTP-transport protocol's DecodeHTTP into a
// net/http handler that feeds the sink directly, with no framing step.
func (m *Manager) httpHandler(name string, proto interface {
	DecodeHTTP(r *http.Request) (*DecodedMessage, error)
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := proto.DecodeHTTP(r)
		if err != nil {
			m.log.LogPipelineStep("decode", "", "", err)
			http.Error(w, "invalid report", http.StatusBadRequest)
			return
		}

		m.log.LogProtocolFrame(name, r.RemoteAddr, msg.UniqueID, int(r.ContentLength))
		m.sink.AcceptPosition(r.Context(), msg.UniqueID, msg.Position)
		w.WriteHeader(http.StatusOK)
	}
}

func portOf(conn net.Conn) int {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
