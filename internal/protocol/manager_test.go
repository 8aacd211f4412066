package protocol

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/session"
)

type fakeSink struct {
	mu        sync.Mutex
	positions []*DecodedPosition
	acks      []*CommandAck
}

func (s *fakeSink) AcceptPosition(_ context.Context, _ string, pos *DecodedPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, pos)
}

func (s *fakeSink) AcceptAck(_ context.Context, _ string, ack *CommandAck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, ack)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Protocols = map[string]config.ProtocolConfig{
		"suntech": {Enabled: true, Port: 0},
		"gt06":    {Enabled: false},
		"h02":     {Enabled: false},
		"osmand":  {Enabled: false},
	}
	cfg.FrameReadTimeout = 2 * time.Second
	cfg.MaxFrameErrors = 5
	cfg.ShutdownGracePeriod = 2 * time.Second
	return cfg
}

func TestManagerAcceptsSuntechOverTCP(t *testing.T) {
	cfg := testConfig()
	log := logging.NewLogger(logging.DefaultLoggerConfig())
	registry := session.NewRegistry(nil)
	sink := &fakeSink{}
	mgr := NewManager(cfg, log, registry, sink)

	// Start a raw listener directly (bypassing Start's fixed-port config)
	// to keep the test hermetic on an OS-assigned port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mgr.mu.Lock()
	mgr.listeners["suntech"] = ln
	mgr.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	mgr.cancel = cancel
	mgr.wg.Add(1)
	go mgr.acceptLoop(ctx, "suntech", NewSuntech(), ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	line := "ST300STT;123456789012345;04;ST300;20240115;14:30:00;0;-23.550500;-46.633300;45.5;180.0;8;1;12345.6;87;01\n"
	_, err = conn.Write([]byte(line))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)

	mgr.Stop()
}

func TestAddrForPort(t *testing.T) {
	assert.Equal(t, ":5001", addrForPort(5001))
}
