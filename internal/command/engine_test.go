package command

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/protocol"
	"github.com/traxcore/telemetry-core/internal/session"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// fakeConn is a minimal io.Writer standing in for the net.Conn a real
// session's TransportHandle would hold.
type fakeConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

type fakeSMS struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSMS) Send(_ context.Context, phoneNumber, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, phoneNumber+":"+body)
	return nil
}

func testEngineConfig() *config.Config {
	return &config.Config{
		ShutdownGracePeriod:     time.Second,
		CommandNoSessionBackoff: time.Minute,
		CommandAckTimeout:       time.Minute,
		CommandMaxRetries:       3,
		CommandRetryBase:        time.Second,
		CommandRetryFactor:      2,
		CommandRetryCap:         time.Minute,
	}
}

func testEngineLogger() *logging.Logger {
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = io.Discard
	return logging.NewLogger(cfg)
}

func newTestEngine(t *testing.T, sms SmsGateway) (*Engine, store.Store, *session.Registry) {
	t.Helper()
	st := store.NewMemStore()
	sessions := session.NewRegistry(nil)
	e := NewEngine(testEngineConfig(), testEngineLogger(), st, sessions, sms)
	return e, st, sessions
}

func connectDevice(sessions *session.Registry, deviceRef, uniqueID, protocolName string) *fakeConn {
	conn := &fakeConn{}
	sess := sessions.Open(conn, "127.0.0.1:1", protocolName, 5023, time.Now().UTC())
	sessions.Identify(sess, deviceRef, uniqueID)
	return conn
}

func TestDispatchWritesEncodedCommandAndMarksSent(t *testing.T) {
	e, st, sessions := newTestEngine(t, nil)
	ctx := context.Background()
	conn := connectDevice(sessions, "device-1", "123456789012345", "gt06")

	cmd := &models.Command{DeviceRef: "device-1", Type: models.CommandReboot, MaxRetries: 3}
	require.NoError(t, e.Submit(ctx, cmd))

	e.tick(ctx)

	assert.NotEmpty(t, conn.written(), "encoded command frame must reach the session's transport")
	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, stored.Status)
	assert.NotNil(t, stored.SentAt)
}

func TestDispatchWithNoLiveSessionBacksOff(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)
	ctx := context.Background()

	cmd := &models.Command{DeviceRef: "device-2", Type: models.CommandReboot, MaxRetries: 3}
	require.NoError(t, e.Submit(ctx, cmd))

	e.tick(ctx)

	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, stored.Status, "no-session commands stay queued behind a backoff, not failed")

	assert.True(t, e.inBackoff(cmd.ID, time.Now().UTC()), "command must be held back from the very next tick")
}

func TestDispatchUnsupportedCommandFallsBackToSMS(t *testing.T) {
	sms := &fakeSMS{}
	e, st, sessions := newTestEngine(t, sms)
	ctx := context.Background()
	connectDevice(sessions, "device-3", "999", "osmand")

	device := &models.Device{ID: "device-3", PhoneNumber: "+15550000"}
	ms := st.(*store.MemStore)
	ms.PutDevice(device)

	cmd := &models.Command{DeviceRef: "device-3", Type: models.CommandReboot, TextChannel: true, MaxRetries: 3}
	require.NoError(t, e.Submit(ctx, cmd))

	e.tick(ctx)

	require.Len(t, sms.calls, 1)
	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, stored.Status)
}

func TestDispatchUnsupportedCommandWithoutTextChannelFails(t *testing.T) {
	e, st, sessions := newTestEngine(t, nil)
	ctx := context.Background()
	connectDevice(sessions, "device-4", "999", "osmand")

	cmd := &models.Command{DeviceRef: "device-4", Type: models.CommandReboot, MaxRetries: 3}
	require.NoError(t, e.Submit(ctx, cmd))

	e.tick(ctx)

	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, stored.Status, "still retryable, re-queued with backoff")
	assert.Equal(t, 1, stored.RetryCount)
}

func TestDispatchExhaustedRetriesReachesTerminalFailure(t *testing.T) {
	e, _, sessions := newTestEngine(t, nil)
	ctx := context.Background()
	connectDevice(sessions, "device-5", "999", "osmand")

	cmd := &models.Command{DeviceRef: "device-5", Type: models.CommandReboot, MaxRetries: 0}
	now := time.Now().UTC()
	e.dispatch(ctx, cmd, now)

	assert.Equal(t, models.StatusFailed, cmd.Status)
	assert.True(t, cmd.Status.IsTerminal())
}

func TestExpiredCommandIsMarkedExpiredWithoutDispatch(t *testing.T) {
	e, st, sessions := newTestEngine(t, nil)
	ctx := context.Background()
	connectDevice(sessions, "device-6", "999", "gt06")

	past := time.Now().UTC().Add(-time.Minute)
	cmd := &models.Command{DeviceRef: "device-6", Type: models.CommandReboot, ExpiresAt: &past, MaxRetries: 3}
	require.NoError(t, e.Submit(ctx, cmd))

	e.tick(ctx)

	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
}

func TestAcceptAckExecutedMarksCommandTerminal(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)
	ctx := context.Background()

	cmd := &models.Command{DeviceRef: "device-7", Type: models.CommandReboot, Status: models.StatusSent, MaxRetries: 3}
	require.NoError(t, st.UpsertCommand(ctx, cmd))

	e.AcceptAck(ctx, "999", &protocol.CommandAck{CorrelationID: cmd.ID, Executed: true, Response: "ok"})

	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, stored.Status)
	assert.Equal(t, "ok", stored.Response)
}

func TestAcceptAckFailureRetries(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)
	ctx := context.Background()

	cmd := &models.Command{DeviceRef: "device-8", Type: models.CommandReboot, Status: models.StatusSent, MaxRetries: 3}
	require.NoError(t, st.UpsertCommand(ctx, cmd))

	e.AcceptAck(ctx, "999", &protocol.CommandAck{CorrelationID: cmd.ID, Executed: false, Response: "denied"})

	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestCancelTerminalCommandIsNoop(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)
	ctx := context.Background()

	cmd := &models.Command{DeviceRef: "device-9", Type: models.CommandReboot, Status: models.StatusExecuted}
	require.NoError(t, st.UpsertCommand(ctx, cmd))

	require.NoError(t, e.Cancel(ctx, cmd.ID))

	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, stored.Status, "cancelling an already-terminal command must not override its outcome")
}

func TestRetryOnExhaustedCommandReturnsError(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)
	ctx := context.Background()

	cmd := &models.Command{DeviceRef: "device-10", Type: models.CommandReboot, Status: models.StatusFailed, RetryCount: 3, MaxRetries: 3}
	require.NoError(t, st.UpsertCommand(ctx, cmd))

	err := e.Retry(ctx, cmd.ID)
	assert.ErrorIs(t, err, ErrCommandNotRetryable)
}

func TestSweepAckTimeoutsRetriesStaleSentCommands(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Minute)
	cmd := &models.Command{DeviceRef: "device-11", Type: models.CommandReboot, Status: models.StatusSent, SentAt: &old, MaxRetries: 3}
	require.NoError(t, st.UpsertCommand(ctx, cmd))

	e.sweepAckTimeouts(ctx, time.Now().UTC())

	stored, err := st.CommandByID(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}
