// Package command implements the command delivery engine (§4.7): a
// poll loop that pulls queued commands in priority order, resolves the
// device's live session, encodes the command for its protocol, and
// tracks the command through SENT/EXECUTED/FAILED with retry backoff. Its
// worker-loop-with-graceful-shutdown shape follows the teacher's
// internal/common/jobs.Worker.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/protocol"
	"github.com/traxcore/telemetry-core/internal/session"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/models"
)

var (
	ErrCommandNotFound     = errors.New("command: not found")
	ErrCommandNotRetryable = errors.New("command: not retryable (terminal or exhausted)")

	errNoSession      = errors.New("command: device has no live session")
	errNoTransport    = errors.New("command: session transport handle cannot accept writes")
	errNoSMSGateway   = errors.New("command: protocol has no binary channel and no SMS gateway is configured")
	errNoPhoneNumber  = errors.New("command: device has no phone number for SMS fallback")
	errUnknownProtocol = errors.New("command: session protocol is not registered")
)

// SmsGateway is the external collaborator used for TextChannel fallback
// when a protocol can't express a command over its binary channel
// (§4.7's SMS fallback path). internal/command only ever calls it; it
// never extends it.
type SmsGateway interface {
	Send(ctx context.Context, phoneNumber, body string) error
}

// Engine is the command delivery engine (§4.7). One Engine serves the
// whole fleet; commands for distinct devices dispatch concurrently, a
// single poll loop drives dequeue ordering.
type Engine struct {
	cfg      *config.Config
	log      *logging.Logger
	store    store.Store
	sessions *session.Registry
	sms      SmsGateway

	pollInterval time.Duration

	backoffMu sync.Mutex
	backoff   map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine wires a command engine against its collaborators. Pass nil
// for sms when no SMS gateway is configured; TextChannel commands that
// reach the SMS path then fail with errNoSMSGateway on each attempt and
// are re-queued until their retries are exhausted.
func NewEngine(cfg *config.Config, log *logging.Logger, st store.Store, sessions *session.Registry, sms SmsGateway) *Engine {
	return &Engine{
		cfg:          cfg,
		log:          log,
		store:        st,
		sessions:     sessions,
		sms:          sms,
		pollInterval: time.Second,
		backoff:      make(map[string]time.Time),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the poll loop. Safe to call once.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.pollLoop(ctx)
}

// Stop ends the poll loop, waiting up to the configured shutdown grace
// period for the in-flight tick to finish (§5).
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownGracePeriod):
		e.log.Warn("command engine: shutdown grace period exceeded")
	}
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick dispatches every ready command and sweeps SENT commands that have
// outrun the ack timeout.
func (e *Engine) tick(ctx context.Context) {
	now := time.Now().UTC()

	ready, err := e.store.PopReadyCommands(ctx, 50)
	if err != nil {
		e.log.LogError(err, "command engine: poll failed", nil)
		return
	}
	for _, cmd := range ready {
		if e.inBackoff(cmd.ID, now) {
			continue
		}
		e.dispatch(ctx, cmd, now)
	}

	e.sweepAckTimeouts(ctx, now)
}

func (e *Engine) inBackoff(id string, now time.Time) bool {
	e.backoffMu.Lock()
	defer e.backoffMu.Unlock()
	until, ok := e.backoff[id]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(e.backoff, id)
	return false
}

func (e *Engine) setBackoff(id string, until time.Time) {
	e.backoffMu.Lock()
	e.backoff[id] = until
	e.backoffMu.Unlock()
}

func (e *Engine) clearBackoff(id string) {
	e.backoffMu.Lock()
	delete(e.backoff, id)
	e.backoffMu.Unlock()
}

// dispatch resolves a single queued command: terminal/expiry checks,
// live session lookup, protocol encode, and either a direct write or an
// SMS fallback.
func (e *Engine) dispatch(ctx context.Context, cmd *models.Command, now time.Time) {
	if cmd.Status.IsTerminal() {
		return
	}
	if cmd.Expired(now) {
		cmd.Status = models.StatusExpired
		if err := e.store.UpsertCommand(ctx, cmd); err != nil {
			e.log.LogError(err, "command engine: failed to mark expired command", nil)
		}
		return
	}

	sess, ok := e.sessions.ByDevice(cmd.DeviceRef)
	if !ok {
		e.handleNoSession(ctx, cmd, now)
		return
	}

	proto, ok := protocol.ByName(sess.Protocol)
	if !ok {
		e.retryOrFail(ctx, cmd, now, errUnknownProtocol)
		return
	}

	frame, err := proto.EncodeCommand(cmd)
	if err != nil {
		if errors.Is(err, protocol.ErrCommandUnsupported) && cmd.TextChannel {
			e.sendViaSMS(ctx, cmd, now)
			return
		}
		e.retryOrFail(ctx, cmd, now, err)
		return
	}

	if err := e.writeToSession(sess, frame); err != nil {
		e.retryOrFail(ctx, cmd, now, err)
		return
	}

	cmd.Status = models.StatusSent
	cmd.SentAt = &now
	if err := e.store.UpsertCommand(ctx, cmd); err != nil {
		e.log.LogError(err, "command engine: failed to persist sent command", nil)
		return
	}
	e.log.LogCommandDelivery(cmd.ID, cmd.DeviceRef, string(cmd.Status), nil)
}

// writeToSession type-asserts the session's opaque transport handle
// (§3: "not serialized here to keep the session package free of net
// dependencies") down to something it can write an encoded frame to.
func (e *Engine) writeToSession(sess *models.Session, frame []byte) error {
	w, ok := sess.TransportHandle.(io.Writer)
	if !ok {
		return errNoTransport
	}
	_, err := w.Write(frame)
	return err
}

func (e *Engine) handleNoSession(ctx context.Context, cmd *models.Command, now time.Time) {
	if cmd.TextChannel {
		e.sendViaSMS(ctx, cmd, now)
		return
	}
	e.setBackoff(cmd.ID, now.Add(e.cfg.CommandNoSessionBackoff))
	e.log.LogCommandDelivery(cmd.ID, cmd.DeviceRef, "no_session_backoff", errNoSession)
}

func (e *Engine) sendViaSMS(ctx context.Context, cmd *models.Command, now time.Time) {
	if e.sms == nil {
		e.retryOrFail(ctx, cmd, now, errNoSMSGateway)
		return
	}
	device, err := e.store.DeviceByID(ctx, cmd.DeviceRef)
	if err != nil || device == nil || device.PhoneNumber == "" {
		e.retryOrFail(ctx, cmd, now, errNoPhoneNumber)
		return
	}

	if err := e.sms.Send(ctx, device.PhoneNumber, smsBody(cmd)); err != nil {
		e.retryOrFail(ctx, cmd, now, err)
		return
	}

	cmd.Status = models.StatusSent
	cmd.SentAt = &now
	if err := e.store.UpsertCommand(ctx, cmd); err != nil {
		e.log.LogError(err, "command engine: failed to persist SMS-sent command", nil)
		return
	}
	e.log.LogCommandDelivery(cmd.ID, cmd.DeviceRef, string(cmd.Status), nil)
}

func smsBody(cmd *models.Command) string {
	return fmt.Sprintf("%s %v", cmd.Type, cmd.Parameters)
}

// sweepAckTimeouts fails (and retries) any SENT command that has not
// been acknowledged within CommandAckTimeout.
func (e *Engine) sweepAckTimeouts(ctx context.Context, now time.Time) {
	stale, err := e.store.SentCommandsOlderThan(ctx, now.Add(-e.cfg.CommandAckTimeout))
	if err != nil {
		e.log.LogError(err, "command engine: ack-timeout sweep failed", nil)
		return
	}
	for _, cmd := range stale {
		e.retryOrFail(ctx, cmd, now, fmt.Errorf("command engine: no acknowledgment within %s", e.cfg.CommandAckTimeout))
	}
}

// retryOrFail marks a command FAILED and, if it still has retries left
// and hasn't expired, re-queues it with exponential backoff (§4.7).
func (e *Engine) retryOrFail(ctx context.Context, cmd *models.Command, now time.Time, cause error) {
	cmd.Error = cause.Error()
	cmd.FailedAt = &now
	cmd.Status = models.StatusFailed

	if cmd.CanRetry(now) {
		cmd.RetryCount++
		next := now.Add(retryBackoff(e.cfg, cmd.RetryCount))
		cmd.Status = models.StatusQueued
		cmd.QueuedAt = &next
		e.setBackoff(cmd.ID, next)
	} else {
		e.clearBackoff(cmd.ID)
	}

	if err := e.store.UpsertCommand(ctx, cmd); err != nil {
		e.log.LogError(err, "command engine: failed to persist failed command", nil)
	}
	e.log.LogCommandDelivery(cmd.ID, cmd.DeviceRef, string(cmd.Status), cause)
}

// retryBackoff computes CommandRetryBase * CommandRetryFactor^(retryCount-1),
// capped at CommandRetryCap.
func retryBackoff(cfg *config.Config, retryCount int) time.Duration {
	d := cfg.CommandRetryBase
	for i := 1; i < retryCount; i++ {
		d = time.Duration(float64(d) * cfg.CommandRetryFactor)
		if d >= cfg.CommandRetryCap {
			return cfg.CommandRetryCap
		}
	}
	if d > cfg.CommandRetryCap {
		return cfg.CommandRetryCap
	}
	return d
}

// AcceptAck implements pipeline.CommandAcker. A device-reported failure
// runs the same retry path as a transport failure; a device-reported
// success is terminal.
func (e *Engine) AcceptAck(ctx context.Context, _ string, ack *protocol.CommandAck) {
	cmd, err := e.store.CommandByID(ctx, ack.CorrelationID)
	if err != nil {
		e.log.LogError(err, "command engine: ack lookup failed", nil)
		return
	}
	if cmd == nil {
		e.log.Warn("command engine: ack for unknown command", "correlation_id", ack.CorrelationID)
		return
	}

	now := time.Now().UTC()
	if !ack.Executed {
		e.retryOrFail(ctx, cmd, now, fmt.Errorf("device reported failure: %s", ack.Response))
		return
	}

	cmd.Status = models.StatusExecuted
	cmd.ExecutedAt = &now
	cmd.Response = ack.Response
	e.clearBackoff(cmd.ID)
	if err := e.store.UpsertCommand(ctx, cmd); err != nil {
		e.log.LogError(err, "command engine: failed to persist executed command", nil)
		return
	}
	e.log.LogCommandDelivery(cmd.ID, cmd.DeviceRef, string(cmd.Status), nil)
}

// Submit queues a new command for delivery.
func (e *Engine) Submit(ctx context.Context, cmd *models.Command) error {
	now := time.Now().UTC()
	cmd.Status = models.StatusQueued
	cmd.QueuedAt = &now
	return e.store.UpsertCommand(ctx, cmd)
}

// Cancel marks a non-terminal command CANCELLED; a no-op on commands
// that have already reached a terminal state.
func (e *Engine) Cancel(ctx context.Context, commandID string) error {
	cmd, err := e.store.CommandByID(ctx, commandID)
	if err != nil {
		return err
	}
	if cmd == nil {
		return ErrCommandNotFound
	}
	if cmd.Status.IsTerminal() {
		return nil
	}
	cmd.Status = models.StatusCancelled
	e.clearBackoff(cmd.ID)
	return e.store.UpsertCommand(ctx, cmd)
}

// Retry re-queues a FAILED command outside of its normal backoff
// schedule, for an operator-initiated retry.
func (e *Engine) Retry(ctx context.Context, commandID string) error {
	cmd, err := e.store.CommandByID(ctx, commandID)
	if err != nil {
		return err
	}
	if cmd == nil {
		return ErrCommandNotFound
	}
	now := time.Now().UTC()
	if !cmd.CanRetry(now) {
		return ErrCommandNotRetryable
	}
	cmd.RetryCount++
	cmd.Status = models.StatusQueued
	cmd.QueuedAt = &now
	e.clearBackoff(cmd.ID)
	return e.store.UpsertCommand(ctx, cmd)
}
