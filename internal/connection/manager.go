package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Recorder receives manager lifecycle events, typically for metrics.
type Recorder interface {
	AttemptStarted()
	ReconnectScheduled(delay time.Duration)
	Confirmed()
	HandshakeTimedOut()
	ReconnectExhausted()
	FrameReceived(frameType string)
	MessageSent(err error)
	StateChanged(state State)
}

type nopRecorder struct{}

func (nopRecorder) AttemptStarted()                  {}
func (nopRecorder) ReconnectScheduled(time.Duration) {}
func (nopRecorder) Confirmed()                       {}
func (nopRecorder) HandshakeTimedOut()               {}
func (nopRecorder) ReconnectExhausted()              {}
func (nopRecorder) FrameReceived(string)             {}
func (nopRecorder) MessageSent(error)                {}
func (nopRecorder) StateChanged(State)               {}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for handshake and reconnect timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRecorder sets the lifecycle recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.rec = r
	}
}

// attempt is one connection attempt. Events carrying an attempt that is no
// longer current are dropped.
type attempt struct {
	id        string
	logger    *slog.Logger
	ready     *Readiness
	transport Transport
	cancel    context.CancelFunc
	handshake *clock.Timer
	confirmed bool
}

// reconnectTicket identifies the single outstanding reconnect timer.
type reconnectTicket struct {
	timer *clock.Timer
}

// Manager owns the lifecycle of exactly one logical channel to the server.
type Manager struct {
	cfg     ManagerConfig
	dialer  Dialer
	backoff Backoff
	clock   clock.Clock
	logger  *slog.Logger
	rec     Recorder

	mu              sync.Mutex
	state           State
	handlers        Handlers
	current         *attempt
	ready           *Readiness // Most recent readiness, settled or not
	attempts        int
	shouldReconnect bool
	pending         *reconnectTicket

	identity    int64
	hasIdentity bool
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultManagerConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = defaults.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = defaults.ReconnectMaxWait
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		backoff: Backoff{
			Base:        cfg.ReconnectBaseWait,
			Max:         cfg.ReconnectMaxWait,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		clock:  clock.New(),
		logger: logger,
		rec:    nopRecorder{},
		state:  StateIdle,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Connect opens the channel, or joins the attempt already in flight.
// The handler pair replaces any previously supplied one.
func (m *Manager) Connect(h Handlers) *Readiness {
	m.mu.Lock()
	m.handlers = h

	switch m.state {
	case StateOpen, StateConnecting:
		r := m.ready
		m.mu.Unlock()
		return r
	}

	m.shouldReconnect = true
	m.cancelReconnectLocked()
	stale := m.teardownLocked(ErrConnectionClosed)
	m.attempts = 0
	a := m.openLocked()
	m.mu.Unlock()

	if stale != nil {
		closeTransport(a.logger, stale, "superseded")
	}

	return a.ready
}

// Send writes a message to receiverID once the channel is confirmed.
func (m *Manager) Send(ctx context.Context, receiverID int64, text string) error {
	if text == "" {
		return ErrEmptyText
	}

	m.mu.Lock()
	r := m.ready
	m.mu.Unlock()

	if r != nil {
		if err := r.Wait(ctx); err != nil {
			if !r.Settled() {
				return fmt.Errorf("wait for connection: %w", err)
			}
			m.rec.MessageSent(ErrNotConnected)
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}

	m.mu.Lock()
	if m.state != StateOpen || m.current == nil || m.current.transport == nil {
		m.mu.Unlock()
		m.rec.MessageSent(ErrNotConnected)
		return ErrNotConnected
	}
	a := m.current
	t := a.transport
	m.mu.Unlock()

	data, err := json.Marshal(OutboundMessage{ReceiverID: receiverID, Text: text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := t.WriteFrame(data); err != nil {
		a.logger.Warn("send failed", "receiver_id", receiverID, "error", err)
		m.rec.MessageSent(ErrSendFailure)
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}

	m.rec.MessageSent(nil)
	return nil
}

// Close stops reconnection and closes the channel with a normal closure.
// It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.shouldReconnect = false
	m.cancelReconnectLocked()

	var logger *slog.Logger
	if m.current != nil {
		logger = m.current.logger
		m.setStateLocked(StateClosing)
	}
	t := m.teardownLocked(ErrConnectionClosed)
	if m.state != StateIdle {
		m.setStateLocked(StateClosed)
	}
	m.mu.Unlock()

	if t != nil {
		closeTransport(logger, t, "")
	}

	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is confirmed open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// Attempts returns the number of reconnect attempts since the last confirmation.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Identity returns the local user ID, if known.
func (m *Manager) Identity() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity, m.hasIdentity
}

// SetIdentity records a locally known user ID. The server's connected frame
// overrides it.
func (m *Manager) SetIdentity(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = id
	m.hasIdentity = true
}

// ClearIdentity forgets the local user ID.
func (m *Manager) ClearIdentity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = 0
	m.hasIdentity = false
}

// openLocked starts a new attempt. Caller holds m.mu.
func (m *Manager) openLocked() *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	a := &attempt{
		id:     id,
		logger: m.logger.With("attempt_id", id),
		ready:  newReadiness(),
		cancel: cancel,
	}

	m.current = a
	m.ready = a.ready
	m.setStateLocked(StateConnecting)

	a.handshake = m.clock.AfterFunc(m.cfg.HandshakeTimeout, func() {
		m.onHandshakeTimeout(a)
	})

	m.rec.AttemptStarted()
	a.logger.Info("connecting", "url", m.cfg.URL, "reconnect_attempt", m.attempts)

	go m.dial(ctx, a)

	return a
}

// teardownLocked discards the current attempt and rejects its readiness.
// It returns the transport to close once the lock is released.
func (m *Manager) teardownLocked(cause error) Transport {
	a := m.current
	if a == nil {
		return nil
	}
	m.current = nil
	a.cancel()
	stopTimer(a.handshake)
	a.ready.settle(cause)
	return a.transport
}

// cancelReconnectLocked stops the pending reconnect timer, if any.
func (m *Manager) cancelReconnectLocked() {
	if m.pending == nil {
		return
	}
	stopTimer(m.pending.timer)
	m.pending = nil
}

// scheduleReconnectLocked arms the single reconnect timer.
func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	tk := &reconnectTicket{}
	m.pending = tk
	tk.timer = m.clock.AfterFunc(delay, func() {
		m.reconnect(tk)
	})
	m.rec.ReconnectScheduled(delay)
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state change", "from", m.state, "to", s)
	m.state = s
	m.rec.StateChanged(s)
}

// dial opens the transport for a and then reads from it until it ends.
func (m *Manager) dial(ctx context.Context, a *attempt) {
	t, err := m.dialer.Dial(ctx)
	if err != nil {
		a.logger.Warn("dial failed", "error", err)
		m.onClosed(a, err)
		return
	}

	m.mu.Lock()
	if m.current != a {
		m.mu.Unlock()
		closeTransport(a.logger, t, "superseded")
		return
	}
	a.transport = t
	m.mu.Unlock()

	a.logger.Debug("transport open, awaiting confirmation")
	m.readLoop(a, t)
}

// readLoop dispatches inbound frames in arrival order.
func (m *Manager) readLoop(a *attempt, t Transport) {
	for {
		data, err := t.ReadFrame()
		receivedAt := m.clock.Now()
		if err != nil {
			m.onClosed(a, err)
			return
		}
		m.handleFrame(a, data, receivedAt)
	}
}

// handleFrame routes one inbound frame.
func (m *Manager) handleFrame(a *attempt, data []byte, receivedAt time.Time) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		a.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		m.rec.FrameReceived("invalid")
		return
	}
	m.rec.FrameReceived(frameLabel(f.Type))

	switch f.Type {
	case FrameConnected:
		m.confirm(a, f.UserID)

	case FrameMessage:
		m.mu.Lock()
		current := m.current == a
		onMessage := m.handlers.OnMessage
		m.mu.Unlock()
		if current && onMessage != nil {
			onMessage(f.toMessage(receivedAt))
		}

	case FrameError:
		m.mu.Lock()
		current := m.current == a
		onError := m.handlers.OnError
		m.mu.Unlock()
		a.logger.Warn("server error", "error", f.Error)
		if current && onError != nil {
			onError(&ServerError{Message: f.Error})
		}

	default:
		a.logger.Debug("ignoring frame", "type", f.Type)
	}
}

// confirm handles the connected frame and fulfils the readiness.
func (m *Manager) confirm(a *attempt, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != a {
		return
	}

	if userID != 0 {
		if m.hasIdentity && m.identity != userID {
			a.logger.Warn("server identity differs from local identity",
				"local", m.identity,
				"server", userID,
			)
		}
		m.identity = userID
		m.hasIdentity = true
	}

	if a.confirmed {
		return
	}
	a.confirmed = true
	stopTimer(a.handshake)
	m.attempts = 0
	m.setStateLocked(StateOpen)
	a.ready.settle(nil)
	m.rec.Confirmed()

	a.logger.Info("connected", "user_id", userID)
}

// onHandshakeTimeout fails an attempt that was never confirmed. No retry.
// A reconnect attempt has no caller waiting on its readiness, so the
// failure goes to OnError instead.
func (m *Manager) onHandshakeTimeout(a *attempt) {
	m.mu.Lock()
	if m.current != a || a.confirmed {
		m.mu.Unlock()
		return
	}
	t := m.teardownLocked(ErrHandshakeTimeout)
	m.setStateLocked(StateClosed)

	attempts := m.attempts
	var onError func(error)
	if attempts > 0 {
		onError = m.handlers.OnError
	}
	m.mu.Unlock()

	m.rec.HandshakeTimedOut()
	a.logger.Warn("handshake timeout", "timeout", m.cfg.HandshakeTimeout, "reconnect_attempt", attempts)

	if t != nil {
		closeTransport(a.logger, t, "handshake timeout")
	}
	if onError != nil {
		onError(fmt.Errorf("reconnect attempt %d: %w", attempts, ErrHandshakeTimeout))
	}
}

// onClosed handles the end of a's transport, including dial failures.
func (m *Manager) onClosed(a *attempt, err error) {
	code := closeCode(err)
	var te *TransportError
	if !errors.As(err, &te) {
		te = &TransportError{Code: code, Err: err}
	}

	m.mu.Lock()
	if m.current != a {
		m.mu.Unlock()
		return
	}
	t := m.teardownLocked(te)
	m.setStateLocked(StateClosed)

	onError := m.handlers.OnError
	exhausted := false
	var delay time.Duration

	if code != CloseNormal && m.shouldReconnect {
		if m.backoff.Exhausted(m.attempts) {
			exhausted = true
			m.shouldReconnect = false
		} else {
			m.attempts++
			delay = m.backoff.Delay(m.attempts)
			m.scheduleReconnectLocked(delay)
		}
	}
	attempts := m.attempts
	m.mu.Unlock()

	if t != nil {
		closeTransport(a.logger, t, "")
	}

	switch {
	case exhausted:
		a.logger.Error("reconnection exhausted", "attempts", attempts, "error", err)
		m.rec.ReconnectExhausted()
		if onError != nil {
			onError(ErrReconnectExhausted)
		}
	case delay > 0:
		a.logger.Warn("connection lost, reconnecting",
			"code", code,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
	default:
		a.logger.Info("connection closed", "code", code)
	}
}

// reconnect fires when the backoff delay elapses.
func (m *Manager) reconnect(tk *reconnectTicket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != tk || !m.shouldReconnect {
		return
	}
	m.pending = nil
	m.openLocked()
}

// frameLabel bounds the frame types reported to the recorder.
func frameLabel(frameType string) string {
	switch frameType {
	case FrameConnected, FrameMessage, FrameError:
		return frameType
	default:
		return "unknown"
	}
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

func closeTransport(logger *slog.Logger, t Transport, reason string) {
	if err := t.Close(CloseNormal, reason); err != nil && logger != nil {
		logger.Debug("transport close", "error", err)
	}
}
