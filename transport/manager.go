package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/limits"
)

// Manager owns the transport lifecycle. All state transitions happen
// under its mutex; callers never observe a half-transitioned manager.
//
// Exactly one reconnect loop may be active at a time, enforced by an
// atomic flag rather than caller discipline.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	state      State
	started    bool
	closed     bool
	conn       Conn
	instanceID string
	sendCh     chan []byte
	stopCh     chan struct{}
	attempts   int

	reconnecting atomic.Bool
	wakeCh       chan struct{}

	onConnected    func(instanceID string)
	onDisconnected func(instanceID string, err error)
	onFrame        func(instanceID string, data []byte)
}

// NewManager creates a connection manager. Callbacks must be registered
// before Connect.
func NewManager(cfg Config) *Manager {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Manager{
		cfg:    cfg,
		state:  StateDisconnected,
		wakeCh: make(chan struct{}, 1),
	}
}

// OnConnected registers the callback invoked with the freshly minted
// connection instance ID after each successful open.
func (m *Manager) OnConnected(fn func(instanceID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected registers the callback invoked when a transport is
// lost. In-flight waiters scoped to the instance must fail with the
// delivered error.
func (m *Manager) OnDisconnected(fn func(instanceID string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnFrame registers the inbound frame callback. Frames for one
// connection are delivered in wire arrival order.
func (m *Manager) OnFrame(fn func(instanceID string, data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InstanceID returns the current connection instance ID, or "" when no
// transport is open.
func (m *Manager) InstanceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instanceID
}

// Connect establishes the transport. A no-op unless the manager is
// Disconnected: concurrent or repeated calls never race a second dial.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"state":    state.String(),
		}).Debug("Connect ignored: not disconnected")
		return nil
	}
	m.state = StateConnecting
	m.started = true
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		m.mu.Lock()
		if !m.closed {
			m.state = StateReconnecting
		}
		m.mu.Unlock()
		m.startReconnectLoop()
		return err
	}
	return nil
}

// Send queues one encoded frame for transmission. Writes are serialized
// through the write pump; callers never touch the conn directly.
func (m *Manager) Send(data []byte) error {
	if err := limits.ValidateFrameSize(data); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	sendCh := m.sendCh
	stopCh := m.stopCh
	m.mu.Unlock()

	select {
	case sendCh <- data:
		return nil
	case <-stopCh:
		return ErrConnectionLost
	}
}

// NotifyNetworkAvailable signals an unavailable→available network
// transition. While Disconnected this resets backoff and triggers an
// immediate reconnect; while Connected it is observed only.
func (m *Manager) NotifyNetworkAvailable() {
	m.resetBackoff("NotifyNetworkAvailable")
}

// NotifyForeground signals the application returning to the foreground.
// Same backoff-reset semantics as NotifyNetworkAvailable.
func (m *Manager) NotifyForeground() {
	m.resetBackoff("NotifyForeground")
}

func (m *Manager) resetBackoff(function string) {
	m.mu.Lock()
	if m.closed || !m.started {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	state := m.state
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": function,
		"state":    state.String(),
	}).Debug("Backoff reset signal")

	if state == StateConnected {
		return
	}
	// Unpark a waiting reconnect loop, or start one if none is active.
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
	if state == StateDisconnected || state == StateReconnecting {
		m.startReconnectLoop()
	}
}

// Close shuts the manager down permanently. Used on process exit only;
// the state machine itself is terminal-free.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.conn != nil {
		close(m.stopCh)
		_ = m.conn.Close()
		m.conn = nil
	}
	m.instanceID = ""
	m.state = StateDisconnected
	m.mu.Unlock()

	// Unpark any waiting reconnect loop so it can observe closed.
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// dial establishes one transport and, on success, transitions to
// Connected with a fresh connection instance.
func (m *Manager) dial(ctx context.Context) error {
	conn, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dial",
			"error":    err.Error(),
		}).Warn("Transport dial failed")
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrManagerClosed
	}
	m.conn = conn
	m.instanceID = uuid.New().String()
	m.sendCh = make(chan []byte, m.cfg.SendBuffer)
	m.stopCh = make(chan struct{})
	m.state = StateConnected
	instanceID := m.instanceID
	sendCh := m.sendCh
	stopCh := m.stopCh
	onConnected := m.onConnected
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "dial",
		"instance_id": instanceID,
	}).Info("Transport connected")

	go m.readPump(conn, instanceID)
	go m.writePump(conn, instanceID, sendCh, stopCh)

	if onConnected != nil {
		onConnected(instanceID)
	}
	return nil
}

// readPump delivers inbound frames in wire arrival order. A read error
// (including the pong-timeout deadline) ends the connection lifetime.
func (m *Manager) readPump(conn Conn, instanceID string) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(instanceID, err)
			return
		}

		m.mu.Lock()
		onFrame := m.onFrame
		m.mu.Unlock()
		if onFrame != nil {
			onFrame(instanceID, data)
		}
	}
}

// writePump serializes all writes and drives the heartbeat. A write or
// ping failure ends the connection lifetime.
func (m *Manager) writePump(conn Conn, instanceID string, sendCh chan []byte, stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-sendCh:
			if err := conn.WriteMessage(data); err != nil {
				m.connectionLost(instanceID, err)
				return
			}
		case <-ticker.C:
			if err := conn.WritePing(); err != nil {
				m.connectionLost(instanceID, err)
				return
			}
		case <-stopCh:
			return
		}
	}
}

// connectionLost handles a close/error for the given instance. Timers
// and pumps are cancelled before the state transition so no waiter is
// left dangling; stale notifications for older instances are ignored.
func (m *Manager) connectionLost(instanceID string, cause error) {
	m.mu.Lock()
	if m.instanceID != instanceID || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	_ = m.conn.Close()
	m.conn = nil
	m.instanceID = ""
	if m.closed {
		m.state = StateDisconnected
	} else {
		m.state = StateReconnecting
	}
	closed := m.closed
	onDisconnected := m.onDisconnected
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "connectionLost",
		"instance_id": instanceID,
		"error":       cause.Error(),
	}).Warn("Transport lost")

	if onDisconnected != nil {
		onDisconnected(instanceID, fmt.Errorf("%w: %v", ErrConnectionLost, cause))
	}
	if !closed {
		m.startReconnectLoop()
	}
}

// startReconnectLoop launches the backoff loop unless one is already
// active. The atomic guard is what makes duplicate reconnect loops
// impossible regardless of how many call sites fire.
func (m *Manager) startReconnectLoop() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	defer m.reconnecting.Store(false)

	for {
		m.mu.Lock()
		if m.closed {
			m.state = StateDisconnected
			m.mu.Unlock()
			return
		}
		if m.state == StateConnected {
			m.mu.Unlock()
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if m.cfg.MaxAttempts > 0 && attempt > m.cfg.MaxAttempts {
			// Park until a foreground/network signal resets the counter.
			// Transport flapping never resets it.
			m.mu.Lock()
			m.state = StateDisconnected
			m.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "reconnectLoop",
				"attempts": attempt - 1,
			}).Warn("Reconnect attempts exhausted, waiting for external signal")

			<-m.wakeCh
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				return
			}
			if m.state == StateConnected {
				// A stale wake must not clobber a live connection.
				m.mu.Unlock()
				return
			}
			m.attempts = 0
			m.state = StateReconnecting
			m.mu.Unlock()
			continue
		}

		delay := m.backoffDelay(attempt)
		logrus.WithFields(logrus.Fields{
			"function": "reconnectLoop",
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Debug("Scheduling reconnect attempt")

		select {
		case <-time.After(delay):
		case <-m.wakeCh:
			// Backoff reset: retry immediately.
		}

		m.mu.Lock()
		if m.closed {
			m.state = StateDisconnected
			m.mu.Unlock()
			return
		}
		if m.state == StateConnected {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()

		if err := m.dial(context.Background()); err == nil {
			return
		}

		m.mu.Lock()
		if !m.closed {
			m.state = StateReconnecting
		}
		m.mu.Unlock()
	}
}

// backoffDelay computes the jittered exponential delay for an attempt.
// Full delay is base*2^(n-1) capped at BackoffCap; jitter keeps it in
// [delay/2, delay).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.BackoffCap {
			delay = m.cfg.BackoffCap
			break
		}
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
