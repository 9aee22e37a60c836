package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/codec"
	"github.com/fatihtunali/whisper2-sub000/identity"
	"github.com/fatihtunali/whisper2-sub000/limits"
	"github.com/fatihtunali/whisper2-sub000/transport"
	"github.com/fatihtunali/whisper2-sub000/wire"
)

// State represents the authentication state for the current connection
// instance.
type State int32

const (
	// StateUnauthenticated means no attempt has started on this instance.
	StateUnauthenticated State = iota
	// StateChallengeRequested means auth_begin was sent.
	StateChallengeRequested
	// StateProofSent means the signed challenge was returned.
	StateProofSent
	// StateAuthenticated means the server accepted the proof.
	StateAuthenticated
	// StateFailed means the attempt errored or timed out.
	StateFailed
)

// Session is an authenticated binding of this device to an account,
// valid only for the connection instance it was performed on.
type Session struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
	DeviceID  string
}

var (
	// ErrAuthTimeout indicates the challenge/response exchange did not
	// complete within the auth timeout.
	ErrAuthTimeout = errors.New("authentication timed out")

	// ErrNotAuthenticated indicates an operation requiring a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Sender transmits one encoded frame. Satisfied by *transport.Manager.
type Sender func(data []byte) error

// attempt is one in-flight authentication. Concurrent callers share it.
type attempt struct {
	requestID string
	challenge []byte
	done      chan struct{}
	session   *Session
	err       error
}

// Manager owns the per-instance authentication state machine. The
// single-flight guard is the mutex: every entry point takes it before
// inspecting or changing the state, so duplicate begin/proof pairs
// cannot be sent no matter how many callers race.
type Manager struct {
	id     *identity.Identity
	device *identity.Device
	send   Sender

	mu           sync.Mutex
	instanceID   string
	state        State
	session      *Session
	inflight     *attempt
	serverOffset time.Duration
	pending      map[string]chan *wire.Frame
}

// NewManager creates a session manager for the given identity and
// device.
func NewManager(id *identity.Identity, device *identity.Device, send Sender) *Manager {
	return &Manager{
		id:      id,
		device:  device,
		send:    send,
		state:   StateUnauthenticated,
		pending: make(map[string]chan *wire.Frame),
	}
}

// State returns the current authentication state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the current session, or nil when unauthenticated.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Token returns the current session token, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Token
}

// ServerNow returns local time adjusted by the last observed server
// offset. Used for envelope timestamp skew checks.
func (m *Manager) ServerNow() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Add(m.serverOffset)
}

// Authenticate runs the full challenge/response flow for the given
// connection instance. If an attempt is already in flight on the same
// instance the caller joins it; a completed session is returned as-is.
func (m *Manager) Authenticate(ctx context.Context, instanceID string) (*Session, error) {
	m.mu.Lock()
	if instanceID != m.instanceID {
		// New transport: prior authentication is void by definition.
		m.resetLocked(instanceID)
	}
	if m.state == StateAuthenticated && m.session != nil {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	if m.inflight != nil {
		a := m.inflight
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "Authenticate",
			"instance_id": instanceID,
		}).Debug("Joining in-flight authentication attempt")
		return m.await(ctx, a)
	}

	a := &attempt{
		requestID: uuid.New().String(),
		done:      make(chan struct{}),
	}
	m.inflight = a
	m.state = StateChallengeRequested
	accountID := m.id.AccountID
	m.mu.Unlock()

	frame, err := wire.NewFrame(wire.FrameAuthBegin, a.requestID, beginPayload{
		Header:    wire.NewHeader(""),
		DeviceID:  m.device.DeviceID,
		Platform:  m.device.Platform,
		AccountID: accountID,
	})
	if err != nil {
		m.failAttempt(a, err)
		return nil, err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		m.failAttempt(a, err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Authenticate",
		"instance_id": instanceID,
		"request_id":  a.requestID,
	}).Info("Starting authentication")

	if err := m.send(data); err != nil {
		m.failAttempt(a, err)
		return nil, err
	}
	return m.await(ctx, a)
}

// await blocks until the attempt completes, the auth timeout fires, or
// the context is cancelled.
func (m *Manager) await(ctx context.Context, a *attempt) (*Session, error) {
	timer := time.NewTimer(limits.AuthTimeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return a.session, a.err
	case <-timer.C:
		m.failAttempt(a, ErrAuthTimeout)
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		m.failAttempt(a, ctx.Err())
		return nil, ctx.Err()
	}
}

// HandleFrame processes auth-related frames for the given instance.
// Returns true if the frame was consumed.
func (m *Manager) HandleFrame(instanceID string, frame *wire.Frame) bool {
	switch frame.Type {
	case wire.FrameAuthChallenge:
		return m.handleChallenge(instanceID, frame)
	case wire.FrameAuthOK:
		return m.handleAuthOK(instanceID, frame)
	case wire.FrameError:
		return m.handleError(instanceID, frame)
	default:
		m.mu.Lock()
		waiter, ok := m.pending[frame.RequestID]
		if ok {
			delete(m.pending, frame.RequestID)
		}
		m.mu.Unlock()
		if ok {
			waiter <- frame
			return true
		}
		return false
	}
}

func (m *Manager) handleChallenge(instanceID string, frame *wire.Frame) bool {
	m.mu.Lock()
	a := m.inflight
	if a == nil || instanceID != m.instanceID || frame.RequestID != a.requestID {
		m.mu.Unlock()
		return false
	}

	if a.challenge != nil {
		// One challenge per attempt: a second one is never signed.
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "handleChallenge",
			"instance_id": instanceID,
			"request_id":  a.requestID,
		}).Warn("Duplicate challenge ignored")
		return true
	}

	var p challengePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil || len(p.Challenge) == 0 {
		m.mu.Unlock()
		m.failAttempt(a, fmt.Errorf("malformed challenge payload"))
		return true
	}
	a.challenge = p.Challenge
	m.state = StateProofSent
	m.mu.Unlock()

	sig, err := codec.SignChallenge(p.Challenge, m.id.Signing.Private)
	if err != nil {
		m.failAttempt(a, err)
		return true
	}

	proof, err := wire.NewFrame(wire.FrameAuthProof, a.requestID, proofPayload{
		Header:        wire.NewHeader(""),
		DeviceID:      m.device.DeviceID,
		EncPublicKey:  m.id.Encryption.Public[:],
		SignPublicKey: m.id.Signing.Public[:],
		Signature:     sig[:],
	})
	if err != nil {
		m.failAttempt(a, err)
		return true
	}
	data, err := wire.Encode(proof)
	if err != nil {
		m.failAttempt(a, err)
		return true
	}
	if err := m.send(data); err != nil {
		m.failAttempt(a, err)
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleChallenge",
		"instance_id": instanceID,
		"request_id":  a.requestID,
	}).Debug("Challenge signed, proof sent")
	return true
}

func (m *Manager) handleAuthOK(instanceID string, frame *wire.Frame) bool {
	m.mu.Lock()
	a := m.inflight
	if a == nil || instanceID != m.instanceID || frame.RequestID != a.requestID {
		m.mu.Unlock()
		return false
	}

	var p okPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.SessionToken == "" {
		m.mu.Unlock()
		m.failAttempt(a, fmt.Errorf("malformed auth_ok payload"))
		return true
	}

	session := &Session{
		Token:     p.SessionToken,
		AccountID: p.AccountID,
		ExpiresAt: time.UnixMilli(p.ExpiresAtMillis),
		DeviceID:  m.device.DeviceID,
	}
	m.session = session
	m.state = StateAuthenticated
	m.inflight = nil
	if p.ServerTimeMillis != 0 {
		m.serverOffset = time.UnixMilli(p.ServerTimeMillis).Sub(time.Now())
	}
	m.mu.Unlock()

	a.session = session
	close(a.done)

	logrus.WithFields(logrus.Fields{
		"function":    "handleAuthOK",
		"instance_id": instanceID,
		"account_id":  p.AccountID,
		"expires_at":  session.ExpiresAt.Format(time.RFC3339),
	}).Info("Authenticated")
	return true
}

func (m *Manager) handleError(instanceID string, frame *wire.Frame) bool {
	serverErr := wire.ParseServerError(frame)
	if serverErr == nil {
		return false
	}

	m.mu.Lock()
	a := m.inflight
	if a != nil && instanceID == m.instanceID && frame.RequestID == a.requestID {
		m.mu.Unlock()
		m.failAttempt(a, serverErr)
		return true
	}
	waiter, ok := m.pending[frame.RequestID]
	if ok {
		delete(m.pending, frame.RequestID)
	}
	m.mu.Unlock()
	if ok {
		waiter <- frame
		return true
	}
	return false
}

// ConnectionLost cancels any in-flight attempt and request waiters with
// ErrConnectionLost and voids the session binding. The token may still
// be unexpired server-side, but it is never replayed on a new instance.
func (m *Manager) ConnectionLost(instanceID string, cause error) {
	m.mu.Lock()
	if instanceID != m.instanceID {
		m.mu.Unlock()
		return
	}
	a := m.inflight
	m.inflight = nil
	m.session = nil
	m.state = StateUnauthenticated
	waiters := m.pending
	m.pending = make(map[string]chan *wire.Frame)
	m.mu.Unlock()

	if a != nil {
		a.err = cause
		close(a.done)
	}
	for _, waiter := range waiters {
		close(waiter)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "ConnectionLost",
		"instance_id": instanceID,
	}).Debug("Session binding voided")
}

// NeedsRefresh reports whether the session should be proactively
// refreshed.
func (m *Manager) NeedsRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return false
	}
	return time.Until(m.session.ExpiresAt) < limits.SessionRefreshThreshold
}

// Refresh obtains a replacement token. The server invalidates the old
// one on success.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	token := m.session.Token
	m.mu.Unlock()

	frame, err := m.request(ctx, wire.FrameSessionRefresh, refreshPayload{
		Header:   wire.NewHeader(token),
		DeviceID: m.device.DeviceID,
	})
	if err != nil {
		return err
	}
	if serverErr := wire.ParseServerError(frame); serverErr != nil {
		return serverErr
	}

	var p okPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.SessionToken == "" {
		return fmt.Errorf("malformed refresh response")
	}

	m.mu.Lock()
	if m.session != nil {
		m.session = &Session{
			Token:     p.SessionToken,
			AccountID: m.session.AccountID,
			ExpiresAt: time.UnixMilli(p.ExpiresAtMillis),
			DeviceID:  m.device.DeviceID,
		}
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Refresh",
	}).Info("Session token refreshed")
	return nil
}

// Logout invalidates the token server-side, then tears down local
// session state.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	token := m.session.Token
	m.mu.Unlock()

	_, err := m.request(ctx, wire.FrameLogout, logoutPayload{Header: wire.NewHeader(token)})

	m.mu.Lock()
	m.session = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// request sends a frame and waits for its correlated response.
func (m *Manager) request(ctx context.Context, frameType string, payload any) (*wire.Frame, error) {
	requestID := uuid.New().String()
	frame, err := wire.NewFrame(frameType, requestID, payload)
	if err != nil {
		return nil, err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return nil, err
	}

	waiter := make(chan *wire.Frame, 1)
	m.mu.Lock()
	m.pending[requestID] = waiter
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
	}

	if err := m.send(data); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(limits.AuthTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, transport.ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		cleanup()
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// failAttempt completes an attempt with an error, exactly once.
func (m *Manager) failAttempt(a *attempt, err error) {
	m.mu.Lock()
	if m.inflight != a {
		// Already completed or superseded.
		m.mu.Unlock()
		return
	}
	m.inflight = nil
	m.state = StateFailed
	m.mu.Unlock()

	a.err = err
	close(a.done)

	logrus.WithFields(logrus.Fields{
		"function":   "failAttempt",
		"request_id": a.requestID,
		"error":      err.Error(),
	}).Warn("Authentication attempt failed")
}

// resetLocked rebinds the manager to a new connection instance. Caller
// holds the mutex.
func (m *Manager) resetLocked(instanceID string) {
	m.instanceID = instanceID
	m.state = StateUnauthenticated
	m.session = nil
	m.inflight = nil
}
