package call

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
	"github.com/fatihtunali/whisper2-sub000/limits"
	"github.com/fatihtunali/whisper2-sub000/session"
	"github.com/fatihtunali/whisper2-sub000/wire"
)

// CallState is the lifecycle phase of one call.
type CallState int

const (
	// StateDialing means we sent an offer and await the answer.
	StateDialing CallState = iota
	// StateRinging means we received an offer and await the user.
	StateRinging
	// StateActive means signaling completed both ways.
	StateActive
)

var (
	// ErrCallInProgress indicates a second call to a peer already in one.
	ErrCallInProgress = errors.New("call already in progress with peer")

	// ErrNoIncomingCall indicates an answer or decline with nothing
	// ringing.
	ErrNoIncomingCall = errors.New("no incoming call from peer")

	// ErrNoSuchCall indicates a command for a peer with no call state.
	ErrNoSuchCall = errors.New("no call with peer")
)

// Sealer builds signed envelopes. Satisfied by the message pipeline.
type Sealer interface {
	Seal(messageType, recipient, toOrGroupID string, plaintext []byte) (*codec.Envelope, error)
}

// Submitter persists and transmits a signed envelope. Satisfied by the
// message pipeline.
type Submitter func(env *codec.Envelope) error

// UIEvents is the outbound boundary to the UI layer. The engine
// announces; it never renders, rings, or blocks on user input.
type UIEvents interface {
	AnnounceIncomingCall(peer string, offer []byte)
	CallConnected(peer string)
	CallEnded(peer string, reason string)
}

// IsSignalType reports whether a codec message type belongs to call
// signaling.
func IsSignalType(messageType string) bool {
	switch messageType {
	case codec.TypeCallOffer, codec.TypeCallAnswer, codec.TypeCallICE, codec.TypeCallEnd:
		return true
	}
	return false
}

// EncryptSignal seals an opaque signaling blob into a signed envelope.
// The blob (SDP, ICE candidate) is never inspected.
func EncryptSignal(sealer Sealer, peer, signalType string, blob []byte) (*codec.Envelope, error) {
	if !IsSignalType(signalType) {
		return nil, fmt.Errorf("not a call signal type: %q", signalType)
	}
	return sealer.Seal(signalType, peer, peer, blob)
}

// call is the per-peer state. Commands from the UI are mapped against
// it, so a stale decline or answer cannot emit a stray signal.
type call struct {
	state CallState
	muted bool
}

// Manager tracks call state per peer, emits and consumes signaling
// envelopes, and caches TURN credentials.
type Manager struct {
	sealer Sealer
	submit Submitter
	send   session.Sender
	token  func() string
	ui     UIEvents

	mu      sync.Mutex
	calls   map[string]*call
	creds   *Credentials
	waiters map[string]chan *wire.Frame
	onICE   func(peer string, candidate []byte)
}

// NewManager assembles a call manager.
func NewManager(sealer Sealer, submit Submitter, send session.Sender, token func() string, ui UIEvents) *Manager {
	return &Manager{
		sealer:  sealer,
		submit:  submit,
		send:    send,
		token:   token,
		ui:      ui,
		calls:   make(map[string]*call),
		waiters: make(map[string]chan *wire.Frame),
	}
}

// OnICECandidate registers the callback receiving remote candidates.
func (m *Manager) OnICECandidate(cb func(peer string, candidate []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onICE = cb
}

// State returns the call state for a peer, if any.
func (m *Manager) State(peer string) (CallState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[peer]
	if !ok {
		return 0, false
	}
	return c.state, true
}

// StartCall sends an offer to the peer.
func (m *Manager) StartCall(peer string, offer []byte) error {
	m.mu.Lock()
	if _, exists := m.calls[peer]; exists {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	m.calls[peer] = &call{state: StateDialing}
	m.mu.Unlock()

	if err := m.signal(peer, codec.TypeCallOffer, offer); err != nil {
		m.drop(peer)
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "StartCall",
		"peer":     peer,
	}).Info("Call offer sent")
	return nil
}

// SendICE forwards a local ICE candidate to the peer.
func (m *Manager) SendICE(peer string, candidate []byte) error {
	m.mu.Lock()
	_, exists := m.calls[peer]
	m.mu.Unlock()
	if !exists {
		return ErrNoSuchCall
	}
	return m.signal(peer, codec.TypeCallICE, candidate)
}

// EndCall hangs up locally and tells the peer.
func (m *Manager) EndCall(peer string) error {
	m.mu.Lock()
	_, exists := m.calls[peer]
	m.mu.Unlock()
	if !exists {
		return ErrNoSuchCall
	}

	err := m.signal(peer, codec.TypeCallEnd, nil)
	m.drop(peer)
	m.ui.CallEnded(peer, "local")
	return err
}

// UserAnswered maps the user's accept onto a call-answer signal.
func (m *Manager) UserAnswered(peer string, answer []byte) error {
	m.mu.Lock()
	c, exists := m.calls[peer]
	if !exists || c.state != StateRinging {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	c.state = StateActive
	m.mu.Unlock()

	if err := m.signal(peer, codec.TypeCallAnswer, answer); err != nil {
		m.drop(peer)
		return err
	}
	m.ui.CallConnected(peer)
	return nil
}

// UserDeclined maps the user's reject onto a hangup signal.
func (m *Manager) UserDeclined(peer string) error {
	m.mu.Lock()
	c, exists := m.calls[peer]
	if !exists || c.state != StateRinging {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	m.mu.Unlock()

	err := m.signal(peer, codec.TypeCallEnd, nil)
	m.drop(peer)
	m.ui.CallEnded(peer, "declined")
	return err
}

// UserMuted records the local mute state. Mute is local to the media
// layer; no signal leaves the device.
func (m *Manager) UserMuted(peer string, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.calls[peer]
	if !exists {
		return ErrNoSuchCall
	}
	c.muted = muted
	return nil
}

// Muted reports the local mute state for a call.
func (m *Manager) Muted(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.calls[peer]
	return exists && c.muted
}

// HandleSignal consumes a verified, decrypted call signaling envelope.
// The pipeline delivers it; blob is the decrypted signaling payload.
func (m *Manager) HandleSignal(env *codec.Envelope, blob []byte) {
	peer := env.From

	switch env.MessageType {
	case codec.TypeCallOffer:
		m.mu.Lock()
		if _, exists := m.calls[peer]; exists {
			// Glare or duplicate offer; the existing call wins.
			m.mu.Unlock()
			return
		}
		m.calls[peer] = &call{state: StateRinging}
		m.mu.Unlock()
		m.ui.AnnounceIncomingCall(peer, blob)

	case codec.TypeCallAnswer:
		m.mu.Lock()
		c, exists := m.calls[peer]
		if !exists || c.state != StateDialing {
			m.mu.Unlock()
			return
		}
		c.state = StateActive
		m.mu.Unlock()
		m.ui.CallConnected(peer)

	case codec.TypeCallICE:
		m.mu.Lock()
		_, exists := m.calls[peer]
		cb := m.onICE
		m.mu.Unlock()
		if exists && cb != nil {
			cb(peer, blob)
		}

	case codec.TypeCallEnd:
		m.mu.Lock()
		_, exists := m.calls[peer]
		m.mu.Unlock()
		if exists {
			m.drop(peer)
			m.ui.CallEnded(peer, "remote")
		}
	}
}

// signal seals and submits one signaling envelope.
func (m *Manager) signal(peer, signalType string, blob []byte) error {
	if blob == nil {
		blob = []byte("{}")
	}
	env, err := EncryptSignal(m.sealer, peer, signalType, blob)
	if err != nil {
		return err
	}
	return m.submit(env)
}

func (m *Manager) drop(peer string) {
	m.mu.Lock()
	delete(m.calls, peer)
	m.mu.Unlock()
}

// TURNCredentials returns cached credentials while fresh, fetching a
// replacement set from the relay otherwise.
func (m *Manager) TURNCredentials(ctx context.Context) (*Credentials, error) {
	m.mu.Lock()
	if m.creds.Fresh() {
		creds := m.creds
		m.mu.Unlock()
		return creds, nil
	}
	m.mu.Unlock()

	creds, err := m.fetchCredentials(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "TURNCredentials",
		"urls":     len(creds.URLs),
		"ttl":      creds.TTL.String(),
	}).Debug("TURN credentials refreshed")
	return creds, nil
}

func (m *Manager) fetchCredentials(ctx context.Context) (*Credentials, error) {
	requestID := uuid.New().String()
	frame, err := wire.NewFrame(wire.FrameTurnCreds, requestID, struct {
		wire.Header
	}{wire.NewHeader(m.token())})
	if err != nil {
		return nil, err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return nil, err
	}

	waiter := make(chan *wire.Frame, 1)
	m.mu.Lock()
	m.waiters[requestID] = waiter
	m.mu.Unlock()
	cleanup := func() {
		m.mu.Lock()
		delete(m.waiters, requestID)
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
			return nil, errors.New("connection lost fetching TURN credentials")
		}
		if serverErr := wire.ParseServerError(resp); serverErr != nil {
			return nil, serverErr
		}
		var p turnPayload
		if err := json.Unmarshal(resp.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed turn_credentials payload: %w", err)
		}
		return &Credentials{
			URLs:       p.URLs,
			Username:   p.Username,
			Password:   p.Password,
			TTL:        time.Duration(p.TTLSeconds) * time.Second,
			ReceivedAt: time.Now(),
		}, nil
	case <-timer.C:
		cleanup()
		return nil, errors.New("turn_credentials request timed out")
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// HandleFrame routes turn_credentials responses. Returns true if the
// frame was consumed.
func (m *Manager) HandleFrame(frame *wire.Frame) bool {
	if frame.Type != wire.FrameTurnCreds && frame.Type != wire.FrameError {
		return false
	}
	m.mu.Lock()
	waiter, ok := m.waiters[frame.RequestID]
	if ok {
		delete(m.waiters, frame.RequestID)
	}
	m.mu.Unlock()
	if ok {
		waiter <- frame
	}
	return ok
}

// ConnectionLost fails in-flight credential fetches. Call state itself
// survives a reconnect; signaling retries ride the outbox.
func (m *Manager) ConnectionLost() {
	m.mu.Lock()
	waiters := m.waiters
	m.waiters = make(map[string]chan *wire.Frame)
	m.mu.Unlock()
	for _, waiter := range waiters {
		close(waiter)
	}
}
