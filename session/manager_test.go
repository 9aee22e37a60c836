package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatihtunali/whisper2-sub000/codec"
	"github.com/fatihtunali/whisper2-sub000/crypto"
	"github.com/fatihtunali/whisper2-sub000/identity"
	"github.com/fatihtunali/whisper2-sub000/transport"
	"github.com/fatihtunali/whisper2-sub000/wire"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fakeServer scripts the relay side of the auth exchange. Frames sent
// by the manager are inspected and answered through HandleFrame.
type fakeServer struct {
	t          *testing.T
	m          *Manager
	instanceID string

	mu         sync.Mutex
	begins     int
	proofs     int
	signPublic [32]byte
	dropOK     bool
	errorCode  string
}

func (s *fakeServer) send(data []byte) error {
	frame, err := wire.Decode(data)
	require.NoError(s.t, err)

	switch frame.Type {
	case wire.FrameAuthBegin:
		s.mu.Lock()
		s.begins++
		s.mu.Unlock()
		if s.errorCode != "" {
			resp, _ := wire.NewFrame(wire.FrameError, frame.RequestID, wire.ErrorPayload{
				Code: s.errorCode, Message: "rejected", RequestID: frame.RequestID,
			})
			go s.m.HandleFrame(s.instanceID, resp)
			return nil
		}
		challenge, _ := wire.NewFrame(wire.FrameAuthChallenge, frame.RequestID, challengePayload{
			Challenge: []byte("single-use challenge bytes"),
		})
		go s.m.HandleFrame(s.instanceID, challenge)

	case wire.FrameAuthProof:
		var p proofPayload
		require.NoError(s.t, json.Unmarshal(frame.Payload, &p))

		sig, err := crypto.SignatureFromBytes(p.Signature)
		require.NoError(s.t, err)
		ok, err := codec.VerifyChallenge([]byte("single-use challenge bytes"), sig, s.signPublic)
		require.NoError(s.t, err)
		require.True(s.t, ok, "proof signature must verify")

		s.mu.Lock()
		s.proofs++
		drop := s.dropOK
		s.mu.Unlock()
		if drop {
			return nil
		}
		okFrame, _ := wire.NewFrame(wire.FrameAuthOK, frame.RequestID, okPayload{
			AccountID:        "WSP-AB12-CD34-EF56",
			SessionToken:     "tok-1",
			ExpiresAtMillis:  time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
			ServerTimeMillis: time.Now().UnixMilli(),
		})
		go s.m.HandleFrame(s.instanceID, okFrame)

	case wire.FrameSessionRefresh:
		resp, _ := wire.NewFrame(wire.FrameSessionRefresh, frame.RequestID, okPayload{
			SessionToken:    "tok-2",
			ExpiresAtMillis: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
		})
		go s.m.HandleFrame(s.instanceID, resp)

	case wire.FrameLogout:
		resp, _ := wire.NewFrame(wire.FrameLogout, frame.RequestID, struct{}{})
		go s.m.HandleFrame(s.instanceID, resp)
	}
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeServer) {
	id, err := identity.DeriveKeys(testMnemonic)
	require.NoError(t, err)
	device := identity.NewDevice("test")

	server := &fakeServer{t: t, instanceID: "conn-1", signPublic: id.Signing.Public}
	m := NewManager(id, device, server.send)
	server.m = m
	return m, server
}

func TestAuthenticateHappyPath(t *testing.T) {
	m, server := newTestManager(t)

	s, err := m.Authenticate(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", s.Token)
	assert.Equal(t, "WSP-AB12-CD34-EF56", s.AccountID)
	assert.Equal(t, StateAuthenticated, m.State())
	assert.Equal(t, 1, server.begins)
	assert.Equal(t, 1, server.proofs)
}

func TestAuthenticateSingleFlight(t *testing.T) {
	m, server := newTestManager(t)

	// Two concurrent callers on the same instance must produce exactly
	// one challenge/proof exchange.
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Authenticate(context.Background(), "conn-1"); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, server.begins, "duplicate auth_begin sent")
	assert.Equal(t, 1, server.proofs, "duplicate auth_proof sent")
}

func TestAuthenticateAlreadyAuthenticatedReturnsSession(t *testing.T) {
	m, server := newTestManager(t)

	first, err := m.Authenticate(context.Background(), "conn-1")
	require.NoError(t, err)
	second, err := m.Authenticate(context.Background(), "conn-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, server.begins)
}

func TestAuthenticateNewInstanceRerunsFullFlow(t *testing.T) {
	m, server := newTestManager(t)

	_, err := m.Authenticate(context.Background(), "conn-1")
	require.NoError(t, err)

	// A new transport voids the old binding; the token is never
	// replayed, the full flow runs again.
	server.instanceID = "conn-2"
	_, err = m.Authenticate(context.Background(), "conn-2")
	require.NoError(t, err)
	assert.Equal(t, 2, server.begins)
}

func TestAuthenticateServerRejection(t *testing.T) {
	m, server := newTestManager(t)
	server.errorCode = wire.CodeAuthFailed

	_, err := m.Authenticate(context.Background(), "conn-1")
	var serverErr *wire.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, wire.CodeAuthFailed, serverErr.Code)
	assert.Equal(t, StateFailed, m.State())
}

func TestAuthenticateContextCancel(t *testing.T) {
	m, server := newTestManager(t)
	server.dropOK = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Authenticate(ctx, "conn-1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestConnectionLostFailsInFlightAttempt(t *testing.T) {
	m, server := newTestManager(t)
	server.dropOK = true

	done := make(chan error, 1)
	go func() {
		_, err := m.Authenticate(context.Background(), "conn-1")
		done <- err
	}()

	// Let the attempt reach ProofSent, then kill the transport.
	deadline := time.Now().Add(time.Second)
	for m.State() != StateProofSent && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	m.ConnectionLost("conn-1", transport.ErrConnectionLost)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, transport.ErrConnectionLost))
	case <-time.After(time.Second):
		t.Fatal("authentication waiter left dangling after connection loss")
	}
	assert.Nil(t, m.Session())
}

func TestDuplicateChallengeNotResigned(t *testing.T) {
	m, server := newTestManager(t)
	server.dropOK = true

	done := make(chan struct{})
	go func() {
		_, _ = m.Authenticate(context.Background(), "conn-1")
		close(done)
	}()

	proofCount := func() int {
		server.mu.Lock()
		defer server.mu.Unlock()
		return server.proofs
	}
	deadline := time.Now().Add(time.Second)
	for proofCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, 1, proofCount())

	m.mu.Lock()
	requestID := m.inflight.requestID
	m.mu.Unlock()

	// A replayed challenge for the same attempt is consumed but never
	// signed a second time.
	replay, err := wire.NewFrame(wire.FrameAuthChallenge, requestID, challengePayload{
		Challenge: []byte("attacker-chosen bytes"),
	})
	require.NoError(t, err)
	assert.True(t, m.HandleFrame("conn-1", replay))
	assert.Equal(t, 1, proofCount(), "second proof must not be sent")

	m.ConnectionLost("conn-1", transport.ErrConnectionLost)
	<-done
}

func TestNeedsRefresh(t *testing.T) {
	m, _ := newTestManager(t)
	assert.False(t, m.NeedsRefresh(), "no session yet")

	_, err := m.Authenticate(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.False(t, m.NeedsRefresh(), "fresh 7-day token")

	m.mu.Lock()
	m.session.ExpiresAt = time.Now().Add(time.Hour)
	m.mu.Unlock()
	assert.True(t, m.NeedsRefresh())
}

func TestRefreshReplacesToken(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Authenticate(context.Background(), "conn-1")
	require.NoError(t, err)
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, "tok-2", m.Token())
}

func TestLogoutClearsSession(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Authenticate(context.Background(), "conn-1")
	require.NoError(t, err)
	require.NoError(t, m.Logout(context.Background()))
	assert.Nil(t, m.Session())
	assert.Equal(t, StateUnauthenticated, m.State())

	assert.True(t, errors.Is(m.Logout(context.Background()), ErrNotAuthenticated))
}
