package whisper

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
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

const (
	selfAccount = "WSP-SELF-0000-SELF"
	peerAccount = "WSP-PEER-1111-PEER"
)

func testIdentity(t *testing.T, accountID string) *identity.Identity {
	t.Helper()
	enc, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	var signSeed [32]byte
	_, err = rand.Read(signSeed[:])
	require.NoError(t, err)
	return &identity.Identity{
		AccountID:  accountID,
		Encryption: enc,
		Signing: identity.SigningKeyPair{
			Public:  crypto.SigningPublicKey(signSeed),
			Private: signSeed,
		},
	}
}

// fakeRelayConn is one scripted transport. Writes are parsed and
// answered the way the relay gateway would.
type fakeRelayConn struct {
	relay   *fakeRelay
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *fakeRelayConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, errors.New("transport closed")
	}
}

func (c *fakeRelayConn) WriteMessage(data []byte) error {
	c.relay.handle(c, data)
	return nil
}

func (c *fakeRelayConn) WritePing() error { return nil }

func (c *fakeRelayConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fakeRelay scripts the relay side: auth exchange, message acks, and
// empty pending pages.
type fakeRelay struct {
	t *testing.T

	mu       sync.Mutex
	acked    []string
	received []*codec.Envelope
	lastConn *fakeRelayConn
}

func (r *fakeRelay) Dial(ctx context.Context, url string) (transport.Conn, error) {
	conn := &fakeRelayConn{relay: r, inbound: make(chan []byte, 16), done: make(chan struct{})}
	r.mu.Lock()
	r.lastConn = conn
	r.mu.Unlock()
	return conn, nil
}

func (r *fakeRelay) handle(conn *fakeRelayConn, data []byte) {
	frame, err := wire.Decode(data)
	require.NoError(r.t, err)

	reply := func(frameType string, payload any) {
		resp, err := wire.NewFrame(frameType, frame.RequestID, payload)
		require.NoError(r.t, err)
		out, err := wire.Encode(resp)
		require.NoError(r.t, err)
		select {
		case conn.inbound <- out:
		case <-conn.done:
		}
	}

	switch frame.Type {
	case wire.FrameAuthBegin:
		reply(wire.FrameAuthChallenge, map[string]any{
			"challenge": []byte("relay challenge"),
		})
	case wire.FrameAuthProof:
		reply(wire.FrameAuthOK, map[string]any{
			"accountId":    selfAccount,
			"sessionToken": "session-token",
			"expiresAt":    time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
			"serverTime":   time.Now().UnixMilli(),
		})
	case wire.FrameMessage:
		var payload struct {
			Envelope *codec.Envelope `json:"envelope"`
		}
		require.NoError(r.t, json.Unmarshal(frame.Payload, &payload))
		r.mu.Lock()
		r.received = append(r.received, payload.Envelope)
		r.acked = append(r.acked, payload.Envelope.MessageID)
		r.mu.Unlock()
		reply(wire.FrameSendAck, map[string]string{"messageId": payload.Envelope.MessageID})
	case wire.FrameFetchPending:
		reply(wire.FramePendingPage, map[string]any{"envelopes": []any{}, "more": false})
	}
}

// deliver injects a frame as if the relay pushed it.
func (r *fakeRelay) deliver(conn *fakeRelayConn, frameType, requestID string, payload any) {
	frame, err := wire.NewFrame(frameType, requestID, payload)
	require.NoError(r.t, err)
	data, err := wire.Encode(frame)
	require.NoError(r.t, err)
	conn.inbound <- data
}

func newTestClient(t *testing.T) (*Client, *fakeRelay, *identity.Identity) {
	t.Helper()
	relay := &fakeRelay{t: t}
	self := testIdentity(t, selfAccount)

	client, err := New(Options{
		Identity:   self,
		DataDir:    t.TempDir(),
		GatewayURL: "ws://relay.test",
		Platform:   "test",
		Transport: transport.Config{
			Dialer:            relay,
			HeartbeatInterval: 50 * time.Millisecond,
			PongTimeout:       200 * time.Millisecond,
			BackoffBase:       10 * time.Millisecond,
			BackoffCap:        50 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, relay, self
}

func TestClientStartAuthenticatesAndSends(t *testing.T) {
	client, relay, _ := newTestClient(t)
	peer := testIdentity(t, peerAccount)
	require.NoError(t, client.Contacts().SetKeys(peerAccount, peer.Encryption.Public, peer.Signing.Public))

	require.NoError(t, client.Start(context.Background()))
	assert.Equal(t, "session-token", client.sessions.Token())

	messageID, err := client.Send(peerAccount, []byte("hello peer"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		relay.mu.Lock()
		acked := len(relay.acked)
		relay.mu.Unlock()
		if acked > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.acked, 1)
	assert.Equal(t, messageID, relay.acked[0])

	// The relay saw ciphertext only.
	require.Len(t, relay.received, 1)
	assert.NotContains(t, relay.received[0].CiphertextB64, "hello peer")
}

func TestClientDeliversInboundMessages(t *testing.T) {
	client, relay, self := newTestClient(t)
	peer := testIdentity(t, peerAccount)
	require.NoError(t, client.Contacts().SetKeys(peerAccount, peer.Encryption.Public, peer.Signing.Public))

	delivered := make(chan string, 1)
	client.OnMessage(func(env *codec.Envelope, plaintext []byte) {
		delivered <- string(plaintext)
	})

	require.NoError(t, client.Start(context.Background()))

	// Peer sends an envelope through the relay.
	nonce, err := crypto.GenerateNonce()
	require.NoError(t, err)
	ciphertext, err := crypto.Encrypt([]byte("hi self"), nonce, self.Encryption.Public, peer.Encryption.Private)
	require.NoError(t, err)
	env := &codec.Envelope{
		MessageType:     codec.TypeText,
		MessageID:       "peer-msg-1",
		From:            peerAccount,
		ToOrGroupID:     selfAccount,
		TimestampMillis: time.Now().UnixMilli(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}
	require.NoError(t, codec.SignEnvelope(env, peer.Signing.Private))

	conn := clientConn(t, client, relay)
	relay.deliver(conn, wire.FrameMessage, env.MessageID, map[string]any{"envelope": env})

	select {
	case got := <-delivered:
		assert.Equal(t, "hi self", got)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message never delivered")
	}
}

// clientConn returns the transport the client is currently on so the
// relay can push frames.
func clientConn(t *testing.T, client *Client, relay *fakeRelay) *fakeRelayConn {
	t.Helper()
	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.NotNil(t, relay.lastConn, "client never dialed")
	return relay.lastConn
}
