package transport

import (
	"context"
	"errors"
	"time"

	"github.com/fatihtunali/whisper2-sub000/limits"
)

// State represents the connection manager state.
type State int32

const (
	// StateDisconnected means no transport exists and none is being
	// established.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateConnected means the transport is open and heartbeating.
	StateConnected
	// StateReconnecting means the transport was lost and the backoff
	// loop is scheduling redial attempts.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectionLost is delivered to every in-flight waiter when the
	// transport closes. Losing the transport invalidates the session
	// binding even if the token itself has not expired.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotConnected indicates a send attempted without an open
	// transport.
	ErrNotConnected = errors.New("not connected")

	// ErrManagerClosed indicates the manager was shut down permanently.
	ErrManagerClosed = errors.New("connection manager closed")
)

// Conn is one open transport. Implemented by the websocket dialer in
// production and by in-memory fakes in tests.
type Conn interface {
	// ReadMessage blocks for the next inbound frame. The implementation
	// must fail the read if no pong arrives within the configured pong
	// timeout.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one frame.
	WriteMessage(data []byte) error
	// WritePing sends a transport-level ping.
	WritePing() error
	// Close tears the transport down. Safe to call more than once.
	Close() error
}

// Dialer establishes transports. Pluggable so tests can inject fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Config carries the connection manager settings.
type Config struct {
	// URL of the relay gateway websocket endpoint.
	URL string
	// Dialer used to establish transports.
	Dialer Dialer
	// HeartbeatInterval between pings.
	HeartbeatInterval time.Duration
	// PongTimeout after which a silent transport is force-closed.
	PongTimeout time.Duration
	// BackoffBase is the first reconnect delay.
	BackoffBase time.Duration
	// BackoffCap bounds the reconnect delay.
	BackoffCap time.Duration
	// MaxAttempts bounds consecutive reconnect attempts before the
	// manager parks in Disconnected awaiting an external signal.
	MaxAttempts int
	// SendBuffer is the outbound frame channel depth.
	SendBuffer int
}

// DefaultConfig returns the production configuration with the contract
// timing values.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		Dialer:            NewWebsocketDialer(),
		HeartbeatInterval: limits.HeartbeatInterval,
		PongTimeout:       limits.PongTimeout,
		BackoffBase:       limits.ReconnectBackoffBase,
		BackoffCap:        limits.ReconnectBackoffCap,
		MaxAttempts:       10,
		SendBuffer:        64,
	}
}
