package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxFrameSize is the maximum size of a single wire frame in bytes.
	MaxFrameSize = 512_000

	// MaxPlaintextMessage is the maximum plaintext size of a text message.
	MaxPlaintextMessage = 8_000

	// PendingMessageTTL is how long the server queues messages for an
	// offline recipient before discarding them.
	PendingMessageTTL = 72 * time.Hour

	// SessionTTL is the lifetime of a session token.
	SessionTTL = 7 * 24 * time.Hour

	// SessionRefreshThreshold is the remaining validity below which the
	// client proactively refreshes its session token.
	SessionRefreshThreshold = 24 * time.Hour

	// ChallengeTTL is the validity window of an authentication challenge.
	ChallengeTTL = 60 * time.Second

	// AuthTimeout bounds a complete challenge/response exchange.
	AuthTimeout = 10 * time.Second

	// MaxTimestampSkew is the tolerated difference between an envelope
	// timestamp and server-adjusted local time. Envelopes outside the
	// window are rejected before decryption.
	MaxTimestampSkew = 10 * time.Minute

	// FetchPendingPageSize is the default page size when draining
	// server-queued messages after authentication.
	FetchPendingPageSize = 50

	// HeartbeatInterval is the websocket ping period.
	HeartbeatInterval = 30 * time.Second

	// PongTimeout is how long the transport waits for a pong before
	// force-closing the connection.
	PongTimeout = 60 * time.Second

	// ReconnectBackoffBase is the first reconnect delay.
	ReconnectBackoffBase = 1 * time.Second

	// ReconnectBackoffCap is the maximum reconnect delay.
	ReconnectBackoffCap = 30 * time.Second

	// TURNCredentialMargin is subtracted from the TURN credential TTL;
	// credentials within the margin of expiry are treated as stale.
	TURNCredentialMargin = 60 * time.Second
)

var (
	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a message exceeds its size limit.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrFrameTooLarge indicates a wire frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidatePlaintextMessage validates a text message against
// MaxPlaintextMessage. Returns an error with the actual and maximum sizes.
func ValidatePlaintextMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxPlaintextMessage {
		return fmt.Errorf("%w: plaintext size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxPlaintextMessage)
	}
	return nil
}

// ValidateFrameSize validates an encoded wire frame against MaxFrameSize.
func ValidateFrameSize(frame []byte) error {
	if len(frame) == 0 {
		return ErrMessageEmpty
	}
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrFrameTooLarge, len(frame), MaxFrameSize)
	}
	return nil
}
