package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatihtunali/whisper2-sub000/limits"
)

// Protocol and crypto versions this engine speaks. Unknown versions are
// rejected before any business logic runs.
const (
	ProtocolVersion = 1
	CryptoVersion   = 1
)

// Frame types used by the engine.
const (
	FrameAuthBegin      = "auth_begin"
	FrameAuthChallenge  = "auth_challenge"
	FrameAuthProof      = "auth_proof"
	FrameAuthOK         = "auth_ok"
	FrameSessionRefresh = "session_refresh"
	FrameLogout         = "logout"
	FrameMessage        = "message"
	FrameSendAck        = "send_ack"
	FrameReceipt        = "receipt"
	FrameFetchPending   = "fetch_pending"
	FramePendingPage    = "pending_page"
	FrameTurnCreds      = "turn_credentials"
	FrameError          = "error"
)

// Frame is the outer wire envelope: a type tag, an optional request
// correlation ID, and an opaque payload.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Header is the privileged payload header carried by every
// authenticated request.
type Header struct {
	ProtocolVersion int    `json:"protocolVersion"`
	CryptoVersion   int    `json:"cryptoVersion"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// NewHeader builds a header for the current versions.
func NewHeader(sessionToken string) Header {
	return Header{
		ProtocolVersion: ProtocolVersion,
		CryptoVersion:   CryptoVersion,
		SessionToken:    sessionToken,
	}
}

// ErrUnsupportedVersion indicates a payload with an unknown protocol or
// crypto version.
var ErrUnsupportedVersion = errors.New("unsupported protocol or crypto version")

// CheckVersions rejects unknown versions before business logic.
func (h Header) CheckVersions() error {
	if h.ProtocolVersion != ProtocolVersion || h.CryptoVersion != CryptoVersion {
		return fmt.Errorf("%w: protocol=%d crypto=%d", ErrUnsupportedVersion, h.ProtocolVersion, h.CryptoVersion)
	}
	return nil
}

// Encode marshals a frame and enforces the frame size limit.
func Encode(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	if err := limits.ValidateFrameSize(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Decode unmarshals a frame, enforcing the frame size limit first.
func Decode(data []byte) (*Frame, error) {
	if err := limits.ValidateFrameSize(data); err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, errors.New("wire: frame missing type")
	}
	return &f, nil
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(frameType, requestID string, payload any) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	return &Frame{Type: frameType, RequestID: requestID, Payload: raw}, nil
}
