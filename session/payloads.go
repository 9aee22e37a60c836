package session

import (
	"github.com/fatihtunali/whisper2-sub000/wire"
)

// beginPayload starts authentication. AccountID is set for recovery of
// an existing account and empty on first registration.
type beginPayload struct {
	wire.Header
	DeviceID  string `json:"deviceId"`
	Platform  string `json:"platform"`
	AccountID string `json:"accountId,omitempty"`
}

// challengePayload is the server's single-use, time-boxed challenge.
type challengePayload struct {
	Challenge []byte `json:"challenge"`
}

// proofPayload answers the challenge with the device identity, both
// public keys, and the challenge signature.
type proofPayload struct {
	wire.Header
	DeviceID      string `json:"deviceId"`
	EncPublicKey  []byte `json:"encPublicKey"`
	SignPublicKey []byte `json:"signPublicKey"`
	Signature     []byte `json:"signature"`
}

// okPayload completes authentication. Any previously valid session for
// the account has been invalidated by the server at this point.
type okPayload struct {
	AccountID        string `json:"accountId"`
	SessionToken     string `json:"sessionToken"`
	ExpiresAtMillis  int64  `json:"expiresAt"`
	ServerTimeMillis int64  `json:"serverTime"`
}

// refreshPayload requests a replacement token before expiry.
type refreshPayload struct {
	wire.Header
	DeviceID string `json:"deviceId"`
}

// logoutPayload invalidates the token server-side.
type logoutPayload struct {
	wire.Header
}
