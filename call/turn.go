package call

import (
	"time"

	"github.com/fatihtunali/whisper2-sub000/limits"
)

// Credentials are short-lived TURN relay credentials.
type Credentials struct {
	URLs       []string
	Username   string
	Password   string
	TTL        time.Duration
	ReceivedAt time.Time
}

// Fresh reports whether the credentials are still usable. They are
// treated as expired one margin before their actual TTL so an ICE
// negotiation never starts with credentials about to lapse.
func (c *Credentials) Fresh() bool {
	if c == nil {
		return false
	}
	usable := c.TTL - limits.TURNCredentialMargin
	if usable <= 0 {
		return false
	}
	return time.Since(c.ReceivedAt) < usable
}

// turnPayload is the turn_credentials response body.
type turnPayload struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	TTLSeconds int64    `json:"ttlSeconds"`
}
