package pipeline

import (
	"github.com/fatihtunali/whisper2-sub000/codec"
	"github.com/fatihtunali/whisper2-sub000/wire"
)

// messagePayload carries one signed envelope in a message frame, both
// directions.
type messagePayload struct {
	wire.Header
	Envelope *codec.Envelope `json:"envelope"`
}

// ackPayload is the server's send-accepted acknowledgment.
type ackPayload struct {
	MessageID string `json:"messageId"`
}

// receiptPayload reports a per-message status transition.
type receiptPayload struct {
	wire.Header
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// fetchPayload requests one page of messages queued server-side.
type fetchPayload struct {
	wire.Header
	PageSize int    `json:"pageSize"`
	Cursor   string `json:"cursor,omitempty"`
}

// pendingPagePayload is one page of queued messages.
type pendingPagePayload struct {
	Envelopes []*codec.Envelope `json:"envelopes"`
	Cursor    string            `json:"cursor,omitempty"`
	More      bool              `json:"more"`
}
