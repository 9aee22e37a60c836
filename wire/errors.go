package wire

import (
	"encoding/json"
	"fmt"
)

// Canonical server error codes.
const (
	CodeNotRegistered    = "NOT_REGISTERED"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUserBanned       = "USER_BANNED"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeInternalError    = "INTERNAL_ERROR"
)

// ErrorPayload is the payload of an "error" frame.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// ServerError is a server-reported protocol error. Fatal to the single
// operation it answers, never to the connection.
type ServerError struct {
	Code      string
	Message   string
	RequestID string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Retryable reports whether the operation may be re-enqueued as-is.
func (e *ServerError) Retryable() bool {
	return e.Code == CodeRateLimited || e.Code == CodeInternalError
}

// ParseServerError decodes an error frame into a ServerError. Returns
// nil if the frame is not an error frame.
func ParseServerError(f *Frame) *ServerError {
	if f.Type != FrameError {
		return nil
	}
	var p ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return &ServerError{Code: CodeInternalError, Message: "unparseable error frame"}
	}
	return &ServerError{Code: p.Code, Message: p.Message, RequestID: p.RequestID}
}
