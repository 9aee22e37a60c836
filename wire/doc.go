// Package wire defines the transport-agnostic textual frame format
// exchanged with the relay gateway: the frame envelope, the privileged
// payload header with protocol/crypto version gating, and the canonical
// server error codes.
package wire
