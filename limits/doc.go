// Package limits centralizes the frozen contract values of the Whisper
// protocol: size limits, TTLs, and timing constants shared between the
// client engine and the relay gateway.
//
// These values are part of the wire contract and must not be tuned per
// deployment; changing any of them breaks interoperability with peers
// and with the server.
package limits
