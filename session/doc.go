// Package session implements challenge/response authentication and
// session-token lifecycle against the relay gateway.
//
// Authentication is scoped to a single connection instance: a token
// obtained on one transport is never replayed on another, and exactly
// one authentication attempt may be in flight per instance. Concurrent
// callers join the in-flight attempt instead of racing duplicate
// begin/proof exchanges.
package session
