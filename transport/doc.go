// Package transport implements the duplex connection manager: the
// websocket transport lifecycle, heartbeat, and reconnection with
// jittered exponential backoff.
//
// The manager is a single owned state machine with guarded entry points.
// Connect is a no-op outside the Disconnected state, exactly one
// reconnect loop may run at a time, and every connection lifetime is
// scoped by an opaque connection instance ID. Authentication performed
// on one instance is never valid on another.
package transport
