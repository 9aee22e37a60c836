// Package pipeline implements the message pipeline: outbound
// encrypt/sign/persist/transmit with a durable outbox, inbound
// verify/decrypt/dedupe/deliver, and buffering of messages from unknown
// senders as pending requests.
//
// The outbox is the single durable source of truth for not-yet-
// acknowledged sends. Entries are persisted before the first
// transmission attempt, survive process death, and drain in original
// enqueue order per peer. All outbox mutation goes through the
// pipeline; no other component touches the store.
package pipeline
