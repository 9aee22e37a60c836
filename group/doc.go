// Package group implements client-side group fan-out. There is no
// group key: each member receives an independently encrypted and signed
// envelope whose toOrGroupId carries the group ID, so members can
// attribute the message to the group while the relay sees only
// per-recipient ciphertext.
package group
