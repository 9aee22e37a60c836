// Package identity implements Whisper identity material: deterministic
// derivation of encryption, signing, and contacts-backup keys from a
// 12-word mnemonic, account ID handling, and the device identity bound
// to a session.
//
// The derivation chain is a frozen contract: the same mnemonic must
// produce byte-identical keys in every conforming client implementation.
// Keys never rotate; an identity is immutable once registered.
package identity
