// Package crypto implements the cryptographic primitives of the Whisper
// client engine.
//
// This package handles asymmetric and symmetric authenticated encryption,
// Ed25519 signatures, and at-rest protection of key material, using the
// NaCl constructions through Go's x/crypto packages.
//
// Example:
//
//	nonce, err := crypto.GenerateNonce()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sealed, err := crypto.Encrypt(plaintext, nonce, recipientPK, senderSK)
package crypto
