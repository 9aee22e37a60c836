// Package codec implements the canonical envelope codec: deterministic
// byte serialization of signed envelopes, signature creation and
// verification, and the challenge-signing variant used during
// authentication.
//
// The canonical preimage format is a frozen contract. Verification always
// recomputes the preimage from the received field values so that any
// field substitution invalidates the signature.
package codec
