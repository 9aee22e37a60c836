package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// SignatureFromBytes copies a 64-byte slice into a Signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SignatureSize {
		return Signature{}, errors.New("invalid signature length")
	}
	var sig Signature
	copy(sig[:], b)
	return sig, nil
}

// Sign creates an Ed25519 signature for a message using a 32-byte seed
// private key.
func Sign(message []byte, privateKey [32]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	// Ed25519 private keys are 64 bytes: 32-byte seed + 32-byte public key.
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])
	signatureBytes := ed25519.Sign(edPrivateKey, message)

	var signature Signature
	copy(signature[:], signatureBytes)
	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}

	return ed25519.Verify(publicKey[:], message, signature[:]), nil
}

// SigningPublicKey derives the Ed25519 public key for a 32-byte seed
// private key.
func SigningPublicKey(privateKey [32]byte) [32]byte {
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])
	var publicKey [32]byte
	copy(publicKey[:], edPrivateKey.Public().(ed25519.PublicKey))
	return publicKey
}
