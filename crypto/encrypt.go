package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/fatihtunali/whisper2-sub000/limits"
)

// Nonce is a 24-byte value used for encryption. A nonce must never be
// reused with the same key pair.
type Nonce [24]byte

// NonceSize is the size of a NaCl nonce in bytes.
const NonceSize = 24

// KeySize is the size of symmetric and asymmetric keys in bytes.
const KeySize = 32

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// NonceFromBytes copies a 24-byte slice into a Nonce.
func NonceFromBytes(b []byte) (Nonce, error) {
	if len(b) != NonceSize {
		return Nonce{}, errors.New("invalid nonce length")
	}
	var nonce Nonce
	copy(nonce[:], b)
	return nonce, nil
}

// Encrypt encrypts a message for a recipient using authenticated
// public-key encryption (NaCl box).
func Encrypt(message []byte, nonce Nonce, recipientPK [32]byte, senderSK [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, limits.ErrMessageEmpty
	}
	if len(message) > limits.MaxFrameSize {
		return nil, limits.ErrMessageTooLarge
	}
	if IsZeroKey(recipientPK) {
		return nil, errors.New("recipient public key is unresolved")
	}

	encrypted := box.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&recipientPK), (*[32]byte)(&senderSK))
	return encrypted, nil
}

// EncryptSymmetric encrypts a message using a symmetric key (NaCl
// secretbox), providing both confidentiality and integrity.
func EncryptSymmetric(message []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, limits.ErrMessageEmpty
	}

	out := secretbox.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&key))
	return out, nil
}
