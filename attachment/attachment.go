package attachment

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fatihtunali/whisper2-sub000/crypto"
)

// Encrypted is the output of Encrypt: the blob ciphertext plus
// everything the recipient needs to open it, except their private key.
type Encrypted struct {
	Ciphertext []byte
	FileNonce  crypto.Nonce
	WrappedKey []byte
	KeyNonce   crypto.Nonce
}

// Reference is the attachment descriptor carried inside a message
// plaintext. The blob itself lives in storage under Reference.
type Reference struct {
	Reference  string `json:"reference"`
	FileNonce  []byte `json:"fileNonce"`
	WrappedKey []byte `json:"wrappedKey"`
	KeyNonce   []byte `json:"keyNonce"`
	Size       int64  `json:"size"`
	Mime       string `json:"mime"`
}

// ErrAttachmentEmpty indicates an empty plaintext.
var ErrAttachmentEmpty = errors.New("attachment is empty")

// Encrypt seals plaintext under a fresh random content key, then wraps
// the content key to the recipient. The content key never repeats
// across attachments, so the file nonce and key nonce are independent.
func Encrypt(plaintext []byte, senderPrivate, recipientPublic [32]byte) (*Encrypted, error) {
	if len(plaintext) == 0 {
		return nil, ErrAttachmentEmpty
	}

	var contentKey [32]byte
	if _, err := rand.Read(contentKey[:]); err != nil {
		return nil, fmt.Errorf("generate content key: %w", err)
	}
	defer crypto.Wipe(contentKey[:])

	fileNonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := crypto.EncryptSymmetric(plaintext, fileNonce, contentKey)
	if err != nil {
		return nil, err
	}

	keyNonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	wrappedKey, err := crypto.Encrypt(contentKey[:], keyNonce, recipientPublic, senderPrivate)
	if err != nil {
		return nil, err
	}

	return &Encrypted{
		Ciphertext: ciphertext,
		FileNonce:  fileNonce,
		WrappedKey: wrappedKey,
		KeyNonce:   keyNonce,
	}, nil
}

// Decrypt unwraps the content key with the recipient's private key,
// then opens the blob.
func Decrypt(enc *Encrypted, senderPublic, recipientPrivate [32]byte) ([]byte, error) {
	keyBytes, err := crypto.Decrypt(enc.WrappedKey, enc.KeyNonce, senderPublic, recipientPrivate)
	if err != nil {
		return nil, fmt.Errorf("unwrap content key: %w", err)
	}
	if len(keyBytes) != crypto.KeySize {
		return nil, errors.New("unwrapped content key has wrong length")
	}
	var contentKey [32]byte
	copy(contentKey[:], keyBytes)
	defer crypto.Wipe(contentKey[:])
	crypto.Wipe(keyBytes)

	plaintext, err := crypto.DecryptSymmetric(enc.Ciphertext, enc.FileNonce, contentKey)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	return plaintext, nil
}

// NewReference packages an Encrypted blob and its storage reference
// into the descriptor carried inside a message.
func NewReference(ref string, enc *Encrypted, size int64, mime string) *Reference {
	return &Reference{
		Reference:  ref,
		FileNonce:  enc.FileNonce[:],
		WrappedKey: enc.WrappedKey,
		KeyNonce:   enc.KeyNonce[:],
		Size:       size,
		Mime:       mime,
	}
}

// ToEncrypted rebuilds the Encrypted form from a descriptor and the
// downloaded ciphertext.
func (r *Reference) ToEncrypted(ciphertext []byte) (*Encrypted, error) {
	fileNonce, err := crypto.NonceFromBytes(r.FileNonce)
	if err != nil {
		return nil, err
	}
	keyNonce, err := crypto.NonceFromBytes(r.KeyNonce)
	if err != nil {
		return nil, err
	}
	return &Encrypted{
		Ciphertext: ciphertext,
		FileNonce:  fileNonce,
		WrappedKey: r.WrappedKey,
		KeyNonce:   keyNonce,
	}, nil
}
