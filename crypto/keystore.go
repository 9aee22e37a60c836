package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SaltSize is the size of the Argon2 salt in bytes.
	SaltSize = 16

	// KeyStoreVersion is the current on-disk keystore format version.
	KeyStoreVersion = 1
)

// Argon2id parameters for the at-rest key-encryption key.
const (
	argonMemory  = 1 << 16
	argonTime    = 8
	argonThreads = 1
)

// ErrBadPassphrase indicates the keystore could not be opened with the
// supplied passphrase (or the file is corrupt).
var ErrBadPassphrase = errors.New("keystore: bad passphrase or corrupt store")

// keyStoreFile is the serialized on-disk representation.
type keyStoreFile struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// deriveKEK derives the key-encryption key from a passphrase and salt
// using Argon2id.
func deriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// SealKeyStore encrypts an opaque key-material blob with a passphrase.
// Each call uses a fresh salt and nonce.
func SealKeyStore(passphrase string, plaintext []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("keystore: empty passphrase")
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	kek := deriveKEK(passphrase, salt)
	defer Wipe(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	file := keyStoreFile{
		Version:    KeyStoreVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}
	return json.Marshal(file)
}

// OpenKeyStore decrypts a keystore blob produced by SealKeyStore.
func OpenKeyStore(passphrase string, sealed []byte) ([]byte, error) {
	var file keyStoreFile
	if err := json.Unmarshal(sealed, &file); err != nil {
		return nil, fmt.Errorf("keystore: malformed store: %w", err)
	}
	if file.Version != KeyStoreVersion {
		return nil, fmt.Errorf("keystore: unsupported version %d", file.Version)
	}
	if len(file.Salt) != SaltSize {
		return nil, ErrBadPassphrase
	}

	kek := deriveKEK(passphrase, file.Salt)
	defer Wipe(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, file.Nonce, file.Ciphertext, nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plaintext, nil
}

// SaveKeyStore seals key material and writes it to path with owner-only
// permissions.
func SaveKeyStore(path, passphrase string, plaintext []byte) error {
	sealed, err := SealKeyStore(passphrase, plaintext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keystore: create directory: %w", err)
	}
	return os.WriteFile(path, sealed, 0o600)
}

// LoadKeyStore reads and opens a keystore file written by SaveKeyStore.
func LoadKeyStore(path, passphrase string) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read store: %w", err)
	}
	return OpenKeyStore(passphrase, sealed)
}

// Wipe overwrites a byte slice with zeros. Best effort: the runtime may
// have copied the data elsewhere.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
