package identity

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"github.com/fatihtunali/whisper2-sub000/crypto"
)

// HKDF parameters of the derivation chain. These are contract values;
// changing them breaks cross-client key agreement.
const (
	hkdfSalt     = "whisper"
	infoEnc      = "whisper/enc"
	infoSign     = "whisper/sign"
	infoContacts = "whisper/contacts"
)

// ErrInvalidMnemonic indicates a mnemonic with the wrong word count, a
// word outside the wordlist, or a failing checksum. Raised before any
// network interaction.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// SigningKeyPair holds an Ed25519 key pair. Private is the 32-byte seed.
type SigningKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// Identity is the complete key material of a Whisper account. Immutable
// once registered; the account ID is assigned by the server on first
// authentication.
type Identity struct {
	AccountID   string
	Encryption  *crypto.KeyPair
	Signing     SigningKeyPair
	ContactsKey [32]byte
}

// ValidateMnemonic checks word count, wordlist membership, and checksum.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}
	return nil
}

// GenerateMnemonic creates a fresh 12-word mnemonic (128 bits of entropy).
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveKeys derives the full identity key material from a mnemonic.
//
// seed = PBKDF2-HMAC-SHA512(mnemonic, "mnemonic", 2048, 64), then three
// independent 32-byte subkeys via HKDF-SHA256(seed, salt="whisper") with
// the "whisper/enc", "whisper/sign", and "whisper/contacts" info strings.
// The enc subkey seeds an X25519 key pair, the sign subkey an Ed25519
// key pair, and the contacts subkey is used directly as a symmetric key.
func DeriveKeys(mnemonic string) (*Identity, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(mnemonic, "")
	defer crypto.Wipe(seed)

	encSeed, err := deriveSubkey(seed, infoEnc)
	if err != nil {
		return nil, err
	}
	signSeed, err := deriveSubkey(seed, infoSign)
	if err != nil {
		return nil, err
	}
	contactsKey, err := deriveSubkey(seed, infoContacts)
	if err != nil {
		return nil, err
	}

	crypto.ClampScalar(&encSeed)
	encPair, err := crypto.FromSecretKey(encSeed)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	id := &Identity{
		Encryption: encPair,
		Signing: SigningKeyPair{
			Public:  crypto.SigningPublicKey(signSeed),
			Private: signSeed,
		},
		ContactsKey: contactsKey,
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeriveKeys",
	}).Debug("Derived identity key material from mnemonic")

	return id, nil
}

// deriveSubkey expands one 32-byte subkey from the master seed.
func deriveSubkey(seed []byte, info string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, seed, []byte(hkdfSalt), []byte(info))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return [32]byte{}, fmt.Errorf("hkdf expand %q: %w", info, err)
	}
	return out, nil
}

// bundle is the JSON form persisted inside the encrypted keystore.
type bundle struct {
	Version     int    `json:"version"`
	AccountID   string `json:"accountId,omitempty"`
	EncPublic   []byte `json:"encPublic"`
	EncPrivate  []byte `json:"encPrivate"`
	SignPublic  []byte `json:"signPublic"`
	SignPrivate []byte `json:"signPrivate"`
	ContactsKey []byte `json:"contactsKey"`
}

// Marshal serializes the identity for storage in the encrypted keystore.
func (id *Identity) Marshal() ([]byte, error) {
	return json.Marshal(bundle{
		Version:     1,
		AccountID:   id.AccountID,
		EncPublic:   id.Encryption.Public[:],
		EncPrivate:  id.Encryption.Private[:],
		SignPublic:  id.Signing.Public[:],
		SignPrivate: id.Signing.Private[:],
		ContactsKey: id.ContactsKey[:],
	})
}

// Unmarshal restores an identity persisted with Marshal.
func Unmarshal(data []byte) (*Identity, error) {
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("identity: malformed bundle: %w", err)
	}
	if b.Version != 1 {
		return nil, fmt.Errorf("identity: unsupported bundle version %d", b.Version)
	}
	if len(b.EncPublic) != 32 || len(b.EncPrivate) != 32 ||
		len(b.SignPublic) != 32 || len(b.SignPrivate) != 32 || len(b.ContactsKey) != 32 {
		return nil, errors.New("identity: malformed bundle: bad key length")
	}

	id := &Identity{
		AccountID:  b.AccountID,
		Encryption: &crypto.KeyPair{},
	}
	copy(id.Encryption.Public[:], b.EncPublic)
	copy(id.Encryption.Private[:], b.EncPrivate)
	copy(id.Signing.Public[:], b.SignPublic)
	copy(id.Signing.Private[:], b.SignPrivate)
	copy(id.ContactsKey[:], b.ContactsKey)
	return id, nil
}
