package contact

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/crypto"
	"github.com/fatihtunali/whisper2-sub000/identity"
)

// Contact is one entry of the registry. Keys are immutable once
// resolved; Blocked suppresses both delivery and buffering.
type Contact struct {
	AccountID     string   `json:"accountId"`
	EncPublicKey  [32]byte `json:"encPublicKey"`
	SignPublicKey [32]byte `json:"signPublicKey"`
	Blocked       bool     `json:"blocked"`
	Name          string   `json:"name,omitempty"`
}

// Resolved reports whether real keys are known for this contact.
func (c *Contact) Resolved() bool {
	return !crypto.IsZeroKey(c.EncPublicKey) && !crypto.IsZeroKey(c.SignPublicKey)
}

var (
	// ErrUnknownContact indicates no registry entry for the account.
	ErrUnknownContact = errors.New("unknown contact")

	// ErrUnresolvedContact indicates a contact with placeholder keys;
	// outbound encryption is blocked until real keys are learned.
	ErrUnresolvedContact = errors.New("contact keys not resolved")

	// ErrContactBlocked indicates the contact is blocked.
	ErrContactBlocked = errors.New("contact is blocked")

	// ErrKeyChanged indicates the server returned different keys for an
	// already-resolved contact. Keys never rotate in this design, so
	// this is tampering or a server fault, never an update.
	ErrKeyChanged = errors.New("contact key changed")
)

// Registry is the in-memory contact list. All mutation happens through
// its methods under one mutex; persistence goes through the backup blob.
type Registry struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{contacts: make(map[string]*Contact)}
}

// Get returns a copy of the contact for the account.
func (r *Registry) Get(accountID string) (*Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[accountID]
	if !ok {
		return nil, ErrUnknownContact
	}
	copied := *c
	return &copied, nil
}

// All returns a snapshot of every contact.
func (r *Registry) All() []*Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		copied := *c
		out = append(out, &copied)
	}
	return out
}

// AddUnresolved creates a placeholder entry for an account whose keys
// are not yet known.
func (r *Registry) AddUnresolved(accountID string) error {
	if err := identity.ValidateAccountID(accountID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contacts[accountID]; exists {
		return nil
	}
	r.contacts[accountID] = &Contact{AccountID: accountID}

	logrus.WithFields(logrus.Fields{
		"function":   "AddUnresolved",
		"account_id": accountID,
	}).Debug("Added unresolved contact")
	return nil
}

// SetKeys installs the resolved keys for a contact, creating the entry
// if needed. Installing different keys over already-resolved ones fails
// with ErrKeyChanged.
func (r *Registry) SetKeys(accountID string, encPublic, signPublic [32]byte) error {
	if err := identity.ValidateAccountID(accountID); err != nil {
		return err
	}
	if crypto.IsZeroKey(encPublic) || crypto.IsZeroKey(signPublic) {
		return errors.New("refusing to install zero keys")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, exists := r.contacts[accountID]
	if !exists {
		c = &Contact{AccountID: accountID}
		r.contacts[accountID] = c
	}
	if c.Resolved() {
		if c.EncPublicKey != encPublic || c.SignPublicKey != signPublic {
			logrus.WithFields(logrus.Fields{
				"function":   "SetKeys",
				"account_id": accountID,
			}).Error("Key change detected for resolved contact")
			return ErrKeyChanged
		}
		return nil
	}
	c.EncPublicKey = encPublic
	c.SignPublicKey = signPublic

	logrus.WithFields(logrus.Fields{
		"function":   "SetKeys",
		"account_id": accountID,
	}).Info("Contact keys resolved")
	return nil
}

// Block marks the account blocked, creating a placeholder entry when
// the account was never a contact so the block survives past any
// buffered messages.
func (r *Registry) Block(accountID string) error {
	if err := identity.ValidateAccountID(accountID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[accountID]
	if !ok {
		c = &Contact{AccountID: accountID}
		r.contacts[accountID] = c
	}
	c.Blocked = true

	logrus.WithFields(logrus.Fields{
		"function":   "Block",
		"account_id": accountID,
	}).Info("Contact blocked")
	return nil
}

// SetBlocked flips the blocked flag.
func (r *Registry) SetBlocked(accountID string, blocked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[accountID]
	if !ok {
		return ErrUnknownContact
	}
	c.Blocked = blocked
	return nil
}

// SetName sets the display name.
func (r *Registry) SetName(accountID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[accountID]
	if !ok {
		return ErrUnknownContact
	}
	c.Name = name
	return nil
}

// Remove deletes a contact.
func (r *Registry) Remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contacts, accountID)
}

// SendableKeys returns the encryption key for an outbound message,
// enforcing the resolved and not-blocked invariants.
func (r *Registry) SendableKeys(accountID string) (encPublic [32]byte, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[accountID]
	if !ok {
		return encPublic, ErrUnknownContact
	}
	if c.Blocked {
		return encPublic, ErrContactBlocked
	}
	if !c.Resolved() {
		return encPublic, ErrUnresolvedContact
	}
	return c.EncPublicKey, nil
}

// VerificationKey returns the signing trust anchor for an inbound
// envelope, or ErrUnknownContact when the sender is not a contact.
func (r *Registry) VerificationKey(accountID string) (signPublic [32]byte, blocked bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[accountID]
	if !ok {
		return signPublic, false, ErrUnknownContact
	}
	if !c.Resolved() {
		return signPublic, c.Blocked, ErrUnresolvedContact
	}
	return c.SignPublicKey, c.Blocked, nil
}
