package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/crypto"
)

// backupVersion is the schema version inside the encrypted blob.
const backupVersion = 1

// ErrBackupConflict indicates the server holds a backup newer than the
// one this client last saw. Resolution is last-write-wins, but the
// overwrite must be explicit.
var ErrBackupConflict = errors.New("contacts backup conflict")

// ErrNoBackup indicates no backup exists server-side.
var ErrNoBackup = errors.New("no contacts backup")

// backupBlob is the plaintext inside the secretbox.
type backupBlob struct {
	Version  int        `json:"version"`
	Contacts []*Contact `json:"contacts"`
}

// backupEnvelope is the opaque encrypted representation stored by the
// server.
type backupEnvelope struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

// BackupClient uploads and restores the encrypted contacts backup. The
// blob is sealed with the contacts subkey; the server never sees
// plaintext.
type BackupClient struct {
	baseURL  string
	client   *http.Client
	registry *Registry
	key      [32]byte
	token    func() string

	lastSeenUpdatedAt int64
}

// NewBackupClient creates a backup client sealing with contactsKey.
func NewBackupClient(baseURL string, registry *Registry, contactsKey [32]byte, token func() string) *BackupClient {
	return &BackupClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		registry: registry,
		key:      contactsKey,
		token:    token,
	}
}

// Seal encrypts the current contact list into a backup envelope.
func (b *BackupClient) Seal() (*backupEnvelope, error) {
	plaintext, err := json.Marshal(backupBlob{
		Version:  backupVersion,
		Contacts: b.registry.All(),
	})
	if err != nil {
		return nil, err
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := crypto.EncryptSymmetric(plaintext, nonce, b.key)
	if err != nil {
		return nil, err
	}
	return &backupEnvelope{Nonce: nonce[:], Ciphertext: ciphertext}, nil
}

// Open decrypts a backup envelope and installs its contacts into the
// registry. Resolved local keys always win over the blob; a key
// mismatch for a resolved contact fails the restore.
func (b *BackupClient) Open(env *backupEnvelope) error {
	nonce, err := crypto.NonceFromBytes(env.Nonce)
	if err != nil {
		return err
	}
	plaintext, err := crypto.DecryptSymmetric(env.Ciphertext, nonce, b.key)
	if err != nil {
		return fmt.Errorf("contacts backup: %w", err)
	}

	var blob backupBlob
	if err := json.Unmarshal(plaintext, &blob); err != nil {
		return fmt.Errorf("contacts backup: malformed blob: %w", err)
	}
	if blob.Version != backupVersion {
		return fmt.Errorf("contacts backup: unsupported version %d", blob.Version)
	}

	for _, c := range blob.Contacts {
		if !c.Resolved() {
			if err := b.registry.AddUnresolved(c.AccountID); err != nil {
				return err
			}
		} else if err := b.registry.SetKeys(c.AccountID, c.EncPublicKey, c.SignPublicKey); err != nil {
			return err
		}
		if c.Blocked {
			_ = b.registry.SetBlocked(c.AccountID, true)
		}
		if c.Name != "" {
			_ = b.registry.SetName(c.AccountID, c.Name)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"contacts": len(blob.Contacts),
	}).Info("Contacts backup restored")
	return nil
}

// Upload seals and PUTs the backup. Without force, a server copy newer
// than the last one fetched fails with ErrBackupConflict
// (last-write-wins, but never silently).
func (b *BackupClient) Upload(ctx context.Context, force bool) error {
	if !force {
		remote, err := b.fetch(ctx)
		if err == nil && remote.UpdatedAt > b.lastSeenUpdatedAt {
			return ErrBackupConflict
		}
		if err != nil && !errors.Is(err, ErrNoBackup) {
			return err
		}
	}

	env, err := b.Seal()
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+"/backup/contacts", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload contacts backup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("upload contacts backup: unexpected status %d", resp.StatusCode)
	}

	var ack backupEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.UpdatedAt != 0 {
		b.lastSeenUpdatedAt = ack.UpdatedAt
	}
	return nil
}

// Restore GETs the backup and installs it.
func (b *BackupClient) Restore(ctx context.Context) error {
	env, err := b.fetch(ctx)
	if err != nil {
		return err
	}
	b.lastSeenUpdatedAt = env.UpdatedAt
	return b.Open(env)
}

// Delete removes the server-side backup.
func (b *BackupClient) Delete(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.baseURL+"/backup/contacts", nil)
	if err != nil {
		return err
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete contacts backup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete contacts backup: unexpected status %d", resp.StatusCode)
	}
	b.lastSeenUpdatedAt = 0
	return nil
}

func (b *BackupClient) fetch(ctx context.Context) (*backupEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/backup/contacts", nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch contacts backup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoBackup
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch contacts backup: unexpected status %d", resp.StatusCode)
	}

	var env backupEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("fetch contacts backup: malformed response: %w", err)
	}
	return &env, nil
}

func (b *BackupClient) authorize(req *http.Request) {
	if b.token != nil {
		if tok := b.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
}
