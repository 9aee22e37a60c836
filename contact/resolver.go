package contact

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/wire"
)

// Resolver fetches public keys for accounts from the gateway's HTTP
// surface and installs them into the registry.
type Resolver struct {
	baseURL  string
	client   *http.Client
	registry *Registry
	token    func() string
}

// NewResolver creates a resolver. token supplies the current session
// token for authenticated requests.
func NewResolver(baseURL string, registry *Registry, token func() string) *Resolver {
	return &Resolver{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		registry: registry,
		token:    token,
	}
}

// keysResponse is the GET /users/{id}/keys body.
type keysResponse struct {
	AccountID     string `json:"accountId"`
	EncPublicKey  string `json:"encPublicKey"`
	SignPublicKey string `json:"signPublicKey"`
	Status        string `json:"status"`
}

// Resolve fetches and installs the keys for an account. Once resolved,
// a differing server answer is an error, never an update.
func (r *Resolver) Resolve(ctx context.Context, accountID string) error {
	endpoint := fmt.Sprintf("%s/users/%s/keys", r.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", accountID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &wire.ServerError{Code: wire.CodeNotFound, Message: "account not found"}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolve %s: unexpected status %d", accountID, resp.StatusCode)
	}

	var body keysResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("resolve %s: malformed response: %w", accountID, err)
	}

	encPublic, err := decodeKey(body.EncPublicKey)
	if err != nil {
		return fmt.Errorf("resolve %s: bad encryption key: %w", accountID, err)
	}
	signPublic, err := decodeKey(body.SignPublicKey)
	if err != nil {
		return fmt.Errorf("resolve %s: bad signing key: %w", accountID, err)
	}

	if err := r.registry.SetKeys(accountID, encPublic, signPublic); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Resolve",
		"account_id": accountID,
		"status":     body.Status,
	}).Info("Resolved contact keys")
	return nil
}

func (r *Resolver) authorize(req *http.Request) {
	if r.token != nil {
		if tok := r.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
}

func decodeKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("key length %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
