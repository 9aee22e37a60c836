package attachment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Presigned is a one-shot storage URL issued by the relay.
type Presigned struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Reference string            `json:"reference,omitempty"`
	ExpiresAt int64             `json:"expiresAt"`
}

// Client moves attachment ciphertext through presigned storage URLs.
// Only ciphertext crosses this boundary; keys stay in the envelope.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
}

// NewClient creates a presign client against the relay base URL.
func NewClient(baseURL string, token func() string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		token:   token,
	}
}

// Upload presigns an upload slot and PUTs the ciphertext, returning the
// storage reference to embed in the message descriptor.
func (c *Client) Upload(ctx context.Context, ciphertext []byte, mime string) (string, error) {
	presigned, err := c.presign(ctx, "upload", "", int64(len(ciphertext)), mime)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.URL, bytes.NewReader(ciphertext))
	if err != nil {
		return "", err
	}
	for k, v := range presigned.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("upload attachment: unexpected status %d", resp.StatusCode)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Upload",
		"reference": presigned.Reference,
		"size":      len(ciphertext),
	}).Debug("Attachment ciphertext uploaded")
	return presigned.Reference, nil
}

// Download presigns a download slot for the reference and GETs the
// ciphertext.
func (c *Client) Download(ctx context.Context, reference string) ([]byte, error) {
	presigned, err := c.presign(ctx, "download", reference, 0, "")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presigned.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range presigned.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// presign asks the relay for a one-shot URL.
func (c *Client) presign(ctx context.Context, direction, reference string, size int64, mime string) (*Presigned, error) {
	body, err := json.Marshal(map[string]any{
		"reference": reference,
		"size":      size,
		"mime":      mime,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/attachments/presign/"+direction, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", direction, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presign %s: unexpected status %d", direction, resp.StatusCode)
	}

	var presigned Presigned
	if err := json.NewDecoder(resp.Body).Decode(&presigned); err != nil {
		return nil, fmt.Errorf("presign %s: malformed response: %w", direction, err)
	}
	return &presigned, nil
}
