package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Device identifies this installation to the server. The device ID is
// generated once and persisted; one device binds to at most one session.
type Device struct {
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
}

// NewDevice mints a device identity for the given platform string.
func NewDevice(platform string) *Device {
	return &Device{
		DeviceID: uuid.New().String(),
		Platform: platform,
	}
}

// LoadOrCreateDevice loads a persisted device identity, creating and
// persisting a fresh one if the file does not exist.
func LoadOrCreateDevice(path, platform string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var d Device
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("device: malformed device file: %w", err)
		}
		if d.DeviceID == "" {
			return nil, fmt.Errorf("device: device file missing deviceId")
		}
		return &d, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("device: read device file: %w", err)
	}

	d := NewDevice(platform)
	data, err = json.Marshal(d)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("device: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("device: write device file: %w", err)
	}
	return d, nil
}
