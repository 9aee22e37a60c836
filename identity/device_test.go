package identity

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLoadOrCreateDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	created, err := LoadOrCreateDevice(path, "linux")
	if err != nil {
		t.Fatalf("LoadOrCreateDevice() error: %v", err)
	}
	if _, err := uuid.Parse(created.DeviceID); err != nil {
		t.Errorf("device ID is not a UUID: %q", created.DeviceID)
	}
	if created.Platform != "linux" {
		t.Errorf("platform = %q, want linux", created.Platform)
	}

	// A second load must return the same device ID, not mint a new one.
	loaded, err := LoadOrCreateDevice(path, "linux")
	if err != nil {
		t.Fatalf("second LoadOrCreateDevice() error: %v", err)
	}
	if loaded.DeviceID != created.DeviceID {
		t.Error("device ID changed across loads")
	}
}
