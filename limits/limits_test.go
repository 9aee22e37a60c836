package limits

import (
	"bytes"
	"errors"
	"testing"
)

func TestValidatePlaintextMessage(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		wantErr error
	}{
		{"valid small message", []byte("hello"), nil},
		{"valid at limit", bytes.Repeat([]byte("a"), MaxPlaintextMessage), nil},
		{"empty message", []byte{}, ErrMessageEmpty},
		{"nil message", nil, ErrMessageEmpty},
		{"over limit", bytes.Repeat([]byte("a"), MaxPlaintextMessage+1), ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlaintextMessage(tt.message)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateFrameSize(t *testing.T) {
	if err := ValidateFrameSize(bytes.Repeat([]byte("x"), MaxFrameSize)); err != nil {
		t.Errorf("frame at limit should be valid, got %v", err)
	}
	if err := ValidateFrameSize(bytes.Repeat([]byte("x"), MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
	if err := ValidateFrameSize(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestContractValuesFrozen(t *testing.T) {
	// These values are part of the wire contract; a change here is a
	// protocol break, not a tuning knob.
	if MaxFrameSize != 512_000 {
		t.Errorf("MaxFrameSize changed: %d", MaxFrameSize)
	}
	if MaxPlaintextMessage != 8_000 {
		t.Errorf("MaxPlaintextMessage changed: %d", MaxPlaintextMessage)
	}
	if FetchPendingPageSize != 50 {
		t.Errorf("FetchPendingPageSize changed: %d", FetchPendingPageSize)
	}
}
