package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatihtunali/whisper2-sub000/limits"
)

func TestFrameRoundTrip(t *testing.T) {
	f, err := NewFrame(FrameMessage, "req-1", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("NewFrame() error: %v", err)
	}

	data, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.Type != FrameMessage || decoded.RequestID != "req-1" {
		t.Errorf("decoded frame mismatch: %+v", decoded)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	big := append([]byte(`{"type":"message","payload":"`), bytes.Repeat([]byte("a"), limits.MaxFrameSize)...)
	big = append(big, []byte(`"}`)...)
	if _, err := Decode(big); !errors.Is(err, limits.ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Error("Decode() accepted frame without type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("Decode() accepted malformed JSON")
	}
}

func TestHeaderCheckVersions(t *testing.T) {
	if err := NewHeader("tok").CheckVersions(); err != nil {
		t.Errorf("current versions rejected: %v", err)
	}

	bad := Header{ProtocolVersion: 2, CryptoVersion: 1}
	if err := bad.CheckVersions(); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}

	bad = Header{ProtocolVersion: 1, CryptoVersion: 9}
	if err := bad.CheckVersions(); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseServerError(t *testing.T) {
	f, err := NewFrame(FrameError, "", ErrorPayload{Code: CodeRateLimited, Message: "slow down", RequestID: "req-9"})
	if err != nil {
		t.Fatalf("NewFrame() error: %v", err)
	}

	se := ParseServerError(f)
	if se == nil {
		t.Fatal("ParseServerError() returned nil for error frame")
	}
	if se.Code != CodeRateLimited || se.RequestID != "req-9" {
		t.Errorf("parsed error mismatch: %+v", se)
	}
	if !se.Retryable() {
		t.Error("RATE_LIMITED should be retryable")
	}

	if (&ServerError{Code: CodeForbidden}).Retryable() {
		t.Error("FORBIDDEN should not be retryable")
	}

	ok, _ := NewFrame(FrameMessage, "", map[string]string{})
	if ParseServerError(ok) != nil {
		t.Error("ParseServerError() returned error for non-error frame")
	}
}
