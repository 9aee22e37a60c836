package contact

import (
	"errors"
	"testing"

	"github.com/fatihtunali/whisper2-sub000/crypto"
)

const (
	testAccountA = "WSP-AAAA-AAAA-AAAA"
	testAccountB = "WSP-BBBB-BBBB-BBBB"
)

func testKeys(seed byte) (enc, sign [32]byte) {
	for i := range enc {
		enc[i] = seed + byte(i)
		sign[i] = seed + byte(i) + 100
	}
	return enc, sign
}

func TestAddUnresolvedBlocksSending(t *testing.T) {
	r := NewRegistry()
	if err := r.AddUnresolved(testAccountA); err != nil {
		t.Fatalf("AddUnresolved() error: %v", err)
	}

	c, err := r.Get(testAccountA)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if c.Resolved() {
		t.Error("placeholder contact reported as resolved")
	}

	if _, err := r.SendableKeys(testAccountA); !errors.Is(err, ErrUnresolvedContact) {
		t.Errorf("expected ErrUnresolvedContact, got %v", err)
	}
}

func TestSetKeysResolves(t *testing.T) {
	r := NewRegistry()
	enc, sign := testKeys(1)

	if err := r.SetKeys(testAccountA, enc, sign); err != nil {
		t.Fatalf("SetKeys() error: %v", err)
	}

	got, err := r.SendableKeys(testAccountA)
	if err != nil {
		t.Fatalf("SendableKeys() error: %v", err)
	}
	if got != enc {
		t.Error("SendableKeys() returned wrong key")
	}

	anchor, blocked, err := r.VerificationKey(testAccountA)
	if err != nil || blocked {
		t.Fatalf("VerificationKey() = %v blocked=%v", err, blocked)
	}
	if anchor != sign {
		t.Error("VerificationKey() returned wrong key")
	}
}

func TestSetKeysRejectsKeyChange(t *testing.T) {
	r := NewRegistry()
	enc, sign := testKeys(1)
	otherEnc, otherSign := testKeys(50)

	if err := r.SetKeys(testAccountA, enc, sign); err != nil {
		t.Fatalf("SetKeys() error: %v", err)
	}

	// Same keys again is a no-op.
	if err := r.SetKeys(testAccountA, enc, sign); err != nil {
		t.Errorf("idempotent SetKeys() error: %v", err)
	}

	// Different keys for a resolved contact is tampering, not an update.
	if err := r.SetKeys(testAccountA, otherEnc, otherSign); !errors.Is(err, ErrKeyChanged) {
		t.Errorf("expected ErrKeyChanged, got %v", err)
	}
}

func TestSetKeysRejectsZeroKeys(t *testing.T) {
	r := NewRegistry()
	_, sign := testKeys(1)
	if err := r.SetKeys(testAccountA, [32]byte{}, sign); err == nil {
		t.Error("SetKeys() accepted zero encryption key")
	}
}

func TestBlockedContact(t *testing.T) {
	r := NewRegistry()
	enc, sign := testKeys(1)
	if err := r.SetKeys(testAccountA, enc, sign); err != nil {
		t.Fatalf("SetKeys() error: %v", err)
	}
	if err := r.SetBlocked(testAccountA, true); err != nil {
		t.Fatalf("SetBlocked() error: %v", err)
	}

	if _, err := r.SendableKeys(testAccountA); !errors.Is(err, ErrContactBlocked) {
		t.Errorf("expected ErrContactBlocked, got %v", err)
	}

	_, blocked, err := r.VerificationKey(testAccountA)
	if err != nil {
		t.Fatalf("VerificationKey() error: %v", err)
	}
	if !blocked {
		t.Error("VerificationKey() did not report blocked")
	}
}

func TestBlockCreatesPlaceholderForNonContact(t *testing.T) {
	r := NewRegistry()
	if err := r.Block(testAccountB); err != nil {
		t.Fatalf("Block() error: %v", err)
	}

	_, blocked, err := r.VerificationKey(testAccountB)
	if !errors.Is(err, ErrUnresolvedContact) {
		t.Errorf("expected ErrUnresolvedContact, got %v", err)
	}
	if !blocked {
		t.Error("VerificationKey() did not report blocked after Block()")
	}

	if err := r.Block("not-an-account"); err == nil {
		t.Error("Block() accepted malformed account ID")
	}
}

func TestUnknownContact(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(testAccountB); !errors.Is(err, ErrUnknownContact) {
		t.Errorf("expected ErrUnknownContact, got %v", err)
	}
	if _, _, err := r.VerificationKey(testAccountB); !errors.Is(err, ErrUnknownContact) {
		t.Errorf("expected ErrUnknownContact, got %v", err)
	}
}

func TestAddUnresolvedValidatesAccountID(t *testing.T) {
	r := NewRegistry()
	if err := r.AddUnresolved("not-an-account"); err == nil {
		t.Error("AddUnresolved() accepted malformed account ID")
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	enc, sign := testKeys(1)
	if err := r.SetKeys(testAccountA, enc, sign); err != nil {
		t.Fatalf("SetKeys() error: %v", err)
	}

	all := r.All()
	if len(all) != 1 {
		t.Fatalf("All() returned %d contacts", len(all))
	}
	all[0].EncPublicKey = [32]byte{}

	c, _ := r.Get(testAccountA)
	if crypto.IsZeroKey(c.EncPublicKey) {
		t.Error("mutating a snapshot leaked into the registry")
	}
}
