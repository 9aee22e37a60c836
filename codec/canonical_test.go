package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/fatihtunali/whisper2-sub000/crypto"
)

func testEnvelope() *Envelope {
	var nonce crypto.Nonce
	for i := range nonce {
		nonce[i] = byte(i)
	}
	return &Envelope{
		MessageType:     TypeText,
		MessageID:       "5f0f0f7c-6f6e-4ad0-9c4e-2b7a3c2c1d00",
		From:            "WSP-AAAA-BBBB-CCCC",
		ToOrGroupID:     "WSP-DDDD-EEEE-FFFF",
		TimestampMillis: 1700000000123,
		Nonce:           nonce,
		Ciphertext:      []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
}

func testSigningKey(seed byte) ([32]byte, [32]byte) {
	var private [32]byte
	for i := range private {
		private[i] = seed + byte(i)
	}
	return private, crypto.SigningPublicKey(private)
}

func TestSigningBytesExactFormat(t *testing.T) {
	e := testEnvelope()
	want := "v1\n" +
		"text\n" +
		"5f0f0f7c-6f6e-4ad0-9c4e-2b7a3c2c1d00\n" +
		"WSP-AAAA-BBBB-CCCC\n" +
		"WSP-DDDD-EEEE-FFFF\n" +
		"1700000000123\n" +
		base64.StdEncoding.EncodeToString(e.Nonce[:]) + "\n" +
		base64.StdEncoding.EncodeToString(e.Ciphertext) + "\n"

	if got := string(SigningBytes(e)); got != want {
		t.Errorf("canonical bytes mismatch:\n got  %q\n want %q", got, want)
	}
}

func TestSignVerifyEnvelope(t *testing.T) {
	private, public := testSigningKey(1)
	e := testEnvelope()

	if err := SignEnvelope(e, private); err != nil {
		t.Fatalf("SignEnvelope() error: %v", err)
	}
	if err := VerifyEnvelope(e, public); err != nil {
		t.Errorf("VerifyEnvelope() error: %v", err)
	}
}

func TestVerifyEnvelopeRejectsFieldSubstitution(t *testing.T) {
	private, public := testSigningKey(1)

	mutations := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"messageType", func(e *Envelope) { e.MessageType = TypeCallOffer }},
		{"messageId", func(e *Envelope) { e.MessageID = "00000000-0000-4000-8000-000000000000" }},
		{"from", func(e *Envelope) { e.From = "WSP-EVIL-EVIL-EVIL" }},
		{"toOrGroupId", func(e *Envelope) { e.ToOrGroupID = "WSP-EVIL-EVIL-EVIL" }},
		{"timestamp", func(e *Envelope) { e.TimestampMillis++ }},
		{"nonce", func(e *Envelope) { e.Nonce[0] ^= 0x01 }},
		{"ciphertext", func(e *Envelope) { e.Ciphertext[0] ^= 0x01 }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			e := testEnvelope()
			if err := SignEnvelope(e, private); err != nil {
				t.Fatalf("SignEnvelope() error: %v", err)
			}
			tt.mutate(e)
			if err := VerifyEnvelope(e, public); !errors.Is(err, ErrBadSignature) {
				t.Errorf("expected ErrBadSignature after mutating %s, got %v", tt.name, err)
			}
		})
	}
}

func TestVerifyEnvelopeRejectsWrongSigner(t *testing.T) {
	private, _ := testSigningKey(1)
	_, otherPublic := testSigningKey(99)

	e := testEnvelope()
	if err := SignEnvelope(e, private); err != nil {
		t.Fatalf("SignEnvelope() error: %v", err)
	}
	if err := VerifyEnvelope(e, otherPublic); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature with wrong signer key, got %v", err)
	}
}

func TestSignEnvelopeRejectsIncomplete(t *testing.T) {
	private, _ := testSigningKey(1)
	e := testEnvelope()
	e.MessageID = ""
	if err := SignEnvelope(e, private); !errors.Is(err, ErrIncompleteEnvelope) {
		t.Errorf("expected ErrIncompleteEnvelope, got %v", err)
	}
}

func TestChallengeSigning(t *testing.T) {
	private, public := testSigningKey(7)
	challenge := []byte("server challenge bytes, 32 long!")

	sig, err := SignChallenge(challenge, private)
	if err != nil {
		t.Fatalf("SignChallenge() error: %v", err)
	}

	ok, err := VerifyChallenge(challenge, sig, public)
	if err != nil {
		t.Fatalf("VerifyChallenge() error: %v", err)
	}
	if !ok {
		t.Error("valid challenge signature did not verify")
	}

	ok, _ = VerifyChallenge([]byte("different challenge"), sig, public)
	if ok {
		t.Error("challenge signature verified over different challenge")
	}
}

func TestBinaryFieldEncoding(t *testing.T) {
	private, _ := testSigningKey(1)
	e := testEnvelope()
	if err := SignEnvelope(e, private); err != nil {
		t.Fatalf("SignEnvelope() error: %v", err)
	}

	decoded := &Envelope{
		MessageType:     e.MessageType,
		MessageID:       e.MessageID,
		From:            e.From,
		ToOrGroupID:     e.ToOrGroupID,
		TimestampMillis: e.TimestampMillis,
		NonceB64:        e.NonceB64,
		CiphertextB64:   e.CiphertextB64,
		SignatureB64:    e.SignatureB64,
	}
	if err := decoded.DecodeBinaryFields(); err != nil {
		t.Fatalf("DecodeBinaryFields() error: %v", err)
	}
	if !bytes.Equal(decoded.Ciphertext, e.Ciphertext) || decoded.Nonce != e.Nonce || decoded.Signature != e.Signature {
		t.Error("binary fields mismatch after decode")
	}

	decoded.NonceB64 = "!!!"
	if err := decoded.DecodeBinaryFields(); err == nil {
		t.Error("DecodeBinaryFields() accepted malformed base64")
	}
}
