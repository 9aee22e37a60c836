package codec

import (
	"encoding/base64"
	"errors"

	"github.com/fatihtunali/whisper2-sub000/crypto"
)

// Message types sharing the signed-envelope namespace. Chat and call
// signaling use the same codec and the same signature scope.
const (
	TypeText       = "text"
	TypeAttachment = "attachment"
	TypeGroupText  = "group-text"
	TypeReceipt    = "receipt"
	TypeCallOffer  = "call-offer"
	TypeCallAnswer = "call-answer"
	TypeCallICE    = "call-ice"
	TypeCallEnd    = "call-end"
)

// Envelope is the signed, encrypted unit of wire-transmitted content.
// Immutable once signed; the signature covers exactly the canonical
// serialization of the other fields.
type Envelope struct {
	MessageType     string           `json:"messageType"`
	MessageID       string           `json:"messageId"`
	From            string           `json:"from"`
	ToOrGroupID     string           `json:"to"`
	TimestampMillis int64            `json:"timestampMillis"`
	Nonce           crypto.Nonce     `json:"-"`
	Ciphertext      []byte           `json:"-"`
	Signature       crypto.Signature `json:"-"`

	// Wire representations of the binary fields.
	NonceB64      string `json:"nonce"`
	CiphertextB64 string `json:"ciphertext"`
	SignatureB64  string `json:"signature"`
}

var (
	// ErrIncompleteEnvelope indicates an envelope missing required fields.
	ErrIncompleteEnvelope = errors.New("incomplete envelope")

	// ErrBadSignature indicates signature verification failure: either
	// the envelope was tampered with or the claimed sender did not sign
	// it.
	ErrBadSignature = errors.New("envelope signature verification failed")
)

// EncodeBinaryFields fills the base64 wire fields from the binary ones.
func (e *Envelope) EncodeBinaryFields() {
	e.NonceB64 = base64.StdEncoding.EncodeToString(e.Nonce[:])
	e.CiphertextB64 = base64.StdEncoding.EncodeToString(e.Ciphertext)
	e.SignatureB64 = base64.StdEncoding.EncodeToString(e.Signature[:])
}

// DecodeBinaryFields fills the binary fields from the base64 wire ones.
func (e *Envelope) DecodeBinaryFields() error {
	nonce, err := base64.StdEncoding.DecodeString(e.NonceB64)
	if err != nil {
		return errors.New("malformed nonce encoding")
	}
	e.Nonce, err = crypto.NonceFromBytes(nonce)
	if err != nil {
		return err
	}

	e.Ciphertext, err = base64.StdEncoding.DecodeString(e.CiphertextB64)
	if err != nil {
		return errors.New("malformed ciphertext encoding")
	}

	sig, err := base64.StdEncoding.DecodeString(e.SignatureB64)
	if err != nil {
		return errors.New("malformed signature encoding")
	}
	e.Signature, err = crypto.SignatureFromBytes(sig)
	return err
}

// validate checks the fields covered by the signature are present.
func (e *Envelope) validate() error {
	if e.MessageType == "" || e.MessageID == "" || e.From == "" ||
		e.ToOrGroupID == "" || e.TimestampMillis == 0 || len(e.Ciphertext) == 0 {
		return ErrIncompleteEnvelope
	}
	return nil
}
