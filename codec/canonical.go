package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/crypto"
)

// canonicalVersion prefixes every signing preimage. Bumping it is a
// protocol break.
const canonicalVersion = "v1"

// SigningBytes builds the exact canonical byte sequence the envelope
// signature covers:
//
//	"v1\n" + messageType + "\n" + messageId + "\n" + from + "\n" +
//	toOrGroupId + "\n" + timestampMillis + "\n" + base64(nonce) + "\n" +
//	base64(ciphertext) + "\n"
func SigningBytes(e *Envelope) []byte {
	var buf bytes.Buffer
	buf.WriteString(canonicalVersion)
	buf.WriteByte('\n')
	buf.WriteString(e.MessageType)
	buf.WriteByte('\n')
	buf.WriteString(e.MessageID)
	buf.WriteByte('\n')
	buf.WriteString(e.From)
	buf.WriteByte('\n')
	buf.WriteString(e.ToOrGroupID)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(e.TimestampMillis, 10))
	buf.WriteByte('\n')
	buf.WriteString(base64.StdEncoding.EncodeToString(e.Nonce[:]))
	buf.WriteByte('\n')
	buf.WriteString(base64.StdEncoding.EncodeToString(e.Ciphertext))
	buf.WriteByte('\n')
	return buf.Bytes()
}

// SignEnvelope hashes the canonical bytes with SHA-256 and signs the
// digest with the sender's Ed25519 signing key, filling e.Signature.
func SignEnvelope(e *Envelope, signingPrivate [32]byte) error {
	if err := e.validate(); err != nil {
		return err
	}

	digest := sha256.Sum256(SigningBytes(e))
	sig, err := crypto.Sign(digest[:], signingPrivate)
	if err != nil {
		return err
	}
	e.Signature = sig
	e.EncodeBinaryFields()

	logrus.WithFields(logrus.Fields{
		"function":     "SignEnvelope",
		"message_type": e.MessageType,
		"message_id":   e.MessageID,
	}).Debug("Envelope signed")

	return nil
}

// VerifyEnvelope recomputes the canonical bytes from the received field
// values and checks the signature against the claimed sender's signing
// public key. Returns ErrBadSignature on any mismatch.
func VerifyEnvelope(e *Envelope, signingPublic [32]byte) error {
	if err := e.validate(); err != nil {
		return err
	}

	digest := sha256.Sum256(SigningBytes(e))
	ok, err := crypto.Verify(digest[:], e.Signature, signingPublic)
	if err != nil {
		return err
	}
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "VerifyEnvelope",
			"message_type": e.MessageType,
			"message_id":   e.MessageID,
			"from":         e.From,
		}).Warn("Envelope signature verification failed")
		return ErrBadSignature
	}
	return nil
}

// SignChallenge signs SHA-256(challenge) directly with no canonical
// wrapper. Used only during session authentication.
func SignChallenge(challenge []byte, signingPrivate [32]byte) (crypto.Signature, error) {
	digest := sha256.Sum256(challenge)
	return crypto.Sign(digest[:], signingPrivate)
}

// VerifyChallenge checks a challenge signature produced by SignChallenge.
func VerifyChallenge(challenge []byte, sig crypto.Signature, signingPublic [32]byte) (bool, error) {
	digest := sha256.Sum256(challenge)
	return crypto.Verify(digest[:], sig, signingPublic)
}
