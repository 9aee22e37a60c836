package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/codec"
	"github.com/fatihtunali/whisper2-sub000/contact"
	"github.com/fatihtunali/whisper2-sub000/crypto"
	"github.com/fatihtunali/whisper2-sub000/identity"
	"github.com/fatihtunali/whisper2-sub000/limits"
	"github.com/fatihtunali/whisper2-sub000/session"
	"github.com/fatihtunali/whisper2-sub000/wire"
)

// Receipt statuses surfaced through the status callback. The outbox
// itself only ever holds pending, sending, and failed rows.
const (
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// defaultMaxRetries caps retransmissions before an entry is marked
// failed.
const defaultMaxRetries = 5

var (
	// ErrInvalidTimestamp indicates an inbound envelope outside the
	// accepted clock skew window. Rejected before any decryption.
	ErrInvalidTimestamp = errors.New("envelope timestamp outside skew window")

	// ErrFetchTimeout indicates the server did not answer a pending-page
	// request in time.
	ErrFetchTimeout = errors.New("fetch pending timed out")
)

// MessageCallback receives a verified, decrypted inbound envelope.
type MessageCallback func(env *codec.Envelope, plaintext []byte)

// StatusCallback reports per-message status transitions.
type StatusCallback func(messageID, peer string, status Status)

// RequestCallback reports a buffered message from an unknown sender.
type RequestCallback func(accountID string, buffered int)

// Config tunes the pipeline.
type Config struct {
	// OutboxPath is the sqlite database path.
	OutboxPath string
	// MaxRetries caps retransmissions per entry. 0 means the default.
	MaxRetries int
	// DedupeCapacity bounds the recently-seen ID set. 0 means the default.
	DedupeCapacity int
}

// Pipeline owns the outbound and inbound message flows. Outbound
// messages are encrypted, signed, persisted, then transmitted; the
// durable write always precedes the first delivery attempt. Inbound
// envelopes are skew-checked, verified, decrypted, deduplicated, then
// delivered.
type Pipeline struct {
	id         *identity.Identity
	registry   *contact.Registry
	sessions   *session.Manager
	send       session.Sender
	outbox     *Outbox
	seen       *dedupe
	requests   *requestBuffer
	maxRetries int

	mu        sync.Mutex
	waiters   map[string]chan *wire.Frame
	onMessage MessageCallback
	onStatus  StatusCallback
	onRequest RequestCallback
}

// New opens the outbox and assembles a pipeline.
func New(cfg Config, id *identity.Identity, registry *contact.Registry, sessions *session.Manager, send session.Sender) (*Pipeline, error) {
	outbox, err := OpenOutbox(cfg.OutboxPath)
	if err != nil {
		return nil, err
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Pipeline{
		id:         id,
		registry:   registry,
		sessions:   sessions,
		send:       send,
		outbox:     outbox,
		seen:       newDedupe(cfg.DedupeCapacity),
		requests:   newRequestBuffer(),
		maxRetries: maxRetries,
		waiters:    make(map[string]chan *wire.Frame),
	}, nil
}

// Close closes the outbox.
func (p *Pipeline) Close() error {
	return p.outbox.Close()
}

// OnMessage registers the inbound delivery callback.
func (p *Pipeline) OnMessage(cb MessageCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = cb
}

// OnStatus registers the status transition callback.
func (p *Pipeline) OnStatus(cb StatusCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = cb
}

// OnPendingRequest registers the unknown-sender callback.
func (p *Pipeline) OnPendingRequest(cb RequestCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRequest = cb
}

// Send encrypts, signs, persists, and transmits a text message to a
// resolved contact. The returned message ID is stable across retries.
func (p *Pipeline) Send(recipient string, plaintext []byte) (string, error) {
	env, err := p.Seal(codec.TypeText, recipient, recipient, plaintext)
	if err != nil {
		return "", err
	}
	if err := p.Submit(env); err != nil {
		return "", err
	}
	return env.MessageID, nil
}

// Seal builds a signed envelope for a resolved contact. The recipient
// addresses the encryption; toOrGroupID is what the signature binds, so
// group fan-out passes the group ID there while encrypting per member.
func (p *Pipeline) Seal(messageType, recipient, toOrGroupID string, plaintext []byte) (*codec.Envelope, error) {
	if err := limits.ValidatePlaintextMessage(plaintext); err != nil {
		return nil, err
	}
	recipientKey, err := p.registry.SendableKeys(recipient)
	if err != nil {
		return nil, err
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := crypto.Encrypt(plaintext, nonce, recipientKey, p.id.Encryption.Private)
	if err != nil {
		return nil, err
	}

	env := &codec.Envelope{
		MessageType:     messageType,
		MessageID:       uuid.New().String(),
		From:            p.id.AccountID,
		ToOrGroupID:     toOrGroupID,
		TimestampMillis: p.sessions.ServerNow().UnixMilli(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}
	if err := codec.SignEnvelope(env, p.id.Signing.Private); err != nil {
		return nil, err
	}
	return env, nil
}

// Submit persists a signed envelope to the outbox, then attempts
// transmission. A transmit failure leaves the entry pending for the
// next drain; the durable write is the success criterion.
func (p *Pipeline) Submit(env *codec.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pipeline: encode envelope: %w", err)
	}
	entry := &Entry{
		MessageID:  env.MessageID,
		Peer:       env.ToOrGroupID,
		Envelope:   raw,
		Status:     StatusPending,
		EnqueuedAt: time.Now(),
	}
	if err := p.outbox.Put(entry); err != nil {
		return err
	}
	p.notifyStatus(env.MessageID, entry.Peer, StatusPending)

	if err := p.transmit(entry); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Submit",
			"message_id": env.MessageID,
			"error":      err.Error(),
		}).Debug("Initial transmit deferred to next drain")
	}
	return nil
}

// transmit hands one entry to the transport and marks it sending.
func (p *Pipeline) transmit(entry *Entry) error {
	var env codec.Envelope
	if err := json.Unmarshal(entry.Envelope, &env); err != nil {
		return fmt.Errorf("pipeline: corrupt outbox envelope %s: %w", entry.MessageID, err)
	}

	frame, err := wire.NewFrame(wire.FrameMessage, entry.MessageID, messagePayload{
		Header:   wire.NewHeader(p.sessions.Token()),
		Envelope: &env,
	})
	if err != nil {
		return err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}

	if err := p.outbox.SetStatus(entry.MessageID, StatusSending); err != nil {
		return err
	}
	if err := p.send(data); err != nil {
		return err
	}
	p.notifyStatus(entry.MessageID, entry.Peer, StatusSending)
	return nil
}

// Drain walks every unacknowledged entry in original enqueue order and
// retransmits. Entries that were already handed to the transport count
// a retry; past the cap they are marked failed and skipped. Called
// after each successful authentication.
func (p *Pipeline) Drain() error {
	entries, err := p.outbox.Unacknowledged()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Status == StatusSending {
			count, err := p.outbox.IncrementRetry(entry.MessageID)
			if err != nil {
				return err
			}
			if count > p.maxRetries {
				if err := p.outbox.SetStatus(entry.MessageID, StatusFailed); err != nil {
					return err
				}
				p.notifyStatus(entry.MessageID, entry.Peer, StatusFailed)
				logrus.WithFields(logrus.Fields{
					"function":   "Drain",
					"message_id": entry.MessageID,
					"retries":    count,
				}).Warn("Retry cap reached, message marked failed")
				continue
			}
		}
		if err := p.transmit(entry); err != nil {
			// Transport went away mid-drain; the rest stays queued.
			return err
		}
	}

	if len(entries) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Drain",
			"entries":  len(entries),
		}).Info("Outbox drained")
	}
	return nil
}

// HandleFrame processes message-plane frames. Returns true if the frame
// was consumed.
func (p *Pipeline) HandleFrame(frame *wire.Frame) bool {
	switch frame.Type {
	case wire.FrameMessage:
		var payload messagePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.Envelope == nil {
			logrus.WithField("function", "HandleFrame").Warn("Malformed message payload dropped")
			return true
		}
		if err := p.handleInbound(payload.Envelope, true); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "HandleFrame",
				"error":    err.Error(),
			}).Warn("Inbound envelope rejected")
		}
		return true

	case wire.FrameSendAck:
		var payload ackPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.MessageID == "" {
			return true
		}
		p.handleAck(payload.MessageID)
		return true

	case wire.FrameReceipt:
		var payload receiptPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.MessageID == "" {
			return true
		}
		p.notifyStatus(payload.MessageID, "", Status(payload.Status))
		return true

	case wire.FramePendingPage:
		return p.deliverToWaiter(frame)

	case wire.FrameError:
		return p.handleError(frame)

	default:
		return false
	}
}

// handleAck marks a send accepted and removes the durable entry.
func (p *Pipeline) handleAck(messageID string) {
	entry, err := p.outbox.Get(messageID)
	if err != nil {
		// Ack for an entry already removed; idempotent.
		return
	}
	if err := p.outbox.Remove(messageID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleAck",
			"message_id": messageID,
			"error":      err.Error(),
		}).Error("Failed to remove acknowledged entry")
		return
	}
	p.notifyStatus(messageID, entry.Peer, StatusSent)
}

// handleError routes send rejections and fetch errors.
func (p *Pipeline) handleError(frame *wire.Frame) bool {
	if p.deliverToWaiter(frame) {
		return true
	}
	serverErr := wire.ParseServerError(frame)
	if serverErr == nil || frame.RequestID == "" {
		return false
	}
	entry, err := p.outbox.Get(frame.RequestID)
	if err != nil {
		return false
	}

	if !serverErr.Retryable() {
		_ = p.outbox.SetStatus(entry.MessageID, StatusFailed)
		p.notifyStatus(entry.MessageID, entry.Peer, StatusFailed)
	} else {
		_ = p.outbox.SetStatus(entry.MessageID, StatusPending)
	}
	logrus.WithFields(logrus.Fields{
		"function":   "handleError",
		"message_id": entry.MessageID,
		"code":       serverErr.Code,
		"retryable":  serverErr.Retryable(),
	}).Warn("Send rejected by server")
	return true
}

// handleInbound runs the inbound flow: skew check, sender lookup,
// signature verification, decryption, dedupe, delivery.
func (p *Pipeline) handleInbound(env *codec.Envelope, checkSkew bool) error {
	if err := env.DecodeBinaryFields(); err != nil {
		return err
	}

	if checkSkew {
		skew := p.sessions.ServerNow().Sub(time.UnixMilli(env.TimestampMillis))
		if skew < 0 {
			skew = -skew
		}
		if skew > limits.MaxTimestampSkew {
			return fmt.Errorf("%w: %s from %s", ErrInvalidTimestamp, skew, env.From)
		}
	}

	signKey, blocked, err := p.registry.VerificationKey(env.From)
	if blocked {
		// Blocked senders are dropped without any observable effect,
		// whether or not their keys were ever resolved.
		return nil
	}
	if errors.Is(err, contact.ErrUnknownContact) || errors.Is(err, contact.ErrUnresolvedContact) {
		// No trust anchor to verify against yet: hold the envelope
		// until the user accepts the sender and keys are resolved.
		buffered := p.requests.Add(env)
		p.mu.Lock()
		cb := p.onRequest
		p.mu.Unlock()
		if cb != nil {
			cb(env.From, buffered)
		}
		logrus.WithFields(logrus.Fields{
			"function": "handleInbound",
			"from":     env.From,
			"buffered": buffered,
		}).Info("Message from unverifiable sender buffered as pending request")
		return nil
	}
	if err != nil {
		return err
	}

	if err := codec.VerifyEnvelope(env, signKey); err != nil {
		return err
	}

	sender, err := p.registry.Get(env.From)
	if err != nil {
		return err
	}
	plaintext, err := crypto.Decrypt(env.Ciphertext, env.Nonce, sender.EncPublicKey, p.id.Encryption.Private)
	if err != nil {
		return err
	}

	if p.seen.Observe(env.MessageID) {
		// Redelivery: re-ack so the sender stops retrying, but never
		// deliver twice.
		p.sendReceipt(env.MessageID, string(StatusDelivered))
		return nil
	}

	p.mu.Lock()
	cb := p.onMessage
	p.mu.Unlock()
	if cb != nil {
		cb(env, plaintext)
	}
	p.sendReceipt(env.MessageID, string(StatusDelivered))
	return nil
}

// Accept replays buffered envelopes from a now-resolved sender through
// the normal inbound flow. The caller resolves keys first.
func (p *Pipeline) Accept(accountID string) error {
	if _, _, err := p.registry.VerificationKey(accountID); err != nil {
		return err
	}
	for _, env := range p.requests.Take(accountID) {
		// Skew was checked at arrival; age during buffering is expected.
		if err := p.handleInbound(env, false); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Accept",
				"from":       accountID,
				"message_id": env.MessageID,
				"error":      err.Error(),
			}).Warn("Buffered envelope rejected on accept")
		}
	}
	return nil
}

// Block discards anything buffered from the sender and suppresses all
// future delivery. Senders that were never contacts get a blocked
// placeholder entry so later envelopes are dropped, not re-buffered.
func (p *Pipeline) Block(accountID string) error {
	p.requests.Drop(accountID)
	return p.registry.Block(accountID)
}

// PendingSenders lists unknown senders with buffered messages.
func (p *Pipeline) PendingSenders() []string {
	return p.requests.Senders()
}

// MarkRead sends a read receipt for a delivered message.
func (p *Pipeline) MarkRead(messageID string) error {
	return p.sendReceiptErr(messageID, string(StatusRead))
}

func (p *Pipeline) sendReceipt(messageID, status string) {
	if err := p.sendReceiptErr(messageID, status); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sendReceipt",
			"message_id": messageID,
			"status":     status,
			"error":      err.Error(),
		}).Debug("Receipt not sent")
	}
}

func (p *Pipeline) sendReceiptErr(messageID, status string) error {
	frame, err := wire.NewFrame(wire.FrameReceipt, "", receiptPayload{
		Header:    wire.NewHeader(p.sessions.Token()),
		MessageID: messageID,
		Status:    status,
	})
	if err != nil {
		return err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	return p.send(data)
}

// FetchPending pages through messages queued server-side while this
// device was offline, feeding each through the inbound flow. Buffered
// messages may be old; the skew window does not apply to them.
func (p *Pipeline) FetchPending(ctx context.Context) error {
	cursor := ""
	for {
		page, err := p.fetchPage(ctx, cursor)
		if err != nil {
			return err
		}
		for _, env := range page.Envelopes {
			age := p.sessions.ServerNow().Sub(time.UnixMilli(env.TimestampMillis))
			if age > limits.PendingMessageTTL {
				logrus.WithFields(logrus.Fields{
					"function":   "FetchPending",
					"message_id": env.MessageID,
					"age":        age.String(),
				}).Info("Expired queued envelope dropped")
				continue
			}
			if err := p.handleInbound(env, false); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":   "FetchPending",
					"message_id": env.MessageID,
					"error":      err.Error(),
				}).Warn("Queued envelope rejected")
			}
		}
		if !page.More {
			return nil
		}
		cursor = page.Cursor
	}
}

func (p *Pipeline) fetchPage(ctx context.Context, cursor string) (*pendingPagePayload, error) {
	requestID := uuid.New().String()
	frame, err := wire.NewFrame(wire.FrameFetchPending, requestID, fetchPayload{
		Header:   wire.NewHeader(p.sessions.Token()),
		PageSize: limits.FetchPendingPageSize,
		Cursor:   cursor,
	})
	if err != nil {
		return nil, err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return nil, err
	}

	waiter := make(chan *wire.Frame, 1)
	p.mu.Lock()
	p.waiters[requestID] = waiter
	p.mu.Unlock()
	cleanup := func() {
		p.mu.Lock()
		delete(p.waiters, requestID)
		p.mu.Unlock()
	}

	if err := p.send(data); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(limits.AuthTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, errors.New("connection lost during fetch")
		}
		if serverErr := wire.ParseServerError(resp); serverErr != nil {
			return nil, serverErr
		}
		var page pendingPagePayload
		if err := json.Unmarshal(resp.Payload, &page); err != nil {
			return nil, fmt.Errorf("malformed pending page: %w", err)
		}
		return &page, nil
	case <-timer.C:
		cleanup()
		return nil, ErrFetchTimeout
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// deliverToWaiter routes a correlated response to its fetch waiter.
func (p *Pipeline) deliverToWaiter(frame *wire.Frame) bool {
	p.mu.Lock()
	waiter, ok := p.waiters[frame.RequestID]
	if ok {
		delete(p.waiters, frame.RequestID)
	}
	p.mu.Unlock()
	if ok {
		waiter <- frame
	}
	return ok
}

// ConnectionLost fails in-flight fetches. Outbox entries stay queued
// for the next drain.
func (p *Pipeline) ConnectionLost() {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan *wire.Frame)
	p.mu.Unlock()
	for _, waiter := range waiters {
		close(waiter)
	}
}

func (p *Pipeline) notifyStatus(messageID, peer string, status Status) {
	p.mu.Lock()
	cb := p.onStatus
	p.mu.Unlock()
	if cb != nil {
		cb(messageID, peer, status)
	}
}
