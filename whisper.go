package whisper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/attachment"
	"github.com/fatihtunali/whisper2-sub000/call"
	"github.com/fatihtunali/whisper2-sub000/codec"
	"github.com/fatihtunali/whisper2-sub000/contact"
	"github.com/fatihtunali/whisper2-sub000/group"
	"github.com/fatihtunali/whisper2-sub000/identity"
	"github.com/fatihtunali/whisper2-sub000/pipeline"
	"github.com/fatihtunali/whisper2-sub000/session"
	"github.com/fatihtunali/whisper2-sub000/transport"
	"github.com/fatihtunali/whisper2-sub000/wire"
)

// Options configures a Client.
type Options struct {
	// Identity is the account key material, already derived or loaded
	// from the keystore.
	Identity *identity.Identity
	// DataDir holds the device file and the outbox database.
	DataDir string
	// GatewayURL is the relay websocket endpoint.
	GatewayURL string
	// APIBaseURL is the relay HTTP endpoint for key resolution, contact
	// backup, and attachment presigning.
	APIBaseURL string
	// Platform tags the device record ("android", "ios", "desktop").
	Platform string
	// CallUI receives call events. Optional; calls are disabled when nil.
	CallUI call.UIEvents
	// Transport overrides parts of the connection config. URL and
	// Dialer are filled in from GatewayURL when unset.
	Transport transport.Config
}

// Client wires the engine together. Each shared resource has exactly
// one owner: the transport owns the socket, the session manager owns
// authentication, the pipeline owns the outbox; the client only routes
// between them.
type Client struct {
	id          *identity.Identity
	device      *identity.Device
	conn        *transport.Manager
	sessions    *session.Manager
	pipe        *pipeline.Pipeline
	contacts    *contact.Registry
	resolver    *contact.Resolver
	backup      *contact.BackupClient
	attachments *attachment.Client
	calls       *call.Manager

	mu        sync.Mutex
	started   bool
	onMessage pipeline.MessageCallback
}

// New assembles a client. Nothing connects until Start.
func New(opts Options) (*Client, error) {
	if opts.Identity == nil {
		return nil, errors.New("whisper: identity is required")
	}
	if opts.DataDir == "" {
		return nil, errors.New("whisper: data directory is required")
	}

	device, err := identity.LoadOrCreateDevice(filepath.Join(opts.DataDir, "device.json"), opts.Platform)
	if err != nil {
		return nil, fmt.Errorf("whisper: device identity: %w", err)
	}

	def := transport.DefaultConfig(opts.GatewayURL)
	cfg := opts.Transport
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Dialer == nil {
		cfg.Dialer = def.Dialer
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	c := &Client{
		id:       opts.Identity,
		device:   device,
		conn:     transport.NewManager(cfg),
		contacts: contact.NewRegistry(),
	}
	c.sessions = session.NewManager(opts.Identity, device, c.conn.Send)

	c.pipe, err = pipeline.New(pipeline.Config{
		OutboxPath: filepath.Join(opts.DataDir, "outbox.db"),
	}, opts.Identity, c.contacts, c.sessions, c.conn.Send)
	if err != nil {
		return nil, err
	}

	token := c.sessions.Token
	c.resolver = contact.NewResolver(opts.APIBaseURL, c.contacts, token)
	c.backup = contact.NewBackupClient(opts.APIBaseURL, c.contacts, opts.Identity.ContactsKey, token)
	c.attachments = attachment.NewClient(opts.APIBaseURL, token)
	if opts.CallUI != nil {
		c.calls = call.NewManager(c.pipe, c.pipe.Submit, c.conn.Send, token, opts.CallUI)
	}

	c.conn.OnFrame(c.routeFrame)
	c.conn.OnConnected(c.onConnected)
	c.conn.OnDisconnected(c.onDisconnected)
	c.pipe.OnMessage(c.routeMessage)

	return c, nil
}

// Start connects to the relay. Authentication and outbox drain follow
// automatically on every (re)connect.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()
	return c.conn.Connect(ctx)
}

// Close disconnects and releases the outbox.
func (c *Client) Close() error {
	connErr := c.conn.Close()
	pipeErr := c.pipe.Close()
	if connErr != nil {
		return connErr
	}
	return pipeErr
}

// onConnected authenticates the fresh instance, then drains the outbox
// and fetches messages queued while offline.
func (c *Client) onConnected(instanceID string) {
	ctx := context.Background()
	if _, err := c.sessions.Authenticate(ctx, instanceID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "onConnected",
			"instance_id": instanceID,
			"error":       err.Error(),
		}).Error("Authentication failed on new connection")
		return
	}
	if err := c.pipe.Drain(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "onConnected",
			"error":    err.Error(),
		}).Warn("Outbox drain interrupted")
	}
	if err := c.pipe.FetchPending(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "onConnected",
			"error":    err.Error(),
		}).Warn("Fetching queued messages failed")
	}
	if c.sessions.NeedsRefresh() {
		if err := c.sessions.Refresh(ctx); err != nil {
			logrus.WithField("function", "onConnected").WithError(err).Warn("Session refresh failed")
		}
	}
}

func (c *Client) onDisconnected(instanceID string, cause error) {
	c.sessions.ConnectionLost(instanceID, cause)
	c.pipe.ConnectionLost()
	if c.calls != nil {
		c.calls.ConnectionLost()
	}
}

// routeFrame fans an inbound frame to the first consumer that claims
// it. Session frames first: nothing else is meaningful until the
// instance is authenticated.
func (c *Client) routeFrame(instanceID string, data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "routeFrame",
			"error":    err.Error(),
		}).Warn("Malformed frame dropped")
		return
	}
	if c.sessions.HandleFrame(instanceID, frame) {
		return
	}
	if c.calls != nil && c.calls.HandleFrame(frame) {
		return
	}
	if c.pipe.HandleFrame(frame) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":   "routeFrame",
		"frame_type": frame.Type,
	}).Debug("Unclaimed frame dropped")
}

// routeMessage hands call signaling to the call manager and everything
// else to the application callback.
func (c *Client) routeMessage(env *codec.Envelope, plaintext []byte) {
	if call.IsSignalType(env.MessageType) {
		if c.calls != nil {
			c.calls.HandleSignal(env, plaintext)
		}
		return
	}
	c.mu.Lock()
	cb := c.onMessage
	c.mu.Unlock()
	if cb != nil {
		cb(env, plaintext)
	}
}

// Send encrypts, signs, persists, and transmits a text message.
func (c *Client) Send(recipient string, plaintext []byte) (string, error) {
	return c.pipe.Send(recipient, plaintext)
}

// SendGroup fans a message out to every resolvable group member and
// submits the envelopes. Skipped members are reported, not fatal.
func (c *Client) SendGroup(g *group.Group, plaintext []byte) (*group.FanOutResult, error) {
	result, err := group.FanOut(c.pipe, c.id.AccountID, g.ID, g.Members(), plaintext)
	if err != nil {
		return result, err
	}
	for _, env := range result.Envelopes {
		if err := c.pipe.Submit(env); err != nil {
			return result, err
		}
	}
	return result, nil
}

// OnMessage registers the application's inbound message callback.
func (c *Client) OnMessage(cb pipeline.MessageCallback) {
	c.mu.Lock()
	c.onMessage = cb
	c.mu.Unlock()
}

// OnStatus registers the per-message status callback.
func (c *Client) OnStatus(cb pipeline.StatusCallback) {
	c.pipe.OnStatus(cb)
}

// OnPendingRequest registers the unknown-sender callback.
func (c *Client) OnPendingRequest(cb pipeline.RequestCallback) {
	c.pipe.OnPendingRequest(cb)
}

// AcceptContact resolves the sender's keys and replays anything they
// sent while unknown.
func (c *Client) AcceptContact(ctx context.Context, accountID string) error {
	if err := c.resolver.Resolve(ctx, accountID); err != nil {
		return err
	}
	return c.pipe.Accept(accountID)
}

// BlockContact blocks the sender and discards buffered messages.
func (c *Client) BlockContact(accountID string) error {
	return c.pipe.Block(accountID)
}

// Contacts exposes the contact registry.
func (c *Client) Contacts() *contact.Registry {
	return c.contacts
}

// Backup exposes the encrypted contacts backup client.
func (c *Client) Backup() *contact.BackupClient {
	return c.backup
}

// Attachments exposes the attachment transfer client.
func (c *Client) Attachments() *attachment.Client {
	return c.attachments
}

// Calls exposes the call manager, or nil when no UI was provided.
func (c *Client) Calls() *call.Manager {
	return c.calls
}

// NotifyNetworkAvailable signals OS-level network recovery to the
// reconnect logic.
func (c *Client) NotifyNetworkAvailable() {
	c.conn.NotifyNetworkAvailable()
}

// NotifyForeground signals the app returning to the foreground.
func (c *Client) NotifyForeground() {
	c.conn.NotifyForeground()
}

// Logout invalidates the session server-side and disconnects.
func (c *Client) Logout(ctx context.Context) error {
	err := c.sessions.Logout(ctx)
	if closeErr := c.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}
