package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConn is an in-memory Conn. Inbound frames are injected with
// deliver(); closing fails the blocked read like a real transport.
type fakeConn struct {
	inbound chan []byte
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	sent   [][]byte
	pings  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) deliver(data []byte) {
	c.inbound <- data
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("ping on closed connection")
	}
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// fakeDialer hands out fakeConns, optionally failing the first
// failures dials.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
	dials    atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func testConfig(d Dialer) Config {
	return Config{
		URL:               "ws://test.invalid/ws",
		Dialer:            d,
		HeartbeatInterval: 50 * time.Millisecond,
		PongTimeout:       100 * time.Millisecond,
		BackoffBase:       time.Millisecond, // keeps tests fast
		BackoffCap:        4 * time.Millisecond,
		MaxAttempts:       5,
		SendBuffer:        16,
	}
}
