package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fatihtunali/whisper2-sub000/limits"
)

// writeWait bounds a single websocket write.
const writeWait = 10 * time.Second

// websocketConn adapts a gorilla websocket connection to the Conn
// interface. Pong handling extends the read deadline, so a silent peer
// fails the read pump after PongTimeout.
type websocketConn struct {
	conn        *websocket.Conn
	pongTimeout time.Duration
}

// WebsocketDialer dials the relay gateway over websocket.
type WebsocketDialer struct {
	dialer      *websocket.Dialer
	pongTimeout time.Duration
}

// NewWebsocketDialer creates a dialer with the contract timing values.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		pongTimeout: limits.PongTimeout,
	}
}

// Dial establishes a websocket transport.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	wc := &websocketConn{conn: conn, pongTimeout: d.pongTimeout}
	conn.SetReadLimit(limits.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(d.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wc.pongTimeout))
	})
	return wc, nil
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *websocketConn) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) WritePing() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
