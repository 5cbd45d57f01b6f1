package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type WebSocketTransport struct {
	dialer *websocket.Dialer
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context, addr string) (Conn, error) {
	// If no scheme is provided, assume ws://
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported WebSocket scheme %q", u.Scheme)
	}

	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rosbridge at %s: %w", u.String(), err)
	}

	slog.Debug("WebSocket connection opened", "url", u.String())
	return &WebSocketConn{conn: conn}, nil
}

type WebSocketConn struct {
	conn *websocket.Conn
}

func (c *WebSocketConn) Send(data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("transport is not connected")
	}

	err := c.conn.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}

	slog.Debug("Sent WebSocket Message", "size", len(data))
	return nil
}

func (c *WebSocketConn) Read() ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("transport is not connected")
	}

	// rosbridge may send binary frames (e.g. with the CBOR or PNG compression options); both are
	// handed to the router as-is.
	_, messageBytes, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			return nil, fmt.Errorf("WebSocket connection error: %w", err)
		}
		return nil, fmt.Errorf("connection closed: %w", err)
	}

	return messageBytes, nil
}

func (c *WebSocketConn) Close() error {
	if c.conn == nil {
		return nil
	}

	// Send close message
	deadline := time.Now().Add(time.Second)
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil {
		// Log error but don't return it - we still want to close the connection
		slog.Debug("Failed to send close message", "error", err)
	}

	return c.conn.Close()
}
