package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the rover's outbound link to the relay.
type Transport interface {
	// Connect replaces any current connection. The returned reader is bound to
	// the new connection and fails once that connection is gone.
	Connect(ctx context.Context, addr string) (FrameReader, error)
	Send(v any) error
	Close() error
	Connected() bool
}

// FrameReader yields one frame at a time, from a single reader.
type FrameReader interface {
	Read() ([]byte, error)
}

type WebSocketTransport struct {
	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	writeTimeout time.Duration
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{writeTimeout: 5 * time.Second}
}

func (t *WebSocketTransport) Connect(ctx context.Context, addr string) (FrameReader, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	// If no scheme is provided, assume ws://
	if u.Scheme == "" {
		u.Scheme = "ws"
	}
	if u.Scheme == "http" {
		u.Scheme = "ws"
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/device"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return &wsReader{t: t, conn: conn}, nil
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WebSocketTransport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("transport is not connected")
	}

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}

	slog.Debug("Sent frame", "size", len(data))
	return nil
}

// wsReader reads from the connection it was created for, never a later one.
type wsReader struct {
	t    *WebSocketTransport
	conn *websocket.Conn
}

func (r *wsReader) Read() ([]byte, error) {
	_, data, err := r.conn.ReadMessage()
	if err != nil {
		r.t.drop(r.conn)
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			return nil, fmt.Errorf("WebSocket connection error: %w", err)
		}
		return nil, fmt.Errorf("connection closed: %w", err)
	}
	return data, nil
}

// drop forgets conn if it is still the current connection.
func (t *WebSocketTransport) drop(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close()
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	if err != nil {
		// still close the socket
		slog.Warn("Failed to send close message", "error", err)
	}
	return conn.Close()
}
