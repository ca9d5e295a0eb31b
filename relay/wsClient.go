package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 25 * time.Second
	pongWait   = 60 * time.Second
)

// WSClient owns one websocket. Writes go through a buffered queue drained by
// writePump, so a slow peer never blocks the sender.
type WSClient struct {
	ClientMetadata
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewWSClient(conn *websocket.Conn, role string, queue int) *WSClient {
	if queue < 1 {
		queue = 1
	}
	return &WSClient{
		conn: conn,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
		ClientMetadata: ClientMetadata{
			Id:          generateClientId(role),
			Role:        role,
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
	}
}

func (c *WSClient) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

func (c *WSClient) SendRaw(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the write pump, which sends a close frame and closes the socket.
func (c *WSClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *WSClient) Meta() *ClientMetadata {
	return &c.ClientMetadata
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("WebSocket write failed", "id", c.Id, "error", err.Error())
				c.Close()
				return
			}
			slog.Debug("Sent WebSocket message", "to", c.Id, "size", len(data))
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
