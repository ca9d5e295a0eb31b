package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxFrameSize = 1 << 20

type WSTransport struct {
	role         string
	name         string
	upgrader     websocket.Upgrader
	onMessage    func(Client, []byte)
	onConnect    func(Client) error
	onDisconnect func(Client)

	clients map[string]Client
	cmu     sync.RWMutex

	maxClients int
	queueSize  int
}

func NewWSTransport(role string) *WSTransport {
	return &WSTransport{
		role: role,
		name: role,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // observers are served from other origins
			},
		},
		clients:    make(map[string]Client),
		maxClients: 16,
		queueSize:  32,
	}
}

func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		slog.Error("WebSocket transport used without handlers", "role", t.role)
		http.Error(w, "transport not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "role", t.role, "error", err)
		return
	}

	t.cmu.RLock()
	clientCount := len(t.clients)
	t.cmu.RUnlock()
	if clientCount >= t.maxClients {
		slog.Warn("Max clients reached, rejecting connection", "role", t.role, "remote_addr", r.RemoteAddr)
		conn.Close()
		return
	}

	t.handleConnection(conn)
}

func (t *WSTransport) handleConnection(conn *websocket.Conn) {
	client := NewWSClient(conn, t.role, t.queueSize)
	go client.writePump()
	slog.Info("WebSocket client connected", "role", t.role, "id", client.Id, "addr", client.RemoteAddr)

	defer func() {
		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()

		t.onDisconnect(client)
		client.Close()
		slog.Info("WebSocket client disconnected", "role", t.role, "id", client.Id, "addr", client.RemoteAddr)
	}()

	t.cmu.Lock()
	t.clients[client.Id] = client
	t.cmu.Unlock()

	if err := t.onConnect(client); err != nil {
		slog.Error("Failed to register WebSocket client", "role", t.role, "id", client.Id, "error", err.Error())
		return
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "role", t.role, "id", client.Id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		slog.Debug("WebSocket message received", "role", t.role, "sender", client.Id, "size", len(data))
		t.onMessage(client, data)
	}
}

// Shutdown closes every open connection.
func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket transport", "role", t.role)
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	for _, c := range t.clients {
		c.Close()
	}
	return nil
}

func (t *WSTransport) OnMessage(fn func(Client, []byte)) {
	t.onMessage = fn
}

func (t *WSTransport) OnConnect(fn func(Client) error) {
	t.onConnect = fn
}

func (t *WSTransport) OnDisconnect(fn func(Client)) {
	t.onDisconnect = fn
}

func (t *WSTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	return TransportMetadata{
		Name:       t.name,
		Role:       t.role,
		Protocol:   "websocket",
		Clients:    len(t.clients),
		MaxClients: t.maxClients,
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *WSTransport) SetQueueSize(n int) {
	t.queueSize = n
}
