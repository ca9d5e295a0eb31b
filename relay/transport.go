package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	RoleDevice   = "device"
	RoleObserver = "observer"
)

// Transport accepts connections for one role and reports them to the coordinator.
type Transport interface {
	http.Handler
	OnMessage(func(Client, []byte))
	OnConnect(func(Client) error)
	OnDisconnect(func(Client))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
}

type TransportMetadata struct {
	Name       string // e.g. "Device link", "Observers"
	Role       string // "device" or "observer"
	Protocol   string // "websocket"
	Clients    int    // current connections
	MaxClients int
}

type ClientMetadata struct {
	Id          string
	Role        string
	RemoteAddr  string
	ConnectedAt time.Time
}

type Client interface {
	Send(v any) error          // marshal and queue
	SendRaw(data []byte) error // queue an already encoded frame
	Close() error
	Meta() *ClientMetadata
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
