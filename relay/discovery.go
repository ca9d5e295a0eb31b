package relay

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/gorover/proto"
)

// Advertiser announces the relay's device endpoint over mDNS so rovers
// configured without a relay URL can find it.
type Advertiser struct {
	server *mdns.Server
}

func Advertise(instance string, port int) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "gorover"
		}
		instance = host
	}

	service, err := mdns.NewMDNSService(instance, proto.RelayService, "", "", port, nil, []string{"path=/device"})
	if err != nil {
		return nil, fmt.Errorf("create mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mdns server: %w", err)
	}
	slog.Info("Advertising relay over mDNS", "instance", instance, "service", proto.RelayService, "port", port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}
