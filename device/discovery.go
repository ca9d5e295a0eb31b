package device

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/gorover/proto"
)

// DiscoverRelay returns the WebSocket URL of the first relay answering on mDNS.
func DiscoverRelay(timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(proto.RelayService)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Debug("mDNS query failed", "error", err.Error())
		}
	}()

	for entry := range entriesCh {
		if entry == nil || entry.AddrV4 == nil {
			continue
		}
		addr := fmt.Sprintf("ws://%s:%d/device", entry.AddrV4.String(), entry.Port)
		slog.Info("Discovered relay", "service_name", entry.Name, "addr", addr)
		// drain so the query goroutine can finish
		go func() {
			for range entriesCh {
			}
		}()
		return addr, nil
	}
	return "", fmt.Errorf("no %s service found within %v", proto.RelayService, timeout)
}
