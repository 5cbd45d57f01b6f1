package client

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const DefaultDiscoveryService = "_rosbridge._tcp"

// DiscoveredService represents a rosbridge server announced over mDNS
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	TXTRecords  []string
}

// URL builds the WebSocket endpoint of the service. A "path=" TXT record is honoured.
func (d DiscoveredService) URL() string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(d.Address, strconv.Itoa(d.Port))}
	for _, txt := range d.TXTRecords {
		if p, ok := strings.CutPrefix(txt, "path="); ok {
			u.Path = p
		}
		if txt == "tls=1" {
			u.Scheme = "wss"
		}
	}
	return u.String()
}

// DiscoverRosbridge looks up the first rosbridge server announced as serviceType using mDNS.
func DiscoverRosbridge(serviceType string, timeout time.Duration) (*DiscoveredService, error) {
	if serviceType == "" {
		serviceType = DefaultDiscoveryService
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)

	// Start discovery in background
	go func() {
		defer close(entriesCh)
		params := mdns.DefaultParams(serviceType)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", serviceType, "error", err.Error())
		}
	}()

	// Wait for first result or timeout
	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", serviceType)
		}

		var address string
		if entry.AddrV4 != nil {
			address = entry.AddrV4.String()
		} else if entry.AddrV6 != nil {
			address = entry.AddrV6.String()
		} else {
			return nil, fmt.Errorf("no valid address found for service")
		}

		service := &DiscoveredService{
			ServiceName: entry.Name,
			Address:     address,
			Port:        entry.Port,
			TXTRecords:  entry.InfoFields,
		}

		slog.Info("Discovered rosbridge server",
			"service_name", service.ServiceName,
			"address", service.Address,
			"port", service.Port,
		)

		return service, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("mDNS discovery timeout for %s", serviceType)
	}
}
