package net

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service a sync server advertises on the LAN.
const ServiceType = "_scoreboard._tcp"

// Advertise registers the sync server on port under the host name.
// Callers Shutdown the returned server when they stop serving.
func Advertise(port int, info ...string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}
	if len(info) == 0 {
		info = []string{"ScoreBoard"}
	}

	service, err := mdns.NewMDNSService(host, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse calls found with host:port for every IPv4 entry seen before timeout.
func Browse(timeout time.Duration, found func(addr string)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			found(fmt.Sprintf("%s:%d", e.AddrV4.String(), e.Port))
		}
	}()
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	return err
}

// Discover returns the first advertised server, or an error when none
// answered within timeout.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	result := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- Browse(timeout, func(addr string) {
			select {
			case result <- addr:
			default:
			}
		})
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case addr := <-result:
		return addr, nil
	case err := <-errc:
		select {
		case addr := <-result:
			return addr, nil
		default:
		}
		if err != nil {
			return "", fmt.Errorf("mdns lookup: %w", err)
		}
		return "", fmt.Errorf("no %s server found within %s", ServiceType, timeout)
	}
}
