// Package discovery lets child windows find a coordinator on the local
// network over mDNS instead of being handed its address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_dndrelay._tcp"
	Domain  = "local."
)

// ErrNotFound is returned when browsing ends without a coordinator.
var ErrNotFound = errors.New("discovery: no coordinator found")

// Advertisement is a registered coordinator service.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise announces a coordinator listening on port.
func Advertise(instance string, port int, channel, path string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, Service, Domain, port, txtRecords(channel, path), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	log.Printf("mDNS service registered: %s on port %d", instance, port)
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Coordinator is a discovered coordinator.
type Coordinator struct {
	Instance string
	Channel  string
	URL      string
}

// Browse returns the first coordinator found before ctx ends. When channel
// is not empty, coordinators of other channels are skipped.
func Browse(ctx context.Context, channel string) (Coordinator, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return Coordinator{}, fmt.Errorf("mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan Coordinator, 1)
	go func() {
		for entry := range entries {
			c, ok := fromEntry(entry)
			if !ok || (channel != "" && c.Channel != channel) {
				continue
			}
			log.Printf("mDNS discovered coordinator: %s at %s", c.Instance, c.URL)
			select {
			case found <- c:
				cancel()
			default:
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return Coordinator{}, fmt.Errorf("browse mDNS: %w", err)
	}

	select {
	case c := <-found:
		return c, nil
	case <-ctx.Done():
		select {
		case c := <-found:
			return c, nil
		default:
			return Coordinator{}, ErrNotFound
		}
	}
}

func txtRecords(channel, path string) []string {
	return []string{"channel=" + channel, "path=" + path}
}

func parseTXT(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, kv := range text {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func fromEntry(e *zeroconf.ServiceEntry) (Coordinator, bool) {
	if e == nil || e.Port == 0 {
		return Coordinator{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		return Coordinator{}, false
	}

	txt := parseTXT(e.Text)
	path := txt["path"]
	if path == "" {
		path = "/ws"
	}
	return Coordinator{
		Instance: e.Instance,
		Channel:  txt["channel"],
		URL:      "ws://" + net.JoinHostPort(host, strconv.Itoa(e.Port)) + path,
	}, true
}
