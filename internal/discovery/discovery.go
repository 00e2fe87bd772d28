// Package discovery advertises and finds repos on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service repos register under.
	ServiceType = "_docsync._tcp"
	// Domain is the mDNS browsing domain.
	Domain = "local."

	txtPeer = "peer="
	txtPath = "path="
)

// ErrNoPeerID is returned when advertising without a peer ID.
var ErrNoPeerID = errors.New("peer id is required")

// Service is a repo found on the network.
type Service struct {
	PeerID string
	URL    string
}

// Advertiser announces this repo until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the sync endpoint served at path on port.
func Advertise(peerID string, port int, path string) (*Advertiser, error) {
	if peerID == "" {
		return nil, ErrNoPeerID
	}

	server, err := zeroconf.Register(
		"docsync-"+peerID,
		ServiceType,
		Domain,
		port,
		[]string{txtPeer + peerID, txtPath + path},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}

	glog.Infof("[discovery] advertising %s on port %d", peerID, port)

	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the service.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Browse reports services until ctx ends. Each peer is reported once and
// entries advertising localPeerID are skipped. The resolver closes entries
// when ctx ends, which stops the reporting goroutine.
func Browse(ctx context.Context, localPeerID string, found func(Service)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		seen := make(map[string]struct{})

		for entry := range entries {
			svc, ok := ServiceFromEntry(entry)
			if !ok || svc.PeerID == localPeerID {
				continue
			}

			if _, dup := seen[svc.PeerID]; dup {
				continue
			}

			seen[svc.PeerID] = struct{}{}

			glog.V(1).Infof("[discovery] found %s at %s", svc.PeerID, svc.URL)
			found(svc)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return fmt.Errorf("browse mdns: %w", err)
	}

	<-ctx.Done()

	return nil
}

// ServiceFromEntry builds a Service from a resolved entry. It reports false
// for entries without a peer ID or an address.
func ServiceFromEntry(entry *zeroconf.ServiceEntry) (Service, bool) {
	var peerID, path string

	for _, txt := range entry.Text {
		switch {
		case strings.HasPrefix(txt, txtPeer):
			peerID = strings.TrimPrefix(txt, txtPeer)
		case strings.HasPrefix(txt, txtPath):
			path = strings.TrimPrefix(txt, txtPath)
		}
	}

	if peerID == "" || entry.Port == 0 {
		return Service{}, false
	}

	var host string

	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return Service{}, false
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return Service{
		PeerID: peerID,
		URL:    "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path,
	}, true
}
