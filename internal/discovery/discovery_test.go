package discovery_test

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/serroba/docsync/internal/discovery"
	"github.com/stretchr/testify/require"
)

func entry(port int, text []string, addrs ...net.IP) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry("docsync-test", discovery.ServiceType, discovery.Domain)
	e.Port = port
	e.Text = text

	for _, a := range addrs {
		if a.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, a)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, a)
		}
	}

	return e
}

func TestServiceFromEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		expected discovery.Service
		ok       bool
	}{
		{
			name:     "ipv4",
			entry:    entry(8080, []string{"peer=alice", "path=/sync"}, net.ParseIP("192.168.1.5")),
			expected: discovery.Service{PeerID: "alice", URL: "ws://192.168.1.5:8080/sync"},
			ok:       true,
		},
		{
			name:     "ipv6 with bare path",
			entry:    entry(9000, []string{"peer=bob", "path=sync"}, net.ParseIP("fe80::1")),
			expected: discovery.Service{PeerID: "bob", URL: "ws://[fe80::1]:9000/sync"},
			ok:       true,
		},
		{
			name:  "missing peer",
			entry: entry(8080, []string{"path=/sync"}, net.ParseIP("10.0.0.1")),
		},
		{
			name:  "missing address",
			entry: entry(8080, []string{"peer=carol"}),
		},
		{
			name:  "missing port",
			entry: entry(0, []string{"peer=carol"}, net.ParseIP("10.0.0.1")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, ok := discovery.ServiceFromEntry(tt.entry)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}

			require.Equal(t, tt.expected, svc)
		})
	}
}

func TestAdvertise_RequiresPeerID(t *testing.T) {
	t.Parallel()

	_, err := discovery.Advertise("", 8080, "/sync")
	require.ErrorIs(t, err, discovery.ErrNoPeerID)
}
