package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// DefaultHeadUnitAddr is where head units listen for application sessions.
const DefaultHeadUnitAddr = "127.0.0.1:8003"

// Endpoint describes how the menu service reaches the head unit.
type Endpoint struct {
	Network string
	Address string
}

// DefaultEndpoint resolves the head-unit endpoint using environment overrides.
func DefaultEndpoint() Endpoint {
	if addr := strings.TrimSpace(os.Getenv("CARMENU_HEADUNIT_ADDR")); addr != "" {
		return ParseEndpoint(addr)
	}
	return Endpoint{Network: "tcp", Address: DefaultHeadUnitAddr}
}

// ParseEndpoint accepts "host:port", "tcp://host:port" or "unix:///path".
func ParseEndpoint(raw string) Endpoint {
	raw = strings.TrimSpace(raw)
	if network, address, ok := strings.Cut(raw, "://"); ok {
		return Endpoint{Network: network, Address: address}
	}
	return Endpoint{Network: "tcp", Address: raw}
}

// Listen binds to the configured endpoint.
func (e Endpoint) Listen() (net.Listener, error) {
	if e.Network == "unix" {
		if err := os.Remove(e.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket %s: %w", e.Address, err)
		}
	}
	return net.Listen(e.Network, e.Address)
}

// DialContext establishes a client connection with sensible timeouts.
func (e Endpoint) DialContext(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 15 * time.Second}
	return d.DialContext(ctx, e.Network, e.Address)
}

// String provides a readable representation for logs.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Network, e.Address)
}
