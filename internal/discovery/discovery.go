// Package discovery advertises a running gateway over mDNS so sibling
// containers in an integration-test compose network can find the
// tcp_tunnel server-mode backend without hardcoded addresses.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/artie-robotics/can-stack/internal/frame"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the fixed mDNS service type this stack advertises under.
const ServiceType = "_artie-can._tcp"

// Config controls whether and how the service is advertised.
type Config struct {
	Enable  bool
	Name    string // instance name; defaults to "artie-can-<hostname>" when empty
	Backend string // backend.Kind value, carried as TXT metadata
	Address frame.Address
	Version string
	Commit  string
}

// Start registers the service and returns a cleanup function. It is a
// no-op (and returns a no-op cleanup) when cfg.Enable is false.
func Start(ctx context.Context, cfg Config, port int) (func(), error) {
	if !cfg.Enable {
		return func() {}, nil
	}
	instance := cfg.Name
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("artie-can-%s", host)
	}
	meta := []string{
		"backend=" + cfg.Backend,
		"address=" + cfg.Address.String(),
		"version=" + cfg.Version,
		"commit=" + cfg.Commit,
	}
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
