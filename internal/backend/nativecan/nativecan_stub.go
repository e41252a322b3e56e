//go:build !linux

package nativecan

import (
	"fmt"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// DefaultInterface is kept for API parity on non-Linux builds.
const DefaultInterface = "can0"

// Backend is a placeholder so non-Linux builds compile; SocketCAN is a
// Linux kernel facility and has no equivalent here.
type Backend struct{ iface string }

func New(iface string) *Backend { return &Backend{iface: iface} }

func (b *Backend) Init() error {
	return fmt.Errorf("%w: native CAN backend unsupported on this platform", backend.ErrTransportFault)
}

func (b *Backend) Send(frame.Frame) error { return backend.ErrNotOpen }

func (b *Backend) Receive(time.Duration) (frame.Frame, error) {
	return frame.Frame{}, backend.ErrNotOpen
}

func (b *Backend) Close() error { return nil }

var _ backend.Backend = (*Backend)(nil)
