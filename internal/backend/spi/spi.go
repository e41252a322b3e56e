// Package spi drives an external CAN-controller chip over SPI with
// interrupt-driven receive. This is a stub: the contract it must eventually
// satisfy is identical to the other backends (backend.Backend), but no bus
// driver is implemented here — see DESIGN.md for why no host-side SPI
// library from the example corpus is wired in as a live dependency.
package spi

import (
	"fmt"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// Bus is the minimal synchronous transport a real implementation would
// drive the controller chip's SPI registers through. It mirrors the
// Read/Write/Close shape the teacher uses for its UART dongle (see
// internal's serial package lineage in DESIGN.md) generalized to an
// arbitrary synchronous chip bus.
type Bus interface {
	Transfer(tx []byte, rx []byte) error
	Close() error
}

// Backend is the SPI CAN-controller backend. Construction accepts a Bus so
// tests can inject a fake chip; production code has no Bus implementation
// yet (hence Init failing with ErrTransportFault) because driving this
// chip's register protocol is bare-metal firmware work explicitly out of
// scope per spec.md §1.
type Backend struct {
	bus  Bus
	open bool
}

// New constructs an SPI backend over bus. A nil bus means "not implemented
// on this platform" and Init always fails.
func New(bus Bus) *Backend { return &Backend{bus: bus} }

func (b *Backend) Init() error {
	if b.bus == nil {
		return fmt.Errorf("%w: SPI CAN-controller backend not implemented", backend.ErrTransportFault)
	}
	b.open = true
	return nil
}

func (b *Backend) Send(frame.Frame) error {
	if !b.open {
		return backend.ErrNotOpen
	}
	return fmt.Errorf("%w: SPI backend send not implemented", backend.ErrTransportFault)
}

func (b *Backend) Receive(time.Duration) (frame.Frame, error) {
	if !b.open {
		return frame.Frame{}, backend.ErrNotOpen
	}
	return frame.Frame{}, fmt.Errorf("%w: SPI backend receive not implemented", backend.ErrTransportFault)
}

func (b *Backend) Close() error {
	if !b.open {
		return nil
	}
	b.open = false
	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}

var _ backend.Backend = (*Backend)(nil)
