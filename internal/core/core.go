// Package core owns the one piece of state every protocol layer shares:
// the node's own address and the selected backend.
package core

import (
	"fmt"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// Context owns {node_address, backend}. It is constructed once per
// logical task, lives for the duration of the owning process/task, and is
// destroyed via Close, which releases backend resources.
type Context struct {
	address frame.Address
	be      backend.Backend
	closed  bool
}

// New validates addr and calls be.Init(). The address must not exceed
// frame.MaxAddress.
func New(addr frame.Address, be backend.Backend) (*Context, error) {
	if err := addr.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidArgument, err)
	}
	if err := be.Init(); err != nil {
		return nil, err
	}
	return &Context{address: addr, be: be}, nil
}

// Address returns this context's own node address.
func (c *Context) Address() frame.Address { return c.address }

// Backend exposes the underlying transport for protocol layers built on
// top of this context.
func (c *Context) Backend() backend.Backend { return c.be }

// Send hands fr to the backend, failing with backend.ErrNotOpen once this
// context has been closed.
func (c *Context) Send(fr frame.Frame) error {
	if c.closed {
		return backend.ErrNotOpen
	}
	return c.be.Send(fr)
}

// Receive waits up to timeout for one inbound frame. Frames carrying a
// base (non-extended) identifier, or a protocol class outside the five
// valid patterns, are ignored here per spec.md's dispatcher contract and
// never reach a protocol layer's unpackID.
func (c *Context) Receive(timeout time.Duration) (frame.Frame, error) {
	if c.closed {
		return frame.Frame{}, backend.ErrNotOpen
	}
	if timeout <= 0 {
		fr, err := c.be.Receive(timeout)
		if err != nil {
			return frame.Frame{}, err
		}
		if _, ok := GetProtocol(fr); !ok {
			return frame.Frame{}, backend.ErrTimeout
		}
		return fr, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return frame.Frame{}, backend.ErrTimeout
		}
		fr, err := c.be.Receive(remaining)
		if err != nil {
			return frame.Frame{}, err
		}
		if _, ok := GetProtocol(fr); !ok {
			continue
		}
		return fr, nil
	}
}

// Close releases backend resources. It is idempotent.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.be.Close()
}

// GetProtocol dispatches a frame to its protocol class. Every protocol
// layer performs its own packing and parsing; this is only the shared
// routing helper. A base (non-extended) identifier never carries a valid
// protocol class on this bus and is rejected before the id is decoded.
func GetProtocol(fr frame.Frame) (frame.Class, bool) {
	if !fr.Extended {
		return frame.Class(0xFF), false
	}
	return frame.GetProtocol(fr.ID)
}
