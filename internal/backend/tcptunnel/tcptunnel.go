// Package tcptunnel implements the TCP-tunneled mock backend: frames are
// length-prefixed on a TCP stream for multi-container integration testing.
// It is cross-platform by construction — built on net.Conn, which maps to
// Berkeley sockets on Unix-like systems and Winsock on Windows — and
// allocates no per-frame buffers beyond the fixed-size encode/decode
// scratch arrays kept on the backend value.
package tcptunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// Backend is the tcp_tunnel backend. Server mode binds and accepts the
// first connection, ignoring later ones for the life of the context.
// Client mode connects lazily: the connection attempt completes on the
// first Send or Receive call.
type Backend struct {
	cfg Config

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	open     bool

	encBuf [LengthPrefixSize + FixedFrameSize]byte
	decBuf [LengthPrefixSize + FixedFrameSize]byte
}

// New constructs a tcp_tunnel backend from cfg, resolving any unset field
// from the environment (spec.md §6). Explicit cfg fields always win.
func New(cfg Config) *Backend {
	return &Backend{cfg: ResolveConfig(cfg)}
}

func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return fmt.Errorf("%w: init called twice", backend.ErrInvalidArgument)
	}
	addr := net.JoinHostPort(b.cfg.Host, fmt.Sprint(b.cfg.Port))
	if b.cfg.Server {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("%w: listen %s: %v", backend.ErrTransportFault, addr, err)
		}
		b.listener = ln
	}
	// Client mode connects lazily on first Send/Receive.
	b.open = true
	return nil
}

// ensureConnected establishes the connection if not already present,
// bounded by timeout. Server mode accepts the first incoming connection
// (subsequent connections are never accepted); client mode dials.
func (b *Backend) ensureConnected(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return backend.ErrNotOpen
	}
	if b.conn != nil {
		return nil
	}
	if b.cfg.Server {
		if b.listener == nil {
			return backend.ErrNotOpen
		}
		tl, ok := b.listener.(*net.TCPListener)
		if ok {
			deadline := time.Now().Add(timeout)
			if timeout <= 0 {
				deadline = time.Now().Add(time.Millisecond)
			}
			_ = tl.SetDeadline(deadline)
		}
		conn, err := b.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return backend.ErrTimeout
			}
			return fmt.Errorf("%w: accept: %v", backend.ErrTransportFault, err)
		}
		b.conn = conn
		return nil
	}
	addr := net.JoinHostPort(b.cfg.Host, fmt.Sprint(b.cfg.Port))
	dialTimeout := timeout
	if dialTimeout <= 0 {
		dialTimeout = time.Millisecond
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return backend.ErrTimeout
		}
		return fmt.Errorf("%w: dial %s: %v", backend.ErrTransportFault, addr, err)
	}
	b.conn = conn
	return nil
}

// Send hands one frame to the transport. A short write is fatal per
// spec.md §4.4.
func (b *Backend) Send(fr frame.Frame) error {
	if err := b.ensureConnected(0); err != nil {
		if errors.Is(err, backend.ErrTimeout) {
			return backend.ErrBackpressure
		}
		return err
	}
	b.mu.Lock()
	conn := b.conn
	putLengthPrefix(b.encBuf[:LengthPrefixSize])
	if err := encodeFrame(b.encBuf[LengthPrefixSize:], fr); err != nil {
		b.mu.Unlock()
		return err
	}
	buf := b.encBuf
	b.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	n, err := conn.Write(buf[:])
	if err != nil {
		return fmt.Errorf("%w: write: %v", backend.ErrTransportFault, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short write (%d of %d)", backend.ErrTransportFault, n, len(buf))
	}
	return nil
}

// Receive waits up to timeout for one inbound frame. A length-prefix
// mismatch is treated as stream corruption: the connection is closed and
// a fatal error returned, per spec.md §4.4/§6.
func (b *Backend) Receive(timeout time.Duration) (frame.Frame, error) {
	if err := b.ensureConnected(timeout); err != nil {
		return frame.Frame{}, err
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return frame.Frame{}, backend.ErrTimeout
	}

	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Now().Add(time.Millisecond)
	}
	_ = conn.SetReadDeadline(deadline)

	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return frame.Frame{}, backend.ErrTimeout
		}
		return frame.Frame{}, fmt.Errorf("%w: read length: %v", backend.ErrTransportFault, err)
	}
	length := uint32(lenBuf[0])<<24 | uint32(lenBuf[1])<<16 | uint32(lenBuf[2])<<8 | uint32(lenBuf[3])
	if length != FixedFrameSize {
		_ = conn.Close()
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		return frame.Frame{}, fmt.Errorf("%w: length prefix %d != %d, stream corrupted", backend.ErrInvalidFrame, length, FixedFrameSize)
	}

	var payload [FixedFrameSize]byte
	if _, err := io.ReadFull(conn, payload[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return frame.Frame{}, backend.ErrTimeout
		}
		return frame.Frame{}, fmt.Errorf("%w: read payload: %v", backend.ErrTransportFault, err)
	}
	return decodeFrame(payload[:])
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	b.open = false
	var errs []error
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		b.conn = nil
	}
	if b.listener != nil {
		if err := b.listener.Close(); err != nil {
			errs = append(errs, err)
		}
		b.listener = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", backend.ErrTransportFault, errors.Join(errs...))
	}
	return nil
}

// Addr returns the bound listener address in server mode, for tests that
// need to dial back in (e.g. S6's loop scenario). It returns "" in client
// mode or before Init.
func (b *Backend) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

var _ backend.Backend = (*Backend)(nil)
