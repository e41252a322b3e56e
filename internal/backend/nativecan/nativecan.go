//go:build linux

// Package nativecan adapts the OS raw CAN socket (SocketCAN) to the
// backend.Backend contract.
package nativecan

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// DefaultInterface is the compile-time default when no interface name is
// configured — the first CAN interface on the host.
const DefaultInterface = "can0"

// Backend drives a raw CAN socket bound to a fixed interface name.
type Backend struct {
	iface string
	fd    int
	open  bool
}

// New constructs a backend bound to iface. An empty iface uses
// DefaultInterface.
func New(iface string) *Backend {
	if iface == "" {
		iface = DefaultInterface
	}
	return &Backend{iface: iface}
}

func (b *Backend) Init() error {
	if b.open {
		return fmt.Errorf("%w: init called twice", backend.ErrInvalidArgument)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("%w: socket(AF_CAN): %v", backend.ErrTransportFault, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return fmt.Errorf("%w: disable CAN FD: %v", backend.ErrTransportFault, err)
		}
	}
	ifi, err := net.InterfaceByName(b.iface)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("%w: interface %q: %v", backend.ErrInvalidArgument, b.iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("%w: bind(can@%s): %v", backend.ErrTransportFault, b.iface, err)
	}
	b.fd = fd
	b.open = true
	return nil
}

// Send writes one classic CAN frame to the socket, translating the frame
// model's extended flag into the kernel's EFF bit in the id field.
func (b *Backend) Send(fr frame.Frame) error {
	if !b.open {
		return backend.ErrNotOpen
	}
	var buf [unix.CAN_MTU]byte
	id := fr.ID & frame.IdentifierMask
	if fr.Extended {
		id |= unix.CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	n, err := unix.Write(b.fd, buf[:])
	if err != nil {
		return fmt.Errorf("%w: write: %v", backend.ErrTransportFault, err)
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("%w: short write (%d of %d)", backend.ErrTransportFault, n, unix.CAN_MTU)
	}
	return nil
}

// Receive waits up to timeout for a single descriptor to become readable,
// then performs one blocking read. timeout == 0 polls non-blocking. Short
// reads are treated as fatal per spec.md §4.5.
func (b *Backend) Receive(timeout time.Duration) (frame.Frame, error) {
	if !b.open {
		return frame.Frame{}, backend.ErrNotOpen
	}
	ms := int(timeout / time.Millisecond)
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: poll: %v", backend.ErrTransportFault, err)
	}
	if n == 0 {
		return frame.Frame{}, backend.ErrTimeout
	}
	var buf [unix.CAN_MTU]byte
	rn, err := unix.Read(b.fd, buf[:])
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: read: %v", backend.ErrTransportFault, err)
	}
	if rn != unix.CAN_MTU {
		return frame.Frame{}, fmt.Errorf("%w: short read (%d of %d)", backend.ErrTransportFault, rn, unix.CAN_MTU)
	}
	rawID := binary.LittleEndian.Uint32(buf[0:4])
	dlc := int(buf[4])
	if dlc < 0 || dlc > frame.MaxDataLen {
		dlc = frame.MaxDataLen
	}
	var fr frame.Frame
	fr.Extended = rawID&unix.CAN_EFF_FLAG != 0
	fr.ID = rawID & frame.IdentifierMask
	fr.Len = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return fr, nil
}

func (b *Backend) Close() error {
	if !b.open {
		return nil
	}
	b.open = false
	if err := unix.Close(b.fd); err != nil {
		return fmt.Errorf("%w: close: %v", backend.ErrTransportFault, err)
	}
	return nil
}

var _ backend.Backend = (*Backend)(nil)
