//go:build !linux

package main

import (
	"fmt"

	"github.com/artie-robotics/can-stack/internal/backend"
)

func newNativeCANBackend(iface string) (backend.Backend, error) {
	return nil, fmt.Errorf("%w: native_can backend requires linux", backend.ErrTransportFault)
}
