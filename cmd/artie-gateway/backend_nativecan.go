//go:build linux

package main

import (
	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/backend/nativecan"
)

func newNativeCANBackend(iface string) (backend.Backend, error) {
	return nativecan.New(iface), nil
}
