//go:build linux

package ipc

import (
	"fmt"
	"syscall"
)

// getPIDFromFD resolves the peer PID from a local/TCP socket using the
// Linux SO_PEERCRED option, kept for development and CI on non-macOS
// hosts; the production target for this requirement is macOS (see
// auth_darwin.go).
func getPIDFromFD(fd uintptr) (uint32, error) {
	ucred, err := syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	if err != nil {
		return 0, fmt.Errorf("SO_PEERCRED failed: %w", err)
	}
	return uint32(ucred.Pid), nil
}
