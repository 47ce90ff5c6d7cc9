//go:build darwin

package ipc

import (
	"fmt"
	"syscall"
	"unsafe"
)

const (
	// localPeerPID is the macOS-specific socket option to retrieve the
	// peer process ID, defined in <sys/un.h> as 0x002.
	localPeerPID = 0x002
)

// getPIDFromFD resolves the peer PID from a local/TCP socket using the
// macOS-specific LOCAL_PEERPID option. This is the authentication anchor
// for the IPC surface's code-signing check (spec §6): the core resolves
// the real kernel-reported peer PID rather than trusting anything the
// client claims about itself.
func getPIDFromFD(fd uintptr) (uint32, error) {
	pid := int32(0)
	pidLen := uint32(unsafe.Sizeof(pid))

	_, _, errno := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		fd,
		0, // SOL_LOCAL
		uintptr(localPeerPID),
		uintptr(unsafe.Pointer(&pid)),
		uintptr(unsafe.Pointer(&pidLen)),
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("LOCAL_PEERPID failed: %w", errno)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("LOCAL_PEERPID returned invalid pid: %d", pid)
	}
	return uint32(pid), nil
}
