//go:build !darwin && !linux

package ipc

import "fmt"

func getPIDFromFD(fd uintptr) (uint32, error) {
	return 0, fmt.Errorf("peer pid resolution is not implemented on this platform")
}
