// Package ipc implements the consumer-facing remote-object surface (spec
// §6): a REST/JSON API plus a websocket push channel, gated by a
// code-signing requirement check on the connecting peer process.
package ipc

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// CodeSignRequirement names the signing identity a connecting consumer
// process must satisfy (spec §6: "a specified code-signing requirement").
type CodeSignRequirement struct {
	TeamID    string
	SigningID string
}

// CodeSignVerifier resolves a process's code-signing identity from its
// PID. The implementation in this package, HistoryVerifier, reads the
// identity recorded in the History Store's ProcessTable; it is injected
// so tests can supply a fake.
type CodeSignVerifier interface {
	VerifyProcess(pid uint32, req CodeSignRequirement) (bool, error)
}

// PeerVerifier resolves the connecting peer's PID from its socket and
// checks it against a CodeSignRequirement before a connection is
// admitted, grounded on the teacher's PID-to-identity socket resolution.
type PeerVerifier struct {
	verifier CodeSignVerifier
	req      CodeSignRequirement
}

func NewPeerVerifier(v CodeSignVerifier, req CodeSignRequirement) *PeerVerifier {
	return &PeerVerifier{verifier: v, req: req}
}

// VerifyConn resolves the peer PID from a just-accepted connection and
// checks its code-signing identity. Returns the resolved PID on success.
func (p *PeerVerifier) VerifyConn(conn net.Conn) (uint32, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return 0, fmt.Errorf("connection is not TCP, cannot resolve peer PID")
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("cannot get raw connection: %w", err)
	}

	var pid uint32
	var controlErr error
	err = rawConn.Control(func(fd uintptr) {
		pid, controlErr = getPIDFromFD(fd)
	})
	if err != nil {
		return 0, fmt.Errorf("rawConn.Control failed: %w", err)
	}
	if controlErr != nil {
		return 0, fmt.Errorf("peer pid resolution failed: %w", controlErr)
	}

	ok, err = p.verifier.VerifyProcess(pid, p.req)
	if err != nil {
		return 0, fmt.Errorf("code-signing verification failed: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("peer pid %d does not satisfy code-signing requirement", pid)
	}

	slog.Debug("ipc: peer verified", "pid", pid)
	return pid, nil
}

// ConnStateHook is installed as an http.Server's ConnState callback so
// every new connection is verified exactly once, at accept time, rather
// than per-request.
func (p *PeerVerifier) ConnStateHook(verifiedPIDs *sync.Map) func(net.Conn, http.ConnState) {
	return func(conn net.Conn, state http.ConnState) {
		if state != http.StateNew {
			return
		}
		pid, err := p.VerifyConn(conn)
		if err != nil {
			slog.Warn("ipc: rejecting unverified peer", "remote_addr", conn.RemoteAddr(), "error", err)
			conn.Close()
			return
		}
		verifiedPIDs.Store(conn.RemoteAddr().String(), pid)
	}
}
