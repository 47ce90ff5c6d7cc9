// Package kernelsource defines the interface the event demultiplexer
// consumes from whatever kernel-level event collaborator is wired in
// (spec §6): subscribe/unsubscribe, mute, and respond to AUTH events.
// Message lifetimes are not part of the contract: Source has no
// retain/release calls, and a Message is a plain value. The real EndpointSecurity-backed implementation is
// out of scope for this repository (spec §1 non-goals); kernelsource/simulated
// provides an in-process double that drives the same contract for tests.
package kernelsource

import (
	"context"

	"github.com/sentineledr/core/internal/model"
)

// ClientHandle is an opaque, source-issued capability representing a live
// subscription. Only the Source that created it can act on it meaningfully.
type ClientHandle struct {
	id string
}

func NewClientHandle(id string) ClientHandle { return ClientHandle{id: id} }

func (h ClientHandle) String() string { return h.id }

// Message wraps a single kernel event together with the fields the
// demultiplexer and policy engine need, plus an opaque token the AUTH
// response call must present back to the source.
type Message struct {
	Kind             model.EventKind
	PID              int32
	PPID             int32
	ResponsiblePID   int32
	ProcessPath      string
	Basename         string
	SigningID        string
	TeamID           string
	AppleSigned      bool
	IsPlatformBinary bool
	SigningFlags     uint32
	EUID             uint32
	EGID             uint32
	TargetPath       string // exec target / open target / mprotect target, kind-dependent
	Args             []string

	// RequestedFlags carries the permission mask an AUTH_OPEN caller
	// requested; an allow response echoes it back verbatim (spec §4.1).
	RequestedFlags uint32

	// Protection carries the AUTH_MPROTECT protection mask being
	// requested (spec §4.2 evaluateMprotect), bit 0x04 is PROT_EXEC.
	Protection uint32

	authToken authToken // zero value for NOTIFY messages
}

// authToken is the unforgeable capability a Source hands back with every
// AUTH message; the demultiplexer cannot construct one itself.
type authToken struct {
	valid bool
	id    uint64
}

// AuthVerdict is the allow/deny decision for events whose response ABI is
// a simple boolean (spec §6: respondAuth).
type AuthVerdict bool

const (
	VerdictDeny  AuthVerdict = false
	VerdictAllow AuthVerdict = true
)

// AuthFlags is the response ABI for events that respond with a permission
// mask rather than a boolean (spec §6: respondAuthFlags), e.g. open().
type AuthFlags uint32

// Source is the contract the event demultiplexer depends on. A real
// implementation binds to the host's kernel-event collaborator; tests use
// kernelsource/simulated.
type Source interface {
	// Subscribe begins delivering events of the given kinds to handler.
	// Cancelling ctx or calling the returned ClientHandle's owning Source's
	// Unsubscribe stops delivery.
	Subscribe(ctx context.Context, kinds []model.EventKind, handler func(Message)) (ClientHandle, error)

	// Unsubscribe stops delivery for a previously subscribed handle.
	Unsubscribe(h ClientHandle) error

	// Mute suppresses every event kind from the given process path
	// (spec §6 mute(clientHandle, path, muteKind), global tier).
	Mute(h ClientHandle, processPath string) error

	// MutePID suppresses every event kind from the given process ID.
	MutePID(h ClientHandle, pid int32) error

	// MuteEventKind suppresses only the given event kind from processes
	// whose path has the given prefix (spec §6 mute(clientHandle, path,
	// eventKind, muteKind), event-specific tier).
	MuteEventKind(h ClientHandle, kind model.EventKind, pathPrefix string) error

	// RespondAuth answers an AUTH message whose response ABI is boolean.
	// cache advises the source whether it may elide future identical
	// authorization queries for this process/path pair.
	RespondAuth(m Message, verdict AuthVerdict, cache bool) error

	// RespondAuthFlags answers an AUTH message whose response ABI is a
	// permission mask.
	RespondAuthFlags(m Message, flags AuthFlags, cache bool) error
}
