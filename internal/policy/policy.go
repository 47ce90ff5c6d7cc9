// Package policy implements the stateless decision engine (spec §4.2):
// evaluateExec, evaluateMprotect and evaluateOpen each map a kernel event
// plus the currently active BlocklistSnapshot to a Decision, honoring the
// AuditMode override (observe-only, never deny).
package policy

import (
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sentineledr/core/internal/kernelsource"
	"github.com/sentineledr/core/internal/model"
)

// Decision is the result of a single policy evaluation. It never carries
// mutable state of its own; Engine is the only stateful piece, and its
// state is limited to the atomically-swapped blocklist snapshot and the
// audit-mode flag. Cache advises the kernel source whether it may elide
// future identical authorization queries for this process/path pair
// (spec §3, §4.2 "cache hint is forwarded to the response").
type Decision struct {
	Allow  bool
	Reason string
	Cache  bool
	Fields map[string]string
}

// csValid is the CS_VALID code-signing flag bit: when unset, the binary's
// signature (if any) failed validation at exec time, so it is treated as
// unsigned for policy purposes (spec §4.2 step 3).
const csValid uint32 = 0x00000001

// protExecute is the PROT_EXEC bit of an mprotect protection mask (spec
// §4.2 evaluateMprotect).
const protExecute uint32 = 0x04

// suspiciousExecPrefixes and suspiciousExecSubstrings gate
// unsigned_suspicious_path in evaluateExec (spec §4.2 step 3, glossary
// "credential-sensitive path" sibling definition for exec staging areas).
var suspiciousExecPrefixes = []string{"/tmp/", "/var/tmp/", "/private/tmp/", "/private/var/tmp/"}
var suspiciousExecSubstrings = []string{"/Downloads/", "/.Trash/"}

// trustedExecPrefixes gates unsigned_unusual_path in evaluateExec (spec
// §4.2 step 4): paths under these prefixes are never flagged merely for
// being unsigned.
var trustedExecPrefixes = []string{"/Applications/", "/System/", "/usr/", "/Library/"}

// jitAllowedBasenames is the JIT allowlist consulted by evaluateMprotect
// (spec §4.2, glossary "JIT allowlist"): processes legitimately mapping
// writable+executable pages for their own just-in-time compilers.
var jitAllowedBasenames = map[string]struct{}{
	"jsc":                 {}, // WebKit/JavaScriptCore
	"webcontent":          {}, // WebKit web content process
	"chrome":              {},
	"chrome_crashpad_handler": {},
	"renderer":            {}, // Chromium renderer helper
	"firefox":             {},
	"plugin-container":    {},
	"node":                {},
	"deno":                {},
	"bun":                 {},
	"qemu-system-x86_64":  {},
	"qemu-system-aarch64": {},
}

// credentialFileBasenames is the enumerated set of literal credential
// file basenames evaluateOpen treats as credential-sensitive, beyond the
// id_*/.ssh and private-*/.gnupg pattern rules (spec §4.2 evaluateOpen,
// glossary "credential-sensitive path").
var credentialFileBasenames = map[string]struct{}{
	"master.passwd":     {},
	"shadow":            {},
	"login.keychain-db": {},
	"login.keychain":    {},
	"id_rsa":            {},
	"id_ed25519":        {},
	"id_ecdsa":          {},
	"known_hosts":       {},
}

// credentialConsumerAllowlist and trustedConsumerPrefixes gate
// evaluateOpen's allow-for-legitimate-consumer step (spec §4.2
// evaluateOpen, glossary "trusted prefix"): a process name in this set,
// running from a trusted install location, may open credential-sensitive
// paths without tripping credential_theft.
var credentialConsumerAllowlist = map[string]struct{}{
	"Safari":       {},
	"ssh":          {},
	"ssh-agent":    {},
	"gpg":          {},
	"gpg-agent":    {},
	"security":     {},
	"securityd":    {},
	"opendirectoryd": {},
	"Keychain Access": {},
}

var trustedConsumerPrefixes = []string{
	"/Applications/", "/System/Applications/", "/usr/bin/", "/usr/sbin/",
	"/usr/libexec/", "/Library/Application Support/",
}

// Clock is a seam over time.Now so audit-mode timing decisions are
// deterministically testable.
type Clock func() time.Time

// Engine is the Policy Engine. It holds no per-request state: Evaluate*
// calls are pure functions of (message, current snapshot, current audit
// mode).
type Engine struct {
	snapshot  atomic.Pointer[model.BlocklistSnapshot]
	auditMode atomic.Bool
	clock     Clock
}

// New creates an Engine seeded with an empty blocklist and the given
// default audit mode (spec §6: defaults to true/audit when unset in the
// external key-value config service).
func New(defaultAuditMode bool) *Engine {
	e := &Engine{clock: time.Now}
	e.snapshot.Store(model.NewBlocklistSnapshot(0, nil, nil, nil))
	e.auditMode.Store(defaultAuditMode)
	return e
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(c Clock) { e.clock = c }

// SwapBlocklist atomically replaces the active blocklist snapshot.
// In-flight evaluations observe either the old or the new snapshot in
// full, never a partially updated one.
func (e *Engine) SwapBlocklist(s *model.BlocklistSnapshot) {
	e.snapshot.Store(s)
}

func (e *Engine) Blocklist() *model.BlocklistSnapshot {
	return e.snapshot.Load()
}

func (e *Engine) AuditMode() bool     { return e.auditMode.Load() }
func (e *Engine) SetAuditMode(v bool) { e.auditMode.Store(v) }

// EvaluateExec implements spec §4.2's exec evaluation:
//  1. platform binaries are always allowed.
//  2. Apple-signed binaries under /System/ or /usr/ are always allowed.
//  3. unsigned binaries launching from a suspicious staging path are denied.
//  4. unsigned binaries outside the conventional install directories are
//     allowed but flagged, so the Detection Engine can correlate on them.
//  5. the active blocklist (paths, team ids, signing ids) is consulted.
//  6. anything left is the default allow.
func (e *Engine) EvaluateExec(m kernelsource.Message) Decision {
	if m.IsPlatformBinary {
		return Decision{Allow: true, Reason: "platform_binary", Cache: true}
	}
	if m.AppleSigned && hasAnyPrefix(m.TargetPath, "/System/", "/usr/") {
		return Decision{Allow: true, Reason: "apple_system", Cache: true}
	}

	unsigned := m.SigningFlags&csValid == 0
	if unsigned && isSuspiciousExecPath(m.TargetPath) {
		return e.auditOverride(Decision{
			Allow: false, Reason: "unsigned_suspicious_path", Cache: false,
			Fields: execFields("unsigned_suspicious_path", m),
		})
	}
	if unsigned && !hasAnyPrefix(m.TargetPath, trustedExecPrefixes...) {
		return Decision{Allow: true, Reason: "unsigned_unusual_path", Cache: false, Fields: execFields("unsigned_unusual_path", m)}
	}

	bl := e.snapshot.Load()
	if bl.HasPath(m.TargetPath) {
		return e.auditOverride(Decision{Allow: false, Reason: "blocked_path", Cache: true, Fields: execFields("blocked_path", m)})
	}
	if bl.HasTeamID(m.TeamID) {
		return e.auditOverride(Decision{Allow: false, Reason: "blocked_team_id", Cache: true, Fields: execFields("blocked_team_id", m)})
	}
	if bl.HasSigningID(m.SigningID) {
		return e.auditOverride(Decision{Allow: false, Reason: "blocked_signing_id", Cache: true, Fields: execFields("blocked_signing_id", m)})
	}

	return Decision{Allow: true, Reason: "default_allow", Cache: true}
}

// EvaluateMprotect implements spec §4.2's mprotect evaluation: deny a
// write+execute transition unless the process is a platform binary, lives
// under a system library path, or is a known JIT-compiling process.
func (e *Engine) EvaluateMprotect(m kernelsource.Message) Decision {
	if m.Protection&protExecute == 0 {
		return Decision{Allow: true, Reason: "not_executable_mapping", Cache: true}
	}
	if m.IsPlatformBinary {
		return Decision{Allow: true, Reason: "platform_binary", Cache: true}
	}
	if hasAnyPrefix(m.ProcessPath, "/System/", "/usr/lib/") {
		return Decision{Allow: true, Reason: "system_library_path", Cache: true}
	}
	if _, ok := jitAllowedBasenames[filepath.Base(m.ProcessPath)]; ok {
		return Decision{Allow: true, Reason: "jit_allowlisted", Cache: true}
	}
	return e.auditOverride(Decision{
		Allow: false, Reason: "deny_wx", Cache: false,
		Fields: map[string]string{"policy": "deny_wx", "path": m.ProcessPath, "signing_id": m.SigningID},
	})
}

// EvaluateOpen implements spec §4.2's open evaluation: deny opens of
// credential-sensitive paths unless the opener is a platform/Apple-signed
// binary or a known credential consumer running from a trusted prefix.
func (e *Engine) EvaluateOpen(m kernelsource.Message) Decision {
	if m.IsPlatformBinary || m.AppleSigned {
		return Decision{Allow: true, Reason: "platform_or_apple", Cache: true}
	}
	if !isCredentialSensitivePath(m.TargetPath) {
		return Decision{Allow: true, Reason: "non_credential", Cache: true}
	}

	name := filepath.Base(m.ProcessPath)
	if _, allowedName := credentialConsumerAllowlist[name]; allowedName && hasAnyPrefix(m.ProcessPath, trustedConsumerPrefixes...) {
		return Decision{Allow: true, Reason: "trusted_credential_consumer", Cache: true}
	}

	return e.auditOverride(Decision{
		Allow: false, Reason: "credential_theft", Cache: false,
		Fields: map[string]string{
			"policy": "credential_theft", "path": m.TargetPath,
			"process_name": name, "process_path": m.ProcessPath,
		},
	})
}

// auditOverride applies the spec §4.2 audit-mode override: a raw deny
// becomes an effective allow with cache=false, and the raw policy reason
// is preserved in Fields so it still surfaces in the emitted security
// event (spec §8 scenario 2: "security event detail contains
// policy=<reason> allow=true").
func (e *Engine) auditOverride(d Decision) Decision {
	if d.Allow || !e.auditMode.Load() {
		return d
	}
	fields := d.Fields
	if fields == nil {
		fields = map[string]string{"policy": d.Reason}
	}
	fields["audit_mode"] = "true"
	fields["allow"] = "true"
	return Decision{Allow: true, Reason: "audit_mode_override:" + d.Reason, Cache: false, Fields: fields}
}

func execFields(reason string, m kernelsource.Message) map[string]string {
	return map[string]string{
		"policy": reason, "path": m.TargetPath, "signing_id": m.SigningID, "team_id": m.TeamID,
	}
}

func isSuspiciousExecPath(path string) bool {
	if hasAnyPrefix(path, suspiciousExecPrefixes...) {
		return true
	}
	for _, sub := range suspiciousExecSubstrings {
		if strings.Contains(path, sub) {
			return true
		}
	}
	return false
}

// isCredentialSensitivePath implements the spec §4.2 evaluateOpen
// credential-sensitivity test: an enumerated basename, or an SSH private
// key (id_* under a .ssh directory), or a GnuPG private key (private-*
// under a .gnupg directory).
func isCredentialSensitivePath(path string) bool {
	base := filepath.Base(path)
	if _, ok := credentialFileBasenames[base]; ok {
		return true
	}
	if strings.HasPrefix(base, "id_") && strings.HasSuffix(path, "/.ssh/"+base) {
		return true
	}
	if strings.HasPrefix(base, "private-") && strings.HasSuffix(path, "/.gnupg/"+base) {
		return true
	}
	return false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
