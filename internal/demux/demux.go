// Package demux implements the Event Demultiplexer (spec §4.1): a state
// machine over {new, started, subscribed, running, stopping, stopped}
// that synchronously evaluates AUTH events against the Policy Engine and
// hands NOTIFY events to a single serial worker that mutates the History
// Store.
package demux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentineledr/core/internal/history"
	"github.com/sentineledr/core/internal/kernelsource"
	"github.com/sentineledr/core/internal/model"
	"github.com/sentineledr/core/internal/policy"
)

// State is the demultiplexer's lifecycle state.
type State int

const (
	StateNew State = iota
	StateStarted
	StateSubscribed
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarted:
		return "started"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AlertSink receives a SecurityEvent the moment it is appended to the
// History Store, so the Detection Engine can evaluate single-event rules
// and advance correlation state without polling.
type AlertSink interface {
	OnSecurityEvent(model.SecurityEvent)
	OnProcessLifecycle(model.ProcessLifecycleEvent)
}

// Demultiplexer wires a kernelsource.Source to the Policy Engine and
// History Store.
type Demultiplexer struct {
	source  kernelsource.Source
	policy  *policy.Engine
	history *history.Store
	sink    AlertSink

	mu    sync.Mutex
	state State
	handle kernelsource.ClientHandle

	notifyCh chan kernelsource.Message
	stopCh   chan struct{}
	wg       sync.WaitGroup

	authResponses uint64
	notifyCount   uint64
	queueDepth    atomic.Int64

	log *slog.Logger
}

func New(source kernelsource.Source, pe *policy.Engine, hs *history.Store, sink AlertSink) *Demultiplexer {
	return &Demultiplexer{
		source:   source,
		policy:   pe,
		history:  hs,
		sink:     sink,
		state:    StateNew,
		notifyCh: make(chan kernelsource.Message, 1024),
		stopCh:   make(chan struct{}),
		log:      slog.With("component", "demux"),
	}
}

func (d *Demultiplexer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

var ErrWrongState = errors.New("demux: operation invalid in current state")

// Start transitions new -> started, subscribes to the kernel event
// source transitioning started -> subscribed -> running, and launches the
// single NOTIFY worker goroutine.
func (d *Demultiplexer) Start(ctx context.Context, kinds []model.EventKind) error {
	d.mu.Lock()
	if d.state != StateNew {
		d.mu.Unlock()
		return fmt.Errorf("%w: Start requires new, got %s", ErrWrongState, d.state)
	}
	d.state = StateStarted
	d.mu.Unlock()

	handle, err := d.source.Subscribe(ctx, kinds, d.handleMessage)
	if err != nil {
		d.mu.Lock()
		d.state = StateStopped
		d.mu.Unlock()
		return fmt.Errorf("demux: subscribe failed: %w", err)
	}

	d.mu.Lock()
	d.handle = handle
	d.state = StateSubscribed
	d.state = StateRunning
	d.mu.Unlock()

	// Self-muting: the core must mute its own process id against the
	// kernel source immediately after client creation, so its own file
	// and exec activity never recurses back through the pipeline it is
	// monitoring (spec §4.3 "Muting").
	if err := d.source.MutePID(handle, int32(os.Getpid())); err != nil {
		d.log.Warn("self-mute failed", "error", err)
	}

	d.wg.Add(1)
	go d.notifyWorker()

	d.log.Info("demultiplexer running")
	return nil
}

// ApplyMuteSet forwards a MuteSet's suppression rules to the kernel event
// source (spec §4.3 "Muting"): global mutes suppress every event kind from
// a matching process, and event-specific rules suppress only the named
// kind for processes under the rule's path prefix. GlobalPaths and
// GlobalPrefixes are both passed to Source.Mute, which takes a literal
// process path, so a GlobalPrefixes entry mutes only a process whose path
// equals it, not every path that starts with it. Demultiplexer is the practical home for this
// (rather than the History Store, where spec §4.3 frames the concept)
// because it alone holds the live Source and ClientHandle the mute calls
// are issued against.
func (d *Demultiplexer) ApplyMuteSet(set model.MuteSet) error {
	d.mu.Lock()
	handle := d.handle
	d.mu.Unlock()

	for _, path := range set.GlobalPaths {
		if err := d.source.Mute(handle, path); err != nil {
			return fmt.Errorf("demux: mute path %q: %w", path, err)
		}
	}
	for _, prefix := range set.GlobalPrefixes {
		if err := d.source.Mute(handle, prefix); err != nil {
			return fmt.Errorf("demux: mute prefix %q: %w", prefix, err)
		}
	}
	for _, rule := range set.EventRules {
		if err := d.source.MuteEventKind(handle, rule.Kind, rule.Prefix); err != nil {
			return fmt.Errorf("demux: mute event kind %q for %q: %w", rule.Kind, rule.Prefix, err)
		}
	}
	return nil
}

// Stop transitions running -> stopping -> stopped: unsubscribes from the
// source and drains the NOTIFY worker.
func (d *Demultiplexer) Stop() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return fmt.Errorf("%w: Stop requires running, got %s", ErrWrongState, d.state)
	}
	d.state = StateStopping
	handle := d.handle
	d.mu.Unlock()

	if err := d.source.Unsubscribe(handle); err != nil {
		d.log.Warn("unsubscribe failed", "error", err)
	}
	close(d.stopCh)
	d.wg.Wait()

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	d.log.Info("demultiplexer stopped")
	return nil
}

// handleMessage is invoked synchronously by the kernel event source. AUTH
// events are evaluated and answered before returning; NOTIFY events are
// handed to the serial worker queue.
func (d *Demultiplexer) handleMessage(m kernelsource.Message) {
	if m.Kind.IsAuth() {
		d.handleAuth(m)
		return
	}

	select {
	case d.notifyCh <- m:
		d.queueDepth.Add(1)
	default:
		d.log.Warn("notify queue full, dropping event", "kind", m.Kind, "pid", m.PID)
	}
}

func (d *Demultiplexer) handleAuth(m kernelsource.Message) {
	start := time.Now()
	var decision policy.Decision

	switch m.Kind {
	case model.KindExec:
		decision = d.policy.EvaluateExec(m)
	case model.KindMprotect:
		decision = d.policy.EvaluateMprotect(m)
	case model.KindOpen:
		decision = d.policy.EvaluateOpen(m)
	default:
		// Unknown AUTH kind: fail open per spec §7 (never block on an
		// unrecognized event type), but record it so the gap is visible.
		decision = policy.Decision{Allow: true, Reason: "unhandled_auth_kind"}
	}

	if m.Kind == model.KindOpen {
		// Allow passes through exactly the flags the caller requested
		// (spec §4.1); deny answers with no permissions granted.
		flags := kernelsource.AuthFlags(0)
		if decision.Allow {
			flags = kernelsource.AuthFlags(m.RequestedFlags)
		}
		_ = d.source.RespondAuthFlags(m, flags, decision.Cache)
	} else {
		_ = d.source.RespondAuth(m, kernelsource.AuthVerdict(decision.Allow), decision.Cache)
	}

	atomic.AddUint64(&d.authResponses, 1)

	// The detail string carries the raw policy reason and the effective
	// verdict, so an audit-mode override still shows the deny it replaced.
	detail := ""
	if p, ok := decision.Fields["policy"]; ok {
		detail = fmt.Sprintf("policy=%s allow=%t", p, decision.Allow)
	}

	evt := model.SecurityEvent{
		ID:          uuid.NewString(),
		Kind:        m.Kind,
		PID:         m.PID,
		ProcessPath: m.ProcessPath,
		SigningID:   m.SigningID,
		TargetPath:  m.TargetPath,
		Allowed:     decision.Allow,
		Reason:      decision.Reason,
		Detail:      detail,
		Fields:      decision.Fields,
		Timestamp:   time.Now(),
	}
	evt.Seq = d.history.AppendSecurityEvent(evt)
	if d.sink != nil {
		d.sink.OnSecurityEvent(evt)
	}

	d.log.Debug("auth decision", "kind", m.Kind, "pid", m.PID, "allow", decision.Allow, "latency", time.Since(start))
}

// notifyWorker is the single serial consumer of NOTIFY events; it is the
// only goroutine permitted to mutate the ProcessTable.
func (d *Demultiplexer) notifyWorker() {
	defer d.wg.Done()
	for {
		select {
		case m := <-d.notifyCh:
			d.queueDepth.Add(-1)
			d.processNotify(m)
		case <-d.stopCh:
			// Drain remaining queued events before exiting.
			for {
				select {
				case m := <-d.notifyCh:
					d.queueDepth.Add(-1)
					d.processNotify(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Demultiplexer) processNotify(m kernelsource.Message) {
	atomic.AddUint64(&d.notifyCount, 1)
	now := time.Now()

	switch m.Kind {
	case model.KindFork:
		rec := model.ProcessRecord{
			PID: m.PID, PPID: m.PPID, ResponsiblePID: m.ResponsiblePID,
			Path: m.ProcessPath, Basename: m.Basename,
			SigningID: m.SigningID, TeamID: m.TeamID, AppleSigned: m.AppleSigned,
			IsPlatformBinary: m.IsPlatformBinary, SigningFlags: m.SigningFlags,
			EUID: m.EUID, EGID: m.EGID,
			Args: m.Args, StartedAt: now,
		}
		evt := model.ProcessLifecycleEvent{Kind: model.KindFork, PID: m.PID, PPID: m.PPID, Timestamp: now}
		evt.Seq = d.history.RecordFork(rec, evt)
		if d.sink != nil {
			d.sink.OnProcessLifecycle(evt)
		}
	case model.KindExit:
		evt := model.ProcessLifecycleEvent{Kind: model.KindExit, PID: m.PID, PPID: m.PPID, Timestamp: now}
		evt.Seq = d.history.RecordExit(m.PID, evt)
		if d.sink != nil {
			d.sink.OnProcessLifecycle(evt)
		}
	default:
		// Other NOTIFY kinds (rename, unlink, ...) are observed as
		// security events without a policy evaluation — no AUTH ABI to
		// answer.
		se := model.SecurityEvent{
			ID: uuid.NewString(), Kind: m.Kind, PID: m.PID, ProcessPath: m.ProcessPath,
			SigningID: m.SigningID, TargetPath: m.TargetPath, Allowed: true,
			Reason: "observed", Timestamp: now,
		}
		se.Seq = d.history.AppendSecurityEvent(se)
		if d.sink != nil {
			d.sink.OnSecurityEvent(se)
		}
	}
}

// Stats exposes counters for internal/metrics.
type Stats struct {
	AuthResponses uint64
	NotifyCount   uint64
	QueueDepth    int64
	State         string
}

func (d *Demultiplexer) Stats() Stats {
	return Stats{
		AuthResponses: atomic.LoadUint64(&d.authResponses),
		NotifyCount:   atomic.LoadUint64(&d.notifyCount),
		QueueDepth:    d.queueDepth.Load(),
		State:         d.State().String(),
	}
}
