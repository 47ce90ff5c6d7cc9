// Package history implements the History Store (spec §4.3): two
// independent fixed-capacity rings (process lifecycle events, security
// events) plus a ProcessTable mutated only by the single NOTIFY worker.
package history

import (
	"log/slog"
	"sync"

	"github.com/sentineledr/core/internal/model"
	"github.com/sentineledr/core/internal/ring"
)

// Store is the History Store. ProcessTable access is guarded by its own
// lock, independent of the two ring buffers, so a reader enumerating
// processes never blocks an append to either ring.
type Store struct {
	processRing  *ring.Buffer[model.ProcessLifecycleEvent]
	securityRing *ring.Buffer[model.SecurityEvent]

	tableMu sync.RWMutex
	table   map[int32]model.ProcessRecord

	log *slog.Logger
}

func New(processCap, securityCap int) *Store {
	return &Store{
		processRing:  ring.New[model.ProcessLifecycleEvent](processCap),
		securityRing: ring.New[model.SecurityEvent](securityCap),
		table:        make(map[int32]model.ProcessRecord),
		log:          slog.With("component", "history"),
	}
}

// Seed populates the ProcessTable at startup from an external enumeration
// (e.g. a snapshot of already-running processes) without holding the
// table lock during the (potentially slow) enumeration itself: the caller
// builds the full slice first, then Seed takes the lock only to install it.
func (s *Store) Seed(records []model.ProcessRecord) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	for _, r := range records {
		s.table[r.PID] = r
	}
}

// RecordFork inserts a new ProcessRecord and appends a fork lifecycle
// event. Called only from the single NOTIFY worker goroutine.
func (s *Store) RecordFork(rec model.ProcessRecord, evt model.ProcessLifecycleEvent) uint64 {
	s.tableMu.Lock()
	s.table[rec.PID] = rec
	s.tableMu.Unlock()
	return s.processRing.Append(evt)
}

// RecordExit removes a ProcessRecord and appends an exit lifecycle event.
// Called only from the single NOTIFY worker goroutine.
func (s *Store) RecordExit(pid int32, evt model.ProcessLifecycleEvent) uint64 {
	s.tableMu.Lock()
	delete(s.table, pid)
	s.tableMu.Unlock()
	return s.processRing.Append(evt)
}

// AppendSecurityEvent appends to the security ring and returns its
// assigned sequence number.
func (s *Store) AppendSecurityEvent(evt model.SecurityEvent) uint64 {
	return s.securityRing.Append(evt)
}

// Process looks up a single process by PID.
func (s *Store) Process(pid int32) (model.ProcessRecord, bool) {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	r, ok := s.table[pid]
	return r, ok
}

// Processes returns a snapshot of every currently tracked process.
func (s *Store) Processes() []model.ProcessRecord {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	out := make([]model.ProcessRecord, 0, len(s.table))
	for _, r := range s.table {
		out = append(out, r)
	}
	return out
}

// ProcessCount returns the number of live tracked processes.
func (s *Store) ProcessCount() int {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	return len(s.table)
}

// SecurityEventsSince implements the spec §4.3/§6 delta-fetch contract:
// eventsSince(sinceSeq, limit) -> (newCursor, events). limit <= 0 means
// unlimited. If the requested cursor has already fallen out of the ring,
// a gap is logged and the oldest retained events are returned instead of
// an error (spec §7 propagation policy: degrade rather than fail the
// call).
func (s *Store) SecurityEventsSince(after uint64, limit int) (events []model.SecurityEvent, newCursor uint64) {
	events, newCursor, gap := s.securityRing.Since(after, limit)
	if gap {
		oldest, _ := s.securityRing.OldestSeq()
		s.log.Warn("security ring gap detected", "requested_after", after, "oldest_retained", oldest, "gap_size", oldest-after)
	}
	return events, newCursor
}

// ProcessEventsSince returns process lifecycle events with sequence
// number greater than `after`, with the same gap-tolerant, cursor/limit
// semantics as SecurityEventsSince.
func (s *Store) ProcessEventsSince(after uint64, limit int) (events []model.ProcessLifecycleEvent, newCursor uint64) {
	events, newCursor, gap := s.processRing.Since(after, limit)
	if gap {
		oldest, _ := s.processRing.OldestSeq()
		s.log.Warn("process ring gap detected", "requested_after", after, "oldest_retained", oldest, "gap_size", oldest-after)
	}
	return events, newCursor
}

func (s *Store) LatestSecuritySeq() uint64 { return s.securityRing.LatestSeq() }
func (s *Store) LatestProcessSeq() uint64  { return s.processRing.LatestSeq() }
