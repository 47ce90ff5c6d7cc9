package detection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sentineledr/core/internal/model"
)

// CorrelationKeyKind is the closed set of correlation-key sources spec
// §4.4 allows: pid, processPath, signingId.
type CorrelationKeyKind int

const (
	KeyPID CorrelationKeyKind = iota
	KeyProcessPath
	KeySigningID
)

func correlationKeyValue(kind CorrelationKeyKind, evt model.SecurityEvent) (string, bool) {
	switch kind {
	case KeyPID:
		return itoa(int64(evt.PID)), true
	case KeyProcessPath:
		if evt.ProcessPath == "" {
			return "", false
		}
		return evt.ProcessPath, true
	case KeySigningID:
		// Fall back to processPath when the event has no signing id, so
		// correlation can still advance on unsigned binaries (spec §4.4
		// Advance step 1).
		if evt.SigningID != "" {
			return evt.SigningID, true
		}
		if evt.ProcessPath == "" {
			return "", false
		}
		return evt.ProcessPath, true
	default:
		return "", false
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CorrelationRule is a multi-stage rule: an event must satisfy stages[0],
// then a later event from the same correlation key must satisfy stage[1],
// and so on, all within Window of the first matching event.
type CorrelationRule struct {
	ID            string
	Name          string
	Severity      model.Severity
	KeyKind       CorrelationKeyKind
	Stages        []DetectionRule
	Window        time.Duration
	TechniqueID   string
	TechniqueName string
}

// CorrelationProgress is the in-flight state for one (rule, key) pair.
type CorrelationProgress struct {
	RuleName       string
	Key            string
	StageIndex     int
	FirstEventTime time.Time
	LastEventTime  time.Time
	MatchedSeqs    []uint64
}

// Correlator advances CorrelationRules against incoming security events,
// with capacity-bounded in-flight state (spec §4.4): at most maxKeys
// progress entries at once, evicting the one with the smallest
// FirstEventTime when a new one must be created over capacity; and a
// periodic purge every purgeEvery events that drops any progress older
// than maxAge, independent of capacity pressure.
type Correlator struct {
	mu        sync.Mutex
	rules     []CorrelationRule
	progress  map[string]*CorrelationProgress // hashed (rule,key) -> progress
	maxKeys   int
	purgeEvery int
	maxAge    time.Duration
	seen      int

	clock func() time.Time
	log   *slog.Logger
}

func NewCorrelator(rules []CorrelationRule, maxKeys, purgeEvery int, maxAge time.Duration) *Correlator {
	return &Correlator{
		rules:      rules,
		progress:   make(map[string]*CorrelationProgress),
		maxKeys:    maxKeys,
		purgeEvery: purgeEvery,
		maxAge:     maxAge,
		clock:      time.Now,
		log:        slog.With("component", "detection.correlator"),
	}
}

func (c *Correlator) SetClock(f func() time.Time) { c.clock = f }

// completedMatch is returned when an event completes a correlation rule's
// final stage.
type completedMatch struct {
	Rule  CorrelationRule
	Seqs  []uint64
}

// Advance feeds one security event through every configured correlation
// rule and returns the set of rules that completed as a result.
func (c *Correlator) Advance(evt model.SecurityEvent, proc model.ProcessRecord, procFound bool) []completedMatch {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	var completed []completedMatch

	for _, rule := range c.rules {
		keyVal, ok := correlationKeyValue(rule.KeyKind, evt)
		if !ok {
			continue
		}
		hashed := hashCorrelationKey(rule.Name, keyVal)

		p, exists := c.progress[hashed]
		if exists && now.Sub(p.FirstEventTime) > rule.Window {
			// Stage window expired: drop and re-evaluate as a fresh start.
			delete(c.progress, hashed)
			exists = false
		}

		if !exists {
			if !rule.Stages[0].Matches(evt, proc, procFound) {
				continue
			}
			p = &CorrelationProgress{
				RuleName:       rule.Name,
				Key:            keyVal,
				StageIndex:     1,
				FirstEventTime: now,
				LastEventTime:  now,
				MatchedSeqs:    []uint64{evt.Seq},
			}
			if len(rule.Stages) == 1 {
				completed = append(completed, completedMatch{Rule: rule, Seqs: p.MatchedSeqs})
				continue
			}
			c.insertWithCapacityGuard(hashed, p)
			continue
		}

		if p.StageIndex >= len(rule.Stages) {
			continue
		}
		if !rule.Stages[p.StageIndex].Matches(evt, proc, procFound) {
			continue
		}

		p.LastEventTime = now
		p.MatchedSeqs = append(p.MatchedSeqs, evt.Seq)
		p.StageIndex++

		if p.StageIndex >= len(rule.Stages) {
			completed = append(completed, completedMatch{Rule: rule, Seqs: p.MatchedSeqs})
			delete(c.progress, hashed)
		}
	}

	c.seen++
	if c.purgeEvery > 0 && c.seen%c.purgeEvery == 0 {
		c.purgeExpired(now)
	}

	return completed
}

// insertWithCapacityGuard installs a new progress entry, evicting the
// entry with the smallest FirstEventTime if the map is already at
// capacity (spec §4.4).
func (c *Correlator) insertWithCapacityGuard(key string, p *CorrelationProgress) {
	if len(c.progress) >= c.maxKeys {
		var evictKey string
		var oldest time.Time
		first := true
		for k, existing := range c.progress {
			if first || existing.FirstEventTime.Before(oldest) {
				evictKey = k
				oldest = existing.FirstEventTime
				first = false
			}
		}
		if evictKey != "" {
			delete(c.progress, evictKey)
			c.log.Debug("correlation capacity evict", "evicted_key", evictKey)
		}
	}
	c.progress[key] = p
}

func (c *Correlator) purgeExpired(now time.Time) {
	purged := 0
	for k, p := range c.progress {
		if now.Sub(p.FirstEventTime) > c.maxAge {
			delete(c.progress, k)
			purged++
		}
	}
	if purged > 0 {
		c.log.Debug("correlation periodic purge", "purged", purged, "remaining", len(c.progress))
	}
}

// InFlightCount returns the number of in-flight correlation progress
// entries, for metrics and tests.
func (c *Correlator) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.progress)
}
