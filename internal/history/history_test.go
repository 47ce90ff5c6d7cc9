package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentineledr/core/internal/model"
)

func TestRecordForkAddsToProcessTableAndRing(t *testing.T) {
	s := New(10, 10)
	rec := model.ProcessRecord{PID: 100, PPID: 1, Path: "/bin/ls", StartedAt: time.Now()}
	evt := model.ProcessLifecycleEvent{Kind: model.KindFork, PID: 100, PPID: 1, Timestamp: time.Now()}

	seq := s.RecordFork(rec, evt)
	require.Equal(t, uint64(1), seq)

	got, ok := s.Process(100)
	require.True(t, ok)
	require.Equal(t, "/bin/ls", got.Path)
	require.Equal(t, 1, s.ProcessCount())
}

func TestRecordExitRemovesFromProcessTable(t *testing.T) {
	s := New(10, 10)
	s.RecordFork(model.ProcessRecord{PID: 100}, model.ProcessLifecycleEvent{Kind: model.KindFork, PID: 100})
	s.RecordExit(100, model.ProcessLifecycleEvent{Kind: model.KindExit, PID: 100})

	_, ok := s.Process(100)
	require.False(t, ok)
	require.Equal(t, 0, s.ProcessCount())
}

func TestSecurityEventsSinceReturnsNewerOnly(t *testing.T) {
	s := New(10, 10)
	s.AppendSecurityEvent(model.SecurityEvent{PID: 1})
	seq2 := s.AppendSecurityEvent(model.SecurityEvent{PID: 2})
	s.AppendSecurityEvent(model.SecurityEvent{PID: 3})

	events, cursor := s.SecurityEventsSince(seq2, 0)
	require.Len(t, events, 1)
	require.Equal(t, int32(3), events[0].PID)
	require.Equal(t, cursor, events[0].Seq)
}

func TestSecurityEventsSinceRespectsLimitAndAdvancesCursorToLastReturned(t *testing.T) {
	s := New(10, 10)
	for pid := int32(1); pid <= 5; pid++ {
		s.AppendSecurityEvent(model.SecurityEvent{PID: pid})
	}

	events, cursor := s.SecurityEventsSince(0, 2)
	require.Len(t, events, 2)
	require.Equal(t, int32(1), events[0].PID)
	require.Equal(t, int32(2), events[1].PID)
	require.Equal(t, uint64(2), cursor)

	more, cursor2 := s.SecurityEventsSince(cursor, 2)
	require.Len(t, more, 2)
	require.Equal(t, int32(3), more[0].PID)
	require.Equal(t, int32(4), more[1].PID)
	require.Equal(t, uint64(4), cursor2)
}

func TestSecurityRingCapacityEviction(t *testing.T) {
	s := New(10, 2)
	s.AppendSecurityEvent(model.SecurityEvent{PID: 1})
	s.AppendSecurityEvent(model.SecurityEvent{PID: 2})
	s.AppendSecurityEvent(model.SecurityEvent{PID: 3})

	events, _ := s.SecurityEventsSince(0, 0)
	require.Len(t, events, 2)
	require.Equal(t, int32(2), events[0].PID)
	require.Equal(t, int32(3), events[1].PID)
}

func TestSeedPopulatesTable(t *testing.T) {
	s := New(10, 10)
	s.Seed([]model.ProcessRecord{{PID: 1}, {PID: 2}})
	require.Equal(t, 2, s.ProcessCount())
}
