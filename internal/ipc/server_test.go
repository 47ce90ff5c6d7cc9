package ipc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentineledr/core/internal/demux"
	"github.com/sentineledr/core/internal/detection"
	"github.com/sentineledr/core/internal/fusion"
	"github.com/sentineledr/core/internal/history"
	"github.com/sentineledr/core/internal/kernelsource/simulated"
	"github.com/sentineledr/core/internal/model"
	"github.com/sentineledr/core/internal/policy"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hs := history.New(10, 10)
	pe := policy.New(false)
	de := detection.New(nil, nil, hs, 100, 100, 1000, time.Hour, nil)
	d := demux.New(simulated.New(), pe, hs, de)

	return NewServer(Deps{
		History:   hs,
		Policy:    pe,
		Detection: de,
		Demux:     d,
		Fusion:    fusion.New(),
	})
}

func TestHandleGetStatusReportsDemuxAndPolicyState(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "new", got.DemuxState)
	require.True(t, got.AuditMode)
}

func TestHandleGetProcessesReturnsSeededProcesses(t *testing.T) {
	s := newTestServer(t)
	s.history.Seed([]model.ProcessRecord{{PID: 1, Path: "/sbin/launchd"}})

	req := httptest.NewRequest(http.MethodGet, "/processes", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.ProcessRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
}

func TestHandleGetProcessNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/processes/999", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetSecurityEventsSinceFiltersByCursor(t *testing.T) {
	s := newTestServer(t)
	s.history.AppendSecurityEvent(model.SecurityEvent{PID: 1})
	seq2 := s.history.AppendSecurityEvent(model.SecurityEvent{PID: 2})

	req := httptest.NewRequest(http.MethodGet, "/security-events?since=1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got securityEventsSinceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Events, 1)
	require.Equal(t, seq2, got.Events[0].Seq)
	require.Equal(t, seq2, got.Cursor)
}

func TestHandleGetSecurityEventsSinceRespectsLimit(t *testing.T) {
	s := newTestServer(t)
	for pid := int32(1); pid <= 5; pid++ {
		s.history.AppendSecurityEvent(model.SecurityEvent{PID: pid})
	}

	req := httptest.NewRequest(http.MethodGet, "/security-events?since=0&limit=2", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got securityEventsSinceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Events, 2)
	require.Equal(t, uint64(2), got.Cursor)
}

func TestHandleUpdateBlocklistsSwapsSnapshotAndBumpsVersion(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(updateBlocklistsRequest{Paths: []string{"/tmp/evil"}, TeamIDs: []string{"EVILTEAM1"}})
	req := httptest.NewRequest(http.MethodPost, "/blocklists", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.policy.Blocklist().HasPath("/tmp/evil"))
	require.True(t, s.policy.Blocklist().HasTeamID("EVILTEAM1"))
	require.Equal(t, uint64(1), s.policy.Blocklist().Version)
}

func TestHandleUpdateBlocklistsRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/blocklists", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEntityScoreReturnsFusedScore(t *testing.T) {
	s := newTestServer(t)
	s.fusion.Record(model.Alert{SigningID: "com.evil.tool", RuleName: "r1", Severity: model.SeverityHigh})

	req := httptest.NewRequest(http.MethodGet, "/entities/com.evil.tool/score", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleEntityScoreDisabledWithoutFusion(t *testing.T) {
	hs := history.New(10, 10)
	pe := policy.New(false)
	de := detection.New(nil, nil, hs, 100, 100, 1000, time.Hour, nil)
	d := demux.New(simulated.New(), pe, hs, de)
	s := NewServer(Deps{History: hs, Policy: pe, Detection: de, Demux: d})

	req := httptest.NewRequest(http.MethodGet, "/entities/com.evil.tool/score", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
