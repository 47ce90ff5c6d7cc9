package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentineledr/core/internal/model"
)

func TestScoreSumsSeverityWeightsForSingleRule(t *testing.T) {
	s := New()
	s.Record(model.Alert{SigningID: "com.evil.tool", RuleName: "r1", Severity: model.SeverityHigh})
	s.Record(model.Alert{SigningID: "com.evil.tool", RuleName: "r1", Severity: model.SeverityHigh})

	got := s.Score("com.evil.tool")
	require.Equal(t, 14.0, got.Score)
	require.Len(t, got.Alerts, 2)
}

func TestScoreAppliesMultiRuleMultiplier(t *testing.T) {
	s := New()
	s.Record(model.Alert{SigningID: "com.evil.tool", RuleName: "r1", Severity: model.SeverityHigh})
	s.Record(model.Alert{SigningID: "com.evil.tool", RuleName: "r2", Severity: model.SeverityHigh})

	got := s.Score("com.evil.tool")
	require.InDelta(t, 17.5, got.Score, 0.001, "two distinct rules apply the multi-rule multiplier")
}

func TestScoreAppliesRepeatOffenderMultiplier(t *testing.T) {
	s := New()
	for i := 0; i < 6; i++ {
		s.Record(model.Alert{SigningID: "com.evil.tool", RuleName: "r1", Severity: model.SeverityLow})
	}
	got := s.Score("com.evil.tool")
	require.InDelta(t, 9.0, got.Score, 0.001, "more than 5 alerts applies the repeat-offender multiplier (6 * 1 * 1.5)")
}

func TestScoreClampsToMaxScore(t *testing.T) {
	s := New()
	for i := 0; i < 20; i++ {
		s.Record(model.Alert{SigningID: "com.evil.tool", RuleName: "r1", Severity: model.SeverityCritical})
	}
	got := s.Score("com.evil.tool")
	require.Equal(t, 100.0, got.Score)
}

func TestScoreIgnoresAlertsWithoutSigningID(t *testing.T) {
	s := New()
	s.Record(model.Alert{SigningID: "", RuleName: "r1", Severity: model.SeverityCritical})
	got := s.Score("")
	require.Empty(t, got.Alerts)
	require.Zero(t, got.Score)
}

func TestCampaignsClustersAlertsWithinWindow(t *testing.T) {
	s := New()
	base := time.Now()
	s.Record(model.Alert{SigningID: "com.evil.tool", Timestamp: base})
	s.Record(model.Alert{SigningID: "com.evil.tool", Timestamp: base.Add(30 * time.Minute)})
	s.Record(model.Alert{SigningID: "com.evil.tool", Timestamp: base.Add(3 * time.Hour)})

	campaigns := s.Campaigns("com.evil.tool")
	require.Len(t, campaigns, 2)
	require.Len(t, campaigns[0].Alerts, 2)
	require.Len(t, campaigns[1].Alerts, 1)
}

func TestCampaignsEmptyForUnknownEntity(t *testing.T) {
	s := New()
	require.Empty(t, s.Campaigns("nobody"))
}
