// Package fusion implements the optional cross-source scoring overlay
// named in spec §4.4: it is not required for the minimum viable core, but
// when wired in it folds severity-weighted alert evidence for an entity
// (by signing identifier) into a single score and clusters alerts that
// land within an hour of each other into a "campaign".
package fusion

import (
	"sort"
	"sync"
	"time"

	"github.com/sentineledr/core/internal/model"
)

var severityWeight = map[model.Severity]float64{
	model.SeverityLow:      1,
	model.SeverityMedium:   3,
	model.SeverityHigh:     7,
	model.SeverityCritical: 15,
}

const (
	// repeatOffenderMultiplier boosts the score of an entity that has
	// accumulated more than repeatOffenderThreshold alerts.
	repeatOffenderMultiplier  = 1.5
	repeatOffenderThreshold   = 5
	// multiRuleMultiplier boosts an entity whose evidence spans more than
	// one distinct detection/correlation rule, since a single rule firing
	// repeatedly is weaker evidence than several rules agreeing.
	multiRuleMultiplier = 1.25
	maxScore            = 100.0
	clusterWindow       = time.Hour
)

// EntityScore is the fused score for one signing identity.
type EntityScore struct {
	SigningID string
	Score     float64
	Alerts    []model.Alert
}

// Campaign is a cluster of alerts against the same entity that landed
// within clusterWindow of each other.
type Campaign struct {
	SigningID string
	Alerts    []model.Alert
	Start     time.Time
	End       time.Time
}

// Scorer accumulates alerts per signing identifier and computes fused
// scores and temporal campaign clusters on demand.
type Scorer struct {
	mu    sync.Mutex
	byID  map[string][]model.Alert
}

func New() *Scorer {
	return &Scorer{byID: make(map[string][]model.Alert)}
}

// Record folds a new alert into its entity's evidence set.
func (s *Scorer) Record(alert model.Alert) {
	if alert.SigningID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[alert.SigningID] = append(s.byID[alert.SigningID], alert)
}

// Score computes the fused EntityScore for one signing identifier.
func (s *Scorer) Score(signingID string) EntityScore {
	s.mu.Lock()
	alerts := append([]model.Alert(nil), s.byID[signingID]...)
	s.mu.Unlock()

	base := 0.0
	ruleSet := make(map[string]struct{})
	for _, a := range alerts {
		base += severityWeight[a.Severity]
		ruleSet[a.RuleName] = struct{}{}
	}

	score := base
	if len(alerts) > repeatOffenderThreshold {
		score *= repeatOffenderMultiplier
	}
	if len(ruleSet) > 1 {
		score *= multiRuleMultiplier
	}
	if score > maxScore {
		score = maxScore
	}

	return EntityScore{SigningID: signingID, Score: score, Alerts: alerts}
}

// Campaigns clusters a signing identifier's alerts into groups where
// consecutive alerts (by timestamp) land within clusterWindow of each
// other.
func (s *Scorer) Campaigns(signingID string) []Campaign {
	s.mu.Lock()
	alerts := append([]model.Alert(nil), s.byID[signingID]...)
	s.mu.Unlock()

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Timestamp.Before(alerts[j].Timestamp) })

	var campaigns []Campaign
	var current *Campaign
	for _, a := range alerts {
		if current == nil {
			current = &Campaign{SigningID: signingID, Alerts: []model.Alert{a}, Start: a.Timestamp, End: a.Timestamp}
			continue
		}
		if a.Timestamp.Sub(current.End) <= clusterWindow {
			current.Alerts = append(current.Alerts, a)
			current.End = a.Timestamp
			continue
		}
		campaigns = append(campaigns, *current)
		current = &Campaign{SigningID: signingID, Alerts: []model.Alert{a}, Start: a.Timestamp, End: a.Timestamp}
	}
	if current != nil {
		campaigns = append(campaigns, *current)
	}
	return campaigns
}
