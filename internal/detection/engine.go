package detection

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentineledr/core/internal/history"
	"github.com/sentineledr/core/internal/model"
)

// Engine is the Detection Engine (spec §4.4): it evaluates every incoming
// SecurityEvent against single-event DetectionRules and advances
// multi-stage CorrelationRules, appending an Alert to the bounded Alert
// Store whenever either produces a match.
type Engine struct {
	rules      []DetectionRule
	correlator *Correlator
	alerts     *AlertStore
	history    *history.Store
	onAlert    func(model.Alert)

	log *slog.Logger
}

// New creates a Detection Engine. onAlert is called synchronously for
// every new alert (e.g. to push it over the IPC websocket channel) and
// may be nil.
func New(rules []DetectionRule, correlationRules []CorrelationRule, hs *history.Store, alertCap, correlationMaxKeys, correlationPurgeEvery int, correlationMaxAge time.Duration, onAlert func(model.Alert)) *Engine {
	return &Engine{
		rules:      rules,
		correlator: NewCorrelator(correlationRules, correlationMaxKeys, correlationPurgeEvery, correlationMaxAge),
		alerts:     NewAlertStore(alertCap),
		history:    hs,
		onAlert:    onAlert,
		log:        slog.With("component", "detection"),
	}
}

// OnSecurityEvent implements demux.AlertSink.
func (e *Engine) OnSecurityEvent(evt model.SecurityEvent) {
	proc, found := e.history.Process(evt.PID)

	for _, rule := range e.rules {
		if rule.Matches(evt, proc, found) {
			e.emit(model.Alert{
				ID:            uuid.NewString(),
				RuleID:        rule.ID,
				RuleName:      rule.Name,
				Severity:      rule.Severity,
				TechniqueID:   rule.TechniqueID,
				TechniqueName: rule.TechniqueName,
				PID:           evt.PID,
				ProcessPath:   evt.ProcessPath,
				SigningID:     evt.SigningID,
				Detail:        evt.Reason,
				EventSeqs:     []uint64{evt.Seq},
				Timestamp:     time.Now(),
			})
		}
	}

	for _, match := range e.correlator.Advance(evt, proc, found) {
		e.emit(model.Alert{
			ID:            uuid.NewString(),
			RuleID:        match.Rule.ID,
			RuleName:      match.Rule.Name,
			Severity:      match.Rule.Severity,
			TechniqueID:   match.Rule.TechniqueID,
			TechniqueName: match.Rule.TechniqueName,
			PID:           evt.PID,
			ProcessPath:   evt.ProcessPath,
			SigningID:     evt.SigningID,
			Detail:        "correlation rule completed",
			EventSeqs:     match.Seqs,
			Timestamp:     time.Now(),
		})
	}
}

// OnProcessLifecycle implements demux.AlertSink. Lifecycle events alone
// never fire a detection rule in this engine; they exist so future rules
// can key off fork/exit timing without changing the sink interface.
func (e *Engine) OnProcessLifecycle(model.ProcessLifecycleEvent) {}

func (e *Engine) emit(alert model.Alert) {
	alert.Seq = e.alerts.Append(alert)
	e.log.Info("alert", "rule", alert.RuleName, "severity", alert.Severity, "pid", alert.PID)
	if e.onAlert != nil {
		e.onAlert(alert)
	}
}

func (e *Engine) Alerts() *AlertStore { return e.alerts }

func (e *Engine) InFlightCorrelations() int { return e.correlator.InFlightCount() }
