// Package detection implements the Detection Engine (spec §4.4):
// single-event DetectionRules, multi-stage CorrelationRules, and the
// bounded Alert Store.
package detection

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sentineledr/core/internal/model"
)

// ConditionKind is the closed set of single-event condition variants a
// DetectionRule may use.
type ConditionKind int

const (
	FieldEquals ConditionKind = iota
	FieldContains
	FieldMatchesRegex
	FieldHasPrefix
	ProcessNotAppleSigned
	ProcessNameNotIn
	ProcessPathHasPrefix
)

// Condition is a single closed-form predicate over a SecurityEvent.
type Condition struct {
	Kind    ConditionKind
	Field   string // event field name for Field* kinds, ignored otherwise
	Value   string // literal operand for Equals/Contains/HasPrefix/PathHasPrefix
	Pattern *regexp.Regexp
	Set     map[string]struct{} // operand set for ProcessNameNotIn
}

// fieldValue resolves a named SecurityEvent field for Field* conditions.
func fieldValue(evt model.SecurityEvent, field string) string {
	switch field {
	case "kind":
		return string(evt.Kind)
	case "process_path":
		return evt.ProcessPath
	case "target_path":
		return evt.TargetPath
	case "signing_id":
		return evt.SigningID
	case "reason":
		return evt.Reason
	case "detail":
		return evt.Detail
	case "allowed":
		if evt.Allowed {
			return "true"
		}
		return "false"
	default:
		return evt.Fields[field]
	}
}

// Evaluate reports whether the condition holds for the given event and
// the process record the event's PID maps to, if any.
func (c Condition) Evaluate(evt model.SecurityEvent, proc model.ProcessRecord, procFound bool) bool {
	switch c.Kind {
	case FieldEquals:
		return fieldValue(evt, c.Field) == c.Value
	case FieldContains:
		return strings.Contains(fieldValue(evt, c.Field), c.Value)
	case FieldMatchesRegex:
		return c.Pattern != nil && c.Pattern.MatchString(fieldValue(evt, c.Field))
	case FieldHasPrefix:
		return strings.HasPrefix(fieldValue(evt, c.Field), c.Value)
	case ProcessNotAppleSigned:
		return !procFound || !proc.AppleSigned
	case ProcessNameNotIn:
		name := filepath.Base(evt.ProcessPath)
		_, in := c.Set[name]
		return !in
	case ProcessPathHasPrefix:
		return strings.HasPrefix(evt.ProcessPath, c.Value)
	default:
		return false
	}
}

// DetectionRule fires when the event's kind equals the rule's target
// kind AND every one of its conditions holds (spec §4.4).
type DetectionRule struct {
	ID            string
	Name          string
	TargetKind    model.EventKind
	Severity      model.Severity
	Conditions    []Condition
	TechniqueID   string
	TechniqueName string
}

// Matches reports whether the event's kind equals the rule's target kind
// and all conditions hold. A rule with a zero-value TargetKind matches
// any event kind, preserving the behavior of stage rules constructed
// without one set.
func (r DetectionRule) Matches(evt model.SecurityEvent, proc model.ProcessRecord, procFound bool) bool {
	if r.TargetKind != "" && evt.Kind != r.TargetKind {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Evaluate(evt, proc, procFound) {
			return false
		}
	}
	return true
}
