package main

import (
	"regexp"
	"time"

	"github.com/sentineledr/core/internal/detection"
	"github.com/sentineledr/core/internal/model"
)

// defaultDetectionRules returns the single-event rule set the core ships
// with: a small, illustrative set exercising every condition variant
// spec §4.4 names, each gated to the event kind it targets and tagged
// with the MITRE ATT&CK-style technique it corresponds to. Operators
// extend this via updateBlocklists-style configuration in a fuller
// deployment; this core wires the rule engine itself, not a
// rule-authoring UI (spec §1 non-goals).
func defaultDetectionRules() []detection.DetectionRule {
	return []detection.DetectionRule{
		{
			ID:         "unsigned-exec-outside-applications",
			Name:       "unsigned-exec-outside-applications",
			TargetKind: model.KindExec,
			Severity:   model.SeverityHigh,
			Conditions: []detection.Condition{
				{Kind: detection.ProcessNotAppleSigned},
				{Kind: detection.FieldHasPrefix, Field: "target_path", Value: "/tmp/"},
			},
			TechniqueID:   "T1204.002",
			TechniqueName: "User Execution: Malicious File",
		},
		{
			ID:         "credential-file-open-denied",
			Name:       "credential-file-open-denied",
			TargetKind: model.KindOpen,
			Severity:   model.SeverityCritical,
			Conditions: []detection.Condition{
				{Kind: detection.FieldEquals, Field: "target_path", Value: "/etc/master.passwd"},
				{Kind: detection.FieldEquals, Field: "allowed", Value: "false"},
			},
			TechniqueID:   "T1003.008",
			TechniqueName: "OS Credential Dumping: /etc/passwd and /etc/shadow",
		},
		{
			ID:         "shell-masquerading-as-system-process",
			Name:       "shell-masquerading-as-system-process",
			TargetKind: model.KindExec,
			Severity:   model.SeverityMedium,
			Conditions: []detection.Condition{
				{Kind: detection.ProcessPathHasPrefix, Value: "/System/"},
				{Kind: detection.FieldMatchesRegex, Field: "target_path", Pattern: regexp.MustCompile(`(?i)/bin/(ba)?sh$`)},
			},
			TechniqueID:   "T1036.005",
			TechniqueName: "Masquerading: Match Legitimate Name or Location",
		},
		{
			ID:         "process-name-not-allowlisted",
			Name:       "process-name-not-allowlisted",
			TargetKind: model.KindOpen,
			Severity:   model.SeverityLow,
			Conditions: []detection.Condition{
				{Kind: detection.ProcessNameNotIn, Set: map[string]struct{}{
					"launchd": {}, "kernel_task": {}, "WindowServer": {},
				}},
				{Kind: detection.FieldContains, Field: "reason", Value: "blocked"},
			},
			TechniqueID:   "T1036",
			TechniqueName: "Masquerading",
		},
	}
}

// defaultCorrelationRules returns the multi-stage rule set the core ships
// with.
func defaultCorrelationRules() []detection.CorrelationRule {
	return []detection.CorrelationRule{
		{
			ID:       "mprotect-after-unsigned-exec",
			Name:     "mprotect-after-unsigned-exec",
			Severity: model.SeverityCritical,
			KeyKind:  detection.KeyPID,
			Window:   2 * time.Minute,
			Stages: []detection.DetectionRule{
				{
					Name:       "stage-exec",
					TargetKind: model.KindExec,
					Conditions: []detection.Condition{
						{Kind: detection.ProcessNotAppleSigned},
					},
				},
				{
					Name:       "stage-mprotect",
					TargetKind: model.KindMprotect,
				},
			},
			TechniqueID:   "T1055.009",
			TechniqueName: "Process Injection: Proc Memory",
		},
	}
}
