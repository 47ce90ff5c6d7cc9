package detection

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentineledr/core/internal/model"
)

func TestFieldEqualsCondition(t *testing.T) {
	c := Condition{Kind: FieldEquals, Field: "process_path", Value: "/bin/sh"}
	evt := model.SecurityEvent{ProcessPath: "/bin/sh"}
	require.True(t, c.Evaluate(evt, model.ProcessRecord{}, false))

	evt.ProcessPath = "/bin/bash"
	require.False(t, c.Evaluate(evt, model.ProcessRecord{}, false))
}

func TestFieldContainsCondition(t *testing.T) {
	c := Condition{Kind: FieldContains, Field: "reason", Value: "blocked"}
	evt := model.SecurityEvent{Reason: "blocked_path"}
	require.True(t, c.Evaluate(evt, model.ProcessRecord{}, false))
}

func TestFieldMatchesRegexCondition(t *testing.T) {
	c := Condition{Kind: FieldMatchesRegex, Field: "target_path", Pattern: regexp.MustCompile(`(?i)\.sh$`)}
	evt := model.SecurityEvent{TargetPath: "/tmp/payload.SH"}
	require.True(t, c.Evaluate(evt, model.ProcessRecord{}, false))
}

func TestFieldHasPrefixCondition(t *testing.T) {
	c := Condition{Kind: FieldHasPrefix, Field: "target_path", Value: "/tmp/"}
	require.True(t, c.Evaluate(model.SecurityEvent{TargetPath: "/tmp/x"}, model.ProcessRecord{}, false))
	require.False(t, c.Evaluate(model.SecurityEvent{TargetPath: "/var/x"}, model.ProcessRecord{}, false))
}

func TestProcessNotAppleSignedCondition(t *testing.T) {
	c := Condition{Kind: ProcessNotAppleSigned}
	require.True(t, c.Evaluate(model.SecurityEvent{}, model.ProcessRecord{}, false), "unknown process treated as unsigned")
	require.True(t, c.Evaluate(model.SecurityEvent{}, model.ProcessRecord{AppleSigned: false}, true))
	require.False(t, c.Evaluate(model.SecurityEvent{}, model.ProcessRecord{AppleSigned: true}, true))
}

func TestProcessNameNotInCondition(t *testing.T) {
	c := Condition{Kind: ProcessNameNotIn, Set: map[string]struct{}{"launchd": {}}}
	require.False(t, c.Evaluate(model.SecurityEvent{ProcessPath: "/sbin/launchd"}, model.ProcessRecord{}, false))
	require.True(t, c.Evaluate(model.SecurityEvent{ProcessPath: "/tmp/evil"}, model.ProcessRecord{}, false))
}

func TestProcessPathHasPrefixCondition(t *testing.T) {
	c := Condition{Kind: ProcessPathHasPrefix, Value: "/System/"}
	require.True(t, c.Evaluate(model.SecurityEvent{ProcessPath: "/System/Library/x"}, model.ProcessRecord{}, false))
	require.False(t, c.Evaluate(model.SecurityEvent{ProcessPath: "/Applications/x"}, model.ProcessRecord{}, false))
}

func TestDetectionRuleRequiresAllConditions(t *testing.T) {
	rule := DetectionRule{
		Name: "multi",
		Conditions: []Condition{
			{Kind: FieldHasPrefix, Field: "target_path", Value: "/tmp/"},
			{Kind: ProcessNotAppleSigned},
		},
	}
	require.True(t, rule.Matches(model.SecurityEvent{TargetPath: "/tmp/x"}, model.ProcessRecord{}, false))
	require.False(t, rule.Matches(model.SecurityEvent{TargetPath: "/var/x"}, model.ProcessRecord{}, false))
}

func TestDetectionRuleMatchesOnlyItsTargetKind(t *testing.T) {
	rule := DetectionRule{
		Name:       "unsigned-exec-outside-applications",
		TargetKind: model.KindExec,
		Conditions: []Condition{
			{Kind: FieldHasPrefix, Field: "target_path", Value: "/tmp/"},
		},
	}
	require.True(t, rule.Matches(model.SecurityEvent{Kind: model.KindExec, TargetPath: "/tmp/x"}, model.ProcessRecord{}, false))
	require.False(t, rule.Matches(model.SecurityEvent{Kind: model.KindOpen, TargetPath: "/tmp/x"}, model.ProcessRecord{}, false),
		"a NOTIFY open/rename event with a matching target_path must not fire an exec-targeted rule")
}
