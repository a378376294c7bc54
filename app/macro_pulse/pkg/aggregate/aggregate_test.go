package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/analysis"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

type fieldsResult map[string]any

func (r fieldsResult) Fields() map[string]any { return r }
func (r fieldsResult) Highlights() []string   { return []string{"highlight"} }
func (r fieldsResult) Summary() string        { return "summary." }

func ok(name string, conf float64, fields map[string]any) model.AnalysisOutcome {
	return model.AnalysisOutcome{TaskName: name, Result: fieldsResult(fields), Confidence: conf}
}

func failed(name string) model.AnalysisOutcome {
	return model.AnalysisOutcome{TaskName: name, FailureReason: "boom"}
}

func TestOverallConfidence(t *testing.T) {
	agg := NewAggregator(nil, nil)

	report, err := agg.Aggregate(context.Background(), Input{
		RunID:    "r1",
		Declared: []string{"a", "b", "c"},
		Outcomes: []model.AnalysisOutcome{ok("a", 0.8, nil), ok("b", 0.6, nil), failed("c")},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, report.OverallConfidence, 1e-9)
	assert.Equal(t, []string{"c"}, report.MissingTasks)
	assert.True(t, report.Degraded())
}

func TestAllTasksFailedStillProducesReport(t *testing.T) {
	report, err := NewAggregator(DefaultRules(), nil).Aggregate(context.Background(), Input{
		RunID:    "r2",
		Declared: []string{"fed", "econ", "sentiment"},
		Outcomes: []model.AnalysisOutcome{failed("sentiment"), failed("fed")},
	})
	require.NoError(t, err)
	assert.Zero(t, report.OverallConfidence)
	assert.Equal(t, []string{"econ", "fed", "sentiment"}, report.MissingTasks)
	assert.Empty(t, report.Conflicts)
	assert.Contains(t, report.Summary, "无法完成")
	assert.Equal(t, "no outcome", report.OutcomesByTask["econ"].FailureReason)
}

func twoTaskRule() Rule {
	return MustRule("x",
		Condition{Task: "fed", Field: "tone_index", Op: "<", Value: -0.3},
		Condition{Task: "econ", Field: "soft_landing_score", Op: ">", Value: 7},
		`tone {{printf "%.1f" .Left}} vs score {{.Right}}`)
}

func TestRuleFiresOnceNamingBothTasks(t *testing.T) {
	report, err := NewAggregator([]Rule{twoTaskRule()}, nil).Aggregate(context.Background(), Input{
		Declared: []string{"fed", "econ"},
		Outcomes: []model.AnalysisOutcome{
			ok("fed", 0.7, map[string]any{"tone_index": -0.5}),
			ok("econ", 0.7, map[string]any{"soft_landing_score": 8.0}),
		},
	})
	require.NoError(t, err)

	want := []model.ConflictFinding{{RuleID: "x", InvolvedTasks: []string{"fed", "econ"}, Message: "tone -0.5 vs score 8"}}
	if diff := cmp.Diff(want, report.Conflicts); diff != "" {
		t.Errorf("conflicts mismatch (-want +got):\n%s", diff)
	}
}

func TestRuleSkipped(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []model.AnalysisOutcome
	}{
		{
			name: "left task failed",
			outcomes: []model.AnalysisOutcome{
				failed("fed"),
				ok("econ", 0.7, map[string]any{"soft_landing_score": 8.0}),
			},
		},
		{
			name: "right task failed",
			outcomes: []model.AnalysisOutcome{
				ok("fed", 0.7, map[string]any{"tone_index": -0.5}),
				failed("econ"),
			},
		},
		{
			name: "field absent",
			outcomes: []model.AnalysisOutcome{
				ok("fed", 0.7, map[string]any{"stance": "dovish"}),
				ok("econ", 0.7, map[string]any{"soft_landing_score": 8.0}),
			},
		},
		{
			name: "condition false",
			outcomes: []model.AnalysisOutcome{
				ok("fed", 0.7, map[string]any{"tone_index": 0.1}),
				ok("econ", 0.7, map[string]any{"soft_landing_score": 8.0}),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := NewAggregator([]Rule{twoTaskRule()}, nil).Aggregate(context.Background(), Input{
				Declared: []string{"fed", "econ"},
				Outcomes: tt.outcomes,
			})
			require.NoError(t, err)
			assert.Empty(t, report.Conflicts)
		})
	}
}

func TestDefaultRules(t *testing.T) {
	outcomes := map[string]model.AnalysisOutcome{
		analysis.TaskFed: ok(analysis.TaskFed, 0.7, map[string]any{
			"tone_index": 0.5, "yield_curve_status": analysis.CurveInverted,
		}),
		analysis.TaskEcon: ok(analysis.TaskEcon, 0.7, map[string]any{
			"soft_landing_score": 7.5, "cycle": analysis.CycleExpansion,
		}),
		analysis.TaskSentiment: ok(analysis.TaskSentiment, 0.7, map[string]any{
			"market_anxiety_score": 0.6, "cycle": analysis.CycleContraction,
		}),
	}

	var fired []string
	for _, r := range DefaultRules() {
		if f, ok := r.Evaluate(outcomes); ok {
			fired = append(fired, f.RuleID)
			assert.NotContains(t, f.Message, "{{")
		}
	}
	assert.Equal(t, []string{
		"anxious-market-strong-economy",
		"anxious-market-hawkish-fed",
		"inverted-curve-soft-landing",
		"economy-expanding-sentiment-contracting",
	}, fired)
}

func TestRulesFromConfig(t *testing.T) {
	rules, err := RulesFromConfig(nil)
	require.NoError(t, err)
	assert.Len(t, rules, len(DefaultRules()))

	rules, err = RulesFromConfig([]config.RuleConfig{{
		ID:      "custom",
		Left:    config.ConditionConfig{Task: "fed", Field: "stance", Op: "==", Value: "hawkish"},
		Right:   config.ConditionConfig{Task: "econ", Field: "soft_landing_score", Op: "<=", Value: 5},
		Message: "{{.LeftTask}} {{.Left}} / {{.RightTask}} {{.Right}}",
	}})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	f, fired := rules[0].Evaluate(map[string]model.AnalysisOutcome{
		"fed":  ok("fed", 1, map[string]any{"stance": "hawkish"}),
		"econ": ok("econ", 1, map[string]any{"soft_landing_score": 5.0}),
	})
	require.True(t, fired)
	assert.Equal(t, "fed hawkish / econ 5", f.Message)

	_, err = RulesFromConfig([]config.RuleConfig{{
		ID:   "bad",
		Left: config.ConditionConfig{Task: "fed", Field: "x", Op: "~"}, Right: config.ConditionConfig{Task: "econ", Field: "y", Op: ">"},
	}})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestStateTransitions(t *testing.T) {
	s := Collecting
	require.NoError(t, s.advance(RulesEvaluated))
	assert.ErrorIs(t, s.advance(Finalized), ErrInvalidTransition)
	assert.ErrorIs(t, s.advance(Collecting), ErrInvalidTransition)
	require.NoError(t, s.advance(Scored))
	require.NoError(t, s.advance(Finalized))
	assert.ErrorIs(t, s.advance(Finalized+1), ErrInvalidTransition)
}

type stubEditor struct {
	edition Edition
	err     error
}

func (e stubEditor) Edit(context.Context, Draft) (Edition, error) { return e.edition, e.err }

func TestEditorFallback(t *testing.T) {
	in := Input{Declared: []string{"a"}, Outcomes: []model.AnalysisOutcome{ok("a", 0.9, nil)}}

	report, err := NewAggregator(nil, stubEditor{edition: Edition{Summary: "llm", Highlights: []string{"h"}}}).Aggregate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "llm", report.Summary)

	report, err = NewAggregator(nil, stubEditor{err: errors.New("rate limited")}).Aggregate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "summary.", report.Summary)
	assert.Equal(t, []string{"highlight"}, report.Highlights)
}

func TestProvenanceSorted(t *testing.T) {
	now := time.Now()
	report, err := NewAggregator(nil, nil).Aggregate(context.Background(), Input{
		Fetched: []model.FetchOutcome{
			{Request: model.DataRequest{SourceKey: "market", ItemID: "SPY"}, Tier: model.TierCacheStale, FetchedAt: now},
			{Request: model.DataRequest{SourceKey: "fred", ItemID: "UNRATE"}, Tier: model.TierMissing, Err: errors.New("404")},
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Provenance, 2)
	assert.Equal(t, "fred:UNRATE", report.Provenance[0].Key)
	assert.Equal(t, "404", report.Provenance[0].Error)
	assert.Equal(t, model.TierCacheStale, report.Provenance[1].Tier)
}
