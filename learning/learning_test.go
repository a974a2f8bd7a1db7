package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/decision"
	"github.com/helmsman-ai/helmsman/metrics"
	"github.com/helmsman-ai/helmsman/planning"
)

func TestRecommendStrategyRules(t *testing.T) {
	m := NewMetaLearner(nil)

	assert.Equal(t, StrategyErrorAnalysis,
		m.RecommendStrategy(LearningContext{HasErrors: true, HasRAGContext: true}))
	assert.Equal(t, StrategyContextAdaptation,
		m.RecommendStrategy(LearningContext{HasRAGContext: true}))
	assert.Equal(t, StrategyPatternRecognition,
		m.RecommendStrategy(LearningContext{TaskType: "health_check"}))
	assert.Equal(t, StrategyPatternRecognition,
		m.RecommendStrategy(LearningContext{TaskType: "analysis"}))

	// No rule matches: the seeded best is context_adaptation (0.85).
	assert.Equal(t, StrategyContextAdaptation,
		m.RecommendStrategy(LearningContext{TaskType: "generic"}))
}

func TestRecordLearningEventUpdatesEffectiveness(t *testing.T) {
	m := NewMetaLearner(nil)

	m.RecordLearningEvent(StrategyErrorAnalysis, "success")
	m.RecordLearningEvent(StrategyErrorAnalysis, "completed")
	m.RecordLearningEvent(StrategyErrorAnalysis, "failed")

	insights := m.Insights()
	s := insights.Strategies[StrategyErrorAnalysis]
	assert.Equal(t, 3, s.TimesUsed)
	assert.InDelta(t, 0.67, s.Effectiveness, 0.01)
	assert.InDelta(t, 66.7, s.SuccessRate, 0.01)
}

func TestAnalyzeEffectivenessNeedsData(t *testing.T) {
	m := NewMetaLearner(nil)
	assert.Equal(t, "insufficient_data", m.AnalyzeEffectiveness().Status)
}

func TestLearningVelocity(t *testing.T) {
	m := NewMetaLearner(nil)

	// 20 failures, then 20 successes: fast improvement.
	for i := 0; i < 21; i++ {
		m.RecordLearningEvent(StrategyPatternRecognition, "failed")
	}
	for i := 0; i < 20; i++ {
		m.RecordLearningEvent(StrategyPatternRecognition, "success")
	}

	analysis := m.AnalyzeEffectiveness()
	assert.Equal(t, "fast", analysis.LearningVelocity)
	assert.Equal(t, float64(100), analysis.CurrentSuccessRate)
	assert.Equal(t, float64(100), analysis.ImprovementTrend)
	assert.Len(t, analysis.BestStrategies, 3)
}

func TestOptimizeLearningFlags(t *testing.T) {
	m := NewMetaLearner(nil)

	// Drive one strategy below 0.6 with enough uses.
	for i := 0; i < 6; i++ {
		m.RecordLearningEvent(StrategyFeedbackIntegration, "failed")
	}

	opts := m.OptimizeLearning()

	var types []string
	for _, o := range opts {
		types = append(types, o.Type)
	}
	assert.Contains(t, types, "improve_strategy")
	assert.Contains(t, types, "activate_strategies")
	assert.Contains(t, types, "accelerate_learning")

	for _, o := range opts {
		if o.Type == "activate_strategies" {
			assert.Len(t, o.Strategies, 4, "all but feedback_integration unused")
		}
	}
}

func TestSelfImprovementAnalyze(t *testing.T) {
	s := NewSelfImprovement(nil)

	stats := metrics.Stats{
		AvgLatencies: map[string]float64{"rag": 1500, "ollama": 200},
		Errors:       map[string]int{"rag": 8, "arch": 1},
	}
	adaptive := planning.LearningInsights{
		TotalExecutions:    10,
		OverallSuccessRate: 70,
		WorstPattern:       &planning.PatternRate{Name: "debugging", SuccessRate: 50},
	}
	decisions := decision.Insights{TotalDecisions: 5, AvgConfidence: 0.5}

	found := s.Analyze(stats, adaptive, decisions)
	require.Len(t, found, 5)

	areas := map[string]bool{}
	for _, o := range found {
		areas[o.Area] = true
	}
	assert.True(t, areas["execution"])
	assert.True(t, areas["decision_making"])
	assert.True(t, areas["task_decomposition"])
	assert.True(t, areas["performance"])
	assert.True(t, areas["reliability"])
}

func TestAnalyzeHealthySystemFindsNothing(t *testing.T) {
	s := NewSelfImprovement(nil)

	found := s.Analyze(
		metrics.Stats{AvgLatencies: map[string]float64{"rag": 100}},
		planning.LearningInsights{TotalExecutions: 10, OverallSuccessRate: 98},
		decision.Insights{TotalDecisions: 5, AvgConfidence: 0.9},
	)
	assert.Empty(t, found)
}

func TestPrioritizeAndPlan(t *testing.T) {
	s := NewSelfImprovement(nil)

	s.Analyze(
		metrics.Stats{
			AvgLatencies: map[string]float64{"rag": 2000},
			Errors:       map[string]int{"rag": 10},
		},
		planning.LearningInsights{TotalExecutions: 10, OverallSuccessRate: 60},
		decision.Insights{TotalDecisions: 5, AvgConfidence: 0.4},
	)

	prioritized := s.Prioritize()
	require.NotEmpty(t, prioritized)
	// Highest score first: high impact (3) x 0.9 = 2.7.
	assert.Equal(t, ImpactHigh, prioritized[0].Impact)
	assert.InDelta(t, 0.9, prioritized[0].Confidence, 1e-9)

	plan := s.GeneratePlan()
	assert.Len(t, plan.Immediate, 2, "execution and reliability")
	assert.Len(t, plan.Scheduled, 2, "decision_making and performance")
	assert.Empty(t, plan.Backlog)
}
