package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordQueryWindows(t *testing.T) {
	s := NewStore(nil, nil)

	for i := 0; i < 1100; i++ {
		s.RecordQuery("rag", fmt.Sprintf("query %d", i), 100, true)
	}

	stats := s.GetStats()
	assert.Equal(t, 1000, stats.TotalQueries, "global window capped at 1000")

	// Per-service latency window capped at 100.
	s2 := NewStore(nil, nil)
	for i := 0; i < 150; i++ {
		lat := 100.0
		if i < 50 {
			lat = 10000.0 // should fall out of the window
		}
		s2.RecordQuery("ollama", "q", lat, true)
	}
	assert.InDelta(t, 100.0, s2.GetStats().AvgLatencies["ollama"], 0.01)
}

func TestErrorCounting(t *testing.T) {
	s := NewStore(nil, nil)
	s.RecordQuery("rag", "q", 100, false)
	s.RecordQuery("rag", "q", 100, false)
	s.RecordQuery("ollama", "q", 100, true)

	stats := s.GetStats()
	assert.Equal(t, 2, stats.Errors["rag"])
	assert.Zero(t, stats.Errors["ollama"])
}

func TestTopPatternsIgnoreShortWords(t *testing.T) {
	s := NewStore(nil, nil)
	s.RecordQuery("rag", "how to use docker with redis", 50, true)

	stats := s.GetStats()
	assert.Contains(t, stats.TopPatterns, "docker")
	assert.Contains(t, stats.TopPatterns, "redis")
	assert.NotContains(t, stats.TopPatterns, "to")
	assert.NotContains(t, stats.TopPatterns, "use")
}

func TestHealthScoreDeductions(t *testing.T) {
	s := NewStore(nil, nil)
	assert.Equal(t, 100, s.HealthScore())

	// One slow service: -10.
	for i := 0; i < 10; i++ {
		s.RecordQuery("rag", "q", 600, true)
	}
	assert.Equal(t, 90, s.HealthScore())

	// Moderate latency on another: -5.
	for i := 0; i < 10; i++ {
		s.RecordQuery("ollama", "q", 400, true)
	}
	assert.Equal(t, 85, s.HealthScore())

	// More than 10 errors: -20.
	for i := 0; i < 11; i++ {
		s.RecordQuery("arch", "q", 100, false)
	}
	assert.Equal(t, 65, s.HealthScore())
}

func TestHealthScoreClampsAtZero(t *testing.T) {
	s := NewStore(nil, nil)
	for _, svc := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		for i := 0; i < 5; i++ {
			s.RecordQuery(svc, "q", 900, false)
		}
	}
	assert.GreaterOrEqual(t, s.HealthScore(), 0)
	assert.Equal(t, 0, s.HealthScore())
}

func TestAnalyzePerformanceSlowRAG(t *testing.T) {
	s := NewStore(nil, nil)
	for i := 0; i < 10; i++ {
		s.RecordQuery("rag", "q", 800, true)
	}

	a := s.AnalyzePerformance()
	require.NotEmpty(t, a.Issues)
	assert.Equal(t, "rag", a.Issues[0].Service)
	assert.Equal(t, "latency", a.Issues[0].Metric)
	require.NotEmpty(t, a.Suggestions)
	assert.Equal(t, "Add Redis cache service", a.Suggestions[0].Action)
	assert.Equal(t, "high", a.Suggestions[0].Priority)
}

func TestAnalysisCacheServesStaleWithinTTL(t *testing.T) {
	s := NewStore(nil, nil)
	for i := 0; i < 10; i++ {
		s.RecordQuery("rag", "q", 800, true)
	}
	first := s.AnalyzePerformance()

	// New errors do not show up until the cache expires.
	for i := 0; i < 8; i++ {
		s.RecordQuery("arch", "q", 100, false)
	}
	second := s.AnalyzePerformance()
	assert.Equal(t, len(first.Issues), len(second.Issues))
}

func TestPreferenceAdjustsSuggestionPriority(t *testing.T) {
	s := NewStore(nil, nil)
	s.RecordSuggestionOutcome("Add Redis cache service", "dismissed")
	for i := 0; i < 10; i++ {
		s.RecordQuery("rag", "q", 800, true)
	}

	a := s.AnalyzePerformance()
	require.NotEmpty(t, a.Suggestions)
	assert.Equal(t, "low", a.Suggestions[0].Priority, "dismissals lower the priority")
	assert.True(t, a.Suggestions[0].LearningAdjusted)
	assert.True(t, a.LearningApplied)
}

func TestLearningReport(t *testing.T) {
	s := NewStore(nil, nil)
	assert.Zero(t, s.GetLearningReport().TotalSuggestions)

	s.RecordSuggestionOutcome("Add Redis cache service", "applied")
	s.RecordSuggestionOutcome("Add Redis cache service", "applied")
	s.RecordSuggestionOutcome("Optimize RAG for Docker content", "dismissed")

	r := s.GetLearningReport()
	assert.Equal(t, 3, r.TotalSuggestions)
	assert.Equal(t, 2, r.AppliedCount)
	assert.Equal(t, 1, r.DismissedCount)
	assert.InDelta(t, 2.0/3.0, r.AcceptanceRate, 0.001)
	assert.Equal(t, 2, r.PreferredActions["Add Redis cache service"])
}

func TestAutoHealingOpportunities(t *testing.T) {
	s := NewStore(nil, nil)
	for i := 0; i < 11; i++ {
		s.RecordQuery("ollama", "q", 100, false)
	}
	opps := s.DetectAutoHealingOpportunities()
	require.Len(t, opps, 1)
	assert.Equal(t, "auto_heal", opps[0].Type)
	assert.Equal(t, "ollama", opps[0].Service)
	assert.True(t, opps[0].Safe)
}

func TestAutoHealDetectsLatencyDoubling(t *testing.T) {
	s := NewStore(nil, nil)
	for i := 0; i < 15; i++ {
		s.RecordQuery("rag", "q", 100, true)
	}
	for i := 0; i < 10; i++ {
		s.RecordQuery("rag", "q", 400, true)
	}
	opps := s.DetectAutoHealingOpportunities()
	require.Len(t, opps, 1)
	assert.Equal(t, "auto_optimize", opps[0].Type)
}

func TestPredictFutureIssuesLatencyTrend(t *testing.T) {
	s := NewStore(nil, nil)
	for i := 0; i < 40; i++ {
		s.RecordQuery("rag", "q", 100+float64(i)*20, true)
	}
	preds := s.PredictFutureIssues()
	require.NotEmpty(t, preds)
	assert.Equal(t, "latency_degradation", preds[0].Type)
	assert.Equal(t, "rag", preds[0].Service)
}

func TestGenerateActionPlan(t *testing.T) {
	s := NewStore(nil, nil)
	for i := 0; i < 10; i++ {
		s.RecordQuery("rag", "q", 800, true)
	}
	plan := s.GenerateActionPlan()
	assert.True(t, plan.RequiresAttention)
	assert.NotEmpty(t, plan.ImmediateActions)
	assert.Equal(t, len(plan.ImmediateActions)+len(plan.PlannedActions), plan.TotalActions)
}

func TestPrometheusRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStore(reg, nil)
	s.RecordQuery("rag", "q", 100, false)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["helmsman_backend_queries_total"])
	assert.True(t, names["helmsman_backend_errors_total"])
	assert.True(t, names["helmsman_backend_latency_ms"])
}
