package planning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordN(p *AdaptivePlanner, task string, n int, status string) {
	for i := 0; i < n; i++ {
		p.RecordExecution(task, []string{"Analyze request"}, []StepOutcome{
			{Step: "Analyze request", Status: "success", Latency: 100 * time.Millisecond},
		}, status)
	}
}

func TestRecordExecutionUpdatesRates(t *testing.T) {
	p := NewAdaptivePlanner()
	recordN(p, "check health", 3, "completed")
	recordN(p, "check health", 1, "failed")

	assert.InDelta(t, 75.0, p.SuccessRate(PatternHealthCheck), 0.01)
	assert.Equal(t, 4, p.Executions(PatternHealthCheck))
}

func TestSuccessRateOrderIndependent(t *testing.T) {
	a := NewAdaptivePlanner()
	recordN(a, "check health", 2, "completed")
	recordN(a, "check health", 1, "failed")

	b := NewAdaptivePlanner()
	recordN(b, "check health", 1, "failed")
	recordN(b, "check health", 2, "completed")

	assert.Equal(t, a.SuccessRate(PatternHealthCheck), b.SuccessRate(PatternHealthCheck))
}

func TestSuggestImprovementsLowSuccessWarning(t *testing.T) {
	p := NewAdaptivePlanner()
	recordN(p, "check health", 1, "failed")

	report := p.SuggestImprovements("check health", []string{"Check system health"})
	require.NotEmpty(t, report.Suggestions)
	assert.Equal(t, "warning", report.Suggestions[0].Type)
	assert.Equal(t, PatternHealthCheck, report.Pattern)
	assert.Equal(t, 1, report.TotalExecutions)
}

func TestSuggestImprovementsNoHistoryNoWarning(t *testing.T) {
	p := NewAdaptivePlanner()
	report := p.SuggestImprovements("check health", []string{"Check system health"})
	assert.Empty(t, report.Suggestions)
	assert.Zero(t, report.HistoricalSuccessRate)
}

func TestSuggestImprovementsStepFailureWarning(t *testing.T) {
	p := NewAdaptivePlanner()
	// 2 of 4 generation steps failed: 50% > 20% threshold.
	p.RecordExecution("create service", []string{"Generate configuration"}, []StepOutcome{
		{Step: "Generate configuration", Status: "failed"},
		{Step: "Generate configuration", Status: "failed"},
		{Step: "Generate configuration", Status: "success"},
		{Step: "Generate configuration", Status: "success"},
	}, "completed")

	report := p.SuggestImprovements("create another service", []string{"Generate configuration"})
	found := false
	for _, s := range report.Suggestions {
		if s.Type == "step_warning" {
			found = true
			assert.Equal(t, 0, s.StepIndex)
		}
	}
	assert.True(t, found)
}

func TestSuggestMissingBackupForAddService(t *testing.T) {
	p := NewAdaptivePlanner()
	report := p.SuggestImprovements("add a payments service", []string{
		"Parse requirements", "Generate configuration", "Apply changes",
	})
	require.Len(t, report.Suggestions, 1)
	assert.Equal(t, "missing_step", report.Suggestions[0].Type)
	assert.Equal(t, "Create backup point", report.Suggestions[0].SuggestedStep)
}

func TestSuggestBaselineForOptimization(t *testing.T) {
	p := NewAdaptivePlanner()
	report := p.SuggestImprovements("optimize latency", []string{
		"Analyze current performance", "Apply optimizations",
	})
	require.Len(t, report.Suggestions, 1)
	assert.Equal(t, "Measure current performance baseline", report.Suggestions[0].SuggestedStep)
}

func TestOptimizeStepsDedupesSecondBackup(t *testing.T) {
	p := NewAdaptivePlanner()
	out := p.OptimizeSteps([]string{
		"Create backup point",
		"Apply changes",
		"Create backup point",
	})
	backups := 0
	for _, s := range out {
		if ClassifyStep(s) == StepBackup {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}

func TestOptimizeStepsOrder(t *testing.T) {
	p := NewAdaptivePlanner()
	out := p.OptimizeSteps([]string{
		"Analyze results",
		"Apply changes",
		"Validate safety",
		"Create backup point",
	})
	assert.Equal(t, []string{
		"Create backup point",
		"Validate safety",
		"Apply changes",
		"Analyze results",
	}, out)
}

func TestOptimizeStepsIdempotent(t *testing.T) {
	p := NewAdaptivePlanner()
	in := []string{
		"Create backup point", "Verify result", "Generate configuration",
		"Apply changes", "Get metrics", "Analyze results", "Parse requirements",
	}
	once := p.OptimizeSteps(in)
	twice := p.OptimizeSteps(once)
	assert.Equal(t, once, twice)
}

func TestOptimizeStepsStableWithinBand(t *testing.T) {
	p := NewAdaptivePlanner()
	out := p.OptimizeSteps([]string{
		"Check rag service health",
		"Check ollama service health",
		"Check arch service health",
	})
	assert.Equal(t, "Check rag service health", out[0])
	assert.Equal(t, "Check ollama service health", out[1])
	assert.Equal(t, "Check arch service health", out[2])
}

func TestInsights(t *testing.T) {
	p := NewAdaptivePlanner()
	recordN(p, "check health", 3, "completed")
	recordN(p, "fix the bug", 2, "failed")
	recordN(p, "optimize latency", 1, "completed")

	in := p.Insights()
	assert.Equal(t, 6, in.TotalExecutions)
	assert.Equal(t, 4, in.SuccessfulExecutions)
	assert.Equal(t, 3, in.PatternsLearned)
	// optimization has a single run: too little history for best/worst.
	require.NotNil(t, in.BestPattern)
	assert.Equal(t, PatternHealthCheck, in.BestPattern.Name)
	require.NotNil(t, in.WorstPattern)
	assert.Equal(t, PatternDebugging, in.WorstPattern.Name)
}
