package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPattern(t *testing.T) {
	tests := []struct {
		task string
		want Pattern
	}{
		{"Check system health status", PatternHealthCheck},
		{"health report please", PatternHealthCheck},
		{"add redis caching layer", PatternAddCache},
		{"create a cache for queries", PatternAddCache},
		{"add a new service", PatternAddService},
		{"create a hello world program", PatternCreateResource},
		{"optimize query latency", PatternOptimization},
		{"improve throughput", PatternOptimization},
		{"analyze the slowdown", PatternAnalysis},
		{"fix the failing endpoint", PatternDebugging},
		{"debug the crash", PatternDebugging},
		{"random request", PatternGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPattern(tt.task))
		})
	}
}

func TestClassifyStep(t *testing.T) {
	tests := []struct {
		step string
		want StepType
	}{
		{"Check rag service health", StepHealthCheck},
		{"Get metrics", StepMetrics},
		{"Measure current performance baseline", StepMetrics},
		{"Analyze results", StepAnalysis},
		{"Generate configuration", StepGeneration},
		{"Validate safety", StepValidation},
		{"Verify result", StepValidation},
		{"Apply changes", StepApplication},
		{"Create backup point", StepBackup},
		{"Parse requirements", StepGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStep(tt.step))
		})
	}
}

func TestClassifyStepPrecedence(t *testing.T) {
	// "health" wins over "verify" when both appear.
	assert.Equal(t, StepHealthCheck, ClassifyStep("Verify system health"))
	// "analyze" wins over "generate".
	assert.Equal(t, StepAnalysis, ClassifyStep("Analyze and generate summary"))
}
