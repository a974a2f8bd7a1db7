// Package planning derives task patterns, decomposes requests into
// step plans, and learns from execution history to improve both.
package planning

import "strings"

// Pattern is a short stable tag classifying a request by the kind of
// work it asks for.
type Pattern string

const (
	PatternHealthCheck    Pattern = "health_check"
	PatternAddCache       Pattern = "add_cache"
	PatternAddService     Pattern = "add_service"
	PatternCreateResource Pattern = "create_resource"
	PatternOptimization   Pattern = "optimization"
	PatternAnalysis       Pattern = "analysis"
	PatternDebugging      Pattern = "debugging"
	PatternGeneric        Pattern = "generic"
)

// ExtractPattern classifies a request. The checks run in a fixed
// order so overlapping keywords resolve deterministically.
func ExtractPattern(task string) Pattern {
	lower := strings.ToLower(task)
	switch {
	case strings.Contains(lower, "health") || strings.Contains(lower, "check"):
		return PatternHealthCheck
	case strings.Contains(lower, "add") || strings.Contains(lower, "create"):
		if strings.Contains(lower, "redis") || strings.Contains(lower, "cache") {
			return PatternAddCache
		}
		if strings.Contains(lower, "service") {
			return PatternAddService
		}
		return PatternCreateResource
	case strings.Contains(lower, "optimize") || strings.Contains(lower, "improve"):
		return PatternOptimization
	case strings.Contains(lower, "analyze"):
		return PatternAnalysis
	case strings.Contains(lower, "fix") || strings.Contains(lower, "debug"):
		return PatternDebugging
	default:
		return PatternGeneric
	}
}

// StepType classifies one plan step for performance tracking and
// ordering.
type StepType string

const (
	StepHealthCheck  StepType = "health_check"
	StepMetrics      StepType = "metrics"
	StepAnalysis     StepType = "analysis"
	StepGeneration   StepType = "generation"
	StepValidation   StepType = "validation"
	StepApplication  StepType = "application"
	StepBackup       StepType = "backup"
	StepVerification StepType = "verification"
	StepGeneric      StepType = "generic"
)

// ClassifyStep maps a step string to its type. Keyword order is a
// contract: earlier matches win.
func ClassifyStep(step string) StepType {
	lower := strings.ToLower(step)
	switch {
	case strings.Contains(lower, "health"):
		return StepHealthCheck
	case strings.Contains(lower, "metrics") || strings.Contains(lower, "measure"):
		return StepMetrics
	case strings.Contains(lower, "analyze"):
		return StepAnalysis
	case strings.Contains(lower, "generate"):
		return StepGeneration
	case strings.Contains(lower, "validate") || strings.Contains(lower, "verify"):
		return StepValidation
	case strings.Contains(lower, "apply"):
		return StepApplication
	case strings.Contains(lower, "backup"):
		return StepBackup
	default:
		return StepGeneric
	}
}

// stepPriority orders step types for OptimizeSteps. Lower runs first.
var stepPriority = map[StepType]int{
	StepBackup:       0,
	StepValidation:   1,
	StepGeneration:   2,
	StepApplication:  3,
	StepVerification: 4,
	StepHealthCheck:  5,
	StepMetrics:      6,
	StepAnalysis:     7,
	StepGeneric:      8,
}

func priorityOf(step string) int {
	if p, ok := stepPriority[ClassifyStep(step)]; ok {
		return p
	}
	return 99
}

func containsFold(s, token string) bool {
	return strings.Contains(strings.ToLower(s), token)
}
