package planning

import (
	"sort"
	"sync"
	"time"
)

// StepOutcome is the per-step fact the planner learns from.
type StepOutcome struct {
	Step    string        `json:"step"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
}

// ExecutionRecord is one completed task in the history log.
type ExecutionRecord struct {
	Task      string        `json:"task"`
	Steps     []string      `json:"steps"`
	Results   []StepOutcome `json:"results"`
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// maxHistory bounds the execution log.
const maxHistory = 500

type patternStats struct {
	Success int
	Total   int
}

// AdaptivePlanner learns pattern success rates and step performance
// from execution history and uses them to critique and reorder
// plans. Safe for concurrent use.
type AdaptivePlanner struct {
	mu              sync.RWMutex
	history         []ExecutionRecord
	patternRates    map[Pattern]*patternStats
	stepPerformance map[StepType][]StepOutcome
}

// NewAdaptivePlanner creates an empty planner.
func NewAdaptivePlanner() *AdaptivePlanner {
	return &AdaptivePlanner{
		patternRates:    make(map[Pattern]*patternStats),
		stepPerformance: make(map[StepType][]StepOutcome),
	}
}

// RecordExecution feeds one finished task back into the learning
// structures. A summary status of "completed" counts as a success
// for the task's pattern.
func (p *AdaptivePlanner) RecordExecution(task string, steps []string, results []StepOutcome, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, ExecutionRecord{
		Task:      task,
		Steps:     steps,
		Results:   results,
		Status:    status,
		Timestamp: time.Now(),
	})
	if len(p.history) > maxHistory {
		p.history = p.history[len(p.history)-maxHistory:]
	}

	pattern := ExtractPattern(task)
	stats := p.patternRates[pattern]
	if stats == nil {
		stats = &patternStats{}
		p.patternRates[pattern] = stats
	}
	stats.Total++
	if status == "completed" {
		stats.Success++
	}

	for _, r := range results {
		st := ClassifyStep(r.Step)
		p.stepPerformance[st] = append(p.stepPerformance[st], r)
	}
}

// Suggestion is one piece of advice about a proposed plan.
type Suggestion struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	Confidence    string `json:"confidence"`
	StepIndex     int    `json:"step_index,omitempty"`
	Step          string `json:"step,omitempty"`
	SuggestedStep string `json:"suggested_step,omitempty"`
	InsertBefore  string `json:"insert_before,omitempty"`
}

// SuggestReport bundles the pattern, its history, and the advice.
type SuggestReport struct {
	Pattern               Pattern      `json:"pattern"`
	Suggestions           []Suggestion `json:"suggestions"`
	HistoricalSuccessRate float64      `json:"historical_success_rate"`
	TotalExecutions       int          `json:"total_executions"`
}

// SuggestImprovements critiques a proposed plan against learned
// history: pattern-level warnings below 80% success, per-step
// warnings above 20% failure, and missing safety or baseline steps.
func (p *AdaptivePlanner) SuggestImprovements(task string, proposedSteps []string) SuggestReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pattern := ExtractPattern(task)
	suggestions := []Suggestion{}

	stats := p.patternRates[pattern]
	var rate float64
	var total int
	if stats != nil && stats.Total > 0 {
		total = stats.Total
		rate = float64(stats.Success) / float64(stats.Total) * 100
		if rate < 80 {
			suggestions = append(suggestions, Suggestion{
				Type:       "warning",
				Message:    "This task pattern has a low historical success rate. Consider review.",
				Confidence: "medium",
			})
		}
	}

	for i, step := range proposedSteps {
		st := ClassifyStep(step)
		perf := p.stepPerformance[st]
		if len(perf) == 0 {
			continue
		}
		failures := 0
		for _, o := range perf {
			if o.Status == "failed" {
				failures++
			}
		}
		if float64(failures) > float64(len(perf))*0.2 {
			suggestions = append(suggestions, Suggestion{
				Type:       "step_warning",
				Message:    "Step type '" + string(st) + "' has a high failure rate",
				Confidence: "high",
				StepIndex:  i,
				Step:       step,
			})
		}
	}

	if pattern == PatternAddService && !anyStepContains(proposedSteps, "backup") {
		suggestions = append(suggestions, Suggestion{
			Type:          "missing_step",
			Message:       "Consider adding backup step before applying changes",
			Confidence:    "high",
			SuggestedStep: "Create backup point",
			InsertBefore:  "Apply changes",
		})
	}
	if pattern == PatternOptimization && !anyStepContains(proposedSteps, "measure") {
		suggestions = append(suggestions, Suggestion{
			Type:          "missing_step",
			Message:       "Add baseline measurement for optimization validation",
			Confidence:    "high",
			SuggestedStep: "Measure current performance baseline",
		})
	}

	return SuggestReport{
		Pattern:               pattern,
		Suggestions:           suggestions,
		HistoricalSuccessRate: rate,
		TotalExecutions:       total,
	}
}

// SuccessRate returns the recorded success rate for a pattern in
// percent, 0 when the pattern has no history.
func (p *AdaptivePlanner) SuccessRate(pattern Pattern) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.patternRates[pattern]
	if stats == nil || stats.Total == 0 {
		return 0
	}
	return float64(stats.Success) / float64(stats.Total) * 100
}

// Executions returns how many runs have been recorded for a pattern.
func (p *AdaptivePlanner) Executions(pattern Pattern) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := p.patternRates[pattern]
	if stats == nil {
		return 0
	}
	return stats.Total
}

// OptimizeSteps drops a duplicate backup step, then stably reorders
// the rest by step-type priority. Idempotent: applying it twice
// yields the same plan.
func (p *AdaptivePlanner) OptimizeSteps(steps []string) []string {
	filtered := make([]string, 0, len(steps))
	backupSeen := false
	for _, step := range steps {
		if ClassifyStep(step) == StepBackup {
			if backupSeen {
				continue
			}
			backupSeen = true
		}
		filtered = append(filtered, step)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return priorityOf(filtered[i]) < priorityOf(filtered[j])
	})
	return filtered
}

// PatternRate names a pattern together with its success rate.
type PatternRate struct {
	Name        Pattern `json:"name"`
	SuccessRate float64 `json:"success_rate"`
}

// LearningInsights summarizes what the planner has learned so far.
type LearningInsights struct {
	TotalExecutions      int          `json:"total_executions"`
	SuccessfulExecutions int          `json:"successful_executions"`
	OverallSuccessRate   float64      `json:"overall_success_rate"`
	PatternsLearned      int          `json:"patterns_learned"`
	BestPattern          *PatternRate `json:"best_pattern,omitempty"`
	WorstPattern         *PatternRate `json:"worst_pattern,omitempty"`
	StepTypesTracked     int          `json:"step_types_tracked"`
}

// Insights reports overall learning state. Patterns need at least
// two executions to qualify as best or worst.
func (p *AdaptivePlanner) Insights() LearningInsights {
	p.mu.RLock()
	defer p.mu.RUnlock()

	successful := 0
	for _, e := range p.history {
		if e.Status == "completed" {
			successful++
		}
	}

	var best, worst *PatternRate
	bestRate, worstRate := 0.0, 100.0
	// Sorted iteration keeps ties deterministic.
	patterns := make([]Pattern, 0, len(p.patternRates))
	for pat := range p.patternRates {
		patterns = append(patterns, pat)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i] < patterns[j] })

	for _, pat := range patterns {
		stats := p.patternRates[pat]
		if stats.Total < 2 {
			continue
		}
		rate := float64(stats.Success) / float64(stats.Total) * 100
		if rate > bestRate {
			bestRate = rate
			best = &PatternRate{Name: pat, SuccessRate: rate}
		}
		if rate < worstRate {
			worstRate = rate
			worst = &PatternRate{Name: pat, SuccessRate: rate}
		}
	}

	overall := 0.0
	if len(p.history) > 0 {
		overall = float64(successful) / float64(len(p.history)) * 100
	}

	return LearningInsights{
		TotalExecutions:      len(p.history),
		SuccessfulExecutions: successful,
		OverallSuccessRate:   overall,
		PatternsLearned:      len(p.patternRates),
		BestPattern:          best,
		WorstPattern:         worst,
		StepTypesTracked:     len(p.stepPerformance),
	}
}

func anyStepContains(steps []string, token string) bool {
	for _, s := range steps {
		if containsFold(s, token) {
			return true
		}
	}
	return false
}
