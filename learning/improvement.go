package learning

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/decision"
	"github.com/helmsman-ai/helmsman/metrics"
	"github.com/helmsman-ai/helmsman/planning"
)

// Impact levels for an improvement opportunity.
const (
	ImpactLow    = "low"
	ImpactMedium = "medium"
	ImpactHigh   = "high"
)

var impactWeights = map[string]float64{
	ImpactLow:    1,
	ImpactMedium: 2,
	ImpactHigh:   3,
}

// Opportunity is one identified improvement.
type Opportunity struct {
	Area       string    `json:"area"`
	Issue      string    `json:"issue"`
	Suggestion string    `json:"suggestion"`
	Impact     string    `json:"impact"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Applied    bool      `json:"applied"`
}

// Plan buckets opportunities by urgency.
type Plan struct {
	Immediate []Opportunity `json:"immediate"`
	Scheduled []Opportunity `json:"scheduled"`
	Backlog   []Opportunity `json:"backlog"`
}

// SelfImprovement scans system insights for improvement openings.
type SelfImprovement struct {
	mu            sync.Mutex
	opportunities []Opportunity
	logger        core.Logger
}

// NewSelfImprovement creates the engine.
func NewSelfImprovement(logger core.Logger) *SelfImprovement {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SelfImprovement{logger: logger}
}

// Analyze inspects the metrics, planner, and decision views and
// records any improvement opportunities it finds.
func (s *SelfImprovement) Analyze(stats metrics.Stats, adaptive planning.LearningInsights, decisions decision.Insights) []Opportunity {
	var found []Opportunity

	if adaptive.TotalExecutions > 0 && adaptive.OverallSuccessRate < 95 {
		found = append(found, Opportunity{
			Area:       "execution",
			Issue:      fmt.Sprintf("Success rate is %.1f%%, below optimal 95%%", adaptive.OverallSuccessRate),
			Suggestion: "Improve error handling and retry logic in the execution engine",
			Impact:     ImpactHigh,
			Confidence: 0.9,
		})
	}

	if decisions.TotalDecisions > 0 && decisions.AvgConfidence < 0.7 {
		found = append(found, Opportunity{
			Area:       "decision_making",
			Issue:      fmt.Sprintf("Average decision confidence is %.2f, below optimal 0.7", decisions.AvgConfidence),
			Suggestion: "Enhance decision rules with more context factors",
			Impact:     ImpactMedium,
			Confidence: 0.8,
		})
	}

	if adaptive.WorstPattern != nil && adaptive.WorstPattern.SuccessRate < 80 {
		found = append(found, Opportunity{
			Area:       "task_decomposition",
			Issue:      fmt.Sprintf("Pattern %q has only %.1f%% success", adaptive.WorstPattern.Name, adaptive.WorstPattern.SuccessRate),
			Suggestion: fmt.Sprintf("Refine task decomposition for the %s pattern", adaptive.WorstPattern.Name),
			Impact:     ImpactHigh,
			Confidence: 0.85,
		})
	}

	if slow := servicesOver(stats.AvgLatencies, 1000); len(slow) > 0 {
		found = append(found, Opportunity{
			Area:       "performance",
			Issue:      "High latency detected in: " + strings.Join(slow, ", "),
			Suggestion: "Implement caching or optimize service calls",
			Impact:     ImpactMedium,
			Confidence: 0.75,
		})
	}

	if noisy := serviceErrorsOver(stats.Errors, 5); len(noisy) > 0 {
		found = append(found, Opportunity{
			Area:       "reliability",
			Issue:      "High error count in: " + strings.Join(noisy, ", "),
			Suggestion: "Add circuit breaker or improve error handling",
			Impact:     ImpactHigh,
			Confidence: 0.9,
		})
	}

	now := time.Now()
	for i := range found {
		found[i].Timestamp = now
	}

	s.mu.Lock()
	s.opportunities = append(s.opportunities, found...)
	s.mu.Unlock()

	if len(found) > 0 {
		s.logger.Info("Improvement opportunities identified", map[string]interface{}{
			"operation": "self_improvement",
			"count":     len(found),
		})
	}
	return found
}

// Prioritize orders unapplied opportunities by impact weight times
// confidence, highest first.
func (s *SelfImprovement) Prioritize() []Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]Opportunity, 0, len(s.opportunities))
	for _, o := range s.opportunities {
		if !o.Applied {
			pending = append(pending, o)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return impactWeights[pending[i].Impact]*pending[i].Confidence >
			impactWeights[pending[j].Impact]*pending[j].Confidence
	})
	return pending
}

// GeneratePlan buckets the prioritized opportunities: immediate for
// high impact with confidence ≥ 0.8, scheduled for high/medium with
// confidence ≥ 0.6, backlog for the rest.
func (s *SelfImprovement) GeneratePlan() Plan {
	plan := Plan{
		Immediate: []Opportunity{},
		Scheduled: []Opportunity{},
		Backlog:   []Opportunity{},
	}
	for _, o := range s.Prioritize() {
		switch {
		case o.Impact == ImpactHigh && o.Confidence >= 0.8:
			plan.Immediate = append(plan.Immediate, o)
		case (o.Impact == ImpactHigh || o.Impact == ImpactMedium) && o.Confidence >= 0.6:
			plan.Scheduled = append(plan.Scheduled, o)
		default:
			plan.Backlog = append(plan.Backlog, o)
		}
	}
	return plan
}

func servicesOver(latencies map[string]float64, threshold float64) []string {
	var out []string
	for svc, lat := range latencies {
		if lat > threshold {
			out = append(out, svc)
		}
	}
	sort.Strings(out)
	return out
}

func serviceErrorsOver(errors map[string]int, threshold int) []string {
	var out []string
	for svc, n := range errors {
		if n > threshold {
			out = append(out, svc)
		}
	}
	sort.Strings(out)
	return out
}
