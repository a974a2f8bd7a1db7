package planning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Prediction is one anticipated issue.
type Prediction struct {
	Type              string    `json:"type"`
	Description       string    `json:"description"`
	Probability       float64   `json:"probability"`
	TimeHorizon       string    `json:"time_horizon"` // immediate, short_term, long_term
	RecommendedAction string    `json:"recommended_action"`
	Timestamp         time.Time `json:"timestamp"`
	Prevented         bool      `json:"prevented"`
}

// TrendInput is the metrics snapshot the predictive engine reads.
type TrendInput struct {
	TotalQueries int
	Errors       map[string]int
	AvgLatencies map[string]float64
}

// FailurePoint flags a risky step in a plan.
type FailurePoint struct {
	StepIndex          int     `json:"step_index"`
	Step               string  `json:"step"`
	FailureProbability float64 `json:"failure_probability"`
	Mitigation         string  `json:"mitigation"`
}

// ProactiveAction is a recommended preventive measure.
type ProactiveAction struct {
	Priority       string `json:"priority"`
	Action         string `json:"action"`
	Reason         string `json:"reason"`
	AutoExecutable bool   `json:"auto_executable"`
}

type accuracyStats struct {
	Correct int
	Total   int
}

// PredictiveEngine turns metric and learning trends into predictions
// of future issues. Safe for concurrent use.
type PredictiveEngine struct {
	mu          sync.RWMutex
	predictions []Prediction
	prevented   int
	accuracy    map[string]*accuracyStats
}

// NewPredictiveEngine creates an empty engine.
func NewPredictiveEngine() *PredictiveEngine {
	return &PredictiveEngine{
		accuracy: make(map[string]*accuracyStats),
	}
}

// AnalyzeTrends applies the fixed rule table to the current state and
// records the resulting predictions.
func (e *PredictiveEngine) AnalyzeTrends(in TrendInput, insights LearningInsights) []Prediction {
	now := time.Now()
	var out []Prediction

	sr := insights.OverallSuccessRate
	if sr < 100 && sr > 90 {
		out = append(out, Prediction{
			Type:              "performance_degradation",
			Description:       fmt.Sprintf("Success rate declining to %.1f%%, may drop below 90%% soon", sr),
			Probability:       0.6,
			TimeHorizon:       "short_term",
			RecommendedAction: "Review recent failures and improve error handling",
			Timestamp:         now,
		})
	} else if sr <= 90 {
		out = append(out, Prediction{
			Type:              "critical_performance",
			Description:       fmt.Sprintf("Success rate at %.1f%%, critical threshold reached", sr),
			Probability:       0.9,
			TimeHorizon:       "immediate",
			RecommendedAction: "Immediate investigation required - system reliability at risk",
			Timestamp:         now,
		})
	}

	totalErrors := 0
	for _, n := range in.Errors {
		totalErrors += n
	}
	if totalErrors > 10 {
		out = append(out, Prediction{
			Type:              "error_spike",
			Description:       fmt.Sprintf("Error count at %d, may indicate systemic issue", totalErrors),
			Probability:       0.75,
			TimeHorizon:       "immediate",
			RecommendedAction: "Investigate error patterns and implement fixes",
			Timestamp:         now,
		})
	}

	var slow []string
	for svc, lat := range in.AvgLatencies {
		if lat > 1500 {
			slow = append(slow, svc)
		}
	}
	if len(slow) > 0 {
		sort.Strings(slow)
		out = append(out, Prediction{
			Type:              "latency_increase",
			Description:       fmt.Sprintf("Services %s showing high latency, may worsen", strings.Join(slow, ", ")),
			Probability:       0.7,
			TimeHorizon:       "short_term",
			RecommendedAction: "Optimize slow services or add caching",
			Timestamp:         now,
		})
	}

	if insights.PatternsLearned < 3 {
		out = append(out, Prediction{
			Type:              "insufficient_learning",
			Description:       "System has limited learning data, predictions may be inaccurate",
			Probability:       0.8,
			TimeHorizon:       "long_term",
			RecommendedAction: "Execute more diverse tasks to build learning history",
			Timestamp:         now,
		})
	}

	if in.TotalQueries > 100 {
		out = append(out, Prediction{
			Type:              "resource_pressure",
			Description:       fmt.Sprintf("High query volume (%d), may need scaling", in.TotalQueries),
			Probability:       0.5,
			TimeHorizon:       "long_term",
			RecommendedAction: "Monitor resource usage and plan for scaling",
			Timestamp:         now,
		})
	}

	e.mu.Lock()
	e.predictions = append(e.predictions, out...)
	e.mu.Unlock()
	return out
}

// PredictFailurePoints scores each step by risk keywords and reports
// the ones above the 0.4 threshold with a mitigation.
func (e *PredictiveEngine) PredictFailurePoints(steps []string) []FailurePoint {
	out := []FailurePoint{}
	for i, step := range steps {
		lower := strings.ToLower(step)
		risk := 0.1
		switch {
		case containsAnyToken(lower, "delete", "drop", "remove"):
			risk = 0.8
		case containsAnyToken(lower, "modify", "update", "change"):
			risk = 0.5
		case containsAnyToken(lower, "generate", "create"):
			risk = 0.3
		}
		if strings.Contains(lower, "production") || strings.Contains(lower, "database") {
			risk = math.Min(risk+0.2, 1.0)
		}
		if risk > 0.4 {
			out = append(out, FailurePoint{
				StepIndex:          i,
				Step:               step,
				FailureProbability: math.Round(risk*100) / 100,
				Mitigation:         suggestMitigation(lower),
			})
		}
	}
	return out
}

func suggestMitigation(lower string) string {
	switch {
	case strings.Contains(lower, "delete") || strings.Contains(lower, "drop"):
		return "Add backup before deletion and implement soft delete"
	case strings.Contains(lower, "modify") || strings.Contains(lower, "update"):
		return "Create rollback point and validate changes"
	case strings.Contains(lower, "generate"):
		return "Validate generated output before applying"
	default:
		return "Add error handling and retry logic"
	}
}

// GenerateProactiveActions turns predictions into preventive actions.
// Only error spikes and latency increases are safe to auto-execute.
func (e *PredictiveEngine) GenerateProactiveActions(preds []Prediction) []ProactiveAction {
	out := []ProactiveAction{}
	for _, p := range preds {
		switch {
		case p.Probability > 0.7 && p.TimeHorizon == "immediate":
			out = append(out, ProactiveAction{
				Priority:       "high",
				Action:         p.RecommendedAction,
				Reason:         p.Description,
				AutoExecutable: p.Type == "error_spike" || p.Type == "latency_increase",
			})
		case p.Probability > 0.6:
			out = append(out, ProactiveAction{
				Priority: "medium",
				Action:   p.RecommendedAction,
				Reason:   p.Description,
			})
		}
	}
	return out
}

// ValidatePrediction records whether a prediction came true.
func (e *PredictiveEngine) ValidatePrediction(predictionType string, actualOutcome bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.accuracy[predictionType]
	if stats == nil {
		stats = &accuracyStats{}
		e.accuracy[predictionType] = stats
	}
	stats.Total++
	if actualOutcome {
		stats.Correct++
	}
}

// AccuracyByType reports per-type and overall prediction accuracy.
type AccuracyByType struct {
	Accuracy           float64 `json:"accuracy"`
	PredictionsMade    int     `json:"predictions_made"`
	CorrectPredictions int     `json:"correct_predictions"`
}

// AccuracyReport is the engine's self-assessment.
type AccuracyReport struct {
	OverallAccuracy  float64                   `json:"overall_accuracy"`
	ByType           map[string]AccuracyByType `json:"by_type"`
	TotalPredictions int                       `json:"total_predictions"`
}

// Accuracy computes the accuracy report.
func (e *PredictiveEngine) Accuracy() AccuracyReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byType := make(map[string]AccuracyByType, len(e.accuracy))
	correct, total := 0, 0
	for t, stats := range e.accuracy {
		if stats.Total == 0 {
			continue
		}
		byType[t] = AccuracyByType{
			Accuracy:           math.Round(float64(stats.Correct)/float64(stats.Total)*1000) / 10,
			PredictionsMade:    stats.Total,
			CorrectPredictions: stats.Correct,
		}
		correct += stats.Correct
		total += stats.Total
	}

	overall := 0.0
	if total > 0 {
		overall = math.Round(float64(correct)/float64(total)*1000) / 10
	}
	return AccuracyReport{
		OverallAccuracy:  overall,
		ByType:           byType,
		TotalPredictions: total,
	}
}

// PredictiveInsights summarizes engine state for the API.
type PredictiveInsights struct {
	TotalPredictions  int            `json:"total_predictions"`
	ActivePredictions int            `json:"active_predictions"`
	PreventedIssues   int            `json:"prevented_issues"`
	ByHorizon         map[string]int `json:"by_horizon"`
	Accuracy          AccuracyReport `json:"accuracy"`
	RecentPredictions []Prediction   `json:"recent_predictions"`
}

// Insights reports current predictions grouped by horizon plus the
// five most recent active ones.
func (e *PredictiveEngine) Insights() PredictiveInsights {
	e.mu.RLock()
	active := make([]Prediction, 0, len(e.predictions))
	for _, p := range e.predictions {
		if !p.Prevented {
			active = append(active, p)
		}
	}
	totalPreds := len(e.predictions)
	prevented := e.prevented
	e.mu.RUnlock()

	horizon := map[string]int{"immediate": 0, "short_term": 0, "long_term": 0}
	for _, p := range active {
		horizon[p.TimeHorizon]++
	}

	recent := active
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	return PredictiveInsights{
		TotalPredictions:  totalPreds,
		ActivePredictions: len(active),
		PreventedIssues:   prevented,
		ByHorizon:         horizon,
		Accuracy:          e.Accuracy(),
		RecentPredictions: recent,
	}
}

func containsAnyToken(s string, tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
