package metrics

import (
	"fmt"
)

// TrendPrediction anticipates a future issue from metric trends.
type TrendPrediction struct {
	Type                string `json:"type"`
	Service             string `json:"service,omitempty"`
	Current             string `json:"current,omitempty"`
	Trend               string `json:"trend"`
	PredictedCriticalIn string `json:"predicted_critical_in"`
	RecommendedAction   string `json:"recommended_action"`
	Confidence          string `json:"confidence"`
	Urgency             string `json:"urgency"`
}

// PlannedAction is one entry in the proactive action plan.
type PlannedAction struct {
	Priority   string `json:"priority"`
	Reason     string `json:"reason"`
	Action     string `json:"action"`
	Confidence string `json:"confidence"`
	Schedule   string `json:"schedule,omitempty"`
}

// ActionPlan groups predicted work by urgency.
type ActionPlan struct {
	Predictions       []TrendPrediction `json:"predictions"`
	ImmediateActions  []PlannedAction   `json:"immediate_actions"`
	PlannedActions    []PlannedAction   `json:"planned_actions"`
	TotalActions      int               `json:"total_actions"`
	RequiresAttention bool              `json:"requires_attention"`
}

// PredictFutureIssues extrapolates latency, error-rate, and load
// trends into predictions.
func (s *Store) PredictFutureIssues() []TrendPrediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []TrendPrediction{}

	// Latency trending up over the last 30 samples.
	for _, svc := range sortedKeys(s.latencies) {
		lats := s.latencies[svc]
		if len(lats) <= 30 {
			continue
		}
		recent := lats[len(lats)-30:]
		first10 := mean(recent[:10])
		last10 := mean(recent[len(recent)-10:])
		if last10 <= first10*1.2 {
			continue
		}
		rate := (last10 - first10) / 20
		untilCritical := 999.0
		if rate > 0 {
			untilCritical = (1000 - last10) / rate
		}
		urgency := "low"
		if untilCritical <= 100 {
			urgency = "high"
		}
		out = append(out, TrendPrediction{
			Type:                "latency_degradation",
			Service:             svc,
			Current:             fmt.Sprintf("%.0fms", last10),
			Trend:               "increasing",
			PredictedCriticalIn: fmt.Sprintf("%d queries", int(untilCritical)),
			RecommendedAction:   fmt.Sprintf("Increase %s resources proactively", svc),
			Confidence:          "medium",
			Urgency:             urgency,
		})
	}

	// Errors accelerating within the recent query window.
	for _, svc := range sortedKeys(s.errors) {
		if s.errors[svc] <= 3 {
			continue
		}
		window := s.queries
		if len(window) > 20 {
			window = window[len(window)-20:]
		}
		var svcQueries, svcErrors int
		for _, q := range window {
			if q.Service != svc {
				continue
			}
			svcQueries++
			if !q.Success {
				svcErrors++
			}
		}
		if svcQueries <= 10 {
			continue
		}
		errRate := float64(svcErrors) / float64(svcQueries)
		if errRate > 0.2 {
			out = append(out, TrendPrediction{
				Type:                "error_rate_increase",
				Service:             svc,
				Current:             fmt.Sprintf("%.0f%%", errRate*100),
				Trend:               "increasing",
				PredictedCriticalIn: "soon",
				RecommendedAction:   fmt.Sprintf("Investigate %s logs and prepare restart", svc),
				Confidence:          "high",
				Urgency:             "high",
			})
		}
	}

	// Query rate accelerating.
	if len(s.queries) > 100 {
		lastSpan := timeSpan(s.queries[len(s.queries)-50:])
		prevSpan := timeSpan(s.queries[len(s.queries)-100 : len(s.queries)-50])
		if lastSpan > 0 && prevSpan > 0 {
			lastRate := 50 / lastSpan
			prevRate := 50 / prevSpan
			if lastRate > prevRate*1.5 {
				out = append(out, TrendPrediction{
					Type:                "load_increase",
					Current:             fmt.Sprintf("%.1f req/s", lastRate),
					Trend:               "accelerating",
					PredictedCriticalIn: "10-20 minutes",
					RecommendedAction:   "Scale up services or enable caching",
					Confidence:          "medium",
					Urgency:             "medium",
				})
			}
		}
	}

	return out
}

// GenerateActionPlan merges trend predictions with the current
// analysis into an urgency-bucketed plan.
func (s *Store) GenerateActionPlan() ActionPlan {
	predictions := s.PredictFutureIssues()
	analysis := s.AnalyzePerformance()

	immediate := []PlannedAction{}
	planned := []PlannedAction{}

	for _, p := range predictions {
		if p.Urgency == "high" {
			immediate = append(immediate, PlannedAction{
				Priority:   "immediate",
				Reason:     p.Type,
				Action:     p.RecommendedAction,
				Confidence: p.Confidence,
			})
		} else {
			planned = append(planned, PlannedAction{
				Priority:   "planned",
				Reason:     p.Type,
				Action:     p.RecommendedAction,
				Confidence: p.Confidence,
				Schedule:   p.PredictedCriticalIn,
			})
		}
	}

	for _, issue := range analysis.Issues {
		immediate = append(immediate, PlannedAction{
			Priority:   "immediate",
			Reason:     fmt.Sprintf("%s %s", issue.Service, issue.Type),
			Action:     fmt.Sprintf("Address %s %s issue", issue.Service, issue.Metric),
			Confidence: "high",
		})
	}

	for _, sg := range analysis.Suggestions {
		if sg.Priority == "high" {
			immediate = append(immediate, PlannedAction{
				Priority:   "immediate",
				Reason:     sg.Issue,
				Action:     sg.Action,
				Confidence: "high",
			})
		} else {
			planned = append(planned, PlannedAction{
				Priority:   "planned",
				Reason:     sg.Issue,
				Action:     sg.Action,
				Confidence: "medium",
				Schedule:   "when convenient",
			})
		}
	}

	return ActionPlan{
		Predictions:       predictions,
		ImmediateActions:  immediate,
		PlannedActions:    planned,
		TotalActions:      len(immediate) + len(planned),
		RequiresAttention: len(immediate) > 0,
	}
}

func timeSpan(qs []QueryRecord) float64 {
	if len(qs) < 2 {
		return 0
	}
	return qs[len(qs)-1].Timestamp.Sub(qs[0].Timestamp).Seconds()
}
