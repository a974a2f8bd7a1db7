package metrics

import (
	"fmt"
	"time"
)

// LearningReport summarizes how suggestions were received.
type LearningReport struct {
	TotalSuggestions int            `json:"total_suggestions"`
	AppliedCount     int            `json:"applied_count"`
	DismissedCount   int            `json:"dismissed_count"`
	AcceptanceRate   float64        `json:"acceptance_rate"`
	Insights         []string       `json:"insights"`
	PreferredActions map[string]int `json:"preferred_actions,omitempty"`
	AvoidedActions   map[string]int `json:"avoided_actions,omitempty"`
}

// CombinedInsights merges performance analysis with suggestion
// learning. Cached for three seconds.
type CombinedInsights struct {
	Insights      []string         `json:"insights"`
	Suggestions   []SuggestionItem `json:"suggestions"`
	HealthScore   int              `json:"health_score"`
	LearningStats struct {
		TotalSuggestions int     `json:"total_suggestions"`
		AcceptanceRate   float64 `json:"acceptance_rate"`
	} `json:"learning_stats"`
}

// RecordSuggestionOutcome notes whether the user applied or
// dismissed a suggestion, updating preference counters.
func (s *Store) RecordSuggestionOutcome(action, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.suggestionEvents = append(s.suggestionEvents, suggestionOutcome{
		Timestamp: time.Now(),
		Action:    action,
		Outcome:   outcome,
	})
	if len(s.suggestionEvents) > maxSuggestionEvents {
		s.suggestionEvents = s.suggestionEvents[len(s.suggestionEvents)-maxSuggestionEvents:]
	}

	switch outcome {
	case "applied":
		s.preferredActions[action]++
	case "dismissed":
		s.avoidedActions[action]++
		s.dismissed = append(s.dismissed, action)
	}
}

// GetLearningReport builds the suggestion-learning summary.
func (s *Store) GetLearningReport() LearningReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.learningReportLocked()
}

func (s *Store) learningReportLocked() LearningReport {
	if len(s.suggestionEvents) == 0 {
		return LearningReport{Insights: []string{}}
	}

	applied, dismissed := 0, 0
	for _, e := range s.suggestionEvents {
		switch e.Outcome {
		case "applied":
			applied++
		case "dismissed":
			dismissed++
		}
	}

	insights := []string{}
	if top, n := maxEntry(s.preferredActions); top != "" {
		insights = append(insights, fmt.Sprintf("User prefers: %s (applied %d times)", top, n))
	}
	if top, n := maxEntry(s.avoidedActions); top != "" {
		insights = append(insights, fmt.Sprintf("User avoids: %s (dismissed %d times)", top, n))
	}

	if len(s.suggestionEvents) > 5 {
		recent := s.suggestionEvents[len(s.suggestionEvents)-5:]
		recentApplied := 0
		for _, e := range recent {
			if e.Outcome == "applied" {
				recentApplied++
			}
		}
		rate := float64(recentApplied) / float64(len(recent))
		if rate > 0.7 {
			insights = append(insights, "User is actively accepting suggestions")
		} else if rate < 0.3 {
			insights = append(insights, "User is cautious with suggestions")
		}
	}

	preferred := make(map[string]int, len(s.preferredActions))
	for k, v := range s.preferredActions {
		preferred[k] = v
	}
	avoided := make(map[string]int, len(s.avoidedActions))
	for k, v := range s.avoidedActions {
		avoided[k] = v
	}

	return LearningReport{
		TotalSuggestions: len(s.suggestionEvents),
		AppliedCount:     applied,
		DismissedCount:   dismissed,
		AcceptanceRate:   float64(applied) / float64(len(s.suggestionEvents)),
		Insights:         insights,
		PreferredActions: preferred,
		AvoidedActions:   avoided,
	}
}

// GetInsights returns the combined analysis + learning view, cached
// for three seconds. A stale read within the TTL is acceptable.
func (s *Store) GetInsights() CombinedInsights {
	s.mu.Lock()
	if s.insightsCache != nil && time.Since(s.insightsCacheTime) < insightsCacheTTL {
		cached := *s.insightsCache
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	analysis := s.AnalyzePerformance()

	s.mu.Lock()
	defer s.mu.Unlock()
	learning := s.learningReportLocked()

	result := CombinedInsights{
		Insights:    append(append([]string{}, analysis.Insights...), learning.Insights...),
		Suggestions: analysis.Suggestions,
		HealthScore: analysis.HealthScore,
	}
	result.LearningStats.TotalSuggestions = learning.TotalSuggestions
	result.LearningStats.AcceptanceRate = learning.AcceptanceRate

	s.insightsCache = &result
	s.insightsCacheTime = time.Now()
	return result
}

// RecordServiceHealth stores the last observed status of a backend.
func (s *Store) RecordServiceHealth(service, status string, details map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceHealth[service] = ServiceHealth{
		Status:    status,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// ServiceHealthSnapshot returns the recorded per-service statuses.
func (s *Store) ServiceHealthSnapshot() map[string]ServiceHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ServiceHealth, len(s.serviceHealth))
	for k, v := range s.serviceHealth {
		out[k] = v
	}
	return out
}

// DetectAutoHealingOpportunities flags services with error spikes or
// doubled latency.
func (s *Store) DetectAutoHealingOpportunities() []Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Opportunity{}
	for _, svc := range sortedKeys(s.errors) {
		if s.errors[svc] > 10 {
			out = append(out, Opportunity{
				Type:       "auto_heal",
				Service:    svc,
				Issue:      fmt.Sprintf("High error rate: %d errors", s.errors[svc]),
				Action:     fmt.Sprintf("Restart %s service", svc),
				Confidence: "high",
				Safe:       true,
			})
		}
	}

	for _, svc := range sortedKeys(s.latencies) {
		lats := s.latencies[svc]
		if len(lats) <= 20 {
			continue
		}
		recent := mean(lats[len(lats)-10:])
		older := mean(lats[len(lats)-20 : len(lats)-10])
		if recent > older*2 {
			out = append(out, Opportunity{
				Type:       "auto_optimize",
				Service:    svc,
				Issue:      fmt.Sprintf("Performance degraded: %.0fms → %.0fms", older, recent),
				Action:     fmt.Sprintf("Increase %s memory", svc),
				Confidence: "medium",
				Safe:       true,
			})
		}
	}
	return out
}

// RecordAutoAction logs an autonomous action and its result.
func (s *Store) RecordAutoAction(action map[string]interface{}, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoActions = append(s.autoActions, AutoAction{
		Timestamp: time.Now(),
		Action:    action,
		Result:    result,
	})
	if len(s.autoActions) > maxAutoActions {
		s.autoActions = s.autoActions[len(s.autoActions)-maxAutoActions:]
	}
}

func maxEntry(m map[string]int) (string, int) {
	best, n := "", 0
	for _, k := range sortedKeys(m) {
		if m[k] > n {
			best, n = k, m[k]
		}
	}
	return best, n
}
