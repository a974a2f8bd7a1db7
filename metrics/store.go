// Package metrics keeps sliding windows of query outcomes and turns
// them into health scores, performance analysis, suggestions, and
// proactive action plans.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/helmsman-ai/helmsman/core"
)

const (
	maxQueries          = 1000
	maxLatenciesPerSvc  = 100
	maxSuggestionEvents = 100
	maxAutoActions      = 50

	analysisCacheTTL = 5 * time.Second
	insightsCacheTTL = 3 * time.Second
)

// QueryRecord is one recorded backend call. Latency is milliseconds.
type QueryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Query     string    `json:"query"`
	Latency   float64   `json:"latency"`
	Success   bool      `json:"success"`
}

// Issue flags a metric crossing its threshold.
type Issue struct {
	Type      string  `json:"type"`
	Service   string  `json:"service"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// SuggestionItem is one actionable recommendation.
type SuggestionItem struct {
	Issue               string `json:"issue"`
	Suggestion          string `json:"suggestion"`
	ExpectedImprovement string `json:"expected_improvement"`
	Action              string `json:"action"`
	Priority            string `json:"priority"`
	LearningAdjusted    bool   `json:"learning_adjusted"`
}

// Analysis is the cached performance report.
type Analysis struct {
	Issues          []Issue          `json:"issues"`
	Suggestions     []SuggestionItem `json:"suggestions"`
	HealthScore     int              `json:"health_score"`
	Insights        []string         `json:"insights"`
	LearningApplied bool             `json:"learning_applied"`
}

// Stats is the raw statistics view.
type Stats struct {
	TotalQueries  int                `json:"total_queries"`
	AvgLatencies  map[string]float64 `json:"avg_latencies"`
	Errors        map[string]int     `json:"errors"`
	TopPatterns   map[string]int     `json:"top_patterns"`
	RecentQueries []QueryRecord      `json:"recent_queries"`
}

type suggestionOutcome struct {
	Timestamp time.Time
	Action    string
	Outcome   string // applied or dismissed
}

// ServiceHealth is the last reported liveness of one backend.
type ServiceHealth struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AutoAction records one autonomous action and its result.
type AutoAction struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    map[string]interface{} `json:"action"`
	Result    string                 `json:"result"`
}

// Opportunity is a detected auto-healing or optimization opening.
type Opportunity struct {
	Type       string `json:"type"`
	Service    string `json:"service"`
	Issue      string `json:"issue"`
	Action     string `json:"action"`
	Confidence string `json:"confidence"`
	Safe       bool   `json:"safe"`
}

// Store is the process-wide metrics singleton. Safe for concurrent
// use; all windows truncate atomically with the insert.
type Store struct {
	mu sync.Mutex

	queries   []QueryRecord
	latencies map[string][]float64
	errors    map[string]int
	patterns  map[string]int

	suggestionEvents []suggestionOutcome
	preferredActions map[string]int
	avoidedActions   map[string]int
	dismissed        []string

	serviceHealth map[string]ServiceHealth
	autoActions   []AutoAction

	analysisCache     *Analysis
	analysisCacheTime time.Time
	insightsCache     *CombinedInsights
	insightsCacheTime time.Time

	logger core.Logger

	promQueries *prometheus.CounterVec
	promErrors  *prometheus.CounterVec
	promLatency *prometheus.HistogramVec
}

// NewStore creates a metrics store. Prometheus collectors register
// against reg; pass nil to skip registration (tests).
func NewStore(reg prometheus.Registerer, logger core.Logger) *Store {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Store{
		latencies:        make(map[string][]float64),
		errors:           make(map[string]int),
		patterns:         make(map[string]int),
		preferredActions: make(map[string]int),
		avoidedActions:   make(map[string]int),
		serviceHealth:    make(map[string]ServiceHealth),
		logger:           logger,
	}
	if reg != nil {
		factory := promauto.With(reg)
		s.promQueries = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_backend_queries_total",
			Help: "Backend queries by service.",
		}, []string{"service"})
		s.promErrors = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_backend_errors_total",
			Help: "Backend query failures by service.",
		}, []string{"service"})
		s.promLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helmsman_backend_latency_ms",
			Help:    "Backend query latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"service"})
	}
	return s
}

// RecordQuery inserts one backend call outcome into the windows.
func (s *Store) RecordQuery(service, query string, latencyMS float64, success bool) {
	s.mu.Lock()
	s.queries = append(s.queries, QueryRecord{
		Timestamp: time.Now(),
		Service:   service,
		Query:     query,
		Latency:   latencyMS,
		Success:   success,
	})
	if len(s.queries) > maxQueries {
		s.queries = s.queries[len(s.queries)-maxQueries:]
	}

	s.latencies[service] = append(s.latencies[service], latencyMS)
	if len(s.latencies[service]) > maxLatenciesPerSvc {
		s.latencies[service] = s.latencies[service][len(s.latencies[service])-maxLatenciesPerSvc:]
	}

	if !success {
		s.errors[service]++
	}

	for _, word := range strings.Fields(strings.ToLower(query)) {
		if len(word) > 3 {
			s.patterns[word]++
		}
	}
	s.mu.Unlock()

	if s.promQueries != nil {
		s.promQueries.WithLabelValues(service).Inc()
		s.promLatency.WithLabelValues(service).Observe(latencyMS)
		if !success {
			s.promErrors.WithLabelValues(service).Inc()
		}
	}
}

// GetStats returns the raw statistics view.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	avg := make(map[string]float64, len(s.latencies))
	for svc, lats := range s.latencies {
		if len(lats) > 0 {
			avg[svc] = mean(lats)
		}
	}

	type kv struct {
		k string
		v int
	}
	pairs := make([]kv, 0, len(s.patterns))
	for k, v := range s.patterns {
		pairs = append(pairs, kv{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].v != pairs[j].v {
			return pairs[i].v > pairs[j].v
		}
		return pairs[i].k < pairs[j].k
	})
	if len(pairs) > 10 {
		pairs = pairs[:10]
	}
	top := make(map[string]int, len(pairs))
	for _, p := range pairs {
		top[p.k] = p.v
	}

	recent := s.queries
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	recentCopy := make([]QueryRecord, len(recent))
	copy(recentCopy, recent)

	errs := make(map[string]int, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}

	return Stats{
		TotalQueries:  len(s.queries),
		AvgLatencies:  avg,
		Errors:        errs,
		TopPatterns:   top,
		RecentQueries: recentCopy,
	}
}

// AnalyzePerformance builds the performance report, memoized for
// five seconds.
func (s *Store) AnalyzePerformance() Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.analysisCache != nil && now.Sub(s.analysisCacheTime) < analysisCacheTTL {
		return *s.analysisCache
	}

	issues := []Issue{}
	suggestions := []SuggestionItem{}

	// Slow retrieval backend.
	if ragLats := s.latencies["rag"]; len(ragLats) > 5 {
		avgRag := mean(ragLats)
		if avgRag > 500 {
			issues = append(issues, Issue{
				Type: "performance", Service: "rag", Metric: "latency",
				Value: avgRag, Threshold: 500,
			})

			preferred := s.preferredActions["Add Redis cache service"]
			avoided := s.avoidedActions["Add Redis cache service"]
			priority := "high"
			if avoided > preferred {
				priority = "low"
			}
			suggestions = append(suggestions, SuggestionItem{
				Issue:               fmt.Sprintf("RAG queries averaging %.0fms (slow)", avgRag),
				Suggestion:          "Add Redis cache to speed up repeated queries",
				ExpectedImprovement: fmt.Sprintf("50-80%% faster (from %.0fms to ~100ms)", avgRag),
				Action:              "Add Redis cache service",
				Priority:            priority,
				LearningAdjusted:    preferred > 0 || avoided > 0,
			})
		}
	}

	// High query repetition: caching would pay off.
	if len(s.queries) > 50 {
		unique := map[string]struct{}{}
		for _, q := range s.queries {
			unique[q.Query] = struct{}{}
		}
		repeatRate := 1 - float64(len(unique))/float64(len(s.queries))
		if repeatRate > 0.3 {
			score := 0
			for action, n := range s.preferredActions {
				la := strings.ToLower(action)
				if strings.Contains(la, "cache") || strings.Contains(la, "redis") {
					score += n
				}
			}
			priority := "medium"
			if score > 2 {
				priority = "high"
			}
			suggestions = append(suggestions, SuggestionItem{
				Issue:               fmt.Sprintf("High query repetition detected (%.0f%% repeated)", repeatRate*100),
				Suggestion:          "Add Redis cache - many queries are repeated",
				ExpectedImprovement: fmt.Sprintf("Cache %.0f%% of queries, reduce load significantly", repeatRate*100),
				Action:              "Add Redis cache service",
				Priority:            priority,
				LearningAdjusted:    score > 0,
			})
		}
	}

	// Error-heavy services.
	for _, svc := range sortedKeys(s.errors) {
		count := s.errors[svc]
		if count > 5 {
			issues = append(issues, Issue{
				Type: "reliability", Service: svc, Metric: "errors",
				Value: float64(count), Threshold: 5,
			})
			suggestions = append(suggestions, SuggestionItem{
				Issue:               fmt.Sprintf("%s has %d errors", svc, count),
				Suggestion:          fmt.Sprintf("Investigate %s service logs and restart if needed", svc),
				ExpectedImprovement: "Improved reliability",
				Action:              fmt.Sprintf("Check %s service health", svc),
				Priority:            "high",
			})
		}
	}

	// Topic-driven suggestions.
	if s.patterns["docker"] > 10 && s.avoidedActions["Optimize RAG for Docker content"] == 0 {
		suggestions = append(suggestions, SuggestionItem{
			Issue:               fmt.Sprintf("Many Docker-related queries (%d times)", s.patterns["docker"]),
			Suggestion:          "Create Docker-specific RAG collection for faster, more accurate searches",
			ExpectedImprovement: "30-40% faster Docker queries, better relevance",
			Action:              "Optimize RAG for Docker content",
			Priority:            "low",
		})
	}
	if s.patterns["redis"] > 5 && !s.redisDismissedLocked() {
		suggestions = append(suggestions, SuggestionItem{
			Issue:               fmt.Sprintf("Frequent Redis queries (%d times)", s.patterns["redis"]),
			Suggestion:          "Add Redis service to the stack for experimentation",
			ExpectedImprovement: "Enable Redis caching and hands-on learning",
			Action:              "Add Redis cache service",
			Priority:            "medium",
			LearningAdjusted:    true,
		})
	}

	priorityRank := map[string]int{"high": 0, "medium": 1, "low": 2}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return priorityRank[suggestions[i].Priority] < priorityRank[suggestions[j].Priority]
	})

	learningApplied := false
	for _, sg := range suggestions {
		if sg.LearningAdjusted {
			learningApplied = true
			break
		}
	}

	result := Analysis{
		Issues:          issues,
		Suggestions:     suggestions,
		HealthScore:     s.healthScoreLocked(),
		Insights:        s.usageInsightsLocked(),
		LearningApplied: learningApplied,
	}
	s.analysisCache = &result
	s.analysisCacheTime = now
	return result
}

// HealthScore computes the current 0-100 score.
func (s *Store) HealthScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthScoreLocked()
}

func (s *Store) healthScoreLocked() int {
	score := 100
	for _, lats := range s.latencies {
		if len(lats) == 0 {
			continue
		}
		avg := mean(lats)
		if avg > 500 {
			score -= 10
		} else if avg > 300 {
			score -= 5
		}
	}

	totalErrors := 0
	for _, n := range s.errors {
		totalErrors += n
	}
	if totalErrors > 10 {
		score -= 20
	} else if totalErrors > 5 {
		score -= 10
	}

	if score < 0 {
		score = 0
	}
	return score
}

func (s *Store) usageInsightsLocked() []string {
	insights := []string{}
	if len(s.queries) == 0 {
		return insights
	}

	counts := map[string]int{}
	for _, q := range s.queries {
		counts[q.Service]++
	}
	mostUsed, best := "", 0
	for _, svc := range sortedKeys(counts) {
		if counts[svc] > best {
			mostUsed, best = svc, counts[svc]
		}
	}
	if mostUsed != "" {
		insights = append(insights, fmt.Sprintf("Most used service: %s (%d queries)", mostUsed, best))
	}

	if len(s.patterns) > 0 {
		topWord, topN := "", 0
		for _, w := range sortedKeys(s.patterns) {
			if s.patterns[w] > topN {
				topWord, topN = w, s.patterns[w]
			}
		}
		insights = append(insights, fmt.Sprintf("Top topic: '%s' (%d mentions)", topWord, topN))
	}

	if len(s.queries) > 10 {
		recent := latencySlice(s.queries[len(s.queries)-10:])
		older := recent
		if len(s.queries) > 20 {
			older = latencySlice(s.queries[len(s.queries)-20 : len(s.queries)-10])
		}
		recentAvg, olderAvg := mean(recent), mean(older)
		if recentAvg < olderAvg*0.9 {
			insights = append(insights, fmt.Sprintf("Performance improving: %.0fms → %.0fms", olderAvg, recentAvg))
		} else if recentAvg > olderAvg*1.1 {
			insights = append(insights, fmt.Sprintf("Performance degrading: %.0fms → %.0fms", olderAvg, recentAvg))
		}
	}
	return insights
}

func (s *Store) redisDismissedLocked() bool {
	for _, a := range s.dismissed {
		if strings.Contains(strings.ToLower(a), "redis") {
			return true
		}
	}
	return false
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func latencySlice(qs []QueryRecord) []float64 {
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = q.Latency
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Round1 rounds to one decimal place.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}
