// Package learning holds the meta-learner (which learning strategy
// to apply when) and the self-improvement engine (which system areas
// to improve next).
package learning

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/core"
)

// Strategy names.
const (
	StrategyPatternRecognition      = "pattern_recognition"
	StrategyErrorAnalysis           = "error_analysis"
	StrategyContextAdaptation       = "context_adaptation"
	StrategyFeedbackIntegration     = "feedback_integration"
	StrategyPerformanceOptimization = "performance_optimization"
)

// Strategy is one learning approach with a running effectiveness.
type Strategy struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Effectiveness float64 `json:"effectiveness"`
	TimesUsed     int     `json:"times_used"`
	Successes     int     `json:"-"`
	SuccessRate   float64 `json:"success_rate"`
}

// LearningContext describes the situation a strategy is picked for.
type LearningContext struct {
	TaskType      string
	HasErrors     bool
	HasRAGContext bool
}

type learningEvent struct {
	Strategy  string
	Outcome   string
	Success   bool
	Timestamp time.Time
}

// MetaLearner tracks which learning strategies work.
type MetaLearner struct {
	mu         sync.Mutex
	strategies map[string]*Strategy
	history    []learningEvent
	logger     core.Logger
}

// NewMetaLearner seeds the strategy registry with priors.
func NewMetaLearner(logger core.Logger) *MetaLearner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &MetaLearner{
		logger: logger,
		strategies: map[string]*Strategy{
			StrategyPatternRecognition: {
				Name:          StrategyPatternRecognition,
				Description:   "Learn from task patterns and their success rates",
				Effectiveness: 0.8,
			},
			StrategyErrorAnalysis: {
				Name:          StrategyErrorAnalysis,
				Description:   "Learn from failures to avoid similar mistakes",
				Effectiveness: 0.75,
			},
			StrategyContextAdaptation: {
				Name:          StrategyContextAdaptation,
				Description:   "Adapt behavior based on retrieval context and entities",
				Effectiveness: 0.85,
			},
			StrategyFeedbackIntegration: {
				Name:          StrategyFeedbackIntegration,
				Description:   "Learn from user feedback and corrections",
				Effectiveness: 0.7,
			},
			StrategyPerformanceOptimization: {
				Name:          StrategyPerformanceOptimization,
				Description:   "Learn optimal execution paths and shortcuts",
				Effectiveness: 0.65,
			},
		},
	}
}

// RecommendStrategy picks the strategy for a context: errors beat
// retrieval context beats pattern work; otherwise the running best.
func (m *MetaLearner) RecommendStrategy(ctx LearningContext) string {
	if ctx.HasErrors {
		return StrategyErrorAnalysis
	}
	if ctx.HasRAGContext {
		return StrategyContextAdaptation
	}
	if ctx.TaskType == "health_check" || ctx.TaskType == "analysis" {
		return StrategyPatternRecognition
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Strategy
	for _, name := range sortedStrategyNames(m.strategies) {
		s := m.strategies[name]
		if best == nil || s.Effectiveness > best.Effectiveness {
			best = s
		}
	}
	return best.Name
}

// RecordLearningEvent updates the chosen strategy's running rate.
// Outcomes "success" and "completed" count as wins.
func (m *MetaLearner) RecordLearningEvent(strategyName string, outcome string) {
	success := outcome == "success" || outcome == "completed"

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, learningEvent{
		Strategy:  strategyName,
		Outcome:   outcome,
		Success:   success,
		Timestamp: time.Now(),
	})

	s, ok := m.strategies[strategyName]
	if !ok {
		return
	}
	s.TimesUsed++
	if success {
		s.Successes++
	}
	s.Effectiveness = float64(s.Successes) / float64(s.TimesUsed)
}

// Effectiveness reports learning-curve analysis.
type Effectiveness struct {
	Status             string     `json:"status,omitempty"`
	CurrentSuccessRate float64    `json:"current_success_rate"`
	ImprovementTrend   float64    `json:"improvement_trend"`
	LearningVelocity   string     `json:"learning_velocity"`
	BestStrategies     []Strategy `json:"best_strategies"`
	TotalEvents        int        `json:"total_learning_events"`
}

// AnalyzeEffectiveness compares the recent 20 events against the 20
// before them. Velocity is fast above a 10-point gain, moderate when
// positive, else slow.
func (m *MetaLearner) AnalyzeEffectiveness() Effectiveness {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyzeLocked()
}

func (m *MetaLearner) analyzeLocked() Effectiveness {
	if len(m.history) < 5 {
		return Effectiveness{Status: "insufficient_data", TotalEvents: len(m.history)}
	}

	recent := m.history[max(0, len(m.history)-20):]
	successRate := eventSuccessRate(recent)

	improvement := 0.0
	if len(m.history) > 40 {
		earlier := m.history[len(m.history)-40 : len(m.history)-20]
		improvement = successRate - eventSuccessRate(earlier)
	}

	velocity := "slow"
	switch {
	case improvement > 0.1:
		velocity = "fast"
	case improvement > 0:
		velocity = "moderate"
	}

	best := make([]Strategy, 0, len(m.strategies))
	for _, name := range sortedStrategyNames(m.strategies) {
		best = append(best, snapshot(m.strategies[name]))
	}
	sort.SliceStable(best, func(i, j int) bool { return best[i].Effectiveness > best[j].Effectiveness })
	if len(best) > 3 {
		best = best[:3]
	}

	return Effectiveness{
		CurrentSuccessRate: math.Round(successRate*1000) / 10,
		ImprovementTrend:   math.Round(improvement*1000) / 10,
		LearningVelocity:   velocity,
		BestStrategies:     best,
		TotalEvents:        len(m.history),
	}
}

// Optimization is one suggested change to the learning process.
type Optimization struct {
	Type       string   `json:"type"`
	Strategy   string   `json:"strategy,omitempty"`
	Strategies []string `json:"strategies,omitempty"`
	Suggestion string   `json:"suggestion"`
}

// OptimizeLearning flags underperforming strategies (≥ 5 uses below
// 0.6 effectiveness), unused strategies, and slow overall velocity.
func (m *MetaLearner) OptimizeLearning() []Optimization {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Optimization
	for _, name := range sortedStrategyNames(m.strategies) {
		s := m.strategies[name]
		if s.TimesUsed > 5 && s.Effectiveness < 0.6 {
			out = append(out, Optimization{
				Type:       "improve_strategy",
				Strategy:   s.Name,
				Suggestion: "Strategy '" + s.Name + "' needs improvement",
			})
		}
	}

	var unused []string
	for _, name := range sortedStrategyNames(m.strategies) {
		if m.strategies[name].TimesUsed == 0 {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		out = append(out, Optimization{
			Type:       "activate_strategies",
			Strategies: unused,
			Suggestion: "Activate unused learning strategies",
		})
	}

	if m.analyzeLocked().LearningVelocity == "slow" {
		out = append(out, Optimization{
			Type:       "accelerate_learning",
			Suggestion: "Increase learning rate or try different strategies",
		})
	}
	return out
}

// MetaInsights is the full meta-learning view.
type MetaInsights struct {
	Strategies    map[string]Strategy `json:"strategies"`
	Effectiveness Effectiveness       `json:"effectiveness"`
	Optimizations []Optimization      `json:"optimizations"`
}

// Insights returns strategy, effectiveness, and optimization views.
func (m *MetaLearner) Insights() MetaInsights {
	m.mu.Lock()
	strategies := make(map[string]Strategy, len(m.strategies))
	for name, s := range m.strategies {
		strategies[name] = snapshot(s)
	}
	effectiveness := m.analyzeLocked()
	m.mu.Unlock()

	return MetaInsights{
		Strategies:    strategies,
		Effectiveness: effectiveness,
		Optimizations: m.OptimizeLearning(),
	}
}

func snapshot(s *Strategy) Strategy {
	out := *s
	out.Effectiveness = math.Round(s.Effectiveness*100) / 100
	if s.TimesUsed > 0 {
		out.SuccessRate = math.Round(float64(s.Successes)/float64(s.TimesUsed)*1000) / 10
	}
	return out
}

func eventSuccessRate(events []learningEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	wins := 0
	for _, e := range events {
		if e.Success {
			wins++
		}
	}
	return float64(wins) / float64(len(events))
}

func sortedStrategyNames(m map[string]*Strategy) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
