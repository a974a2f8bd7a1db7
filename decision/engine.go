// Package decision grades requests by risk and decides whether plans
// run autonomously, get suggested, or require human approval.
package decision

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/intent"
	"github.com/helmsman-ai/helmsman/planning"
)

// Actions a verdict can carry.
const (
	ActionAutoExecute     = "auto_execute"
	ActionSuggestExecute  = "suggest_execute"
	ActionRequireApproval = "require_approval"
	ActionRespond         = "respond"
)

// Verdict is the engine's structured decision about one request.
type Verdict struct {
	Type           string    `json:"type"`
	Action         string    `json:"action"`
	Confidence     float64   `json:"confidence"`
	Reasoning      []string  `json:"reasoning"`
	SafetyLevel    string    `json:"safety_level"`
	SafetySteps    []string  `json:"safety_steps"`
	ShouldOptimize bool      `json:"should_optimize"`
	Timestamp      time.Time `json:"timestamp"`
	Executed       bool      `json:"executed"`
}

// Context carries the facts a verdict is computed from.
type Context struct {
	Intent                string
	Message               string
	Pattern               planning.Pattern
	HistoricalSuccessRate float64
	Entities              intent.Entities
	RAGContextAvailable   bool
}

var (
	highRiskKeywords = []string{"delete", "drop", "remove", "modify_production"}

	lowRiskPatterns = map[planning.Pattern]bool{
		planning.PatternHealthCheck: true,
		planning.PatternAnalysis:    true,
		"metrics":                   true,
	}

	// Safety-step sets keyed by the planner's canonical pattern names.
	// The modify_* names stay reachable for callers that set patterns
	// directly.
	requireBackup = map[planning.Pattern]bool{
		planning.PatternAddService:     true,
		planning.PatternAddCache:       true,
		planning.PatternCreateResource: true,
		"modify_config":                true,
		"modify_production":            true,
	}
	requireValidation = map[planning.Pattern]bool{
		"generate_config":     true,
		"modify_architecture": true,
		"modify_production":   true,
	}

	safeZoneTokens = []string{
		"playground/", "generated/", "experiments/", "tic-tac-toe/", "demos/", "examples/",
	}
	codeCreationKeywords = []string{"script", "code", "program", "game", "app", "function"}
	dangerousTargets     = []string{"production", "system", "config", "/etc/", "/var/", "docker-compose"}
)

// Engine makes and records verdicts. Safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	history []Verdict
	logger  core.Logger

	maxRetries int
}

// NewEngine creates a decision engine.
func NewEngine(logger core.Logger) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Engine{
		logger:     logger,
		maxRetries: 3,
	}
}

// MakeDecision computes the verdict for one request.
func (e *Engine) MakeDecision(ctx Context) Verdict {
	lower := strings.ToLower(ctx.Message)
	reasoning := []string{}
	confidence := 0.5
	action := ActionSuggestExecute
	safetyLevel := "medium"

	switch ctx.Intent {
	case "execute", "modify", "create":
		highRisk := containsAny(lower, highRiskKeywords)

		// Creation aimed at a safe zone is approved outright, before
		// risk grading: the write path is already sandboxed.
		if ctx.Intent == "create" && !highRisk {
			inSafeZone := containsAny(lower, safeZoneTokens)
			codeCreation := containsAny(lower, codeCreationKeywords)
			dangerous := containsAny(lower, dangerousTargets)
			if inSafeZone || (codeCreation && !dangerous) {
				v := Verdict{
					Type:        ctx.Intent,
					Action:      ActionAutoExecute,
					Confidence:  0.95,
					Reasoning:   []string{"Code creation without dangerous targets - auto-approved"},
					SafetyLevel: "low",
					SafetySteps: []string{},
					Timestamp:   time.Now(),
				}
				e.record(v)
				return v
			}
		}

		switch {
		case highRisk:
			confidence = 0.3
			action = ActionRequireApproval
			safetyLevel = "high"
			reasoning = append(reasoning, "High-risk operation detected - requires manual approval")
		case lowRiskPatterns[ctx.Pattern]:
			confidence = 0.9
			action = ActionAutoExecute
			safetyLevel = "low"
			reasoning = append(reasoning, "Low-risk operation - safe for auto-execution")
		default:
			switch {
			case ctx.HistoricalSuccessRate >= 90:
				confidence = 0.85
				action = ActionAutoExecute
				reasoning = append(reasoning, fmt.Sprintf("High historical success rate (%.1f%%)", ctx.HistoricalSuccessRate))
			case ctx.HistoricalSuccessRate >= 70:
				confidence = 0.7
				action = ActionSuggestExecute
				reasoning = append(reasoning, fmt.Sprintf("Moderate success rate (%.1f%%)", ctx.HistoricalSuccessRate))
			default:
				confidence = 0.5
				action = ActionRequireApproval
				reasoning = append(reasoning, fmt.Sprintf("Low success rate (%.1f%%) - recommend review", ctx.HistoricalSuccessRate))
			}
		}

		if ctx.RAGContextAvailable {
			confidence = math.Min(confidence+0.1, 1.0)
			reasoning = append(reasoning, "RAG context available - increased confidence")
		}

	case "query":
		confidence = 0.95
		action = ActionRespond
		safetyLevel = "low"
		reasoning = append(reasoning, "Query intent - safe to respond")

	case "analyze":
		confidence = 0.9
		action = ActionAutoExecute
		safetyLevel = "low"
		reasoning = append(reasoning, "Analysis intent - safe to execute")

	default:
		confidence = 0.6
		action = ActionSuggestExecute
		reasoning = append(reasoning, "Generic intent - moderate confidence")
	}

	safetySteps := []string{}
	if requireBackup[ctx.Pattern] {
		safetySteps = append(safetySteps, "backup")
		reasoning = append(reasoning, "Backup required for this operation type")
	}
	if requireValidation[ctx.Pattern] {
		safetySteps = append(safetySteps, "validation")
		reasoning = append(reasoning, "Validation required for this operation type")
	}

	shouldOptimize := false
	if ctx.HistoricalSuccessRate < 80 {
		shouldOptimize = true
		reasoning = append(reasoning, "Success rate below threshold - optimization recommended")
	}

	v := Verdict{
		Type:           "execution",
		Action:         action,
		Confidence:     confidence,
		Reasoning:      reasoning,
		SafetyLevel:    safetyLevel,
		SafetySteps:    safetySteps,
		ShouldOptimize: shouldOptimize,
		Timestamp:      time.Now(),
	}
	e.record(v)
	return v
}

// StepDecision is a per-step override computed just before execution.
type StepDecision struct {
	Action       string  `json:"action"` // execute, skip, modify
	Reason       string  `json:"reason"`
	ModifiedStep string  `json:"modified_step,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// EvaluateStep may skip a redundant backup or rewrite a destructive
// step into a guarded form.
func (e *Engine) EvaluateStep(step string, backupCreated bool) StepDecision {
	lower := strings.ToLower(step)

	if strings.Contains(lower, "backup") && backupCreated {
		return StepDecision{
			Action:     "skip",
			Reason:     "Backup already created",
			Confidence: 0.95,
		}
	}

	if strings.Contains(lower, "delete") || strings.Contains(lower, "drop") {
		return StepDecision{
			Action:       "modify",
			Reason:       "High-risk operation - add safety check",
			ModifiedStep: "Safely " + step + " with backup",
			Confidence:   0.8,
		}
	}

	return StepDecision{
		Action:     "execute",
		Reason:     "Normal execution",
		Confidence: 0.9,
	}
}

// ShouldRetry decides whether a failed step deserves another attempt.
// Transient error text is retried up to the cap, permanent text never
// is, and unclassified failures default to retrying.
func (e *Engine) ShouldRetry(attempt int, errText string) bool {
	if attempt >= e.maxRetries {
		return false
	}
	lower := strings.ToLower(errText)
	if containsAny(lower, []string{"not found", "invalid", "forbidden", "unauthorized"}) {
		return false
	}
	if containsAny(lower, []string{"timeout", "connection", "temporary", "unavailable"}) {
		return true
	}
	return true
}

// Insights summarizes the decision history.
type Insights struct {
	TotalDecisions  int            `json:"total_decisions"`
	AvgConfidence   float64        `json:"avg_confidence"`
	DecisionTypes   map[string]int `json:"decision_types"`
	RecentDecisions []Verdict      `json:"recent_decisions,omitempty"`
}

// GetInsights reports totals, mean confidence, action counts, and
// the five most recent verdicts.
func (e *Engine) GetInsights() Insights {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := len(e.history)
	if total == 0 {
		return Insights{DecisionTypes: map[string]int{}}
	}

	sum := 0.0
	types := map[string]int{}
	for _, v := range e.history {
		sum += v.Confidence
		types[v.Action]++
	}

	recent := e.history
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	out := make([]Verdict, len(recent))
	copy(out, recent)

	return Insights{
		TotalDecisions:  total,
		AvgConfidence:   math.Round(sum/float64(total)*100) / 100,
		DecisionTypes:   types,
		RecentDecisions: out,
	}
}

func (e *Engine) record(v Verdict) {
	e.mu.Lock()
	e.history = append(e.history, v)
	e.mu.Unlock()

	e.logger.Debug("Decision recorded", map[string]interface{}{
		"operation":  "make_decision",
		"action":     v.Action,
		"confidence": v.Confidence,
	})
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
