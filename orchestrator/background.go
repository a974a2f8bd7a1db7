package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// OptimizerIssue is one problem the optimizer found in a cycle.
type OptimizerIssue struct {
	Type     string `json:"type"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

// OptimizerAction is one improvement taken or recommended.
type OptimizerAction struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Executed bool   `json:"executed"`
}

// OptimizerCycle is the outcome of one analysis pass.
type OptimizerCycle struct {
	Timestamp time.Time         `json:"timestamp"`
	Issues    []OptimizerIssue  `json:"issues"`
	Actions   []OptimizerAction `json:"actions"`
}

// OptimizerReport summarizes the optimizer's history.
type OptimizerReport struct {
	TotalAnalyses     int              `json:"total_analyses"`
	TotalImprovements int              `json:"total_improvements"`
	LastAnalysis      *time.Time       `json:"last_analysis,omitempty"`
	RecentCycles      []OptimizerCycle `json:"recent_cycles"`
}

const optimizerInterval = 5 * time.Minute

// AutonomousOptimizer periodically inspects system metrics and
// either acts on safe findings or records recommendations.
type AutonomousOptimizer struct {
	sys      *System
	interval time.Duration

	mu           sync.Mutex
	analyses     int
	improvements int
	last         time.Time
	cycles       []OptimizerCycle
}

// NewAutonomousOptimizer creates the optimizer on its default cadence.
func NewAutonomousOptimizer(sys *System) *AutonomousOptimizer {
	return &AutonomousOptimizer{sys: sys, interval: optimizerInterval}
}

// Run executes analysis cycles until ctx is canceled.
func (o *AutonomousOptimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.AnalyzeAndOptimize()
		}
	}
}

// AnalyzeAndOptimize runs one cycle against current metrics.
func (o *AutonomousOptimizer) AnalyzeAndOptimize() OptimizerCycle {
	stats := o.sys.Store.GetStats()
	planInsights := o.sys.Planner.Insights()
	decInsights := o.sys.Decisions.GetInsights()

	cycle := OptimizerCycle{Timestamp: time.Now()}

	if planInsights.TotalExecutions > 10 && planInsights.OverallSuccessRate < 80 {
		cycle.Issues = append(cycle.Issues, OptimizerIssue{
			Type:     "low_success_rate",
			Detail:   fmt.Sprintf("Success rate at %.1f%% over %d executions", planInsights.OverallSuccessRate, planInsights.TotalExecutions),
			Severity: "high",
		})
		cycle.Actions = append(cycle.Actions, OptimizerAction{
			Action: "review_failed_tasks",
			Reason: "Success rate below 80%",
		})
	}

	var slow []string
	for svc, lat := range stats.AvgLatencies {
		if lat > 1000 {
			slow = append(slow, svc)
		}
	}
	sort.Strings(slow)
	for _, svc := range slow {
		cycle.Issues = append(cycle.Issues, OptimizerIssue{
			Type:     "high_latency",
			Detail:   fmt.Sprintf("%s averaging %.0fms", svc, stats.AvgLatencies[svc]),
			Severity: "medium",
		})
		cycle.Actions = append(cycle.Actions, o.executeAction(
			"optimize_service",
			fmt.Sprintf("Latency above 1000ms on %s", svc),
		))
	}

	totalErrors := 0
	for _, n := range stats.Errors {
		totalErrors += n
	}
	if totalErrors > 5 {
		cycle.Issues = append(cycle.Issues, OptimizerIssue{
			Type:     "high_error_rate",
			Detail:   fmt.Sprintf("%d errors recorded", totalErrors),
			Severity: "high",
		})
		cycle.Actions = append(cycle.Actions, OptimizerAction{
			Action: "investigate_errors",
			Reason: "Error count above 5",
		})
	}

	if planInsights.PatternsLearned < 5 {
		cycle.Actions = append(cycle.Actions, OptimizerAction{
			Action: "increase_learning_data",
			Reason: fmt.Sprintf("Only %d patterns learned", planInsights.PatternsLearned),
		})
	}

	if decInsights.TotalDecisions > 0 {
		approvals := decInsights.DecisionTypes["require_approval"]
		if float64(approvals)/float64(decInsights.TotalDecisions) > 0.5 {
			cycle.Issues = append(cycle.Issues, OptimizerIssue{
				Type:     "too_many_approvals",
				Detail:   fmt.Sprintf("%d of %d decisions require approval", approvals, decInsights.TotalDecisions),
				Severity: "medium",
			})
			cycle.Actions = append(cycle.Actions, o.executeAction(
				"adjust_decision_thresholds",
				"More than half of decisions stall on approval",
			))
		}
	}

	o.record(cycle)
	return cycle
}

// executeAction performs a safe autonomous action and records it in
// the metrics store for the audit trail.
func (o *AutonomousOptimizer) executeAction(action, reason string) OptimizerAction {
	o.sys.Store.RecordAutoAction(map[string]interface{}{
		"action": action,
		"reason": reason,
		"source": "autonomous_optimizer",
	}, "executed")
	o.sys.Logger.Info("Autonomous improvement applied", map[string]interface{}{
		"operation": "autonomous_optimize",
		"action":    action,
		"reason":    reason,
	})
	return OptimizerAction{Action: action, Reason: reason, Executed: true}
}

func (o *AutonomousOptimizer) record(cycle OptimizerCycle) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.analyses++
	o.last = cycle.Timestamp
	for _, a := range cycle.Actions {
		if a.Executed {
			o.improvements++
		}
	}
	o.cycles = append(o.cycles, cycle)
	if len(o.cycles) > 5 {
		o.cycles = o.cycles[len(o.cycles)-5:]
	}
}

// Report summarizes optimizer activity.
func (o *AutonomousOptimizer) Report() OptimizerReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := OptimizerReport{
		TotalAnalyses:     o.analyses,
		TotalImprovements: o.improvements,
		RecentCycles:      append([]OptimizerCycle(nil), o.cycles...),
	}
	if !o.last.IsZero() {
		last := o.last
		report.LastAnalysis = &last
	}
	return report
}

// ProactiveAction is a preventive measure the proactive engine
// decided on.
type ProactiveAction struct {
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	Priority    string    `json:"priority"`
	AutoExecute bool      `json:"auto_execute"`
	Executed    bool      `json:"executed"`
	Timestamp   time.Time `json:"timestamp"`
}

const proactiveInterval = 10 * time.Minute

// ProactiveEngine anticipates problems from metric trends and takes
// low-risk preventive actions before they become failures.
type ProactiveEngine struct {
	sys      *System
	interval time.Duration

	mu        sync.Mutex
	lastStats statsSnapshot
	hasPrev   bool
	pending   []ProactiveAction
	executed  []ProactiveAction
}

type statsSnapshot struct {
	TotalErrors int
	AvgLatency  float64
}

// NewProactiveEngine creates the engine on its default cadence.
func NewProactiveEngine(sys *System) *ProactiveEngine {
	return &ProactiveEngine{sys: sys, interval: proactiveInterval}
}

// Run executes anticipation cycles until ctx is canceled.
func (p *ProactiveEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Anticipate()
		}
	}
}

// Anticipate runs one cycle: compare the current snapshot with the
// previous one and act on degrading trends.
func (p *ProactiveEngine) Anticipate() []ProactiveAction {
	stats := p.sys.Store.GetStats()

	totalErrors := 0
	for _, n := range stats.Errors {
		totalErrors += n
	}
	avgLatency := 0.0
	if len(stats.AvgLatencies) > 0 {
		for _, lat := range stats.AvgLatencies {
			avgLatency += lat
		}
		avgLatency /= float64(len(stats.AvgLatencies))
	}
	current := statsSnapshot{TotalErrors: totalErrors, AvgLatency: avgLatency}

	p.mu.Lock()
	prev, hasPrev := p.lastStats, p.hasPrev
	p.lastStats = current
	p.hasPrev = true
	p.mu.Unlock()

	now := time.Now()
	var actions []ProactiveAction

	if hasPrev && current.TotalErrors > prev.TotalErrors {
		actions = append(actions, ProactiveAction{
			Type:      "preemptive_restart",
			Reason:    fmt.Sprintf("Error count rising: %d -> %d", prev.TotalErrors, current.TotalErrors),
			Priority:  "medium",
			Timestamp: now,
		})
	}

	if hasPrev && current.AvgLatency > prev.AvgLatency && current.AvgLatency > 300 {
		actions = append(actions, ProactiveAction{
			Type:        "cache_warmup",
			Reason:      fmt.Sprintf("Latency degrading: %.0fms -> %.0fms", prev.AvgLatency, current.AvgLatency),
			Priority:    "low",
			AutoExecute: true,
			Timestamp:   now,
		})
	}

	if stats.TotalQueries < 20 {
		actions = append(actions, ProactiveAction{
			Type:        "generate_training_data",
			Reason:      fmt.Sprintf("Only %d queries recorded, learning data is thin", stats.TotalQueries),
			Priority:    "low",
			AutoExecute: true,
			Timestamp:   now,
		})
	}

	if stats.TotalQueries > 0 && p.sys.Knowledge.StoredCount() == 0 {
		actions = append(actions, ProactiveAction{
			Type:        "refresh_knowledge",
			Reason:      "Queries are flowing but no execution results have been stored",
			Priority:    "low",
			AutoExecute: true,
			Timestamp:   now,
		})
	}

	if stats.TotalQueries > 100 && current.AvgLatency > 500 {
		actions = append(actions, ProactiveAction{
			Type:      "scale_resources",
			Reason:    fmt.Sprintf("%d queries with %.0fms average latency", stats.TotalQueries, current.AvgLatency),
			Priority:  "medium",
			Timestamp: now,
		})
	}

	for i := range actions {
		if actions[i].AutoExecute {
			actions[i].Executed = true
			p.sys.Store.RecordAutoAction(map[string]interface{}{
				"action": actions[i].Type,
				"reason": actions[i].Reason,
				"source": "proactive_engine",
			}, "executed")
		}
	}

	p.mu.Lock()
	for _, a := range actions {
		if a.Executed {
			p.executed = append(p.executed, a)
		} else {
			p.pending = append(p.pending, a)
		}
	}
	if len(p.executed) > 50 {
		p.executed = p.executed[len(p.executed)-50:]
	}
	if len(p.pending) > 50 {
		p.pending = p.pending[len(p.pending)-50:]
	}
	p.mu.Unlock()

	return actions
}

// PendingActions lists actions awaiting operator approval.
func (p *ProactiveEngine) PendingActions() []ProactiveAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProactiveAction(nil), p.pending...)
}

// ExecutedActions lists auto-executed actions.
func (p *ProactiveEngine) ExecutedActions() []ProactiveAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProactiveAction(nil), p.executed...)
}
