package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/metrics"
	"github.com/helmsman-ai/helmsman/planning"
)

// Goal statuses.
const (
	GoalPending    = "pending"
	GoalInProgress = "in_progress"
	GoalCompleted  = "completed"
	GoalFailed     = "failed"
	GoalCancelled  = "cancelled"
)

// Goal is one high-level objective with a fixed step template.
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"` // low, medium, high, critical
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Steps       []string   `json:"steps"`
	Progress    float64    `json:"progress"`
	Result      string     `json:"result,omitempty"`
}

// goalTemplates maps known goal kinds to their step plans. Unknown
// descriptions get a single generic step.
var goalTemplates = map[string][]string{
	"optimize_performance": {
		"Analyze current performance metrics",
		"Identify bottlenecks",
		"Apply optimizations",
		"Verify improvements",
	},
	"ensure_reliability": {
		"Check all services health",
		"Review error rates",
		"Apply auto-healing if needed",
		"Verify stability",
	},
	"reduce_latency": {
		"Measure current latency",
		"Enable caching",
		"Optimize queries",
		"Verify latency reduction",
	},
	"scale_up": {
		"Analyze resource usage",
		"Identify services to scale",
		"Increase resources",
		"Verify capacity increase",
	},
}

// GoalManager tracks goals by id. Safe for concurrent use.
type GoalManager struct {
	mu    sync.RWMutex
	goals map[string]*Goal
	order []string
	next  int
}

// NewGoalManager creates an empty manager.
func NewGoalManager() *GoalManager {
	return &GoalManager{goals: make(map[string]*Goal)}
}

// CreateGoal registers a new pending goal. Known kinds get their
// template steps.
func (g *GoalManager) CreateGoal(description, priority string) *Goal {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++
	steps, ok := goalTemplates[description]
	if !ok {
		steps = []string{fmt.Sprintf("Work towards: %s", description)}
	}
	goal := &Goal{
		ID:          fmt.Sprintf("goal_%d", g.next),
		Description: description,
		Priority:    priority,
		Status:      GoalPending,
		CreatedAt:   time.Now(),
		Steps:       append([]string(nil), steps...),
	}
	g.goals[goal.ID] = goal
	g.order = append(g.order, goal.ID)
	return cloneGoal(goal)
}

// StartGoal moves a pending goal to in_progress.
func (g *GoalManager) StartGoal(id string) (*Goal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	goal, ok := g.goals[id]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, core.ErrGoalNotFound)
	}
	now := time.Now()
	goal.Status = GoalInProgress
	goal.StartedAt = &now
	return cloneGoal(goal), nil
}

// UpdateProgress sets progress, capped at 100.
func (g *GoalManager) UpdateProgress(id string, progress float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	goal, ok := g.goals[id]
	if !ok {
		return fmt.Errorf("goal %s: %w", id, core.ErrGoalNotFound)
	}
	if progress > 100 {
		progress = 100
	}
	goal.Progress = progress
	return nil
}

// CompleteGoal marks a goal completed with its result.
func (g *GoalManager) CompleteGoal(id, result string) error {
	return g.finish(id, GoalCompleted, result, 100)
}

// FailGoal marks a goal failed with the reason.
func (g *GoalManager) FailGoal(id, reason string) error {
	g.mu.RLock()
	progress := 0.0
	if goal, ok := g.goals[id]; ok {
		progress = goal.Progress
	}
	g.mu.RUnlock()
	return g.finish(id, GoalFailed, reason, progress)
}

func (g *GoalManager) finish(id, status, result string, progress float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	goal, ok := g.goals[id]
	if !ok {
		return fmt.Errorf("goal %s: %w", id, core.ErrGoalNotFound)
	}
	now := time.Now()
	goal.Status = status
	goal.Result = result
	goal.Progress = progress
	goal.CompletedAt = &now
	return nil
}

// Get returns one goal by id.
func (g *GoalManager) Get(id string) (*Goal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	goal, ok := g.goals[id]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, core.ErrGoalNotFound)
	}
	return cloneGoal(goal), nil
}

// ActiveGoals lists pending and in-progress goals in creation order.
func (g *GoalManager) ActiveGoals() []*Goal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := []*Goal{}
	for _, id := range g.order {
		goal := g.goals[id]
		if goal.Status == GoalPending || goal.Status == GoalInProgress {
			out = append(out, cloneGoal(goal))
		}
	}
	return out
}

// AllGoals lists every goal in creation order.
func (g *GoalManager) AllGoals() []*Goal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Goal, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, cloneGoal(g.goals[id]))
	}
	return out
}

// GoalSuggestion pairs a goal kind with why it is warranted now.
type GoalSuggestion struct {
	Goal     string `json:"goal"`
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

// SuggestGoals derives goals from the current system state: low
// health suggests reliability work, slow services suggest latency
// work, and urgent predictions map to their matching templates.
func SuggestGoals(healthScore int, stats metrics.Stats, predictions []planning.Prediction) []GoalSuggestion {
	out := []GoalSuggestion{}

	if healthScore < 80 {
		out = append(out, GoalSuggestion{
			Goal:     "ensure_reliability",
			Priority: "high",
			Reason:   fmt.Sprintf("Health score at %d, below the 80 threshold", healthScore),
		})
	}

	var slow []string
	for svc, lat := range stats.AvgLatencies {
		if lat > 500 {
			slow = append(slow, svc)
		}
	}
	if len(slow) > 0 {
		sort.Strings(slow)
		out = append(out, GoalSuggestion{
			Goal:     "reduce_latency",
			Priority: "medium",
			Reason:   fmt.Sprintf("Services above 500ms average latency: %s", strings.Join(slow, ", ")),
		})
	}

	for _, p := range predictions {
		if p.TimeHorizon != "immediate" || p.Probability <= 0.7 {
			continue
		}
		switch {
		case strings.Contains(p.Type, "latency") || strings.Contains(p.Type, "performance"):
			out = append(out, GoalSuggestion{
				Goal:     "optimize_performance",
				Priority: "high",
				Reason:   p.Description,
			})
		case strings.Contains(p.Type, "load") || strings.Contains(p.Type, "resource"):
			out = append(out, GoalSuggestion{
				Goal:     "scale_up",
				Priority: "high",
				Reason:   p.Description,
			})
		}
	}

	return out
}

func cloneGoal(g *Goal) *Goal {
	out := *g
	out.Steps = append([]string(nil), g.Steps...)
	return &out
}
