// Package thought implements the Tree-of-Thought solver: an
// exploratory execution path that tries several strategies per step,
// keeps the best successful branch, and hides failures from the
// context shown to downstream generation.
package thought

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/helmsman-ai/helmsman/core"
)

const (
	// BranchWidth is the number of candidate branches per depth.
	BranchWidth = 3
	// MaxDepth bounds the tree.
	MaxDepth = 5
)

// Branch statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// EvalResult is an evaluator's verdict on one branch step.
type EvalResult struct {
	Status   string                 `json:"status"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Complete bool                   `json:"complete"` // task finished, stop exploring
}

// Evaluator runs a single candidate step. The execution engine
// satisfies this; tests substitute a scripted one.
type Evaluator interface {
	EvaluateStep(ctx context.Context, step string, execContext map[string]interface{}) (EvalResult, error)
}

// Branch is one explored alternative.
type Branch struct {
	ID         string      `json:"branch_id"`
	ParentID   string      `json:"parent_id,omitempty"`
	Strategy   string      `json:"strategy"`
	Step       string      `json:"step"`
	Reasoning  string      `json:"reasoning"`
	Confidence float64     `json:"confidence"`
	Status     string      `json:"status"`
	Result     *EvalResult `json:"result,omitempty"`
	Children   []string    `json:"children,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Tree holds all branches explored for one task.
type Tree struct {
	ID             string             `json:"tree_id"`
	RootTask       string             `json:"root_task"`
	Branches       map[string]*Branch `json:"branches"`
	SuccessfulPath []string           `json:"successful_path"`
	CreatedAt      time.Time          `json:"created_at"`
}

// SolveResult is the outcome of one solve run. Only the successful
// path is surfaced; failures appear solely in Stats.
type SolveResult struct {
	TreeID         string       `json:"tree_id"`
	Task           string       `json:"task"`
	Status         string       `json:"status"` // completed or failed
	SuccessfulPath []string     `json:"successful_path"`
	Results        []EvalResult `json:"results"`
	Depth          int          `json:"depth"`
	Stats          TreeStats    `json:"stats"`
}

// TreeStats measures true exploration cost.
type TreeStats struct {
	TreeID             string  `json:"tree_id,omitempty"`
	Task               string  `json:"task,omitempty"`
	TotalBranches      int     `json:"total_branches_explored"`
	SuccessfulBranches int     `json:"successful_branches"`
	FailedBranches     int     `json:"failed_branches"`
	Efficiency         float64 `json:"efficiency"`
	PathLength         int     `json:"path_length"`
}

// EngineStats aggregates across all retained trees.
type EngineStats struct {
	TotalTrees            int     `json:"total_trees"`
	TotalBranchesExplored int     `json:"total_branches_explored"`
	TotalSuccessful       int     `json:"total_successful_branches"`
	AverageSuccessRate    float64 `json:"average_success_rate"`
	AverageBranchesPerTree float64 `json:"average_branches_per_tree"`
}

// Engine explores solution trees. Trees are retained for post-hoc
// inspection.
type Engine struct {
	mu     sync.RWMutex
	trees  map[string]*Tree
	logger core.Logger
}

// NewEngine creates a Tree-of-Thought engine.
func NewEngine(logger core.Logger) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Engine{trees: make(map[string]*Tree), logger: logger}
}

type strategy struct {
	name       string
	confidence float64
}

// Ordered by ascending confidence; creative explores furthest from
// the obvious answer and gets the highest base score.
var strategies = []strategy{
	{"direct", 0.7},
	{"analytical", 0.8},
	{"creative", 0.9},
}

func generateStep(task, strategyName string) (string, string) {
	switch strategyName {
	case "direct":
		return fmt.Sprintf("Execute the task directly: %s", task),
			"Direct approach, fastest path to a result"
	case "analytical":
		return fmt.Sprintf("Analyze the task and split it into subtasks: %s", task),
			"Analytical approach, lowers the risk of mistakes"
	default:
		return fmt.Sprintf("Find an alternative solution for: %s", task),
			"Creative approach, may surface non-obvious solutions"
	}
}

func (e *Engine) generateBranches(task string, parent *Branch) []*Branch {
	branches := make([]*Branch, 0, BranchWidth)
	for _, s := range strategies[:BranchWidth] {
		step, reasoning := generateStep(task, s.name)
		b := &Branch{
			ID:         uuid.New().String(),
			Strategy:   s.name,
			Step:       step,
			Reasoning:  reasoning,
			Confidence: s.confidence,
			Status:     StatusPending,
			CreatedAt:  time.Now(),
		}
		if parent != nil {
			b.ParentID = parent.ID
		}
		branches = append(branches, b)
	}
	return branches
}

// Solve explores up to MaxDepth levels, evaluating each level's
// branches in parallel and keeping only the best successful one.
func (e *Engine) Solve(ctx context.Context, task string, evaluator Evaluator, execContext map[string]interface{}) (*SolveResult, error) {
	tree := &Tree{
		ID:        uuid.New().String(),
		RootTask:  task,
		Branches:  make(map[string]*Branch),
		CreatedAt: time.Now(),
	}
	e.mu.Lock()
	e.trees[tree.ID] = tree
	e.mu.Unlock()

	if execContext == nil {
		execContext = make(map[string]interface{})
	}

	e.logger.Info("Starting tree-of-thought", map[string]interface{}{
		"operation": "tot_solve",
		"tree_id":   tree.ID,
		"task":      task,
	})

	var current *Branch
	for depth := 0; depth < MaxDepth; depth++ {
		branches := e.generateBranches(task, current)

		e.mu.Lock()
		for _, b := range branches {
			tree.Branches[b.ID] = b
			if current != nil {
				current.Children = append(current.Children, b.ID)
			}
		}
		e.mu.Unlock()

		e.evaluateAll(ctx, branches, evaluator, execContext)

		best := selectBest(branches)
		if best == nil {
			e.logger.Warn("No successful branches", map[string]interface{}{
				"operation": "tot_solve",
				"tree_id":   tree.ID,
				"depth":     depth,
			})
			break
		}

		e.mu.Lock()
		tree.SuccessfulPath = append(tree.SuccessfulPath, best.ID)
		e.mu.Unlock()
		current = best

		if best.Result != nil && best.Result.Complete {
			e.logger.Info("Task completed", map[string]interface{}{
				"operation": "tot_solve",
				"tree_id":   tree.ID,
				"depth":     depth,
			})
			break
		}
	}

	return e.buildResult(tree), nil
}

// evaluateAll runs one depth level's branches in parallel and waits
// for all of them before selection.
func (e *Engine) evaluateAll(ctx context.Context, branches []*Branch, evaluator Evaluator, execContext map[string]interface{}) {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, b := range branches {
		b := b
		g.Go(func() error {
			result, err := evaluator.EvaluateStep(gctx, b.Step, execContext)

			mu.Lock()
			defer mu.Unlock()
			if err != nil || (result.Status != StatusSuccess && result.Status != "completed") {
				b.Status = StatusFailed
				if err == nil {
					b.Result = &result
				}
				return nil // a failed branch is data, not an error
			}
			b.Status = StatusSuccess
			b.Result = &result
			return nil
		})
	}
	_ = g.Wait()
}

func selectBest(branches []*Branch) *Branch {
	var best *Branch
	for _, b := range branches {
		if b.Status != StatusSuccess {
			continue
		}
		if best == nil || b.Confidence > best.Confidence {
			best = b
		}
	}
	return best
}

func (e *Engine) buildResult(tree *Tree) *SolveResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	steps := make([]string, 0, len(tree.SuccessfulPath))
	results := make([]EvalResult, 0, len(tree.SuccessfulPath))
	for _, id := range tree.SuccessfulPath {
		b := tree.Branches[id]
		steps = append(steps, b.Step)
		if b.Result != nil {
			results = append(results, *b.Result)
		}
	}

	status := "failed"
	if len(tree.SuccessfulPath) > 0 {
		status = "completed"
	}

	return &SolveResult{
		TreeID:         tree.ID,
		Task:           tree.RootTask,
		Status:         status,
		SuccessfulPath: steps,
		Results:        results,
		Depth:          len(tree.SuccessfulPath),
		Stats:          statsLocked(tree),
	}
}

// SuccessfulContext renders the monotone success trajectory shown to
// downstream generation. Failed branches never appear here.
func (e *Engine) SuccessfulContext(treeID string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tree, ok := e.trees[treeID]
	if !ok {
		return "", fmt.Errorf("tree %s: %w", treeID, core.ErrTreeNotFound)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", tree.RootTask)
	sb.WriteString("History of successful steps:")
	for i, id := range tree.SuccessfulPath {
		b := tree.Branches[id]
		fmt.Fprintf(&sb, "\n%d. %s", i+1, b.Step)
		sb.WriteString("\n   Result: success")
	}
	return sb.String(), nil
}

// TreeStats reports exploration statistics for one tree.
func (e *Engine) TreeStats(treeID string) (TreeStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tree, ok := e.trees[treeID]
	if !ok {
		return TreeStats{}, fmt.Errorf("tree %s: %w", treeID, core.ErrTreeNotFound)
	}
	stats := statsLocked(tree)
	stats.TreeID = tree.ID
	stats.Task = tree.RootTask
	return stats, nil
}

func statsLocked(tree *Tree) TreeStats {
	total := len(tree.Branches)
	successful := 0
	failed := 0
	for _, b := range tree.Branches {
		switch b.Status {
		case StatusSuccess:
			successful++
		case StatusFailed:
			failed++
		}
	}
	efficiency := 0.0
	if total > 0 {
		efficiency = float64(len(tree.SuccessfulPath)) / float64(total)
	}
	return TreeStats{
		TotalBranches:      total,
		SuccessfulBranches: successful,
		FailedBranches:     failed,
		Efficiency:         efficiency,
		PathLength:         len(tree.SuccessfulPath),
	}
}

// Stats aggregates over all retained trees.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var totalBranches, totalSuccessful int
	for _, tree := range e.trees {
		totalBranches += len(tree.Branches)
		for _, b := range tree.Branches {
			if b.Status == StatusSuccess {
				totalSuccessful++
			}
		}
	}

	stats := EngineStats{
		TotalTrees:            len(e.trees),
		TotalBranchesExplored: totalBranches,
		TotalSuccessful:       totalSuccessful,
	}
	if totalBranches > 0 {
		stats.AverageSuccessRate = float64(totalSuccessful) / float64(totalBranches)
	}
	if len(e.trees) > 0 {
		stats.AverageBranchesPerTree = float64(totalBranches) / float64(len(e.trees))
	}
	return stats
}
