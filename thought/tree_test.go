package thought

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/core"
)

// scriptedEvaluator fails branches whose step matches a predicate at
// a given depth, and signals completion at completeDepth.
type scriptedEvaluator struct {
	mu            sync.Mutex
	calls         int
	failAt        map[int]func(step string) bool // depth -> fail predicate
	completeDepth int
}

func (s *scriptedEvaluator) EvaluateStep(_ context.Context, step string, _ map[string]interface{}) (EvalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := s.calls / BranchWidth
	s.calls++

	if pred, ok := s.failAt[depth]; ok && pred(step) {
		return EvalResult{Status: "failed"}, nil
	}
	return EvalResult{
		Status:   StatusSuccess,
		Complete: depth >= s.completeDepth,
	}, nil
}

func isCreative(step string) bool { return strings.Contains(step, "alternative solution") }
func isDirect(step string) bool   { return strings.Contains(step, "directly") }

func TestSolvePicksHighestConfidenceSuccess(t *testing.T) {
	// Everything succeeds and completes at depth 0: creative (0.9) wins.
	eval := &scriptedEvaluator{failAt: map[int]func(string) bool{}, completeDepth: 0}

	engine := NewEngine(nil)
	result, err := engine.Solve(context.Background(), "check health", eval, nil)
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	require.Len(t, result.SuccessfulPath, 1)
	assert.Contains(t, result.SuccessfulPath[0], "alternative solution")
	assert.Equal(t, 3, result.Stats.TotalBranches)
}

func TestSolveExplorationEfficiency(t *testing.T) {
	// Two depths needed; creative fails at depth 0, direct at depth 1.
	eval := &scriptedEvaluator{
		failAt: map[int]func(string) bool{
			0: isCreative,
			1: isDirect,
		},
		completeDepth: 1,
	}

	engine := NewEngine(nil)
	result, err := engine.Solve(context.Background(), "build the report", eval, nil)
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	assert.Len(t, result.SuccessfulPath, 2)
	assert.Equal(t, 6, result.Stats.TotalBranches)
	assert.Equal(t, 2, result.Stats.FailedBranches)
	assert.InDelta(t, 2.0/6.0, result.Stats.Efficiency, 1e-9)

	// Depth 0 winner is analytical (creative failed); depth 1 winner
	// is creative (direct failed).
	assert.Contains(t, result.SuccessfulPath[0], "Analyze the task")
	assert.Contains(t, result.SuccessfulPath[1], "alternative solution")
}

func TestSuccessfulContextHidesFailures(t *testing.T) {
	eval := &scriptedEvaluator{
		failAt: map[int]func(string) bool{
			0: isCreative,
		},
		completeDepth: 0,
	}

	engine := NewEngine(nil)
	result, err := engine.Solve(context.Background(), "tune the cache", eval, nil)
	require.NoError(t, err)

	ctx, err := engine.SuccessfulContext(result.TreeID)
	require.NoError(t, err)

	assert.Contains(t, ctx, "Task: tune the cache")
	assert.Contains(t, ctx, "success")
	assert.NotContains(t, ctx, "alternative solution")
	assert.NotContains(t, ctx, "failed")
}

func TestSolveAllBranchesFail(t *testing.T) {
	eval := &scriptedEvaluator{
		failAt: map[int]func(string) bool{
			0: func(string) bool { return true },
		},
	}

	engine := NewEngine(nil)
	result, err := engine.Solve(context.Background(), "doomed task", eval, nil)
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.Empty(t, result.SuccessfulPath)
	assert.Equal(t, 3, result.Stats.FailedBranches)
	assert.Zero(t, result.Stats.Efficiency)
}

func TestSolveDepthBound(t *testing.T) {
	// Succeeds forever without completing: must stop at MaxDepth.
	eval := &scriptedEvaluator{failAt: map[int]func(string) bool{}, completeDepth: 1 << 30}

	engine := NewEngine(nil)
	result, err := engine.Solve(context.Background(), "endless task", eval, nil)
	require.NoError(t, err)

	assert.Len(t, result.SuccessfulPath, MaxDepth)
	assert.Equal(t, BranchWidth*MaxDepth, result.Stats.TotalBranches)
}

func TestTreeStatsAndEngineStats(t *testing.T) {
	eval := &scriptedEvaluator{failAt: map[int]func(string) bool{0: isDirect}, completeDepth: 0}

	engine := NewEngine(nil)
	result, err := engine.Solve(context.Background(), "one task", eval, nil)
	require.NoError(t, err)

	stats, err := engine.TreeStats(result.TreeID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalBranches)
	assert.Equal(t, 2, stats.SuccessfulBranches)
	assert.Equal(t, 1, stats.FailedBranches)
	assert.Equal(t, 1, stats.PathLength)

	all := engine.Stats()
	assert.Equal(t, 1, all.TotalTrees)
	assert.Equal(t, 3, all.TotalBranchesExplored)
	assert.InDelta(t, 2.0/3.0, all.AverageSuccessRate, 1e-9)
}

func TestUnknownTree(t *testing.T) {
	engine := NewEngine(nil)

	_, err := engine.SuccessfulContext("nope")
	assert.ErrorIs(t, err, core.ErrTreeNotFound)

	_, err = engine.TreeStats("nope")
	assert.ErrorIs(t, err, core.ErrTreeNotFound)
}
