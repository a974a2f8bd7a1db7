package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helmsman-ai/helmsman/decision"
	"github.com/helmsman-ai/helmsman/execution"
	"github.com/helmsman-ai/helmsman/intent"
	"github.com/helmsman-ai/helmsman/knowledge"
	"github.com/helmsman-ai/helmsman/learning"
	"github.com/helmsman-ai/helmsman/planning"
	"github.com/helmsman-ai/helmsman/session"
	"github.com/helmsman-ai/helmsman/telemetry"
)

// Request is one inbound autonomous-task request.
type Request struct {
	SessionID   string `json:"session_id,omitempty"`
	Message     string `json:"message"`
	AutoExecute bool   `json:"auto_execute"`
}

// Plan is the executable shape of a request.
type Plan struct {
	Steps         []string                `json:"steps"`
	Pattern       planning.Pattern        `json:"pattern"`
	Suggestions   []planning.Suggestion   `json:"suggestions,omitempty"`
	FailurePoints []planning.FailurePoint `json:"failure_points,omitempty"`
}

// TaskResult carries the execution outcome.
type TaskResult struct {
	TaskID  string                 `json:"task_id"`
	Results []execution.StepResult `json:"result"`
	Summary execution.Summary      `json:"summary"`
}

// Response is the structured pipeline result.
type Response struct {
	SessionID    string           `json:"session_id"`
	Intent       string           `json:"intent"`
	Entities     intent.Entities  `json:"entities"`
	ContextCount int              `json:"context_count"`
	Plan         *Plan            `json:"plan,omitempty"`
	Verdict      *decision.Verdict `json:"verdict,omitempty"`
	TaskResult   *TaskResult      `json:"task_result,omitempty"`
	Response     string           `json:"response"`
	LatencyMS    float64          `json:"latency_ms"`
}

const approvalRequiredText = "This action requires approval before it can be executed."

// Handle runs the full pipeline for one request.
func (s *System) Handle(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "orchestrate")
	defer span.End()

	sess, err := s.lookupSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	detected := string(intent.Classify(req.Message))
	if detected == string(intent.IntentModify) && isCreationRequest(req.Message) {
		detected = "create"
	}
	span.SetAttributes(attribute.String("intent", detected))
	entities := intent.ExtractEntities(req.Message)

	ragDocs := s.fetchContext(ctx, req.Message)

	resp := &Response{
		SessionID:    sess.ID,
		Intent:       detected,
		Entities:     entities,
		ContextCount: len(ragDocs),
	}

	executable := detected == string(intent.IntentExecute) ||
		detected == string(intent.IntentModify) || detected == "create"

	var verdict decision.Verdict
	if executable {
		plan, v := s.buildPlan(req.Message, detected, entities, len(ragDocs) > 0)
		verdict = v
		resp.Plan = plan
		resp.Verdict = &verdict

		if req.AutoExecute && verdict.Action != decision.ActionRequireApproval {
			resp.TaskResult = s.execute(ctx, req.Message, detected, plan, len(ragDocs) > 0)
		}
	}

	resp.Response = s.composeResponse(ctx, req.Message, resp, verdict, ragDocs)
	resp.LatencyMS = math.Round(float64(time.Since(start).Microseconds())/1000*10) / 10

	s.appendMessages(ctx, sess.ID, req.Message, detected, resp.Response)
	s.Store.RecordQuery("orchestrator", req.Message, resp.LatencyMS, true)

	return resp, nil
}

func (s *System) lookupSession(ctx context.Context, id string) (*session.Session, error) {
	if id != "" {
		if sess, err := s.Sessions.Get(ctx, id); err == nil {
			return sess, nil
		}
	}
	return s.Sessions.Create(ctx, nil)
}

// fetchContext queries retrieval for grounding. Failure is non-fatal
// and indistinguishable from no results.
func (s *System) fetchContext(ctx context.Context, message string) []string {
	ctx, span := telemetry.StartSpan(ctx, "retrieve_context")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var docs []string
	err := s.Breakers.Do("rag", func() error {
		result, qerr := s.Retrieval.Query(ctx, message, 3)
		if qerr != nil {
			return qerr
		}
		for _, d := range result.Documents {
			docs = append(docs, d.Content)
		}
		return nil
	})
	if err != nil {
		s.Logger.Warn("Retrieval context unavailable", map[string]interface{}{
			"operation": "orchestrate",
			"error":     err.Error(),
		})
		return nil
	}
	return docs
}

// buildPlan decomposes, critiques, decides, and annotates risk.
func (s *System) buildPlan(message, detected string, entities intent.Entities, ragAvailable bool) (*Plan, decision.Verdict) {
	steps := planning.Decompose(message)
	pattern := planning.ExtractPattern(message)
	report := s.Planner.SuggestImprovements(message, steps)

	verdict := s.Decisions.MakeDecision(decision.Context{
		Intent:                detected,
		Message:               message,
		Pattern:               pattern,
		HistoricalSuccessRate: report.HistoricalSuccessRate,
		Entities:              entities,
		RAGContextAvailable:   ragAvailable,
	})

	// Reordering is only safe once the pattern has real history;
	// fresh workflows keep their decomposed order.
	if verdict.ShouldOptimize && s.Planner.Executions(pattern) >= 1 {
		steps = s.Planner.OptimizeSteps(steps)
	}

	steps = applySafetySteps(steps, verdict.SafetySteps)

	return &Plan{
		Steps:         steps,
		Pattern:       pattern,
		Suggestions:   report.Suggestions,
		FailurePoints: s.Predictive.PredictFailurePoints(steps),
	}, verdict
}

// applySafetySteps prepends a backup and appends a validation when
// the verdict demands them and the plan lacks them.
func applySafetySteps(steps []string, safetySteps []string) []string {
	for _, s := range safetySteps {
		switch s {
		case "backup":
			if !anyStepContains(steps, "backup") {
				steps = append([]string{"Create backup point"}, steps...)
			}
		case "validation":
			if !anyStepContains(steps, "validate") {
				steps = append(steps, "Validate applied changes")
			}
		}
	}
	return steps
}

func anyStepContains(steps []string, token string) bool {
	for _, s := range steps {
		if strings.Contains(strings.ToLower(s), token) {
			return true
		}
	}
	return false
}

// execute runs the plan and feeds every learning loop.
func (s *System) execute(ctx context.Context, message, detected string, plan *Plan, ragAvailable bool) *TaskResult {
	ctx, span := telemetry.StartSpan(ctx, "execute_plan",
		attribute.Int("steps", len(plan.Steps)))
	defer span.End()

	execContext := map[string]interface{}{"task": message}

	results, err := s.Executor.ExecuteTask(ctx, plan.Steps, execContext)
	if err != nil {
		s.Logger.Error("Plan refused", map[string]interface{}{
			"operation": "orchestrate",
			"error":     err.Error(),
		})
		return &TaskResult{
			TaskID:  uuid.New().String(),
			Summary: execution.Summary{Status: "failed"},
		}
	}

	summary := execution.Summarize(results)
	taskID := uuid.New().String()

	outcomes := make([]planning.StepOutcome, len(results))
	for i, r := range results {
		outcomes[i] = planning.StepOutcome{
			Step:    r.Step,
			Status:  r.Status,
			Latency: r.Latency,
		}
	}
	s.Planner.RecordExecution(message, plan.Steps, outcomes, summary.Status)

	strategy := s.MetaLearner.RecommendStrategy(learning.LearningContext{
		TaskType:      string(plan.Pattern),
		HasErrors:     summary.Failed > 0,
		HasRAGContext: ragAvailable,
	})
	s.MetaLearner.RecordLearningEvent(strategy, summary.Status)

	s.Knowledge.StoreAsync(knowledge.ExecutionRecord{
		TaskID:  taskID,
		Message: message,
		Intent:  detected,
		Results: results,
		Summary: summary,
	})

	return &TaskResult{TaskID: taskID, Results: results, Summary: summary}
}

func (s *System) composeResponse(ctx context.Context, message string, resp *Response, verdict decision.Verdict, ragDocs []string) string {
	switch {
	case resp.TaskResult != nil:
		sum := resp.TaskResult.Summary
		return fmt.Sprintf("Executed %d steps with %.1f%% success rate (%s).",
			sum.Total, sum.SuccessRate, sum.Status)

	case resp.Plan != nil && verdict.Action == decision.ActionRequireApproval:
		return fmt.Sprintf("%s Planned %d steps for review.",
			approvalRequiredText, len(resp.Plan.Steps))

	case resp.Plan != nil:
		return fmt.Sprintf("Prepared a %d-step plan (%s). Enable auto-execute to run it.",
			len(resp.Plan.Steps), resp.Plan.Pattern)

	case len(ragDocs) > 0:
		return fmt.Sprintf("Based on %d related documents: %s",
			len(ragDocs), excerpt(ragDocs[0], 200))

	default:
		return "I could not find related context. Could you rephrase or give more detail?"
	}
}

func (s *System) appendMessages(ctx context.Context, sessionID, userMsg, detected, reply string) {
	_ = s.Sessions.AddMessage(ctx, sessionID, session.Message{
		Role:    "user",
		Content: userMsg,
		Intent:  detected,
	})
	_ = s.Sessions.AddMessage(ctx, sessionID, session.Message{
		Role:    "assistant",
		Content: reply,
	})
}

var creationTargets = []string{
	"code", "program", "script", "game", "app", "file",
	".py", ".go", ".js", ".html",
}

func isCreationRequest(message string) bool {
	lower := strings.ToLower(message)
	verb := strings.Contains(lower, "create") || strings.Contains(lower, "write") ||
		strings.Contains(lower, "generate") || strings.Contains(lower, "build")
	if !verb {
		return false
	}
	for _, t := range creationTargets {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
