// Package execution runs plan steps against the backend fleet. Steps
// execute sequentially so that context threads forward; every
// outbound call goes through the circuit breaker table.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/helmsman-ai/helmsman/backends"
	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/decision"
	"github.com/helmsman-ai/helmsman/metrics"
	"github.com/helmsman-ai/helmsman/resilience"
	"github.com/helmsman-ai/helmsman/thought"
)

// Step statuses.
const (
	StatusSuccess   = "success"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Fields a successful step may thread into the shared context.
var contextAllowList = []string{
	"change_id",
	"rollback_id",
	"generated_code",
	"target_path",
	"backup_created",
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Step      string                 `json:"step"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Retries   int                    `json:"retries"`
	Latency   time.Duration          `json:"latency"`
	Timestamp time.Time              `json:"timestamp"`
}

// Summary condenses a plan run.
type Summary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
	Status      string  `json:"status"` // completed, partial, failed
}

// Engine dispatches plan steps to the backends.
type Engine struct {
	retrieval *backends.Retrieval
	inference *backends.Inference
	arch      *backends.Architecture
	codegen   *CodeGenerator
	breakers  *resilience.BreakerTable
	decisions *decision.Engine
	store     *metrics.Store
	logger    core.Logger

	maxSteps    int
	stepTimeout time.Duration
	retry       *resilience.RetryConfig
}

// NewEngine wires the execution engine.
func NewEngine(
	retrieval *backends.Retrieval,
	inference *backends.Inference,
	arch *backends.Architecture,
	codegen *CodeGenerator,
	breakers *resilience.BreakerTable,
	decisions *decision.Engine,
	store *metrics.Store,
	cfg core.ExecutionConfig,
	retryCfg core.RetryConfig,
	logger core.Logger,
) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 50
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	if retryCfg.MaxAttempts > 0 {
		retry.MaxAttempts = retryCfg.MaxAttempts
	}
	if retryCfg.InitialDelay > 0 {
		retry.InitialDelay = retryCfg.InitialDelay
	}
	if retryCfg.MaxDelay > 0 {
		retry.MaxDelay = retryCfg.MaxDelay
	}
	return &Engine{
		retrieval:   retrieval,
		inference:   inference,
		arch:        arch,
		codegen:     codegen,
		breakers:    breakers,
		decisions:   decisions,
		store:       store,
		logger:      logger,
		maxSteps:    cfg.MaxSteps,
		stepTimeout: cfg.StepTimeout,
		retry:       retry,
	}
}

// ExecuteTask runs the plan's steps in order. Oversized plans are
// refused up front; the per-task counter terminates runaway plans
// with a synthetic loop-protection failure.
func (e *Engine) ExecuteTask(ctx context.Context, steps []string, execContext map[string]interface{}) ([]StepResult, error) {
	if len(steps) > e.maxSteps {
		return nil, fmt.Errorf("plan has %d steps, limit %d: %w", len(steps), e.maxSteps, core.ErrTooManySteps)
	}
	if execContext == nil {
		execContext = make(map[string]interface{})
	}

	results := make([]StepResult, 0, len(steps))

	for _, step := range steps {
		// The counter lives in the context so nested executions
		// (tree-of-thought branches) share the same budget.
		executed, _ := execContext["steps_executed"].(int)
		if executed >= e.maxSteps {
			// One terminal synthetic failure, not one per leftover step.
			results = append(results, StepResult{
				Step:      step,
				Status:    StatusFailed,
				Error:     "LOOP_PROTECTION: step budget exhausted",
				Timestamp: time.Now(),
			})
			break
		}
		execContext["steps_executed"] = executed + 1

		result := e.ExecuteStep(ctx, step, execContext)
		results = append(results, result)

		if result.Status == StatusSuccess || result.Status == StatusCompleted {
			threadContext(execContext, result.Data)
		}

		if result.Status == StatusFailed && strings.Contains(strings.ToLower(step), "critical") {
			e.logger.Error("Critical step failed, halting plan", map[string]interface{}{
				"operation": "execute_task",
				"step":      step,
			})
			break
		}
	}

	return results, nil
}

// ExecuteStep runs one step with per-step verdict, timeout, and
// retry handling.
func (e *Engine) ExecuteStep(ctx context.Context, step string, execContext map[string]interface{}) StepResult {
	_, backupDone := execContext["backup_created"]
	verdict := e.decisions.EvaluateStep(step, backupDone)

	switch verdict.Action {
	case "skip":
		return StepResult{Step: step, Status: StatusSkipped, Message: verdict.Reason}
	case "modify":
		e.logger.Info("Step rewritten", map[string]interface{}{
			"operation": "execute_step",
			"original":  step,
			"modified":  verdict.ModifiedStep,
		})
		step = verdict.ModifiedStep
	}

	start := time.Now()
	var result StepResult
	attempts := 0
	// The retry policy paces the attempts; the decision engine
	// classifies which failures deserve one.
	err := resilience.Retry(ctx, e.retry, func() error {
		attempts++
		result = e.runStep(ctx, step, execContext)
		if result.Status != StatusFailed {
			return nil
		}
		if !e.decisions.ShouldRetry(attempts, result.Error) {
			return fmt.Errorf("%s: %w", result.Error, core.ErrPermanentFailure)
		}
		return errors.New(result.Error)
	})
	if attempts == 0 {
		// Context was already done before the first attempt.
		return StepResult{Step: step, Status: StatusFailed, Error: err.Error(), Timestamp: start}
	}

	result.Step = step
	result.Retries = attempts - 1
	result.Latency = time.Since(start)
	result.Timestamp = start
	return result
}

// runStep is a single attempt with the step timeout applied.
func (e *Engine) runStep(ctx context.Context, step string, execContext map[string]interface{}) StepResult {
	ctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	result := e.dispatch(ctx, step, execContext)
	if result.Status == StatusFailed && result.Error == "" && ctx.Err() != nil {
		result.Error = core.ErrStepTimeout.Error()
	}
	return result
}

var pathPattern = regexp.MustCompile(`(?i)(?:save|write|create).*?(?:to|in|at)\s+([^\s&"']+\.\w+)`)

// dispatch routes one step by its lowercase text. Precedence matters:
// more specific matches come first.
func (e *Engine) dispatch(ctx context.Context, step string, execContext map[string]interface{}) StepResult {
	lower := strings.ToLower(step)

	switch {
	case strings.Contains(lower, "create") && (strings.Contains(lower, "folder") || strings.Contains(lower, "directory")):
		return e.stepCreateFolder(lower)

	case strings.Contains(lower, "analyze") && strings.Contains(lower, "requirements"):
		return StepResult{Status: StatusSuccess, Message: "Requirements analyzed",
			Data: map[string]interface{}{"analysis": "requirements understood"}}

	case strings.Contains(lower, "design") && (strings.Contains(lower, "code") || strings.Contains(lower, "structure")):
		return StepResult{Status: StatusSuccess, Message: "Code structure designed"}

	case strings.Contains(lower, "generate") && (strings.Contains(lower, "code") || strings.Contains(lower, "ai")):
		return e.stepGenerateCode(ctx, execContext)

	case strings.Contains(lower, "validate") && (strings.Contains(lower, "code") || (strings.Contains(lower, "safety") && hasContext(execContext, "generated_code"))):
		return e.stepValidateCode(execContext)

	case strings.Contains(lower, "create") && strings.Contains(lower, "file"):
		return e.stepCreateFile(execContext)

	case strings.Contains(lower, "verify") && strings.Contains(lower, "file"):
		return e.stepVerifyFile(execContext)

	case strings.Contains(lower, "health") || strings.Contains(lower, "check"):
		return e.stepHealth(ctx, lower)

	case strings.Contains(lower, "metrics") || strings.Contains(lower, "measure"):
		return e.stepMetrics()

	case strings.Contains(lower, "analyz") || strings.Contains(lower, "analysis"):
		return e.stepAnalysis()

	case strings.Contains(lower, "generate") && strings.Contains(lower, "config"):
		return e.stepProposeConfig(ctx, execContext)

	case strings.Contains(lower, "validate") || strings.Contains(lower, "validation"):
		return e.stepSafetyValidation(execContext)

	case strings.Contains(lower, "apply"):
		return e.stepApply(ctx, execContext)

	case strings.Contains(lower, "backup"):
		return e.stepBackup()

	case strings.Contains(lower, "verify"):
		return e.stepVerify(ctx)

	case strings.Contains(lower, "optimiz"):
		return e.stepOptimize()

	case strings.Contains(lower, "search") || strings.Contains(lower, "find"):
		return e.stepSearch(ctx, step)

	default:
		return StepResult{Status: StatusCompleted, Message: "Step completed: " + step}
	}
}

func (e *Engine) stepCreateFolder(lower string) StepResult {
	m := regexp.MustCompile(`(?:folder|directory)\s+(?:named\s+|called\s+)?([^\s&"']+)`).FindStringSubmatch(lower)
	if m == nil {
		return StepResult{Status: StatusFailed, Error: "no folder name found in step"}
	}
	path := m[1]
	full, err := e.codegen.CreateFolder(path)
	if err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}
	}
	return StepResult{Status: StatusSuccess, Message: "Folder created",
		Data: map[string]interface{}{"target_path": path, "full_path": full}}
}

func (e *Engine) stepGenerateCode(ctx context.Context, execContext map[string]interface{}) StepResult {
	task, _ := execContext["task"].(string)
	if task == "" {
		task = "requested program"
	}
	language, _ := execContext["language"].(string)

	var code string
	err := e.breakers.Do("ollama", func() error {
		var genErr error
		code, genErr = e.codegen.Generate(ctx, task, language)
		return genErr
	})
	if err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}
	}

	data := map[string]interface{}{"generated_code": code}
	if m := pathPattern.FindStringSubmatch(task); m != nil {
		data["target_path"] = m[1]
	}
	return StepResult{Status: StatusSuccess, Message: "Code generated", Data: data}
}

func (e *Engine) stepValidateCode(execContext map[string]interface{}) StepResult {
	code, _ := execContext["generated_code"].(string)
	if code == "" {
		return StepResult{Status: StatusFailed, Error: "no generated code in context"}
	}
	if err := e.codegen.Validate(code); err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}
	}
	return StepResult{Status: StatusSuccess, Message: "Code validated: no dangerous patterns"}
}

func (e *Engine) stepCreateFile(execContext map[string]interface{}) StepResult {
	code, _ := execContext["generated_code"].(string)
	path, _ := execContext["target_path"].(string)
	if code == "" {
		return StepResult{Status: StatusFailed, Error: "no generated code in context"}
	}
	if path == "" {
		path = "generated/output.py"
	}
	full, err := e.codegen.CreateFile(path, code)
	if err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}
	}
	return StepResult{Status: StatusSuccess, Message: "File created at " + path,
		Data: map[string]interface{}{"target_path": path, "full_path": full}}
}

func (e *Engine) stepVerifyFile(execContext map[string]interface{}) StepResult {
	path, _ := execContext["target_path"].(string)
	if path == "" {
		return StepResult{Status: StatusFailed, Error: "no target path in context"}
	}
	if !e.codegen.FileExists(path) {
		return StepResult{Status: StatusFailed, Error: "file not found: " + path}
	}
	return StepResult{Status: StatusSuccess, Message: "File verified: " + path}
}

// stepHealth probes either one named service or the whole fleet.
func (e *Engine) stepHealth(ctx context.Context, lower string) StepResult {
	switch {
	case strings.Contains(lower, "rag"):
		return e.probeService(ctx, "rag")
	case strings.Contains(lower, "ollama"):
		return e.probeService(ctx, "ollama")
	case strings.Contains(lower, "arch"):
		return e.probeService(ctx, "arch")
	}

	services := []string{"rag", "ollama", "arch"}
	statuses := make(map[string]interface{}, len(services))
	healthy := 0
	for _, svc := range services {
		r := e.probeService(ctx, svc)
		if r.Status == StatusSuccess {
			statuses[svc] = "healthy"
			healthy++
		} else {
			statuses[svc] = "unhealthy"
		}
	}

	data := map[string]interface{}{
		"services":     statuses,
		"healthy":      healthy,
		"total":        len(services),
		"health_score": e.store.HealthScore(),
	}
	if healthy == 0 {
		return StepResult{Status: StatusFailed, Error: "all services unhealthy", Data: data}
	}
	return StepResult{Status: StatusSuccess,
		Message: fmt.Sprintf("Health check: %d/%d services healthy", healthy, len(services)),
		Data:    data}
}

func (e *Engine) probeService(ctx context.Context, service string) StepResult {
	start := time.Now()
	err := e.breakers.Do(service, func() error {
		switch service {
		case "rag":
			_, herr := e.retrieval.Health(ctx)
			return herr
		case "ollama":
			_, herr := e.inference.Tags(ctx)
			return herr
		default:
			_, herr := e.arch.Health(ctx)
			return herr
		}
	})
	latency := float64(time.Since(start).Milliseconds())

	status := "healthy"
	if err != nil {
		status = "unhealthy"
	}
	e.store.RecordQuery(service, "health_check", latency, err == nil)
	e.store.RecordServiceHealth(service, status, map[string]interface{}{"latency_ms": latency})

	if err != nil {
		if errors.Is(err, core.ErrCircuitOpen) {
			return StepResult{Status: StatusFailed, Error: fmt.Sprintf("%s: circuit open", service)}
		}
		return StepResult{Status: StatusFailed, Error: fmt.Sprintf("%s health check failed: %v", service, err)}
	}
	return StepResult{Status: StatusSuccess, Message: service + " is healthy",
		Data: map[string]interface{}{"service": service, "latency_ms": latency}}
}

func (e *Engine) stepMetrics() StepResult {
	stats := e.store.GetStats()
	return StepResult{Status: StatusSuccess, Message: "Metrics collected",
		Data: map[string]interface{}{
			"total_queries": stats.TotalQueries,
			"health_score":  e.store.HealthScore(),
		}}
}

func (e *Engine) stepAnalysis() StepResult {
	analysis := e.store.AnalyzePerformance()
	return StepResult{Status: StatusSuccess, Message: "Performance analyzed",
		Data: map[string]interface{}{
			"issues":      len(analysis.Issues),
			"suggestions": len(analysis.Suggestions),
		}}
}

func (e *Engine) stepProposeConfig(ctx context.Context, execContext map[string]interface{}) StepResult {
	task, _ := execContext["task"].(string)
	if task == "" {
		task = "proposed configuration change"
	}

	var proposal *backends.ProposeResult
	err := e.breakers.Do("arch", func() error {
		var perr error
		proposal, perr = e.arch.Propose(ctx, task, false)
		return perr
	})
	if err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}
	}
	return StepResult{Status: StatusSuccess, Message: "Configuration proposed",
		Data: map[string]interface{}{"change_id": proposal.ChangeID, "safe": proposal.Safe}}
}

func (e *Engine) stepSafetyValidation(execContext map[string]interface{}) StepResult {
	if !hasContext(execContext, "change_id") {
		return StepResult{Status: StatusFailed, Error: "validation failed: no change_id in context"}
	}
	return StepResult{Status: StatusSuccess, Message: "Safety validation passed"}
}

func (e *Engine) stepApply(ctx context.Context, execContext map[string]interface{}) StepResult {
	changeID, _ := execContext["change_id"].(string)
	if changeID == "" {
		return StepResult{Status: StatusFailed, Error: "no change_id to apply"}
	}

	var applied *backends.ApplyResult
	err := e.breakers.Do("arch", func() error {
		var aerr error
		applied, aerr = e.arch.Apply(ctx, changeID)
		return aerr
	})
	if err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}
	}
	return StepResult{Status: StatusSuccess, Message: "Change applied",
		Data: map[string]interface{}{"rollback_id": applied.RollbackID}}
}

func (e *Engine) stepBackup() StepResult {
	id := "backup_" + time.Now().Format("20060102_150405")
	return StepResult{Status: StatusSuccess, Message: "Backup point created: " + id,
		Data: map[string]interface{}{"backup_created": id}}
}

func (e *Engine) stepVerify(ctx context.Context) StepResult {
	result := e.stepHealth(ctx, "")
	if result.Status == StatusFailed {
		return StepResult{Status: StatusFailed, Error: "verification failed: " + result.Error}
	}
	return StepResult{Status: StatusSuccess, Message: "Verification passed", Data: result.Data}
}

func (e *Engine) stepOptimize() StepResult {
	opportunities := e.store.DetectAutoHealingOpportunities()
	names := make([]string, 0, len(opportunities))
	for _, o := range opportunities {
		names = append(names, o.Type+":"+o.Service)
	}
	sort.Strings(names)
	return StepResult{Status: StatusSuccess,
		Message: fmt.Sprintf("Found %d optimization opportunities", len(opportunities)),
		Data:    map[string]interface{}{"opportunities": names}}
}

func (e *Engine) stepSearch(ctx context.Context, step string) StepResult {
	var result *backends.QueryResult
	err := e.breakers.Do("rag", func() error {
		var qerr error
		result, qerr = e.retrieval.Query(ctx, step, 3)
		return qerr
	})
	if err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}
	}
	return StepResult{Status: StatusSuccess,
		Message: fmt.Sprintf("Found %d documents", len(result.Documents)),
		Data:    map[string]interface{}{"documents": len(result.Documents)}}
}

// EvaluateStep lets the Tree-of-Thought solver run single candidate
// steps through the same dispatch table.
func (e *Engine) EvaluateStep(ctx context.Context, step string, execContext map[string]interface{}) (thought.EvalResult, error) {
	result := e.ExecuteStep(ctx, step, execContext)
	status := result.Status
	if status == StatusSkipped {
		status = StatusCompleted
	}
	return thought.EvalResult{
		Status:   statusForThought(status),
		Data:     result.Data,
		Complete: status == StatusSuccess || status == StatusCompleted,
	}, nil
}

func statusForThought(status string) string {
	if status == StatusSuccess || status == StatusCompleted {
		return thought.StatusSuccess
	}
	return thought.StatusFailed
}

// Summarize condenses the per-step results.
func Summarize(results []StepResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Successful++
		case StatusCompleted:
			s.Completed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = math.Round(float64(s.Successful+s.Completed)/float64(s.Total)*1000) / 10
	}
	switch {
	case s.Failed == 0:
		s.Status = "completed"
	case s.Successful+s.Completed > 0:
		s.Status = "partial"
	default:
		s.Status = "failed"
	}
	return s
}

func threadContext(execContext map[string]interface{}, data map[string]interface{}) {
	if data == nil {
		return
	}
	for _, key := range contextAllowList {
		if v, ok := data[key]; ok {
			execContext[key] = v
		}
	}
}

func hasContext(execContext map[string]interface{}, key string) bool {
	_, ok := execContext[key]
	return ok
}
