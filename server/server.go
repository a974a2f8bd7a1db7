// Package server exposes the orchestrator over HTTP: the autonomous
// endpoint, metric and insight views, and the control surfaces for
// resilience, self-modification, and background engines.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/execution"
	"github.com/helmsman-ai/helmsman/orchestrator"
	"github.com/helmsman-ai/helmsman/planning"
	"github.com/helmsman-ai/helmsman/session"
)

// Server routes HTTP traffic to a wired system.
type Server struct {
	sys     *orchestrator.System
	logger  core.Logger
	router  chi.Router
	limiter *rateLimiter
}

// New builds the HTTP server around sys.
func New(sys *orchestrator.System, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Server{sys: sys, logger: logger}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ApplyConfig applies the hot-reloadable server tunables from a
// freshly loaded config.
func (s *Server) ApplyConfig(cfg *core.Config) {
	s.limiter.setLimits(cfg.Server.RateLimitMax, cfg.Server.RateLimitWindow)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.limiter = newRateLimiter(s.sys.Config.Server.RateLimitMax, s.sys.Config.Server.RateLimitWindow)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.middleware)

		r.Post("/autonomous", s.handleAutonomous)
		r.Post("/execute", s.handleExecute)
		r.Post("/chat", s.handleChat)
		r.Get("/status", s.handleStatus)

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/stats", s.handleMetricsStats)
			r.Get("/analysis", s.handleMetricsAnalysis)
			r.Get("/health", s.handleMetricsHealth)
			r.Get("/insights", s.handleMetricsInsights)
		})

		r.Route("/planning", func(r chi.Router) {
			r.Get("/predictions", s.handlePlanningPredictions)
			r.Get("/action-plan", s.handleActionPlan)
			r.Post("/execute-plan", s.handleExecutePlan)
		})

		r.Route("/resilience", func(r chi.Router) {
			r.Get("/circuit-breakers", s.handleBreakers)
			r.Post("/reset-circuit", s.handleResetBreaker)
		})

		r.Route("/tree-of-thought", func(r chi.Router) {
			r.Get("/status", s.handleThoughtStatus)
			r.Post("/solve", s.handleThoughtSolve)
			r.Get("/context/{treeID}", s.handleThoughtContext)
		})

		r.Route("/self-modification", func(r chi.Router) {
			r.Get("/status", s.handleSelfModStatus)
			r.Post("/propose", s.handleSelfModPropose)
			r.Post("/autonomous", s.handleSelfModAutonomous)
		})

		r.Get("/learning/insights", s.handleLearningInsights)
		r.Get("/learning/adaptive", s.handleLearningAdaptive)
		r.Get("/decisions/insights", s.handleDecisionInsights)
		r.Get("/meta-learning/insights", s.handleMetaLearning)

		r.Get("/predictive/analyze", s.handlePredictiveAnalyze)
		r.Get("/predictive/insights", s.handlePredictiveInsights)

		r.Get("/self-improvement/analyze", s.handleImprovementAnalyze)
		r.Get("/self-improvement/plan", s.handleImprovementPlan)
		r.Get("/self-improvement/insights", s.handleImprovementInsights)

		r.Post("/auto/apply-suggestion", s.handleSuggestionOutcome("applied"))
		r.Post("/auto/dismiss-suggestion", s.handleSuggestionOutcome("dismissed"))

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", s.handleGoalsList)
			r.Post("/", s.handleGoalsCreate)
			r.Get("/suggest", s.handleGoalsSuggest)
		})

		r.Get("/models/stats", s.handleModelStats)
		r.Get("/proactive/status", s.handleProactiveStatus)
		r.Get("/proactive/actions", s.handleProactiveActions)
		r.Get("/optimizer/report", s.handleOptimizerReport)
	})

	return r
}

// handleAutonomous is the primary orchestration endpoint. It accepts
// JSON or form-encoded requests.
func (s *Server) handleAutonomous(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request

	switch r.Header.Get("Content-Type") {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	default:
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "malformed form body")
			return
		}
		req.Message = r.FormValue("message")
		req.SessionID = r.FormValue("session_id")
		req.AutoExecute, _ = strconv.ParseBool(r.FormValue("auto_execute"))
	}

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.sys.Handle(r.Context(), req)
	if err != nil {
		s.writeFailure(w, "autonomous", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExecute is the legacy path: run explicit steps with no
// planning or decision gate.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Steps   []string               `json:"steps"`
		Context map[string]interface{} `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Steps) == 0 {
		writeError(w, http.StatusBadRequest, "steps are required")
		return
	}
	if req.Context == nil {
		req.Context = map[string]interface{}{}
	}

	results, err := s.sys.Executor.ExecuteTask(r.Context(), req.Steps, req.Context)
	if err != nil {
		s.writeFailure(w, "execute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"summary": execution.Summarize(results),
	})
}

// handleChat answers conversationally from retrieved context and
// never executes anything.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	sess, err := s.chatSession(ctx, req.SessionID)
	if err != nil {
		s.writeFailure(w, "chat", err)
		return
	}

	reply := "I could not find related context. Could you rephrase or give more detail?"
	contextCount := 0
	if result, qerr := s.sys.Retrieval.Query(ctx, req.Message, 3); qerr == nil && len(result.Documents) > 0 {
		contextCount = len(result.Documents)
		reply = result.Documents[0].Content
	}

	_ = s.sys.Sessions.AddMessage(ctx, sess.ID, session.Message{Role: "user", Content: req.Message})
	_ = s.sys.Sessions.AddMessage(ctx, sess.ID, session.Message{Role: "assistant", Content: reply})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    sess.ID,
		"response":      reply,
		"context_count": contextCount,
	})
}

func (s *Server) chatSession(ctx context.Context, id string) (*session.Session, error) {
	if id != "" {
		if sess, err := s.sys.Sessions.Get(ctx, id); err == nil {
			return sess, nil
		}
	}
	return s.sys.Sessions.Create(ctx, nil)
}

// handleStatus aggregates backend liveness through the breakers.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services := map[string]string{}

	probe := func(name string, fn func() error) {
		err := s.sys.Breakers.Do(name, fn)
		if err != nil {
			services[name] = "unhealthy"
			return
		}
		services[name] = "healthy"
	}
	probe("rag", func() error { _, err := s.sys.Retrieval.Health(ctx); return err })
	probe("ollama", func() error { _, err := s.sys.Inference.Tags(ctx); return err })
	probe("arch", func() error { _, err := s.sys.Arch.Health(ctx); return err })

	healthy := 0
	for _, st := range services {
		if st == "healthy" {
			healthy++
		}
	}
	status := "degraded"
	switch healthy {
	case len(services):
		status = "healthy"
	case 0:
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"services":     services,
		"health_score": s.sys.Store.HealthScore(),
	})
}

func (s *Server) handleMetricsStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Store.GetStats())
}

func (s *Server) handleMetricsAnalysis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Store.AnalyzePerformance())
}

func (s *Server) handleMetricsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"health_score": s.sys.Store.HealthScore(),
		"services":     s.sys.Store.ServiceHealthSnapshot(),
	})
}

func (s *Server) handleMetricsInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Store.GetInsights())
}

func (s *Server) handlePlanningPredictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": s.sys.Store.PredictFutureIssues(),
	})
}

func (s *Server) handleActionPlan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Store.GenerateActionPlan())
}

// handleExecutePlan executes the current action plan's immediate
// actions as a step plan.
func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	plan := s.sys.Store.GenerateActionPlan()
	if len(plan.ImmediateActions) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"executed": false,
			"reason":   "no immediate actions",
		})
		return
	}

	steps := make([]string, len(plan.ImmediateActions))
	for i, a := range plan.ImmediateActions {
		steps[i] = a.Action
	}
	results, err := s.sys.Executor.ExecuteTask(r.Context(), steps, map[string]interface{}{})
	if err != nil {
		s.writeFailure(w, "execute_plan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executed": true,
		"results":  results,
		"summary":  execution.Summarize(results),
	})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Breakers.Snapshot())
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if !s.sys.Breakers.Reset(req.Target) {
		writeError(w, http.StatusNotFound, "unknown breaker target")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "target": req.Target})
}

func (s *Server) handleThoughtStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Thought.Stats())
}

func (s *Server) handleThoughtSolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	result, err := s.sys.Thought.Solve(r.Context(), req.Task, s.sys.Executor, map[string]interface{}{
		"task": req.Task,
	})
	if err != nil {
		s.writeFailure(w, "thought_solve", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleThoughtContext(w http.ResponseWriter, r *http.Request) {
	treeID := chi.URLParam(r, "treeID")
	text, err := s.sys.Thought.SuccessfulContext(treeID)
	if err != nil {
		s.writeFailure(w, "thought_context", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tree_id": treeID, "context": text})
}

func (s *Server) handleSelfModStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":   s.sys.Gate.Stats(),
		"history": s.sys.Gate.History(10),
	})
}

func (s *Server) handleSelfModPropose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath    string `json:"file_path"`
		Type        string `json:"modification_type"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	proposal, err := s.sys.Gate.ProposeModification(req.FilePath, req.Type, req.Description)
	if err != nil {
		s.writeFailure(w, "selfmod_propose", err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

// handleSelfModAutonomous proposes and, if the risk gate approves,
// applies a modification in one round trip.
func (s *Server) handleSelfModAutonomous(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath    string `json:"file_path"`
		Type        string `json:"modification_type"`
		Description string `json:"description"`
		NewContent  string `json:"new_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FilePath == "" || req.NewContent == "" {
		writeError(w, http.StatusBadRequest, "file_path and new_content are required")
		return
	}

	proposal, err := s.sys.Gate.ProposeModification(req.FilePath, req.Type, req.Description)
	if err != nil {
		s.writeFailure(w, "selfmod_autonomous", err)
		return
	}
	result := s.sys.Gate.ApplyModification(req.FilePath, req.NewContent, proposal)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposal": proposal,
		"result":   result,
	})
}

func (s *Server) handleLearningInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Store.GetLearningReport())
}

func (s *Server) handleLearningAdaptive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Planner.Insights())
}

func (s *Server) handleDecisionInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Decisions.GetInsights())
}

func (s *Server) handleMetaLearning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.MetaLearner.Insights())
}

func (s *Server) handlePredictiveAnalyze(w http.ResponseWriter, r *http.Request) {
	stats := s.sys.Store.GetStats()
	preds := s.sys.Predictive.AnalyzeTrends(planning.TrendInput{
		TotalQueries: stats.TotalQueries,
		Errors:       stats.Errors,
		AvgLatencies: stats.AvgLatencies,
	}, s.sys.Planner.Insights())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions":       preds,
		"proactive_actions": s.sys.Predictive.GenerateProactiveActions(preds),
	})
}

func (s *Server) handlePredictiveInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Predictive.Insights())
}

func (s *Server) handleImprovementAnalyze(w http.ResponseWriter, r *http.Request) {
	opps := s.sys.Improvement.Analyze(
		s.sys.Store.GetStats(),
		s.sys.Planner.Insights(),
		s.sys.Decisions.GetInsights(),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{"opportunities": opps})
}

func (s *Server) handleImprovementPlan(w http.ResponseWriter, r *http.Request) {
	s.sys.Improvement.Analyze(
		s.sys.Store.GetStats(),
		s.sys.Planner.Insights(),
		s.sys.Decisions.GetInsights(),
	)
	writeJSON(w, http.StatusOK, s.sys.Improvement.GeneratePlan())
}

func (s *Server) handleImprovementInsights(w http.ResponseWriter, r *http.Request) {
	pending := s.sys.Improvement.Prioritize()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prioritized":   pending,
		"pending_count": len(pending),
	})
}

// handleSuggestionOutcome feeds applied/dismissed suggestion feedback
// into the preference-learning counters.
func (s *Server) handleSuggestionOutcome(outcome string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
			writeError(w, http.StatusBadRequest, "action is required")
			return
		}
		s.sys.Store.RecordSuggestionOutcome(req.Action, outcome)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "recorded",
			"action":  req.Action,
			"outcome": outcome,
		})
	}
}

func (s *Server) handleGoalsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": s.sys.Goals.ActiveGoals(),
		"all":    s.sys.Goals.AllGoals(),
	})
}

func (s *Server) handleGoalsCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
		Priority    string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if req.Priority == "" {
		req.Priority = "medium"
	}
	writeJSON(w, http.StatusCreated, s.sys.Goals.CreateGoal(req.Description, req.Priority))
}

func (s *Server) handleGoalsSuggest(w http.ResponseWriter, r *http.Request) {
	stats := s.sys.Store.GetStats()
	preds := s.sys.Predictive.AnalyzeTrends(planning.TrendInput{
		TotalQueries: stats.TotalQueries,
		Errors:       stats.Errors,
		AvgLatencies: stats.AvgLatencies,
	}, s.sys.Planner.Insights())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": orchestrator.SuggestGoals(s.sys.Store.HealthScore(), stats, preds),
	})
}

func (s *Server) handleModelStats(w http.ResponseWriter, r *http.Request) {
	backendStats, cacheStats := s.sys.Router.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends": backendStats,
		"cache":    cacheStats,
	})
}

func (s *Server) handleProactiveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending_actions":  len(s.sys.Proactive.PendingActions()),
		"executed_actions": len(s.sys.Proactive.ExecutedActions()),
	})
}

func (s *Server) handleProactiveActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":  s.sys.Proactive.PendingActions(),
		"executed": s.sys.Proactive.ExecutedActions(),
	})
}

func (s *Server) handleOptimizerReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Optimizer.Report())
}

// writeFailure maps internal errors to HTTP statuses. Bodies carry a
// short message only; internals stay in the logs.
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	s.logger.Error("Request failed", map[string]interface{}{
		"operation": op,
		"error":     err.Error(),
	})

	switch {
	case errors.Is(err, core.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "dependency circuit open")
	case errors.Is(err, core.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, core.ErrTooManySteps):
		writeError(w, http.StatusBadRequest, "plan exceeds maximum step count")
	case errors.Is(err, core.ErrUnsafePath), errors.Is(err, core.ErrProtectedFile):
		writeError(w, http.StatusForbidden, "path not modifiable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
