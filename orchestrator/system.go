// Package orchestrator composes the pipeline: session, intent,
// retrieval grounding, planning, decision, execution, and the
// learning loops that close the feedback cycle.
package orchestrator

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helmsman-ai/helmsman/backends"
	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/decision"
	"github.com/helmsman-ai/helmsman/execution"
	"github.com/helmsman-ai/helmsman/knowledge"
	"github.com/helmsman-ai/helmsman/learning"
	"github.com/helmsman-ai/helmsman/metrics"
	"github.com/helmsman-ai/helmsman/planning"
	"github.com/helmsman-ai/helmsman/resilience"
	"github.com/helmsman-ai/helmsman/selfmod"
	"github.com/helmsman-ai/helmsman/session"
	"github.com/helmsman-ai/helmsman/thought"
)

// System is the top-level container. Everything is initialized once
// at process start and passed explicitly; there are no ambient
// globals.
type System struct {
	Config *core.Config
	Logger core.Logger

	HTTPClient *http.Client
	Retrieval  *backends.Retrieval
	Inference  *backends.Inference
	Arch       *backends.Architecture
	Router     *backends.ModelRouter

	Store       *metrics.Store
	Breakers    *resilience.BreakerTable
	Planner     *planning.AdaptivePlanner
	Predictive  *planning.PredictiveEngine
	Decisions   *decision.Engine
	CodeGen     *execution.CodeGenerator
	Executor    *execution.Engine
	Thought     *thought.Engine
	MetaLearner *learning.MetaLearner
	Improvement *learning.SelfImprovement
	Gate        *selfmod.Gate
	Knowledge   *knowledge.Store
	Sessions    session.Manager
	Goals       *GoalManager
	Optimizer   *AutonomousOptimizer
	Proactive   *ProactiveEngine
}

// NewSystem wires all subsystems from config. reg may be nil to skip
// Prometheus registration (tests).
func NewSystem(cfg *core.Config, reg prometheus.Registerer, logger core.Logger) (*System, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	hc := backends.NewHTTPClient(cfg.Pool)
	retrieval := backends.NewRetrieval(cfg.Backends.RetrievalURL, hc, logger)
	inference := backends.NewInference(cfg.Backends.OllamaURL, hc, logger)
	arch := backends.NewArchitecture(cfg.Backends.ArchitectureURL, hc, logger)
	router := backends.NewModelRouter(inference, cfg.Backends.QwenAPIURL, cfg.Backends.QwenAPIKey, hc, logger)

	store := metrics.NewStore(reg, logger)
	breakers := resilience.NewBreakerTable(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Timeout:          cfg.Breaker.Timeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}, logger)
	decisions := decision.NewEngine(logger)
	codegen := execution.NewCodeGenerator(router, cfg.SelfMod.WorkDir, logger)
	executor := execution.NewEngine(retrieval, inference, arch, codegen, breakers, decisions, store, cfg.Execution, cfg.Retry, logger)

	gate, err := selfmod.NewGate(cfg.SelfMod.WorkDir, cfg.SelfMod, logger)
	if err != nil {
		return nil, err
	}

	var sessions session.Manager
	if cfg.Backends.RedisURL != "" {
		sessions, err = session.NewRedisManager(cfg.Backends.RedisURL, 0, 0)
		if err != nil {
			logger.Warn("Redis unavailable, using in-memory sessions", map[string]interface{}{
				"operation": "system_init",
				"error":     err.Error(),
			})
			sessions = session.NewMemoryManager(0)
		}
	} else {
		sessions = session.NewMemoryManager(0)
	}

	sys := &System{
		Config:      cfg,
		Logger:      logger,
		HTTPClient:  hc,
		Retrieval:   retrieval,
		Inference:   inference,
		Arch:        arch,
		Router:      router,
		Store:       store,
		Breakers:    breakers,
		Planner:     planning.NewAdaptivePlanner(),
		Predictive:  planning.NewPredictiveEngine(),
		Decisions:   decisions,
		CodeGen:     codegen,
		Executor:    executor,
		Thought:     thought.NewEngine(logger),
		MetaLearner: learning.NewMetaLearner(logger),
		Improvement: learning.NewSelfImprovement(logger),
		Gate:        gate,
		Knowledge:   knowledge.NewStore(retrieval, logger),
		Sessions:    sessions,
		Goals:       NewGoalManager(),
	}
	sys.Optimizer = NewAutonomousOptimizer(sys)
	sys.Proactive = NewProactiveEngine(sys)
	return sys, nil
}

// StartBackground launches the optimizer and proactive loops. They
// stop when ctx is canceled.
func (s *System) StartBackground(ctx context.Context) {
	go s.Optimizer.Run(ctx)
	go s.Proactive.Run(ctx)
}

// ApplyReload applies the hot-reloadable tunables from a freshly
// loaded config. Anything not covered here takes effect at the next
// restart.
func (s *System) ApplyReload(next *core.Config) {
	s.Breakers.Configure(resilience.BreakerConfig{
		FailureThreshold: next.Breaker.FailureThreshold,
		Timeout:          next.Breaker.Timeout,
		SuccessThreshold: next.Breaker.SuccessThreshold,
	})
}

// Shutdown releases held resources.
func (s *System) Shutdown() error {
	s.HTTPClient.CloseIdleConnections()
	return s.Sessions.Close()
}
