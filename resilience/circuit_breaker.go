package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the thresholds for a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// Timeout is how long to wait before probing in half-open state
	Timeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close
	SuccessThreshold int
}

// DefaultBreakerConfig provides the service defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker protects one downstream target. Counts are
// consecutive, not windowed: one success in closed state clears the
// failure streak.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger core.Logger

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	successCount int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a breaker for the named target.
func NewCircuitBreaker(name string, config BreakerConfig, logger core.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// CanExecute reports whether a request may proceed. An open breaker
// whose timeout has elapsed transitions to half-open and admits the
// probe.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.config.Timeout {
			cb.transition(StateHalfOpen)
			cb.successCount = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure notes a failed call. Any half-open failure reopens
// the breaker immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
		cb.successCount = 0
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	}
}

// SetConfig swaps the thresholds in place. Counts and state are kept;
// the new limits apply from the next recorded outcome.
func (cb *CircuitBreaker) SetConfig(config BreakerConfig) {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.config = config
}

// Reset forces the breaker back to closed and clears all counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailure = time.Time{}
}

// Status is a point-in-time snapshot of one breaker.
type Status struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// GetStatus returns a snapshot of the breaker.
func (cb *CircuitBreaker) GetStatus() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		LastFailure:  cb.lastFailure,
	}
}

// caller holds cb.mu
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.logger.Info("Circuit breaker state change", map[string]interface{}{
		"operation": "circuit_transition",
		"breaker":   cb.name,
		"from":      from.String(),
		"to":        to.String(),
		"failures":  cb.failureCount,
	})
}

// BreakerTable owns one breaker per downstream target, created
// lazily with a shared config.
type BreakerTable struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
	logger   core.Logger
}

// NewBreakerTable creates an empty table.
func NewBreakerTable(config BreakerConfig, logger core.Logger) *BreakerTable {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &BreakerTable{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for target, creating it on first use.
func (t *BreakerTable) Get(target string) *CircuitBreaker {
	t.mu.RLock()
	cb, ok := t.breakers[target]
	t.mu.RUnlock()
	if ok {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok = t.breakers[target]; ok {
		return cb
	}
	cb = NewCircuitBreaker(target, t.config, t.logger)
	t.breakers[target] = cb
	return cb
}

// Do runs fn under the target's breaker. A blocked call returns
// core.ErrCircuitOpen without invoking fn.
func (t *BreakerTable) Do(target string, fn func() error) error {
	cb := t.Get(target)
	if !cb.CanExecute() {
		return fmt.Errorf("%s: %w", target, core.ErrCircuitOpen)
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Configure replaces the thresholds for every existing breaker and
// for any breaker created later.
func (t *BreakerTable) Configure(config BreakerConfig) {
	t.mu.Lock()
	t.config = config
	existing := make([]*CircuitBreaker, 0, len(t.breakers))
	for _, cb := range t.breakers {
		existing = append(existing, cb)
	}
	t.mu.Unlock()

	for _, cb := range existing {
		cb.SetConfig(config)
	}
}

// Reset resets the named breaker. It reports whether the breaker
// existed.
func (t *BreakerTable) Reset(target string) bool {
	t.mu.RLock()
	cb, ok := t.breakers[target]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// Snapshot returns the status of every breaker keyed by target.
func (t *BreakerTable) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Status, len(t.breakers))
	for name, cb := range t.breakers {
		out[name] = cb.GetStatus()
	}
	return out
}
