package backends

import (
	"context"
	"net/http"
	"time"

	"github.com/helmsman-ai/helmsman/core"
)

// ProposeResult is the architecture service's change proposal.
type ProposeResult struct {
	ChangeID     string   `json:"change_id"`
	Diff         string   `json:"diff"`
	Preview      string   `json:"preview"`
	Safe         bool     `json:"safe"`
	SafetyChecks []string `json:"safety_checks"`
}

// ApplyResult confirms an applied change.
type ApplyResult struct {
	RollbackID string   `json:"rollback_id"`
	NextSteps  []string `json:"next_steps"`
}

// Architecture talks to the architecture-mutation service.
type Architecture struct {
	baseURL string
	hc      *http.Client
	logger  core.Logger
}

// NewArchitecture creates an architecture client.
func NewArchitecture(baseURL string, hc *http.Client, logger core.Logger) *Architecture {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Architecture{baseURL: baseURL, hc: hc, logger: logger}
}

// Propose asks for a configuration change proposal.
func (a *Architecture) Propose(ctx context.Context, prompt string, autoApply bool) (*ProposeResult, error) {
	var out ProposeResult
	err := postJSON(ctx, a.hc, a.baseURL+"/arch/propose", 15*time.Second, map[string]interface{}{
		"prompt":     prompt,
		"auto_apply": autoApply,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Apply confirms and applies a proposed change.
func (a *Architecture) Apply(ctx context.Context, changeID string) (*ApplyResult, error) {
	var out ApplyResult
	err := postJSON(ctx, a.hc, a.baseURL+"/arch/apply", 15*time.Second, map[string]interface{}{
		"change_id": changeID,
		"confirm":   true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Rollback reverts an applied change.
func (a *Architecture) Rollback(ctx context.Context, rollbackID string) error {
	return postJSON(ctx, a.hc, a.baseURL+"/arch/rollback", 15*time.Second, map[string]interface{}{
		"rollback_id": rollbackID,
	}, nil)
}

// History lists past changes.
func (a *Architecture) History(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := getJSON(ctx, a.hc, a.baseURL+"/arch/history", 5*time.Second, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health probes the service.
func (a *Architecture) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := getJSON(ctx, a.hc, a.baseURL+"/health", 5*time.Second, &out); err != nil {
		return nil, err
	}
	return out, nil
}
