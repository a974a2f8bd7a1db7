// Package selfmod guards writes to the system's own source tree.
// Every modification is backed up first, syntax-checked after, and
// rolled back if the new content does not parse.
package selfmod

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helmsman-ai/helmsman/core"
)

// Risk levels for a proposed modification.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Backup records where a file was copied and what it hashed to.
type Backup struct {
	Path         string    `json:"backup_path"`
	OriginalHash string    `json:"original_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// Proposal is an approval record for one modification.
type Proposal struct {
	FilePath             string    `json:"file_path"`
	Type                 string    `json:"modification_type"`
	Description          string    `json:"description"`
	RiskLevel            string    `json:"risk_level"`
	Backup               Backup    `json:"backup"`
	Approved             bool      `json:"approved"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	CreatedAt            time.Time `json:"created_at"`
}

// ApplyResult reports the outcome of an apply.
type ApplyResult struct {
	Success        bool   `json:"success"`
	ModificationID int    `json:"modification_id,omitempty"`
	BackupPath     string `json:"backup_path,omitempty"`
	RolledBack     bool   `json:"rolled_back"`
	Error          string `json:"error,omitempty"`
}

// Record is one applied modification in the history.
type Record struct {
	Proposal
	AppliedAt time.Time `json:"applied_at"`
	NewHash   string    `json:"new_hash"`
	Status    string    `json:"status"`
}

// Stats summarizes the gate's activity.
type Stats struct {
	TotalModifications int            `json:"total_modifications"`
	Successful         int            `json:"successful"`
	SuccessRate        float64        `json:"success_rate"`
	RiskDistribution   map[string]int `json:"risk_distribution"`
	SafeZones          int            `json:"safe_zones"`
	ProtectedFiles     int            `json:"protected_files"`
}

// Gate is the self-modification safety gate.
type Gate struct {
	root      string
	backupDir string
	safeZones []string
	protected []string
	logger    core.Logger

	mu      sync.Mutex
	history []Record
}

// NewGate creates a gate rooted at root. Paths passed to the gate
// are resolved relative to root when not absolute.
func NewGate(root string, cfg core.SelfModConfig, logger core.Logger) (*Gate, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	backupDir := cfg.BackupDir
	if !filepath.IsAbs(backupDir) {
		backupDir = filepath.Join(root, backupDir)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Gate{
		root:      root,
		backupDir: backupDir,
		safeZones: cfg.AllowedZones,
		protected: cfg.ProtectedFiles,
		logger:    logger,
	}, nil
}

func (g *Gate) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(g.root, path)
}

// CanModify reports whether path may be changed: it must exist, not
// be protected, and sit inside a safe zone.
func (g *Gate) CanModify(path string) error {
	full := g.resolve(path)
	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("%s: file does not exist: %w", path, core.ErrUnsafePath)
	}
	for _, p := range g.protected {
		if strings.Contains(path, p) {
			return fmt.Errorf("%s: %w", path, core.ErrProtectedFile)
		}
	}
	for _, zone := range g.safeZones {
		if strings.Contains(path, zone) {
			return nil
		}
	}
	return fmt.Errorf("%s: not in a safe modification zone: %w", path, core.ErrUnsafePath)
}

// CreateBackup copies the file into the backup directory under a
// timestamped name and records its content hash.
func (g *Gate) CreateBackup(path string) (Backup, error) {
	full := g.resolve(path)
	content, err := os.ReadFile(full)
	if err != nil {
		return Backup{}, fmt.Errorf("read %s: %w", path, err)
	}

	now := time.Now()
	backupName := fmt.Sprintf("%s.backup.%s", filepath.Base(full), now.Format("20060102_150405"))
	backupPath := filepath.Join(g.backupDir, backupName)
	if err := os.WriteFile(backupPath, content, 0o644); err != nil {
		return Backup{}, fmt.Errorf("write backup: %w", err)
	}

	return Backup{
		Path:         backupPath,
		OriginalHash: hashBytes(content),
		Timestamp:    now,
	}, nil
}

// riskFor maps a modification type to a risk level.
func riskFor(modType string) string {
	switch modType {
	case "add_function", "add_method", "add_parameter":
		return RiskLow
	case "modify_logic", "optimize_code", "refactor":
		return RiskMedium
	case "delete_function", "change_api", "modify_core":
		return RiskHigh
	}
	if strings.HasPrefix(modType, "add_") {
		return RiskLow
	}
	return RiskMedium
}

// ProposeModification gates, backs up, and returns an approval
// record. High-risk proposals are never auto-approved.
func (g *Gate) ProposeModification(path, modType, description string) (*Proposal, error) {
	if err := g.CanModify(path); err != nil {
		return nil, err
	}
	backup, err := g.CreateBackup(path)
	if err != nil {
		return nil, err
	}

	risk := riskFor(modType)
	p := &Proposal{
		FilePath:             path,
		Type:                 modType,
		Description:          description,
		RiskLevel:            risk,
		Backup:               backup,
		Approved:             risk != RiskHigh,
		RequiresConfirmation: risk == RiskHigh,
		CreatedAt:            time.Now(),
	}

	g.logger.Info("Modification proposed", map[string]interface{}{
		"operation": "selfmod_propose",
		"path":      path,
		"type":      modType,
		"risk":      risk,
		"approved":  p.Approved,
	})
	return p, nil
}

// ApplyModification writes the new content, validates it, and rolls
// back from the proposal's backup when validation fails.
func (g *Gate) ApplyModification(path, newContent string, proposal *Proposal) ApplyResult {
	if proposal == nil || !proposal.Approved {
		return ApplyResult{Success: false, Error: "modification not approved"}
	}

	full := g.resolve(path)
	if err := os.WriteFile(full, []byte(newContent), 0o644); err != nil {
		return ApplyResult{Success: false, Error: err.Error()}
	}

	if err := validateSyntax(full, newContent); err != nil {
		if rbErr := g.Rollback(proposal.Backup.Path, path); rbErr != nil {
			g.logger.Error("Rollback failed", map[string]interface{}{
				"operation": "selfmod_rollback",
				"path":      path,
				"error":     rbErr.Error(),
			})
		}
		return ApplyResult{
			Success:    false,
			RolledBack: true,
			Error:      fmt.Sprintf("validation failed: %v", err),
		}
	}

	g.mu.Lock()
	g.history = append(g.history, Record{
		Proposal:  *proposal,
		AppliedAt: time.Now(),
		NewHash:   hashBytes([]byte(newContent)),
		Status:    "applied",
	})
	id := len(g.history) - 1
	g.mu.Unlock()

	g.logger.Info("Modification applied", map[string]interface{}{
		"operation": "selfmod_apply",
		"path":      path,
		"id":        id,
	})
	return ApplyResult{Success: true, ModificationID: id, BackupPath: proposal.Backup.Path}
}

// Rollback restores a file from its backup.
func (g *Gate) Rollback(backupPath, originalPath string) error {
	content, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := os.WriteFile(g.resolve(originalPath), content, 0o644); err != nil {
		return fmt.Errorf("restore %s: %w", originalPath, err)
	}
	return nil
}

// FileHash returns the sha256 of a file's current content.
func (g *Gate) FileHash(path string) (string, error) {
	content, err := os.ReadFile(g.resolve(path))
	if err != nil {
		return "", err
	}
	return hashBytes(content), nil
}

// History returns the most recent applied modifications.
func (g *Gate) History(limit int) []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit <= 0 || limit > len(g.history) {
		limit = len(g.history)
	}
	out := make([]Record, limit)
	copy(out, g.history[len(g.history)-limit:])
	return out
}

// Stats summarizes gate activity.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	successful := 0
	dist := make(map[string]int)
	for _, r := range g.history {
		if r.Status == "applied" {
			successful++
		}
		dist[r.RiskLevel]++
	}
	s := Stats{
		TotalModifications: len(g.history),
		Successful:         successful,
		RiskDistribution:   dist,
		SafeZones:          len(g.safeZones),
		ProtectedFiles:     len(g.protected),
	}
	if len(g.history) > 0 {
		s.SuccessRate = float64(successful) / float64(len(g.history)) * 100
	}
	return s
}

// validateSyntax parses structured formats it knows. Unknown
// extensions pass: the gate cannot judge them.
func validateSyntax(path, content string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var v interface{}
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			return fmt.Errorf("%w: %v", core.ErrValidationFailed, err)
		}
	case ".yaml", ".yml":
		var v interface{}
		if err := yaml.Unmarshal([]byte(content), &v); err != nil {
			return fmt.Errorf("%w: %v", core.ErrValidationFailed, err)
		}
	case ".go", ".py":
		if err := checkBrackets(content); err != nil {
			return err
		}
	}
	return nil
}

// checkBrackets is a structural sanity check for script files:
// balanced brackets and no unterminated block. Full parsing belongs
// to the language toolchain.
func checkBrackets(content string) error {
	depth := map[rune]int{}
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	for _, r := range content {
		switch r {
		case '(', '[', '{':
			depth[r]++
		case ')', ']', '}':
			open := pairs[r]
			depth[open]--
			if depth[open] < 0 {
				return fmt.Errorf("%w: unbalanced %q", core.ErrValidationFailed, string(r))
			}
		}
	}
	for open, n := range depth {
		if n != 0 {
			return fmt.Errorf("%w: unclosed %q", core.ErrValidationFailed, string(open))
		}
	}
	return nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
