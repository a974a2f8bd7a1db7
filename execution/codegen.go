package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/helmsman-ai/helmsman/backends"
	"github.com/helmsman-ai/helmsman/core"
)

// Directory prefixes where generated artifacts may be written.
var safeZones = []string{
	"playground/",
	"generated/",
	"experiments/",
	"tic-tac-toe/",
	"demos/",
	"examples/",
}

// Patterns that disqualify generated code outright.
var dangerousPatterns = []string{
	"rm -rf",
	"del /f",
	"format c:",
	"drop database",
	"delete from",
	`__import__("os").system`,
	"eval(",
	"exec(",
	"subprocess.call",
}

// CodeGenerator produces and writes generated artifacts, confined to
// the safe zones.
type CodeGenerator struct {
	router *backends.ModelRouter
	root   string
	logger core.Logger
}

// NewCodeGenerator creates a generator writing under root.
func NewCodeGenerator(router *backends.ModelRouter, root string, logger core.Logger) *CodeGenerator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &CodeGenerator{router: router, root: root, logger: logger}
}

// IsSafeZone reports whether path sits inside an allowed prefix.
func IsSafeZone(path string) bool {
	clean := filepath.ToSlash(path)
	for _, zone := range safeZones {
		if strings.HasPrefix(clean, zone) || strings.Contains(clean, zone) {
			return true
		}
	}
	return false
}

// ContainsDangerousCode scans for forbidden constructs.
func ContainsDangerousCode(code string) bool {
	lower := strings.ToLower(code)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Generate asks the model for code and strips markdown fencing.
func (g *CodeGenerator) Generate(ctx context.Context, prompt, language string) (string, error) {
	if language == "" {
		language = "python"
	}
	simple := fmt.Sprintf("Write a simple %s %s. Keep it minimal and functional.",
		language, strings.SplitN(prompt, ".", 2)[0])

	result, err := g.router.Generate(ctx, simple, false)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return stripFences(result.Content), nil
}

// Validate checks generated code for dangerous constructs.
func (g *CodeGenerator) Validate(code string) error {
	if ContainsDangerousCode(code) {
		return fmt.Errorf("generated code rejected: %w", core.ErrDangerousCode)
	}
	return nil
}

// CreateFile writes content at path, refusing anything outside the
// safe zones.
func (g *CodeGenerator) CreateFile(path, content string) (string, error) {
	if !IsSafeZone(path) {
		return "", fmt.Errorf("%s: %w", path, core.ErrUnsafePath)
	}

	full := filepath.Join(g.root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	g.logger.Info("File created", map[string]interface{}{
		"operation": "codegen_create_file",
		"path":      path,
		"bytes":     len(content),
	})
	return full, nil
}

// CreateFolder makes a directory inside a safe zone.
func (g *CodeGenerator) CreateFolder(path string) (string, error) {
	if !IsSafeZone(path) {
		return "", fmt.Errorf("%s: %w", path, core.ErrUnsafePath)
	}
	full := filepath.Join(g.root, path)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	return full, nil
}

// FileExists reports whether a previously written artifact is there.
func (g *CodeGenerator) FileExists(path string) bool {
	_, err := os.Stat(filepath.Join(g.root, path))
	return err == nil
}

// stripFences removes a markdown code fence and its language tag.
func stripFences(code string) string {
	if !strings.Contains(code, "```") {
		return strings.TrimSpace(code)
	}
	parts := strings.Split(code, "```")
	if len(parts) < 2 {
		return strings.TrimSpace(code)
	}
	body := parts[1]
	lines := strings.SplitN(body, "\n", 2)
	if len(lines) == 2 {
		lang := strings.TrimSpace(lines[0])
		if lang == "" || isLanguageTag(lang) {
			body = lines[1]
		}
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(s string) bool {
	switch strings.ToLower(s) {
	case "python", "py", "go", "golang", "javascript", "js", "bash", "sh", "json", "yaml":
		return true
	}
	return false
}
