package planning

import "strings"

// MaxPlanSteps caps any plan produced or accepted by the system.
const MaxPlanSteps = 50

// Decompose breaks a request into an ordered step plan by keyword
// matching. It is a pure function: same text, same plan. The checks
// run in a fixed precedence; code creation is matched before the
// generic create patterns because it needs the file workflow.
func Decompose(description string) []string {
	lower := strings.ToLower(description)

	switch {
	case isCodeCreation(lower):
		return []string{
			"Analyze requirements",
			"Design code structure",
			"Generate code using AI",
			"Validate code safety",
			"Create file in safe zone",
			"Verify file creation",
		}
	case strings.Contains(lower, "health") || strings.Contains(lower, "status"):
		return []string{
			"Check rag service health",
			"Check ollama service health",
			"Check arch service health",
			"Get metrics",
			"Analyze results",
		}
	case strings.Contains(lower, "optimize") || strings.Contains(lower, "improve"):
		return []string{
			"Analyze current performance",
			"Identify bottlenecks",
			"Apply optimizations",
			"Verify improvements",
		}
	case strings.Contains(lower, "fix") || strings.Contains(lower, "debug"):
		return []string{
			"Analyze error logs",
			"Identify root cause",
			"Apply fix",
			"Verify fix",
		}
	case strings.Contains(lower, "deploy"):
		return []string{
			"Validate configuration",
			"Create backup point",
			"Apply changes",
			"Verify deployment",
		}
	case strings.Contains(lower, "add") || strings.Contains(lower, "create"):
		return []string{
			"Parse requirements",
			"Generate configuration",
			"Validate safety",
			"Apply changes",
			"Verify result",
		}
	case strings.Contains(lower, "analyze"):
		return []string{
			"Collect metrics",
			"Analyze performance",
			"Generate report",
		}
	default:
		return []string{
			"Analyze request",
			"Execute action",
			"Verify result",
		}
	}
}

// isCodeCreation detects requests that ask for a program or script,
// which need the generate/validate/write/verify file workflow.
func isCodeCreation(lower string) bool {
	verb := strings.Contains(lower, "create") ||
		strings.Contains(lower, "write") ||
		strings.Contains(lower, "generate") ||
		strings.Contains(lower, "build")
	if !verb {
		return false
	}
	for _, target := range []string{"code", "program", "script", "game", ".py", ".go", ".js"} {
		if strings.Contains(lower, target) {
			return true
		}
	}
	return false
}
