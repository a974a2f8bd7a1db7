// Package intent classifies user requests and extracts the entities
// they mention. Everything here is pure: keyword tables evaluated in
// priority order, no state, no I/O.
package intent

import "strings"

// Intent is the coarse class of a user request.
type Intent string

const (
	IntentExecute Intent = "execute"
	IntentModify  Intent = "modify"
	IntentAnalyze Intent = "analyze"
	IntentQuery   Intent = "query"
)

// Keyword tables checked in priority order. Action verbs win over
// creation verbs, which win over analysis, which win over queries.
var (
	actionVerbs = []string{
		"check", "test", "run", "execute", "perform", "start", "stop",
		"restart", "deploy", "rollback", "apply", "fix", "debug",
	}
	creationVerbs = []string{
		"add", "create", "build", "setup", "configure", "install",
		"update", "modify", "change", "remove", "delete",
	}
	analysisVerbs = []string{
		"analyze", "inspect", "review", "investigate", "examine",
		"diagnose", "profile", "measure",
	}
	queryWords = []string{
		"what", "how", "why", "when", "where", "who", "explain",
		"tell me", "show me", "list", "get", "find",
	}
)

// Classify returns the intent of a message. Unmatched messages are
// treated as queries.
func Classify(message string) Intent {
	lower := strings.ToLower(message)

	if containsAny(lower, actionVerbs) {
		return IntentExecute
	}
	if containsAny(lower, creationVerbs) {
		return IntentModify
	}
	if containsAny(lower, analysisVerbs) {
		return IntentAnalyze
	}
	if containsAny(lower, queryWords) {
		return IntentQuery
	}
	return IntentQuery
}

// Entities are the concrete things a message refers to. Slices are
// never nil so the JSON shape is stable.
type Entities struct {
	Services     []string `json:"services"`
	Actions      []string `json:"actions"`
	Metrics      []string `json:"metrics"`
	Technologies []string `json:"technologies"`
}

var (
	knownServices = []string{"rag", "ollama", "arch", "redis", "postgres", "mongodb", "nginx"}
	knownActions  = []string{"optimize", "scale", "monitor", "backup", "restore", "migrate"}
	knownMetrics  = []string{"latency", "throughput", "memory", "cpu", "disk", "network"}
	knownTech     = []string{"docker", "kubernetes", "python", "fastapi", "flask"}
)

// ExtractEntities scans a message for known services, actions,
// metrics and technologies.
func ExtractEntities(message string) Entities {
	lower := strings.ToLower(message)
	return Entities{
		Services:     matchAll(lower, knownServices),
		Actions:      matchAll(lower, knownActions),
		Metrics:      matchAll(lower, knownMetrics),
		Technologies: matchAll(lower, knownTech),
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func matchAll(s string, words []string) []string {
	out := []string{}
	for _, w := range words {
		if strings.Contains(s, w) {
			out = append(out, w)
		}
	}
	return out
}
