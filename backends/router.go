package backends

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/core"
)

// GenerateResult is the outcome of a routed generation.
type GenerateResult struct {
	Content   string `json:"content"`
	Model     string `json:"model"`      // local_ollama or external_qwen
	ModelName string `json:"model_name"` // concrete model identifier
}

const maxRouterCache = 100

type backendStats struct {
	Calls     int
	TotalTime time.Duration
	Errors    int
}

// ModelRouter routes generation between the local inference backend
// and an optional external Qwen-compatible API, with result caching
// and fallback to local on external failure.
type ModelRouter struct {
	local       *Inference
	externalURL string
	externalKey string
	hc          *http.Client
	logger      core.Logger

	mu         sync.Mutex
	stats      map[string]*backendStats
	cache      map[string]GenerateResult
	cacheOrder []string
	cacheHits  int
	cacheMiss  int
}

// NewModelRouter creates a router. externalURL may be empty, in
// which case everything runs locally.
func NewModelRouter(local *Inference, externalURL, externalKey string, hc *http.Client, logger core.Logger) *ModelRouter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ModelRouter{
		local:       local,
		externalURL: externalURL,
		externalKey: externalKey,
		hc:          hc,
		logger:      logger,
		stats: map[string]*backendStats{
			"local":    {},
			"external": {},
		},
		cache: make(map[string]GenerateResult),
	}
}

var complexKeywords = []string{"refactor", "optimize", "architecture", "design pattern", "security"}

// ShouldUseExternal decides the backend for one prompt: long prompts,
// high-priority work, a flaky local model, or complexity keywords all
// route externally when an external endpoint is configured.
func (m *ModelRouter) ShouldUseExternal(prompt string, highPriority bool) bool {
	if m.externalURL == "" {
		return false
	}
	if len(prompt) > 500 {
		return true
	}
	if highPriority {
		return true
	}

	m.mu.Lock()
	local := m.stats["local"]
	errorRate := float64(local.Errors) / math.Max(float64(local.Calls), 1)
	m.mu.Unlock()
	if errorRate > 0.3 {
		return true
	}

	lower := strings.ToLower(prompt)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Generate runs one completion through the selected backend,
// serving repeats from the cache and falling back to the local model
// when the external call fails.
func (m *ModelRouter) Generate(ctx context.Context, prompt string, highPriority bool) (GenerateResult, error) {
	key := cacheKey(prompt)

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.cacheHits++
		m.mu.Unlock()
		return cached, nil
	}
	m.cacheMiss++
	m.mu.Unlock()

	useExternal := m.ShouldUseExternal(prompt, highPriority)
	backend := "local"
	if useExternal {
		backend = "external"
	}

	start := time.Now()
	var result GenerateResult
	var err error
	if useExternal {
		result, err = m.generateExternal(ctx, prompt)
	} else {
		result, err = m.generateLocal(ctx, prompt)
	}
	elapsed := time.Since(start)

	m.mu.Lock()
	stats := m.stats[backend]
	stats.Calls++
	stats.TotalTime += elapsed
	if err != nil {
		stats.Errors++
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("Model generation failed", map[string]interface{}{
			"operation": "model_generate",
			"backend":   backend,
			"error":     err.Error(),
		})
		if useExternal {
			// External path broke: retry locally before giving up.
			return m.generateLocal(ctx, prompt)
		}
		return GenerateResult{}, err
	}

	m.mu.Lock()
	if _, exists := m.cache[key]; !exists {
		m.cache[key] = result
		m.cacheOrder = append(m.cacheOrder, key)
		if len(m.cacheOrder) > maxRouterCache {
			oldest := m.cacheOrder[0]
			m.cacheOrder = m.cacheOrder[1:]
			delete(m.cache, oldest)
		}
	}
	m.mu.Unlock()

	return result, nil
}

func (m *ModelRouter) generateLocal(ctx context.Context, prompt string) (GenerateResult, error) {
	content, err := m.local.Generate(ctx, DefaultModel, prompt, nil)
	if err != nil {
		return GenerateResult{}, err
	}
	return GenerateResult{
		Content:   content,
		Model:     "local_ollama",
		ModelName: DefaultModel,
	}, nil
}

func (m *ModelRouter) generateExternal(ctx context.Context, prompt string) (GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	body := map[string]interface{}{
		"model":      "qwen-coder-plus",
		"prompt":     prompt,
		"max_tokens": 2000,
	}
	var out struct {
		Response string `json:"response"`
		Content  string `json:"content"`
	}

	if err := m.postExternal(ctx, body, &out); err != nil {
		return GenerateResult{}, err
	}

	content := out.Response
	if content == "" {
		content = out.Content
	}
	return GenerateResult{
		Content:   content,
		Model:     "external_qwen",
		ModelName: "qwen-coder-plus",
	}, nil
}

func (m *ModelRouter) postExternal(ctx context.Context, body, out interface{}) error {
	if m.externalKey == "" {
		return postJSON(ctx, m.hc, m.externalURL, 30*time.Second, body, out)
	}
	return postJSONAuth(ctx, m.hc, m.externalURL, 30*time.Second, "Bearer "+m.externalKey, body, out)
}

// RouterStats is the per-backend usage report.
type RouterStats struct {
	Calls       int     `json:"calls"`
	AvgTime     float64 `json:"avg_time"`
	ErrorRate   float64 `json:"error_rate"`
	TotalErrors int     `json:"total_errors"`
}

// CacheStats reports router cache effectiveness.
type CacheStats struct {
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// Stats returns the usage and cache statistics.
func (m *ModelRouter) Stats() (map[string]RouterStats, CacheStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]RouterStats, len(m.stats))
	for name, s := range m.stats {
		rs := RouterStats{Calls: s.Calls, TotalErrors: s.Errors}
		if s.Calls > 0 {
			rs.AvgTime = math.Round(s.TotalTime.Seconds()/float64(s.Calls)*100) / 100
			rs.ErrorRate = math.Round(float64(s.Errors)/float64(s.Calls)*1000) / 10
		}
		out[name] = rs
	}

	total := m.cacheHits + m.cacheMiss
	cs := CacheStats{Hits: m.cacheHits, Misses: m.cacheMiss, Size: len(m.cache)}
	if total > 0 {
		cs.HitRate = math.Round(float64(m.cacheHits)/float64(total)*1000) / 10
	}
	return out, cs
}

// ClearCache drops all cached generations.
func (m *ModelRouter) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]GenerateResult)
	m.cacheOrder = nil
	m.cacheHits = 0
	m.cacheMiss = 0
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
