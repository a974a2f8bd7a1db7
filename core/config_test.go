package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Timeout)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50, cfg.Execution.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.Execution.StepTimeout)
	assert.Equal(t, 100, cfg.Server.RateLimitMax)
	assert.Equal(t, 60*time.Second, cfg.Server.RateLimitWindow)
	assert.Equal(t, 20, cfg.Pool.MaxIdleConnsPerHost)
	assert.Equal(t, 100, cfg.Pool.MaxConnsPerHost)
	assert.Contains(t, cfg.SelfMod.AllowedZones, "playground/")
}

func TestLoadConfigYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
breaker:
  failure_threshold: 7
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	// Untouched sections keep defaults.
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadConfigEnvWins(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://localhost:11434")
	t.Setenv("QWEN_API_URL", "https://qwen.example/v1/generate")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", cfg.Backends.OllamaURL)
	assert.Equal(t, "https://qwen.example/v1/generate", cfg.Backends.QwenAPIURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker.FailureThreshold = 0
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Backends.RetrievalURL = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingConfiguration)

	cfg = DefaultConfig()
	cfg.SelfMod.AllowedZones = nil
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	reloaded := make(chan *Config, 1)
	stop, err := Watch(path, &NoOpLogger{}, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload not observed")
	}
}
