package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable for the service. Defaults come from
// DefaultConfig, an optional YAML file overlays them, and environment
// variables win over both.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backends  BackendsConfig  `yaml:"backends"`
	Pool      PoolConfig      `yaml:"pool"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retry     RetryConfig     `yaml:"retry"`
	Execution ExecutionConfig `yaml:"execution"`
	SelfMod   SelfModConfig   `yaml:"self_modification"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig covers the HTTP listener and its rate limiter.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	RateLimitMax     int           `yaml:"rate_limit_max"`
	RateLimitWindow  time.Duration `yaml:"rate_limit_window"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// BackendsConfig names the downstream services.
type BackendsConfig struct {
	RetrievalURL    string `yaml:"retrieval_url"`
	ArchitectureURL string `yaml:"architecture_url"`
	OllamaURL       string `yaml:"ollama_url"`
	QwenAPIURL      string `yaml:"qwen_api_url"`
	QwenAPIKey      string `yaml:"qwen_api_key"`
	RedisURL        string `yaml:"redis_url"`
}

// PoolConfig sizes the shared outbound HTTP connection pool.
type PoolConfig struct {
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// BreakerConfig sets the per-target circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// RetryConfig bounds step retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ExecutionConfig bounds plan execution.
type ExecutionConfig struct {
	MaxSteps    int           `yaml:"max_steps"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// SelfModConfig scopes what the self-modification gate may touch.
type SelfModConfig struct {
	AllowedZones   []string `yaml:"allowed_zones"`
	ProtectedFiles []string `yaml:"protected_files"`
	BackupDir      string   `yaml:"backup_dir"`
	WorkDir        string   `yaml:"work_dir"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			RateLimitMax:      100,
			RateLimitWindow:   60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Backends: BackendsConfig{
			RetrievalURL:    "http://rag-service:8001",
			ArchitectureURL: "http://architect-ai:8003",
			OllamaURL:       "http://ollama:11434",
		},
		Pool: PoolConfig{
			MaxIdleConnsPerHost: 20,
			MaxConnsPerHost:     100,
			IdleConnTimeout:     90 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			SuccessThreshold: 2,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     5 * time.Second,
		},
		Execution: ExecutionConfig{
			MaxSteps:    50,
			StepTimeout: 30 * time.Second,
		},
		SelfMod: SelfModConfig{
			AllowedZones: []string{
				"services/web-ui/",
				"playground/",
				"generated/",
				"experiments/",
				"demos/",
				"examples/",
				"tic-tac-toe/",
			},
			ProtectedFiles: []string{
				"main.py",
				"docker-compose.yml",
				"go.mod",
			},
			BackupDir: "backups",
			WorkDir:   ".",
		},
		LogLevel: "info",
	}
}

// LoadConfig builds the effective configuration: defaults, then the
// YAML file at path (if non-empty), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setEnv(&c.Server.Addr, "HELMSMAN_ADDR")
	setEnv(&c.LogLevel, "HELMSMAN_LOG_LEVEL")
	setEnv(&c.Backends.RetrievalURL, "RAG_URL")
	setEnv(&c.Backends.ArchitectureURL, "ARCH_URL")
	setEnv(&c.Backends.OllamaURL, "OLLAMA_URL")
	setEnv(&c.Backends.QwenAPIURL, "QWEN_API_URL")
	setEnv(&c.Backends.QwenAPIKey, "QWEN_API_KEY")
	setEnv(&c.Backends.RedisURL, "REDIS_URL")
}

// Validate checks invariants that would otherwise surface as runtime
// surprises deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("%w: breaker failure_threshold must be positive", ErrInvalidConfiguration)
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("%w: breaker success_threshold must be positive", ErrInvalidConfiguration)
	}
	if c.Breaker.Timeout <= 0 {
		return fmt.Errorf("%w: breaker timeout must be positive", ErrInvalidConfiguration)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry max_attempts must be positive", ErrInvalidConfiguration)
	}
	if c.Execution.MaxSteps <= 0 {
		return fmt.Errorf("%w: execution max_steps must be positive", ErrInvalidConfiguration)
	}
	if c.Execution.StepTimeout <= 0 {
		return fmt.Errorf("%w: execution step_timeout must be positive", ErrInvalidConfiguration)
	}
	if c.Server.RateLimitMax <= 0 || c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfiguration)
	}
	if c.Backends.RetrievalURL == "" || c.Backends.OllamaURL == "" {
		return fmt.Errorf("%w: backend URLs", ErrMissingConfiguration)
	}
	if len(c.SelfMod.AllowedZones) == 0 {
		return fmt.Errorf("%w: self_modification allowed_zones must not be empty", ErrInvalidConfiguration)
	}
	return nil
}

// Watch reloads the config file on change and delivers the new config
// to onReload. It returns a stop function. Invalid edits are logged
// and skipped; the previous config stays in effect.
func Watch(path string, logger Logger, onReload func(*Config)) (func(), error) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory: editors replace files rather than write in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					logger.Warn("Config reload skipped", map[string]interface{}{
						"path":  path,
						"error": err.Error(),
					})
					continue
				}
				logger.Info("Config reloaded", map[string]interface{}{"path": path})
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Config watcher error", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
