package core

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a zap.Logger to the Logger interface.
// Map fields are converted to sorted zap fields so log lines are stable.
type zapLogger struct {
	l *zap.Logger
}

// NewLogger creates a production logger at the given level.
// Accepted levels: debug, info, warn, error. Empty defaults to info.
func NewLogger(level string) (Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &zapLogger{l: l}, nil
}

// NewDevelopmentLogger creates a human-readable logger for local runs.
func NewDevelopmentLogger() Logger {
	l, err := zap.NewDevelopment(zap.AddCallerSkip(1))
	if err != nil {
		return &NoOpLogger{}
	}
	return &zapLogger{l: l}
}

func (z *zapLogger) Info(msg string, fields map[string]interface{}) {
	z.l.Info(msg, toZapFields(fields)...)
}

func (z *zapLogger) Error(msg string, fields map[string]interface{}) {
	z.l.Error(msg, toZapFields(fields)...)
}

func (z *zapLogger) Warn(msg string, fields map[string]interface{}) {
	z.l.Warn(msg, toZapFields(fields)...)
}

func (z *zapLogger) Debug(msg string, fields map[string]interface{}) {
	z.l.Debug(msg, toZapFields(fields)...)
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
