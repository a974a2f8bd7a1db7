package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", ErrTimeout, true},
		{"wrapped timeout", fmt.Errorf("step failed: %w", ErrTimeout), true},
		{"connection message", errors.New("connection refused by upstream"), true},
		{"temporary message", errors.New("temporary glitch"), true},
		{"unavailable message", errors.New("backend unavailable"), true},
		{"not found", errors.New("resource not found"), false},
		{"invalid", errors.New("invalid payload"), false},
		{"forbidden", errors.New("forbidden"), false},
		{"unauthorized", errors.New("unauthorized"), false},
		{"plain failure", errors.New("something broke"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestPermanentOverridesTransient(t *testing.T) {
	// A message carrying both marker classes must not be retried.
	err := errors.New("connection ok but endpoint not found")
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
}

func TestIsPermanentSentinels(t *testing.T) {
	assert.True(t, IsPermanent(ErrUnsafePath))
	assert.True(t, IsPermanent(fmt.Errorf("gate: %w", ErrProtectedFile)))
	assert.True(t, IsPermanent(ErrDangerousCode))
	assert.False(t, IsPermanent(ErrTimeout))
}

func TestOpError(t *testing.T) {
	err := NewOpError("execution.RunStep", "backend", ErrTimeout)
	err.ID = "step-3"
	assert.Contains(t, err.Error(), "execution.RunStep")
	assert.Contains(t, err.Error(), "step-3")
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", ErrSessionNotFound)))
	assert.True(t, IsNotFound(ErrTreeNotFound))
	assert.False(t, IsNotFound(ErrTimeout))
}
