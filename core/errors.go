package core

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Resilience errors
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Execution errors
	ErrLoopProtection   = errors.New("loop protection triggered")
	ErrTooManySteps     = errors.New("plan exceeds maximum step count")
	ErrStepTimeout      = errors.New("step execution timeout")
	ErrUnknownStep      = errors.New("no route for step")
	ErrPermanentFailure = errors.New("permanent failure")

	// Self-modification errors
	ErrUnsafePath       = errors.New("path outside allowed zones")
	ErrProtectedFile    = errors.New("file is protected")
	ErrValidationFailed = errors.New("validation failed")
	ErrDangerousCode    = errors.New("generated code contains dangerous pattern")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Lookup errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrGoalNotFound     = errors.New("goal not found")
	ErrTreeNotFound     = errors.New("tree not found")
	ErrProposalNotFound = errors.New("proposal not found")

	// HTTP/Network errors
	ErrTimeout          = errors.New("operation timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")
	ErrUnavailable      = errors.New("service unavailable")
)

// OpError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type OpError struct {
	Op      string // Operation that failed (e.g., "execution.RunStep")
	Kind    string // Error kind (e.g., "backend", "plan", "selfmod")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *OpError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates a new OpError
func NewOpError(op, kind string, err error) *OpError {
	return &OpError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// transientMarkers and permanentMarkers classify failures reported by
// backends as free-text messages. Permanent markers win on overlap.
var (
	transientMarkers = []string{"timeout", "connection", "temporary", "unavailable"}
	permanentMarkers = []string{"not found", "invalid", "forbidden", "unauthorized"}
)

// IsTransient reports whether an error is worth retrying.
// Sentinels are checked first, then the message is scanned for the
// transient markers. Permanent markers override transient ones.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRequestFailed) {
		return true
	}
	return containsAny(err.Error(), transientMarkers)
}

// IsPermanent reports whether retrying an error is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsafePath) ||
		errors.Is(err, ErrProtectedFile) ||
		errors.Is(err, ErrDangerousCode) ||
		errors.Is(err, ErrPermanentFailure) ||
		errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration) {
		return true
	}
	return containsAny(err.Error(), permanentMarkers)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrGoalNotFound) ||
		errors.Is(err, ErrTreeNotFound) ||
		errors.Is(err, ErrProposalNotFound)
}

func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
