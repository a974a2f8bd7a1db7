// Package knowledge writes execution transcripts and learning
// insights into the retrieval service so later requests can be
// grounded on what the system actually did.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/helmsman-ai/helmsman/backends"
	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/execution"
)

// ExecutionRecord is the material for one stored transcript.
type ExecutionRecord struct {
	TaskID  string
	Message string
	Intent  string
	Results []execution.StepResult
	Summary execution.Summary
}

// Insight is a stored learning observation.
type Insight struct {
	Type            string
	Description     string
	Recommendations string
}

// Store is the knowledge store over the retrieval backend.
type Store struct {
	retrieval   *backends.Retrieval
	logger      core.Logger
	storedCount atomic.Int64
}

// NewStore creates a knowledge store.
func NewStore(retrieval *backends.Retrieval, logger core.Logger) *Store {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Store{retrieval: retrieval, logger: logger}
}

// StoreExecutionResult writes one execution transcript. Failures are
// logged, not propagated: the request path never depends on this.
func (s *Store) StoreExecutionResult(ctx context.Context, rec ExecutionRecord) error {
	content := renderTranscript(rec)
	metadata := map[string]interface{}{
		"type":         "execution_result",
		"task_id":      rec.TaskID,
		"success_rate": rec.Summary.SuccessRate,
		"timestamp":    time.Now().Format(time.RFC3339),
		"intent":       rec.Intent,
	}

	if err := s.retrieval.Add(ctx, content, metadata); err != nil {
		s.logger.Warn("Failed to store execution result", map[string]interface{}{
			"operation": "knowledge_store",
			"task_id":   rec.TaskID,
			"error":     err.Error(),
		})
		return err
	}

	s.storedCount.Add(1)
	s.logger.Debug("Execution result stored", map[string]interface{}{
		"operation": "knowledge_store",
		"task_id":   rec.TaskID,
		"total":     s.storedCount.Load(),
	})
	return nil
}

// StoreAsync writes the transcript off the request path.
func (s *Store) StoreAsync(rec ExecutionRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.StoreExecutionResult(ctx, rec)
	}()
}

// StoreInsight writes a learning insight document.
func (s *Store) StoreInsight(ctx context.Context, insight Insight) error {
	var sb strings.Builder
	sb.WriteString("Learning insight\n")
	fmt.Fprintf(&sb, "Date: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Type: %s\n\n", insight.Type)
	fmt.Fprintf(&sb, "Description: %s\n\n", insight.Description)
	fmt.Fprintf(&sb, "Recommendations:\n%s\n", insight.Recommendations)

	metadata := map[string]interface{}{
		"type":         "learning_insight",
		"insight_type": insight.Type,
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	return s.retrieval.Add(ctx, sb.String(), metadata)
}

// QuerySimilarExecutions returns past transcripts relevant to query.
func (s *Store) QuerySimilarExecutions(ctx context.Context, query string, topK int) ([]backends.Document, error) {
	result, err := s.retrieval.Query(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	var out []backends.Document
	for _, doc := range result.Documents {
		if t, _ := doc.Metadata["type"].(string); t == "execution_result" {
			out = append(out, doc)
		}
	}
	return out, nil
}

// StoredCount reports how many transcripts were written.
func (s *Store) StoredCount() int64 { return s.storedCount.Load() }

func renderTranscript(rec ExecutionRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", rec.Message)
	fmt.Fprintf(&sb, "Executed at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Task ID: %s\n\n", rec.TaskID)

	sb.WriteString("Result:\n")
	fmt.Fprintf(&sb, "- Status: %s\n", rec.Summary.Status)
	fmt.Fprintf(&sb, "- Steps succeeded: %d/%d\n", rec.Summary.Successful+rec.Summary.Completed, rec.Summary.Total)
	fmt.Fprintf(&sb, "- Success rate: %.1f%%\n\n", rec.Summary.SuccessRate)

	sb.WriteString("Executed steps:\n")
	for i, step := range rec.Results {
		marker := "❌"
		if step.Status == execution.StatusSuccess || step.Status == execution.StatusCompleted {
			marker = "✅"
		}
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, marker, step.Step)
		if step.Message != "" {
			fmt.Fprintf(&sb, "   Result: %s\n", step.Message)
		}
	}
	return sb.String()
}
