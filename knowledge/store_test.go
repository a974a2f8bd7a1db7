package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/backends"
	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/execution"
)

func newStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hc := backends.NewHTTPClient(core.PoolConfig{MaxIdleConnsPerHost: 2, MaxConnsPerHost: 4})
	return NewStore(backends.NewRetrieval(srv.URL, hc, nil), nil)
}

func sampleRecord() ExecutionRecord {
	return ExecutionRecord{
		TaskID:  "task-42",
		Message: "Create a hello world program",
		Intent:  "create",
		Results: []execution.StepResult{
			{Step: "Generate code using AI", Status: execution.StatusSuccess, Message: "Code generated"},
			{Step: "Verify file creation", Status: execution.StatusFailed, Error: "file missing"},
		},
		Summary: execution.Summary{Total: 2, Successful: 1, Failed: 1, SuccessRate: 50, Status: "partial"},
	}
}

func TestStoreExecutionResult(t *testing.T) {
	var captured struct {
		Content  string                 `json:"content"`
		Metadata map[string]interface{} `json:"metadata"`
	}

	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/add", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})

	require.NoError(t, store.StoreExecutionResult(context.Background(), sampleRecord()))
	assert.Equal(t, int64(1), store.StoredCount())

	assert.Equal(t, "execution_result", captured.Metadata["type"])
	assert.Equal(t, "task-42", captured.Metadata["task_id"])
	assert.Equal(t, float64(50), captured.Metadata["success_rate"])
	assert.Equal(t, "create", captured.Metadata["intent"])
	assert.NotEmpty(t, captured.Metadata["timestamp"])

	assert.Contains(t, captured.Content, "Task: Create a hello world program")
	assert.Contains(t, captured.Content, "✅ Generate code using AI")
	assert.Contains(t, captured.Content, "❌ Verify file creation")
	assert.Contains(t, captured.Content, "Success rate: 50.0%")
}

func TestStoreFailureIsNonFatal(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	err := store.StoreExecutionResult(context.Background(), sampleRecord())
	assert.Error(t, err)
	assert.Equal(t, int64(0), store.StoredCount())
}

func TestQuerySimilarExecutionsFilters(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backends.QueryResult{
			Documents: []backends.Document{
				{Content: "past run", Metadata: map[string]interface{}{"type": "execution_result"}},
				{Content: "manual doc", Metadata: map[string]interface{}{"type": "documentation"}},
				{Content: "another run", Metadata: map[string]interface{}{"type": "execution_result"}},
			},
		})
	})

	docs, err := store.QuerySimilarExecutions(context.Background(), "hello world", 3)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "past run", docs[0].Content)
	assert.Equal(t, "another run", docs[1].Content)
}

func TestStoreInsight(t *testing.T) {
	var captured struct {
		Content  string                 `json:"content"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte("{}"))
	})

	err := store.StoreInsight(context.Background(), Insight{
		Type:            "pattern",
		Description:     "health checks always succeed",
		Recommendations: "auto-execute health checks",
	})
	require.NoError(t, err)
	assert.Equal(t, "learning_insight", captured.Metadata["type"])
	assert.Contains(t, captured.Content, "health checks always succeed")
}
