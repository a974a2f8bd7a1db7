package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/core"
)

func testClient() *http.Client {
	return NewHTTPClient(core.PoolConfig{
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     10,
	})
}

func TestRetrievalQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cache setup", body["query"])
		assert.Equal(t, float64(3), body["top_k"])

		json.NewEncoder(w).Encode(QueryResult{
			Documents: []Document{
				{Content: "redis cache guide", Score: 0.91},
			},
			TotalResults: 1,
		})
	}))
	defer srv.Close()

	r := NewRetrieval(srv.URL, testClient(), nil)
	result, err := r.Query(context.Background(), "cache setup", 3)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "redis cache guide", result.Documents[0].Content)
}

func TestRetrievalQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRetrieval(srv.URL, testClient(), nil)
	_, err := r.Query(context.Background(), "anything", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRequestFailed)
}

func TestRetrievalConnectionRefused(t *testing.T) {
	r := NewRetrieval("http://127.0.0.1:1", testClient(), nil)
	_, err := r.Query(context.Background(), "anything", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConnectionFailed)
	assert.True(t, core.IsTransient(err))
}

func TestInferenceGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body["model"])
		assert.Equal(t, false, body["stream"])

		json.NewEncoder(w).Encode(map[string]string{"response": "print('hi')"})
	}))
	defer srv.Close()

	inf := NewInference(srv.URL, testClient(), nil)
	out, err := inf.Generate(context.Background(), "", "write hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", out)
}

func TestInferenceTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": "a"}, {"name": "b"}},
		})
	}))
	defer srv.Close()

	inf := NewInference(srv.URL, testClient(), nil)
	n, err := inf.Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestArchitectureProposeApply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/arch/propose":
			json.NewEncoder(w).Encode(ProposeResult{ChangeID: "chg-1", Safe: true})
		case "/arch/apply":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "chg-1", body["change_id"])
			assert.Equal(t, true, body["confirm"])
			json.NewEncoder(w).Encode(ApplyResult{RollbackID: "rb-1"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	arch := NewArchitecture(srv.URL, testClient(), nil)
	prop, err := arch.Propose(context.Background(), "add cache", false)
	require.NoError(t, err)
	assert.Equal(t, "chg-1", prop.ChangeID)

	applied, err := arch.Apply(context.Background(), prop.ChangeID)
	require.NoError(t, err)
	assert.Equal(t, "rb-1", applied.RollbackID)
}

func TestRouterLocalByDefault(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "local answer"})
	}))
	defer local.Close()

	router := NewModelRouter(NewInference(local.URL, testClient(), nil), "", "", testClient(), nil)

	assert.False(t, router.ShouldUseExternal("short prompt", false))

	result, err := router.Generate(context.Background(), "short prompt", false)
	require.NoError(t, err)
	assert.Equal(t, "local_ollama", result.Model)
	assert.Equal(t, DefaultModel, result.ModelName)
	assert.Equal(t, "local answer", result.Content)
}

func TestRouterExternalCriteria(t *testing.T) {
	router := NewModelRouter(nil, "http://external", "key", testClient(), nil)

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'x'
	}

	assert.True(t, router.ShouldUseExternal(string(long), false), "long prompt")
	assert.True(t, router.ShouldUseExternal("short", true), "high priority")
	assert.True(t, router.ShouldUseExternal("please refactor this module", false), "complex keyword")
	assert.True(t, router.ShouldUseExternal("review SECURITY posture", false), "case-insensitive keyword")
	assert.False(t, router.ShouldUseExternal("hello", false))
}

func TestRouterExternalOnLocalErrorRate(t *testing.T) {
	router := NewModelRouter(nil, "http://external", "", testClient(), nil)

	router.mu.Lock()
	router.stats["local"].Calls = 10
	router.stats["local"].Errors = 4
	router.mu.Unlock()

	assert.True(t, router.ShouldUseExternal("hello", false))
}

func TestRouterExternalFallsBackToLocal(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "fallback answer"})
	}))
	defer local.Close()

	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer external.Close()

	router := NewModelRouter(NewInference(local.URL, testClient(), nil), external.URL, "k", testClient(), nil)

	result, err := router.Generate(context.Background(), "short", true)
	require.NoError(t, err)
	assert.Equal(t, "local_ollama", result.Model)
	assert.Equal(t, "fallback answer", result.Content)

	stats, _ := router.Stats()
	assert.Equal(t, 1, stats["external"].TotalErrors)
}

func TestRouterCache(t *testing.T) {
	var calls atomic.Int32
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"response": "cached answer"})
	}))
	defer local.Close()

	router := NewModelRouter(NewInference(local.URL, testClient(), nil), "", "", testClient(), nil)

	for i := 0; i < 3; i++ {
		result, err := router.Generate(context.Background(), "same prompt", false)
		require.NoError(t, err)
		assert.Equal(t, "cached answer", result.Content)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, cache := router.Stats()
	assert.Equal(t, 2, cache.Hits)
	assert.Equal(t, 1, cache.Misses)
	assert.InDelta(t, 66.7, cache.HitRate, 0.01)
	assert.Equal(t, 1, cache.Size)

	router.ClearCache()
	_, cache = router.Stats()
	assert.Equal(t, 0, cache.Size)
	assert.Equal(t, 0, cache.Hits)
}

func TestRouterExternalRequest(t *testing.T) {
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen-coder-plus", body["model"])

		json.NewEncoder(w).Encode(map[string]string{"content": "external answer"})
	}))
	defer external.Close()

	router := NewModelRouter(nil, external.URL, "secret", testClient(), nil)

	result, err := router.Generate(context.Background(), "short", true)
	require.NoError(t, err)
	assert.Equal(t, "external_qwen", result.Model)
	assert.Equal(t, "qwen-coder-plus", result.ModelName)
	assert.Equal(t, "external answer", result.Content)
}
