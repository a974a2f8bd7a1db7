package backends

import (
	"context"
	"net/http"
	"time"

	"github.com/helmsman-ai/helmsman/core"
)

// DefaultModel is the local generation model.
const DefaultModel = "qwen2.5-coder:7b"

// GenerateOptions tune a generation request.
type GenerateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Inference talks to the local Ollama-compatible backend.
type Inference struct {
	baseURL string
	hc      *http.Client
	logger  core.Logger
}

// NewInference creates an inference client.
func NewInference(baseURL string, hc *http.Client, logger core.Logger) *Inference {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Inference{baseURL: baseURL, hc: hc, logger: logger}
}

// Generate runs one non-streaming completion.
func (i *Inference) Generate(ctx context.Context, model, prompt string, opts *GenerateOptions) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	body := map[string]interface{}{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}
	if opts != nil {
		body["options"] = opts
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := postJSON(ctx, i.hc, i.baseURL+"/api/generate", 60*time.Second, body, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Tags lists the installed models; used as the health probe.
func (i *Inference) Tags(ctx context.Context) (int, error) {
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := getJSON(ctx, i.hc, i.baseURL+"/api/tags", 5*time.Second, &out); err != nil {
		return 0, err
	}
	return len(out.Models), nil
}
