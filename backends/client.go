// Package backends holds the HTTP clients for the downstream fleet:
// the retrieval service, the inference backends, and the
// architecture-mutation service. All clients share one pooled
// transport created at process start.
package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/helmsman-ai/helmsman/core"
)

// NewHTTPClient builds the shared outbound client: keep-alive pool
// sized from config, OTel-instrumented transport. Close idle
// connections on shutdown via CloseIdleConnections.
func NewHTTPClient(cfg core.PoolConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}
}

// postJSON sends a JSON body and decodes a JSON response into out.
func postJSON(ctx context.Context, hc *http.Client, url string, timeout time.Duration, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doJSON(hc, req, out)
}

// postJSONAuth is postJSON with an Authorization header.
func postJSONAuth(ctx context.Context, hc *http.Client, url string, timeout time.Duration, auth string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)

	return doJSON(hc, req, out)
}

// getJSON fetches a URL and decodes the JSON response into out.
func getJSON(ctx context.Context, hc *http.Client, url string, timeout time.Duration, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return doJSON(hc, req, out)
}

func doJSON(hc *http.Client, req *http.Request, out interface{}) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", req.Method, req.URL.Path, core.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s: %w", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body), core.ErrRequestFailed)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
