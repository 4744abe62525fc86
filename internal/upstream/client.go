// Package upstream talks to the TabbyAPI backend serving the model.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// healthTimeout bounds the backend health probe.
const healthTimeout = 5 * time.Second

// Client makes requests to the TabbyAPI backend. Completion streams can be
// long-lived, so the configured timeout should be generous.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	verbose bool
}

// NewClient creates a backend client. apiKey may be empty for unauthenticated
// backends.
func NewClient(baseURL, apiKey string, timeout time.Duration, verbose bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		verbose: verbose,
	}
}

// ChatCompletion sends a non-streaming completion request and returns the
// response body. Non-2xx responses are returned as errors carrying the body.
func (c *Client) ChatCompletion(ctx context.Context, payload []byte) ([]byte, error) {
	resp, err := c.post(ctx, "/v1/chat/completions", payload, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// ChatCompletionStream sends a streaming completion request. The caller owns
// the response body; wrap it in a Reader and close it when done.
func (c *Client) ChatCompletionStream(ctx context.Context, payload []byte) (*http.Response, error) {
	resp, err := c.post(ctx, "/v1/chat/completions", payload, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// Models fetches the backend model list verbatim.
func (c *Client) Models(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend models request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Healthy probes the backend health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req, "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, payload []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, accept)
	req.Header.Set("Content-Type", "application/json")

	if c.verbose {
		slog.Info("backend.request", "path", path, "bytes", len(payload), "accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	if c.verbose {
		slog.Info("backend.response", "path", path, "status", resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}
