// Package ollama is a typed HTTP client for the Ollama API. It layers
// pooled connections, dual timeouts, and bounded exponential-backoff
// retries over the standard net/http client, and classifies every
// failure into the BackendError taxonomy.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuba6112/ollama-mcp/internal/buildinfo"
	"github.com/cuba6112/ollama-mcp/internal/config"
	"github.com/cuba6112/ollama-mcp/internal/httpkit"
)

// Config holds client construction parameters. Zero values fall back to
// the defaults noted per field.
type Config struct {
	// BaseURL is the resolved Ollama endpoint, e.g. "http://localhost:11434".
	BaseURL string

	// RequestTimeout bounds a full non-streaming exchange. Default 30s.
	RequestTimeout time.Duration

	// ConnectTimeout bounds connection establishment. Default 5s.
	ConnectTimeout time.Duration

	// MaxRetries is the number of retries after the initial attempt for
	// transient failures. Zero disables retries.
	MaxRetries int

	// Backoff computes the delay between attempts. A zero Base defaults
	// to 1s with a 30s cap and 10% jitter.
	Backoff httpkit.Backoff

	// LogRequests enables wire-level payload logging at trace level.
	LogRequests bool

	Logger *slog.Logger
}

// Client talks to a single Ollama endpoint. Safe for concurrent use; the
// underlying transport pools and reuses connections across all calls.
type Client struct {
	baseURL     string
	http        *http.Client
	streamHTTP  *http.Client
	maxRetries  int
	backoff     httpkit.Backoff
	logRequests bool
	logger      *slog.Logger
}

// New creates a Client. Both the regular and streaming http.Clients
// share one transport so they draw from the same connection pool; the
// streaming client simply has no overall timeout, since generation can
// legitimately run for minutes.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = httpkit.Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 0.1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := httpkit.NewTransport(cfg.ConnectTimeout)
	ua := buildinfo.UserAgent()

	return &Client{
		baseURL: cfg.BaseURL,
		http: httpkit.NewClient(
			httpkit.WithTransport(transport),
			httpkit.WithTimeout(cfg.RequestTimeout),
			httpkit.WithUserAgent(ua),
		),
		streamHTTP: httpkit.NewClient(
			httpkit.WithTransport(transport),
			httpkit.WithTimeout(0),
			httpkit.WithUserAgent(ua),
		),
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		logRequests: cfg.LogRequests,
		logger:      logger,
	}
}

// BaseURL returns the endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs a request with retries and decodes the JSON response into
// out (skipped when out is nil). Transient failures (unreachable
// backend, timeouts, 5xx) are retried up to MaxRetries with exponential
// backoff; 4xx and undecodable responses are surfaced immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &BackendError{Kind: KindProtocol, Message: "marshal request body", Attempts: 1, Cause: err}
		}
	}

	var lastErr *BackendError
	for attempt := 0; ; attempt++ {
		err := c.exchange(ctx, method, path, payload, out)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("request succeeded after retry",
					"method", method, "path", path, "attempts", attempt+1)
			}
			return nil
		}

		lastErr = err
		lastErr.Attempts = attempt + 1

		if !err.retryable() || attempt >= c.maxRetries {
			return lastErr
		}

		c.logger.Debug("retrying request after transient error",
			"method", method, "path", path,
			"attempt", attempt+1, "max_retries", c.maxRetries,
			"error", err.Message)

		if sleepErr := c.backoff.Sleep(ctx, attempt+1); sleepErr != nil {
			// Caller gave up while we were waiting; surface the last
			// backend error rather than swallowing it.
			return lastErr
		}
	}
}

// exchange performs a single HTTP round trip and decodes the response.
func (c *Client) exchange(ctx context.Context, method, path string, payload []byte, out any) *BackendError {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return &BackendError{Kind: KindProtocol, Message: "build request", Cause: err}
	}

	if c.logRequests {
		c.logger.Log(ctx, config.LevelTrace, "ollama request",
			"method", method, "path", path, "body", string(payload))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err, c.baseURL)
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 4096)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	decErr := dec.Decode(out)
	httpkit.DrainAndClose(resp.Body, 4096)
	if decErr != nil {
		return &BackendError{
			Kind:    KindProtocol,
			Message: fmt.Sprintf("decode %s response", path),
			Cause:   decErr,
		}
	}

	if c.logRequests {
		c.logger.Log(ctx, config.LevelTrace, "ollama response",
			"method", method, "path", path, "status", resp.StatusCode)
	}
	return nil
}

// stream performs a streaming request with the same retry policy as do,
// but only up to the point where the response begins: once frames are
// flowing, failures surface directly to the caller.
func (c *Client) stream(ctx context.Context, method, path string, body any) (*Stream, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &BackendError{Kind: KindProtocol, Message: "marshal request body", Attempts: 1, Cause: err}
	}

	var lastErr *BackendError
	for attempt := 0; ; attempt++ {
		req, reqErr := c.newRequest(ctx, method, path, payload)
		if reqErr != nil {
			return nil, &BackendError{Kind: KindProtocol, Message: "build request", Attempts: 1, Cause: reqErr}
		}

		if c.logRequests {
			c.logger.Log(ctx, config.LevelTrace, "ollama stream request",
				"method", method, "path", path, "body", string(payload))
		}

		resp, doErr := c.streamHTTP.Do(req)
		if doErr == nil && resp.StatusCode < 400 {
			return newStream(resp), nil
		}

		if doErr != nil {
			lastErr = classifyTransport(doErr, c.baseURL)
		} else {
			lastErr = c.statusError(resp)
		}
		lastErr.Attempts = attempt + 1

		if !lastErr.retryable() || attempt >= c.maxRetries {
			return nil, lastErr
		}
		if sleepErr := c.backoff.Sleep(ctx, attempt+1); sleepErr != nil {
			return nil, lastErr
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var req *http.Request
	var err error
	if payload == nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	}
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// statusError converts a non-2xx response into a BackendError, consuming
// the body so the connection returns to the pool.
func (c *Client) statusError(resp *http.Response) *BackendError {
	body := httpkit.ReadErrorBody(resp.Body, 8192)

	msg := fmt.Sprintf("Ollama API error %d", resp.StatusCode)
	var ae apiError
	if json.Unmarshal([]byte(body), &ae) == nil && ae.Error != "" {
		msg = ae.Error
	} else if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}

	return &BackendError{
		Kind:       KindAPI,
		Message:    msg,
		StatusCode: resp.StatusCode,
	}
}

// Ping checks whether the backend is reachable and responding.
func (c *Client) Ping(ctx context.Context) error {
	var v VersionResponse
	return c.do(ctx, http.MethodGet, "/api/version", nil, &v)
}

// Version returns the backend's reported version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v VersionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// ListModels returns the installed models.
func (c *Client) ListModels(ctx context.Context) (*ListResponse, error) {
	var out ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ShowModel returns detailed information about a model. The response
// shape varies by model family, so it is passed through as raw JSON.
func (c *Client) ShowModel(ctx context.Context, name string) (json.RawMessage, error) {
	var out json.RawMessage
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/api/show", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Generate performs a single-shot completion.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false
	var out GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateStream starts a streaming completion. Frames decode into
// GenerateResponse; the final frame has Done set.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	req.Stream = true
	return c.stream(ctx, http.MethodPost, "/api/generate", req)
}

// Chat performs a single-shot chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatStream starts a streaming chat completion. Frames decode into
// ChatResponse; the final frame has Done set.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (*Stream, error) {
	req.Stream = true
	return c.stream(ctx, http.MethodPost, "/api/chat", req)
}

// Embeddings returns one embedding vector per prompt, in prompt order.
// Ollama's endpoint takes a single prompt, so batches are issued as
// sequential calls; the first failure aborts the batch.
func (c *Client) Embeddings(ctx context.Context, model string, prompts []string) (*EmbeddingsResult, error) {
	result := &EmbeddingsResult{Model: model, Embeddings: make([][]float64, 0, len(prompts))}

	for i, prompt := range prompts {
		var out embeddingsResponse
		req := embeddingsRequest{Model: model, Prompt: prompt}
		if err := c.do(ctx, http.MethodPost, "/api/embeddings", req, &out); err != nil {
			return nil, fmt.Errorf("embeddings for input %d: %w", i, err)
		}
		vecs := out.vectors()
		if len(vecs) == 0 {
			return nil, &BackendError{
				Kind:    KindProtocol,
				Message: fmt.Sprintf("no embedding returned for input %d", i),
			}
		}
		result.Embeddings = append(result.Embeddings, vecs...)
		if out.Model != "" {
			result.Model = out.Model
		}
	}
	return result, nil
}

// Pull starts pulling a model from the Ollama library, streaming
// progress frames (PullProgress).
func (c *Client) Pull(ctx context.Context, name string, insecure bool) (*Stream, error) {
	req := PullRequest{Name: name, Insecure: insecure, Stream: true}
	return c.stream(ctx, http.MethodPost, "/api/pull", req)
}

// Copy duplicates a model under a new name.
func (c *Client) Copy(ctx context.Context, source, destination string) error {
	return c.do(ctx, http.MethodPost, "/api/copy", CopyRequest{Source: source, Destination: destination}, nil)
}

// Delete removes a model from local storage.
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/delete", DeleteRequest{Name: name}, nil)
}

// ListRunning returns the models currently loaded in memory.
func (c *Client) ListRunning(ctx context.Context) (*ProcessListResponse, error) {
	var out ProcessListResponse
	if err := c.do(ctx, http.MethodGet, "/api/ps", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
