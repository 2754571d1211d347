package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuba6112/ollama-mcp/internal/httpkit"
)

// fastBackoff keeps retry tests quick.
var fastBackoff = httpkit.Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond}

func newTestClient(t *testing.T, handler http.Handler, retries int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:    srv.URL,
		MaxRetries: retries,
		Backoff:    fastBackoff,
	})
	return c, srv
}

func TestListModels(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		fmt.Fprint(w, `{"models": [{"name": "llama3.2:latest", "size": 2048}, {"name": "qwen2.5:7b"}]}`)
	}), 0)

	list, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(list.Models) != 2 {
		t.Fatalf("got %d models, want 2", len(list.Models))
	}
	if list.Models[0].Name != "llama3.2:latest" {
		t.Errorf("Models[0].Name = %q", list.Models[0].Name)
	}
}

func TestRetryOn500ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"error": "temporarily overloaded"}`, http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"models": []}`)
	}), 3)

	_, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend saw %d calls, want 3 (2 failures + success)", got)
	}
}

func TestNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": "model 'nope' not found"}`, http.StatusNotFound)
	}), 3)

	_, err := c.ShowModel(context.Background(), "nope")
	if err == nil {
		t.Fatal("ShowModel() succeeded, want error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend saw %d calls for a 404, want exactly 1", got)
	}

	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if berr.Kind != KindAPI {
		t.Errorf("Kind = %q, want %q", berr.Kind, KindAPI)
	}
	if berr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", berr.StatusCode)
	}
	if berr.Message != "model 'nope' not found" {
		t.Errorf("Message = %q, want the backend's error text", berr.Message)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}), 2)

	_, err := c.ListModels(context.Background())
	if err == nil {
		t.Fatal("ListModels() succeeded, want error")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend saw %d calls, want 3 (initial + 2 retries)", got)
	}

	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if berr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", berr.Attempts)
	}
}

func TestUnreachableBackend(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New(Config{
		BaseURL:    "http://" + addr,
		MaxRetries: 2,
		Backoff:    fastBackoff,
	})

	_, err = c.ListModels(context.Background())
	if err == nil {
		t.Fatal("ListModels() against a closed port succeeded")
	}

	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if berr.Kind != KindUnavailable {
		t.Errorf("Kind = %q, want %q", berr.Kind, KindUnavailable)
	}
	if berr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 (connection refused is retried)", berr.Attempts)
	}
	if berr.Suggestion == "" {
		t.Error("Suggestion is empty, want a hint to check the backend")
	}
}

func TestTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	short := New(Config{
		BaseURL:        srv.URL,
		RequestTimeout: 20 * time.Millisecond,
		MaxRetries:     0,
		Backoff:        fastBackoff,
	})

	_, err := short.ListModels(context.Background())
	if err == nil {
		t.Fatal("ListModels() with a tight timeout succeeded")
	}
	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if berr.Kind != KindTimeout {
		t.Errorf("Kind = %q, want %q", berr.Kind, KindTimeout)
	}
}

func TestProtocolErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `<html>this is not json</html>`)
	}), 3)

	_, err := c.ListModels(context.Background())
	if err == nil {
		t.Fatal("ListModels() on garbage succeeded")
	}
	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if berr.Kind != KindProtocol {
		t.Errorf("Kind = %q, want %q", berr.Kind, KindProtocol)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend saw %d calls for a decode failure, want 1", got)
	}
}

func TestGenerateStreamAccumulatesFrames(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("Stream = false, want true for GenerateStream")
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model": "llama3.2", "response": "Hello", "done": false}`)
		fmt.Fprintln(w, `{"model": "llama3.2", "response": ", world", "done": false}`)
		fmt.Fprintln(w, `{"model": "llama3.2", "response": "!", "done": true, "prompt_eval_count": 5, "eval_count": 12}`)
	}), 0)

	stream, err := c.GenerateStream(context.Background(), GenerateRequest{Model: "llama3.2", Prompt: "hi"})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}
	defer stream.Close()

	var text string
	var final GenerateResponse
	for {
		var frame GenerateResponse
		if err := stream.Next(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("Next() error: %v", err)
		}
		text += frame.Response
		if frame.Done {
			final = frame
			break
		}
	}

	if text != "Hello, world!" {
		t.Errorf("accumulated text = %q, want %q", text, "Hello, world!")
	}
	if final.EvalCount != 12 {
		t.Errorf("EvalCount = %d, want 12", final.EvalCount)
	}
}

func TestStreamDoneAtFinalFrame(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response": "a", "done": false}`)
		fmt.Fprintln(w, `{"response": "b", "done": true}`)
	}), 0)

	stream, err := c.GenerateStream(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}
	defer stream.Close()

	var frame GenerateResponse
	if err := stream.Next(&frame); err != nil {
		t.Fatalf("first frame error: %v", err)
	}
	if stream.done {
		t.Error("stream marked done before the final frame")
	}
	if err := stream.Next(&frame); err != nil {
		t.Fatalf("final frame error: %v", err)
	}
	if !frame.Done {
		t.Fatal("final frame missing done marker")
	}

	// Delivering the done frame consumes the stream: Next reports EOF
	// and Close takes the drain path so the connection can be pooled.
	if !stream.done {
		t.Error("stream not marked done at the final frame")
	}
	if err := stream.Next(&frame); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after final frame = %v, want io.EOF", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestStreamMalformedFrame(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response": "ok", "done": false}`)
		fmt.Fprintln(w, `{{{not json`)
	}), 0)

	stream, err := c.GenerateStream(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}
	defer stream.Close()

	var frame GenerateResponse
	if err := stream.Next(&frame); err != nil {
		t.Fatalf("first frame error: %v", err)
	}

	err = stream.Next(&frame)
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Next() on malformed frame = %v, want protocol error", err)
	}
	if !IsKind(err, KindProtocol) {
		t.Errorf("error kind = %v, want protocol", err)
	}
}

func TestStreamStatusErrorBeforeFrames(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model not found"}`, http.StatusNotFound)
	}), 3)

	_, err := c.GenerateStream(context.Background(), GenerateRequest{Model: "ghost", Prompt: "p"})
	if err == nil {
		t.Fatal("GenerateStream() succeeded, want 404 error")
	}
	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if berr.Kind != KindAPI || berr.StatusCode != http.StatusNotFound {
		t.Errorf("got kind=%q status=%d, want api_error 404", berr.Kind, berr.StatusCode)
	}
}

func TestEmbeddingsSequentialAndOrdered(t *testing.T) {
	var prompts []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		prompts = append(prompts, req.Prompt)
		// Encode the position into the vector so ordering is checkable.
		fmt.Fprintf(w, `{"embedding": [%d.0, 0.5]}`, len(prompts))
	}), 0)

	result, err := c.Embeddings(context.Background(), "nomic-embed-text", []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("Embeddings() error: %v", err)
	}

	if len(result.Embeddings) != 3 {
		t.Fatalf("got %d vectors, want 3", len(result.Embeddings))
	}
	for i, want := range []string{"one", "two", "three"} {
		if prompts[i] != want {
			t.Errorf("prompt[%d] = %q, want %q", i, prompts[i], want)
		}
		if result.Embeddings[i][0] != float64(i+1) {
			t.Errorf("vector %d out of order: %v", i, result.Embeddings[i])
		}
	}
}

func TestEmbeddingsBatchAbortsOnFailure(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			http.Error(w, `{"error": "bad input"}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"embedding": [0.1]}`)
	}), 0)

	_, err := c.Embeddings(context.Background(), "m", []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("Embeddings() succeeded, want failure on second input")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("backend saw %d calls, want batch aborted after 2", got)
	}
}

func TestDeleteSendsBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q, want DELETE", r.Method)
		}
		var req DeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Name != "old-model" {
			t.Errorf("Name = %q, want old-model", req.Name)
		}
	}), 0)

	if err := c.Delete(context.Background(), "old-model"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
}

func TestVersionAndPing(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version": "0.5.4"}`)
	}), 0)

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if v != "0.5.4" {
		t.Errorf("Version() = %q, want 0.5.4", v)
	}
}

func TestBackendErrorIsMatchesKind(t *testing.T) {
	err := &BackendError{Kind: KindTimeout, Message: "slow"}
	if !errors.Is(err, &BackendError{Kind: KindTimeout}) {
		t.Error("errors.Is by kind = false, want true")
	}
	if errors.Is(err, &BackendError{Kind: KindAPI}) {
		t.Error("errors.Is across kinds = true, want false")
	}
}
