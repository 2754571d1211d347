package ollama

// Message is a chat message. Role is one of "system", "user", "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are generation parameters forwarded to Ollama. Pointer fields
// distinguish "unset" from zero values so only caller-supplied options
// reach the wire.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Empty reports whether no option is set.
func (o *Options) Empty() bool {
	if o == nil {
		return true
	}
	return o.Temperature == nil && o.TopP == nil && o.TopK == nil &&
		o.Seed == nil && o.NumPredict == nil && len(o.Stop) == 0
}

// GenerateRequest is the request body for /api/generate.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *Options `json:"options,omitempty"`
}

// GenerateResponse is a /api/generate response or stream frame.
type GenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`

	Context []int `json:"context,omitempty"`

	// Usage stats, present when done=true.
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

func (r *GenerateResponse) finalFrame() bool { return r.Done }

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// ChatResponse is a /api/chat response or stream frame.
type ChatResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`

	// Usage stats, present when done=true.
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

func (r *ChatResponse) finalFrame() bool { return r.Done }

// ModelInfo describes an installed model, as returned by /api/tags.
type ModelInfo struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// ListResponse is the /api/tags response.
type ListResponse struct {
	Models []ModelInfo `json:"models"`
}

// ProcessModel describes a loaded model, as returned by /api/ps.
type ProcessModel struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
	ExpiresAt string `json:"expires_at"`
	SizeVRAM  int64  `json:"size_vram,omitempty"`
}

// ProcessListResponse is the /api/ps response.
type ProcessListResponse struct {
	Models []ProcessModel `json:"models"`
}

// embeddingsRequest is the request body for /api/embeddings. Ollama's
// embeddings endpoint takes a single prompt; batches are issued as
// sequential requests.
type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingsResponse tolerates both the singular and plural response
// shapes Ollama has used across versions.
type embeddingsResponse struct {
	Model      string      `json:"model,omitempty"`
	Embedding  []float64   `json:"embedding,omitempty"`
	Embeddings [][]float64 `json:"embeddings,omitempty"`
}

// vectors normalizes the response to a slice of embedding vectors.
func (r *embeddingsResponse) vectors() [][]float64 {
	if r.Embeddings != nil {
		return r.Embeddings
	}
	if r.Embedding != nil {
		return [][]float64{r.Embedding}
	}
	return nil
}

// EmbeddingsResult is the normalized output of an embeddings call:
// exactly one vector per input prompt, in input order.
type EmbeddingsResult struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// PullRequest is the request body for /api/pull.
type PullRequest struct {
	Name     string `json:"name"`
	Insecure bool   `json:"insecure,omitempty"`
	Stream   bool   `json:"stream"`
}

// PullProgress is a /api/pull stream frame.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// CopyRequest is the request body for /api/copy.
type CopyRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// DeleteRequest is the request body for /api/delete.
type DeleteRequest struct {
	Name string `json:"name"`
}

// VersionResponse is the /api/version response.
type VersionResponse struct {
	Version string `json:"version"`
}

// apiError is the error body Ollama returns with non-2xx statuses.
type apiError struct {
	Error string `json:"error"`
}
