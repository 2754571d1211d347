// Package tools defines the tools the bridge exposes over MCP and
// dispatches calls to the Ollama backend.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuba6112/ollama-mcp/internal/cache"
	"github.com/cuba6112/ollama-mcp/internal/mcp"
	"github.com/cuba6112/ollama-mcp/internal/metrics"
	"github.com/cuba6112/ollama-mcp/internal/ollama"
	"github.com/cuba6112/ollama-mcp/internal/usage"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// RegistryConfig wires the registry's collaborators. Backend is
// required; everything else degrades gracefully when nil.
type RegistryConfig struct {
	Backend *ollama.Client
	Cache   *cache.Cache
	Metrics *metrics.Collector
	Usage   *usage.Store
	Logger  *slog.Logger

	// CacheTTL applies to model listings and metadata. RunningTTL
	// applies to the loaded-model listing, which goes stale faster.
	CacheTTL   time.Duration
	RunningTTL time.Duration
}

// Registry holds the available tools and routes calls through
// validation, caching, and the backend client.
type Registry struct {
	tools   map[string]*Tool
	backend *ollama.Client
	cache   *cache.Cache
	metrics *metrics.Collector
	usage   *usage.Store
	logger  *slog.Logger

	cacheTTL   time.Duration
	runningTTL time.Duration
}

// NewRegistry creates a tool registry with all built-in tools
// registered.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:      make(map[string]*Tool),
		backend:    cfg.Backend,
		cache:      cfg.Cache,
		metrics:    cfg.Metrics,
		usage:      cfg.Usage,
		logger:     logger,
		cacheTTL:   cfg.CacheTTL,
		runningTTL: cfg.RunningTTL,
	}
	r.registerModelTools()
	r.registerGenerateTools()
	r.registerManageTools()
	r.registerUsageTools()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns the named tool, or an ErrToolUnavailable error.
func (r *Registry) Get(name string) (*Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return t, nil
}

// ListTools implements mcp.ToolProvider. Tools are returned in name
// order so the listing is stable across calls.
func (r *Registry) ListTools() []mcp.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]mcp.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			r.logger.Error("marshal tool schema failed", "tool", name, "error", err)
			continue
		}
		defs = append(defs, mcp.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return defs
}

// CallTool implements mcp.ToolProvider. Handler failures are converted
// to in-band tool errors; the JSON-RPC layer never sees them.
func (r *Registry) CallTool(ctx context.Context, name string, rawArgs json.RawMessage) *mcp.ToolCallResult {
	tool, err := r.Get(name)
	if err != nil {
		return mcp.ErrorResult(err.Error())
	}

	args := make(map[string]any)
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
	}

	meta := &callMeta{}
	ctx = withMeta(ctx, meta)

	start := time.Now()
	out, err := tool.Handler(ctx, args)
	elapsed := time.Since(start)

	status := "ok"
	var text string
	if err != nil {
		var kind string
		text, kind = failureText(err)
		status = kind
		r.metrics.RecordToolError(name, kind)
		r.logger.Warn("tool call failed",
			"tool", name,
			"kind", kind,
			"duration", elapsed,
			"error", err,
		)
	} else {
		text = out
		r.logger.Debug("tool call completed",
			"tool", name,
			"duration", elapsed,
			"cache_hit", meta.cacheHit,
		)
	}
	r.metrics.RecordToolCall(name, status, elapsed)
	r.recordUsage(name, meta, elapsed, status)

	if err != nil {
		return mcp.ErrorResult(text)
	}
	return mcp.TextResult(text)
}

// recordUsage persists an invocation record. Failures are logged, never
// surfaced: bookkeeping must not break tool calls.
func (r *Registry) recordUsage(name string, meta *callMeta, elapsed time.Duration, status string) {
	if r.usage == nil {
		return
	}
	rec := usage.Record{
		Tool:         name,
		Model:        meta.model,
		InputTokens:  meta.inputTokens,
		OutputTokens: meta.outputTokens,
		DurationMS:   elapsed.Milliseconds(),
		CacheHit:     meta.cacheHit,
		Status:       status,
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.usage.Record(writeCtx, rec); err != nil {
		r.logger.Warn("usage record failed", "tool", name, "error", err)
	}
}

// failureText maps a handler error to the text surfaced to the model
// and the status label used for metrics and usage records.
func failureText(err error) (text, kind string) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error(), "validation"
	}

	var berr *ollama.BackendError
	if errors.As(err, &berr) {
		text = berr.Error()
		if berr.Suggestion != "" {
			text = fmt.Sprintf("%s. Suggestion: %s", text, berr.Suggestion)
		}
		return text, string(berr.Kind)
	}

	return err.Error(), "internal"
}

// cached routes a read through the response cache when caching is
// enabled, collapsing concurrent identical requests into one backend
// call. Cache failures fall back to a direct fetch.
func (r *Registry) cached(ctx context.Context, tool, key string, ttl time.Duration, fn func() ([]byte, error)) (string, error) {
	if r.cache == nil {
		out, err := fn()
		return string(out), err
	}

	value, hit, err := r.cache.GetOrCompute(key, ttl, fn)
	if err != nil {
		return "", err
	}
	if hit {
		r.metrics.RecordCacheHit(tool)
		if meta := metaFrom(ctx); meta != nil {
			meta.cacheHit = true
		}
	} else {
		r.metrics.RecordCacheMiss(tool)
	}
	return string(value), nil
}
