package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuba6112/ollama-mcp/internal/cache"
)

// listModelsKey is the cache key shared by every read of the installed
// model listing. Mutating tools invalidate it.
var listModelsKey = cache.Key("GET", "/api/tags", nil)

func (r *Registry) registerModelTools() {
	r.Register(&Tool{
		Name:        "list_models",
		Description: "List all models installed in the local Ollama instance, with size and modification time.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListModels,
	})

	r.Register(&Tool{
		Name:        "show_model",
		Description: "Show detailed information about an installed model: modelfile, parameters, template, and family details.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model": map[string]any{
					"type":        "string",
					"description": "The model name (e.g., llama3.2, qwen2.5:7b)",
				},
			},
			"required": []string{"model"},
		},
		Handler: r.handleShowModel,
	})

	r.Register(&Tool{
		Name:        "check_model_exists",
		Description: "Check whether a model is installed locally. Matches names with or without an explicit tag.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model": map[string]any{
					"type":        "string",
					"description": "The model name to check",
				},
			},
			"required": []string{"model"},
		},
		Handler: r.handleCheckModelExists,
	})

	r.Register(&Tool{
		Name:        "list_running_models",
		Description: "List models currently loaded into memory, with VRAM usage and expiration time.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListRunningModels,
	})
}

// fetchModelList returns the rendered installed-model listing, cached
// under the shared key so list_models and check_model_exists reuse one
// backend call.
func (r *Registry) fetchModelList(ctx context.Context, tool string) (string, error) {
	return r.cached(ctx, tool, listModelsKey, r.cacheTTL, func() ([]byte, error) {
		list, err := r.backend.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(map[string]any{
			"models": list.Models,
			"count":  len(list.Models),
		}, "", "  ")
	})
}

func (r *Registry) handleListModels(ctx context.Context, _ map[string]any) (string, error) {
	return r.fetchModelList(ctx, "list_models")
}

func (r *Registry) handleShowModel(ctx context.Context, args map[string]any) (string, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return "", err
	}
	setModel(ctx, model)

	key := cache.Key("POST", "/api/show", map[string]string{"name": model})
	return r.cached(ctx, "show_model", key, r.cacheTTL, func() ([]byte, error) {
		info, err := r.backend.ShowModel(ctx, model)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(json.RawMessage(info), "", "  ")
	})
}

func (r *Registry) handleCheckModelExists(ctx context.Context, args map[string]any) (string, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return "", err
	}
	setModel(ctx, model)

	listing, err := r.fetchModelList(ctx, "check_model_exists")
	if err != nil {
		return "", err
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal([]byte(listing), &parsed); err != nil {
		return "", fmt.Errorf("decode cached model listing: %w", err)
	}

	exists := false
	for _, m := range parsed.Models {
		if modelNameMatches(model, m.Name) {
			exists = true
			break
		}
	}

	out, err := json.MarshalIndent(map[string]any{
		"model":  model,
		"exists": exists,
	}, "", "  ")
	return string(out), err
}

// modelNameMatches compares model names, treating a missing tag as
// ":latest" on either side.
func modelNameMatches(requested, installed string) bool {
	if requested == installed {
		return true
	}
	norm := func(name string) string {
		if strings.Contains(name, ":") {
			return name
		}
		return name + ":latest"
	}
	return norm(requested) == norm(installed)
}

func (r *Registry) handleListRunningModels(ctx context.Context, _ map[string]any) (string, error) {
	key := cache.Key("GET", "/api/ps", nil)
	return r.cached(ctx, "list_running_models", key, r.runningTTL, func() ([]byte, error) {
		list, err := r.backend.ListRunning(ctx)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(map[string]any{
			"models": list.Models,
			"count":  len(list.Models),
		}, "", "  ")
	})
}
