package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/cuba6112/ollama-mcp/internal/cache"
	"github.com/cuba6112/ollama-mcp/internal/ollama"
)

func (r *Registry) registerManageTools() {
	r.Register(&Tool{
		Name:        "pull_model",
		Description: "Download a model from the Ollama registry. Blocks until the pull completes and reports a progress summary.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model": map[string]any{
					"type":        "string",
					"description": "The model to pull (e.g., llama3.2, qwen2.5:7b)",
				},
				"insecure": map[string]any{
					"type":        "boolean",
					"description": "Allow pulling from an insecure registry",
				},
			},
			"required": []string{"model"},
		},
		Handler: r.handlePullModel,
	})

	r.Register(&Tool{
		Name:        "copy_model",
		Description: "Copy an installed model to a new name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "The existing model name",
				},
				"destination": map[string]any{
					"type":        "string",
					"description": "The new model name",
				},
			},
			"required": []string{"source", "destination"},
		},
		Handler: r.handleCopyModel,
	})

	r.Register(&Tool{
		Name:        "delete_model",
		Description: "Delete an installed model and its data.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model": map[string]any{
					"type":        "string",
					"description": "The model to delete",
				},
			},
			"required": []string{"model"},
		},
		Handler: r.handleDeleteModel,
	})
}

// invalidateModelListings drops cached reads that a catalog mutation
// just made stale.
func (r *Registry) invalidateModelListings(models ...string) {
	if r.cache == nil {
		return
	}
	r.cache.Invalidate(listModelsKey)
	for _, model := range models {
		r.cache.Invalidate(cache.Key("POST", "/api/show", map[string]string{"name": model}))
	}
}

func (r *Registry) handlePullModel(ctx context.Context, args map[string]any) (string, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return "", err
	}
	insecure, err := optionalBool(args, "insecure")
	if err != nil {
		return "", err
	}
	setModel(ctx, model)

	stream, err := r.backend.Pull(ctx, model, insecure)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var (
		lastStatus string
		layers     int
		totalBytes int64
		seen       = make(map[string]bool)
	)
	for {
		var frame ollama.PullProgress
		if err := stream.Next(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		lastStatus = frame.Status
		if frame.Digest != "" && !seen[frame.Digest] {
			seen[frame.Digest] = true
			layers++
			totalBytes += frame.Total
		}
	}

	r.invalidateModelListings(model)
	r.logger.Info("model pulled", "model", model, "layers", layers, "bytes", totalBytes)

	out, err := json.MarshalIndent(map[string]any{
		"model":       model,
		"status":      lastStatus,
		"layers":      layers,
		"total_bytes": totalBytes,
	}, "", "  ")
	return string(out), err
}

func (r *Registry) handleCopyModel(ctx context.Context, args map[string]any) (string, error) {
	source, err := stringArg(args, "source")
	if err != nil {
		return "", err
	}
	destination, err := stringArg(args, "destination")
	if err != nil {
		return "", err
	}
	setModel(ctx, source)

	if err := r.backend.Copy(ctx, source, destination); err != nil {
		return "", err
	}

	r.invalidateModelListings(destination)
	r.logger.Info("model copied", "source", source, "destination", destination)

	out, err := json.MarshalIndent(map[string]any{
		"source":      source,
		"destination": destination,
		"copied":      true,
	}, "", "  ")
	return string(out), err
}

func (r *Registry) handleDeleteModel(ctx context.Context, args map[string]any) (string, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return "", err
	}
	setModel(ctx, model)

	if err := r.backend.Delete(ctx, model); err != nil {
		return "", err
	}

	r.invalidateModelListings(model)
	r.logger.Info("model deleted", "model", model)

	out, err := json.MarshalIndent(map[string]any{
		"model":   model,
		"deleted": true,
	}, "", "  ")
	return string(out), err
}
