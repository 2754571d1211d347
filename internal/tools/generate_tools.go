package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cuba6112/ollama-mcp/internal/ollama"
)

// optionProperties is the JSON-schema fragment for the generation
// parameters shared by the completion and chat tools.
func optionProperties() map[string]any {
	return map[string]any{
		"temperature": map[string]any{
			"type":        "number",
			"description": "Sampling temperature between 0.0 and 2.0. Higher is more random.",
		},
		"top_p": map[string]any{
			"type":        "number",
			"description": "Nucleus sampling threshold between 0.0 and 1.0.",
		},
		"top_k": map[string]any{
			"type":        "integer",
			"description": "Sample from the top K tokens. Must be at least 1.",
		},
		"seed": map[string]any{
			"type":        "integer",
			"description": "Random seed for reproducible output.",
		},
		"max_tokens": map[string]any{
			"type":        "integer",
			"description": "Maximum number of tokens to generate.",
		},
		"stop": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Stop sequences that end generation.",
		},
	}
}

func (r *Registry) registerGenerateTools() {
	completionProps := map[string]any{
		"model": map[string]any{
			"type":        "string",
			"description": "The model to generate with (e.g., llama3.2)",
		},
		"prompt": map[string]any{
			"type":        "string",
			"description": "The prompt text",
		},
	}
	for k, v := range optionProperties() {
		completionProps[k] = v
	}
	r.Register(&Tool{
		Name:        "generate_completion",
		Description: "Generate a text completion for a prompt. Returns the full response once generation finishes.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": completionProps,
			"required":   []string{"model", "prompt"},
		},
		Handler: r.handleGenerateCompletion,
	})

	chatProps := map[string]any{
		"model": map[string]any{
			"type":        "string",
			"description": "The model to chat with (e.g., llama3.2)",
		},
		"messages": map[string]any{
			"type":        "array",
			"description": "Conversation history. Each message has a role (system, user, assistant) and content.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role":    map[string]any{"type": "string", "enum": []string{"system", "user", "assistant"}},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"role", "content"},
			},
		},
	}
	for k, v := range optionProperties() {
		chatProps[k] = v
	}
	r.Register(&Tool{
		Name:        "generate_chat_completion",
		Description: "Generate the next assistant message for a chat conversation. Returns the full reply once generation finishes.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": chatProps,
			"required":   []string{"model", "messages"},
		},
		Handler: r.handleGenerateChat,
	})

	r.Register(&Tool{
		Name:        "generate_embeddings",
		Description: "Generate embedding vectors for one or more input texts using an embedding model.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model": map[string]any{
					"type":        "string",
					"description": "The embedding model (e.g., nomic-embed-text)",
				},
				"input": map[string]any{
					"description": "A text, or an array of texts, to embed",
				},
			},
			"required": []string{"model", "input"},
		},
		Handler: r.handleGenerateEmbeddings,
	})
}

// handleGenerateCompletion streams the generation internally and
// returns the accumulated text. Streaming keeps memory bounded and
// surfaces backend failures before minutes of generation are lost.
func (r *Registry) handleGenerateCompletion(ctx context.Context, args map[string]any) (string, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return "", err
	}
	prompt, err := stringArg(args, "prompt")
	if err != nil {
		return "", err
	}
	opts, err := parseOptions(args)
	if err != nil {
		return "", err
	}
	setModel(ctx, model)

	stream, err := r.backend.GenerateStream(ctx, ollama.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  true,
		Options: opts,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	var final ollama.GenerateResponse
	for {
		var frame ollama.GenerateResponse
		if err := stream.Next(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		sb.WriteString(frame.Response)
		if frame.Done {
			final = frame
			break
		}
	}

	setTokens(ctx, final.PromptEvalCount, final.EvalCount)

	out, err := json.MarshalIndent(map[string]any{
		"model":             model,
		"response":          sb.String(),
		"done":              true,
		"prompt_eval_count": final.PromptEvalCount,
		"eval_count":        final.EvalCount,
		"total_duration_ms": time.Duration(final.TotalDuration).Milliseconds(),
	}, "", "  ")
	return string(out), err
}

func (r *Registry) handleGenerateChat(ctx context.Context, args map[string]any) (string, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return "", err
	}
	messages, err := parseMessages(args)
	if err != nil {
		return "", err
	}
	opts, err := parseOptions(args)
	if err != nil {
		return "", err
	}
	setModel(ctx, model)

	stream, err := r.backend.ChatStream(ctx, ollama.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  opts,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	var final ollama.ChatResponse
	for {
		var frame ollama.ChatResponse
		if err := stream.Next(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		sb.WriteString(frame.Message.Content)
		if frame.Done {
			final = frame
			break
		}
	}

	setTokens(ctx, final.PromptEvalCount, final.EvalCount)

	out, err := json.MarshalIndent(map[string]any{
		"model": model,
		"message": map[string]any{
			"role":    "assistant",
			"content": sb.String(),
		},
		"done":              true,
		"prompt_eval_count": final.PromptEvalCount,
		"eval_count":        final.EvalCount,
		"total_duration_ms": time.Duration(final.TotalDuration).Milliseconds(),
	}, "", "  ")
	return string(out), err
}

func (r *Registry) handleGenerateEmbeddings(ctx context.Context, args map[string]any) (string, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return "", err
	}
	inputs, err := parseInputs(args)
	if err != nil {
		return "", err
	}
	setModel(ctx, model)

	result, err := r.backend.Embeddings(ctx, model, inputs)
	if err != nil {
		return "", err
	}

	dimensions := 0
	if len(result.Embeddings) > 0 {
		dimensions = len(result.Embeddings[0])
	}

	out, err := json.MarshalIndent(map[string]any{
		"model":      model,
		"count":      len(result.Embeddings),
		"dimensions": dimensions,
		"embeddings": result.Embeddings,
	}, "", "  ")
	return string(out), err
}
