package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

func (r *Registry) registerUsageTools() {
	r.Register(&Tool{
		Name:        "get_usage_stats",
		Description: "Report aggregated tool usage for a recent time window: call counts, token totals, cache hits, and errors, overall and per tool.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"hours": map[string]any{
					"type":        "integer",
					"description": "Size of the reporting window in hours (default 24)",
				},
			},
		},
		Handler: r.handleGetUsageStats,
	})
}

func (r *Registry) handleGetUsageStats(ctx context.Context, args map[string]any) (string, error) {
	if r.usage == nil {
		return "", errors.New("usage tracking is not enabled")
	}

	hours := 24
	if h, err := optionalInt(args, "hours"); err != nil {
		return "", err
	} else if h != nil {
		if *h < 1 {
			return "", &ValidationError{Field: "hours", Message: "must be at least 1"}
		}
		hours = *h
	}

	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := r.usage.Summary(ctx, start, end)
	if err != nil {
		return "", err
	}
	byTool, err := r.usage.SummaryByTool(ctx, start, end)
	if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(map[string]any{
		"window_hours": hours,
		"total":        total,
		"by_tool":      byTool,
	}, "", "  ")
	return string(out), err
}
