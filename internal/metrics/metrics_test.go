package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var m *Collector

	// Instrumentation must be optional: nil receivers are no-ops.
	m.RecordToolCall("list_models", "ok", time.Millisecond)
	m.RecordToolError("list_models", "timeout")
	m.RecordCacheHit("list_models")
	m.RecordCacheMiss("list_models")
	m.RegisterCacheSize(func() int { return 0 })
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RecordToolCall("list_models", "ok", 5*time.Millisecond)
	m.RecordToolError("pull_model", "unavailable")
	m.RecordCacheHit("list_models")
	m.RegisterCacheSize(func() int { return 3 })

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`ollama_mcp_tool_calls_total{status="ok",tool="list_models"} 1`,
		`ollama_mcp_tool_errors_total{kind="unavailable",tool="pull_model"} 1`,
		`ollama_mcp_cache_hits_total{tool="list_models"} 1`,
		`ollama_mcp_cache_entries 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
