package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errBuf bytes.Buffer
	err = run(context.Background(), strings.NewReader(""), &out, &errBuf, args)
	return out.String(), errBuf.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(stdout, "ollama-mcp") {
		t.Errorf("version output %q missing program name", stdout)
	}
}

func TestVersionJSON(t *testing.T) {
	stdout, _, err := runCmd(t, "-o", "json", "version")
	if err != nil {
		t.Fatalf("version -o json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	for _, key := range []string{"version", "go_version", "os", "arch"} {
		if info[key] == "" {
			t.Errorf("JSON output missing %q", key)
		}
	}
}

func TestHelp(t *testing.T) {
	stdout, _, err := runCmd(t, "help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, want := range []string{"serve", "resolve", "version", "-config"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := runCmd(t, "dance")
	if err == nil {
		t.Error("unknown command succeeded, want error")
	}
}

func TestUnknownFlag(t *testing.T) {
	_, _, err := runCmd(t, "--frobnicate")
	if err == nil {
		t.Error("unknown flag succeeded, want error")
	}
}

func TestBadOutputFormat(t *testing.T) {
	_, _, err := runCmd(t, "-o", "xml", "version")
	if err == nil {
		t.Error("bad output format succeeded, want error")
	}
}

func TestResolveWithExplicitHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	stdout, _, err := runCmd(t, "resolve")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(stdout, "http://gpu-box:11434") {
		t.Errorf("resolve output %q missing the configured host", stdout)
	}
	if !strings.Contains(stdout, "env") {
		t.Errorf("resolve output %q missing the source tier", stdout)
	}
}

func TestResolveJSON(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	stdout, _, err := runCmd(t, "-o=json", "resolve")
	if err != nil {
		t.Fatalf("resolve -o json: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if out["base_url"] != "http://gpu-box:11434" {
		t.Errorf("base_url = %q", out["base_url"])
	}
	if out["source"] != "env" {
		t.Errorf("source = %q, want env", out["source"])
	}
}

func TestConfigFlagMissingFile(t *testing.T) {
	_, _, err := runCmd(t, "-config", "/nonexistent/config.yaml", "resolve")
	if err == nil {
		t.Error("missing explicit config succeeded, want error")
	}
}
