// Package config handles ollama-mcp configuration loading.
//
// Settings come from an optional YAML file (discovered via
// [DefaultSearchPaths]) with every value overridable through environment
// variables. The result is an immutable [Settings] value produced once at
// startup; nothing re-reads the environment after that.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./ollama-mcp.yaml, ~/.config/ollama-mcp/config.yaml,
// /etc/ollama-mcp/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"ollama-mcp.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ollama-mcp", "config.yaml"))
	}

	paths = append(paths, "/etc/ollama-mcp/config.yaml")
	return paths
}

// Settings holds all ollama-mcp configuration. Durations are expressed in
// seconds in YAML and the environment; use the accessor methods to obtain
// time.Duration values.
type Settings struct {
	// Host is an explicit Ollama base URL (e.g. "http://localhost:11434").
	// When empty the endpoint is auto-detected at startup.
	Host string `yaml:"host"`

	// APIPort is the Ollama API port used when probing for a reachable
	// host. Ignored when Host is set.
	APIPort int `yaml:"api_port"`

	RequestTimeoutSec float64 `yaml:"request_timeout_sec"`
	ConnectTimeoutSec float64 `yaml:"connect_timeout_sec"`

	// MaxRetries is the number of retry attempts after the initial try.
	MaxRetries       int     `yaml:"max_retries"`
	RetryDelaySec    float64 `yaml:"retry_delay_sec"`
	MaxRetryDelaySec float64 `yaml:"max_retry_delay_sec"`

	// RetryJitter is the fraction [0, 1] of the backoff delay added as
	// uniform random jitter.
	RetryJitter float64 `yaml:"retry_jitter"`

	EnableCache bool `yaml:"enable_cache"`
	CacheTTLSec int  `yaml:"cache_ttl_sec"`

	// RunningCacheTTLSec is the TTL for the running-models listing, which
	// changes far more often than the installed-model list.
	RunningCacheTTLSec int `yaml:"running_cache_ttl_sec"`

	LogLevel    string `yaml:"log_level"`
	LogRequests bool   `yaml:"log_requests"`

	// MetricsAddr, when non-empty, enables a Prometheus /metrics listener
	// on the given address (e.g. "127.0.0.1:9464").
	MetricsAddr string `yaml:"metrics_addr"`

	// UsageDB is the SQLite path for per-invocation usage records.
	// Empty disables usage tracking.
	UsageDB string `yaml:"usage_db"`
}

// Default returns the default configuration, matching stock Ollama
// installs: localhost auto-detection on port 11434, 30s requests, 5s
// connects, 3 retries from a 1s base delay, caching enabled.
func Default() *Settings {
	return &Settings{
		APIPort:            11434,
		RequestTimeoutSec:  30,
		ConnectTimeoutSec:  5,
		MaxRetries:         3,
		RetryDelaySec:      1,
		MaxRetryDelaySec:   30,
		RetryJitter:        0.1,
		EnableCache:        true,
		CacheTTLSec:        300,
		RunningCacheTTLSec: 30,
		LogLevel:           "info",
	}
}

// Load produces the startup Settings. If explicit is non-empty the file
// must exist; otherwise the search paths are tried and a missing config
// file is not an error (environment and defaults apply). Environment
// variables override file values. The returned Settings are validated.
func Load(explicit string) (*Settings, error) {
	s := Default()

	path, err := findConfig(explicit)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// Expand ${VAR} references so secrets can live in the environment.
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), s); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// findConfig locates a config file. Returns "" when nothing was found and
// no explicit path was given.
func findConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// applyEnv overlays environment variables onto s. The variable names
// mirror the upstream Ollama conventions (OLLAMA_HOST et al) with
// OLLAMA_MCP_* for settings specific to this server.
func applyEnv(s *Settings) error {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		s.Host = v
	}
	var err error
	if err = envInt("OLLAMA_API_PORT", &s.APIPort); err != nil {
		return err
	}
	if err = envFloat("OLLAMA_REQUEST_TIMEOUT", &s.RequestTimeoutSec); err != nil {
		return err
	}
	if err = envFloat("OLLAMA_CONNECTION_TIMEOUT", &s.ConnectTimeoutSec); err != nil {
		return err
	}
	if err = envInt("OLLAMA_MAX_RETRIES", &s.MaxRetries); err != nil {
		return err
	}
	if err = envFloat("OLLAMA_RETRY_DELAY", &s.RetryDelaySec); err != nil {
		return err
	}
	if err = envFloat("OLLAMA_MAX_RETRY_DELAY", &s.MaxRetryDelaySec); err != nil {
		return err
	}
	if err = envFloat("OLLAMA_RETRY_JITTER", &s.RetryJitter); err != nil {
		return err
	}
	if err = envBool("OLLAMA_ENABLE_CACHE", &s.EnableCache); err != nil {
		return err
	}
	if err = envInt("OLLAMA_CACHE_TTL", &s.CacheTTLSec); err != nil {
		return err
	}
	if err = envInt("OLLAMA_PS_CACHE_TTL", &s.RunningCacheTTLSec); err != nil {
		return err
	}
	if v := os.Getenv("OLLAMA_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if err = envBool("OLLAMA_LOG_REQUESTS", &s.LogRequests); err != nil {
		return err
	}
	if v := os.Getenv("OLLAMA_MCP_METRICS_ADDR"); v != "" {
		s.MetricsAddr = v
	}
	if v := os.Getenv("OLLAMA_MCP_USAGE_DB"); v != "" {
		s.UsageDB = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*dst = n
	return nil
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", name, v)
	}
	*dst = f
	return nil
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", name, v)
	}
	*dst = b
	return nil
}

// Validate checks value ranges and normalizes the host URL.
func (s *Settings) Validate() error {
	if s.Host != "" {
		if !strings.HasPrefix(s.Host, "http://") && !strings.HasPrefix(s.Host, "https://") {
			return fmt.Errorf("host must start with http:// or https://, got %q", s.Host)
		}
		s.Host = strings.TrimRight(s.Host, "/")
	}
	if s.APIPort <= 0 || s.APIPort > 65535 {
		return fmt.Errorf("api_port out of range: %d", s.APIPort)
	}
	if s.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request_timeout_sec must be positive, got %v", s.RequestTimeoutSec)
	}
	if s.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("connect_timeout_sec must be positive, got %v", s.ConnectTimeoutSec)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", s.MaxRetries)
	}
	if s.RetryDelaySec <= 0 {
		return fmt.Errorf("retry_delay_sec must be positive, got %v", s.RetryDelaySec)
	}
	if s.RetryJitter < 0 || s.RetryJitter > 1 {
		return fmt.Errorf("retry_jitter must be in [0, 1], got %v", s.RetryJitter)
	}
	if s.CacheTTLSec < 0 || s.RunningCacheTTLSec < 0 {
		return fmt.Errorf("cache TTLs must be non-negative")
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

// RequestTimeout returns the full-request timeout.
func (s *Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSec * float64(time.Second))
}

// ConnectTimeout returns the connection-establishment timeout.
func (s *Settings) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSec * float64(time.Second))
}

// RetryDelay returns the base backoff delay for the first retry.
func (s *Settings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySec * float64(time.Second))
}

// MaxRetryDelay returns the backoff cap.
func (s *Settings) MaxRetryDelay() time.Duration {
	return time.Duration(s.MaxRetryDelaySec * float64(time.Second))
}

// CacheTTL returns the default TTL for cacheable read operations.
func (s *Settings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSec) * time.Second
}

// RunningCacheTTL returns the TTL for the running-models listing.
func (s *Settings) RunningCacheTTL() time.Duration {
	return time.Duration(s.RunningCacheTTLSec) * time.Second
}
