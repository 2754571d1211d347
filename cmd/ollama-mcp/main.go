// ollama-mcp bridges MCP tool calls to a local Ollama runtime.
//
// It speaks JSON-RPC 2.0 over stdio (newline-delimited) toward the MCP
// client and plain HTTP toward Ollama. Stdout carries protocol messages
// only; all logging goes to stderr. Configuration is loaded from a YAML
// file discovered automatically (see [config.DefaultSearchPaths]) and
// overridden by OLLAMA_* environment variables.
//
// Usage:
//
//	ollama-mcp serve         Start the MCP server on stdio (default)
//	ollama-mcp resolve       Print the resolved Ollama endpoint
//	ollama-mcp version       Print version and build information
//	ollama-mcp -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuba6112/ollama-mcp/internal/buildinfo"
	"github.com/cuba6112/ollama-mcp/internal/cache"
	"github.com/cuba6112/ollama-mcp/internal/config"
	"github.com/cuba6112/ollama-mcp/internal/httpkit"
	"github.com/cuba6112/ollama-mcp/internal/mcp"
	"github.com/cuba6112/ollama-mcp/internal/metrics"
	"github.com/cuba6112/ollama-mcp/internal/ollama"
	"github.com/cuba6112/ollama-mcp/internal/resolve"
	"github.com/cuba6112/ollama-mcp/internal/tools"
	"github.com/cuba6112/ollama-mcp/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the ollama-mcp command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdin and stdout are the MCP transport. Nothing but protocol
//     messages may be written to stdout.
//   - stderr receives structured logs and fatal error messages.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "", "serve":
		return runServe(ctx, stdin, stdout, stderr, configPath)
	case "resolve":
		return runResolve(ctx, stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %q (try: ollama-mcp help)", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `ollama-mcp - MCP server for a local Ollama runtime

Usage:
  ollama-mcp [flags] [command]

Commands:
  serve      Start the MCP server on stdio (default)
  resolve    Print the resolved Ollama endpoint and exit
  version    Print version and build information
  help       Show this help

Flags:
  -config PATH     Explicit config file path
  -o text|json     Output format for resolve and version (default text)

Configuration is read from the first of ollama-mcp.yaml,
~/.config/ollama-mcp/config.yaml, or /etc/ollama-mcp/config.yaml,
then overridden by OLLAMA_* environment variables.
`)
	return nil
}

// setupLogger builds the stderr logger from settings. Stdout is the MCP
// transport, so logs must never go there.
func setupLogger(stderr io.Writer, settings *config.Settings) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(settings.LogLevel)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(stderr, level), nil
}

// resolveEndpoint runs host resolution with settings applied.
func resolveEndpoint(ctx context.Context, settings *config.Settings, logger *slog.Logger) resolve.Endpoint {
	r := &resolve.Resolver{
		Override: settings.Host,
		Port:     settings.APIPort,
		Logger:   logger,
	}
	return r.Resolve(ctx)
}

func runResolve(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := setupLogger(stderr, settings)
	if err != nil {
		return err
	}

	ep := resolveEndpoint(ctx, settings, logger)
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"base_url": ep.BaseURL,
			"source":   string(ep.Source),
		})
	}
	fmt.Fprintf(stdout, "%s (source: %s)\n", ep.BaseURL, ep.Source)
	return nil
}

func runServe(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := setupLogger(stderr, settings)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting ollama-mcp",
		"version", buildinfo.Version,
		"log_level", settings.LogLevel,
	)

	ep := resolveEndpoint(ctx, settings, logger)
	logger.Info("ollama endpoint resolved",
		"base_url", ep.BaseURL,
		"source", ep.Source,
	)

	backend := ollama.New(ollama.Config{
		BaseURL:        ep.BaseURL,
		RequestTimeout: settings.RequestTimeout(),
		ConnectTimeout: settings.ConnectTimeout(),
		MaxRetries:     settings.MaxRetries,
		Backoff: httpkit.Backoff{
			Base:   settings.RetryDelay(),
			Max:    settings.MaxRetryDelay(),
			Jitter: settings.RetryJitter,
		},
		LogRequests: settings.LogRequests,
		Logger:      logger,
	})

	// A dead backend is not fatal at startup: the resolver always
	// yields an endpoint and tools report reachability per call.
	pingCtx, pingCancel := context.WithTimeout(ctx, settings.ConnectTimeout())
	if err := backend.Ping(pingCtx); err != nil {
		logger.Warn("ollama not reachable at startup",
			"base_url", ep.BaseURL,
			"error", err,
		)
	}
	pingCancel()

	collector := metrics.New()

	var respCache *cache.Cache
	if settings.EnableCache {
		respCache = cache.New()
		respCache.StartSweep(time.Minute)
		defer respCache.Stop()
		collector.RegisterCacheSize(respCache.Len)
	}

	var usageStore *usage.Store
	if settings.UsageDB != "" {
		usageStore, err = usage.NewStore(settings.UsageDB)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer usageStore.Close()
		logger.Info("usage tracking enabled", "path", settings.UsageDB)
	}

	if settings.MetricsAddr != "" {
		startMetricsServer(ctx, settings.MetricsAddr, collector, logger)
	}

	registry := tools.NewRegistry(tools.RegistryConfig{
		Backend:    backend,
		Cache:      respCache,
		Metrics:    collector,
		Usage:      usageStore,
		Logger:     logger,
		CacheTTL:   settings.CacheTTL(),
		RunningTTL: settings.RunningCacheTTL(),
	})

	server := mcp.NewServer(mcp.ServerConfig{
		Name:     "ollama-mcp",
		Version:  buildinfo.Version,
		Provider: registry,
		Logger:   logger,
	})

	err = server.Run(ctx, stdin, stdout)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown signal received")
		return nil
	}
	return err
}

// startMetricsServer exposes Prometheus metrics on its own listener.
// Failures are logged, not fatal: metrics are a diagnostic surface, not
// part of the bridge's contract.
func startMetricsServer(ctx context.Context, addr string, collector *metrics.Collector, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", "addr", addr, "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
