// Package mcp implements the server side of the Model Context Protocol:
// JSON-RPC 2.0 over newline-delimited stdio. The transport stream
// carries protocol messages only; diagnostics go to the structured
// logger, which must write elsewhere (stderr in practice).
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ToolProvider supplies the tool surface the server exposes. Both
// methods must be safe for concurrent use: tools/call requests are
// dispatched on separate goroutines so a slow generation does not
// block a concurrent list request.
type ToolProvider interface {
	ListTools() []ToolDefinition
	CallTool(ctx context.Context, name string, args json.RawMessage) *ToolCallResult
}

// ServerConfig configures a stdio MCP server.
type ServerConfig struct {
	// Name and Version identify the server in the initialize handshake.
	Name    string
	Version string

	// Provider supplies tool definitions and dispatch.
	Provider ToolProvider

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// Server reads newline-delimited JSON-RPC requests from a reader and
// writes responses to a writer. Responses may arrive out of request
// order when tool calls overlap; clients correlate by ID.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	provider ToolProvider

	writeMu sync.Mutex
	out     io.Writer
}

// NewServer creates an MCP server for the given config.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   cfg,
		logger:   logger,
		provider: cfg.Provider,
	}
}

// Run serves requests from r until EOF or context cancellation. A
// closed input stream is a normal shutdown and returns nil. In-flight
// tool calls are awaited before Run returns.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = w

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20) // 1 MiB for large tool arguments

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			lines <- line
		}
		scanErr <- scanner.Err()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("read request stream: %w", err)
				}
				s.logger.Info("input stream closed, shutting down")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			s.handleLine(ctx, line, &wg)
		}
	}
}

// handleLine parses and dispatches a single request line. Tool calls
// run on their own goroutine; everything else is answered inline.
func (s *Server) handleLine(ctx context.Context, line []byte, wg *sync.WaitGroup) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("discarding malformed request line", "error", err)
		s.write(NewErrorResponse(nil, CodeParseError, "parse error"))
		return
	}

	s.logger.Debug("request received", "method", req.Method)

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				s.write(NewErrorResponse(req.ID, CodeInvalidParams, "invalid initialize params"))
				return
			}
		}
		s.logger.Info("client initialized",
			"client", params.ClientInfo.Name,
			"client_version", params.ClientInfo.Version,
			"protocol_version", params.ProtocolVersion)
		s.write(NewResponse(req.ID, s.initializeResult()))

	case "notifications/initialized":
		// Acknowledgement notification, nothing to send back.

	case "ping":
		s.write(NewResponse(req.ID, struct{}{}))

	case "tools/list":
		s.write(NewResponse(req.ID, &ToolsListResult{Tools: s.provider.ListTools()}))

	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.write(NewErrorResponse(req.ID, CodeInvalidParams, "invalid tools/call params"))
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.write(NewResponse(req.ID, s.callTool(ctx, params)))
		}()

	default:
		if req.IsNotification() {
			s.logger.Debug("ignoring unknown notification", "method", req.Method)
			return
		}
		s.write(NewErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method)))
	}
}

func (s *Server) initializeResult() *InitializeResult {
	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: Implementation{
			Name:    s.config.Name,
			Version: s.config.Version,
		},
	}
}

// callTool dispatches to the provider and converts panics into in-band
// tool errors so one bad handler cannot take down the transport.
func (s *Server) callTool(ctx context.Context, params ToolCallParams) (result *ToolCallResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool handler panicked", "tool", params.Name, "panic", r)
			result = ErrorResult(fmt.Sprintf("internal error in tool %s", params.Name))
		}
	}()
	return s.provider.CallTool(ctx, params.Name, params.Arguments)
}

// write marshals a response and writes it as a single line. The mutex
// keeps concurrent tool-call responses from interleaving bytes.
func (s *Server) write(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response failed", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.out.Write(append(data, '\n')); err != nil {
		if !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Error("write response failed", "error", err)
		}
	}
}
