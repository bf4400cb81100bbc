// Package ipc implements the local HTTP server synthesized sandbox code
// calls back into to invoke host tools. It is the cross-process transport
// between untrusted generated code and trusted tool implementations.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basinlabs/codeagent/runtime/agent"
	"github.com/basinlabs/codeagent/runtime/agent/telemetry"
	"github.com/basinlabs/codeagent/runtime/agent/tools"
)

// Trace is one recorded tool call: what was asked, what came back, and how
// long it took. Traces accumulate across a single sandbox execution and are
// snapshotted/cleared by the controller around each run.
type Trace struct {
	Tool       string              `json:"tool_name"`
	Args       map[string]any      `json:"args"`
	Result     any                 `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	Bounds     *agent.Bounds       `json:"bounds,omitempty"`
	Artifacts  tools.ArtifactsMode `json:"artifacts,omitempty"`
	Success    bool                `json:"success"`
	DurationMs int64               `json:"duration_ms"`
}

type toolCallRequest struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

type toolCallResponse struct {
	Result  any    `json:"result,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// extractArtifactsMode pops the reserved "artifacts" key out of args (so
// tool payload decoding never sees it) and returns the parsed mode, or the
// zero value when absent or unrecognized.
func extractArtifactsMode(args map[string]any) tools.ArtifactsMode {
	raw, ok := args["artifacts"]
	if !ok {
		return ""
	}
	delete(args, "artifacts")
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	return tools.ParseArtifactsMode(s)
}

// Server is the Tool IPC HTTP server: it binds to a host:port, exposes the
// five routes the synthesized sandbox program calls, and dispatches each
// /tool_call to a registered tools.ToolSpec under whatever invocation
// context was most recently installed via SetContext.
type Server struct {
	host string
	port int

	logger telemetry.Logger
	tracer telemetry.Tracer

	mu        sync.RWMutex
	toolSpecs map[tools.Ident]tools.ToolSpec
	ctx       context.Context
	traces    []Trace

	srvMu sync.Mutex
	http  *http.Server
}

// Option configures a Server under construction.
type Option func(*Server)

// WithLogger attaches a structured logger. When omitted, log calls are
// no-ops.
func WithLogger(logger telemetry.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTracer attaches a tracer used to instrument /tool_call handling. When
// omitted, no spans are created.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// New builds a Server bound to host:port, exposing toolSpecs for dispatch.
// The server does not start listening until Start is called.
func New(host string, port int, toolSpecs []tools.ToolSpec, opts ...Option) *Server {
	s := &Server{
		host:      host,
		port:      port,
		toolSpecs: make(map[tools.Ident]tools.ToolSpec, len(toolSpecs)),
		ctx:       context.Background(),
	}
	for _, t := range toolSpecs {
		s.toolSpecs[t.Name] = t
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetContext installs the context under which subsequent tool invocations
// run. The controller calls this before launching each sandbox execution;
// it is not required to be safe against calls already in flight for a
// previous context, matching spec.md's concurrency contract for this call.
func (s *Server) SetContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

// ClearTraces empties the trace buffer.
func (s *Server) ClearTraces() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = nil
}

// Traces returns a snapshot copy of all recorded traces.
func (s *Server) Traces() []Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trace, len(s.traces))
	copy(out, s.traces)
	return out
}

func (s *Server) addTrace(t Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, t)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/tool_call", s.handleToolCall)
	r.Get("/tool_trace", s.handleGetTraces)
	r.Delete("/tool_trace", s.handleClearTraces)
	r.Get("/health", s.handleHealth)
	r.Get("/tools", s.handleListTools)
	return r
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, toolCallResponse{Error: err.Error()})
		return
	}
	artifactsMode := extractArtifactsMode(req.Args)

	ctx := r.Context()
	if s.tracer != nil {
		var span telemetry.Span
		ctx, span = s.tracer.Start(ctx, "ipc.tool_call", trace.WithAttributes(
			attribute.String("tool.name", req.ToolName),
		))
		defer span.End()
	}

	start := time.Now()

	s.mu.RLock()
	spec, ok := s.toolSpecs[tools.Ident(req.ToolName)]
	invokeCtx := s.ctx
	s.mu.RUnlock()

	if !ok {
		errMsg := fmt.Sprintf("tool not found: %s", req.ToolName)
		s.addTrace(Trace{
			Tool: string(tools.ToolUnavailable), Args: req.Args,
			Error: errMsg, Success: false,
			DurationMs: time.Since(start).Milliseconds(),
		})
		if s.logger != nil {
			s.logger.Warn(ctx, "ipc: tool not found", "tool", req.ToolName)
		}
		writeJSON(w, http.StatusNotFound, toolCallResponse{Error: errMsg})
		return
	}

	result, err := spec.Invoke.Invoke(invokeCtx, req.Args)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		s.addTrace(Trace{
			Tool: req.ToolName, Args: req.Args,
			Error: err.Error(), Success: false, DurationMs: durationMs,
		})
		if s.logger != nil {
			s.logger.Error(ctx, "ipc: tool execution failed", "tool", req.ToolName, "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, toolCallResponse{Error: err.Error()})
		return
	}

	var bounds *agent.Bounds
	if br, ok := result.(agent.BoundedResult); ok {
		b := br.Bounds()
		bounds = &b
	}

	s.addTrace(Trace{
		Tool: req.ToolName, Args: req.Args,
		Result: result, Bounds: bounds, Artifacts: artifactsMode,
		Success: true, DurationMs: durationMs,
	})
	writeJSON(w, http.StatusOK, toolCallResponse{Result: result, Success: true})
}

func (s *Server) handleGetTraces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Traces())
}

func (s *Server) handleClearTraces(w http.ResponseWriter, _ *http.Request) {
	s.ClearTraces()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.toolSpecs))
	for name := range s.toolSpecs {
		names = append(names, string(name))
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, names)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start binds and serves in a background goroutine, returning once a
// readiness probe confirms the port accepts connections (or the bounded
// wait expires). Calling Start again while already running is a no-op.
func (s *Server) Start() error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	if s.http != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	srv := &http.Server{Addr: addr, Handler: s.router()}
	s.http = srv

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := s.waitUntilReady(10*time.Second, errCh); err != nil {
		s.http = nil
		return err
	}

	if s.logger != nil {
		s.logger.Info(context.Background(), "ipc: tool execution server started", "host", s.host, "port", s.port)
	}
	return nil
}

func (s *Server) waitUntilReady(timeout time.Duration, errCh <-chan error) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			return fmt.Errorf("ipc: server failed to start: %w", err)
		default:
		}

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.port), time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if s.logger != nil {
		s.logger.Warn(context.Background(), "ipc: server may not be fully ready", "timeout", timeout)
	}
	return nil
}

// Stop signals shutdown and waits up to 5 seconds for it to complete.
// Calling Stop when not running is a no-op.
func (s *Server) Stop() error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	if s.http == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.http.Shutdown(ctx)
	s.http = nil
	if s.logger != nil {
		s.logger.Info(context.Background(), "ipc: tool execution server stopped")
	}
	return err
}

// URL returns the address the server is reachable at from the given host.
// An empty host resolves to the Docker-host gateway address via
// DetectDockerHostAddress; any non-empty host is used as given.
func (s *Server) URL(host string) string {
	resolved := host
	if resolved == "" {
		resolved = DetectDockerHostAddress()
	}
	return fmt.Sprintf("http://%s:%d", resolved, s.port)
}

// DetectDockerHostAddress returns the host address a container should use
// to reach services on the host machine. macOS and Windows run Docker
// Desktop, which publishes host.docker.internal; Linux uses the default
// bridge network's gateway address instead, since host.docker.internal
// does not resolve there without extra host configuration.
func DetectDockerHostAddress() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return "host.docker.internal"
	default:
		return "172.17.0.1"
	}
}
