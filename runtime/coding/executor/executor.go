// Package executor implements the coding-agent execution engine: it wraps
// a sandbox.Adapter with import validation, tool-stub injection, trace and
// final-answer extraction, and optional history replay for stateful
// invocations.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basinlabs/codeagent/runtime/agent/telemetry"
	"github.com/basinlabs/codeagent/runtime/agent/tools"
	"github.com/basinlabs/codeagent/runtime/coding/allowlist"
	"github.com/basinlabs/codeagent/runtime/coding/ipc"
	"github.com/basinlabs/codeagent/runtime/coding/sandbox"
	"github.com/basinlabs/codeagent/runtime/coding/synth"
)

const (
	toolTraceMarker   = "__TOOL_TRACE__:"
	finalAnswerMarker = "__FINAL_ANSWER__:"
)

// Step records one execution: the code that ran, its hash, the traces and
// answer it produced, and whether it succeeded.
type Step struct {
	Code           string
	CodeHash       string
	Stdout         string
	Stderr         string
	Traces         []ipc.Trace
	Success        bool
	FinalAnswer    any
	HasFinalAnswer bool
}

// Result is the extended outcome of one Execute call: cleaned stdout (trace
// markers stripped), raw stderr, any output files the sandbox produced, the
// tool traces from this run, and final-answer fields.
type Result struct {
	Stdout         string
	Stderr         string
	OutputFiles    []sandbox.File
	Traces         []ipc.Trace
	FinalAnswer    any
	HasFinalAnswer bool
}

// Executor runs synthesized code through a sandbox.Adapter, validating
// imports first and extracting tool traces/final answers from the raw
// output afterward. It is not safe for concurrent Execute calls against the
// same invocation; a single invocation's steps run sequentially.
type Executor struct {
	adapter   sandbox.Adapter
	server    *ipc.Server
	allowed   allowlist.Set
	toolSpecs []tools.ToolSpec
	ipcURL    string
	stateful  bool

	logger telemetry.Logger
	tracer telemetry.Tracer

	history []Step
}

// Option configures an Executor under construction.
type Option func(*Executor)

// WithStateful enables history replay: before each new step, every prior
// successful step is re-synthesized and re-executed to rebuild in-process
// interpreter state.
func WithStateful(stateful bool) Option {
	return func(e *Executor) { e.stateful = stateful }
}

// WithLogger attaches a structured logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithTracer attaches a tracer used to instrument each Execute call.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

// New builds an Executor around adapter and server, validating generated
// code against allowed and synthesizing stubs for toolSpecs addressed at
// ipcURL.
func New(adapter sandbox.Adapter, server *ipc.Server, allowed allowlist.Set, toolSpecs []tools.ToolSpec, ipcURL string, opts ...Option) *Executor {
	e := &Executor{
		adapter:   adapter,
		server:    server,
		allowed:   allowed,
		toolSpecs: toolSpecs,
		ipcURL:    ipcURL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// History returns a copy of the steps executed so far.
func (e *Executor) History() []Step {
	out := make([]Step, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory discards all recorded steps.
func (e *Executor) ClearHistory() {
	e.history = nil
}

// Execute runs userCode through the sandbox and returns the extended
// result. It implements spec.md §4.5's six-step per-call sequence: validate
// imports, ensure the tool server is ready, replay history if stateful,
// synthesize and run the program, extract traces and final answer, then
// record the step.
func (e *Executor) Execute(ctx context.Context, userCode string) (Result, error) {
	if e.tracer != nil {
		var span telemetry.Span
		ctx, span = e.tracer.Start(ctx, "coding.executor.execute", trace.WithAttributes(
			attribute.Int("code.length", len(userCode)),
		))
		defer span.End()
	}

	if violations, err := allowlist.Validate(ctx, userCode, e.allowed); err != nil {
		return Result{}, fmt.Errorf("executor: validate imports: %w", err)
	} else if len(violations) > 0 {
		stderr := strings.Join(violations, "\n")
		e.recordStep(userCode, "", stderr, nil, false, nil, false)
		return Result{Stderr: stderr}, nil
	}

	if e.server != nil {
		if err := e.server.Start(); err != nil {
			return Result{}, fmt.Errorf("executor: start tool server: %w", err)
		}
		e.server.SetContext(ctx)
		e.server.ClearTraces()
	}

	if e.stateful {
		if err := e.replayHistory(ctx); err != nil {
			return Result{}, fmt.Errorf("executor: replay history: %w", err)
		}
	}

	program, err := synth.Synthesize(userCode, e.toolSpecs, e.ipcURL)
	if err != nil {
		return Result{}, fmt.Errorf("executor: synthesize: %w", err)
	}

	raw, err := e.adapter.Execute(ctx, sandbox.Request{Code: program})
	if err != nil {
		if e.logger != nil {
			e.logger.Error(ctx, "executor: sandbox execution failed", "error", err)
		}
		return Result{}, classifyAdapterError(err)
	}

	cleanStdout, traces, finalAnswer, hasFinalAnswer := extractMarkers(raw.Stdout)
	success := raw.Stderr == ""
	e.recordStep(userCode, cleanStdout, raw.Stderr, traces, success, finalAnswer, hasFinalAnswer)

	return Result{
		Stdout:         cleanStdout,
		Stderr:         raw.Stderr,
		OutputFiles:    raw.OutputFiles,
		Traces:         traces,
		FinalAnswer:    finalAnswer,
		HasFinalAnswer: hasFinalAnswer,
	}, nil
}

func (e *Executor) recordStep(code, stdout, stderr string, traces []ipc.Trace, success bool, finalAnswer any, hasFinalAnswer bool) {
	e.history = append(e.history, Step{
		Code:           code,
		CodeHash:       hashCode(code),
		Stdout:         stdout,
		Stderr:         stderr,
		Traces:         traces,
		Success:        success,
		FinalAnswer:    finalAnswer,
		HasFinalAnswer: hasFinalAnswer,
	})
}

// replayHistory re-executes every previously successful step's code, in
// order, to rebuild in-interpreter state before a new step runs. Replay is
// best-effort: non-deterministic side effects (time, external I/O) are not
// reproduced, which is acceptable because the model's progress is expected
// to live in variables replay will rebuild.
func (e *Executor) replayHistory(ctx context.Context) error {
	for _, step := range e.history {
		if !step.Success {
			continue
		}
		e.warnNonIdempotentReplay(ctx, step)
		program, err := synth.Synthesize(step.Code, e.toolSpecs, e.ipcURL)
		if err != nil {
			return fmt.Errorf("resynthesize step %s: %w", step.CodeHash, err)
		}
		if _, err := e.adapter.Execute(ctx, sandbox.Request{Code: program}); err != nil {
			return classifyAdapterError(err)
		}
		if e.logger != nil {
			e.logger.Debug(ctx, "executor: replayed history step", "code_hash", step.CodeHash)
		}
	}
	return nil
}

// warnNonIdempotentReplay logs when a step being replayed called a tool with
// no declared transcript-scoped idempotency tag: replay will re-invoke it,
// which is only safe to do silently when the tool promises identical calls
// produce no new side effects.
func (e *Executor) warnNonIdempotentReplay(ctx context.Context, step Step) {
	if e.logger == nil {
		return
	}
	for _, t := range step.Traces {
		spec, ok := e.toolSpecByName(t.Tool)
		if !ok {
			continue
		}
		scope, found, err := tools.IdempotencyScopeFromTags(spec.Tags)
		if err != nil || !found || scope != tools.IdempotencyScopeTranscript {
			e.logger.Warn(ctx, "executor: replaying step re-invokes a tool without a declared idempotency scope",
				"tool", t.Tool, "code_hash", step.CodeHash)
		}
	}
}

func (e *Executor) toolSpecByName(name string) (tools.ToolSpec, bool) {
	for _, t := range e.toolSpecs {
		if string(t.Name) == name {
			return t, true
		}
	}
	return tools.ToolSpec{}, false
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])[:16]
}

// extractMarkers splits stdout into cleaned output plus the tool-trace and
// final-answer data encoded in marker lines, per spec.md §4.5 step 5.
func extractMarkers(stdout string) (cleanStdout string, traces []ipc.Trace, finalAnswer any, hasFinalAnswer bool) {
	var clean []string
	for _, line := range strings.Split(stdout, "\n") {
		switch {
		case strings.HasPrefix(line, toolTraceMarker):
			var parsed []ipc.Trace
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, toolTraceMarker)), &parsed); err == nil {
				traces = append(traces, parsed...)
			}
		case strings.HasPrefix(line, finalAnswerMarker):
			raw := strings.TrimPrefix(line, finalAnswerMarker)
			var decoded any
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
				finalAnswer = decoded
			} else {
				finalAnswer = raw
			}
			hasFinalAnswer = true
		default:
			clean = append(clean, line)
		}
	}
	cleanStdout = strings.TrimSpace(strings.Join(clean, "\n"))
	return cleanStdout, traces, finalAnswer, hasFinalAnswer
}
