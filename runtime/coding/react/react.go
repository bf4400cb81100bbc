// Package react implements the reason-act controller loop that drives a
// model through repeated rounds of code generation and sandboxed execution
// until it produces a final answer, exhausts its error budget, or exhausts
// its iteration cap.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basinlabs/codeagent/runtime/agent/model"
	"github.com/basinlabs/codeagent/runtime/agent/telemetry"
	"github.com/basinlabs/codeagent/runtime/agent/tools"
	"github.com/basinlabs/codeagent/runtime/coding/config"
	"github.com/basinlabs/codeagent/runtime/coding/executor"
	"github.com/basinlabs/codeagent/runtime/coding/ipc"
	"github.com/basinlabs/codeagent/runtime/coding/synth"
)

var (
	toolCodeBlock = regexp.MustCompile("(?s)```tool_code\\n(.*?)```")
	pythonBlock   = regexp.MustCompile("(?s)```python\\n(.*?)```")
)

const iterationExhaustionMessage = "I was unable to complete this task within the allowed number of iterations."

// Controller drives the ReAct loop for a single invocation: it owns no
// state across invocations beyond what NewState/Config describe.
type Controller struct {
	client    model.Client
	exec      *executor.Executor
	modelName string
	toolSpecs []tools.ToolSpec
	instr     string

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures a Controller under construction.
type Option func(*Controller)

// WithLogger attaches a structured logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTracer attaches a tracer used to instrument each Run call.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

// New builds a Controller that drives client with modelName, executes
// generated code via exec, and documents toolSpecs to the model alongside
// the caller-supplied custom instruction.
func New(client model.Client, exec *executor.Executor, modelName string, toolSpecs []tools.ToolSpec, instr string, opts ...Option) *Controller {
	c := &Controller{
		client:    client,
		exec:      exec,
		modelName: modelName,
		toolSpecs: toolSpecs,
		instr:     instr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Outcome is the terminal result of one Run: the final answer text (already
// JSON-serialized if the underlying value was not itself a string), the
// final config.State, and whether the loop ended with an answer. Completed
// is true for a model answer and for the diagnostic answer given when the
// error-retry budget runs out; it is false only when the iteration cap
// ended the loop.
type Outcome struct {
	// InvocationID identifies this Run for logs, traces, and any
	// caller-side correlation across the loop's iterations.
	InvocationID string
	FinalAnswer  string
	State        *config.State
	Completed    bool
	Traces       []ipc.Trace
}

// generateInvocationID returns a globally unique identifier for one Run,
// prefixed with a normalized model name to keep it legible in logs.
func generateInvocationID(modelName string) string {
	prefix := strings.ReplaceAll(modelName, ".", "-")
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Run drives the ReAct loop against cfg's bounds, starting from an empty
// conversation, until a final answer, retry exhaustion, or the iteration
// cap ends it. The system prompt is synthesized once from the controller's
// tool set and custom instruction and reused for every iteration.
func (c *Controller) Run(ctx context.Context, cfg *config.Config) (Outcome, error) {
	invocationID := generateInvocationID(c.modelName)

	if c.tracer != nil {
		var span telemetry.Span
		ctx, span = c.tracer.Start(ctx, "coding.react.run", trace.WithAttributes(
			attribute.String("invocation.id", invocationID),
		))
		defer span.End()
	}
	if c.logger != nil {
		c.logger.Debug(ctx, "react: run started", "invocation_id", invocationID, "max_iterations", cfg.MaxIterations)
	}

	systemPrompt := synth.SystemPrompt(c.toolSpecs, c.instr)
	state := config.NewState()
	var messages []model.Message
	var traces []ipc.Trace

	for state.IterationCount < cfg.MaxIterations {
		state.IterationCount++

		responseText, err := c.generate(ctx, systemPrompt, messages)
		if err != nil {
			return Outcome{}, fmt.Errorf("react: generate: %w", err)
		}

		code, ok := extractCodeBlock(responseText)
		if !ok {
			return Outcome{InvocationID: invocationID, FinalAnswer: responseText, State: state, Completed: true, Traces: traces}, nil
		}

		messages = append(messages, model.Message{Role: model.ConversationRoleModel, Parts: []model.Part{{Text: responseText}}})

		result, err := c.exec.Execute(ctx, code)
		if err != nil {
			return Outcome{}, fmt.Errorf("react: execute: %w", err)
		}
		traces = append(traces, result.Traces...)

		state.History = append(state.History, config.HistoryEntry{
			Iteration:      state.IterationCount,
			Code:           code,
			Stdout:         result.Stdout,
			Stderr:         result.Stderr,
			ToolTraces:     result.Traces,
			HasFinalAnswer: result.HasFinalAnswer,
		})

		if result.Stderr != "" {
			state.ErrorCount++
			if c.logger != nil {
				c.logger.Warn(ctx, "react: execution error", "invocation_id", invocationID, "iteration", state.IterationCount, "error_count", state.ErrorCount, "stderr", result.Stderr)
			}
			if state.ErrorCount > cfg.ErrorRetryAttempts {
				diagnostic := fmt.Sprintf("I was unable to complete this task. The last error encountered was: %s", result.Stderr)
				return Outcome{InvocationID: invocationID, FinalAnswer: diagnostic, State: state, Completed: true, Traces: traces}, nil
			}
			messages = append(messages, model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{{Text: buildErrorFeedback(result.Stderr, code)}}})
			continue
		}

		state.ErrorCount = 0

		if result.HasFinalAnswer {
			return Outcome{InvocationID: invocationID, FinalAnswer: serializeFinalAnswer(result.FinalAnswer), State: state, Completed: true, Traces: traces}, nil
		}

		messages = append(messages, model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{{Text: buildCodeResultFeedback(result.Stdout)}}})
	}

	return Outcome{InvocationID: invocationID, FinalAnswer: iterationExhaustionMessage, State: state, Completed: false, Traces: traces}, nil
}

func (c *Controller) generate(ctx context.Context, systemPrompt string, messages []model.Message) (string, error) {
	if c.tracer != nil {
		var span telemetry.Span
		ctx, span = c.tracer.Start(ctx, "coding.react.generate", trace.WithAttributes(
			attribute.Int("messages.count", len(messages)),
		))
		defer span.End()
	}

	stream, err := c.client.GenerateAsync(ctx, &model.Request{
		Model:             c.modelName,
		Messages:          messages,
		SystemInstruction: systemPrompt,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	// Only the first response is consumed; later ones are not read.
	resp, err := stream.Recv()
	if err == io.EOF {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.Content.Text(), nil
}

// extractCodeBlock extracts the first code fence from response, preferring
// a tool_code block over a python block. It returns ok=false when neither
// appears, signaling that the whole response is the final answer.
func extractCodeBlock(response string) (code string, ok bool) {
	if m := toolCodeBlock.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := pythonBlock.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

func buildErrorFeedback(stderr, code string) string {
	return fmt.Sprintf(
		"The code execution failed with the following error:\n\n```\n%s\n```\n\nThe code that failed was:\n```python\n%s\n```\n\nPlease fix the error and try again. Common issues:\n- Unauthorized imports (only use allowed imports)\n- Tool call errors (check the tool documentation)\n- Python syntax errors\n",
		stderr, code,
	)
}

func buildCodeResultFeedback(stdout string) string {
	return fmt.Sprintf("Code execution result:\n```\n%s\n```\n", stdout)
}

// serializeFinalAnswer renders a tool-produced final answer as the string
// the caller ultimately sees. Non-string values are JSON-encoded; encoding
// failures fall back to fmt's default string form rather than erroring the
// whole invocation over a formatting detail.
func serializeFinalAnswer(answer any) string {
	if s, ok := answer.(string); ok {
		return s
	}
	encoded, err := json.Marshal(answer)
	if err != nil {
		return fmt.Sprintf("%v", answer)
	}
	return string(encoded)
}
