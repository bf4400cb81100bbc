package executor

import (
	"errors"
	"fmt"

	"github.com/basinlabs/codeagent/runtime/agent/toolerrors"
	"github.com/basinlabs/codeagent/runtime/coding/sandbox"
)

// Kind classifies why a step failed, following the error taxonomy of the
// coding agent's execution model. Every kind except KindAdapterUnavailable
// is recoverable: the controller decides whether to
// retry based on how many times it has already seen one for this
// invocation.
type Kind string

const (
	// KindValidation means generated code referenced an import outside the
	// allowlist, or failed to parse. Caught before the sandbox ever runs;
	// reported back to the model as ordinary stderr.
	KindValidation Kind = "validation"
	// KindSandbox means the sandbox ran the program and it failed: an
	// uncaught exception, a nonzero exit, anything surfaced as stderr.
	KindSandbox Kind = "sandbox"
	// KindToolNotFound means a stub called a tool name the IPC server has
	// no registration for. Surfaces to the model as sandbox stderr via the
	// 404 response the stub's _call_ipc helper turns into a RuntimeError.
	KindToolNotFound Kind = "tool_not_found"
	// KindToolExecution means a registered tool's Invoke returned an error.
	// Surfaces the same way as KindToolNotFound.
	KindToolExecution Kind = "tool_execution"
	// KindTransport means the sandbox could not reach the IPC server at
	// all (network unreachable, server not yet ready). Surfaces as sandbox
	// stderr from whatever exception the stub's HTTP call raised.
	KindTransport Kind = "transport"
	// KindAdapterUnavailable means the sandbox backend itself could not run
	// anything. Fatal: it propagates to the caller rather than being
	// retried by the controller.
	KindAdapterUnavailable Kind = "adapter_unavailable"
)

// Error wraps a toolerrors.ToolError with a Kind so callers can distinguish
// fatal conditions (KindAdapterUnavailable) from conditions the ReAct
// controller is expected to retry.
type Error struct {
	Kind Kind
	*toolerrors.ToolError
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, ToolError: toolerrors.NewWithCause(message, cause)}
}

// IsFatal reports whether a step error should abort the invocation instead
// of being fed back to the model as a retryable failure.
func (e *Error) IsFatal() bool {
	return e.Kind == KindAdapterUnavailable
}

// classifyAdapterError converts a sandbox.Adapter error into an executor
// Error, distinguishing the fatal unavailable case from a recoverable
// sandbox failure.
func classifyAdapterError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sandbox.ErrUnavailable) {
		return newError(KindAdapterUnavailable, "sandbox adapter unavailable", err)
	}
	return newError(KindSandbox, fmt.Sprintf("sandbox execution failed: %v", err), err)
}
