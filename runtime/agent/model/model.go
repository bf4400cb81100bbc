// Package model defines the minimal provider-agnostic request/response types
// the controller depends on to drive an LLM in a reason-act loop. The
// contract is intentionally narrow: the controller sends a system
// instruction and a message transcript and reads back concatenated text: it
// never negotiates native tool-calling with the provider, since tools are
// described to the model as text (see the coding package's prompt
// synthesis) and invoked from inside generated code instead.
package model

import (
	"context"
	"errors"
)

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

const (
	// ConversationRoleUser is the role for user-authored turns, including
	// synthesized error-feedback and code-execution-result turns.
	ConversationRoleUser ConversationRole = "user"

	// ConversationRoleModel is the role for assistant-authored turns.
	ConversationRoleModel ConversationRole = "model"
)

type (
	// Part is a single content block within a message. Only text is modeled:
	// the controller's transcript is plain text in both directions.
	Part struct {
		Text string
	}

	// Message is a single turn in the conversation sent to the model.
	Message struct {
		Role  ConversationRole
		Parts []Part
	}

	// Request captures one model invocation.
	Request struct {
		// Model is the provider-specific model identifier or handle.
		Model string

		// Messages is the ordered transcript, oldest first.
		Messages []Message

		// SystemInstruction is the synthesized system prompt: task framing,
		// per-tool documentation, few-shot examples, and any caller-supplied
		// custom instruction.
		SystemInstruction string
	}

	// Response is a single streamed or non-streamed reply from the model.
	// Content.Parts[*].Text is concatenated by the caller to form the
	// candidate response text.
	Response struct {
		Content    Message
		StopReason string
	}

	// Client is the provider-agnostic model client the controller depends
	// on. The controller requests streaming but consumes only the first
	// response (see runtime/coding/react), so a Client need not support true
	// incremental delivery to satisfy the contract.
	Client interface {
		// GenerateAsync starts a model invocation and returns a stream the
		// caller drains for responses.
		GenerateAsync(ctx context.Context, req *Request) (Stream, error)
	}

	// Stream delivers one or more Response values for a single invocation.
	Stream interface {
		// Recv returns the next response or io.EOF when exhausted.
		Recv() (Response, error)
		// Close releases resources associated with the stream.
		Close() error
	}
)

// ErrStreamingUnsupported indicates the provider does not support streaming
// and callers must fall back to a single buffered response.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// Text concatenates all text parts of m, forming the candidate response used
// by the controller to extract a code block or final answer.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}
