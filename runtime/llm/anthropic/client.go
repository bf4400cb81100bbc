// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates the controller's text-only
// request into a single anthropic.Message call using
// github.com/anthropics/anthropic-sdk-go and concatenates the response's
// text blocks back into the generic model.Response shape.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/basinlabs/codeagent/runtime/agent/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures optional Anthropic adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty.
		DefaultModel string

		// MaxTokens sets the completion cap for every request. The coding
		// controller does not itself bound output length, so the adapter
		// must supply one.
		MaxTokens int

		// Temperature is used for every request issued by this client. Zero
		// leaves the provider's default in effect.
		Temperature float64
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
	}

	messageStream struct {
		resp *model.Response
		done bool
	}
)

// New builds an Anthropic-backed model client from the provided Anthropic
// Messages client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		return nil, errors.New("max tokens must be positive")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client
// configuration authenticated with apiKey, which must not be empty.
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel, MaxTokens: maxTokens})
}

// GenerateAsync issues a single non-streaming Messages.New request and
// returns a Stream that yields exactly one Response, matching the
// controller's "request streaming, consume the first response" contract.
func (c *Client) GenerateAsync(ctx context.Context, req *model.Request) (model.Stream, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	resp := translateResponse(msg)
	return &messageStream{resp: resp}, nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTok),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if req.SystemInstruction != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemInstruction}}
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, nil
}

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case model.ConversationRoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		case model.ConversationRoleModel:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/model message is required")
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) *model.Response {
	var parts []model.Part
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, model.Part{Text: block.Text})
		}
	}
	return &model.Response{
		Content:    model.Message{Role: model.ConversationRoleModel, Parts: parts},
		StopReason: string(msg.StopReason),
	}
}

func (s *messageStream) Recv() (model.Response, error) {
	if s.done {
		return model.Response{}, io.EOF
	}
	s.done = true
	return *s.resp, nil
}

func (s *messageStream) Close() error { return nil }
