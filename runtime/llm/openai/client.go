// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates the controller's text-only request
// into a single CreateChatCompletion call using
// github.com/sashabaranov/go-openai and concatenates the response's message
// content back into the generic model.Response shape.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/basinlabs/codeagent/runtime/agent/model"
)

type (
	// ChatClient captures the subset of the go-openai client used by the
	// adapter. It is satisfied by *openai.Client so callers can pass either a
	// real client or a mock in tests.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	}

	// Options configures optional OpenAI adapter behavior.
	Options struct {
		// DefaultModel is the model identifier used when model.Request.Model
		// is empty.
		DefaultModel string

		// MaxTokens sets the completion cap for every request. Zero leaves
		// the provider's default in effect.
		MaxTokens int

		// Temperature is used for every request issued by this client.
		Temperature float64
	}

	// Client implements model.Client on top of the OpenAI Chat Completions
	// API.
	Client struct {
		chat         ChatClient
		defaultModel string
		maxTok       int
		temp         float64
	}

	messageStream struct {
		resp *model.Response
		done bool
	}
)

// New builds an OpenAI-backed model client from the provided chat client and
// configuration options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client
// configuration.
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(openai.NewClient(apiKey), Options{DefaultModel: defaultModel, MaxTokens: maxTokens})
}

// GenerateAsync issues a single non-streaming CreateChatCompletion request
// and returns a Stream that yields exactly one Response, matching the
// controller's "request streaming, consume the first response" contract.
func (c *Client) GenerateAsync(ctx context.Context, req *model.Request) (model.Stream, error) {
	request, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	response, err := c.chat.CreateChatCompletion(ctx, *request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return &messageStream{resp: translateResponse(response)}, nil
}

func (c *Client) prepareRequest(req *model.Request) (*openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages, err := encodeMessages(req.SystemInstruction, req.Messages)
	if err != nil {
		return nil, err
	}
	request := &openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: float32(c.temp),
	}
	if c.maxTok > 0 {
		request.MaxTokens = c.maxTok
	}
	return request, nil
}

func encodeMessages(systemInstruction string, msgs []model.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemInstruction != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemInstruction})
	}
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case model.ConversationRoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
		case model.ConversationRoleModel:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text})
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 || (systemInstruction != "" && len(out) == 1) {
		return nil, errors.New("openai: at least one user/model message is required")
	}
	return out, nil
}

func translateResponse(resp openai.ChatCompletionResponse) *model.Response {
	var text strings.Builder
	stop := ""
	if len(resp.Choices) > 0 {
		text.WriteString(resp.Choices[0].Message.Content)
		stop = string(resp.Choices[0].FinishReason)
	}
	return &model.Response{
		Content:    model.Message{Role: model.ConversationRoleModel, Parts: []model.Part{{Text: text.String()}}},
		StopReason: stop,
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
