package openai_test

import (
	"context"
	"errors"
	"io"
	"testing"

	sdk "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/codeagent/runtime/agent/model"
	"github.com/basinlabs/codeagent/runtime/llm/openai"
)

type fakeChatClient struct {
	resp sdk.ChatCompletionResponse
	err  error
	got  sdk.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, request sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error) {
	f.got = request
	if f.err != nil {
		return sdk.ChatCompletionResponse{}, f.err
	}
	return f.resp, nil
}

func textCompletion(text string) sdk.ChatCompletionResponse {
	return sdk.ChatCompletionResponse{
		Choices: []sdk.ChatCompletionChoice{
			{
				Message:      sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleAssistant, Content: text},
				FinishReason: "stop",
			},
		},
	}
}

func TestNewRequiresChatClient(t *testing.T) {
	_, err := openai.New(nil, openai.Options{DefaultModel: "m"})
	require.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := openai.New(&fakeChatClient{}, openai.Options{})
	require.Error(t, err)
}

func TestGenerateAsyncReturnsSingleResponse(t *testing.T) {
	fake := &fakeChatClient{resp: textCompletion("final_answer(1)")}
	c, err := openai.New(fake, openai.Options{DefaultModel: "gpt-x", MaxTokens: 512})
	require.NoError(t, err)

	stream, err := c.GenerateAsync(context.Background(), &model.Request{
		SystemInstruction: "be terse",
		Messages: []model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{{Text: "go"}}},
		},
	})
	require.NoError(t, err)
	defer stream.Close()

	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "final_answer(1)", resp.Content.Text())
	assert.Equal(t, "stop", resp.StopReason)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))

	assert.Len(t, fake.got.Messages, 2)
	assert.Equal(t, "gpt-x", fake.got.Model)
}

func TestGenerateAsyncRequiresMessages(t *testing.T) {
	c, err := openai.New(&fakeChatClient{}, openai.Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = c.GenerateAsync(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestGenerateAsyncPropagatesProviderError(t *testing.T) {
	fake := &fakeChatClient{err: errors.New("boom")}
	c, err := openai.New(fake, openai.Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = c.GenerateAsync(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{{Text: "hi"}}}},
	})
	require.Error(t, err)
}
