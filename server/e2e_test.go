package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The gateway speaks the OpenAI wire protocol, so the canonical client
// library must work against it unmodified.

func newOpenAIClient(g *testGateway, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = g.srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestOpenAIClientCompletion(t *testing.T) {
	g := newTestGateway(t, nil)
	client := newOpenAIClient(g, "client-key")

	resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, openai.FinishReasonStop, resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
}

func TestOpenAIClientStreaming(t *testing.T) {
	g := newTestGateway(t, nil)
	client := newOpenAIClient(g, "client-key")

	stream, err := client.CreateChatCompletionStream(context.Background(), openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
		},
		Stream: true,
	})
	require.NoError(t, err)
	defer stream.Close()

	var text strings.Builder
	var finish openai.FinishReason
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Len(t, chunk.Choices, 1)
		text.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Choices[0].FinishReason != "" {
			finish = chunk.Choices[0].FinishReason
		}
	}
	assert.Equal(t, "Hello!", text.String())
	assert.Equal(t, openai.FinishReasonStop, finish)
}

func TestOpenAIClientAuthFailure(t *testing.T) {
	g := newTestGateway(t, nil)
	client := newOpenAIClient(g, "wrong-key")

	_, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
		},
	})
	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.HTTPStatusCode)
}

func TestOpenAIClientModels(t *testing.T) {
	g := newTestGateway(t, nil)
	client := newOpenAIClient(g, "client-key")

	list, err := client.ListModels(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	assert.Contains(t, ids, "gpt-4o")
	assert.Contains(t, ids, "gpt-3.5-turbo")
}
