package translate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geminigate/geminigate/gemini"
)

// fixedTranslator returns a Translator with deterministic ids and clock.
func fixedTranslator() *Translator {
	calls := 0
	return New(Options{
		NewCallID: func() string {
			calls++
			return fmt.Sprintf("call_%04x", calls)
		},
		NewChatID: func() string { return "chatcmpl-test" },
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func TestFromUpstreamText(t *testing.T) {
	tr := fixedTranslator()
	resp := tr.FromUpstream(&gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      gemini.Content{Role: "model", Parts: []gemini.Part{gemini.TextPart("Hello, "), gemini.TextPart("world!")}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &gemini.UsageMetadata{PromptTokenCount: 5, CandidatesTokenCount: 4, TotalTokenCount: 9},
	}, "gpt-4o")

	assert.Equal(t, "chatcmpl-test", resp.ID)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, int64(1700000000), resp.Created)
	assert.Equal(t, "gpt-4o", resp.Model)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "Hello, world!", *resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
}

func TestFromUpstreamToolCalls(t *testing.T) {
	tr := fixedTranslator()
	resp := tr.FromUpstream(&gemini.Response{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{Role: "model", Parts: []gemini.Part{
				{FunctionCall: &gemini.FunctionCall{Name: "get_weather", Args: map[string]any{"unit": "c", "city": "Tokyo"}}},
			}},
			FinishReason: "STOP",
		}},
	}, "gpt-4o")

	choice := resp.Choices[0]
	assert.Nil(t, choice.Message.Content, "content is absent when only tool calls were produced")
	require.Len(t, choice.Message.ToolCalls, 1)
	tc := choice.Message.ToolCalls[0]
	assert.Equal(t, "call_0001", tc.ID)
	assert.Equal(t, "function", tc.Type)
	assert.Equal(t, "get_weather", tc.Function.Name)
	assert.JSONEq(t, `{"city":"Tokyo","unit":"c"}`, tc.Function.Arguments)
	assert.Equal(t, "tool_calls", choice.FinishReason, "finish reason overridden when tool calls replace text")
}

func TestFromUpstreamMultipleCandidates(t *testing.T) {
	tr := fixedTranslator()
	resp := tr.FromUpstream(&gemini.Response{
		Candidates: []gemini.Candidate{
			{Content: gemini.Content{Parts: []gemini.Part{gemini.TextPart("one")}}, FinishReason: "STOP"},
			{Content: gemini.Content{Parts: []gemini.Part{gemini.TextPart("two")}}, FinishReason: "MAX_TOKENS"},
		},
	}, "gpt-4o")
	require.Len(t, resp.Choices, 2)
	assert.Equal(t, 0, resp.Choices[0].Index)
	assert.Equal(t, 1, resp.Choices[1].Index)
	assert.Equal(t, "length", resp.Choices[1].FinishReason)
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]string{
		"STOP":       "stop",
		"stop":       "stop",
		"MAX_TOKENS": "length",
		"LENGTH":     "length",
		"SAFETY":     "content_filter",
		"BLOCKED":    "content_filter",
		"TOOL_CALLS": "tool_calls",
		"FUNCTION":   "tool_calls",
		"OTHER":      "stop",
		"":           "stop",
	}
	for in, want := range cases {
		assert.Equal(t, want, MapFinishReason(in), in)
	}
}

func TestEncodeArgsSortsKeys(t *testing.T) {
	got := encodeArgs(map[string]any{"unit": "c", "city": "Tokyo", "alpha": 1})
	assert.Equal(t, `{"alpha":1,"city":"Tokyo","unit":"c"}`, got)
	assert.Equal(t, "{}", encodeArgs(nil))
}
