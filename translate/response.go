package translate

import (
	"encoding/json"
	"strings"

	"github.com/geminigate/geminigate/gemini"
	"github.com/geminigate/geminigate/openaiapi"
)

// FromUpstream translates a non-streaming upstream response into the public
// completion shape. publicModel is echoed back verbatim; candidates map to
// choices in order.
func (t *Translator) FromUpstream(resp *gemini.Response, publicModel string) *openaiapi.ChatResponse {
	out := &openaiapi.ChatResponse{
		ID:      t.newChatID(),
		Object:  "chat.completion",
		Created: t.now().Unix(),
		Model:   publicModel,
	}
	for i, cand := range resp.Candidates {
		out.Choices = append(out.Choices, t.translateCandidate(&cand, i))
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = openaiapi.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return out
}

func (t *Translator) translateCandidate(cand *gemini.Candidate, index int) openaiapi.Choice {
	var text strings.Builder
	var toolCalls []openaiapi.ToolCall
	for _, part := range cand.Content.Parts {
		switch part.Kind() {
		case gemini.KindText:
			text.WriteString(part.Text)
		case gemini.KindFunctionCall:
			toolCalls = append(toolCalls, openaiapi.ToolCall{
				ID:   t.newCallID(),
				Type: "function",
				Function: openaiapi.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: encodeArgs(part.FunctionCall.Args),
				},
			})
		}
	}

	msg := openaiapi.AssistantMessage{Role: openaiapi.RoleAssistant, ToolCalls: toolCalls}
	if text.Len() > 0 || len(toolCalls) == 0 {
		s := text.String()
		msg.Content = &s
	}

	reason := MapFinishReason(cand.FinishReason)
	if len(toolCalls) > 0 && text.Len() == 0 {
		reason = "tool_calls"
	}
	return openaiapi.Choice{Index: index, Message: msg, FinishReason: reason}
}

// MapFinishReason converts an upstream finish reason to the public
// vocabulary. Matching is case-insensitive and substring-based so upstream
// variants (STOP, FINISH_STOP, MAX_TOKENS) all resolve.
func MapFinishReason(upstream string) string {
	r := strings.ToUpper(upstream)
	switch {
	case strings.Contains(r, "LENGTH"), strings.Contains(r, "MAX_TOKENS"):
		return "length"
	case strings.Contains(r, "SAFETY"), strings.Contains(r, "BLOCKED"):
		return "content_filter"
	case strings.Contains(r, "TOOL"), strings.Contains(r, "FUNCTION"):
		return "tool_calls"
	case strings.Contains(r, "STOP"), strings.Contains(r, "FINISH"):
		return "stop"
	}
	return "stop"
}

// encodeArgs renders a structured args object as canonical JSON text with
// sorted keys. Encoding failures degrade to the empty object.
func encodeArgs(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
