package translate

import (
	"strings"

	"github.com/geminigate/geminigate/gemini"
	"github.com/geminigate/geminigate/openaiapi"
)

type (
	// StreamState converts an upstream stream of cumulative chunks into
	// public delta chunks. One StreamState serves one stream; it is not safe
	// for concurrent use.
	StreamState struct {
		t       *Translator
		id      string
		model   string
		created int64

		firstChunkSent bool
		contentBuffer  string
		toolCalls      []*toolCallState
		done           bool
	}

	// toolCallState accumulates one tool call across chunks. The upstream
	// re-sends the evolving args object; lastSentArgs is the sorted JSON
	// rendering already delivered to the client.
	toolCallState struct {
		index        int
		id           string
		name         string
		mergedArgs   map[string]any
		lastSentArgs string
	}
)

// NewStream creates the translation state for one streaming response.
// publicModel is echoed into every chunk.
func (t *Translator) NewStream(publicModel string) *StreamState {
	return &StreamState{
		t:       t,
		id:      t.newChatID(),
		model:   publicModel,
		created: t.now().Unix(),
	}
}

// Process translates one upstream chunk into zero or more public chunks, in
// emission order. Done returns true once a terminal chunk has been emitted;
// further upstream chunks must not be processed.
func (s *StreamState) Process(chunk *gemini.Response) []openaiapi.ChunkResponse {
	if s.done || len(chunk.Candidates) == 0 {
		return nil
	}
	cand := &chunk.Candidates[0]

	var out []openaiapi.ChunkResponse
	if !s.firstChunkSent {
		s.firstChunkSent = true
		out = append(out, s.chunk(openaiapi.Delta{Role: openaiapi.RoleAssistant}, nil))
	}

	for _, part := range cand.Content.Parts {
		switch part.Kind() {
		case gemini.KindText:
			if d, ok := s.textDelta(part.Text); ok {
				out = append(out, s.chunk(openaiapi.Delta{Content: d}, nil))
			}
		case gemini.KindFunctionCall:
			out = append(out, s.toolCallDeltas(part.FunctionCall)...)
		}
	}

	if cand.FinishReason != "" && cand.FinishReason != gemini.FinishReasonUnspecified {
		reason := MapFinishReason(cand.FinishReason)
		if s.hasToolCalls() && s.contentBuffer == "" {
			reason = "tool_calls"
		}
		out = append(out, s.chunk(openaiapi.Delta{}, &reason))
		s.done = true
	}
	return out
}

// Fail emits the terminal error chunk for a stream that died mid-flight. The
// error text travels in-band as content so clients that ignore transport
// errors still see it.
func (s *StreamState) Fail(msg string) []openaiapi.ChunkResponse {
	if s.done {
		return nil
	}
	s.done = true
	reason := "stop"
	delta := openaiapi.Delta{Content: "[Error: " + msg + "]"}
	if !s.firstChunkSent {
		s.firstChunkSent = true
		delta.Role = openaiapi.RoleAssistant
	}
	return []openaiapi.ChunkResponse{s.chunk(delta, &reason)}
}

// Done reports whether a terminal chunk has been emitted.
func (s *StreamState) Done() bool { return s.done }

// textDelta returns the newly appended suffix of the cumulative text T.
// Shorter or diverging text is ignored: previously emitted text is
// authoritative and only forward extensions reach the client.
func (s *StreamState) textDelta(text string) (string, bool) {
	if len(text) <= len(s.contentBuffer) {
		return "", false
	}
	delta := text[len(s.contentBuffer):]
	s.contentBuffer = text
	return delta, true
}

// toolCallDeltas folds one cumulative function_call part into the matching
// tool call state and returns the public deltas it produces: a header chunk
// when the call is first seen, then the newly appended characters of the
// sorted-keys args JSON.
func (s *StreamState) toolCallDeltas(fc *gemini.FunctionCall) []openaiapi.ChunkResponse {
	var out []openaiapi.ChunkResponse

	var tc *toolCallState
	for _, existing := range s.toolCalls {
		if existing.name == fc.Name {
			tc = existing
			break
		}
	}
	if tc == nil {
		tc = &toolCallState{
			index:      len(s.toolCalls),
			id:         s.t.newCallID(),
			name:       fc.Name,
			mergedArgs: map[string]any{},
		}
		s.toolCalls = append(s.toolCalls, tc)
		out = append(out, s.chunk(openaiapi.Delta{ToolCalls: []openaiapi.ToolCallDelta{{
			Index:    tc.index,
			ID:       tc.id,
			Type:     "function",
			Function: openaiapi.FunctionDelta{Name: tc.name, Arguments: ""},
		}}}, nil))
	}

	for k, v := range fc.Args {
		tc.mergedArgs[k] = v
	}
	next := encodeArgs(tc.mergedArgs)
	if delta, ok := argsDelta(tc.lastSentArgs, next); ok {
		tc.lastSentArgs = next
		out = append(out, s.chunk(openaiapi.Delta{ToolCalls: []openaiapi.ToolCallDelta{{
			Index:    tc.index,
			Function: openaiapi.FunctionDelta{Arguments: delta},
		}}}, nil))
	}
	return out
}

// argsDelta computes the incremental arguments string between the last sent
// sorted-keys JSON and the next one. Because a growing object only ever
// changes by replacing its closing brace with ",<new fields>}", the closing
// brace is elided on both sides of the comparison; a next value that still
// does not extend the last (key reorder, value change) is re-sent whole.
func argsDelta(last, next string) (string, bool) {
	if next == last {
		return "", false
	}
	if last == "" || strings.HasPrefix(next, last) {
		return next[len(last):], true
	}
	lastCore := strings.TrimSuffix(last, "}")
	if strings.HasSuffix(next, "}") && strings.HasPrefix(next, lastCore) {
		return strings.TrimSuffix(next, "}")[len(lastCore):], true
	}
	return next, true
}

func (s *StreamState) hasToolCalls() bool { return len(s.toolCalls) > 0 }

func (s *StreamState) chunk(delta openaiapi.Delta, finish *string) openaiapi.ChunkResponse {
	return openaiapi.ChunkResponse{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []openaiapi.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}
