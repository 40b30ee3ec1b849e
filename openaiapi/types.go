// Package openaiapi defines the public wire schema served by the gateway: an
// OpenAI-style chat completions surface. The gateway is the server side of
// this schema, so the types carry pointer optionality where the distinction
// between "absent" and "zero" matters for validation and translation.
package openaiapi

import (
	"encoding/json"
	"fmt"
)

// Message roles accepted on the public surface.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool choice modes. ToolChoiceFunction is used when the request designates a
// single tool by name.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
	ToolChoiceFunction = "function"
)

type (
	// ChatRequest is the public chat completion request envelope.
	ChatRequest struct {
		Model             string          `json:"model"`
		Messages          []Message       `json:"messages"`
		MaxTokens         *int            `json:"max_tokens,omitempty"`
		Temperature       *float64        `json:"temperature,omitempty"`
		TopP              *float64        `json:"top_p,omitempty"`
		Stream            bool            `json:"stream,omitempty"`
		Tools             []ToolDef       `json:"tools,omitempty"`
		ToolChoice        *ToolChoice     `json:"tool_choice,omitempty"`
		ResponseFormat    *ResponseFormat `json:"response_format,omitempty"`
		N                 *int            `json:"n,omitempty"`
		ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
	}

	// Message is a single conversation turn. Content is either a plain string,
	// an ordered list of content parts, or absent (tool-call-only assistant
	// turns).
	Message struct {
		Role       string     `json:"role"`
		Content    *Content   `json:"content,omitempty"`
		Name       string     `json:"name,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	}

	// Content holds either scalar text or a list of parts, mirroring the two
	// JSON encodings the public schema allows.
	Content struct {
		Text  string
		Parts []ContentPart
		// IsParts records which encoding was received so round-trips preserve
		// the original shape.
		IsParts bool
	}

	// ContentPart is one item of a multi-part message content list.
	ContentPart struct {
		Type     string    `json:"type"`
		Text     string    `json:"text,omitempty"`
		ImageURL *ImageURL `json:"image_url,omitempty"`
	}

	// ImageURL carries an image reference, either a data: URL or an external
	// URL.
	ImageURL struct {
		URL string `json:"url"`
	}

	// ToolDef declares a callable function exposed to the model.
	ToolDef struct {
		Type     string      `json:"type"`
		Function FunctionDef `json:"function"`
	}

	// FunctionDef is the function portion of a tool definition. Parameters is
	// a JSON-Schema object.
	FunctionDef struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	}

	// ToolChoice constrains which tools the model may call. Mode is one of
	// auto, none, required, or function; Name is set when Mode is function.
	ToolChoice struct {
		Mode string
		Name string
	}

	// ToolCall is a model-requested function invocation. Arguments is a
	// JSON-encoded string per the public schema.
	ToolCall struct {
		ID       string       `json:"id"`
		Type     string       `json:"type"`
		Function FunctionCall `json:"function"`
	}

	// FunctionCall names the function and carries its JSON-encoded arguments.
	FunctionCall struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	// ResponseFormat requests structured output. Type "json_object" enables
	// the JSON output hint.
	ResponseFormat struct {
		Type string `json:"type"`
	}

	// ChatResponse is the non-streaming completion response.
	ChatResponse struct {
		ID      string   `json:"id"`
		Object  string   `json:"object"`
		Created int64    `json:"created"`
		Model   string   `json:"model"`
		Choices []Choice `json:"choices"`
		Usage   Usage    `json:"usage"`
	}

	// Choice is one completion candidate.
	Choice struct {
		Index        int              `json:"index"`
		Message      AssistantMessage `json:"message"`
		FinishReason string           `json:"finish_reason"`
	}

	// AssistantMessage is the assistant turn inside a completion choice.
	// Content is null when the model produced only tool calls.
	AssistantMessage struct {
		Role      string     `json:"role"`
		Content   *string    `json:"content"`
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	}

	// Usage reports token accounting for a completion.
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	// ChunkResponse is one streaming chunk ("chat.completion.chunk").
	ChunkResponse struct {
		ID      string        `json:"id"`
		Object  string        `json:"object"`
		Created int64         `json:"created"`
		Model   string        `json:"model"`
		Choices []ChunkChoice `json:"choices"`
	}

	// ChunkChoice carries the delta for one candidate. FinishReason is null
	// until the terminal chunk.
	ChunkChoice struct {
		Index        int     `json:"index"`
		Delta        Delta   `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	}

	// Delta is the incremental payload of a streaming chunk.
	Delta struct {
		Role      string          `json:"role,omitempty"`
		Content   string          `json:"content,omitempty"`
		ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
	}

	// ToolCallDelta is the incremental form of a tool call inside a streaming
	// delta. Arguments carries only newly appended characters.
	ToolCallDelta struct {
		Index    int           `json:"index"`
		ID       string        `json:"id,omitempty"`
		Type     string        `json:"type,omitempty"`
		Function FunctionDelta `json:"function"`
	}

	// FunctionDelta is the function portion of a tool call delta.
	FunctionDelta struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	}

	// Model describes one entry of the /v1/models listing.
	Model struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}

	// ModelList is the /v1/models response envelope.
	ModelList struct {
		Object string  `json:"object"`
		Data   []Model `json:"data"`
	}

	// ErrorResponse is the error envelope returned on failed requests.
	ErrorResponse struct {
		Error ErrorDetail `json:"error"`
	}

	// ErrorDetail carries the error type and message.
	ErrorDetail struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
)

// TextContent returns a *Content holding scalar text.
func TextContent(s string) *Content {
	return &Content{Text: s}
}

// PartsContent returns a *Content holding a part list.
func PartsContent(parts ...ContentPart) *Content {
	return &Content{Parts: parts, IsParts: true}
}

// Empty reports whether the content carries neither text nor parts.
func (c *Content) Empty() bool {
	if c == nil {
		return true
	}
	if c.IsParts {
		return len(c.Parts) == 0
	}
	return c.Text == ""
}

// UnmarshalJSON accepts either a JSON string or an array of content parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		c.IsParts = false
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts")
	}
	c.Text = ""
	c.Parts = parts
	c.IsParts = true
	return nil
}

// MarshalJSON re-encodes the content in the shape it was received.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts the three wire encodings of tool_choice: a keyword
// token ("auto", "none", "required"), an object designating a function by
// name, or a bare string which is treated as a by-name selection.
func (tc *ToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
			tc.Mode = s
		default:
			tc.Mode = ToolChoiceFunction
			tc.Name = s
		}
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("tool_choice must be a string or an object")
	}
	if obj.Function.Name == "" {
		return fmt.Errorf("tool_choice object must designate a function by name")
	}
	tc.Mode = ToolChoiceFunction
	tc.Name = obj.Function.Name
	return nil
}

// MarshalJSON encodes keyword modes as strings and by-name selections as the
// object form.
func (tc ToolChoice) MarshalJSON() ([]byte, error) {
	if tc.Mode != ToolChoiceFunction {
		return json.Marshal(tc.Mode)
	}
	return json.Marshal(map[string]any{
		"type":     "function",
		"function": map[string]string{"name": tc.Name},
	})
}
