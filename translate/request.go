package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/geminigate/geminigate/gemini"
	"github.com/geminigate/geminigate/openaiapi"
)

// maxOutputTokens is the upstream ceiling; larger public max_tokens values are
// capped rather than rejected.
const maxOutputTokens = 8192

// RequestError marks a deterministic translation failure. Retrying with
// another credential cannot succeed, so the dispatcher surfaces it as a client
// error without retrying.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// ToUpstream translates a public chat request into an upstream generateContent
// request. System messages collapse into a single system instruction; user
// turns map to role "user" and assistant/tool turns to role "model".
func (t *Translator) ToUpstream(ctx context.Context, req *openaiapi.ChatRequest) (*gemini.Request, error) {
	out := &gemini.Request{}

	var system []string
	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Role == openaiapi.RoleSystem {
			system = append(system, flattenText(msg.Content))
			continue
		}
		content, err := t.translateMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		out.Contents = append(out.Contents, content)
	}
	if len(system) > 0 {
		out.SystemInstruction = &gemini.Content{
			Parts: []gemini.Part{gemini.TextPart(strings.Join(system, "\n\n"))},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := translateTools(req.Tools)
		if err != nil {
			return nil, err
		}
		out.Tools = tools
	}
	if req.ToolChoice != nil {
		out.ToolConfig = translateToolChoice(req.ToolChoice)
	}
	out.GenerationConfig = translateGenerationConfig(req)
	return out, nil
}

func (t *Translator) translateMessage(ctx context.Context, msg *openaiapi.Message) (gemini.Content, error) {
	content := gemini.Content{Role: "model"}
	if msg.Role == openaiapi.RoleUser {
		content.Role = "user"
	}

	switch {
	case msg.Role == openaiapi.RoleTool:
		name := msg.Name
		if name == "" {
			name = "unknown_function"
		}
		content.Parts = append(content.Parts, gemini.Part{
			FunctionResponse: &gemini.FunctionResponse{
				Name:     name,
				Response: decodeToolResult(flattenText(msg.Content)),
			},
		})
		return content, nil

	case msg.Content != nil && msg.Content.IsParts:
		for _, part := range msg.Content.Parts {
			switch part.Type {
			case "text":
				content.Parts = append(content.Parts, gemini.TextPart(part.Text))
			case "image_url":
				if part.ImageURL == nil {
					continue
				}
				blob, ok := decodeDataURL(part.ImageURL.URL)
				if !ok {
					log.Warnf(ctx, "dropping external image URL, only data: URLs are supported")
					continue
				}
				content.Parts = append(content.Parts, gemini.Part{InlineData: blob})
			}
		}

	case msg.Content != nil:
		content.Parts = append(content.Parts, gemini.TextPart(msg.Content.Text))
	}

	if msg.Role == openaiapi.RoleAssistant {
		for _, call := range msg.ToolCalls {
			content.Parts = append(content.Parts, gemini.Part{
				FunctionCall: &gemini.FunctionCall{
					Name: call.Function.Name,
					Args: decodeArgs(call.Function.Arguments),
				},
			})
		}
	}

	// Ordering must survive empty user turns.
	if len(content.Parts) == 0 && msg.Role == openaiapi.RoleUser {
		content.Parts = append(content.Parts, gemini.TextPart(""))
	}
	return content, nil
}

// decodeArgs decodes a tool call arguments string; malformed JSON degrades to
// an empty args object.
func decodeArgs(arguments string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// decodeToolResult decodes a tool message body. Non-JSON bodies are wrapped so
// the upstream always receives an object.
func decodeToolResult(body string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": body}
}

// decodeDataURL splits a data: URL into its mime type and base64 payload.
// External URLs return false.
func decodeDataURL(u string) (*gemini.Blob, bool) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, false
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, false
	}
	mime, _, _ := strings.Cut(header, ";")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return &gemini.Blob{MIMEType: mime, Data: payload}, true
}

func translateTools(tools []openaiapi.ToolDef) ([]gemini.Tool, error) {
	decls := make([]gemini.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		params := tool.Function.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		schema, err := translateSchema(params)
		if err != nil {
			return nil, &RequestError{Message: fmt.Sprintf("tool %q: %s", tool.Function.Name, err)}
		}
		decls = append(decls, gemini.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  schema,
		})
	}
	return []gemini.Tool{{FunctionDeclarations: decls}}, nil
}

// translateSchema recursively converts a JSON-Schema fragment to the upstream
// schema dialect.
func translateSchema(js map[string]any) (*gemini.Schema, error) {
	out := &gemini.Schema{}

	typ, _ := js["type"].(string)
	switch typ {
	case "string":
		out.Type = gemini.TypeString
	case "number":
		out.Type = gemini.TypeNumber
	case "integer":
		out.Type = gemini.TypeInteger
	case "boolean":
		out.Type = gemini.TypeBoolean
	case "object", "":
		out.Type = gemini.TypeObject
	case "array":
		out.Type = gemini.TypeArray
	case "null":
		// The upstream dialect has no null type; empty string stands in.
		out.Type = gemini.TypeString
		out.Description = "null value, represented as an empty string"
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typ)
	}

	if d, ok := js["description"].(string); ok && out.Description == "" {
		out.Description = d
	}
	if f, ok := js["format"].(string); ok {
		out.Format = f
	}
	if raw, ok := js["enum"].([]any); ok {
		for _, v := range raw {
			if v == nil {
				out.Enum = append(out.Enum, "")
				continue
			}
			out.Enum = append(out.Enum, fmt.Sprintf("%v", v))
		}
	}
	if v, ok := js["minimum"].(float64); ok {
		out.Minimum = &v
	}
	if v, ok := js["maximum"].(float64); ok {
		out.Maximum = &v
	}
	if v, ok := js["minLength"].(float64); ok {
		n := int64(v)
		out.MinLength = &n
	}
	if v, ok := js["maxLength"].(float64); ok {
		n := int64(v)
		out.MaxLength = &n
	}
	if v, ok := js["minItems"].(float64); ok {
		n := int64(v)
		out.MinItems = &n
	}
	if v, ok := js["maxItems"].(float64); ok {
		n := int64(v)
		out.MaxItems = &n
	}

	if out.Type == gemini.TypeObject {
		if props, ok := js["properties"].(map[string]any); ok {
			out.Properties = make(map[string]*gemini.Schema, len(props))
			for name, raw := range props {
				sub, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("property %q is not a schema object", name)
				}
				ps, err := translateSchema(sub)
				if err != nil {
					return nil, fmt.Errorf("property %q: %w", name, err)
				}
				out.Properties[name] = ps
			}
		}
		if raw, ok := js["required"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					out.Required = append(out.Required, s)
				}
			}
		}
	}

	if out.Type == gemini.TypeArray {
		switch items := js["items"].(type) {
		case map[string]any:
			sub, err := translateSchema(items)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			out.Items = sub
		case []any:
			// Tuple schemas collapse to the first entry.
			if len(items) > 0 {
				if first, ok := items[0].(map[string]any); ok {
					sub, err := translateSchema(first)
					if err != nil {
						return nil, fmt.Errorf("items: %w", err)
					}
					out.Items = sub
				}
			}
		}
		if out.Items == nil {
			out.Items = &gemini.Schema{Type: gemini.TypeString}
		}
	}
	return out, nil
}

func translateToolChoice(tc *openaiapi.ToolChoice) *gemini.ToolConfig {
	cfg := gemini.FunctionCallingConfig{}
	switch tc.Mode {
	case openaiapi.ToolChoiceNone:
		cfg.Mode = gemini.ModeNone
	case openaiapi.ToolChoiceRequired:
		// No upstream equivalent of "any tool, at least one": ANY without a
		// name restriction is the closest mode.
		cfg.Mode = gemini.ModeAny
	case openaiapi.ToolChoiceFunction:
		cfg.Mode = gemini.ModeAny
		cfg.AllowedFunctionNames = []string{tc.Name}
	default:
		cfg.Mode = gemini.ModeAuto
	}
	return &gemini.ToolConfig{FunctionCallingConfig: cfg}
}

// defaultTemperature is forwarded when the client omits temperature; the
// public schema defaults to 1 and the upstream default differs per model.
const defaultTemperature = 1.0

func translateGenerationConfig(req *openaiapi.ChatRequest) *gemini.GenerationConfig {
	temp := req.Temperature
	if temp == nil {
		d := defaultTemperature
		temp = &d
	}
	cfg := &gemini.GenerationConfig{
		Temperature: temp,
		TopP:        req.TopP,
	}
	if req.MaxTokens != nil {
		n := *req.MaxTokens
		if n > maxOutputTokens {
			n = maxOutputTokens
		}
		cfg.MaxOutputTokens = &n
	}
	if req.N != nil {
		n := *req.N
		cfg.CandidateCount = &n
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// flattenText extracts the textual content of a message, concatenating text
// parts when the list encoding was used.
func flattenText(c *openaiapi.Content) string {
	if c == nil {
		return ""
	}
	if !c.IsParts {
		return c.Text
	}
	var b strings.Builder
	for _, part := range c.Parts {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
