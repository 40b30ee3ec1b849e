// Package gemini implements the upstream provider surface: the wire schema of
// the Gemini generateContent API, a REST client with SSE streaming, and the
// provider error taxonomy the credential pool and dispatcher key off.
package gemini

type (
	// Request is the generateContent request body.
	Request struct {
		Contents          []Content         `json:"contents"`
		SystemInstruction *Content          `json:"systemInstruction,omitempty"`
		Tools             []Tool            `json:"tools,omitempty"`
		ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
		GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	}

	// Content is an ordered part list attributed to a role ("user" or
	// "model"; empty for system instructions).
	Content struct {
		Role  string `json:"role,omitempty"`
		Parts []Part `json:"parts"`
	}

	// Part is one content fragment. Exactly one field is set; Kind reports
	// which. Parts with no recognized field decode to PartKindUnknown and are
	// skipped by callers (logged, non-fatal).
	Part struct {
		Text             string            `json:"text,omitempty"`
		FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
		FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
		InlineData       *Blob             `json:"inlineData,omitempty"`
	}

	// FunctionCall is a model-requested function invocation with structured
	// arguments.
	FunctionCall struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args,omitempty"`
	}

	// FunctionResponse carries a tool result back to the model.
	FunctionResponse struct {
		Name     string         `json:"name"`
		Response map[string]any `json:"response,omitempty"`
	}

	// Blob is inline binary data (base64-encoded).
	Blob struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	}

	// Tool declares a set of callable functions.
	Tool struct {
		FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
	}

	// FunctionDeclaration describes one function with a Gemini-shaped schema.
	FunctionDeclaration struct {
		Name        string  `json:"name"`
		Description string  `json:"description,omitempty"`
		Parameters  *Schema `json:"parameters,omitempty"`
	}

	// Schema is the Gemini variant of JSON Schema. Type uses the upstream
	// uppercase names (STRING, NUMBER, INTEGER, BOOLEAN, OBJECT, ARRAY).
	Schema struct {
		Type        string             `json:"type"`
		Description string             `json:"description,omitempty"`
		Format      string             `json:"format,omitempty"`
		Enum        []string           `json:"enum,omitempty"`
		Properties  map[string]*Schema `json:"properties,omitempty"`
		Required    []string           `json:"required,omitempty"`
		Items       *Schema            `json:"items,omitempty"`
		Minimum     *float64           `json:"minimum,omitempty"`
		Maximum     *float64           `json:"maximum,omitempty"`
		MinLength   *int64             `json:"minLength,omitempty"`
		MaxLength   *int64             `json:"maxLength,omitempty"`
		MinItems    *int64             `json:"minItems,omitempty"`
		MaxItems    *int64             `json:"maxItems,omitempty"`
	}

	// ToolConfig constrains function calling for a request.
	ToolConfig struct {
		FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
	}

	// FunctionCallingConfig selects the calling mode, optionally restricted
	// to a set of function names when Mode is ANY.
	FunctionCallingConfig struct {
		Mode                 string   `json:"mode"`
		AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
	}

	// GenerationConfig tunes sampling and output shape.
	GenerationConfig struct {
		Temperature      *float64 `json:"temperature,omitempty"`
		TopP             *float64 `json:"topP,omitempty"`
		MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
		CandidateCount   *int     `json:"candidateCount,omitempty"`
		ResponseMIMEType string   `json:"responseMimeType,omitempty"`
	}

	// Response is the generateContent response body. Streaming chunks use the
	// same shape with cumulative candidate content.
	Response struct {
		Candidates    []Candidate    `json:"candidates"`
		UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	}

	// Candidate is one generated completion.
	Candidate struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
		Index        int     `json:"index"`
	}

	// UsageMetadata reports token accounting.
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	}
)

// Function calling modes.
const (
	ModeAuto = "AUTO"
	ModeNone = "NONE"
	ModeAny  = "ANY"
)

// Schema types.
const (
	TypeString  = "STRING"
	TypeNumber  = "NUMBER"
	TypeInteger = "INTEGER"
	TypeBoolean = "BOOLEAN"
	TypeObject  = "OBJECT"
	TypeArray   = "ARRAY"
)

// FinishReasonUnspecified is the sentinel the upstream emits before a real
// finish reason is known. It does not terminate a stream.
const FinishReasonUnspecified = "FINISH_REASON_UNSPECIFIED"

// PartKind identifies which variant a Part holds.
type PartKind int

const (
	PartKindUnknown PartKind = iota
	KindText
	KindFunctionCall
	KindFunctionResponse
	KindInlineData
)

// Kind reports the populated variant of the part.
func (p *Part) Kind() PartKind {
	switch {
	case p.FunctionCall != nil:
		return KindFunctionCall
	case p.FunctionResponse != nil:
		return KindFunctionResponse
	case p.InlineData != nil:
		return KindInlineData
	case p.Text != "":
		return KindText
	}
	return PartKindUnknown
}

// TextPart returns a Part holding text.
func TextPart(s string) Part { return Part{Text: s} }
