package openaiapi

import (
	"fmt"
	"regexp"
)

// ValidationError reports a request that fails schema validation. The
// gateway maps it to HTTP 400 without retrying.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var functionNameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate checks the request against the public schema invariants. It
// returns a *ValidationError describing the first violation found.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return invalid("model is required")
	}
	if len(r.Messages) == 0 {
		return invalid("messages must not be empty")
	}
	for i, m := range r.Messages {
		if err := m.validate(); err != nil {
			return invalid("messages[%d]: %v", i, err)
		}
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return invalid("max_tokens must be a positive integer")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return invalid("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return invalid("top_p must be between 0 and 1")
	}
	if r.N != nil {
		if *r.N < 1 || *r.N > 10 {
			return invalid("n must be between 1 and 10")
		}
		if r.Stream && *r.N > 1 {
			return invalid("streaming is not supported when n > 1")
		}
	}
	for i, tool := range r.Tools {
		if tool.Type != "function" {
			return invalid("tools[%d]: type must be \"function\"", i)
		}
		if !functionNameRE.MatchString(tool.Function.Name) {
			return invalid("tools[%d]: function name %q must match [A-Za-z0-9_]+", i, tool.Function.Name)
		}
	}
	if r.ToolChoice != nil {
		if len(r.Tools) == 0 {
			return invalid("tool_choice requires a non-empty tools list")
		}
		if r.ToolChoice.Mode == ToolChoiceFunction && r.ToolChoice.Name == "" {
			return invalid("tool_choice must designate a function by name")
		}
	}
	return nil
}

func (m *Message) validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("role must be one of system, user, assistant, tool; got %q", m.Role)
	}
	if m.Role == RoleTool && m.Content.Empty() {
		return fmt.Errorf("tool messages must carry non-empty content")
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return fmt.Errorf("tool_calls are only permitted on assistant messages")
	}
	return nil
}
