package types

// ToolTypeWebSearchPreview is the only tool forwarded to the backend.
const ToolTypeWebSearchPreview = "web_search_preview"

// RoleTool tags a backend message that carries a tool result.
const RoleTool = "tool"

// TranslatedRequest is the backend-facing form of one inbound Messages request.
// It is built once by the translator and never mutated afterwards; WithModel
// returns a stamped copy.
type TranslatedRequest struct {
	Model        string           `json:"model"`
	Instructions string           `json:"instructions"`
	Input        []BackendMessage `json:"input"`
	Tools        []Tool           `json:"tools"`
	Stream       bool             `json:"stream"`
	Temperature  *float64         `json:"temperature,omitempty"`

	// Routing hints captured from the inbound body.
	Thinking          bool     `json:"-"`
	DeclaredToolTypes []string `json:"-"`
}

// WithModel returns a copy of r targeting model.
func (r *TranslatedRequest) WithModel(model string) *TranslatedRequest {
	out := *r
	out.Model = model
	return &out
}

// BackendMessage is one entry of the backend input list.
type BackendMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns the message content or "" when it is null.
func (m BackendMessage) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolCall represents a tool call in an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds a called function name and its JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a backend tool declaration.
type Tool struct {
	Type string `json:"type"`
}
