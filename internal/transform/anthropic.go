package transform

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/oof-baroomf/claude-code-router-responses/internal/tokens"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

// ErrInvalidBody is returned when the request body is not a JSON object.
var ErrInvalidBody = errors.New("request body must be a JSON object")

// Translate converts a Messages API request body into the backend request
// shape. Individual malformed messages or parts degrade to empty content;
// only a body that is not a JSON object is rejected. fallbackModel is used
// when the body names no model.
func Translate(body []byte, fallbackModel string) (*types.TranslatedRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidBody
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrInvalidBody
	}

	model := strings.TrimSpace(root.Get("model").String())
	if model == "" {
		model = fallbackModel
	}

	out := &types.TranslatedRequest{
		Model:             model,
		Instructions:      SystemText(root.Get("system")),
		Input:             MessagesToInput(root.Get("messages")),
		Tools:             []types.Tool{{Type: types.ToolTypeWebSearchPreview}},
		Stream:            root.Get("stream").Bool(),
		Thinking:          thinkingEnabled(root.Get("thinking")),
		DeclaredToolTypes: declaredToolTypes(root.Get("tools")),
	}
	if t := root.Get("temperature"); t.Type == gjson.Number {
		out.Temperature = types.Float64Ptr(t.Float())
	}
	return out, nil
}

// MessagesToInput flattens inbound messages into backend messages. A
// non-array value yields no messages.
func MessagesToInput(messages gjson.Result) []types.BackendMessage {
	out := []types.BackendMessage{}
	if !messages.IsArray() {
		return out
	}
	for _, msg := range messages.Array() {
		out = append(out, translateMessage(msg)...)
	}
	return out
}

func translateMessage(msg gjson.Result) []types.BackendMessage {
	role := msg.Get("role").String()
	content := msg.Get("content")

	if content.Type == gjson.String {
		return []types.BackendMessage{{Role: role, Content: types.StringPtr(content.String())}}
	}
	if !content.IsArray() {
		return nil
	}
	parts := content.Array()

	switch role {
	case "assistant":
		return assistantMessage(parts)
	case "user":
		return userMessages(parts)
	default:
		var b strings.Builder
		for _, part := range parts {
			if part.Get("type").String() == "text" {
				b.WriteString(partText(part))
			} else {
				b.WriteString(tokens.CanonicalJSON(part))
			}
			b.WriteByte('\n')
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			return nil
		}
		return []types.BackendMessage{{Role: role, Content: types.StringPtr(text)}}
	}
}

// assistantMessage keeps text and tool calls apart; the backend does not
// accept them interleaved within one turn.
func assistantMessage(parts []gjson.Result) []types.BackendMessage {
	var b strings.Builder
	var calls []types.ToolCall
	for _, part := range parts {
		switch part.Get("type").String() {
		case "text":
			b.WriteString(partText(part))
			b.WriteByte('\n')
		case "tool_use":
			args := tokens.CanonicalJSON(part.Get("input"))
			if args == "" {
				args = "{}"
			}
			calls = append(calls, types.ToolCall{
				ID:   part.Get("id").String(),
				Type: "function",
				Function: types.FunctionCall{
					Name:      part.Get("name").String(),
					Arguments: args,
				},
			})
		}
	}

	msg := types.BackendMessage{Role: "assistant"}
	if text := strings.TrimSpace(b.String()); text != "" {
		msg.Content = types.StringPtr(text)
	}
	if len(calls) > 0 {
		msg.ToolCalls = calls
	}
	if msg.Content == nil && msg.ToolCalls == nil {
		return nil
	}
	return []types.BackendMessage{msg}
}

// userMessages emits the text turn first, then one tool message per
// tool_result in original order.
func userMessages(parts []gjson.Result) []types.BackendMessage {
	var b strings.Builder
	var results []types.BackendMessage
	for _, part := range parts {
		switch part.Get("type").String() {
		case "text":
			b.WriteString(partText(part))
			b.WriteByte('\n')
		case "tool_result":
			results = append(results, types.BackendMessage{
				Role:       types.RoleTool,
				ToolCallID: part.Get("tool_use_id").String(),
				Content:    types.StringPtr(tokens.StringOrJSON(part.Get("content"))),
			})
		}
	}

	var out []types.BackendMessage
	if text := strings.TrimSpace(b.String()); text != "" {
		out = append(out, types.BackendMessage{Role: "user", Content: types.StringPtr(text)})
	}
	return append(out, results...)
}

func partText(part gjson.Result) string {
	return tokens.StringOrJSON(part.Get("text"))
}

// SystemText joins the text of system blocks with newlines, or coerces a
// scalar system value to a string. Missing and null yield "".
func SystemText(system gjson.Result) string {
	switch {
	case !system.Exists(), system.Type == gjson.Null:
		return ""
	case system.IsArray():
		items := system.Array()
		texts := make([]string, 0, len(items))
		for _, item := range items {
			texts = append(texts, item.Get("text").String())
		}
		return strings.Join(texts, "\n")
	case system.IsObject():
		return tokens.CanonicalJSON(system)
	default:
		return system.String()
	}
}

// thinkingEnabled treats any truthy value as a request for extended
// reasoning, except {"type":"disabled"}.
func thinkingEnabled(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float() != 0
	case gjson.String:
		return v.String() != ""
	case gjson.JSON:
		return v.Get("type").String() != "disabled"
	default:
		return false
	}
}

func declaredToolTypes(tools gjson.Result) []string {
	if !tools.IsArray() {
		return nil
	}
	var out []string
	for _, tool := range tools.Array() {
		if t := tool.Get("type").String(); t != "" {
			out = append(out, t)
		}
	}
	return out
}
