package types

// Messages API stop reasons emitted in message_delta.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// Messages API error types carried by error frames.
const (
	ErrorTypeAPI            = "api_error"
	ErrorTypeInternalServer = "internal_server_error"
)

// AnthropicCountTokensResponse is the response body for token counting.
type AnthropicCountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// AnthropicMessageResponse is the non-streaming response for POST /v1/messages.
type AnthropicMessageResponse struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Role         string                `json:"role"`
	Model        string                `json:"model"`
	Content      []AnthropicContentOut `json:"content"`
	StopReason   *string               `json:"stop_reason"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        AnthropicUsage        `json:"usage"`
}

// AnthropicContentOut represents response content blocks.
type AnthropicContentOut struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage holds Messages API usage.
type AnthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ErrorBody is the flat error body returned on synchronous failures.
type ErrorBody struct {
	Error string `json:"error"`
}
