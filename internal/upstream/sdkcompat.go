package upstream

import (
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

// newParams converts a translated request to SDK parameters for model.
func newParams(req *types.TranslatedRequest, model string) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: inputItems(req.Input),
		},
		Tools: toolsToSDK(req.Tools),
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

func inputItems(messages []types.BackendMessage) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(m.ToolCallID, m.Text()))

		case "assistant":
			if m.Content != nil {
				items = append(items, responses.ResponseInputItemParamOfMessage(*m.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(tc.Function.Arguments, tc.ID, tc.Function.Name))
			}

		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Text(), messageRole(m.Role)))
		}
	}
	return items
}

// messageRole maps a role to one the backend accepts. Anything unknown is
// sent as user input.
func messageRole(role string) responses.EasyInputMessageRole {
	switch r := responses.EasyInputMessageRole(role); r {
	case responses.EasyInputMessageRoleUser,
		responses.EasyInputMessageRoleSystem,
		responses.EasyInputMessageRoleDeveloper,
		responses.EasyInputMessageRoleAssistant:
		return r
	}
	return responses.EasyInputMessageRoleUser
}

func toolsToSDK(tools []types.Tool) []responses.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		switch t.Type {
		case types.ToolTypeWebSearchPreview:
			out = append(out, responses.ToolParamOfWebSearchPreview(responses.WebSearchPreviewToolTypeWebSearchPreview))
		case "web_search":
			out = append(out, responses.ToolParamOfWebSearch(responses.WebSearchToolTypeWebSearch))
		}
	}
	return out
}
