package server

import (
	"github.com/google/uuid"

	"github.com/relaykit/clauded/internal/transform"
)

// encodeClientResponse renders a ClientResponse as the client-shaped JSON
// document for a non-streaming request.
func encodeClientResponse(resp *transform.ClientResponse) map[string]any {
	return map[string]any{
		"id":          "msg_" + uuid.NewString(),
		"type":        "message",
		"role":        "assistant",
		"content":     encodeBlocks(resp.Content),
		"stop_reason": resp.StopReason,
		"usage": map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}
}

func encodeBlocks(blocks []transform.ContentBlock) []map[string]any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case transform.BlockText:
			out = append(out, map[string]any{"type": "text", "text": b.Text})
		case transform.BlockToolUse:
			out = append(out, map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": b.Input})
		case transform.BlockToolResult:
			out = append(out, map[string]any{
				"type":        "tool_result",
				"tool_use_id": b.ToolResultID,
				"content":     b.Text,
				"is_error":    b.IsError,
			})
		}
	}
	return out
}
