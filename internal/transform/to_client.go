package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/relaykit/clauded/internal/config"
	"github.com/relaykit/clauded/internal/registry"
)

// ToClientFinal converts a whole, non-streaming backend response into the
// client's response shape.
func ToClientFinal(resp *BackendResponse, reg *registry.Registry, osFamily config.OSFamily) (*ClientResponse, error) {
	out := &ClientResponse{Role: "assistant", Usage: resp.Usage}

	if len(resp.Choices) == 0 {
		out.StopReason = "end_turn"
		return out, nil
	}
	choice := resp.Choices[0]

	if choice.Message.Content != "" {
		out.Content = append(out.Content, ContentBlock{Type: BlockText, Text: choice.Message.Content})
	}

	for _, call := range choice.Message.ToolCalls {
		block := toolCallToBlock(call, reg, osFamily)
		out.Content = append(out.Content, block)
	}

	out.StopReason = mapFinishReason(choice.FinishReason)
	return out, nil
}

// toolCallToBlock converts one backend tool call into a client tool_use
// block, applying the Registry's name/argument normalisation. Malformed
// JSON is preserved as a text block per §4.2 (parse_error is internal, never
// user-visible as a distinct error). Arguments that fail canonicalisation
// (apierr.InvalidArgs) are handled per §7: the proxy does not reject the
// whole response; the tool_use input carries the raw argument text under a
// dedicated field so the model can self-correct on its next turn.
func toolCallToBlock(call BackendToolCall, reg *registry.Registry, osFamily config.OSFamily) ContentBlock {
	id := StableToolUseID(call.ID)

	var rawArgs map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &rawArgs); err != nil {
		return ContentBlock{Type: BlockText, Text: call.Arguments}
	}

	name, args, err := reg.CanonicalArgs(call.Name, rawArgs, osFamily)
	if err != nil {
		return ContentBlock{
			Type:      BlockToolUse,
			ToolUseID: id,
			ToolName:  name,
			Input: map[string]any{
				"error":         true,
				"raw_arguments": call.Arguments,
			},
		}
	}

	return ContentBlock{
		Type:      BlockToolUse,
		ToolUseID: id,
		ToolName:  name,
		Input:     args,
	}
}

// StableToolUseID derives a client-visible tool_use id from the backend's
// call id via a stable hash, so retries of the same backend call keep the
// same client-visible id (§4.2).
func StableToolUseID(backendCallID string) string {
	sum := sha256.Sum256([]byte(backendCallID))
	return "call_" + hex.EncodeToString(sum[:8])
}

// mapFinishReason maps a backend finish reason to the client's stop_reason.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}
