package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/config"
	"github.com/relaykit/clauded/internal/registry"
)

// GroqStyleMaxTokens is the output-token ceiling the Groq-style backend
// declares; requests are capped at this value regardless of what the client
// asked for.
const GroqStyleMaxTokens = 8192

// ToBackend converts a client request into the backend's chat-completion
// schema. reg and osFamily determine which tool descriptors are offered when
// the client declared any tools; reasoningEffort is the hint the Selector
// already picked for this request ("" if the backend has none to offer).
func ToBackend(msg ClientMessage, reg *registry.Registry, osFamily config.OSFamily, reasoningEffort string, maxTokensCeiling int) (*BackendRequest, error) {
	req := &BackendRequest{
		Model:       msg.Model,
		MaxTokens:   msg.MaxTokens,
		Temperature: msg.Temperature,
		Stream:      msg.Stream,
	}
	if req.MaxTokens <= 0 || req.MaxTokens > maxTokensCeiling {
		req.MaxTokens = maxTokensCeiling
	}
	if reasoningEffort != "" {
		req.ReasoningEffort = reasoningEffort
	}

	if msg.System != "" {
		req.Messages = append(req.Messages, BackendMessage{Role: "system", Content: msg.System})
	}

	seenToolUseIDs := map[string]bool{}

	for _, turn := range msg.Turns {
		switch turn.Role {
		case "user":
			var text strings.Builder
			var toolResults []Turn // synthetic single-block turns, emitted as tool messages after this turn's text message
			for _, block := range turn.Content {
				switch block.Type {
				case BlockText:
					appendJoined(&text, block.Text)
				case BlockToolResult:
					if !seenToolUseIDs[block.ToolResultID] {
						return nil, apierr.New(apierr.KindInvalidClientRequest,
							fmt.Sprintf("tool_result references unknown tool_use id %q", block.ToolResultID))
					}
					content := block.Text
					if block.IsError && content == "" {
						content = "error"
					}
					toolResults = append(toolResults, Turn{Role: "tool", Content: []ContentBlock{{
						Type:         BlockToolResult,
						Text:         content,
						ToolResultID: block.ToolResultID,
					}}})
				}
			}
			if text.Len() > 0 {
				req.Messages = append(req.Messages, BackendMessage{Role: "user", Content: text.String()})
			}
			for _, tr := range toolResults {
				req.Messages = append(req.Messages, BackendMessage{
					Role:       "tool",
					Content:    tr.Content[0].Text,
					ToolCallID: tr.Content[0].ToolResultID,
				})
			}

		case "assistant":
			var text strings.Builder
			var calls []BackendToolCall
			for _, block := range turn.Content {
				switch block.Type {
				case BlockText:
					appendJoined(&text, block.Text)
				case BlockToolUse:
					argsJSON, err := json.Marshal(block.Input)
					if err != nil {
						return nil, apierr.Wrap(apierr.KindInvalidClientRequest, "tool_use input is not serialisable", err)
					}
					seenToolUseIDs[block.ToolUseID] = true
					calls = append(calls, BackendToolCall{
						ID:        block.ToolUseID,
						Name:      block.ToolName,
						Arguments: string(argsJSON),
					})
				}
			}
			req.Messages = append(req.Messages, BackendMessage{
				Role:      "assistant",
				Content:   text.String(),
				ToolCalls: calls,
			})

		case "system":
			var text strings.Builder
			for _, block := range turn.Content {
				if block.Type == BlockText {
					appendJoined(&text, block.Text)
				}
			}
			req.Messages = append(req.Messages, BackendMessage{Role: "system", Content: text.String()})

		case "tool_result":
			for _, block := range turn.Content {
				if block.Type != BlockToolResult {
					continue
				}
				if !seenToolUseIDs[block.ToolResultID] {
					return nil, apierr.New(apierr.KindInvalidClientRequest,
						fmt.Sprintf("tool_result references unknown tool_use id %q", block.ToolResultID))
				}
				content := block.Text
				if block.IsError && content == "" {
					content = "error"
				}
				req.Messages = append(req.Messages, BackendMessage{
					Role:       "tool",
					Content:    content,
					ToolCallID: block.ToolResultID,
				})
			}

		default:
			return nil, apierr.New(apierr.KindInvalidClientRequest, fmt.Sprintf("unknown message role %q", turn.Role))
		}
	}

	if len(msg.Tools) > 0 {
		req.ToolChoice = "auto"
		for _, e := range reg.ToolsFor(osFamily) {
			req.Tools = append(req.Tools, BackendTool{
				Name:        e.Name,
				Description: e.Description,
				Parameters:  schemaToJSONSchema(e.Schema),
			})
		}
	}

	return req, nil
}

func appendJoined(b *strings.Builder, text string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(text)
}

// schemaToJSONSchema renders a registry.Schema into the plain
// map[string]any JSON-Schema-shaped object the backend expects, honoring
// the ultra-simple policy: no additionalProperties, no oneOf/anyOf, no
// defaults, no formats.
func schemaToJSONSchema(s registry.Schema) map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		entry := map[string]any{"type": p.Type, "description": p.Description}
		if p.Type == "array" {
			itemType := p.ItemType
			if itemType == "" {
				itemType = "string"
			}
			entry["items"] = map[string]any{"type": itemType}
		}
		props[name] = entry
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   s.Required,
	}
}
