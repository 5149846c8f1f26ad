package server

import (
	"encoding/json"
	"fmt"

	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/transform"
)

// wireContentBlock is one entry of a message's content array, per spec §6's
// {type: "text"|"tool_use"|"tool_result", ...} shape.
type wireContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireRequest struct {
	Model       string         `json:"model"`
	Messages    []wireMessage  `json:"messages"`
	System      string         `json:"system"`
	Tools       []wireTool     `json:"tools"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature *float64       `json:"temperature"`
	Stream      bool           `json:"stream"`
}

// decodeClientMessage parses a POST /v1/messages body into a ClientMessage.
// Unknown fields are ignored per spec §6.
func decodeClientMessage(body []byte) (transform.ClientMessage, error) {
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return transform.ClientMessage{}, apierr.Wrap(apierr.KindInvalidClientRequest, "request body is not valid JSON", err)
	}
	if wire.Model == "" {
		return transform.ClientMessage{}, apierr.New(apierr.KindInvalidClientRequest, "model is required")
	}

	msg := transform.ClientMessage{
		Model:       wire.Model,
		System:      wire.System,
		MaxTokens:   wire.MaxTokens,
		Temperature: wire.Temperature,
		Stream:      wire.Stream,
	}

	for _, t := range wire.Tools {
		msg.Tools = append(msg.Tools, transform.ToolDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	for _, m := range wire.Messages {
		blocks, err := decodeContent(m.Content)
		if err != nil {
			return transform.ClientMessage{}, err
		}
		msg.Turns = append(msg.Turns, transform.Turn{Role: m.Role, Content: blocks})
	}

	return msg, nil
}

// decodeContent parses a message's content field, which is either a bare
// string (shorthand for a single text block) or an array of typed blocks.
func decodeContent(raw json.RawMessage) ([]transform.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []transform.ContentBlock{{Type: transform.BlockText, Text: asString}}, nil
	}

	var asBlocks []wireContentBlock
	if err := json.Unmarshal(raw, &asBlocks); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidClientRequest, "message content is neither a string nor an array of blocks", err)
	}

	blocks := make([]transform.ContentBlock, 0, len(asBlocks))
	for _, b := range asBlocks {
		switch b.Type {
		case transform.BlockText:
			blocks = append(blocks, transform.ContentBlock{Type: transform.BlockText, Text: b.Text})
		case transform.BlockToolUse:
			blocks = append(blocks, transform.ContentBlock{
				Type:      transform.BlockToolUse,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				Input:     b.Input,
			})
		case transform.BlockToolResult:
			blocks = append(blocks, transform.ContentBlock{
				Type:         transform.BlockToolResult,
				ToolResultID: b.ToolUseID,
				Text:         toolResultText(b.Content),
				IsError:      b.IsError,
			})
		default:
			return nil, apierr.New(apierr.KindInvalidClientRequest, fmt.Sprintf("unknown content block type %q", b.Type))
		}
	}
	return blocks, nil
}

// toolResultText extracts the text of a tool_result's content field, which
// may be a bare string or an array of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asBlocks []wireContentBlock
	if err := json.Unmarshal(raw, &asBlocks); err == nil {
		var out string
		for _, b := range asBlocks {
			if b.Type == transform.BlockText {
				out += b.Text
			}
		}
		return out
	}
	return ""
}
