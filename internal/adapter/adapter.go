// Package adapter combines the Registry, Transformer, Selector and Backend
// Client for one specific backend, absorbing backend-specific quirks per
// spec §4.5. Grounded on the teacher's ProviderInterface/StreamProviderInterface
// split and on proxy_common.py's per-backend adapter modules.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/backendclient"
	"github.com/relaykit/clauded/internal/transform"
)

// Adapter is the public surface every backend implements: Handle runs a
// non-streaming client request end to end, HandleStream a streaming one.
type Adapter interface {
	Handle(ctx context.Context, msg transform.ClientMessage, inputTokens int) (*transform.ClientResponse, error)
	HandleStream(ctx context.Context, msg transform.ClientMessage, inputTokens int, emit func(transform.ClientEvent) error) error
}

// backendChatResponse is the OpenAI-shaped wire response both backends here
// speak, grounded on the teacher's CommonResponse/CommonChoice/CommonMessage
// structs in providers/base.go.
type backendChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func decodeChatResponse(data []byte) (*transform.BackendResponse, error) {
	var wire backendChatResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendProtocol, "backend response is not valid JSON", err)
	}

	resp := &transform.BackendResponse{
		Usage: transform.Usage{InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens},
	}
	for _, c := range wire.Choices {
		choice := transform.BackendChoice{
			Message:      transform.BackendMessage{Role: "assistant", Content: c.Message.Content},
			FinishReason: c.FinishReason,
		}
		for _, tc := range c.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, transform.BackendToolCall{
				ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
			})
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp, nil
}

// encodeChatRequest renders a BackendRequest into the OpenAI-style wire body.
func encodeChatRequest(req *transform.BackendRequest) ([]byte, error) {
	wire := map[string]any{
		"model":    req.Model,
		"stream":   req.Stream,
		"messages": encodeMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		wire["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		wire["temperature"] = *req.Temperature
	}
	if req.ReasoningEffort != "" {
		wire["reasoning_effort"] = req.ReasoningEffort
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		wire["tools"] = tools
		wire["tool_choice"] = req.ToolChoice
	}
	return json.Marshal(wire)
}

func encodeMessages(messages []transform.BackendMessage) []map[string]any {
	var out []map[string]any
	for _, m := range messages {
		entry := map[string]any{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			entry["content"] = m.Content
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		out = append(out, entry)
	}
	return out
}

// collectToolNames extracts the declared client tool names, used by the
// Selector's web-search-tool rule.
func collectToolNames(tools []transform.ToolDeclaration) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

// collectUserText concatenates all user-role text blocks, newline-joined.
// Case is left as is; selector.Select lowercases the text itself.
func collectUserText(msg transform.ClientMessage) string {
	var out string
	for _, turn := range msg.Turns {
		if turn.Role != "user" {
			continue
		}
		for _, b := range turn.Content {
			if b.Type == transform.BlockText {
				if out != "" {
					out += "\n"
				}
				out += b.Text
			}
		}
	}
	return out
}

func mapBackendError(err error) error {
	if apiErr, ok := err.(*apierr.Error); ok {
		return apiErr
	}
	if beErr, ok := err.(*backendclient.Error); ok {
		switch beErr.Kind {
		case backendclient.ErrorAuth:
			return apierr.New(apierr.KindBackendAuth, "backend authentication failed")
		case backendclient.ErrorRateLimited:
			e := apierr.New(apierr.KindBackendRateLimited, "backend rate limit exceeded")
			if beErr.RetryAfter > 0 {
				e.RetryAfter = fmt.Sprintf("%.0f", beErr.RetryAfter.Seconds())
			}
			return e
		case backendclient.ErrorServer, backendclient.ErrorProtocol:
			return apierr.New(apierr.KindBackendServerError, "backend server error")
		case backendclient.ErrorBadRequest:
			return apierr.New(apierr.KindBackendProtocol, "backend rejected the request")
		default:
			return apierr.Wrap(apierr.KindBackendServerError, "backend request failed", err)
		}
	}
	return apierr.Internal(err)
}
