package adapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/backendclient"
	"github.com/relaykit/clauded/internal/config"
	"github.com/relaykit/clauded/internal/registry"
	"github.com/relaykit/clauded/internal/selector"
	"github.com/relaykit/clauded/internal/transform"
)

// Groq model ids, grounded on groq_adapter.py's GroqModelSelector.
const (
	groqOSSModel      = "openai/gpt-oss-120b" // supports tools + reasoning_effort
	groqCompoundModel = "groq/compound"       // native web search, no function calling
)

var groqWebSearchToolNames = map[string]bool{"web_search": true, "browser_search": true}

// Groq is the Groq-style adapter. It intercepts any web_search/browser_search
// tool call the model emits (per spec §4.5) since this proxy has no way to
// execute it, and answers with a secondary non-streaming search instead.
type Groq struct {
	client   *backendclient.Client
	registry *registry.Registry
	osFamily config.OSFamily
	logger   *slog.Logger
}

// NewGroq builds the Groq-style adapter.
func NewGroq(client *backendclient.Client, reg *registry.Registry, osFamily config.OSFamily, logger *slog.Logger) *Groq {
	return &Groq{client: client, registry: reg, osFamily: osFamily, logger: logger}
}

// models intentionally routes primary generation to the tool-capable OSS
// model even when a web-search tool is declared: the compound model has no
// function-calling, so it cannot itself decide when to search. The
// compound model is used only for the interception's secondary call.
func (g *Groq) models() selector.Models {
	return selector.Models{
		HighReasoning: groqOSSModel,
		FastCoding:    groqOSSModel,
		General:       groqOSSModel,
	}
}

func (g *Groq) buildBackendRequest(msg transform.ClientMessage, inputTokens int) (*transform.BackendRequest, error) {
	sel := selector.Select(g.models(), msg.Model, collectUserText(msg), collectToolNames(msg.Tools), inputTokens)

	req, err := transform.ToBackend(msg, g.registry, g.osFamily, sel.ReasoningEffort, transform.GroqStyleMaxTokens)
	if err != nil {
		return nil, err
	}
	req.Model = sel.ModelID
	return req, nil
}

// Handle implements Adapter for non-streaming requests.
func (g *Groq) Handle(ctx context.Context, msg transform.ClientMessage, inputTokens int) (*transform.ClientResponse, error) {
	req, err := g.buildBackendRequest(msg, inputTokens)
	if err != nil {
		return nil, err
	}
	req.Stream = false

	wireBody, err := encodeChatRequest(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternalError, "failed to encode backend request", err)
	}

	data, err := g.client.Send(ctx, wireBody)
	if err != nil {
		return nil, mapBackendError(err)
	}

	backendResp, err := decodeChatResponse(data)
	if err != nil {
		return nil, err
	}

	if intercepted := g.interceptWebSearch(ctx, backendResp); intercepted != nil {
		return intercepted, nil
	}

	return transform.ToClientFinal(backendResp, g.registry, g.osFamily)
}

// interceptWebSearch inspects the primary response's tool calls for a
// web_search/browser_search invocation and, if found, performs the
// secondary search call and returns the tool_result-shaped response per
// spec §4.5. Returns nil if no interception was needed.
func (g *Groq) interceptWebSearch(ctx context.Context, resp *transform.BackendResponse) *transform.ClientResponse {
	if len(resp.Choices) == 0 {
		return nil
	}
	for _, call := range resp.Choices[0].Message.ToolCalls {
		name := registry.ReverseToolName(call.Name)
		if !groqWebSearchToolNames[name] {
			continue
		}

		toolUseID := transform.StableToolUseID(call.ID)
		query := extractQuery(call.Arguments)

		text, err := g.search(ctx, query)
		if err != nil {
			g.logger.Warn("secondary web search call failed", "error", err)
			return &transform.ClientResponse{
				Role:       "assistant",
				StopReason: "tool_use",
				Content: []transform.ContentBlock{{
					Type:         transform.BlockToolResult,
					ToolResultID: toolUseID,
					Text:         "web search unavailable",
					IsError:      true,
				}},
			}
		}

		return &transform.ClientResponse{
			Role:       "assistant",
			StopReason: "tool_use",
			Content: []transform.ContentBlock{{
				Type:         transform.BlockToolResult,
				ToolResultID: toolUseID,
				Text:         text,
			}},
		}
	}
	return nil
}

func extractQuery(argumentsJSON string) string {
	var args struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal([]byte(argumentsJSON), &args)
	return args.Query
}

// search performs the secondary non-streaming call to the web-search model.
func (g *Groq) search(ctx context.Context, query string) (string, error) {
	req := &transform.BackendRequest{
		Model:     groqCompoundModel,
		MaxTokens: transform.GroqStyleMaxTokens,
		Messages: []transform.BackendMessage{
			{Role: "user", Content: "Search the web for: " + query},
		},
	}
	wireBody, err := encodeChatRequest(req)
	if err != nil {
		return "", err
	}

	data, err := g.client.Send(ctx, wireBody)
	if err != nil {
		return "", err
	}

	backendResp, err := decodeChatResponse(data)
	if err != nil {
		return "", err
	}
	if len(backendResp.Choices) == 0 {
		return "", apierr.New(apierr.KindBackendProtocol, "web search response had no choices")
	}
	return backendResp.Choices[0].Message.Content, nil
}

// HandleStream implements Adapter for streaming requests. The interception
// path already requires a blocking secondary call, so the whole response
// (interception or not) is produced first and then emitted as a single
// burst of the usual message_start...message_stop events, rather than
// incrementally as bytes arrive from the backend.
func (g *Groq) HandleStream(ctx context.Context, msg transform.ClientMessage, inputTokens int, emit func(transform.ClientEvent) error) error {
	resp, err := g.Handle(ctx, msg, inputTokens)
	if err != nil {
		return err
	}
	for _, ev := range burstEvents(resp) {
		if err := emit(ev); err != nil {
			return apierr.New(apierr.KindUpstreamCancelled, "client closed connection mid-stream")
		}
	}
	return nil
}

// burstEvents renders a whole ClientResponse as the full event sequence a
// streaming client expects, with each block delivered as a single delta.
func burstEvents(resp *transform.ClientResponse) []transform.ClientEvent {
	events := []transform.ClientEvent{{Event: "message_start", Data: map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"type":    "message",
			"role":    "assistant",
			"content": []any{},
		},
	}}}

	for i, block := range resp.Content {
		switch block.Type {
		case transform.BlockText:
			events = append(events,
				transform.ClientEvent{Event: "content_block_start", Data: map[string]any{
					"type": "content_block_start", "index": i,
					"content_block": map[string]any{"type": "text", "text": ""},
				}},
				transform.ClientEvent{Event: "content_block_delta", Data: map[string]any{
					"type": "content_block_delta", "index": i,
					"delta": map[string]any{"type": "text_delta", "text": block.Text},
				}},
			)
		case transform.BlockToolUse:
			events = append(events,
				transform.ClientEvent{Event: "content_block_start", Data: map[string]any{
					"type": "content_block_start", "index": i,
					"content_block": map[string]any{"type": "tool_use", "id": block.ToolUseID, "name": block.ToolName},
				}},
				transform.ClientEvent{Event: "content_block_delta", Data: map[string]any{
					"type": "content_block_delta", "index": i,
					"delta": map[string]any{"type": "input_json_delta", "input": block.Input},
				}},
			)
		case transform.BlockToolResult:
			events = append(events,
				transform.ClientEvent{Event: "content_block_start", Data: map[string]any{
					"type": "content_block_start", "index": i,
					"content_block": map[string]any{"type": "tool_result", "tool_use_id": block.ToolResultID},
				}},
				transform.ClientEvent{Event: "content_block_delta", Data: map[string]any{
					"type": "content_block_delta", "index": i,
					"delta": map[string]any{"type": "tool_result_delta", "content": block.Text, "is_error": block.IsError},
				}},
			)
		}
		events = append(events, transform.ClientEvent{Event: "content_block_stop", Data: map[string]any{
			"type": "content_block_stop", "index": i,
		}})
	}

	events = append(events,
		transform.ClientEvent{Event: "message_delta", Data: map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": resp.StopReason},
			"usage": map[string]any{"input_tokens": resp.Usage.InputTokens, "output_tokens": resp.Usage.OutputTokens},
		}},
		transform.ClientEvent{Event: "message_stop", Data: map[string]any{"type": "message_stop"}},
	)
	return events
}
