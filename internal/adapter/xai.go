package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/backendclient"
	"github.com/relaykit/clauded/internal/config"
	"github.com/relaykit/clauded/internal/registry"
	"github.com/relaykit/clauded/internal/selector"
	"github.com/relaykit/clauded/internal/transform"
)

// xAI model ids, grounded on xai_adapter.py's XAIModelSelector.
const (
	xaiHighReasoningModel = "grok-4-0709"
	xaiFastCodingModel    = "grok-code-fast-1"
)

// XAI is a straight-passthrough adapter: no web-search interception, per
// spec §4.5.
type XAI struct {
	client   *backendclient.Client
	registry *registry.Registry
	osFamily config.OSFamily
	logger   *slog.Logger
}

// NewXAI builds the xAI-style adapter.
func NewXAI(client *backendclient.Client, reg *registry.Registry, osFamily config.OSFamily, logger *slog.Logger) *XAI {
	return &XAI{client: client, registry: reg, osFamily: osFamily, logger: logger}
}

func (a *XAI) models() selector.Models {
	return selector.Models{
		// xAI has no web-search-capable or distinct long-context model in
		// scope; those rules fall through to the keyword-based ones.
		HighReasoning: xaiHighReasoningModel,
		FastCoding:    xaiFastCodingModel,
		General:       xaiFastCodingModel,
	}
}

func (a *XAI) buildBackendRequest(msg transform.ClientMessage, inputTokens int) (*transform.BackendRequest, error) {
	sel := selector.Select(a.models(), msg.Model, collectUserText(msg), collectToolNames(msg.Tools), inputTokens)

	req, err := transform.ToBackend(msg, a.registry, a.osFamily, sel.ReasoningEffort, transform.GroqStyleMaxTokens)
	if err != nil {
		return nil, err
	}
	req.Model = sel.ModelID
	return req, nil
}

// Handle implements Adapter for non-streaming requests.
func (a *XAI) Handle(ctx context.Context, msg transform.ClientMessage, inputTokens int) (*transform.ClientResponse, error) {
	req, err := a.buildBackendRequest(msg, inputTokens)
	if err != nil {
		return nil, err
	}
	req.Stream = false

	wireBody, err := encodeChatRequest(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternalError, "failed to encode backend request", err)
	}

	data, err := a.client.Send(ctx, wireBody)
	if err != nil {
		return nil, mapBackendError(err)
	}

	backendResp, err := decodeChatResponse(data)
	if err != nil {
		return nil, err
	}

	return transform.ToClientFinal(backendResp, a.registry, a.osFamily)
}

// HandleStream implements Adapter for streaming requests, scanning the
// backend's SSE lines and translating each delta as it arrives.
func (a *XAI) HandleStream(ctx context.Context, msg transform.ClientMessage, inputTokens int, emit func(transform.ClientEvent) error) error {
	req, err := a.buildBackendRequest(msg, inputTokens)
	if err != nil {
		return err
	}
	req.Stream = true

	wireBody, err := encodeChatRequest(req)
	if err != nil {
		return apierr.Wrap(apierr.KindInternalError, "failed to encode backend request", err)
	}

	body, err := a.client.SendStream(ctx, wireBody)
	if err != nil {
		return mapBackendError(err)
	}
	defer body.Close()

	state := transform.NewStreamState(a.registry, a.osFamily)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		delta, ok, decodeErr := decodeStreamChunk(payload)
		if decodeErr != nil {
			a.logger.Warn("skipping malformed backend stream chunk", "error", decodeErr)
			continue
		}
		if !ok {
			continue
		}

		for _, ev := range state.ProcessDelta(delta) {
			if err := emit(ev); err != nil {
				return apierr.New(apierr.KindUpstreamCancelled, "client closed connection mid-stream")
			}
		}
	}

	return scanner.Err()
}

type streamChunkWire struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// decodeStreamChunk parses one backend SSE payload into a
// transform.BackendStreamDelta. ok is false for chunks that carry no
// meaningful choice (e.g. a pure keep-alive).
func decodeStreamChunk(payload string) (transform.BackendStreamDelta, bool, error) {
	var wire streamChunkWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return transform.BackendStreamDelta{}, false, err
	}
	if len(wire.Choices) == 0 {
		return transform.BackendStreamDelta{}, false, nil
	}

	choice := wire.Choices[0]
	delta := transform.BackendStreamDelta{
		ContentFragment: choice.Delta.Content,
		FinishReason:    choice.FinishReason,
	}
	for _, tc := range choice.Delta.ToolCalls {
		delta.ToolCalls = append(delta.ToolCalls, transform.BackendStreamToolCallDelta{
			Index:        tc.Index,
			ID:           tc.ID,
			Name:         tc.Function.Name,
			ArgsFragment: tc.Function.Arguments,
		})
	}
	if wire.Usage != nil {
		delta.Usage = &transform.Usage{InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens}
	}
	return delta, true, nil
}
