package transform

import (
	"encoding/json"
	"strings"

	"github.com/relaykit/clauded/internal/config"
	"github.com/relaykit/clauded/internal/registry"
)

// toolAccumulator buffers argument fragments for one client-visible
// tool_use block until they parse as a whole JSON object.
type toolAccumulator struct {
	clientIndex int
	name        string
	buffer      strings.Builder
	emitted     bool
}

// StreamState accumulates one in-flight streamed backend response into the
// client's message_start...message_stop event sequence. Build one with
// NewStreamState (the zero value has no registry and no accumulator map);
// each streamed response gets its own StreamState.
type StreamState struct {
	reg      *registry.Registry
	osFamily config.OSFamily

	started bool
	nextIdx int

	openIndex int    // client index of the currently open block, -1 if none
	openType  string // "text" or "tool_use"

	textBlockIndex int // -1 until a text block has been opened at least once

	toolByBackendIndex map[int]*toolAccumulator

	usage Usage
}

// NewStreamState builds a fresh accumulator for one streamed response.
func NewStreamState(reg *registry.Registry, osFamily config.OSFamily) *StreamState {
	return &StreamState{
		reg:                reg,
		osFamily:           osFamily,
		openIndex:          -1,
		textBlockIndex:     -1,
		toolByBackendIndex: map[int]*toolAccumulator{},
	}
}

// ProcessDelta feeds one backend stream chunk and returns the client events
// it produces, in order. Call with a final delta whose FinishReason is
// non-empty to close the stream.
func (s *StreamState) ProcessDelta(delta BackendStreamDelta) []ClientEvent {
	var events []ClientEvent

	if !s.started {
		s.started = true
		events = append(events, ClientEvent{Event: "message_start", Data: map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"type":    "message",
				"role":    "assistant",
				"content": []any{},
			},
		}})
	}

	if delta.ContentFragment != "" {
		events = append(events, s.emitText(delta.ContentFragment)...)
	}

	for _, tc := range delta.ToolCalls {
		events = append(events, s.emitToolFragment(tc)...)
	}

	if delta.Usage != nil {
		s.usage = *delta.Usage
	}

	if delta.FinishReason != "" {
		events = append(events, s.closeOpenBlock()...)
		events = append(events, ClientEvent{Event: "message_delta", Data: map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": mapFinishReason(delta.FinishReason)},
			"usage": map[string]any{"input_tokens": s.usage.InputTokens, "output_tokens": s.usage.OutputTokens},
		}})
		events = append(events, ClientEvent{Event: "message_stop", Data: map[string]any{"type": "message_stop"}})
	}

	return events
}

func (s *StreamState) emitText(fragment string) []ClientEvent {
	var events []ClientEvent

	if s.openType != "text" {
		events = append(events, s.closeOpenBlock()...)
		s.textBlockIndex = s.nextIdx
		s.openIndex = s.nextIdx
		s.openType = "text"
		s.nextIdx++
		events = append(events, ClientEvent{Event: "content_block_start", Data: map[string]any{
			"type":  "content_block_start",
			"index": s.openIndex,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		}})
	}

	events = append(events, ClientEvent{Event: "content_block_delta", Data: map[string]any{
		"type":  "content_block_delta",
		"index": s.openIndex,
		"delta": map[string]any{"type": "text_delta", "text": fragment},
	}})
	return events
}

func (s *StreamState) emitToolFragment(tc BackendStreamToolCallDelta) []ClientEvent {
	var events []ClientEvent

	acc, exists := s.toolByBackendIndex[tc.Index]
	if !exists {
		events = append(events, s.closeOpenBlock()...)

		name, _, _ := s.reg.CanonicalArgs(tc.Name, map[string]any{}, s.osFamily)
		acc = &toolAccumulator{clientIndex: s.nextIdx, name: name}
		s.toolByBackendIndex[tc.Index] = acc
		s.openIndex = s.nextIdx
		s.openType = "tool_use"
		s.nextIdx++

		events = append(events, ClientEvent{Event: "content_block_start", Data: map[string]any{
			"type":  "content_block_start",
			"index": acc.clientIndex,
			"content_block": map[string]any{
				"type": "tool_use",
				"id":   StableToolUseID(tc.ID),
				"name": name,
			},
		}})
	}

	acc.buffer.WriteString(tc.ArgsFragment)

	if !acc.emitted {
		var rawArgs map[string]any
		if json.Unmarshal([]byte(acc.buffer.String()), &rawArgs) == nil {
			acc.emitted = true

			var input any
			if _, canonicalArgs, err := s.reg.CanonicalArgs(acc.name, rawArgs, s.osFamily); err == nil {
				input = canonicalArgs
			} else {
				input = map[string]any{
					"error":         true,
					"raw_arguments": acc.buffer.String(),
				}
			}

			events = append(events, ClientEvent{Event: "content_block_delta", Data: map[string]any{
				"type":  "content_block_delta",
				"index": acc.clientIndex,
				"delta": map[string]any{"type": "input_json_delta", "input": input},
			}})
		}
	}

	return events
}

// closeOpenBlock emits a content_block_stop for whatever block is currently
// open, if any.
func (s *StreamState) closeOpenBlock() []ClientEvent {
	if s.openIndex == -1 {
		return nil
	}
	idx := s.openIndex
	s.openIndex = -1
	s.openType = ""
	return []ClientEvent{{Event: "content_block_stop", Data: map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	}}}
}
