package transform

import (
	"testing"

	"github.com/relaykit/clauded/internal/config"
	"github.com/relaykit/clauded/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *registry.Registry {
	return registry.Initialize()
}

// S1 — plain text, non-streaming.
func TestToClientFinal_S1PlainText(t *testing.T) {
	resp := &BackendResponse{
		Choices: []BackendChoice{{
			Message:      BackendMessage{Content: "hi"},
			FinishReason: "stop",
		}},
	}
	out, err := ToClientFinal(resp, testRegistry(), config.OSUnix)
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockText, out.Content[0].Type)
	assert.Equal(t, "hi", out.Content[0].Text)
	assert.Equal(t, "end_turn", out.StopReason)
}

// S2 — tool round trip via to_client_final: backend emits read_file with
// {"path": "/tmp/x"}, client sees canonicalised file_path.
func TestToClientFinal_S2ToolRoundTrip(t *testing.T) {
	resp := &BackendResponse{
		Choices: []BackendChoice{{
			Message: BackendMessage{
				ToolCalls: []BackendToolCall{{ID: "c1", Name: "read_file", Arguments: `{"path":"/tmp/x"}`}},
			},
			FinishReason: "tool_calls",
		}},
	}
	out, err := ToClientFinal(resp, testRegistry(), config.OSUnix)
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	block := out.Content[0]
	assert.Equal(t, BlockToolUse, block.Type)
	assert.Equal(t, "read_file", block.ToolName)
	assert.Equal(t, "/tmp/x", block.Input["file_path"])
	assert.Equal(t, "tool_use", out.StopReason)
}

// S3 — malformed tool arguments self-healing via to_client_final.
func TestToClientFinal_S3TodoSelfHealing(t *testing.T) {
	resp := &BackendResponse{
		Choices: []BackendChoice{{
			Message: BackendMessage{
				ToolCalls: []BackendToolCall{{ID: "c1", Name: "manage_todos", Arguments: `{"tasks":["write spec","review"]}`}},
			},
			FinishReason: "tool_calls",
		}},
	}
	out, err := ToClientFinal(resp, testRegistry(), config.OSUnix)
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	block := out.Content[0]
	assert.Equal(t, "manage_todos", block.ToolName)

	todos := block.Input["todos"].([]any)
	require.Len(t, todos, 2)
	first := todos[0].(map[string]any)
	assert.Equal(t, "write spec", first["content"])
	assert.Equal(t, "writing spec", first["activeForm"])
}

// Invariant 1: every tool_use block's Input is JSON-parseable — trivially
// true here since Input is already a decoded map, but malformed backend
// argument strings must fall back to a text block instead of a broken
// tool_use block.
func TestToClientFinal_MalformedJSONFallsBackToText(t *testing.T) {
	resp := &BackendResponse{
		Choices: []BackendChoice{{
			Message: BackendMessage{
				ToolCalls: []BackendToolCall{{ID: "c1", Name: "read_file", Arguments: `{"file_path`}},
			},
			FinishReason: "tool_calls",
		}},
	}
	out, err := ToClientFinal(resp, testRegistry(), config.OSUnix)
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockText, out.Content[0].Type)
}

func TestToClientFinal_InvalidArgsCarriesRawArguments(t *testing.T) {
	resp := &BackendResponse{
		Choices: []BackendChoice{{
			Message: BackendMessage{
				// write_file requires file_path and content; only file_path given.
				ToolCalls: []BackendToolCall{{ID: "c1", Name: "write_file", Arguments: `{"file_path":"/tmp/x"}`}},
			},
			FinishReason: "tool_calls",
		}},
	}
	out, err := ToClientFinal(resp, testRegistry(), config.OSUnix)
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	block := out.Content[0]
	assert.Equal(t, BlockToolUse, block.Type)
	assert.Equal(t, true, block.Input["error"])
	assert.Contains(t, block.Input["raw_arguments"], "file_path")
}

func TestStableToolUseID_DeterministicAcrossRetries(t *testing.T) {
	a := StableToolUseID("backend-call-42")
	b := StableToolUseID("backend-call-42")
	c := StableToolUseID("backend-call-43")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

// S5 — streaming with tool use.
func TestStreamState_S5StreamingWithToolUse(t *testing.T) {
	s := NewStreamState(testRegistry(), config.OSUnix)

	var allEvents []ClientEvent
	allEvents = append(allEvents, s.ProcessDelta(BackendStreamDelta{ContentFragment: "ok "})...)
	allEvents = append(allEvents, s.ProcessDelta(BackendStreamDelta{
		ToolCalls: []BackendStreamToolCallDelta{{Index: 0, ID: "c1", Name: "edit_file", ArgsFragment: `{"pa`}},
	})...)
	allEvents = append(allEvents, s.ProcessDelta(BackendStreamDelta{
		ToolCalls: []BackendStreamToolCallDelta{{Index: 0, ArgsFragment: `th":"/a","new_string":"b","old_string":"a"}`}},
	})...)
	allEvents = append(allEvents, s.ProcessDelta(BackendStreamDelta{FinishReason: "tool_calls"})...)

	var eventNames []string
	for _, e := range allEvents {
		eventNames = append(eventNames, e.Event)
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start", // text, index 0
		"content_block_delta", // "ok "
		"content_block_stop",  // close text
		"content_block_start", // tool_use, index 1
		"content_block_delta", // full JSON input
		"content_block_stop",  // close tool_use
		"message_delta",
		"message_stop",
	}, eventNames)

	// Exactly one content_block_delta for the tool_use block, carrying the
	// full parsed+canonicalised object, never a fragment.
	toolDelta := allEvents[5]
	delta := toolDelta.Data["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", delta["type"])
	input := delta["input"].(map[string]any)
	assert.Equal(t, "/a", input["file_path"])
	assert.Equal(t, "b", input["new_string"])
	assert.Equal(t, "a", input["old_string"])

	startEvent := allEvents[4]
	block := startEvent.Data["content_block"].(map[string]any)
	assert.Equal(t, "edit_file", block["name"])

	msgDelta := allEvents[7].Data["delta"].(map[string]any)
	assert.Equal(t, "tool_use", msgDelta["stop_reason"])
}

// Invariant 4: never emit a content_block_delta for a tool_use block whose
// accumulated JSON has not parsed at least once.
func TestStreamState_NoDeltaUntilJSONValid(t *testing.T) {
	s := NewStreamState(testRegistry(), config.OSUnix)
	events := s.ProcessDelta(BackendStreamDelta{
		ToolCalls: []BackendStreamToolCallDelta{{Index: 0, ID: "c1", Name: "read_file", ArgsFragment: `{"file_p`}},
	})
	for _, e := range events {
		if e.Event == "content_block_delta" {
			t.Fatalf("unexpected content_block_delta before JSON was valid: %+v", e)
		}
	}
}

// Invariant 4 + §7 self-healing: JSON that parses but fails canonicalisation
// (a required field the model never supplied) must still get exactly one
// content_block_delta, carrying the {"error":true,"raw_arguments":...}
// payload, mirroring toolCallToBlock's non-streaming behaviour.
func TestStreamState_InvalidArgsSelfHealingDelta(t *testing.T) {
	s := NewStreamState(testRegistry(), config.OSUnix)

	// write_file requires file_path and content; only file_path given.
	events := s.ProcessDelta(BackendStreamDelta{
		ToolCalls: []BackendStreamToolCallDelta{{Index: 0, ID: "c1", Name: "write_file", ArgsFragment: `{"file_path":"/tmp/x"}`}},
	})

	var deltaEvent *ClientEvent
	for i := range events {
		if events[i].Event == "content_block_delta" {
			deltaEvent = &events[i]
		}
	}
	require.NotNil(t, deltaEvent, "expected a content_block_delta once the buffered JSON parsed")

	delta := deltaEvent.Data["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", delta["type"])
	input := delta["input"].(map[string]any)
	assert.Equal(t, true, input["error"])
	assert.Contains(t, input["raw_arguments"], "file_path")
}

// Invariant 6: to_backend is stable under merging of consecutive text
// blocks.
func TestToBackend_MergesConsecutiveTextBlocksStably(t *testing.T) {
	reg := testRegistry()

	merged := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Turns: []Turn{{
			Role:    "user",
			Content: []ContentBlock{{Type: BlockText, Text: "hello\nworld"}},
		}},
	}
	unmerged := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Turns: []Turn{{
			Role: "user",
			Content: []ContentBlock{
				{Type: BlockText, Text: "hello"},
				{Type: BlockText, Text: "world"},
			},
		}},
	}

	a, err := ToBackend(merged, reg, config.OSUnix, "", GroqStyleMaxTokens)
	require.NoError(t, err)
	b, err := ToBackend(unmerged, reg, config.OSUnix, "", GroqStyleMaxTokens)
	require.NoError(t, err)

	assert.Equal(t, a.Messages[0].Content, b.Messages[0].Content)
}

// Invariant 2: tool_result must reference an id from an earlier tool_use.
func TestToBackend_RejectsUnmatchedToolResult(t *testing.T) {
	msg := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Turns: []Turn{{
			Role: "user",
			Content: []ContentBlock{{
				Type:         BlockToolResult,
				ToolResultID: "call_does_not_exist",
				Text:         "42",
			}},
		}},
	}
	_, err := ToBackend(msg, testRegistry(), config.OSUnix, "", GroqStyleMaxTokens)
	require.Error(t, err)
}

func TestToBackend_ToolResultAfterMatchingToolUseSucceeds(t *testing.T) {
	msg := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Turns: []Turn{
			{
				Role: "assistant",
				Content: []ContentBlock{{
					Type: BlockToolUse, ToolUseID: "call_1", ToolName: "read_file",
					Input: map[string]any{"file_path": "/tmp/x"},
				}},
			},
			{
				Role: "user",
				Content: []ContentBlock{{
					Type: BlockToolResult, ToolResultID: "call_1", Text: "contents",
				}},
			},
		},
	}
	req, err := ToBackend(msg, testRegistry(), config.OSUnix, "", GroqStyleMaxTokens)
	require.NoError(t, err)

	var toolMsg *BackendMessage
	for i := range req.Messages {
		if req.Messages[i].Role == "tool" {
			toolMsg = &req.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "contents", toolMsg.Content)
}

// Design Notes §9: the Transformer must be total over Turn.Role's variant
// set {user, assistant, system, tool_result}. A top-level tool_result-role
// turn (as opposed to a tool_result block nested inside a user turn) must
// not be silently dropped.
func TestToBackend_TopLevelToolResultRoleFoldsIntoToolMessage(t *testing.T) {
	msg := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Turns: []Turn{
			{
				Role: "assistant",
				Content: []ContentBlock{{
					Type: BlockToolUse, ToolUseID: "call_1", ToolName: "read_file",
					Input: map[string]any{"file_path": "/tmp/x"},
				}},
			},
			{
				Role: "tool_result",
				Content: []ContentBlock{{
					Type: BlockToolResult, ToolResultID: "call_1", Text: "contents",
				}},
			},
		},
	}
	req, err := ToBackend(msg, testRegistry(), config.OSUnix, "", GroqStyleMaxTokens)
	require.NoError(t, err)

	var toolMsg *BackendMessage
	for i := range req.Messages {
		if req.Messages[i].Role == "tool" {
			toolMsg = &req.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "contents", toolMsg.Content)
}

// A top-level tool_result-role turn referencing an unknown tool_use id must
// be rejected, same as the nested-under-user case.
func TestToBackend_TopLevelToolResultRoleRejectsUnmatchedID(t *testing.T) {
	msg := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Turns: []Turn{{
			Role: "tool_result",
			Content: []ContentBlock{{
				Type: BlockToolResult, ToolResultID: "call_does_not_exist", Text: "42",
			}},
		}},
	}
	_, err := ToBackend(msg, testRegistry(), config.OSUnix, "", GroqStyleMaxTokens)
	require.Error(t, err)
}

func TestToBackend_CapsMaxTokensToCeiling(t *testing.T) {
	msg := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 999999,
		Turns:     []Turn{{Role: "user", Content: []ContentBlock{{Type: BlockText, Text: "hi"}}}},
	}
	req, err := ToBackend(msg, testRegistry(), config.OSUnix, "", GroqStyleMaxTokens)
	require.NoError(t, err)
	assert.Equal(t, GroqStyleMaxTokens, req.MaxTokens)
}

// Round-trip law: to_backend after to_client_final on plain-text-only
// assistant turns is the identity modulo whitespace.
func TestRoundTrip_ToBackendAfterToClientFinal_PlainText(t *testing.T) {
	resp := &BackendResponse{
		Choices: []BackendChoice{{Message: BackendMessage{Content: "hello there"}, FinishReason: "stop"}},
	}
	clientResp, err := ToClientFinal(resp, testRegistry(), config.OSUnix)
	require.NoError(t, err)

	var blocks []ContentBlock
	for _, b := range clientResp.Content {
		blocks = append(blocks, b)
	}
	msg := ClientMessage{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Turns:     []Turn{{Role: "assistant", Content: blocks}},
	}
	req, err := ToBackend(msg, testRegistry(), config.OSUnix, "", GroqStyleMaxTokens)
	require.NoError(t, err)
	assert.Equal(t, "hello there", req.Messages[0].Content)
}
