package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/clauded/internal/transform"
)

func TestDecodeClientMessage_RequiresModel(t *testing.T) {
	_, err := decodeClientMessage([]byte(`{"messages": []}`))
	require.Error(t, err)
}

func TestDecodeClientMessage_RejectsInvalidJSON(t *testing.T) {
	_, err := decodeClientMessage([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodeClientMessage_StringContentShorthand(t *testing.T) {
	msg, err := decodeClientMessage([]byte(`{
		"model": "claude-sonnet",
		"messages": [{"role": "user", "content": "hello there"}]
	}`))
	require.NoError(t, err)
	require.Len(t, msg.Turns, 1)
	require.Len(t, msg.Turns[0].Content, 1)
	assert.Equal(t, transform.BlockText, msg.Turns[0].Content[0].Type)
	assert.Equal(t, "hello there", msg.Turns[0].Content[0].Text)
}

func TestDecodeClientMessage_BlockArrayContent(t *testing.T) {
	msg, err := decodeClientMessage([]byte(`{
		"model": "claude-sonnet",
		"messages": [{
			"role": "assistant",
			"content": [
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "call_1", "name": "read_file", "input": {"file_path": "/tmp/x"}}
			]
		}]
	}`))
	require.NoError(t, err)
	require.Len(t, msg.Turns[0].Content, 2)
	assert.Equal(t, transform.BlockText, msg.Turns[0].Content[0].Type)
	assert.Equal(t, transform.BlockToolUse, msg.Turns[0].Content[1].Type)
	assert.Equal(t, "read_file", msg.Turns[0].Content[1].ToolName)
	assert.Equal(t, "/tmp/x", msg.Turns[0].Content[1].Input["file_path"])
}

func TestDecodeClientMessage_ToolResultContentAsStringOrBlocks(t *testing.T) {
	msg, err := decodeClientMessage([]byte(`{
		"model": "claude-sonnet",
		"messages": [{
			"role": "user",
			"content": [
				{"type": "tool_result", "tool_use_id": "call_1", "content": "plain string result"},
				{"type": "tool_result", "tool_use_id": "call_2", "content": [{"type": "text", "text": "block"}, {"type": "text", "text": " result"}]}
			]
		}]
	}`))
	require.NoError(t, err)
	require.Len(t, msg.Turns[0].Content, 2)
	assert.Equal(t, "plain string result", msg.Turns[0].Content[0].Text)
	assert.Equal(t, "call_1", msg.Turns[0].Content[0].ToolResultID)
	assert.Equal(t, "block result", msg.Turns[0].Content[1].Text)
}

func TestDecodeClientMessage_RejectsUnknownBlockType(t *testing.T) {
	_, err := decodeClientMessage([]byte(`{
		"model": "claude-sonnet",
		"messages": [{"role": "user", "content": [{"type": "mystery"}]}]
	}`))
	require.Error(t, err)
}

func TestDecodeClientMessage_ParsesToolsAndSystem(t *testing.T) {
	msg, err := decodeClientMessage([]byte(`{
		"model": "claude-sonnet",
		"system": "you are a helpful assistant",
		"max_tokens": 512,
		"stream": true,
		"tools": [{"name": "read_file", "description": "read a file", "input_schema": {"type": "object"}}],
		"messages": [{"role": "user", "content": "hi"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "you are a helpful assistant", msg.System)
	assert.Equal(t, 512, msg.MaxTokens)
	assert.True(t, msg.Stream)
	require.Len(t, msg.Tools, 1)
	assert.Equal(t, "read_file", msg.Tools[0].Name)
}
