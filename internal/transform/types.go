// Package transform implements the pure, side-effect-free conversion
// between the client's Anthropic-shaped messages and a backend's
// OpenAI-style chat-completion schema, grounded on the teacher's
// providers/base.go (TransformAnthropicToOpenAI, ConvertToAnthropic,
// ConvertOpenAIStyleToAnthropicStream) and openai.go's streaming state
// machine.
package transform

// Block kinds a Turn's content may carry.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one entry of a Turn's content sequence. Only the fields
// relevant to its Type are populated.
type ContentBlock struct {
	Type string

	// BlockText
	Text string

	// BlockToolUse
	ToolUseID string
	ToolName  string
	Input     map[string]any

	// BlockToolResult
	ToolResultID string // the tool_use id this result answers
	IsError      bool
}

// Turn is one message in the client's conversation.
type Turn struct {
	Role    string // user, assistant, system, tool_result (per spec's Turn.Role enum)
	Content []ContentBlock
}

// ToolDeclaration is a client-declared tool; the proxy never forwards its
// schema. Its presence signals that tools are in play, and its name feeds
// the Selector's web-search-tool rule.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ClientMessage is the parsed body of an incoming POST /v1/messages request.
type ClientMessage struct {
	Model       string
	Turns       []Turn
	System      string
	Tools       []ToolDeclaration
	MaxTokens   int
	Temperature *float64
	Stream      bool
}

// ClientResponse is the outgoing non-streaming response shape.
type ClientResponse struct {
	ID         string
	Role       string
	Content    []ContentBlock
	StopReason string
	Usage      Usage
}

// Usage carries token counts; both fields are zero when the backend didn't
// report usage.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// BackendToolCall is one function call a backend assistant message emits.
type BackendToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON text, exactly as the backend sent it
}

// BackendMessage is one message in the backend's flatter schema.
type BackendMessage struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCalls  []BackendToolCall // only on assistant messages
	ToolCallID string            // only on tool messages
}

// BackendTool is the function descriptor sent to the backend.
type BackendTool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// BackendRequest is the outgoing OpenAI-style chat-completion body.
type BackendRequest struct {
	Model           string
	Messages        []BackendMessage
	Tools           []BackendTool
	ToolChoice      string
	MaxTokens       int
	Temperature     *float64
	Stream          bool
	ReasoningEffort string // "", low, medium, high
}

// BackendChoice is one entry of a non-streaming backend response.
type BackendChoice struct {
	Message      BackendMessage
	FinishReason string
}

// BackendResponse is a whole, non-streaming backend reply.
type BackendResponse struct {
	Choices []BackendChoice
	Usage   Usage
}

// BackendStreamToolCallDelta is one incremental tool-call fragment inside a
// streamed backend delta.
type BackendStreamToolCallDelta struct {
	Index        int
	ID           string // set only when the call is introduced
	Name         string // set only when the call is introduced
	ArgsFragment string // appended to the accumulator for Index
}

// BackendStreamDelta is one SSE chunk from the backend.
type BackendStreamDelta struct {
	ContentFragment string
	ToolCalls       []BackendStreamToolCallDelta
	FinishReason    string // empty until the terminal chunk
	Usage           *Usage // set only on the terminal chunk, if the backend reports it
}

// ClientEvent is one server-sent event emitted to the client during
// streaming, per §4.2's message_start...message_stop sequence.
type ClientEvent struct {
	Event string
	Data  map[string]any
}
