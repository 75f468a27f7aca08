package llm

import "encoding/json"

// Message roles understood by every provider adapter.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message in a conversation.
//
// An assistant message may carry tool calls; the tool message that follows it
// carries one result per call, keyed by call ID.
type Message struct {
	Role    string       `json:"role"`
	Content string       `json:"content,omitempty"`
	Tools   []ToolCall   `json:"tool_calls,omitempty"`
	Results []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall contains the function name and arguments for a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the output of one tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Tool describes a tool that can be provided to the model.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function describes a callable function including its parameters schema.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one completion request.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature *float32
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EventKind discriminates StreamEvent.
type EventKind int

const (
	EventText EventKind = iota
	EventToolCall
	EventError
)

// StreamEvent is one item of a completion stream: a text fragment, a complete
// tool-call request, or a terminal error. The channel is closed after the last event.
type StreamEvent struct {
	Kind EventKind
	Text string
	Call *ToolCall
	Err  error
}

// NewToolCall builds a function tool call.
func NewToolCall(id, name string, args json.RawMessage) ToolCall {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
}

// NewTool builds a function tool schema.
func NewTool(name, description string, parameters json.RawMessage) Tool {
	return Tool{Type: "function", Function: Function{Name: name, Description: description, Parameters: parameters}}
}

// RawArgs converts provider-supplied argument text into a JSON value. Text that
// is not valid JSON is kept as a JSON string so downstream decoding fails cleanly.
func RawArgs(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
