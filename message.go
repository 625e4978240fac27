package coastline

import "encoding/json"

// Role identifies the author of a message in the planning log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a request from the generation service to execute one tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Kind  ToolKind        `json:"kind"`
	Input json.RawMessage `json:"input"`
}

// Message is one entry in a thread's conversation/tool-exchange log. The log
// is ordered and append-only: nodes emit new messages, they never rewrite
// history.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Set on RoleTool messages only.
	ToolCallID string   `json:"tool_call_id,omitempty"`
	ToolKind   ToolKind `json:"tool_kind,omitempty"`
	IsError    bool     `json:"is_error,omitempty"`
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// LastAssistantMessage returns the most recent assistant message, or a zero
// message and false when none exists.
func LastAssistantMessage(log []Message) (Message, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == RoleAssistant {
			return log[i], true
		}
	}
	return Message{}, false
}

func copyMessages(log []Message) []Message {
	out := make([]Message, len(log))
	copy(out, log)
	return out
}
