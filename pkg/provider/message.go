package provider

import "github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"

// MessageRole identifies the author of a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// Message is one entry of a session transcript. Assistant messages may carry
// tool calls; tool messages answer one call, correlated by ToolCallID.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []tools.ToolCall
	ToolCallID string
	IsError    bool
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: MessageRoleUser, Content: content}
}

// AssistantMessage builds an assistant message, optionally with tool calls.
func AssistantMessage(content string, calls ...tools.ToolCall) Message {
	return Message{Role: MessageRoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage builds the tool message answering the given call.
func ToolResultMessage(callID, content string, isError bool) Message {
	return Message{Role: MessageRoleTool, Content: content, ToolCallID: callID, IsError: isError}
}
