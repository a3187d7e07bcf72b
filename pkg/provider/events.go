package provider

import "github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"

// StopReason reports why a turn ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage counts the tokens consumed by one turn.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates another turn's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// TurnEvent is one event of a streamed assistant turn.
type TurnEvent interface {
	turnEvent()
}

// TextDeltaEvent carries an incremental chunk of assistant text.
type TextDeltaEvent struct {
	Text string
}

// ToolCallEvent carries a complete tool call the assistant requested.
type ToolCallEvent struct {
	Call tools.ToolCall
}

// ToolApprovalEvent replaces ToolCallEvent for tools annotated as requiring
// confirmation. The caller decides whether to run or reject the call.
type ToolApprovalEvent struct {
	Call tools.ToolCall
}

// FinalEvent closes the turn. It is emitted exactly once, after all deltas
// and tool calls, and carries the full assistant text.
type FinalEvent struct {
	Text       string
	StopReason StopReason
	Usage      Usage
}

func (*TextDeltaEvent) turnEvent()    {}
func (*ToolCallEvent) turnEvent()     {}
func (*ToolApprovalEvent) turnEvent() {}
func (*FinalEvent) turnEvent()        {}
