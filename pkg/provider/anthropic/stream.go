package anthropic

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// blockState accumulates one tool_use content block while its input JSON
// streams in fragments.
type blockState struct {
	id   string
	name string
	args strings.Builder
}

// turnStream adapts the SSE event stream to provider.TurnStream. Tool calls
// are held back until their content block stops so the emitted call always
// carries complete arguments.
type turnStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	spec   provider.SessionSpec

	text       strings.Builder
	blocks     map[int64]*blockState
	usage      provider.Usage
	stopReason provider.StopReason
	queue      []provider.TurnEvent
	done       bool
}

func newTurnStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], spec provider.SessionSpec) *turnStream {
	return &turnStream{
		stream:     stream,
		spec:       spec,
		blocks:     make(map[int64]*blockState),
		stopReason: provider.StopReasonEndTurn,
	}
}

func (s *turnStream) Recv() (provider.TurnEvent, error) {
	for {
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue = s.queue[1:]
			return event, nil
		}
		if s.done {
			return nil, io.EOF
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return nil, fmt.Errorf("anthropic stream: %w", err)
			}
			// Stream ended without message_stop; close the turn with what
			// accumulated so far.
			s.finish()
			continue
		}
		s.handle(s.stream.Current())
	}
}

func (s *turnStream) handle(event anthropic.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		s.usage.InputTokens = ev.Message.Usage.InputTokens

	case anthropic.ContentBlockStartEvent:
		if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			s.blocks[ev.Index] = &blockState{id: block.ID, name: block.Name}
			slog.Debug("Anthropic tool_use block started", "tool", block.Name, "call_id", block.ID)
		}

	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			s.text.WriteString(delta.Text)
			s.queue = append(s.queue, &provider.TextDeltaEvent{Text: delta.Text})
		case anthropic.InputJSONDelta:
			if block, ok := s.blocks[ev.Index]; ok {
				block.args.WriteString(delta.PartialJSON)
			}
		}

	case anthropic.ContentBlockStopEvent:
		block, ok := s.blocks[ev.Index]
		if !ok {
			return
		}
		delete(s.blocks, ev.Index)
		args := block.args.String()
		if args == "" {
			args = "{}"
		}
		call := tools.ToolCall{
			ID:       block.id,
			Type:     "function",
			Function: tools.FunctionCall{Name: block.name, Arguments: args},
		}
		if s.spec.ApprovalRequired(block.name) {
			s.queue = append(s.queue, &provider.ToolApprovalEvent{Call: call})
		} else {
			s.queue = append(s.queue, &provider.ToolCallEvent{Call: call})
		}

	case anthropic.MessageDeltaEvent:
		s.usage.OutputTokens = ev.Usage.OutputTokens
		switch string(ev.Delta.StopReason) {
		case "tool_use":
			s.stopReason = provider.StopReasonToolUse
		case "max_tokens":
			s.stopReason = provider.StopReasonMaxTokens
		case "end_turn", "stop_sequence":
			s.stopReason = provider.StopReasonEndTurn
		}

	case anthropic.MessageStopEvent:
		s.finish()

	default:
		slog.Debug("Ignoring Anthropic stream event", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *turnStream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.queue = append(s.queue, &provider.FinalEvent{
		Text:       s.text.String(),
		StopReason: s.stopReason,
		Usage:      s.usage,
	})
}

func (s *turnStream) Close() error {
	return s.stream.Close()
}
