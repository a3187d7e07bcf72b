package openai

import (
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// pendingCall accumulates one tool call across stream fragments. The first
// fragment carries id and name; later fragments append argument text keyed by
// the same index.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// turnStream adapts a chat completion stream to provider.TurnStream. Tool
// calls are emitted when the finish chunk arrives, the FinalEvent after the
// usage chunk has been seen.
type turnStream struct {
	stream *openai.ChatCompletionStream
	spec   provider.SessionSpec

	text       strings.Builder
	byIndex    map[int]*pendingCall
	order      []int
	flushed    bool
	usage      provider.Usage
	stopReason provider.StopReason
	queue      []provider.TurnEvent
	done       bool
}

func newTurnStream(stream *openai.ChatCompletionStream, spec provider.SessionSpec) *turnStream {
	return &turnStream{
		stream:     stream,
		spec:       spec,
		byIndex:    make(map[int]*pendingCall),
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

		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream: %w", err)
		}
		s.handle(&response)
	}
}

func (s *turnStream) handle(response *openai.ChatCompletionStreamResponse) {
	if response.Usage != nil {
		s.usage.InputTokens = int64(response.Usage.PromptTokens)
		s.usage.OutputTokens = int64(response.Usage.CompletionTokens)
	}
	if len(response.Choices) == 0 {
		return
	}

	choice := response.Choices[0]
	if choice.Delta.Content != "" {
		s.text.WriteString(choice.Delta.Content)
		s.queue = append(s.queue, &provider.TextDeltaEvent{Text: choice.Delta.Content})
	}
	for _, fragment := range choice.Delta.ToolCalls {
		index := 0
		if fragment.Index != nil {
			index = *fragment.Index
		}
		call, ok := s.byIndex[index]
		if !ok {
			call = &pendingCall{}
			s.byIndex[index] = call
			s.order = append(s.order, index)
		}
		if fragment.ID != "" {
			call.id = fragment.ID
		}
		if fragment.Function.Name != "" {
			call.name = fragment.Function.Name
		}
		call.args.WriteString(fragment.Function.Arguments)
	}

	if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			s.stopReason = provider.StopReasonToolUse
		case openai.FinishReasonLength:
			s.stopReason = provider.StopReasonMaxTokens
		default:
			s.stopReason = provider.StopReasonEndTurn
		}
		s.flushToolCalls()
	}
}

// flushToolCalls emits the accumulated calls in index order, each with its
// complete arguments.
func (s *turnStream) flushToolCalls() {
	if s.flushed {
		return
	}
	s.flushed = true
	for _, index := range s.order {
		pending := s.byIndex[index]
		args := pending.args.String()
		if args == "" {
			args = "{}"
		}
		call := tools.ToolCall{
			ID:       pending.id,
			Type:     "function",
			Function: tools.FunctionCall{Name: pending.name, Arguments: args},
		}
		if s.spec.ApprovalRequired(pending.name) {
			s.queue = append(s.queue, &provider.ToolApprovalEvent{Call: call})
		} else {
			s.queue = append(s.queue, &provider.ToolCallEvent{Call: call})
		}
	}
}

func (s *turnStream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.flushToolCalls()
	s.queue = append(s.queue, &provider.FinalEvent{
		Text:       s.text.String(),
		StopReason: s.stopReason,
		Usage:      s.usage,
	})
}

func (s *turnStream) Close() error {
	return s.stream.Close()
}
