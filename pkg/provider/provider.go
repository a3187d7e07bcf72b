package provider

import (
	"context"
	"strings"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// Service creates model sessions. Implementations wrap one provider API and
// are bound to a single model at construction.
type Service interface {
	CreateSession(ctx context.Context, spec SessionSpec) (Handle, error)
}

// SessionSpec describes one unit's session: its instructions, the tools it
// may call, and the output contract it must honor.
type SessionSpec struct {
	SystemPrompt string
	Tools        []tools.Tool
	Contract     *contract.Contract // nil means free text
	Temperature  *float64
	MaxTokens    int64
}

// EffectiveSystemPrompt returns the system prompt with the contract's
// formatting instructions appended when a contract is set.
func (s SessionSpec) EffectiveSystemPrompt() string {
	if s.Contract == nil {
		return s.SystemPrompt
	}
	prompt := strings.TrimSpace(s.SystemPrompt)
	if prompt == "" {
		return s.Contract.Instructions()
	}
	return prompt + "\n\n" + s.Contract.Instructions()
}

// ApprovalRequired reports whether the named tool is annotated as needing
// user confirmation before it runs.
func (s SessionSpec) ApprovalRequired(name string) bool {
	for i := range s.Tools {
		if s.Tools[i].Name == name {
			return s.Tools[i].Annotations.RequiresApproval
		}
	}
	return false
}

// Handle is a live session. Handles are stateless between turns: callers pass
// the full message history on every call.
type Handle interface {
	StreamTurn(ctx context.Context, messages []Message) (TurnStream, error)
}

// TurnStream yields the events of a single assistant turn. Recv returns
// io.EOF after the FinalEvent has been delivered.
type TurnStream interface {
	Recv() (TurnEvent, error)
	Close() error
}
