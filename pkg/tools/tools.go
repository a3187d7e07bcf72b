package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FunctionCall carries the provider-visible function name and raw JSON
// arguments of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one model-issued tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// EnsureCallID assigns a fresh id when the provider did not supply one. Every
// invocation must carry a caller-visible call id for telemetry correlation.
func EnsureCallID(call *ToolCall) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
}

// ToolCallResult is what a tool handler returns: output text for the model and
// an optional structured display payload for the caller.
type ToolCallResult struct {
	Output  string `json:"output"`
	Display any    `json:"display,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// ResultError builds a tool result that reports a handler-level failure to the
// model without failing the invocation.
func ResultError(output string) *ToolCallResult {
	return &ToolCallResult{Output: output, IsError: true}
}

func ResultErrorf(format string, args ...any) *ToolCallResult {
	return ResultError(fmt.Sprintf(format, args...))
}

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, toolCall ToolCall) (*ToolCallResult, error)

// NewHandler adapts a typed handler into a ToolHandler by unmarshalling the
// call's JSON arguments into T.
func NewHandler[T any](fn func(ctx context.Context, params T) (*ToolCallResult, error)) ToolHandler {
	return func(ctx context.Context, toolCall ToolCall) (*ToolCallResult, error) {
		var params T
		if args := toolCall.Function.Arguments; args != "" {
			if err := json.Unmarshal([]byte(args), &params); err != nil {
				return nil, fmt.Errorf("parse %s arguments: %w", toolCall.Function.Name, err)
			}
		}
		return fn(ctx, params)
	}
}

// ToolAnnotations carry display and safety hints. RequiresApproval marks
// tools the generation service must hold for explicit confirmation before the
// runner executes them.
type ToolAnnotations struct {
	Title            string `json:"title,omitempty"`
	ReadOnlyHint     bool   `json:"readOnlyHint,omitempty"`
	RequiresApproval bool   `json:"requiresApproval,omitempty"`
}

// Tool is one callable tool definition: name, JSON schema for its parameters,
// and the handler that executes it.
type Tool struct {
	Name        string
	Category    string
	Description string
	Parameters  any
	Handler     ToolHandler
	Annotations ToolAnnotations
}

// ErrorKind classifies a failed tool invocation in telemetry.
type ErrorKind string

const (
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindBadArguments ErrorKind = "bad_arguments"
	ErrorKindExecution    ErrorKind = "execution"
	ErrorKindDenied       ErrorKind = "denied"
)

// ToolEvent is one telemetry record for a logical tool invocation. Two events
// sharing a call id describe the same invocation; the later one supersedes the
// earlier, which is how a pending record upgrades to its final outcome.
type ToolEvent struct {
	CallID    string         `json:"callId"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Output    string         `json:"output,omitempty"`
	Display   any            `json:"display,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"errorKind,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Failed reports whether the event records a failure.
func (e *ToolEvent) Failed() bool {
	return e.ErrorKind != ""
}
