package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/telemetry"
)

// Invoker executes tool calls against a registry and reports each invocation
// as telemetry events. It is total: every call yields a ToolEvent, whether the
// tool exists, its arguments parse, or its handler fails or panics.
type Invoker struct {
	registry *Registry
}

func NewInvoker(registry *Registry) *Invoker {
	return &Invoker{registry: registry}
}

// Pending records the pre-execution view of a call: name, arguments, and the
// call id the final event will share. The runner publishes it before the call
// executes so consumers see in-flight invocations.
func (i *Invoker) Pending(call ToolCall) ToolEvent {
	EnsureCallID(&call)
	args, err := parseArguments(call.Function.Arguments)
	ev := ToolEvent{
		CallID:    call.ID,
		Tool:      call.Function.Name,
		Arguments: args,
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Error = fmt.Sprintf("invalid arguments: %v", err)
		ev.ErrorKind = ErrorKindBadArguments
	}
	return ev
}

// Denied records a call the approval gate rejected. No handler runs.
func (i *Invoker) Denied(call ToolCall, reason string) ToolEvent {
	EnsureCallID(&call)
	args, _ := parseArguments(call.Function.Arguments)
	return ToolEvent{
		CallID:    call.ID,
		Tool:      call.Function.Name,
		Arguments: args,
		Error:     reason,
		ErrorKind: ErrorKindDenied,
		Timestamp: time.Now(),
	}
}

// Invoke executes one call and returns its final telemetry event, sharing the
// call id of any pending event recorded for the same call.
func (i *Invoker) Invoke(ctx context.Context, call ToolCall) ToolEvent {
	EnsureCallID(&call)
	name := call.Function.Name

	ev := ToolEvent{CallID: call.ID, Tool: name}

	args, err := parseArguments(call.Function.Arguments)
	ev.Arguments = args
	if err != nil {
		ev.Error = fmt.Sprintf("invalid arguments: %v", err)
		ev.ErrorKind = ErrorKindBadArguments
		ev.Timestamp = time.Now()
		return ev
	}

	tool, ok := i.registry.Get(name)
	if !ok {
		ev.Error = fmt.Sprintf("unknown tool %q", name)
		ev.ErrorKind = ErrorKindNotFound
		ev.Timestamp = time.Now()
		return ev
	}

	ctx, span := telemetry.Tracer().Start(ctx, "tools.invoke", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	slog.Debug("Invoking tool", "tool", name, "call_id", call.ID)

	result, err := i.dispatch(ctx, tool, call)
	switch {
	case err != nil:
		ev.Error = err.Error()
		ev.ErrorKind = ErrorKindExecution
		span.RecordError(err)
	case result == nil:
		// A nil result with no error counts as empty output.
	case result.IsError:
		ev.Error = result.Output
		ev.ErrorKind = ErrorKindExecution
	default:
		ev.Output = result.Output
		ev.Display = result.Display
	}
	ev.Timestamp = time.Now()
	return ev
}

// dispatch runs the handler, converting a panic into an error so one
// misbehaving tool cannot take down the session.
func (i *Invoker) dispatch(ctx context.Context, tool Tool, call ToolCall) (result *ToolCallResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()

	if tool.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", tool.Name)
	}
	return tool.Handler(ctx, call)
}

func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
