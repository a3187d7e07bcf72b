package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/telemetry"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// DefaultMaxTurns caps how many assistant turns one unit may take. Hitting
// the cap is treated as a generation fault.
const DefaultMaxTurns = 16

// Hooks are the lifecycle notifications the runner fires while driving a
// graph. All fields are optional. Every hook fires from the runner's own
// goroutine, never from a tool batch worker, so implementations need no
// locking against the runner.
type Hooks struct {
	OnUnitStart    func(unit *Unit)
	OnDelegate     func(from, to *Unit)
	OnUnitComplete func(unit *Unit, rawText string)
	OnTextDelta    func(unit *Unit, text string)
	OnToolEvent    func(unit *Unit, event tools.ToolEvent)
	OnUsage        func(unit *Unit, usage provider.Usage)

	// Briefing supplies the context block appended to a specialist's first
	// message, typically a digest of earlier specialists' findings.
	Briefing func(unitID string) string
}

// Approver decides whether an approval-gated tool call may run. The runner
// consults it sequentially, before the call's batch starts, so interactive
// implementations can block on user input.
type Approver func(ctx context.Context, call tools.ToolCall) bool

// Runner drives delegation graphs against a generation service: it runs the
// lead unit's session, intercepts delegate_task calls, runs the named
// specialist's session inline, and feeds the specialist's raw output back as
// the tool result.
type Runner struct {
	service   provider.Service
	invoker   *tools.Invoker
	hooks     Hooks
	approver  Approver
	maxTurns  int
	maxTokens int64
}

type RunnerOpt func(*Runner)

// WithApprover installs the approval gate consulted for tools annotated as
// requiring confirmation. The default approves everything.
func WithApprover(approver Approver) RunnerOpt {
	return func(r *Runner) { r.approver = approver }
}

// WithMaxTurns overrides the per-unit turn cap.
func WithMaxTurns(turns int) RunnerOpt {
	return func(r *Runner) {
		if turns > 0 {
			r.maxTurns = turns
		}
	}
}

// WithMaxTokens sets the per-turn output token limit passed to the service.
// Zero leaves the provider's default in place.
func WithMaxTokens(tokens int64) RunnerOpt {
	return func(r *Runner) {
		if tokens > 0 {
			r.maxTokens = tokens
		}
	}
}

func NewRunner(service provider.Service, invoker *tools.Invoker, hooks Hooks, opts ...RunnerOpt) *Runner {
	r := &Runner{
		service:  service,
		invoker:  invoker,
		hooks:    hooks,
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives one full session of the graph and returns the lead's raw final
// text. Delegate calls execute sequentially, in the order the lead issued
// them, each as a complete specialist session.
func (r *Runner) Run(ctx context.Context, graph *Graph, task string) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "delegation.run", trace.WithAttributes(
		attribute.Int("graph.specialists", graph.Size()),
	))
	defer span.End()

	lead := graph.Lead()
	handle, err := r.service.CreateSession(ctx, provider.SessionSpec{
		SystemPrompt: lead.SystemPrompt,
		Tools:        []tools.Tool{DelegateTool(graph)},
		Contract:     lead.Contract,
		Temperature:  lead.Temperature,
		MaxTokens:    r.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("create lead session: %w", err)
	}
	r.fireUnitStart(lead)

	messages := []provider.Message{provider.UserMessage(task)}
	for turn := 1; turn <= r.maxTurns; turn++ {
		result, err := r.streamTurn(ctx, lead, handle, messages)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("lead turn %d: %w", turn, err)
		}
		if len(result.calls) == 0 {
			r.fireUnitComplete(lead, result.final.Text)
			return result.final.Text, nil
		}

		messages = append(messages, provider.AssistantMessage(result.final.Text, callList(result.calls)...))
		for _, tc := range result.calls {
			reply, err := r.handleLeadCall(ctx, graph, lead, tc.call)
			if err != nil {
				span.RecordError(err)
				return "", err
			}
			messages = append(messages, reply)
		}
	}

	err = fmt.Errorf("lead exceeded %d turns without completing", r.maxTurns)
	span.RecordError(err)
	return "", err
}

// handleLeadCall resolves one lead tool call. Argument and resolution
// problems come back as tool-result errors so the lead can correct itself; a
// specialist session failure aborts the whole run.
func (r *Runner) handleLeadCall(ctx context.Context, graph *Graph, lead *Unit, call tools.ToolCall) (provider.Message, error) {
	if call.Function.Name != DelegateToolName {
		return provider.ToolResultMessage(call.ID,
			fmt.Sprintf("tool %q is not available to the lead; use %s", call.Function.Name, DelegateToolName), true), nil
	}

	var args DelegateArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return provider.ToolResultMessage(call.ID,
			fmt.Sprintf("invalid %s arguments: %v", DelegateToolName, err), true), nil
	}

	target, ok := graph.Unit(args.Specialist)
	if !ok || target.Kind != UnitKindSpecialist {
		return provider.ToolResultMessage(call.ID,
			fmt.Sprintf("unknown specialist %q; available: %s", args.Specialist, strings.Join(graph.SpecialistIDs(), ", ")), true), nil
	}

	graph.AddEdge(lead.ID, target.ID)
	r.fireDelegate(lead, target)

	task := args.Task
	if args.ExpectedOutput != "" {
		task += "\n\nExpected output: " + args.ExpectedOutput
	}
	text, err := r.RunUnit(ctx, target, task)
	if err != nil {
		return provider.Message{}, fmt.Errorf("specialist %s: %w", target.ID, err)
	}
	return provider.ToolResultMessage(call.ID, text, false), nil
}

// RunUnit drives one unit's own session to completion and returns its raw
// final text. The fallback synthesizer uses it directly; the graph path
// reaches it through delegate interception.
func (r *Runner) RunUnit(ctx context.Context, unit *Unit, task string) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "delegation.unit", trace.WithAttributes(
		attribute.String("unit.id", unit.ID),
	))
	defer span.End()

	handle, err := r.service.CreateSession(ctx, provider.SessionSpec{
		SystemPrompt: unit.SystemPrompt,
		Tools:        unit.Tools,
		Contract:     unit.Contract,
		Temperature:  unit.Temperature,
		MaxTokens:    r.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("create session for %s: %w", unit.ID, err)
	}
	r.fireUnitStart(unit)

	content := task
	if r.hooks.Briefing != nil {
		if briefing := strings.TrimSpace(r.hooks.Briefing(unit.ID)); briefing != "" {
			content = task + "\n\n" + briefing
		}
	}

	messages := []provider.Message{provider.UserMessage(content)}
	for turn := 1; turn <= r.maxTurns; turn++ {
		result, err := r.streamTurn(ctx, unit, handle, messages)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("%s turn %d: %w", unit.ID, turn, err)
		}
		if len(result.calls) == 0 {
			r.fireUnitComplete(unit, result.final.Text)
			return result.final.Text, nil
		}

		messages = append(messages, provider.AssistantMessage(result.final.Text, callList(result.calls)...))
		events := r.executeBatch(ctx, unit, result.calls)
		for i, event := range events {
			content := event.Output
			if event.Failed() {
				content = event.Error
			}
			messages = append(messages, provider.ToolResultMessage(result.calls[i].call.ID, content, event.Failed()))
		}
	}

	err = fmt.Errorf("%s exceeded %d turns without completing", unit.ID, r.maxTurns)
	span.RecordError(err)
	return "", err
}

// turnCall is one tool call collected from a turn stream.
type turnCall struct {
	call             tools.ToolCall
	requiresApproval bool
}

type turnResult struct {
	final *provider.FinalEvent
	calls []turnCall
}

// streamTurn runs one assistant turn: it opens the stream, forwards text
// deltas, collects tool calls, and waits for the final event. Call ids are
// assigned here so every later reference to a call shares the same id.
func (r *Runner) streamTurn(ctx context.Context, unit *Unit, handle provider.Handle, messages []provider.Message) (*turnResult, error) {
	stream, err := handle.StreamTurn(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	result := &turnResult{}
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch ev := event.(type) {
		case *provider.TextDeltaEvent:
			r.fireTextDelta(unit, ev.Text)
		case *provider.ToolCallEvent:
			result.calls = append(result.calls, turnCall{call: ev.Call})
		case *provider.ToolApprovalEvent:
			result.calls = append(result.calls, turnCall{call: ev.Call, requiresApproval: true})
		case *provider.FinalEvent:
			result.final = ev
		}
	}
	if result.final == nil {
		return nil, errors.New("turn stream ended without a final event")
	}
	for i := range result.calls {
		tools.EnsureCallID(&result.calls[i].call)
	}
	r.fireUsage(unit, result.final.Usage)
	return result, nil
}

// executeBatch runs one turn's tool calls. A pending event is published for
// every call before anything executes; approval gates resolve next, then the
// remaining calls run, concurrently when the batch holds more than one. Final
// events fire in call order after the batch joins.
func (r *Runner) executeBatch(ctx context.Context, unit *Unit, calls []turnCall) []tools.ToolEvent {
	events := make([]tools.ToolEvent, len(calls))
	var pending []int
	for i := range calls {
		r.fireToolEvent(unit, r.invoker.Pending(calls[i].call))
		if calls[i].requiresApproval && !r.approve(ctx, calls[i].call) {
			slog.Info("Tool call denied", "tool", calls[i].call.Function.Name, "call_id", calls[i].call.ID)
			events[i] = r.invoker.Denied(calls[i].call, "denied by user")
			continue
		}
		pending = append(pending, i)
	}

	switch len(pending) {
	case 0:
	case 1:
		i := pending[0]
		events[i] = r.invoker.Invoke(ctx, calls[i].call)
	default:
		g, gctx := errgroup.WithContext(ctx)
		for _, i := range pending {
			g.Go(func() error {
				events[i] = r.invoker.Invoke(gctx, calls[i].call)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := range events {
		r.fireToolEvent(unit, events[i])
	}
	return events
}

func (r *Runner) approve(ctx context.Context, call tools.ToolCall) bool {
	if r.approver == nil {
		return true
	}
	return r.approver(ctx, call)
}

func callList(calls []turnCall) []tools.ToolCall {
	out := make([]tools.ToolCall, len(calls))
	for i := range calls {
		out[i] = calls[i].call
	}
	return out
}

func (r *Runner) fireUnitStart(unit *Unit) {
	if r.hooks.OnUnitStart != nil {
		r.hooks.OnUnitStart(unit)
	}
}

func (r *Runner) fireDelegate(from, to *Unit) {
	if r.hooks.OnDelegate != nil {
		r.hooks.OnDelegate(from, to)
	}
}

func (r *Runner) fireUnitComplete(unit *Unit, rawText string) {
	if r.hooks.OnUnitComplete != nil {
		r.hooks.OnUnitComplete(unit, rawText)
	}
}

func (r *Runner) fireTextDelta(unit *Unit, text string) {
	if r.hooks.OnTextDelta != nil {
		r.hooks.OnTextDelta(unit, text)
	}
}

func (r *Runner) fireToolEvent(unit *Unit, event tools.ToolEvent) {
	if r.hooks.OnToolEvent != nil {
		r.hooks.OnToolEvent(unit, event)
	}
}

func (r *Runner) fireUsage(unit *Unit, usage provider.Usage) {
	if r.hooks.OnUsage != nil {
		r.hooks.OnUsage(unit, usage)
	}
}
