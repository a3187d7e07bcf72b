// Package orchestrator drives multi-specialist execution sessions: it builds
// a delegation graph from a roster of profiles, runs it against a generation
// service, reconstructs the wave timeline, parses specialist output with a
// total fallback, and re-exposes the run as an ordered progress stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/delegation"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/telemetry"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

var (
	ErrNoService     = errors.New("generation service is required")
	ErrNoRegistry    = errors.New("tool registry is required")
	ErrNoSpecialists = errors.New("no specialist ever started")
	ErrLeadOutput    = errors.New("lead output failed its contract")
)

// DefaultProgressTailLimit bounds the coalesced reasoning tail carried by
// progress events.
const DefaultProgressTailLimit = 1200

// Orchestrator is the session factory. One value serves many sessions; each
// Execute or Stream call runs an independent session.
type Orchestrator struct {
	service   provider.Service
	registry  *tools.Registry
	invoker   *tools.Invoker
	builder   *delegation.Builder
	catalog   profile.Lookup
	approver  delegation.Approver
	maxTurns  int
	maxTokens int64
	tailLimit int
	legacy    bool
}

type Opt func(*Orchestrator)

// WithCatalog installs the profile catalog used to resolve handoff ids that
// name profiles outside the roster. Without it, out-of-roster handoffs stay
// unresolved.
func WithCatalog(catalog profile.Lookup) Opt {
	return func(o *Orchestrator) { o.catalog = catalog }
}

// WithLegacySynthesis selects the fallback path: no lead, a bounded handoff
// queue, and one combining call at the end.
func WithLegacySynthesis() Opt {
	return func(o *Orchestrator) { o.legacy = true }
}

// WithApprover installs the gate consulted before approval-annotated tool
// calls run. The default approves everything.
func WithApprover(approver delegation.Approver) Opt {
	return func(o *Orchestrator) { o.approver = approver }
}

// WithMaxTurns overrides the per-unit turn cap.
func WithMaxTurns(turns int) Opt {
	return func(o *Orchestrator) { o.maxTurns = turns }
}

// WithMaxTokens sets the per-turn output token limit passed to the generation
// service.
func WithMaxTokens(tokens int64) Opt {
	return func(o *Orchestrator) { o.maxTokens = tokens }
}

// WithProgressTailLimit overrides how many trailing runes of streamed
// reasoning a progress event carries.
func WithProgressTailLimit(limit int) Opt {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.tailLimit = limit
		}
	}
}

// New builds an orchestrator around a generation service and a tool registry.
// Missing capabilities are configuration errors reported here, before any
// session exists.
func New(service provider.Service, registry *tools.Registry, opts ...Opt) (*Orchestrator, error) {
	if service == nil {
		return nil, ErrNoService
	}
	if registry == nil {
		return nil, ErrNoRegistry
	}
	o := &Orchestrator{
		service:   service,
		registry:  registry,
		invoker:   tools.NewInvoker(registry),
		builder:   delegation.NewBuilder(registry),
		tailLimit: DefaultProgressTailLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Execute runs one session to completion and returns its result. Roster
// faults and generation failures come back as errors; parsing problems inside
// the run are absorbed by the fallback parse and never surface here.
func (o *Orchestrator) Execute(ctx context.Context, task string, roster []profile.Profile) (*ExecutionResult, error) {
	return o.execute(ctx, task, roster, nil)
}

// Stream starts one session in the background and returns its progress
// stream. It never fails: configuration and generation faults surface as the
// stream's terminal FallbackEvent. Abandoning the stream does not stop the
// session; it runs to completion and its result is discarded.
func (o *Orchestrator) Stream(ctx context.Context, task string, roster []profile.Profile) *Stream {
	stream := newStream()
	go func() {
		defer stream.settle()
		result, err := o.execute(ctx, task, roster, stream)
		if err != nil {
			slog.Warn("Orchestration failed, proceeding without it", "error", err)
			stream.publish(&FallbackEvent{Reason: fallbackReason(err), Err: err})
			return
		}
		stream.publish(&CompleteEvent{Result: result})
	}()
	return stream
}

func (o *Orchestrator) execute(ctx context.Context, task string, roster []profile.Profile, stream *Stream) (*ExecutionResult, error) {
	graph, err := o.builder.Build(roster)
	if err != nil {
		return nil, err
	}
	session := newSession(task, roster)

	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("session.id", session.ID),
		attribute.Int("roster.size", len(roster)),
	))
	defer span.End()

	slog.Info("Session starting", "session_id", session.ID, "specialists", graph.Size(), "legacy", o.legacy)

	eng := newEngine(session, graph, o.builder, o.catalog, stream, o.tailLimit)
	runner := delegation.NewRunner(o.service, o.invoker, eng.hooks(), o.runnerOpts()...)

	if o.legacy {
		synth := &synthesizer{session: session, graph: graph, engine: eng, runner: runner}
		result, err := synth.run(ctx, task)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return result, nil
	}

	leadRaw, err := runner.Run(ctx, graph, task)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("delegation run: %w", err)
	}
	if !session.anyStarted() {
		span.RecordError(ErrNoSpecialists)
		return nil, ErrNoSpecialists
	}
	lead, err := contract.ParseLeadOutput(leadRaw)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrLeadOutput, err)
		span.RecordError(err)
		return nil, err
	}

	result := eng.buildResult(lead)
	slog.Info("Session complete",
		"session_id", session.ID,
		"specialists", result.SpecialistCount,
		"duration", result.Duration,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens)
	return result, nil
}

func (o *Orchestrator) runnerOpts() []delegation.RunnerOpt {
	var opts []delegation.RunnerOpt
	if o.approver != nil {
		opts = append(opts, delegation.WithApprover(o.approver))
	}
	if o.maxTurns > 0 {
		opts = append(opts, delegation.WithMaxTurns(o.maxTurns))
	}
	if o.maxTokens > 0 {
		opts = append(opts, delegation.WithMaxTokens(o.maxTokens))
	}
	return opts
}

// fallbackReason renders the terminal event's human-readable cause.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, delegation.ErrEmptyRoster):
		return "no specialists were selected"
	case errors.Is(err, ErrNoSpecialists):
		return "no specialist ever started"
	case errors.Is(err, ErrLeadOutput):
		return "the lead produced no usable final output"
	default:
		return "the generation service failed"
	}
}
