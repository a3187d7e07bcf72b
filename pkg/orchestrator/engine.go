package orchestrator

import (
	"log/slog"
	"strings"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/delegation"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// engine reacts to the delegation runner's lifecycle notifications for one
// session: wave bookkeeping, progress coalescing, telemetry upserts, output
// parsing, dynamic graph growth, and event publication. Every reaction fires
// from the runner's goroutine; the engine holds no locks of its own.
type engine struct {
	session   *Session
	graph     *delegation.Graph
	builder   *delegation.Builder
	catalog   profile.Lookup
	stream    *Stream
	usage     *usageTracker
	tailLimit int

	textBuf  map[string]*strings.Builder
	lastTail map[string]string
}

func newEngine(session *Session, graph *delegation.Graph, builder *delegation.Builder, catalog profile.Lookup, stream *Stream, tailLimit int) *engine {
	return &engine{
		session:   session,
		graph:     graph,
		builder:   builder,
		catalog:   catalog,
		stream:    stream,
		usage:     newUsageTracker(),
		tailLimit: tailLimit,
		textBuf:   map[string]*strings.Builder{},
		lastTail:  map[string]string{},
	}
}

func (e *engine) hooks() delegation.Hooks {
	return delegation.Hooks{
		OnUnitStart:    e.onUnitStart,
		OnDelegate:     e.onDelegate,
		OnUnitComplete: e.onUnitComplete,
		OnTextDelta:    e.onTextDelta,
		OnToolEvent:    e.onToolEvent,
		OnUsage:        e.onUsage,
		Briefing:       e.briefing,
	}
}

func (e *engine) publish(event Event) {
	if e.stream != nil {
		e.stream.publish(event)
	}
}

// onUnitStart assigns a wave to a specialist starting without one, which
// covers the implicit first delegation, and publishes a start event with the
// current roster snapshot. The lead is never waved and never announced.
func (e *engine) onUnitStart(unit *delegation.Unit) {
	if unit.Kind != delegation.UnitKindSpecialist {
		return
	}
	wave := e.session.assignWave(unit.ID)
	e.session.markStarted(unit.ID)
	slog.Debug("Specialist started", "session_id", e.session.ID, "specialist", unit.ID, "wave", wave)

	e.publish(&SpecialistStartEvent{
		SpecialistID:   unit.ID,
		SpecialistName: unit.Name,
		Wave:           wave,
		Roster:         e.rosterSnapshot(unit.ID),
	})
}

// onDelegate advances the wave counter when the target has no wave yet. The
// start notification that follows finds the wave already assigned.
func (e *engine) onDelegate(_, to *delegation.Unit) {
	if to.Kind != delegation.UnitKindSpecialist {
		return
	}
	e.session.assignWave(to.ID)
}

// onUnitComplete parses a specialist's raw output, stores the result, grows
// the graph for handoff ids the catalog can resolve, and publishes the
// completion. Parsing is total: unparsable output becomes a zero-confidence
// result carrying the raw text as analysis.
func (e *engine) onUnitComplete(unit *delegation.Unit, rawText string) {
	if unit.Kind != delegation.UnitKindSpecialist {
		return
	}

	output, parsed := contract.ParseSpecialistOutput(rawText)
	if !parsed {
		slog.Debug("Specialist output fell back to raw analysis",
			"session_id", e.session.ID, "specialist", unit.ID)
	}

	result := &SpecialistRunResult{
		Profile:    unit.Profile,
		Analysis:   output.Analysis,
		Solution:   output.Solution,
		Confidence: output.Confidence,
		Handoff:    output.Handoff,
		RawText:    rawText,
		ToolEvents: e.session.toolTimeline(unit.ID),
	}
	e.session.storeResult(unit.ID, result, output)
	e.growGraph(output.Handoff)

	e.publish(&SpecialistCompleteEvent{Result: result})
}

// growGraph adds specialist units for handoff ids not in the graph yet,
// resolving them against the catalog so the lead can delegate to them.
// Unresolved ids stay in the result untouched.
func (e *engine) growGraph(handoff []string) {
	for _, id := range handoff {
		if _, ok := e.graph.Unit(id); ok {
			continue
		}
		if e.catalog == nil {
			slog.Debug("Handoff target has no catalog to resolve against", "specialist", id)
			continue
		}
		p, ok := e.catalog.Find(id)
		if !ok {
			slog.Warn("Handoff target not in catalog", "specialist", id)
			continue
		}
		if err := e.graph.AddSpecialist(e.builder.SpecialistUnit(p)); err != nil {
			slog.Warn("Handoff target could not join the graph", "specialist", id, "error", err)
			continue
		}
		slog.Info("Specialist joined mid-run", "session_id", e.session.ID, "specialist", id)
	}
}

// onTextDelta coalesces streamed reasoning into tail updates: an event fires
// only when the visible tail actually changes.
func (e *engine) onTextDelta(unit *delegation.Unit, text string) {
	if unit.Kind != delegation.UnitKindSpecialist || text == "" {
		return
	}
	buf := e.textBuf[unit.ID]
	if buf == nil {
		buf = &strings.Builder{}
		e.textBuf[unit.ID] = buf
	}
	buf.WriteString(text)

	tail := visibleTail(buf.String(), e.tailLimit)
	if tail == "" || tail == e.lastTail[unit.ID] {
		return
	}
	e.lastTail[unit.ID] = tail
	e.publish(&SpecialistProgressEvent{SpecialistID: unit.ID, Text: tail})
}

func (e *engine) onToolEvent(unit *delegation.Unit, event tools.ToolEvent) {
	if unit.Kind != delegation.UnitKindSpecialist {
		return
	}
	e.session.recordToolEvent(unit.ID, event)
	e.publish(&ToolActivityEvent{SpecialistID: unit.ID, Event: event})
}

func (e *engine) onUsage(unit *delegation.Unit, usage provider.Usage) {
	e.usage.record(unit.ID, usage)
}

func (e *engine) briefing(unitID string) string {
	return e.session.briefing(unitID)
}

// rosterSnapshot captures every specialist currently in the graph: done once
// a result exists, running while started without one, pending otherwise.
func (e *engine) rosterSnapshot(runningID string) []RosterStatus {
	specialists := e.graph.Specialists()
	snapshot := make([]RosterStatus, 0, len(specialists))
	for _, unit := range specialists {
		state := RosterStatePending
		switch {
		case e.hasResult(unit.ID):
			state = RosterStateDone
		case unit.ID == runningID || e.session.started[unit.ID]:
			state = RosterStateRunning
		}
		snapshot = append(snapshot, RosterStatus{
			SpecialistID: unit.ID,
			Name:         unit.Name,
			State:        state,
		})
	}
	return snapshot
}

func (e *engine) hasResult(specialistID string) bool {
	_, ok := e.session.result(specialistID)
	return ok
}

// buildResult freezes the session into its terminal artifact.
func (e *engine) buildResult(lead contract.LeadOutput) *ExecutionResult {
	results := e.session.orderedResults()
	return &ExecutionResult{
		SessionID:       e.session.ID,
		Results:         results,
		FinalResponse:   lead.FinalResponse,
		Reasoning:       lead.Reasoning,
		Timeline:        e.session.mergedTimeline(),
		SpecialistCount: len(results),
		Duration:        e.session.elapsed(),
		Usage:           e.usage.snapshot(),
	}
}

// visibleTail trims the text and keeps the most recent limit runes, so
// whitespace-only growth never counts as a change.
func visibleTail(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[len(runes)-limit:])
}
