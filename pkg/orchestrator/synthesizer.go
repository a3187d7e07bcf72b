package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/delegation"
)

const (
	maxSynthesisPasses      = 3
	maxSynthesisSpecialists = 10

	// reasoningSeparator terminates the synthesized answer and introduces the
	// trailing reasoning paragraph.
	reasoningSeparator = "=== REASONING ==="

	noContributionMessage   = "No specialist produced a usable contribution for this task."
	noContributionReasoning = "Every queued specialist finished without a result, so there was nothing to synthesize."
	missingReasoningNote    = "The synthesized answer did not include a separate reasoning section."
)

// synthesizer is the legacy fallback path: no lead and no delegation graph
// loop. Seed specialists run one at a time; handoff ids join the queue unless
// already executed or queued; a final free-text call combines the findings.
type synthesizer struct {
	session *Session
	graph   *delegation.Graph
	engine  *engine
	runner  *delegation.Runner
}

func (s *synthesizer) run(ctx context.Context, task string) (*ExecutionResult, error) {
	executed := map[string]bool{}
	queued := map[string]bool{}
	current := s.graph.SpecialistIDs()
	for _, id := range current {
		queued[id] = true
	}

passes:
	for pass := 1; pass <= maxSynthesisPasses && len(current) > 0; pass++ {
		slog.Debug("Synthesis pass", "session_id", s.session.ID, "pass", pass, "queue", current)
		var next []string
		for _, id := range current {
			if executed[id] {
				continue
			}
			if len(executed) >= maxSynthesisSpecialists {
				slog.Warn("Synthesis specialist cap reached", "cap", maxSynthesisSpecialists)
				break passes
			}
			unit, ok := s.graph.Unit(id)
			if !ok || unit.Kind != delegation.UnitKindSpecialist {
				slog.Warn("Queued specialist has no unit", "specialist", id)
				continue
			}
			executed[id] = true

			if _, err := s.runner.RunUnit(ctx, unit, task); err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("synthesis specialist %s: %w", id, err)
				}
				// Cancellation aborts; any other failure only skips this
				// specialist and the queue keeps draining.
				slog.Warn("Synthesis specialist failed, continuing",
					"session_id", s.session.ID, "specialist", id, "error", err)
				continue
			}
			// The engine parsed and stored the result and grew the graph for
			// handoffs the catalog resolved; only those are worth queueing.
			result, ok := s.session.result(id)
			if !ok {
				continue
			}
			for _, handoffID := range result.Handoff {
				if executed[handoffID] || queued[handoffID] {
					continue
				}
				if _, inGraph := s.graph.Unit(handoffID); !inGraph {
					continue
				}
				queued[handoffID] = true
				next = append(next, handoffID)
			}
		}
		current = next
	}

	if len(s.session.results) == 0 {
		slog.Info("No specialist contribution, skipping the synthesis call", "session_id", s.session.ID)
		return s.engine.buildResult(contract.LeadOutput{
			FinalResponse: noContributionMessage,
			Reasoning:     noContributionReasoning,
		}), nil
	}

	text, err := s.runner.RunUnit(ctx, synthesisUnit(), synthesisRequest(task))
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	final, reasoning := splitSynthesisResponse(text)
	return s.engine.buildResult(contract.LeadOutput{FinalResponse: final, Reasoning: reasoning}), nil
}

// synthesisUnit is the free-text unit that combines the findings. Its lead
// kind keeps it out of specialist bookkeeping; the briefing hook feeds it the
// findings gathered so far.
func synthesisUnit() *delegation.Unit {
	return &delegation.Unit{
		Kind: delegation.UnitKindLead,
		ID:   "synthesis",
		Name: "Synthesis",
		SystemPrompt: "You combine findings from several specialists into one clear, direct answer. " +
			"Resolve contradictions explicitly and do not invent findings that were not reported.",
	}
}

func synthesisRequest(task string) string {
	return fmt.Sprintf(`Combine the specialist findings into one final answer for this task:

%s

Write the answer first. Then add a line containing exactly:
%s
followed by one short paragraph explaining how the findings were combined.`, task, reasoningSeparator)
}

// splitSynthesisResponse cuts the response at the reasoning separator. A
// missing separator leaves the whole text as the answer with a fixed note as
// reasoning.
func splitSynthesisResponse(text string) (string, string) {
	final, reasoning, found := strings.Cut(text, reasoningSeparator)
	final = strings.TrimSpace(final)
	if !found {
		return final, missingReasoningNote
	}
	return final, strings.TrimSpace(reasoning)
}
