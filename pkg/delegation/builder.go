package delegation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// ErrEmptyRoster is returned when a graph is built from zero profiles. It is
// a configuration error and surfaces before any generation call.
var ErrEmptyRoster = errors.New("specialist roster is empty")

// ErrDuplicateProfile is returned when a roster names the same profile id
// twice.
var ErrDuplicateProfile = errors.New("duplicate specialist profile")

// MaxRosterSize bounds how many specialists one session coordinates.
const MaxRosterSize = 10

// Builder assembles delegation graphs. The registry supplies the tool
// implementations specialist allow-lists are resolved against.
type Builder struct {
	registry *tools.Registry
}

func NewBuilder(registry *tools.Registry) *Builder {
	return &Builder{registry: registry}
}

// Build assembles one lead unit and one specialist unit per profile. Rosters
// larger than MaxRosterSize are truncated with a warning. Duplicate profile
// ids are a configuration error.
func (b *Builder) Build(roster []profile.Profile) (*Graph, error) {
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}
	if len(roster) > MaxRosterSize {
		slog.Warn("Roster exceeds maximum size, truncating",
			"roster_size", len(roster),
			"max", MaxRosterSize)
		roster = roster[:MaxRosterSize]
	}

	graph := &Graph{
		lead:        b.leadUnit(len(roster)),
		specialists: make(map[string]*Unit, len(roster)),
	}
	for _, p := range roster {
		if _, taken := graph.specialists[p.ID]; taken {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProfile, p.ID)
		}
		if err := graph.AddSpecialist(b.SpecialistUnit(p)); err != nil {
			return nil, fmt.Errorf("roster: %w", err)
		}
	}

	slog.Debug("Delegation graph built", "specialists", graph.Size())
	return graph, nil
}

// SpecialistUnit scopes one profile into a runnable unit: prompt template plus
// the tool playbook and specialty hints, tools restricted to the allow-list,
// and the required specialist output contract.
func (b *Builder) SpecialistUnit(p profile.Profile) *Unit {
	return &Unit{
		Kind:         UnitKindSpecialist,
		ID:           p.ID,
		Name:         p.Name,
		Profile:      p,
		SystemPrompt: specialistPrompt(p),
		Tools:        b.registry.Scope(p.Tools),
		Contract:     contract.Specialist(),
		Temperature:  p.Temperature,
	}
}

func (b *Builder) leadUnit(rosterSize int) *Unit {
	return &Unit{
		Kind:         UnitKindLead,
		ID:           LeadID,
		Name:         "Lead",
		SystemPrompt: leadPrompt(rosterSize),
		Contract:     contract.Lead(),
	}
}

func leadPrompt(rosterSize int) string {
	minDelegations := min(3, rosterSize)
	maxDelegations := min(10, rosterSize)
	return fmt.Sprintf(`You are the lead coordinator of a team of specialist engineers working on one task.

Work by delegation, not by answering alone:
- Hand focused sub-tasks to specialists with the delegate_task tool. Phrase each sub-task so the specialist can work without seeing the rest of the conversation.
- Delegate to at least %d and at most %d distinct specialists before answering.
- Sequence delegations so later specialists can build on earlier findings.
- A specialist may suggest a handoff to another specialist; weigh the suggestion, the decision stays with you.

When the delegations you need have returned, consolidate their findings into the final answer.`, minDelegations, maxDelegations)
}

func specialistPrompt(p profile.Profile) string {
	sections := []string{strings.TrimSpace(p.Prompt), toolPlaybook}
	if hints := engagementHints(p.Specialties); hints != "" {
		sections = append(sections, hints)
	}
	return strings.Join(sections, "\n\n")
}

const toolPlaybook = `Use your tools to ground every claim:
- Inspect the relevant code or data before concluding anything about it.
- Prefer several small, focused tool calls over one broad one.
- If a tool fails, note the failure and continue with what you can verify.
- Never invent file contents or command output.`

func engagementHints(specialties []string) string {
	if len(specialties) == 0 {
		return ""
	}
	return fmt.Sprintf("Engage the task through your specialties: %s. Findings inside these areas carry more weight than general observations.",
		strings.Join(specialties, ", "))
}
