package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// SpecialistRunResult is one specialist's parsed contribution. Confidence is
// clamped into [0, 1]; handoff ids may name profiles outside the original
// roster. RawText keeps the unparsed output for consumers that want it.
type SpecialistRunResult struct {
	Profile    profile.Profile   `json:"profile"`
	Analysis   string            `json:"analysis"`
	Solution   string            `json:"solution"`
	Confidence float64           `json:"confidence"`
	Handoff    []string          `json:"handoff,omitempty"`
	RawText    string            `json:"rawText"`
	ToolEvents []tools.ToolEvent `json:"toolEvents,omitempty"`
}

// TimelineEntry groups the specialists that began participating at the same
// delegation step. Specialist ids are sorted lexically so merging is
// order-independent.
type TimelineEntry struct {
	Wave        int      `json:"wave"`
	Specialists []string `json:"specialists"`
}

// ExecutionResult is the terminal artifact of one session, produced exactly
// once and handed to the caller; the session itself is then discarded.
type ExecutionResult struct {
	SessionID       string                 `json:"sessionId"`
	Results         []*SpecialistRunResult `json:"results"`
	FinalResponse   string                 `json:"finalResponse"`
	Reasoning       string                 `json:"reasoning"`
	Timeline        []TimelineEntry        `json:"timeline"`
	SpecialistCount int                    `json:"specialistCount"`
	Duration        time.Duration          `json:"duration"`
	Usage           provider.Usage         `json:"usage"`
}

// specialistMemory keeps what a specialist produced so far, so later
// specialists can be briefed on earlier findings without re-deriving them.
type specialistMemory struct {
	lastOutput contract.SpecialistOutput
	history    []contract.SpecialistOutput
}

// Session is the in-memory state of one orchestration request. It lives for
// exactly one run, is mutated only from the runner's callback goroutine, and
// is never persisted.
type Session struct {
	ID      string
	Task    string
	Roster  []profile.Profile
	Started time.Time

	waveCount  int
	waves      map[string]int
	started    map[string]bool
	startOrder []string
	memory     map[string]*specialistMemory
	results    map[string]*SpecialistRunResult
	doneOrder  []string
	toolEvents map[string][]tools.ToolEvent
}

func newSession(task string, roster []profile.Profile) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Task:       task,
		Roster:     roster,
		Started:    time.Now(),
		waves:      map[string]int{},
		started:    map[string]bool{},
		memory:     map[string]*specialistMemory{},
		results:    map[string]*SpecialistRunResult{},
		toolEvents: map[string][]tools.ToolEvent{},
	}
}

// assignWave returns the specialist's wave, incrementing the monotonic counter
// when it has none yet. Both delegate notifications and first starts route
// here, which can give the first specialist a wave before any delegate
// notification is seen; the merged timeline depends on that bookkeeping.
func (s *Session) assignWave(specialistID string) int {
	if wave, ok := s.waves[specialistID]; ok {
		return wave
	}
	s.waveCount++
	s.waves[specialistID] = s.waveCount
	return s.waveCount
}

func (s *Session) markStarted(specialistID string) {
	if !s.started[specialistID] {
		s.started[specialistID] = true
		s.startOrder = append(s.startOrder, specialistID)
	}
}

func (s *Session) anyStarted() bool { return len(s.startOrder) > 0 }

func (s *Session) elapsed() time.Duration { return time.Since(s.Started) }

// recordToolEvent upserts one telemetry record: an event sharing a stored
// call id replaces the stored entry, so pending records upgrade in place. The
// per-specialist list stays ordered by timestamp.
func (s *Session) recordToolEvent(specialistID string, event tools.ToolEvent) {
	events := s.toolEvents[specialistID]
	replaced := false
	for i := range events {
		if events[i].CallID == event.CallID {
			events[i] = event
			replaced = true
			break
		}
	}
	if !replaced {
		events = append(events, event)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	s.toolEvents[specialistID] = events
}

// toolTimeline returns a copy of the specialist's telemetry, ordered by
// timestamp.
func (s *Session) toolTimeline(specialistID string) []tools.ToolEvent {
	events := s.toolEvents[specialistID]
	if len(events) == 0 {
		return nil
	}
	out := make([]tools.ToolEvent, len(events))
	copy(out, events)
	return out
}

// storeResult records a specialist's parsed output. A re-run overwrites the
// previous result and appends to the specialist's memory history.
func (s *Session) storeResult(specialistID string, result *SpecialistRunResult, output contract.SpecialistOutput) {
	if _, seen := s.results[specialistID]; !seen {
		s.doneOrder = append(s.doneOrder, specialistID)
	}
	s.results[specialistID] = result

	mem := s.memory[specialistID]
	if mem == nil {
		mem = &specialistMemory{}
		s.memory[specialistID] = mem
	}
	mem.lastOutput = output
	mem.history = append(mem.history, output)
}

func (s *Session) result(specialistID string) (*SpecialistRunResult, bool) {
	result, ok := s.results[specialistID]
	return result, ok
}

// briefing digests earlier specialists' findings for the unit about to run.
// Empty when nothing completed yet.
func (s *Session) briefing(excludeID string) string {
	var sb strings.Builder
	for _, id := range s.doneOrder {
		if id == excludeID {
			continue
		}
		result, ok := s.results[id]
		if !ok {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("Findings from specialists that already ran:\n")
		}
		fmt.Fprintf(&sb, "- %s (confidence %.2f): %s\n",
			result.Profile.DisplayName(), result.Confidence, digest(result.Analysis, 400))
		if solution := strings.TrimSpace(result.Solution); solution != "" {
			fmt.Fprintf(&sb, "  Proposed: %s\n", digest(solution, 200))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// mergedTimeline unions wave assignments by wave number, sorts each wave's
// specialist ids lexically, and returns entries in ascending wave order. The
// same assignments fed in any order produce the same timeline.
func (s *Session) mergedTimeline() []TimelineEntry {
	byWave := map[int][]string{}
	for id, wave := range s.waves {
		byWave[wave] = append(byWave[wave], id)
	}

	entries := make([]TimelineEntry, 0, len(byWave))
	for wave, ids := range byWave {
		sort.Strings(ids)
		entries = append(entries, TimelineEntry{Wave: wave, Specialists: ids})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Wave < entries[j].Wave })
	return entries
}

// orderedResults returns every stored result sorted by wave, then specialist
// id.
func (s *Session) orderedResults() []*SpecialistRunResult {
	ids := make([]string, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		wi, wj := s.waves[ids[i]], s.waves[ids[j]]
		if wi != wj {
			return wi < wj
		}
		return ids[i] < ids[j]
	})

	out := make([]*SpecialistRunResult, len(ids))
	for i, id := range ids {
		out[i] = s.results[id]
	}
	return out
}

// digest trims text to a single-line excerpt of at most limit runes.
func digest(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
