package delegation

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// fakeStream replays scripted turn events, then io.EOF or the scripted error.
type fakeStream struct {
	events []provider.TurnEvent
	err    error
	closed bool
}

func (s *fakeStream) Recv() (provider.TurnEvent, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type streamBuilder struct {
	events []provider.TurnEvent
	text   strings.Builder
	calls  int
	err    error
}

func newStreamBuilder() *streamBuilder { return &streamBuilder{} }

func (b *streamBuilder) AddContent(text string) *streamBuilder {
	b.text.WriteString(text)
	b.events = append(b.events, &provider.TextDeltaEvent{Text: text})
	return b
}

func (b *streamBuilder) AddToolCall(id, name, args string) *streamBuilder {
	b.calls++
	b.events = append(b.events, &provider.ToolCallEvent{
		Call: tools.ToolCall{ID: id, Type: "function", Function: tools.FunctionCall{Name: name, Arguments: args}},
	})
	return b
}

func (b *streamBuilder) AddApprovalCall(id, name, args string) *streamBuilder {
	b.calls++
	b.events = append(b.events, &provider.ToolApprovalEvent{
		Call: tools.ToolCall{ID: id, Type: "function", Function: tools.FunctionCall{Name: name, Arguments: args}},
	})
	return b
}

func (b *streamBuilder) AddStopWithUsage(input, output int64) *streamBuilder {
	stop := provider.StopReasonEndTurn
	if b.calls > 0 {
		stop = provider.StopReasonToolUse
	}
	b.events = append(b.events, &provider.FinalEvent{
		Text:       b.text.String(),
		StopReason: stop,
		Usage:      provider.Usage{InputTokens: input, OutputTokens: output},
	})
	return b
}

func (b *streamBuilder) FailWith(err error) *streamBuilder {
	b.err = err
	return b
}

func (b *streamBuilder) Build() *fakeStream {
	return &fakeStream{events: b.events, err: b.err}
}

// fakeHandle replays one scripted stream per turn and records the transcript
// passed to each turn.
type fakeHandle struct {
	mu          sync.Mutex
	turns       []*fakeStream
	transcripts [][]provider.Message
}

func (h *fakeHandle) StreamTurn(_ context.Context, messages []provider.Message) (provider.TurnStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transcripts = append(h.transcripts, slices.Clone(messages))
	if len(h.turns) == 0 {
		return nil, errors.New("no scripted turn left")
	}
	turn := h.turns[0]
	h.turns = h.turns[1:]
	return turn, nil
}

// fakeService hands out scripted handles in session-creation order and
// records every SessionSpec.
type fakeService struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	specs     []provider.SessionSpec
	createErr error
}

func (f *fakeService) CreateSession(_ context.Context, spec provider.SessionSpec) (provider.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.specs = append(f.specs, spec)
	if len(f.handles) == 0 {
		return nil, errors.New("no scripted session left")
	}
	handle := f.handles[0]
	f.handles = f.handles[1:]
	return handle, nil
}

// hookRecorder captures lifecycle notifications in firing order. The runner
// serializes hook calls, so no locking is needed.
type hookRecorder struct {
	entries    []string
	toolEvents []tools.ToolEvent
	usage      []provider.Usage
	briefings  map[string]string
	deltas     map[string]string
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{briefings: map[string]string{}, deltas: map[string]string{}}
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnUnitStart: func(u *Unit) { h.entries = append(h.entries, "start:"+u.ID) },
		OnDelegate:  func(from, to *Unit) { h.entries = append(h.entries, "delegate:"+from.ID+"->"+to.ID) },
		OnUnitComplete: func(u *Unit, _ string) {
			h.entries = append(h.entries, "complete:"+u.ID)
		},
		OnTextDelta: func(u *Unit, text string) { h.deltas[u.ID] += text },
		OnToolEvent: func(u *Unit, ev tools.ToolEvent) {
			h.toolEvents = append(h.toolEvents, ev)
			h.entries = append(h.entries, "tool:"+u.ID+":"+ev.Tool)
		},
		OnUsage:  func(_ *Unit, usage provider.Usage) { h.usage = append(h.usage, usage) },
		Briefing: func(id string) string { return h.briefings[id] },
	}
}

func echoTool(name string) tools.Tool {
	return tools.Tool{
		Name:        name,
		Description: name,
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, tools.ToolCall) (*tools.ToolCallResult, error) {
			return &tools.ToolCallResult{Output: name + " ok"}, nil
		},
	}
}

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry, err := tools.NewRegistry(echoTool("read_file"), echoTool("search_code"))
	require.NoError(t, err)
	shell := echoTool("shell")
	shell.Annotations.RequiresApproval = true
	require.NoError(t, registry.Register(shell))
	return registry
}

func testProfiles() []profile.Profile {
	return []profile.Profile{
		{ID: "architect", Name: "Architect", Specialties: []string{"system design"}, Prompt: "You design systems."},
		{ID: "perf", Name: "Performance Analyst", Tools: []string{"read_file"}, Prompt: "You find bottlenecks."},
	}
}

func TestBuildGraph(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(newTestRegistry(t))
	graph, err := builder.Build(testProfiles())
	require.NoError(t, err)

	assert.Equal(t, 2, graph.Size())

	lead := graph.Lead()
	assert.Equal(t, UnitKindLead, lead.Kind)
	assert.Equal(t, LeadID, lead.ID)
	assert.Same(t, contract.Lead(), lead.Contract)
	assert.Contains(t, lead.SystemPrompt, "at least 2 and at most 2 distinct specialists")
	assert.Empty(t, lead.Tools)

	architect, ok := graph.Unit("architect")
	require.True(t, ok)
	assert.Equal(t, UnitKindSpecialist, architect.Kind)
	assert.Same(t, contract.Specialist(), architect.Contract)
	assert.Contains(t, architect.SystemPrompt, "You design systems.")
	assert.Contains(t, architect.SystemPrompt, "your specialties: system design")
	assert.Contains(t, architect.SystemPrompt, "Never invent file contents")
	assert.Len(t, architect.Tools, 3, "no allow-list grants the full registry")

	perf, ok := graph.Unit("perf")
	require.True(t, ok)
	require.Len(t, perf.Tools, 1)
	assert.Equal(t, "read_file", perf.Tools[0].Name)
	assert.NotContains(t, perf.SystemPrompt, "your specialties")
}

func TestBuildGraphDelegationBounds(t *testing.T) {
	t.Parallel()

	roster := make([]profile.Profile, 5)
	for i := range roster {
		roster[i] = profile.Profile{ID: string(rune('a' + i)), Name: "S", Prompt: "p"}
	}

	graph, err := NewBuilder(newTestRegistry(t)).Build(roster)
	require.NoError(t, err)
	assert.Contains(t, graph.Lead().SystemPrompt, "at least 3 and at most 5 distinct specialists")
}

func TestBuildGraphErrors(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(newTestRegistry(t))

	_, err := builder.Build(nil)
	assert.ErrorIs(t, err, ErrEmptyRoster)

	_, err = builder.Build([]profile.Profile{
		{ID: "dup", Name: "A", Prompt: "p"},
		{ID: "dup", Name: "B", Prompt: "p"},
	})
	assert.ErrorIs(t, err, ErrDuplicateProfile)

	_, err = builder.Build([]profile.Profile{{ID: "lead", Name: "A", Prompt: "p"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestBuildGraphTruncatesOversizedRoster(t *testing.T) {
	t.Parallel()

	roster := make([]profile.Profile, 12)
	for i := range roster {
		roster[i] = profile.Profile{ID: string(rune('a' + i)), Name: "S", Prompt: "p"}
	}

	graph, err := NewBuilder(newTestRegistry(t)).Build(roster)
	require.NoError(t, err)
	assert.Equal(t, MaxRosterSize, graph.Size())
}

func TestDelegateTool(t *testing.T) {
	t.Parallel()

	graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
	require.NoError(t, err)

	tool := DelegateTool(graph)
	assert.Equal(t, DelegateToolName, tool.Name)
	assert.Contains(t, tool.Description, "- architect:")
	assert.Contains(t, tool.Description, "- perf:")
	assert.Contains(t, tool.Description, "system design")
	assert.Contains(t, tool.Description, "More specialists may become available")

	schema, err := tools.SchemaToMap(tool.Parameters)
	require.NoError(t, err)
	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, properties, "specialist")
	assert.Contains(t, properties, "task")
	assert.Contains(t, properties, "expected_output")

	_, err = tool.Handler(t.Context(), tools.ToolCall{})
	assert.Error(t, err, "direct dispatch bypassed the runner")
}

func TestGraphGrowth(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(newTestRegistry(t))
	graph, err := builder.Build(testProfiles())
	require.NoError(t, err)

	unit := builder.SpecialistUnit(profile.Profile{ID: "security", Name: "Security Auditor", Prompt: "You audit."})
	require.NoError(t, graph.AddSpecialist(unit))
	assert.Equal(t, []string{"architect", "perf", "security"}, graph.SpecialistIDs())

	err = graph.AddSpecialist(unit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in graph")

	graph.AddEdge(LeadID, "security")
	require.Len(t, graph.Edges(), 1)
	assert.Equal(t, Edge{From: LeadID, To: "security"}, graph.Edges()[0])
}

func TestRunnerDelegatesAndCompletes(t *testing.T) {
	t.Parallel()

	leadHandle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().
			AddToolCall("call_a", "delegate_task", `{"specialist":"architect","task":"design it","expected_output":"a design"}`).
			AddStopWithUsage(10, 5).
			Build(),
		newStreamBuilder().
			AddToolCall("call_b", "delegate_task", `{"specialist":"perf","task":"profile it"}`).
			AddStopWithUsage(8, 4).
			Build(),
		newStreamBuilder().
			AddContent(`{"finalResponse":"Final consolidated plan","reasoning":"Combined"}`).
			AddStopWithUsage(6, 3).
			Build(),
	}}
	architectHandle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().
			AddContent(`{"analysis":"bottleneck found","solution":"add queue","confidence":0.85,"handoff":["perf"]}`).
			AddStopWithUsage(5, 10).
			Build(),
	}}
	perfHandle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().
			AddContent(`{"analysis":"gap found","solution":"add tests","confidence":0.78}`).
			AddStopWithUsage(4, 2).
			Build(),
	}}
	service := &fakeService{handles: []*fakeHandle{leadHandle, architectHandle, perfHandle}}

	graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
	require.NoError(t, err)

	recorder := newHookRecorder()
	runner := NewRunner(service, tools.NewInvoker(newTestRegistry(t)), recorder.hooks())

	text, err := runner.Run(t.Context(), graph, "improve the service")
	require.NoError(t, err)
	assert.Contains(t, text, "Final consolidated plan")

	assert.Equal(t, []string{
		"start:lead",
		"delegate:lead->architect",
		"start:architect",
		"complete:architect",
		"delegate:lead->perf",
		"start:perf",
		"complete:perf",
		"complete:lead",
	}, recorder.entries)

	assert.Equal(t, []Edge{
		{From: LeadID, To: "architect"},
		{From: LeadID, To: "perf"},
	}, graph.Edges())

	// Usage fires per turn, in execution order.
	require.Len(t, recorder.usage, 5)
	assert.Equal(t, provider.Usage{InputTokens: 10, OutputTokens: 5}, recorder.usage[0])
	assert.Equal(t, provider.Usage{InputTokens: 5, OutputTokens: 10}, recorder.usage[1])

	// The lead session carries only the synthesized delegation tool.
	require.Len(t, service.specs, 3)
	require.Len(t, service.specs[0].Tools, 1)
	assert.Equal(t, DelegateToolName, service.specs[0].Tools[0].Name)
	assert.Same(t, contract.Lead(), service.specs[0].Contract)
	assert.Same(t, contract.Specialist(), service.specs[1].Contract)
	assert.Contains(t, service.specs[1].SystemPrompt, "You design systems.")

	// The architect's task carries the expected-output hint.
	require.Len(t, architectHandle.transcripts, 1)
	first := architectHandle.transcripts[0][0]
	assert.Contains(t, first.Content, "design it")
	assert.Contains(t, first.Content, "Expected output: a design")

	// The architect's raw output feeds back as the delegate tool result.
	require.Len(t, leadHandle.transcripts, 3)
	turn2 := leadHandle.transcripts[1]
	require.Len(t, turn2, 3)
	assert.Equal(t, provider.MessageRoleTool, turn2[2].Role)
	assert.Equal(t, "call_a", turn2[2].ToolCallID)
	assert.Contains(t, turn2[2].Content, "bottleneck found")
	assert.False(t, turn2[2].IsError)
}

func TestRunnerSequentialDelegatesInOneTurn(t *testing.T) {
	t.Parallel()

	leadHandle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().
			AddToolCall("call_a", "delegate_task", `{"specialist":"architect","task":"design"}`).
			AddToolCall("call_b", "delegate_task", `{"specialist":"perf","task":"profile"}`).
			AddStopWithUsage(1, 1).
			Build(),
		newStreamBuilder().
			AddContent(`{"finalResponse":"done","reasoning":"both"}`).
			AddStopWithUsage(1, 1).
			Build(),
	}}
	architectHandle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().AddContent(`{"analysis":"a"}`).AddStopWithUsage(1, 1).Build(),
	}}
	perfHandle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().AddContent(`{"analysis":"b"}`).AddStopWithUsage(1, 1).Build(),
	}}
	service := &fakeService{handles: []*fakeHandle{leadHandle, architectHandle, perfHandle}}

	graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
	require.NoError(t, err)

	recorder := newHookRecorder()
	runner := NewRunner(service, tools.NewInvoker(newTestRegistry(t)), recorder.hooks())

	_, err = runner.Run(t.Context(), graph, "task")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:lead",
		"delegate:lead->architect",
		"start:architect",
		"complete:architect",
		"delegate:lead->perf",
		"start:perf",
		"complete:perf",
		"complete:lead",
	}, recorder.entries)

	turn2 := leadHandle.transcripts[1]
	require.Len(t, turn2, 4)
	assert.Equal(t, "call_a", turn2[2].ToolCallID)
	assert.Equal(t, "call_b", turn2[3].ToolCallID)
}

func TestRunnerLeadCallErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		call     *fakeStream
		wantText string
	}{
		{
			name: "unknown specialist",
			call: newStreamBuilder().
				AddToolCall("call_1", "delegate_task", `{"specialist":"nope","task":"x"}`).
				AddStopWithUsage(1, 1).
				Build(),
			wantText: `unknown specialist "nope"`,
		},
		{
			name: "foreign tool",
			call: newStreamBuilder().
				AddToolCall("call_1", "shell", `{}`).
				AddStopWithUsage(1, 1).
				Build(),
			wantText: "not available to the lead",
		},
		{
			name: "bad arguments",
			call: newStreamBuilder().
				AddToolCall("call_1", "delegate_task", `not json`).
				AddStopWithUsage(1, 1).
				Build(),
			wantText: "invalid delegate_task arguments",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			leadHandle := &fakeHandle{turns: []*fakeStream{
				tt.call,
				newStreamBuilder().AddContent(`{"finalResponse":"ok","reasoning":"r"}`).AddStopWithUsage(1, 1).Build(),
			}}
			service := &fakeService{handles: []*fakeHandle{leadHandle}}

			graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
			require.NoError(t, err)

			recorder := newHookRecorder()
			runner := NewRunner(service, tools.NewInvoker(newTestRegistry(t)), recorder.hooks())

			_, err = runner.Run(t.Context(), graph, "task")
			require.NoError(t, err)

			turn2 := leadHandle.transcripts[1]
			result := turn2[len(turn2)-1]
			assert.Equal(t, provider.MessageRoleTool, result.Role)
			assert.True(t, result.IsError)
			assert.Contains(t, result.Content, tt.wantText)

			// No specialist ever started.
			assert.Equal(t, []string{"start:lead", "complete:lead"}, recorder.entries)
		})
	}
}

func TestRunUnitExecutesToolBatch(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().
			AddContent("inspecting").
			AddToolCall("call_1", "read_file", `{"path":"a.go"}`).
			AddToolCall("call_2", "search_code", `{"query":"foo"}`).
			AddStopWithUsage(3, 3).
			Build(),
		newStreamBuilder().
			AddContent(`{"analysis":"found it"}`).
			AddStopWithUsage(2, 2).
			Build(),
	}}
	service := &fakeService{handles: []*fakeHandle{handle}}

	registry := newTestRegistry(t)
	builder := NewBuilder(registry)
	unit := builder.SpecialistUnit(testProfiles()[0])

	recorder := newHookRecorder()
	runner := NewRunner(service, tools.NewInvoker(registry), recorder.hooks())

	text, err := runner.RunUnit(t.Context(), unit, "dig in")
	require.NoError(t, err)
	assert.Contains(t, text, "found it")
	assert.Equal(t, "inspecting", recorder.deltas["architect"])

	// Pending events for the whole batch precede every final event.
	require.Len(t, recorder.toolEvents, 4)
	assert.Empty(t, recorder.toolEvents[0].Output)
	assert.Empty(t, recorder.toolEvents[1].Output)
	assert.Equal(t, "read_file ok", recorder.toolEvents[2].Output)
	assert.Equal(t, "search_code ok", recorder.toolEvents[3].Output)
	assert.Equal(t, recorder.toolEvents[0].CallID, recorder.toolEvents[2].CallID)
	assert.Equal(t, recorder.toolEvents[1].CallID, recorder.toolEvents[3].CallID)

	turn2 := handle.transcripts[1]
	require.Len(t, turn2, 4)
	assert.Equal(t, provider.MessageRoleAssistant, turn2[1].Role)
	require.Len(t, turn2[1].ToolCalls, 2)
	assert.Equal(t, "read_file ok", turn2[2].Content)
	assert.Equal(t, "search_code ok", turn2[3].Content)
}

func TestRunUnitApprovalGate(t *testing.T) {
	t.Parallel()

	t.Run("denied", func(t *testing.T) {
		t.Parallel()

		handle := &fakeHandle{turns: []*fakeStream{
			newStreamBuilder().
				AddApprovalCall("call_1", "shell", `{"cmd":"rm -rf"}`).
				AddStopWithUsage(1, 1).
				Build(),
			newStreamBuilder().AddContent(`{"analysis":"done without shell"}`).AddStopWithUsage(1, 1).Build(),
		}}
		service := &fakeService{handles: []*fakeHandle{handle}}

		registry := newTestRegistry(t)
		unit := NewBuilder(registry).SpecialistUnit(testProfiles()[0])

		recorder := newHookRecorder()
		runner := NewRunner(service, tools.NewInvoker(registry), recorder.hooks(),
			WithApprover(func(context.Context, tools.ToolCall) bool { return false }))

		_, err := runner.RunUnit(t.Context(), unit, "task")
		require.NoError(t, err)

		require.Len(t, recorder.toolEvents, 2)
		denied := recorder.toolEvents[1]
		assert.Equal(t, tools.ErrorKindDenied, denied.ErrorKind)
		assert.Equal(t, "denied by user", denied.Error)

		result := handle.transcripts[1][2]
		assert.True(t, result.IsError)
		assert.Equal(t, "denied by user", result.Content)
	})

	t.Run("approved", func(t *testing.T) {
		t.Parallel()

		handle := &fakeHandle{turns: []*fakeStream{
			newStreamBuilder().
				AddApprovalCall("call_1", "shell", `{"cmd":"go vet"}`).
				AddStopWithUsage(1, 1).
				Build(),
			newStreamBuilder().AddContent(`{"analysis":"ran it"}`).AddStopWithUsage(1, 1).Build(),
		}}
		service := &fakeService{handles: []*fakeHandle{handle}}

		registry := newTestRegistry(t)
		unit := NewBuilder(registry).SpecialistUnit(testProfiles()[0])

		var asked []string
		recorder := newHookRecorder()
		runner := NewRunner(service, tools.NewInvoker(registry), recorder.hooks(),
			WithApprover(func(_ context.Context, call tools.ToolCall) bool {
				asked = append(asked, call.Function.Name)
				return true
			}))

		_, err := runner.RunUnit(t.Context(), unit, "task")
		require.NoError(t, err)

		assert.Equal(t, []string{"shell"}, asked)
		result := handle.transcripts[1][2]
		assert.False(t, result.IsError)
		assert.Equal(t, "shell ok", result.Content)
	})
}

func TestRunUnitBriefing(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().AddContent(`{"analysis":"a"}`).AddStopWithUsage(1, 1).Build(),
	}}
	service := &fakeService{handles: []*fakeHandle{handle}}

	registry := newTestRegistry(t)
	unit := NewBuilder(registry).SpecialistUnit(testProfiles()[0])

	recorder := newHookRecorder()
	recorder.briefings["architect"] = "Earlier findings:\n- perf: bottleneck found"
	runner := NewRunner(service, tools.NewInvoker(registry), recorder.hooks())

	_, err := runner.RunUnit(t.Context(), unit, "design it")
	require.NoError(t, err)

	first := handle.transcripts[0][0]
	assert.Equal(t, "design it\n\nEarlier findings:\n- perf: bottleneck found", first.Content)
}

func TestRunUnitTurnCap(t *testing.T) {
	t.Parallel()

	loop := func() *fakeStream {
		return newStreamBuilder().
			AddToolCall("", "read_file", `{}`).
			AddStopWithUsage(1, 1).
			Build()
	}
	handle := &fakeHandle{turns: []*fakeStream{loop(), loop(), loop()}}
	service := &fakeService{handles: []*fakeHandle{handle}}

	registry := newTestRegistry(t)
	unit := NewBuilder(registry).SpecialistUnit(testProfiles()[0])

	runner := NewRunner(service, tools.NewInvoker(registry), Hooks{}, WithMaxTurns(2))

	_, err := runner.RunUnit(t.Context(), unit, "task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 2 turns")
}

func TestRunnerGenerationFailures(t *testing.T) {
	t.Parallel()

	t.Run("create session fails", func(t *testing.T) {
		t.Parallel()

		service := &fakeService{createErr: errors.New("no capacity")}
		graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
		require.NoError(t, err)

		runner := NewRunner(service, tools.NewInvoker(newTestRegistry(t)), Hooks{})
		_, err = runner.Run(t.Context(), graph, "task")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create lead session")
	})

	t.Run("mid-stream error", func(t *testing.T) {
		t.Parallel()

		leadHandle := &fakeHandle{turns: []*fakeStream{
			newStreamBuilder().AddContent("partial").FailWith(errors.New("connection reset")).Build(),
		}}
		service := &fakeService{handles: []*fakeHandle{leadHandle}}
		graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
		require.NoError(t, err)

		recorder := newHookRecorder()
		runner := NewRunner(service, tools.NewInvoker(newTestRegistry(t)), recorder.hooks())

		_, err = runner.Run(t.Context(), graph, "task")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NotContains(t, recorder.entries, "complete:lead")
	})

	t.Run("specialist failure aborts run", func(t *testing.T) {
		t.Parallel()

		leadHandle := &fakeHandle{turns: []*fakeStream{
			newStreamBuilder().
				AddToolCall("call_1", "delegate_task", `{"specialist":"architect","task":"x"}`).
				AddStopWithUsage(1, 1).
				Build(),
		}}
		architectHandle := &fakeHandle{turns: []*fakeStream{
			newStreamBuilder().FailWith(errors.New("stream broke")).Build(),
		}}
		service := &fakeService{handles: []*fakeHandle{leadHandle, architectHandle}}
		graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
		require.NoError(t, err)

		runner := NewRunner(service, tools.NewInvoker(newTestRegistry(t)), Hooks{})
		_, err = runner.Run(t.Context(), graph, "task")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "specialist architect")
		assert.Contains(t, err.Error(), "stream broke")
	})

	t.Run("missing final event", func(t *testing.T) {
		t.Parallel()

		leadHandle := &fakeHandle{turns: []*fakeStream{
			newStreamBuilder().AddContent("text but no final").Build(),
		}}
		service := &fakeService{handles: []*fakeHandle{leadHandle}}
		graph, err := NewBuilder(newTestRegistry(t)).Build(testProfiles())
		require.NoError(t, err)

		runner := NewRunner(service, tools.NewInvoker(newTestRegistry(t)), Hooks{})
		_, err = runner.Run(t.Context(), graph, "task")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "without a final event")
	})
}

func TestRunnerAssignsMissingCallIDs(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{turns: []*fakeStream{
		newStreamBuilder().
			AddToolCall("", "read_file", `{}`).
			AddStopWithUsage(1, 1).
			Build(),
		newStreamBuilder().AddContent(`{"analysis":"a"}`).AddStopWithUsage(1, 1).Build(),
	}}
	service := &fakeService{handles: []*fakeHandle{handle}}

	registry := newTestRegistry(t)
	unit := NewBuilder(registry).SpecialistUnit(testProfiles()[0])

	recorder := newHookRecorder()
	runner := NewRunner(service, tools.NewInvoker(registry), recorder.hooks())

	_, err := runner.RunUnit(t.Context(), unit, "task")
	require.NoError(t, err)

	require.Len(t, recorder.toolEvents, 2)
	assert.NotEmpty(t, recorder.toolEvents[0].CallID)
	assert.Equal(t, recorder.toolEvents[0].CallID, recorder.toolEvents[1].CallID)

	turn2 := handle.transcripts[1]
	assert.Equal(t, recorder.toolEvents[0].CallID, turn2[1].ToolCalls[0].ID)
	assert.Equal(t, recorder.toolEvents[0].CallID, turn2[2].ToolCallID)
}
