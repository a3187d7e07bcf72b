package openai

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: "gpt-4o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")

	_, err = New(Config{APIKey: "sk-test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")

	client, err := New(Config{APIKey: "sk-test", Model: "gpt-4o", Headers: map[string]string{"X-Title": "ouroboros"}})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestConvertMessages(t *testing.T) {
	t.Parallel()

	s := &session{system: "You are a specialist."}
	call := tools.ToolCall{ID: "call_1", Function: tools.FunctionCall{Name: "shell", Arguments: `{"cmd":"ls"}`}}

	converted := s.convertMessages([]provider.Message{
		provider.UserMessage("list files"),
		provider.AssistantMessage("", call),
		provider.ToolResultMessage("call_1", "a.go", false),
	})

	require.Len(t, converted, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, converted[0].Role)
	assert.Equal(t, "You are a specialist.", converted[0].Content)
	assert.Equal(t, "user", converted[1].Role)

	require.Len(t, converted[2].ToolCalls, 1)
	assert.Equal(t, "call_1", converted[2].ToolCalls[0].ID)
	assert.Equal(t, openai.ToolTypeFunction, converted[2].ToolCalls[0].Type)
	assert.Equal(t, "shell", converted[2].ToolCalls[0].Function.Name)

	assert.Equal(t, "tool", converted[3].Role)
	assert.Equal(t, "call_1", converted[3].ToolCallID)
}

func TestConvertTools(t *testing.T) {
	t.Parallel()

	type shellArgs struct {
		Cmd string `json:"cmd" jsonschema:"Command to run"`
	}

	converted, err := convertTools([]tools.Tool{
		{
			Name:        "shell",
			Description: "Run a command",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"cmd": map[string]any{"type": "string"}},
				"required":   []string{"cmd"},
			},
		},
		{Name: "shell_typed", Description: "Run a command", Parameters: tools.MustSchemaFor[shellArgs]()},
		{Name: "noop", Description: "No parameters"},
	})
	require.NoError(t, err)

	require.Len(t, converted, 3)
	assert.Equal(t, openai.ToolTypeFunction, converted[0].Type)
	assert.Equal(t, "shell", converted[0].Function.Name)
	assert.Equal(t, "Run a command", converted[0].Function.Description)

	params, ok := converted[0].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, params["properties"], "cmd")

	typed, ok := converted[1].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, typed["properties"], "cmd")

	assert.Equal(t, json.RawMessage("{}"), converted[2].Function.Parameters)

	empty, err := convertTools(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func intPtr(i int) *int { return &i }

func testStream(spec provider.SessionSpec) *turnStream {
	return &turnStream{
		spec:       spec,
		byIndex:    make(map[int]*pendingCall),
		stopReason: provider.StopReasonEndTurn,
	}
}

func drain(s *turnStream) []provider.TurnEvent {
	events := s.queue
	s.queue = nil
	return events
}

func TestStreamTextDeltas(t *testing.T) {
	t.Parallel()

	s := testStream(provider.SessionSpec{})
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "Hello "}}},
	})
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "world"}, FinishReason: openai.FinishReasonStop}},
	})
	s.finish()

	events := drain(s)
	require.Len(t, events, 3)
	assert.Equal(t, "Hello ", events[0].(*provider.TextDeltaEvent).Text)
	assert.Equal(t, "world", events[1].(*provider.TextDeltaEvent).Text)

	final, ok := events[2].(*provider.FinalEvent)
	require.True(t, ok)
	assert.Equal(t, "Hello world", final.Text)
	assert.Equal(t, provider.StopReasonEndTurn, final.StopReason)
}

func TestStreamAccumulatesToolCallFragments(t *testing.T) {
	t.Parallel()

	s := testStream(provider.SessionSpec{})

	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{
				{Index: intPtr(0), ID: "call_1", Type: "function", Function: openai.FunctionCall{Name: "shell", Arguments: `{"cmd":`}},
				{Index: intPtr(1), ID: "call_2", Type: "function", Function: openai.FunctionCall{Name: "read_file", Arguments: `{"path":"a.go"}`}},
			},
		}}},
	})
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{
				{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `"ls"}`}},
			},
		}}},
	})
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonToolCalls}},
	})
	s.handle(&openai.ChatCompletionStreamResponse{
		Usage: &openai.Usage{PromptTokens: 12, CompletionTokens: 34},
	})
	s.finish()

	events := drain(s)
	require.Len(t, events, 3)

	first, ok := events[0].(*provider.ToolCallEvent)
	require.True(t, ok)
	assert.Equal(t, "call_1", first.Call.ID)
	assert.Equal(t, "shell", first.Call.Function.Name)
	assert.JSONEq(t, `{"cmd":"ls"}`, first.Call.Function.Arguments)

	second, ok := events[1].(*provider.ToolCallEvent)
	require.True(t, ok)
	assert.Equal(t, "call_2", second.Call.ID)

	final, ok := events[2].(*provider.FinalEvent)
	require.True(t, ok)
	assert.Equal(t, provider.StopReasonToolUse, final.StopReason)
	assert.Equal(t, int64(12), final.Usage.InputTokens)
	assert.Equal(t, int64(34), final.Usage.OutputTokens)
}

func TestStreamEmptyArgumentsDefaultToObject(t *testing.T) {
	t.Parallel()

	s := testStream(provider.SessionSpec{})
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "noop"}}},
		}}},
	})
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonToolCalls}},
	})

	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, "{}", events[0].(*provider.ToolCallEvent).Call.Function.Arguments)
}

func TestStreamApprovalClassification(t *testing.T) {
	t.Parallel()

	spec := provider.SessionSpec{
		Tools: []tools.Tool{{Name: "shell", Annotations: tools.ToolAnnotations{RequiresApproval: true}}},
	}
	s := testStream(spec)
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "shell", Arguments: "{}"}}},
		}}},
	})
	s.handle(&openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonToolCalls}},
	})

	events := drain(s)
	require.Len(t, events, 1)
	approval, ok := events[0].(*provider.ToolApprovalEvent)
	require.True(t, ok)
	assert.Equal(t, "shell", approval.Call.Function.Name)
}
