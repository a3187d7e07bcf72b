package root

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

func shellCall() tools.ToolCall {
	return tools.ToolCall{
		ID:   "call_1",
		Type: "function",
		Function: tools.FunctionCall{
			Name:      "shell",
			Arguments: `{"cmd":"ls"}`,
		},
	}
}

func TestTerminalApproverAnswers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "yes uppercase", input: "Y\n", want: true},
		{name: "no", input: "n\n", want: false},
		{name: "garbage rejects", input: "whatever\n", want: false},
		{name: "empty input rejects", input: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			a := newTerminalApprover(strings.NewReader(tt.input), &out)

			got := a.approve(t.Context(), shellCall())

			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Run this tool?")
			assert.Contains(t, out.String(), "shell")
		})
	}
}

func TestTerminalApproverApproveAllSticks(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	a := newTerminalApprover(strings.NewReader("a\n"), &out)

	assert.True(t, a.approve(t.Context(), shellCall()))
	// No input left; the sticky answer must carry the second call.
	assert.True(t, a.approve(t.Context(), shellCall()))
	assert.Equal(t, 1, strings.Count(out.String(), "Run this tool?"))
}

func TestTerminalApproverCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var out bytes.Buffer
	a := newTerminalApprover(strings.NewReader("y\n"), &out)

	assert.False(t, a.approve(ctx, shellCall()))
	assert.NotContains(t, out.String(), "Run this tool?")
}
