package delegation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// DelegateToolName is the only tool exposed to the lead unit.
const DelegateToolName = "delegate_task"

// DelegateArgs are the arguments of a delegate_task call.
type DelegateArgs struct {
	Specialist     string `json:"specialist" jsonschema:"Id of the specialist to delegate to"`
	Task           string `json:"task" jsonschema:"The sub-task, phrased so the specialist can work without further context"`
	ExpectedOutput string `json:"expected_output,omitempty" jsonschema:"What a good answer to the sub-task looks like"`
}

// DelegateTool synthesizes the lead's delegation tool. The description
// enumerates the specialists currently in the graph; targets are resolved
// against the live graph at call time, so specialists added mid-run are
// reachable even though the description predates them.
func DelegateTool(graph *Graph) tools.Tool {
	var sb strings.Builder
	sb.WriteString("Delegate a sub-task to one specialist and wait for its result.\n\nSpecialists:\n")
	for _, unit := range graph.Specialists() {
		sb.WriteString("- ")
		sb.WriteString(unit.ID)
		sb.WriteString(": ")
		if desc := strings.TrimSpace(unit.Profile.Description); desc != "" {
			sb.WriteString(desc)
		} else {
			sb.WriteString(unit.Name)
		}
		if len(unit.Profile.Specialties) > 0 {
			sb.WriteString(" (")
			sb.WriteString(strings.Join(unit.Profile.Specialties, ", "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nMore specialists may become available while the task runs.")

	return tools.Tool{
		Name:        DelegateToolName,
		Category:    "delegation",
		Description: sb.String(),
		Parameters:  tools.MustSchemaFor[DelegateArgs](),
		Handler: func(context.Context, tools.ToolCall) (*tools.ToolCallResult, error) {
			// The runner intercepts delegate_task calls before dispatch; a
			// call reaching this handler bypassed it.
			return nil, fmt.Errorf("%s must be handled by the delegation runner", DelegateToolName)
		},
		Annotations: tools.ToolAnnotations{Title: "Delegate task"},
	}
}
