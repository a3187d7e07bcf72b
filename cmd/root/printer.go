package root

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/orchestrator"
)

// text colors
var (
	blue   = color.New(color.FgBlue).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	gray   = color.New(color.FgHiBlack).SprintfFunc()
	white  = color.New(color.FgWhite).SprintfFunc()
)

// text styles
var bold = color.New(color.Bold).SprintfFunc()

// printer renders a progress stream as plain sequential output. Progress
// events carry overlapping tail windows of each specialist's streamed text;
// the printer keeps the last window per specialist and writes only what the
// new window appends, so the terminal shows the text once, in order.
type printer struct {
	out    io.Writer
	tails  map[string]string
	calls  map[string]bool
	openID string
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:   out,
		tails: make(map[string]string),
		calls: make(map[string]bool),
	}
}

func (p *printer) print(event orchestrator.Event) {
	switch ev := event.(type) {
	case *orchestrator.SpecialistStartEvent:
		p.breakLine()
		fmt.Fprintf(p.out, "\n%s\n", blue("--- Wave %d: %s ---", ev.Wave, bold(ev.SpecialistName)))
		fmt.Fprintf(p.out, "%s\n", gray("%s", rosterLine(ev.Roster)))

	case *orchestrator.SpecialistProgressEvent:
		appended := appendedText(p.tails[ev.SpecialistID], ev.Text)
		p.tails[ev.SpecialistID] = ev.Text
		if appended == "" {
			return
		}
		if p.openID != "" && p.openID != ev.SpecialistID {
			p.breakLine()
		}
		fmt.Fprint(p.out, gray("%s", appended))
		p.openID = ev.SpecialistID

	case *orchestrator.ToolActivityEvent:
		p.breakLine()
		p.printToolEvent(ev)

	case *orchestrator.SpecialistCompleteEvent:
		p.breakLine()
		r := ev.Result
		line := fmt.Sprintf("%s done (confidence %.2f)", r.Profile.DisplayName(), r.Confidence)
		if len(r.Handoff) > 0 {
			line += ", requests " + strings.Join(r.Handoff, ", ")
		}
		fmt.Fprintf(p.out, "%s\n", blue("%s", line))

	case *orchestrator.CompleteEvent:
		p.breakLine()
		p.printResult(ev.Result)

	case *orchestrator.FallbackEvent:
		p.breakLine()
		fmt.Fprintf(p.out, "\n%s\n", yellow("Proceeding without orchestration: %s", ev.Reason))
		if ev.Err != nil {
			fmt.Fprintf(p.out, "%s\n", gray("cause: %v", ev.Err))
		}
	}
}

// printToolEvent writes the call line on a call id's first sighting and the
// result line when its final event arrives.
func (p *printer) printToolEvent(ev *orchestrator.ToolActivityEvent) {
	e := ev.Event
	if !p.calls[e.CallID] {
		p.calls[e.CallID] = true
		fmt.Fprintf(p.out, "%s\n", gray("%s%s", bold(e.Tool), formatToolArguments(e.Arguments)))
		if e.Output == "" && e.Error == "" {
			return
		}
	}
	if e.Failed() {
		fmt.Fprintf(p.out, "%s\n", red("%s → %s", bold(e.Tool), e.Error))
		return
	}
	fmt.Fprintf(p.out, "%s\n", gray("%s → %s", bold(e.Tool), oneLine(e.Output, 160)))
}

func (p *printer) printResult(res *orchestrator.ExecutionResult) {
	fmt.Fprintf(p.out, "\n%s\n\n%s\n", blue("------- Final response -------"), res.FinalResponse)
	if res.Reasoning != "" {
		fmt.Fprintf(p.out, "\n%s\n%s\n", bold("Reasoning:"), gray("%s", res.Reasoning))
	}
	fmt.Fprintf(p.out, "\n%s\n", gray("%d specialists in %d waves, %s, tokens in/out %d/%d",
		res.SpecialistCount, len(res.Timeline), res.Duration.Round(time.Millisecond),
		res.Usage.InputTokens, res.Usage.OutputTokens))
}

// breakLine closes a progress line left open by streamed text.
func (p *printer) breakLine() {
	if p.openID != "" {
		fmt.Fprintln(p.out)
		p.openID = ""
	}
}

func rosterLine(roster []orchestrator.RosterStatus) string {
	parts := make([]string, 0, len(roster))
	for _, st := range roster {
		parts = append(parts, stateMark(st.State)+" "+st.Name)
	}
	return strings.Join(parts, "  ")
}

func stateMark(state orchestrator.RosterState) string {
	switch state {
	case orchestrator.RosterStateDone:
		return "✔"
	case orchestrator.RosterStateRunning:
		return "▶"
	default:
		return "·"
	}
}

// appendedText returns what next adds beyond prev, where both are trailing
// windows of the same growing text. Once the window starts sliding, the old
// window's tail still prefixes the new one; matching that overlap recovers
// exactly the appended part. No overlap means the text was replaced, so the
// whole new window comes back.
func appendedText(prev, next string) string {
	if prev == "" {
		return next
	}
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	for i := 1; i < len(prev); i++ {
		if strings.HasPrefix(next, prev[i:]) {
			return next[len(prev)-i:]
		}
	}
	return next
}

func formatToolArguments(args map[string]any) string {
	if len(args) == 0 {
		return "()"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "()"
	}
	return "(" + oneLine(string(data), 120) + ")"
}

// oneLine collapses whitespace and truncates to limit runes.
func oneLine(text string, limit int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= limit {
		return flat
	}
	return string(runes[:limit]) + "…"
}
