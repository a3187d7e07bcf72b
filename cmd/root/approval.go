package root

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// terminalApprover asks the user before an approval-gated tool call runs.
// The runner consults it sequentially from its own goroutine; the mutex keeps
// the "approve all" answer consistent if a caller ever shares one approver
// across runs.
type terminalApprover struct {
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner

	mu         sync.Mutex
	approveAll bool
}

func newTerminalApprover(in io.Reader, out io.Writer) *terminalApprover {
	return &terminalApprover{in: in, out: out, scanner: bufio.NewScanner(in)}
}

// approve implements delegation.Approver.
func (a *terminalApprover) approve(ctx context.Context, call tools.ToolCall) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.approveAll {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	fmt.Fprintf(a.out, "\n%s\n", bold(yellow("Tool call requires confirmation")))
	fmt.Fprintf(a.out, "%s\n", white("%s(%s)", bold(call.Function.Name), call.Function.Arguments))
	fmt.Fprintf(a.out, "%s", bold(yellow("Run this tool? ([y]es/[a]ll/[n]o): ")))

	switch a.readAnswer() {
	case 'a':
		a.approveAll = true
		fmt.Fprintln(a.out, bold("Yes to all"))
		return true
	case 'y':
		fmt.Fprintln(a.out, bold("Yes"))
		return true
	default:
		fmt.Fprintln(a.out, bold("No"))
		return false
	}
}

// readAnswer reads a single key in raw mode when input is a terminal (no
// Enter required), falling back to line input.
func (a *terminalApprover) readAnswer() byte {
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		if oldState, err := term.MakeRaw(fd); err == nil {
			defer func() { _ = term.Restore(fd, oldState) }()
			buf := make([]byte, 1)
			for {
				if _, err := f.Read(buf); err != nil {
					break
				}
				switch buf[0] {
				case 'y', 'Y':
					return 'y'
				case 'a', 'A':
					return 'a'
				case 'n', 'N':
					return 'n'
				case 3: // Ctrl+C
					return 'n'
				}
			}
		}
	}

	if !a.scanner.Scan() {
		return 'n'
	}
	switch strings.TrimSpace(a.scanner.Text()) {
	case "y", "Y":
		return 'y'
	case "a", "A":
		return 'a'
	default:
		return 'n'
	}
}
