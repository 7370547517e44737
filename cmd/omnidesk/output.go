package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/omnitech/omnidesk/internal/agent"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	stepColor    = color.New(color.FgCyan)
	labelColor   = color.New(color.Bold)
	queryColor   = color.New(color.FgGreen, color.Bold)
	answerColor  = color.New(color.FgCyan)
	workflowTag  = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
)

func printSuccess(format string, args ...any) {
	successColor.Fprintln(os.Stderr, "✓ "+fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	errorColor.Fprintln(os.Stderr, "✗ "+fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	warningColor.Fprintln(os.Stderr, "⚠ "+fmt.Sprintf(format, args...))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", labelColor.Sprint(label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	stepColor.Fprintln(os.Stderr, "→ "+fmt.Sprintf(format, args...))
}

// printResponse renders one agent answer the way the chat loop shows it:
// a workflow tag, the answer text, then sources and tool activity.
func printResponse(w io.Writer, r agent.Response) {
	tag := "[" + string(r.Workflow)
	if r.Category != "" {
		tag += " · " + r.Category
	}
	tag += "]"
	fmt.Fprintln(w, workflowTag.Sprint(tag))
	fmt.Fprintln(w, answerColor.Sprint(r.Text))

	if len(r.Sources) > 0 {
		fmt.Fprintln(w, dimColor.Sprint("Sources: "+strings.Join(r.Sources, ", ")))
	}
	if len(r.ToolCalls) > 0 {
		names := make([]string, 0, len(r.ToolCalls))
		for _, c := range r.ToolCalls {
			n := c.Tool
			if !c.Success {
				n += " (failed)"
			}
			names = append(names, n)
		}
		fmt.Fprintln(w, dimColor.Sprint("Tools: "+strings.Join(names, ", ")))
	}
	if r.TicketID != 0 {
		fmt.Fprintln(w, successColor.Sprintf("Ticket #%d opened", r.TicketID))
	}
	for _, f := range r.SecurityFlags {
		fmt.Fprintln(w, warningColor.Sprintf("Security: %s (%s, %s)", f.Pattern, f.Category, f.Severity))
	}
	if r.Unavailable {
		fmt.Fprintln(w, errorColor.Sprint("The language model is unavailable."))
	} else if r.Degraded {
		fmt.Fprintln(w, warningColor.Sprint("Answered from the knowledge base only."))
	}
}
