package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/lm-plugin/worker/pkg/types"
)

// renderer prints notifications and sessions to the terminal.
type renderer struct {
	out     io.Writer
	json    bool
	verbose bool
}

func newRenderer(noColor, asJSON, verbose bool) *renderer {
	if noColor {
		color.NoColor = true
	}
	return &renderer{out: os.Stdout, json: asJSON, verbose: verbose}
}

// Banner announces the connection on stderr.
func (r *renderer) Banner(url string) {
	fmt.Fprintln(os.Stderr, color.New(color.FgHiBlack).Sprintf("Connected to %s", url))
}

// Trace prints progress in verbose mode.
func (r *renderer) Trace(format string, args ...any) {
	if !r.verbose {
		return
	}
	fmt.Fprintln(os.Stderr, color.New(color.FgHiBlack).Sprintf("[trace] "+format, args...))
}

// Error prints a worker error notification.
func (r *renderer) Error(message string) {
	if r.json {
		r.emit(map[string]string{"type": "error", "message": message})
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", color.New(color.FgRed, color.Bold).Sprint("error ›"), message)
}

// Session prints the chat of s.
func (r *renderer) Session(s types.SessionState) {
	if r.json {
		r.emit(s)
		return
	}
	if len(s.ChatMessages) == 0 {
		fmt.Fprintln(r.out, color.New(color.FgHiBlack).Sprintf("(empty chat, %d backend messages)", len(s.APIMessages)))
		return
	}
	for _, m := range s.ChatMessages {
		label := color.New(color.FgGreen, color.Bold).Sprint("assistant ›")
		if m.Role == types.RoleUser {
			label = color.New(color.FgCyan, color.Bold).Sprint("you ›")
		}
		fmt.Fprintf(r.out, "%s %s\n", label, m.Content)
		if r.verbose {
			fmt.Fprintln(r.out, color.New(color.FgHiBlack).Sprintf("  #%d %s %s", m.ID, m.Kind, m.Status))
		}
	}
}

func (r *renderer) emit(v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(r.out, string(b))
}
