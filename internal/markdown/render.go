// Package markdown renders finished chat entries to HTML for display.
package markdown

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/lm-plugin/worker/pkg/types"
)

// Renderer converts markdown to HTML. Raw HTML in the source is omitted,
// single newlines become <br>, and bare URLs become links.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a renderer.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Render converts src to HTML.
func (r *Renderer) Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Pending reports whether msgs holds a finished entry not yet rendered.
func Pending(msgs []types.ChatMessage) bool {
	for _, m := range msgs {
		if m.Status == types.ChatFinished {
			return true
		}
	}
	return false
}

// RenderFinished returns id -> HTML for every finished entry in msgs.
// Entries that fail to render keep their markdown source.
func (r *Renderer) RenderFinished(msgs []types.ChatMessage) map[int]string {
	out := make(map[int]string)
	for _, m := range msgs {
		if m.Status != types.ChatFinished {
			continue
		}
		rendered, err := r.Render(m.Content)
		if err != nil {
			rendered = m.Content
		}
		out[m.ID] = rendered
	}
	return out
}

// Apply flips each entry named in rendered to finishedAndRendered with the
// HTML, but only if it is still finished in msgs. Anything that changed in
// the meantime is left alone, so applying the same result twice is a no-op.
func Apply(msgs []types.ChatMessage, rendered map[int]string) ([]types.ChatMessage, bool) {
	out := make([]types.ChatMessage, len(msgs))
	changed := false
	for i, m := range msgs {
		if h, ok := rendered[m.ID]; ok && m.Status == types.ChatFinished {
			m.Status = types.ChatFinishedAndRendered
			m.Content = h
			changed = true
		}
		out[i] = m
	}
	return out, changed
}
