package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lm-plugin/worker/pkg/types"
)

func TestRender(t *testing.T) {
	r := New()

	tests := []struct {
		name  string
		input string
		want  []string
		not   []string
	}{
		{name: "emphasis", input: "**bold** and *it*", want: []string{"<strong>bold</strong>", "<em>it</em>"}},
		{name: "hard wraps", input: "line one\nline two", want: []string{"line one<br>"}},
		{name: "linkify", input: "see https://example.com now", want: []string{`<a href="https://example.com">https://example.com</a>`}},
		{name: "raw html omitted", input: "<script>alert(1)</script>", not: []string{"<script>"}},
		{name: "list", input: "- a\n- b", want: []string{"<ul>", "<li>a</li>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(tt.input)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, n := range tt.not {
				assert.NotContains(t, got, n)
			}
		})
	}
}

func TestRenderFinishedAndApply(t *testing.T) {
	r := New()
	msgs := []types.ChatMessage{
		{ID: 1, Status: types.ChatFinishedAndRendered, Content: "<p>old</p>"},
		{ID: 2, Status: types.ChatFinished, Content: "**new**"},
		{ID: 3, Status: types.ChatStreaming, Content: "partial"},
		{ID: 4, Status: types.ChatFinished, Content: ""},
	}
	require.True(t, Pending(msgs))

	rendered := r.RenderFinished(msgs)
	assert.Len(t, rendered, 2)

	out, changed := Apply(msgs, rendered)
	require.True(t, changed)
	assert.Equal(t, "<p>old</p>", out[0].Content)
	assert.Equal(t, types.ChatFinishedAndRendered, out[1].Status)
	assert.True(t, strings.Contains(out[1].Content, "<strong>new</strong>"))
	assert.Equal(t, types.ChatStreaming, out[2].Status)
	assert.Equal(t, types.ChatFinishedAndRendered, out[3].Status, "empty finished entries are flipped too")
	assert.False(t, Pending(out))

	// The input is not modified.
	assert.Equal(t, types.ChatFinished, msgs[1].Status)

	// Applying the same result again changes nothing.
	again, changed := Apply(out, rendered)
	assert.False(t, changed)
	assert.Equal(t, out, again)
}

func TestApplySkipsEntriesThatMovedOn(t *testing.T) {
	rendered := map[int]string{1: "<p>x</p>"}

	// The entry was cleared and replaced by a new request with the same id.
	msgs := []types.ChatMessage{{ID: 1, Status: types.ChatRequested}}
	out, changed := Apply(msgs, rendered)
	assert.False(t, changed)
	assert.Equal(t, types.ChatRequested, out[0].Status)
}
