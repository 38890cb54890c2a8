package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Loading records") }, "🔍 Loading records\n"},
		{"indented", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"success", func(w *Writer) { w.Successf("Indexed %d chunks", 3) }, "✅ Indexed 3 chunks\n"},
		{"warning", func(w *Writer) { w.Warningf("checkpoint at %d", 4) }, "⚠️  checkpoint at 4\n"},
		{"error", func(w *Writer) { w.Errorf("failed") }, "❌ failed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_ProgressNonInteractive(t *testing.T) {
	// Given: a writer on a buffer (not a terminal)
	buf := &bytes.Buffer{}
	w := New(buf)
	assert.False(t, w.Interactive())

	// When: reporting progress up to completion
	w.Progress(1, 3, "embedding")
	w.Progress(3, 3, "embedding")
	w.Progress(0, 0, "ignored")

	// Then: only the completion line is printed
	assert.Equal(t, "embedding: 3/3\n", buf.String())
}

func TestWriter_ProgressInteractive(t *testing.T) {
	// Given: a writer forced into terminal mode
	buf := &bytes.Buffer{}
	w := &Writer{out: buf, interactive: true, styles: newStyles()}

	// When: drawing an intermediate and a final update
	w.Progress(1, 2, "embedding")
	w.Progress(2, 2, "embedding")

	// Then: each redraw starts with a carriage return and the last ends the line
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, " 50%")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "embedding")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestWriter_Fields(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Fields([][2]string{{"Records", "12"}, {"Index entries", "340"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	// values share a column
	assert.Equal(t, strings.Index(lines[0], "12"), strings.Index(lines[1], "340"))
}

func TestWriter_Passage(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Passage(1, "PPC 379", "Official PDF", 0.8123, "Whoever commits theft shall be punished", 14)

	out := buf.String()
	assert.Contains(t, out, "1. PPC 379 (Official PDF)  [0.812]")
	assert.Contains(t, out, "   Whoever commit…")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("  abc  ", 10))
	assert.Equal(t, "ab…", Truncate("abc def", 2))
	assert.Equal(t, "دفعہ…", Truncate("دفعہ ۳۰۲", 4))
	assert.Equal(t, "long text", Truncate("long text", 0))
}
