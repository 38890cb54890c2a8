// Package output formats CLI status lines, progress, and retrieved passages.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out         io.Writer
	interactive bool
	styles      *styles
}

// New creates a Writer. Colors and in-place progress bars are used only
// when out is a terminal.
func New(out io.Writer) *Writer {
	return &Writer{out: out, interactive: IsTerminal(out), styles: newStyles()}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Interactive reports whether the writer targets a terminal.
func (w *Writer) Interactive() bool { return w.interactive }

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Status("✅", w.paint(w.styles.success, fmt.Sprintf(format, args...)))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status("⚠️ ", w.paint(w.styles.warning, fmt.Sprintf(format, args...)))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status("❌", w.paint(w.styles.err, fmt.Sprintf(format, args...)))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress redraws a progress bar on terminals. Elsewhere it prints one
// line per call when current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	if !w.interactive {
		if current >= total {
			_, _ = fmt.Fprintf(w.out, "%s: %d/%d\n", msg, current, total)
		}
		return
	}

	bar := w.styles.bar.ViewAs(min(pct/100, 1))
	_, _ = fmt.Fprintf(w.out, "\r%s %3.0f%% %s", bar, pct, w.paint(w.styles.dim, msg))
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// Fields prints aligned key/value pairs.
func (w *Writer) Fields(pairs [][2]string) {
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	for _, p := range pairs {
		_, _ = fmt.Fprintf(tw, "  %s:\t%s\n", p[0], p[1])
	}
	_ = tw.Flush()
}

// Passage prints one ranked search hit. A negative score is omitted.
func (w *Writer) Passage(rank int, title, source string, score float32, text string, maxRunes int) {
	header := w.paint(w.styles.header, fmt.Sprintf("%d. %s", rank, title))
	if source != "" {
		header += " (" + source + ")"
	}
	if score >= 0 {
		header += w.paint(w.styles.dim, fmt.Sprintf("  [%.3f]", score))
	}
	_, _ = fmt.Fprintln(w.out, header)
	for _, line := range strings.Split(Truncate(text, maxRunes), "\n") {
		_, _ = fmt.Fprintf(w.out, "   %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Truncate shortens s to maxRunes runes, adding an ellipsis. maxRunes <= 0
// disables truncation.
func Truncate(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(r[:maxRunes])) + "…"
}
