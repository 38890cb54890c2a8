package output

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Terminal palette (ANSI 256).
const (
	colorAccent   = "154"
	colorGray     = "245"
	colorRed      = "196"
	colorYellow   = "220"
	colorDarkGray = "238"
)

type styles struct {
	header  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	dim     lipgloss.Style
	bar     progress.Model
}

func newStyles() *styles {
	return &styles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		bar: progress.New(
			progress.WithSolidFill(colorAccent),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
	}
}

// paint renders s with st on terminals and leaves it plain elsewhere.
func (w *Writer) paint(st lipgloss.Style, s string) string {
	if !w.interactive {
		return s
	}
	return st.Render(s)
}
