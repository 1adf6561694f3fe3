package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/streamx/pkg/health"
)

// Theme is the color scheme for rendered output.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Warn    lipgloss.Color
}

// DefaultTheme is bright green on the terminal default.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Warn:    lipgloss.Color("#ffb86c"),
}

// Styles are derived from a Theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Warn   lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
}

// NewStyles derives styles from t.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Foreground(t.Dim).Width(18),
		Value:  lipgloss.NewStyle().Bold(true),
		Warn:   lipgloss.NewStyle().Bold(true).Foreground(t.Warn),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// RenderSnapshot draws s as a bordered table.
func RenderSnapshot(s health.Snapshot, st Styles) string {
	errStyle := st.Value
	if s.ErrorRate > 0 {
		errStyle = st.Warn
	}
	rows := []struct {
		label string
		value string
		style lipgloss.Style
	}{
		{"active streams", fmt.Sprint(s.ActiveStreams), st.Value},
		{"processed", fmt.Sprint(s.TotalStreamsProcessed), st.Value},
		{"avg duration", FormatDuration(time.Duration(s.AverageStreamDuration * float64(time.Second))), st.Value},
		{"retry rate", FormatPercent(s.ErrorRate), errStyle},
		{"throughput", FormatRate(s.ThroughputEstimate), st.Value},
	}
	lines := []string{st.Title.Render("streamx health")}
	for _, r := range rows {
		lines = append(lines, st.Label.Render(r.label)+r.style.Render(r.value))
	}
	lines = append(lines, st.Help.Render("at "+s.At.Time().Format(time.RFC3339)))
	return st.Border.Render(strings.Join(lines, "\n"))
}

// RenderStreams draws one line per stream metric, newest last.
func RenderStreams(ms []health.StreamMetrics, st Styles) string {
	if len(ms) == 0 {
		return st.Help.Render("no streams")
	}
	var b strings.Builder
	for i, m := range ms {
		if i > 0 {
			b.WriteByte('\n')
		}
		state := "live"
		if m.EndTime != nil {
			state = FormatDuration(m.Duration())
		}
		line := fmt.Sprintf("%-24s %6d chunks %10s  %s", m.StreamID, m.ChunksReceived, FormatBytes(m.BytesReceived), state)
		if m.RetryCount > 0 {
			b.WriteString(st.Warn.Render(fmt.Sprintf("%s  retries=%d", line, m.RetryCount)))
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}
