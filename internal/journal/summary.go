package journal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	codecStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	urlStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// Summary renders the one-line colored console summary for a finished job.
func Summary(codec, title string, finalCode int, url string) string {
	if codec == "" {
		codec = "UNKNOWN"
	}
	if title == "" {
		title = "(no title)"
	}

	line := fmt.Sprintf("%s  %s  code=%d  url=%s",
		codecStyle.Render(codec),
		titleStyle.Render(title),
		finalCode,
		urlStyle.Render(url),
	)
	return strings.TrimSpace(line)
}
