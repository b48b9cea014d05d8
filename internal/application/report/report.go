// Package report renders the terminal summary of a run.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"applet-tester/internal/domain/model"
)

var (
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3FB950"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(10)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Verdict is the one word outcome of a run.
func Verdict(r *model.RunResult) string {
	switch {
	case r.Success():
		return "PASSED"
	case r.Err != nil && r.JobID == "":
		return "ERROR"
	default:
		return "FAILED"
	}
}

// Render returns the boxed summary of r.
func Render(r *model.RunResult) string {
	verdict := Verdict(r)
	head := failStyle.Render(verdict)
	if verdict == "PASSED" {
		head = passStyle.Render(verdict)
	}

	rows := [][2]string{
		{"applet", r.Identity.AppletName()},
		{"backend", r.Backend},
	}
	if r.JobID != "" {
		rows = append(rows, [2]string{"job", fmt.Sprintf("%s (%s)", r.JobID, r.JobState)})
	}
	rows = append(rows, [2]string{"tests", r.Summary.String()})
	if r.LogPath != "" {
		rows = append(rows, [2]string{"log", r.LogPath})
	}
	if d := r.Duration(); d > 0 {
		rows = append(rows, [2]string{"duration", d.Round(time.Second).String()})
	}
	if r.Err != nil {
		rows = append(rows, [2]string{"error", firstLine(r.Err.Error())})
	}

	lines := []string{head}
	for _, row := range rows {
		lines = append(lines, labelStyle.Render(row[0])+row[1])
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
