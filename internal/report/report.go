// Package report renders the end-of-attempt summary shown to the student.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mucsmake/internal/sandbox"
)

// Status is the one-word outcome of an attempt.
type Status string

const (
	StatusLate          Status = "late"
	StatusCompileFailed Status = "compile-failed"
	StatusWithFindings  Status = "succeeded-with-findings"
	StatusClean         Status = "succeeded-clean"
)

// Classify picks the status with precedence late, compile-failed,
// with-findings, clean.
func Classify(onTime bool, findings sandbox.FindingSet) Status {
	switch {
	case !onTime:
		return StatusLate
	case findings.Has(sandbox.KindCompileFailure):
		return StatusCompileFailed
	case findings.Len() > 0:
		return StatusWithFindings
	default:
		return StatusClean
	}
}

// Summary is everything printed after an attempt.
type Summary struct {
	Course     string
	Group      string
	Assignment string
	User       string
	Submission string
	Status     Status
	Findings   []sandbox.Finding
	Warnings   []string
}

var (
	infoColor    = lipgloss.Color("#3498db")
	failColor    = lipgloss.Color("#e74c3c")
	warnColor    = lipgloss.Color("#f1c40f")
	successColor = lipgloss.Color("#2ecc71")

	labelStyle = lipgloss.NewStyle().Width(12)
	ruleStyle  = lipgloss.NewStyle().Foreground(infoColor)
)

const rule = "========================================="

func banner(s Status) (string, lipgloss.Color) {
	switch s {
	case StatusLate:
		return "OUTSIDE OF SUBMISSION WINDOW", failColor
	case StatusCompileFailed:
		return "FAILED TO COMPILE", failColor
	case StatusWithFindings:
		return "SUBMISSION SUCCESSFUL WITH ERRORS", warnColor
	default:
		return "SUBMISSION SUCCESSFUL", successColor
	}
}

// Render returns the full summary as styled text.
func Render(s Summary) string {
	var b strings.Builder

	b.WriteString(ruleStyle.Render(rule) + "\n")
	for _, row := range [][2]string{
		{"Course:", s.Course},
		{"Section/TA:", s.Group},
		{"Assignment:", s.Assignment},
		{"User:", s.User},
		{"Submission:", s.Submission},
	} {
		b.WriteString(labelStyle.Render(row[0]) + row[1] + "\n")
	}
	b.WriteString(ruleStyle.Render(rule) + "\n")
	b.WriteString(ruleStyle.Render(centered("SUBMISSION COMPLETE", '*')) + "\n\n")

	text, color := banner(s.Status)
	style := lipgloss.NewStyle().Foreground(color)
	b.WriteString(style.Render(rule) + "\n")
	b.WriteString(style.Bold(true).Render(centered(text, '*')) + "\n")
	b.WriteString(style.Render(rule) + "\n")

	if len(s.Findings) > 0 {
		b.WriteString("\nFindings:\n")
		for _, f := range s.Findings {
			fmt.Fprintf(&b, "  - %s: %s\n", f.Kind, f.Message)
		}
	}
	if len(s.Warnings) > 0 {
		warn := lipgloss.NewStyle().Foreground(warnColor)
		b.WriteString("\nWarnings:\n")
		for _, w := range s.Warnings {
			b.WriteString(warn.Render("  ! "+w) + "\n")
		}
	}
	return b.String()
}

// Write renders s to w.
func Write(w io.Writer, s Summary) error {
	_, err := io.WriteString(w, Render(s))
	return err
}

func centered(text string, pad rune) string {
	width := len(rule)
	text = " " + text + " "
	if len(text) >= width {
		return text
	}
	left := (width - len(text)) / 2
	right := width - len(text) - left
	return strings.Repeat(string(pad), left) + text + strings.Repeat(string(pad), right)
}
