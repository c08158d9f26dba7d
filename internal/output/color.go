package output

import (
	"fmt"

	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/fatih/color"
)

type tone int

const (
	toneSuccess tone = iota
	toneFailure
	toneWarning
	toneInfo
	toneMuted
	toneHeader
)

var palette = map[tone]*color.Color{
	toneSuccess: color.New(color.FgGreen),
	toneFailure: color.New(color.FgRed),
	toneWarning: color.New(color.FgYellow),
	toneInfo:    color.New(color.FgCyan),
	toneMuted:   color.New(color.FgHiBlack),
	toneHeader:  color.New(color.FgCyan, color.Bold),
}

type statusStyle struct {
	tone  tone
	label string
}

var statusStyles = map[testcase.CaseStatus]statusStyle{
	testcase.CaseSuccess: {toneSuccess, "✓ SUCCESS"},
	testcase.CaseFailed:  {toneFailure, "✗ FAILED"},
	testcase.CasePartial: {toneWarning, "◐ PARTIAL"},
	testcase.CaseRunning: {toneInfo, "▸ RUNNING"},
	testcase.CasePending: {toneMuted, "○ PENDING"},
}

// ColorHelper colors terminal output. Colors are off when fatih/color
// detects a non-terminal writer or NO_COLOR.
type ColorHelper struct {
	enabled bool
}

// NewColorHelper creates a new color helper
func NewColorHelper() *ColorHelper {
	return &ColorHelper{enabled: !color.NoColor}
}

func (c *ColorHelper) paint(t tone, text string) string {
	if !c.enabled {
		return text
	}

	return palette[t].Sprint(text)
}

// Success returns green text.
func (c *ColorHelper) Success(text string) string { return c.paint(toneSuccess, text) }

// Failure returns red text.
func (c *ColorHelper) Failure(text string) string { return c.paint(toneFailure, text) }

// Warning returns yellow text.
func (c *ColorHelper) Warning(text string) string { return c.paint(toneWarning, text) }

// Info returns cyan text.
func (c *ColorHelper) Info(text string) string { return c.paint(toneInfo, text) }

// Muted returns gray text.
func (c *ColorHelper) Muted(text string) string { return c.paint(toneMuted, text) }

// Header returns bold cyan text for section headers.
func (c *ColorHelper) Header(text string) string { return c.paint(toneHeader, text) }

// FormatStatus colors a case status.
func (c *ColorHelper) FormatStatus(status testcase.CaseStatus) string {
	style, ok := statusStyles[status]
	if !ok {
		style = statusStyles[testcase.CasePending]
	}

	return c.paint(style.tone, style.label)
}

// FormatRunStatus is FormatStatus with a paused marker taking precedence.
func (c *ColorHelper) FormatRunStatus(status testcase.CaseStatus, paused bool) string {
	if paused {
		return c.Warning("⏸ PAUSED")
	}

	return c.FormatStatus(status)
}

// FormatSeverity colors a failure severity.
func (c *ColorHelper) FormatSeverity(s testcase.Severity) string {
	if s == testcase.SeverityWarning {
		return c.Warning(string(s))
	}

	return c.Failure(string(s))
}

// FormatCommands returns passed/total, green when nothing failed.
func (c *ColorHelper) FormatCommands(passed, total int) string {
	text := fmt.Sprintf("%d/%d", passed, total)

	switch {
	case passed == total:
		return c.Success(text)
	case passed == 0:
		return c.Failure(text)
	default:
		return c.Warning(text)
	}
}

// FormatRate colors a pass percentage.
func (c *ColorHelper) FormatRate(value float64) string {
	text := fmt.Sprintf("%.1f%%", value)

	switch {
	case value >= 100:
		return c.Success(text)
	case value >= 90:
		return c.Warning(text)
	default:
		return c.Failure(text)
	}
}
