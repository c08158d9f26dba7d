// Package output renders run reports, tables and traffic for the terminal.
package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/history"
	"github.com/ethpandaops/atrunner/internal/metrics"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/ethpandaops/atrunner/internal/transport"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
)

// Formatter provides clean, human-friendly output
type Formatter interface {
	PrintPhase(phase string)
	PrintSuccess(message string)
	PrintWarning(message string)
	PrintError(message string, err error)
	PrintMessage(msg bus.Message)
	PrintResult(result *testcase.ExecutionResult)
	PrintSummary(summary metrics.SummaryMetric)
	PrintCaseTree(doc *testcase.Document)
	PrintImportReport(report *testcase.ImportReport)
	PrintHistory(runs []history.Summary)
	PrintPorts(ports []transport.PortInfo)
}

type formatter struct {
	writer   io.Writer
	verbose  bool
	renderer *TableRenderer
	colors   *ColorHelper

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	blue   *color.Color
	gray   *color.Color
}

// NewFormatter creates a new output formatter
func NewFormatter(log logrus.FieldLogger, writer io.Writer, verbose bool) Formatter {
	return &formatter{
		writer:   writer,
		verbose:  verbose,
		renderer: NewTableRenderer(log),
		colors:   NewColorHelper(),
		green:    color.New(color.FgGreen),
		red:      color.New(color.FgRed),
		yellow:   color.New(color.FgYellow),
		blue:     color.New(color.FgBlue),
		gray:     color.New(color.FgHiBlack),
	}
}

// PrintPhase prints phase separator
func (f *formatter) PrintPhase(phase string) {
	f.blue.Fprintf(f.writer, "\n▸ %s\n", phase)
}

// PrintSuccess prints green message
func (f *formatter) PrintSuccess(message string) {
	f.green.Fprintf(f.writer, "%s\n", message)
}

// PrintWarning prints yellow message
func (f *formatter) PrintWarning(message string) {
	f.yellow.Fprintf(f.writer, "%s\n", message)
}

// PrintError prints red message + error details
func (f *formatter) PrintError(message string, err error) {
	f.red.Fprintf(f.writer, "%s", message)
	if err != nil {
		f.red.Fprintf(f.writer, ": %v", err)
	}
	fmt.Fprintf(f.writer, "\n")
}

// PrintMessage prints one bus message. Debug messages appear only in
// verbose mode.
func (f *formatter) PrintMessage(msg bus.Message) {
	if msg.Kind == bus.KindDebug && !f.verbose {
		return
	}

	stamp := msg.Time.Format("15:04:05.000")
	text := strings.TrimRight(msg.Text, "\r\n")

	switch msg.Kind {
	case bus.KindTx:
		fmt.Fprintf(f.writer, "%s %s %s\n", f.colors.Muted(stamp), f.colors.Info(">>"), text)
	case bus.KindRx:
		fmt.Fprintf(f.writer, "%s %s %s\n", f.colors.Muted(stamp), f.colors.Success("<<"), strings.ReplaceAll(text, "\r\n", " ⏎ "))
	case bus.KindWarn:
		fmt.Fprintf(f.writer, "%s %s\n", f.colors.Muted(stamp), f.colors.Warning(text))
	case bus.KindError:
		fmt.Fprintf(f.writer, "%s %s\n", f.colors.Muted(stamp), f.colors.Failure(text))
	default:
		fmt.Fprintf(f.writer, "%s %s\n", f.colors.Muted(stamp), text)
	}
}

// PrintResult prints the report of one run: a summary table and the
// failure log.
func (f *formatter) PrintResult(r *testcase.ExecutionResult) {
	status := f.colors.FormatRunStatus(r.Status, r.Paused)

	rows := [][]string{{
		r.CaseID,
		r.CaseName,
		status,
		f.colors.FormatCommands(r.PassedCommands, r.TotalCommands),
		strconv.Itoa(r.Warnings),
		strconv.Itoa(r.Errors),
		formatDuration(r.Duration),
	}}

	fmt.Fprintf(f.writer, "\n%s %s\n", f.colors.Header("Run"), f.colors.Muted(r.RunID))
	f.renderer.Render(f.writer,
		[]string{"Case", "Name", "Status", "Passed", "Warnings", "Errors", "Duration"},
		rows,
	)

	if len(r.Failures) == 0 {
		return
	}

	failures := make([][]string, 0, len(r.Failures))
	for _, fr := range r.Failures {
		index := strconv.Itoa(fr.CommandIndex)
		if fr.Synthetic() {
			index = "-"
		}

		failures = append(failures, []string{
			fr.CaseID,
			index,
			fr.Command,
			f.colors.FormatSeverity(fr.Severity),
			fr.Error,
		})
	}

	fmt.Fprintf(f.writer, "\n%s\n", f.colors.Header("Failures"))
	f.renderer.Render(f.writer,
		[]string{"Case", "#", "Command", "Severity", "Error"},
		failures,
	)
}

// PrintSummary prints a summary table with aggregate statistics
func (f *formatter) PrintSummary(s metrics.SummaryMetric) {
	rows := [][]string{
		{"Runs", strconv.Itoa(s.TotalRuns)},
		{"Successful runs", f.colors.Success(strconv.Itoa(s.SuccessfulRuns))},
		{"Failed runs", f.colors.Failure(strconv.Itoa(s.FailedRuns))},
		{"Paused runs", strconv.Itoa(s.PausedRuns)},
		{"Commands", f.colors.FormatCommands(s.PassedCommands, s.TotalCommands)},
		{"Pass rate", f.colors.FormatRate(s.PassRate)},
		{"Retries", strconv.Itoa(s.Retries)},
		{"Mean response", formatDuration(s.MeanResponseTime)},
		{"Total time", formatDuration(s.TotalDuration)},
	}

	fmt.Fprintf(f.writer, "\n%s\n", f.colors.Header("Summary"))
	f.renderer.Render(f.writer, []string{"Metric", "Value"}, rows)
}

// PrintCaseTree prints every case of the document with its commands.
func (f *formatter) PrintCaseTree(doc *testcase.Document) {
	rows := make([][]string, 0)

	for _, root := range doc.Cases {
		appendCaseRows(&rows, root, 0)
	}

	f.renderer.Render(f.writer,
		[]string{"#", "Case", "Name", "Commands", "Repeat", "Strategy"},
		rows,
	)

	if len(doc.Triggers) == 0 {
		return
	}

	triggers := make([][]string, 0, len(doc.Triggers))
	for _, t := range doc.Triggers {
		channel := t.Channel
		if channel == "" {
			channel = "*"
		}
		triggers = append(triggers, []string{t.ID, t.Pattern, channel, strconv.Itoa(len(t.Actions))})
	}

	fmt.Fprintf(f.writer, "\n%s\n", f.colors.Header("URC triggers"))
	f.renderer.Render(f.writer, []string{"Trigger", "Pattern", "Channel", "Actions"}, triggers)
}

func appendCaseRows(rows *[][]string, tc *testcase.TestCase, depth int) {
	included := len(tc.IncludedCommands())
	commands := strconv.Itoa(len(tc.Commands))
	if included != len(tc.Commands) {
		commands = fmt.Sprintf("%d of %d", included, len(tc.Commands))
	}

	*rows = append(*rows, []string{
		strconv.Itoa(tc.DisplayID),
		strings.Repeat("  ", depth) + tc.ID,
		tc.Name,
		commands,
		strconv.Itoa(tc.Repeat),
		string(tc.Strategy),
	})

	for _, child := range tc.Children {
		appendCaseRows(rows, child, depth+1)
	}
}

// PrintImportReport prints counts and every skipped record.
func (f *formatter) PrintImportReport(report *testcase.ImportReport) {
	f.PrintSuccess(fmt.Sprintf("Loaded %d cases, %d commands, %d triggers", report.Cases, report.Commands, report.Triggers))

	if len(report.Skipped) == 0 {
		return
	}

	rows := make([][]string, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		rows = append(rows, []string{s.Path, strconv.Itoa(s.Line), s.Err.Error()})
	}

	f.PrintWarning(fmt.Sprintf("Skipped %d invalid records", len(report.Skipped)))
	f.renderer.Render(f.writer, []string{"Record", "Line", "Reason"}, rows)
}

// PrintHistory prints stored runs.
func (f *formatter) PrintHistory(runs []history.Summary) {
	if len(runs) == 0 {
		f.gray.Fprintln(f.writer, "No recorded runs")
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status := f.colors.FormatRunStatus(r.Status, r.Paused)

		rows = append(rows, []string{
			r.Start.Local().Format("2006-01-02 15:04:05"),
			r.CaseID,
			status,
			f.colors.FormatCommands(r.Passed, r.Total),
			strconv.Itoa(r.Errors),
			formatDuration(r.Duration),
			r.RunID,
		})
	}

	f.renderer.Render(f.writer,
		[]string{"Started", "Case", "Status", "Passed", "Errors", "Duration", "Run"},
		rows,
	)
}

// PrintPorts prints local serial ports.
func (f *formatter) PrintPorts(ports []transport.PortInfo) {
	if len(ports) == 0 {
		f.gray.Fprintln(f.writer, "No serial ports found")
		return
	}

	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		usb := ""
		if p.USB {
			usb = fmt.Sprintf("%s:%s", p.VID, p.PID)
		}
		rows = append(rows, []string{p.Name, usb, p.SerialNumber, p.Product})
	}

	f.renderer.Render(f.writer, []string{"Port", "USB ID", "Serial", "Product"}, rows,
		WithAlignment(tablewriter.ALIGN_LEFT))
}

// formatDuration formats duration in human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
