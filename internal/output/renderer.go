package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
)

// RenderOption adjusts a table after the house style is applied.
type RenderOption func(*tablewriter.Table)

// WithAlignment sets column alignment (use tablewriter constants)
func WithAlignment(alignment int) RenderOption {
	return func(t *tablewriter.Table) {
		t.SetAlignment(alignment)
	}
}

// houseStyle is a left-aligned table with a header rule and box-drawing
// separators.
func houseStyle(t *tablewriter.Table) {
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(true)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("│")
	t.SetRowSeparator("─")
	t.SetHeaderLine(true)
	t.SetBorder(true)
}

// TableRenderer writes report tables.
type TableRenderer struct {
	log logrus.FieldLogger
}

// NewTableRenderer creates a new table renderer.
func NewTableRenderer(log logrus.FieldLogger) *TableRenderer {
	return &TableRenderer{
		log: log.WithField("component", "table_renderer"),
	}
}

// Render writes headers and rows to w. Empty row sets render nothing.
func (r *TableRenderer) Render(w io.Writer, headers []string, rows [][]string, opts ...RenderOption) {
	if len(rows) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	houseStyle(table)

	for _, opt := range opts {
		opt(table)
	}

	table.AppendBulk(rows)
	table.Render()

	r.log.WithField("rows", len(rows)).Debug("rendered table")
}
