package output

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// TableWriter aligns rows into columns.
type TableWriter struct {
	writer *tabwriter.Writer
}

// NewTableWriter creates a table writing to Stdout.
func NewTableWriter() *TableWriter {
	return &TableWriter{writer: tabwriter.NewWriter(Stdout, 0, 0, 2, ' ', 0)}
}

// WriteHeader writes table headers
func (t *TableWriter) WriteHeader(headers ...string) { t.WriteRow(headers...) }

// WriteRow writes one row; empty cells are shown as "-".
func (t *TableWriter) WriteRow(values ...string) {
	cells := make([]string, len(values))
	for i, v := range values {
		if v == "" {
			v = "-"
		}
		cells[i] = v
	}
	fmt.Fprintln(t.writer, strings.Join(cells, "\t"))
}

// Flush writes buffered output
func (t *TableWriter) Flush() error {
	return t.writer.Flush()
}

// PrintSuccess prints a success message with checkmark
func PrintSuccess(message string) {
	fmt.Fprintf(Stdout, "✓ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Fprintf(Stderr, "✗ %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Fprintf(Stderr, "⚠ %s\n", message)
}
