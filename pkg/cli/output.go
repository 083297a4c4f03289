package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatTable renders a bordered table (default).
	FormatTable OutputFormat = "table"
	// FormatJSON is indented JSON output.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV output with a header row.
	FormatCSV OutputFormat = "csv"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or csv)", s)
	}
}

// Tabular is implemented by command results that render as rows. JSON
// output ignores it and encodes the value itself.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// Footed is implemented by tables with a summary row.
type Footed interface {
	Footer() []string
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TableFormatter renders Tabular values with go-pretty. Other values are
// printed with %v.
type TableFormatter struct{}

// FormatTo writes data to w as a table.
func (f *TableFormatter) FormatTo(w io.Writer, data any) error {
	tab, ok := data.(Tabular)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(toRow(tab.Header()))
	for _, r := range tab.Rows() {
		t.AppendRow(toRow(r))
	}
	if ft, ok := data.(Footed); ok {
		if footer := ft.Footer(); len(footer) > 0 {
			t.AppendFooter(toRow(footer))
		}
	}
	t.Render()
	return nil
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to writer in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// CSVFormatter writes Tabular values as CSV.
type CSVFormatter struct{}

// FormatTo writes data to writer in CSV format.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	tab, ok := data.(Tabular)
	if !ok {
		return fmt.Errorf("%T cannot be written as CSV", data)
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(tab.Header()); err != nil {
		return err
	}
	for _, r := range tab.Rows() {
		if err := csvWriter.Write(r); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TableFormatter{}
	}
}
