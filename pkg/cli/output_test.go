package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
)

type testTable struct {
	rows   [][]string
	footer []string
}

func (t testTable) Header() []string { return []string{"ID", "Name"} }
func (t testTable) Rows() [][]string { return t.rows }
func (t testTable) Footer() []string { return t.footer }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "table", want: FormatTable},
		{in: "json", want: FormatJSON},
		{in: "csv", want: FormatCSV},
		{in: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTableFormatter(t *testing.T) {
	data := testTable{
		rows:   [][]string{{"k1", "alpha"}, {"k2", "beta"}},
		footer: []string{"", "2 keys"},
	}
	buf := &bytes.Buffer{}

	if err := (&TableFormatter{}).FormatTo(buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ID", "NAME", "alpha", "beta", "2 KEYS"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestTableFormatter_NonTabular(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TableFormatter{}).FormatTo(buf, "plain message"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if buf.String() != "plain message\n" {
		t.Errorf("FormatTo() = %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	data := map[string]any{"id": "k1", "rate_limit": 60}
	buf := &bytes.Buffer{}

	if err := (&JSONFormatter{Indent: true}).FormatTo(buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["id"] != "k1" {
		t.Errorf("id = %v", got["id"])
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("expected indented output")
	}
}

func TestCSVFormatter(t *testing.T) {
	data := testTable{rows: [][]string{{"k1", "has,comma"}, {"k2", "plain"}}}
	buf := &bytes.Buffer{}

	if err := (&CSVFormatter{}).FormatTo(buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2", len(records))
	}
	if records[0][0] != "ID" || records[1][1] != "has,comma" {
		t.Errorf("unexpected records %v", records)
	}
}

func TestCSVFormatter_RejectsNonTabular(t *testing.T) {
	if err := (&CSVFormatter{}).FormatTo(&bytes.Buffer{}, 42); err == nil {
		t.Error("expected error for non-tabular data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatTable, "*cli.TableFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f := NewFormatter(tt.format)
			switch f.(type) {
			case *TableFormatter:
				if tt.want != "*cli.TableFormatter" {
					t.Errorf("got TableFormatter, want %s", tt.want)
				}
			case *JSONFormatter:
				if tt.want != "*cli.JSONFormatter" {
					t.Errorf("got JSONFormatter, want %s", tt.want)
				}
			case *CSVFormatter:
				if tt.want != "*cli.CSVFormatter" {
					t.Errorf("got CSVFormatter, want %s", tt.want)
				}
			}
		})
	}
}
