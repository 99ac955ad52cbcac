package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Table renders aligned columns for lists and "Label: value" lines for a
// single record.
type Table struct{}

func (Table) List(w io.Writer, records []map[string]any, opts Options) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No records found.")
		return err
	}

	columns := columnsOf(records, opts.Columns)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !opts.NoHeader {
		header := make([]string, len(columns))
		for i, col := range columns {
			header[i] = strings.ToUpper(col)
		}
		fmt.Fprintln(tw, strings.Join(header, "\t"))
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i] = cell(rec[col], opts.MaxWidth)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func (Table) Record(w io.Writer, record map[string]any, opts Options) error {
	if record == nil {
		_, err := fmt.Fprintln(w, "Record not found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, col := range columnsOf([]map[string]any{record}, opts.Columns) {
		fmt.Fprintf(tw, "%s:\t%s\n", label(col), cell(record[col], 0))
	}
	return tw.Flush()
}

// columnsOf returns requested, or the union of record keys in sorted order.
func columnsOf(records []map[string]any, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// label turns trace_id into "Trace Id".
func label(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func cell(v any, maxWidth int) string {
	var s string
	switch v := v.(type) {
	case nil:
		return "-"
	case string:
		s = v
	case bool:
		s = "no"
		if v {
			s = "yes"
		}
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case []string:
		s = strings.Join(v, ", ")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = cell(item, 0)
		}
		s = strings.Join(parts, ", ")
	default:
		raw, _ := json.Marshal(v)
		s = string(raw)
	}
	if maxWidth > 3 && len(s) > maxWidth {
		s = s[:maxWidth-3] + "..."
	}
	return s
}
