// Package formatter renders command output as a table, JSON or YAML.
package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formatter renders records.
type Formatter interface {
	// List renders several records.
	List(w io.Writer, records []map[string]any, opts Options) error
	// Record renders one record.
	Record(w io.Writer, record map[string]any, opts Options) error
}

// Options tunes rendering. The zero value renders every field.
type Options struct {
	// Columns selects and orders fields. Empty means all, sorted.
	Columns []string
	// NoHeader drops the table header row.
	NoHeader bool
	// Compact drops indentation from JSON.
	Compact bool
	// MaxWidth truncates table cells; 0 disables truncation.
	MaxWidth int
}

var formatters = map[string]Formatter{
	"table": Table{},
	"json":  JSON,
	"yaml":  YAML,
}

// Lookup returns the formatter registered under name.
func Lookup(name string) (Formatter, error) {
	f, ok := formatters[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (want %s)", name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names lists the formatter names, sorted.
func Names() []string {
	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToRecord converts v to a record through its JSON encoding, so json tags
// decide the field names.
func ToRecord(v any) (map[string]any, error) {
	var rec map[string]any
	if err := roundTrip(v, &rec); err != nil {
		return nil, fmt.Errorf("%T is not an object: %w", v, err)
	}
	return rec, nil
}

// ToRecords converts a slice to records. See ToRecord.
func ToRecords(v any) ([]map[string]any, error) {
	var recs []map[string]any
	if err := roundTrip(v, &recs); err != nil {
		return nil, fmt.Errorf("%T is not a list of objects: %w", v, err)
	}
	return recs, nil
}

func roundTrip(v, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// project keeps only columns, in any order.
func project(record map[string]any, columns []string) map[string]any {
	if len(columns) == 0 || record == nil {
		return record
	}
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		if v, ok := record[col]; ok {
			out[col] = v
		}
	}
	return out
}

// Encoder renders records with a document encoder. Lists are wrapped as
// {count, data}.
type Encoder struct {
	encode func(w io.Writer, v any, opts Options) error
}

var (
	// JSON renders indented JSON unless Options.Compact is set.
	JSON = Encoder{encode: func(w io.Writer, v any, opts Options) error {
		enc := json.NewEncoder(w)
		if !opts.Compact {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(v)
	}}

	// YAML renders two-space indented YAML.
	YAML = Encoder{encode: func(w io.Writer, v any, _ Options) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}}
)

func (e Encoder) List(w io.Writer, records []map[string]any, opts Options) error {
	data := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		data = append(data, project(rec, opts.Columns))
	}
	return e.encode(w, map[string]any{"count": len(data), "data": data}, opts)
}

func (e Encoder) Record(w io.Writer, record map[string]any, opts Options) error {
	return e.encode(w, project(record, opts.Columns), opts)
}
