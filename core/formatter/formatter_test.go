package formatter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func jobs() []map[string]any {
	return []map[string]any{
		{"action": "notes.list", "schedule": "0 * * * *", "attempts": float64(1)},
		{"action": "notes.purge", "schedule": "@daily", "attempts": float64(3)},
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"table", "json", "yaml"} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q): %v", name, err)
		}
	}
	_, err := Lookup("csv")
	if err == nil || !strings.Contains(err.Error(), "json, table, yaml") {
		t.Errorf("Lookup(csv) err = %v", err)
	}
}

func TestToRecord(t *testing.T) {
	type outcome struct {
		Decision string `json:"decision"`
		Note     string `json:"note,omitempty"`
	}
	rec, err := ToRecord(outcome{Decision: "done"})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if rec["decision"] != "done" {
		t.Errorf("decision = %v", rec["decision"])
	}
	if _, ok := rec["note"]; ok {
		t.Error("omitempty field should be absent")
	}
	if _, err := ToRecord([]int{1}); err == nil {
		t.Error("expected error for non-object")
	}
}

func TestToRecords(t *testing.T) {
	recs, err := ToRecords([]struct {
		Key string `json:"key"`
	}{{"a"}, {"b"}})
	if err != nil {
		t.Fatalf("ToRecords: %v", err)
	}
	if len(recs) != 2 || recs[1]["key"] != "b" {
		t.Errorf("records = %v", recs)
	}
	if _, err := ToRecords(map[string]int{}); err == nil {
		t.Error("expected error for non-list")
	}
}

func TestTable_List(t *testing.T) {
	var buf bytes.Buffer
	if err := (Table{}).List(&buf, jobs(), Options{Columns: []string{"action", "attempts"}}); err != nil {
		t.Fatalf("List: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ACTION") || !strings.Contains(lines[0], "ATTEMPTS") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "notes.purge") || !strings.Contains(lines[2], "3") {
		t.Errorf("row = %q", lines[2])
	}
	if strings.Contains(buf.String(), "@daily") {
		t.Error("unrequested column printed")
	}
}

func TestTable_ListSortedColumnsNoHeader(t *testing.T) {
	var buf bytes.Buffer
	(Table{}).List(&buf, jobs(), Options{NoHeader: true})
	first := strings.Fields(strings.Split(buf.String(), "\n")[0])
	// action, attempts, schedule
	if len(first) < 3 || first[0] != "notes.list" || first[1] != "1" {
		t.Errorf("row = %v", first)
	}
}

func TestTable_ListEmpty(t *testing.T) {
	var buf bytes.Buffer
	(Table{}).List(&buf, nil, Options{})
	if buf.String() != "No records found.\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTable_Record(t *testing.T) {
	var buf bytes.Buffer
	rec := map[string]any{"trace_id": "t-1", "success": true, "data": map[string]any{"n": 1}}
	if err := (Table{}).Record(&buf, rec, Options{}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Trace Id:", "t-1", "Success:", "yes", `{"n":1}`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestCell(t *testing.T) {
	tests := []struct {
		in   any
		max  int
		want string
	}{
		{nil, 0, "-"},
		{false, 0, "no"},
		{float64(42), 0, "42"},
		{1.5, 0, "1.5"},
		{[]string{"a", "b"}, 0, "a, b"},
		{[]any{"x", float64(2)}, 0, "x, 2"},
		{"abcdefghij", 6, "abc..."},
		{"abc", 2, "abc"},
	}
	for _, tt := range tests {
		if got := cell(tt.in, tt.max); got != tt.want {
			t.Errorf("cell(%v, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestJSON_List(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON.List(&buf, jobs(), Options{Columns: []string{"action"}}); err != nil {
		t.Fatalf("List: %v", err)
	}

	var out struct {
		Count int              `json:"count"`
		Data  []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || len(out.Data[0]) != 1 || out.Data[0]["action"] != "notes.list" {
		t.Errorf("output = %+v", out)
	}
}

func TestJSON_EmptyListIsArray(t *testing.T) {
	var buf bytes.Buffer
	JSON.List(&buf, nil, Options{Compact: true})
	if strings.TrimSpace(buf.String()) != `{"count":0,"data":[]}` {
		t.Errorf("output = %q", buf.String())
	}
}

func TestJSON_Record(t *testing.T) {
	var buf bytes.Buffer
	JSON.Record(&buf, map[string]any{"decision": "retry"}, Options{Compact: true})
	if strings.TrimSpace(buf.String()) != `{"decision":"retry"}` {
		t.Errorf("output = %q", buf.String())
	}
}

func TestYAML_List(t *testing.T) {
	var buf bytes.Buffer
	if err := YAML.List(&buf, jobs(), Options{}); err != nil {
		t.Fatalf("List: %v", err)
	}

	var out struct {
		Count int              `yaml:"count"`
		Data  []map[string]any `yaml:"data"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || out.Data[1]["schedule"] != "@daily" {
		t.Errorf("output = %+v", out)
	}
}
