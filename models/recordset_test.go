package models

import (
	"testing"
	"time"
)

func TestFromRecordsColumnOrderAndBackfill(t *testing.T) {
	records := []Record{
		{"b": 1, "a": 2},
		{"c": 3},
	}
	rs := FromRecords(records, nil)

	// Keys of each record are visited sorted, columns in first appearance.
	want := []string{"a", "b", "c"}
	if len(rs.Columns) != len(want) {
		t.Fatalf("columns = %v, want %v", rs.Columns, want)
	}
	for i, c := range want {
		if rs.Columns[i] != c {
			t.Fatalf("columns = %v, want %v", rs.Columns, want)
		}
	}
	if rs.Value(0, "c") != nil {
		t.Fatalf("row 0 column c = %v, want nil", rs.Value(0, "c"))
	}
	if rs.Value(1, "a") != nil || rs.Value(1, "c") != 3 {
		t.Fatalf("row 1 = %v", rs.Rows[1])
	}
}

func TestFromRecordsKeyOrderPinsLeadingColumns(t *testing.T) {
	records := []Record{{"z": 1, "a": 2}}
	rs := FromRecords(records, []string{"z"})
	if rs.Columns[0] != "z" || rs.Columns[1] != "a" {
		t.Fatalf("columns = %v, want [z a]", rs.Columns)
	}
}

func TestAddColumnBackfillsAndTruncates(t *testing.T) {
	rs := NewRecordSet("id")
	rs.Rows = append(rs.Rows, []any{"1"}, []any{"2"}, []any{"3"})

	rs.AddColumn("short", []any{"x"})
	rs.AddColumn("long", []any{"a", "b", "c", "d", "e"})

	if rs.Value(0, "short") != "x" || rs.Value(2, "short") != nil {
		t.Fatalf("short column = %v %v", rs.Value(0, "short"), rs.Value(2, "short"))
	}
	if rs.Value(2, "long") != "c" {
		t.Fatalf("long column truncation failed: %v", rs.Value(2, "long"))
	}
	for i, row := range rs.Rows {
		if len(row) != len(rs.Columns) {
			t.Fatalf("row %d has %d cells for %d columns", i, len(row), len(rs.Columns))
		}
	}
}

func TestPrefixDoesNotMutateOriginal(t *testing.T) {
	rs := NewRecordSet("id", "name")
	rs.Rows = append(rs.Rows, []any{"1", "x"})

	p := rs.Prefix("db_")
	if p.Columns[0] != "db_id" || p.Columns[1] != "db_name" {
		t.Fatalf("prefixed columns = %v", p.Columns)
	}
	if rs.Columns[0] != "id" {
		t.Fatalf("original mutated: %v", rs.Columns)
	}
	if p.ColumnIndex("db_name") != 1 || rs.ColumnIndex("name") != 1 {
		t.Fatalf("index out of sync")
	}
}

func TestDropColumnsWithPrefix(t *testing.T) {
	rs := NewRecordSet("id", "validation_ok", "validation_msg", "name")
	rs.Rows = append(rs.Rows, []any{"1", true, "ok", "x"})

	out := rs.DropColumnsWithPrefix("validation_")
	if len(out.Columns) != 2 || out.Columns[0] != "id" || out.Columns[1] != "name" {
		t.Fatalf("columns = %v", out.Columns)
	}
	if out.Value(0, "name") != "x" {
		t.Fatalf("cell moved: %v", out.Rows[0])
	}
	if len(rs.Columns) != 4 {
		t.Fatalf("original mutated: %v", rs.Columns)
	}
}

func TestCopySharesCellsButNotRows(t *testing.T) {
	rs := NewRecordSet("id")
	rs.Rows = append(rs.Rows, []any{"1"})

	cp := rs.Copy()
	cp.Rows[0][0] = "changed"
	if rs.Rows[0][0] != "1" {
		t.Fatalf("copy aliases original row slice")
	}
}

func TestFlatten(t *testing.T) {
	rec := map[string]any{
		"id": "1",
		"_links": map[string]any{
			"self": map[string]any{"href": "/x"},
			"next": "/y",
		},
		"tags": []any{"a", "b"},
	}
	flat := Flatten(rec)

	if flat["id"] != "1" {
		t.Fatalf("scalar lost: %v", flat)
	}
	if flat["_links.self.href"] != "/x" || flat["_links.next"] != "/y" {
		t.Fatalf("nested keys = %v", flat)
	}
	if _, ok := flat["_links"]; ok {
		t.Fatalf("container key should be removed")
	}
	if v, ok := flat["tags"].([]any); !ok || len(v) != 2 {
		t.Fatalf("arrays must pass through: %v", flat["tags"])
	}
}

func TestFormatCell(t *testing.T) {
	ts := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "x", want: "x"},
		{name: "bytes", in: []byte{0xde, 0xad}, want: "dead"},
		{name: "time", in: ts, want: "2025-08-01T12:00:00Z"},
		{name: "bool", in: true, want: "true"},
		{name: "float", in: 1.5, want: "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCell(tt.in); got != tt.want {
				t.Fatalf("FormatCell(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
