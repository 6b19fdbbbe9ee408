// Package render writes lookup results for people and for machines.
package render

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"repscan/internal/record"
)

// Format selects a writer for the CLI.
type Format string

const (
	FormatListing Format = "listing"
	FormatTable   Format = "table"
	FormatJSON    Format = "json"
)

// Formats lists the accepted --output values.
var Formats = []Format{FormatListing, FormatTable, FormatJSON}

// Write dispatches to the writer for f.
func Write(w io.Writer, f Format, id string, rec record.Record) error {
	switch f {
	case FormatListing, "":
		return WriteListing(w, id, rec)
	case FormatTable:
		return WriteTable(w, id, rec)
	case FormatJSON:
		return WriteJSON(w, id, rec)
	default:
		return fmt.Errorf("render: unknown format %q", f)
	}
}

// WriteListing prints a group header followed by "label:\tvalue" lines for
// each group, in record order.
func WriteListing(w io.Writer, id string, rec record.Record) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", id)
	if rec.IsEmpty() {
		fmt.Fprintln(bw, "(no data)")
	}
	rec.Each(func(group string, fields record.FieldMap) {
		fmt.Fprintf(bw, "\n%s\n", group)
		fields.Each(func(label, value string) {
			fmt.Fprintf(bw, "%s:\t%s\n", label, value)
		})
	})
	return bw.Flush()
}

// WriteTable renders one row per field with the identifier as title.
func WriteTable(w io.Writer, id string, rec record.Record) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(id)
	t.AppendHeader(table.Row{"Group", "Field", "Value"})

	rec.Each(func(group string, fields record.FieldMap) {
		fields.Each(func(label, value string) {
			t.AppendRow(table.Row{group, label, value})
		})
	})
	if rec.IsEmpty() {
		t.AppendRow(table.Row{"-", "-", "(no data)"})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

type jsonResult struct {
	Identifier string        `json:"identifier"`
	Record     record.Record `json:"record"`
}

// WriteJSON writes one JSON object per call, newline terminated, so batch
// output is JSON lines.
func WriteJSON(w io.Writer, id string, rec record.Record) error {
	return json.NewEncoder(w).Encode(jsonResult{Identifier: id, Record: rec})
}
