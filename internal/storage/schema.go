package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"repscan/internal/record"
)

// Table is the observations table name shared by the SQL backends.
const Table = "observations"

// Columns is the insert column order of Row.Values.
var Columns = []string{
	"run_id",
	"identifier",
	"observed_at",
	"record_hash",
	"group_name",
	"field_name",
	"value",
	"position",
}

// DedupeColumns form the unique key. Saving the same observation twice (same
// identifier, time and record) is ignored by the backends; a later
// re-observation of an unchanged record is kept so Load reports the newest.
var DedupeColumns = []string{"identifier", "observed_at", "record_hash", "position"}

// emptyPosition marks the single placeholder row of an empty record so that
// "looked up, nothing found" is still persisted.
const emptyPosition = -1

// Row is one flattened field of an observation.
type Row struct {
	RunID      string
	Identifier string
	ObservedAt time.Time
	RecordHash string
	Group      string
	Field      string
	Value      string
	Position   int
}

// Values returns the row in Columns order.
func (r Row) Values() []any {
	return []any{r.RunID, r.Identifier, r.ObservedAt, r.RecordHash, r.Group, r.Field, r.Value, r.Position}
}

// Rows flattens o into one row per field, numbered in record order.
func Rows(o Observation) []Row {
	base := Row{
		RunID:      o.RunID,
		Identifier: o.Identifier,
		ObservedAt: o.ObservedAt.UTC(),
		RecordHash: o.Record.Fingerprint(),
	}
	if o.Record.IsEmpty() {
		r := base
		r.Position = emptyPosition
		return []Row{r}
	}

	var out []Row
	pos := 0
	o.Record.Each(func(group string, fields record.FieldMap) {
		fields.Each(func(label, value string) {
			r := base
			r.Group, r.Field, r.Value, r.Position = group, label, value, pos
			out = append(out, r)
			pos++
		})
	})
	return out
}

// Assemble rebuilds an observation from the rows of a single save. Rows may
// arrive in any order.
func Assemble(rows []Row) (Observation, error) {
	if len(rows) == 0 {
		return Observation{}, ErrNotFound
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })

	first := rows[0]
	o := Observation{
		RunID:      first.RunID,
		Identifier: first.Identifier,
		ObservedAt: first.ObservedAt.UTC(),
	}

	var groups []string
	fields := map[string]*record.FieldMap{}
	for _, r := range rows {
		if r.RecordHash != first.RecordHash {
			return Observation{}, fmt.Errorf("storage: mixed record hashes for %s", first.Identifier)
		}
		if r.Position == emptyPosition {
			continue
		}
		fm, ok := fields[r.Group]
		if !ok {
			fm = &record.FieldMap{}
			fields[r.Group] = fm
			groups = append(groups, r.Group)
		}
		fm.Set(r.Field, r.Value)
	}
	for _, g := range groups {
		o.Record.Put(g, *fields[g])
	}
	return o, nil
}

// SQLIdent quotes a possibly schema-qualified identifier with the given
// quote pair, e.g. SQLIdent("dbo.observations", "[", "]").
func SQLIdent(name, open, close string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		p = strings.Trim(p, `"[]`)
		p = strings.ReplaceAll(p, close, close+close)
		parts[i] = open + p + close
	}
	return strings.Join(parts, ".")
}
