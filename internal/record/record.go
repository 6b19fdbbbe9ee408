// Package record holds the nested group -> field -> value structure produced
// by a lookup.
//
// Both levels are ordered by first insertion so listings come out in the
// order the page was read. Absence is meaningful: a field that could not be
// read is missing from its FieldMap, never stored as an empty placeholder.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EnrichmentGroup is the group key under which geolocation data is merged.
// It never collides with a scrape group.
const EnrichmentGroup = "IPINFO.IO DATA"

// FieldMap is an ordered mapping from field label to value.
//
// The zero value is an empty map ready to use.
type FieldMap struct {
	keys   []string
	values map[string]string
}

// NewFieldMap builds a FieldMap from alternating label/value pairs.
// It panics on an odd number of arguments.
func NewFieldMap(pairs ...string) FieldMap {
	if len(pairs)%2 != 0 {
		panic("record: NewFieldMap needs label/value pairs")
	}
	var fm FieldMap
	for i := 0; i < len(pairs); i += 2 {
		fm.Set(pairs[i], pairs[i+1])
	}
	return fm
}

// Set stores value under label. Replacing an existing label keeps its
// original position.
func (m *FieldMap) Set(label, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[label]; !ok {
		m.keys = append(m.keys, label)
	}
	m.values[label] = value
}

// Get returns the value for label and whether it is present.
func (m FieldMap) Get(label string) (string, bool) {
	v, ok := m.values[label]
	return v, ok
}

func (m FieldMap) Len() int { return len(m.keys) }

// Keys returns labels in insertion order. The slice is a copy.
func (m FieldMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Each calls fn for every label in insertion order.
func (m FieldMap) Each(fn func(label, value string)) {
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}

// Clone returns an independent copy of m.
func (m FieldMap) Clone() FieldMap {
	var out FieldMap
	m.Each(out.Set)
	return out
}

// Equal reports whether m and o hold the same labels, values and order.
func (m FieldMap) Equal(o FieldMap) bool {
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k || o.values[k] != m.values[k] {
			return false
		}
	}
	return true
}

func (m FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONPair(&buf, k, m.values[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *FieldMap) UnmarshalJSON(b []byte) error {
	*m = FieldMap{}
	return decodeObject(b, func(dec *json.Decoder, key string) error {
		var v string
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		m.Set(key, v)
		return nil
	})
}

// Record maps group label to FieldMap. Groups never hold an empty FieldMap.
type Record struct {
	groups []string
	fields map[string]FieldMap
}

// Put stores fm under group. Empty maps are ignored so that a group is present
// only when at least one of its fields was read. Replacing an existing group
// keeps its position.
func (r *Record) Put(group string, fm FieldMap) {
	if fm.Len() == 0 {
		return
	}
	if r.fields == nil {
		r.fields = make(map[string]FieldMap)
	}
	if _, ok := r.fields[group]; !ok {
		r.groups = append(r.groups, group)
	}
	r.fields[group] = fm.Clone()
}

// Group returns the fields of group and whether the group is present.
func (r Record) Group(group string) (FieldMap, bool) {
	fm, ok := r.fields[group]
	return fm, ok
}

// Value is a shortcut for Group followed by Get.
func (r Record) Value(group, label string) (string, bool) {
	fm, ok := r.fields[group]
	if !ok {
		return "", false
	}
	return fm.Get(label)
}

// Groups returns group labels in insertion order. The slice is a copy.
func (r Record) Groups() []string {
	return append([]string(nil), r.groups...)
}

func (r Record) Len() int { return len(r.groups) }

func (r Record) IsEmpty() bool { return len(r.groups) == 0 }

// Each calls fn for every group in insertion order.
func (r Record) Each(fn func(group string, fields FieldMap)) {
	for _, g := range r.groups {
		fn(g, r.fields[g])
	}
}

// Clone returns an independent copy of r.
func (r Record) Clone() Record {
	var out Record
	r.Each(out.Put)
	return out
}

// Equal reports whether r and o hold the same groups, fields and order.
func (r Record) Equal(o Record) bool {
	if len(r.groups) != len(o.groups) {
		return false
	}
	for i, g := range r.groups {
		if o.groups[i] != g || !r.fields[g].Equal(o.fields[g]) {
			return false
		}
	}
	return true
}

// Aggregate merges enrichment into a copy of scrape under EnrichmentGroup.
//
// An empty enrichment leaves the scrape unchanged. Applying Aggregate again
// with the same enrichment replaces the group in place, so the result never
// carries the enrichment group twice.
func Aggregate(scrape Record, enrichment FieldMap) Record {
	out := scrape.Clone()
	if enrichment.Len() == 0 {
		return out
	}
	out.Put(EnrichmentGroup, enrichment)
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range r.groups {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(g)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := r.fields[g].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(b []byte) error {
	*r = Record{}
	return decodeObject(b, func(dec *json.Decoder, key string) error {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("group %q: %w", key, err)
		}
		var fm FieldMap
		if err := fm.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("group %q: %w", key, err)
		}
		r.Put(key, fm)
		return nil
	})
}

func writeJSONPair(buf *bytes.Buffer, k, v string) error {
	kb, err := json.Marshal(k)
	if err != nil {
		return err
	}
	vb, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(kb)
	buf.WriteByte(':')
	buf.Write(vb)
	return nil
}

// decodeObject walks a JSON object key by key, preserving document order.
func decodeObject(b []byte, onKey func(dec *json.Decoder, key string) error) error {
	dec := json.NewDecoder(bytes.NewReader(b))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := onKey(dec, key); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
