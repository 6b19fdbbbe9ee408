package record

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Control characters never survive text normalisation, so they keep the
// canonical form unambiguous.
const (
	fingerprintSep     = "\x1f" // between fields
	fingerprintPartSep = '\x1e' // between group, label and value
)

// Fingerprint returns a deterministic lowercase hex SHA-256 of r.
//
// Canonical form: one group/label/value component per field, joined by
// fingerprintSep, in record order. Two records with the same content but a
// different order hash differently; that is intended since order is part of
// what a listing shows.
//
// The empty record hashes to the SHA-256 of the empty string.
func (r Record) Fingerprint() string {
	var b strings.Builder
	first := true
	r.Each(func(group string, fields FieldMap) {
		fields.Each(func(label, value string) {
			if !first {
				b.WriteString(fingerprintSep)
			}
			first = false
			b.WriteString(group)
			b.WriteByte(fingerprintPartSep)
			b.WriteString(label)
			b.WriteByte(fingerprintPartSep)
			b.WriteString(value)
		})
	})

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
