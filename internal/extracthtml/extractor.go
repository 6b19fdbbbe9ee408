package extracthtml

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"repscan/internal/record"
)

// Extract resolves every locator against s and groups the values read.
//
// Semantics:
//   - A locator that does not resolve is skipped; it is not an error.
//   - A value that is empty after normalisation is treated as absent.
//   - If Locator.Match is set, it is treated as a regular expression:
//   - If the regex contains capturing groups, group 1 is used as output.
//   - Otherwise, the full match is used.
//     If the regex does not match, the field is omitted.
//   - Groups appear in the order they were first populated; a group with no
//     values is omitted.
//
// Any other failure (closed session, transport error, cancelled context)
// abandons the extraction and is returned; no partial record is produced.
func Extract(ctx context.Context, s Session, locators []Locator) (record.Record, error) {
	var order []string
	groups := make(map[string]*record.FieldMap)

	for _, loc := range locators {
		re, err := compileOptionalRegex(loc.Match, loc.String())
		if err != nil {
			return record.Record{}, err
		}

		v, ok, err := lookup(ctx, s, loc)
		if err != nil {
			return record.Record{}, fmt.Errorf("extract %s: %w", loc, err)
		}
		if !ok {
			continue
		}

		v = applyRegexFilter(v, re)
		if v == "" {
			continue
		}

		fm, seen := groups[loc.Group]
		if !seen {
			fm = &record.FieldMap{}
			groups[loc.Group] = fm
			order = append(order, loc.Group)
		}
		fm.Set(loc.Field, v)
	}

	var out record.Record
	for _, g := range order {
		out.Put(g, *groups[g])
	}
	return out, nil
}

// lookup resolves one locator to an optional value. ok is false when the
// element is missing or its text is blank.
func lookup(ctx context.Context, s Session, loc Locator) (value string, ok bool, err error) {
	el, err := s.FindElement(ctx, loc)
	if errors.Is(err, ErrNoSuchElement) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	text, err := el.Text(ctx)
	if err != nil {
		return "", false, err
	}

	text = NormalizeText(text)
	return text, text != "", nil
}

// NormalizeText applies NFKC (turning non-breaking and other compatibility
// spaces into plain ones), collapses whitespace runs to one space and trims
// the result. Non-printable runes are dropped.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case !unicode.IsPrint(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// compileOptionalRegex compiles pattern into a regexp.Regexp.
//
// If pattern is empty, it returns (nil, nil).
// If pattern is invalid, it returns an error annotated with the locator name
// to make debugging locator files straightforward.
func compileOptionalRegex(pattern, name string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex for locator %s: %w", name, err)
	}
	return re, nil
}

// applyRegexFilter applies an optional regex post-processing step to value.
//
// Behavior:
//   - If re is nil, it returns value unchanged.
//   - If re does not match, it returns "" (caller should omit the field).
//   - If re matches and contains capture groups, group 1 is returned.
//   - If re matches with no capture groups, the full match is returned.
func applyRegexFilter(value string, re *regexp.Regexp) string {
	if value == "" || re == nil {
		return value
	}

	sm := re.FindStringSubmatch(value)
	if len(sm) == 0 {
		return ""
	}
	if len(sm) > 1 {
		return strings.TrimSpace(sm[1])
	}
	return strings.TrimSpace(sm[0])
}
