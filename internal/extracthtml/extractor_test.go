package extracthtml

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"

	"repscan/internal/record"
)

func loadFixture(t *testing.T) *DocumentSession {
	t.Helper()

	b, err := os.ReadFile("testdata/lookup.html")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	s, err := NewStaticSession(string(b))
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	return s
}

// TestExtract_DefaultLocators runs the full default table against a saved
// lookup page.
func TestExtract_DefaultLocators(t *testing.T) {
	t.Parallel()

	got, err := Extract(context.Background(), loadFixture(t), DefaultLocators())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	var want record.Record
	want.Put(GroupLocation, record.NewFieldMap("Location", "Mountain View, United States"))
	want.Put(GroupOwner, record.NewFieldMap(
		"IP ADDRESS", "8.8.8.8",
		"FWD/REV DNS MATCH", "Yes",
		"HOSTNAME", "dns.google",
		"DOMAIN", "google.com",
		"NETWORK OWNER", "google llc",
	))
	// WEB REPUTATION is blank on the page and must be absent, not empty.
	want.Put(GroupReputation, record.NewFieldMap("SENDER IP REPUTATION", "Neutral"))
	want.Put(GroupEmailVolume, record.NewFieldMap(
		"EMAIL VOLUME LAST DAY", "0.0",
		"EMAIL VOLUME LAST MONTH", "0.0",
		"VOLUME CHANGE", "0%",
	))
	// Both spamhaus fields resolve to the first spamhaus row.
	want.Put(GroupBlockLists, record.NewFieldMap(
		"BL.SPAMCOP.NET", "Not Listed",
		"CBL.ABUSEAT.ORG", "Not Listed",
		"PBL.SPAMHAUS.ORG", "Not Listed",
		"SBL.SPAMHAUS.ORG", "Not Listed",
	))

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract mismatch:\nwant %s\ngot  %s", mustJSON(t, want), mustJSON(t, got))
	}
}

// TestExtract_NothingResolves verifies a page with none of the fields yields
// an empty record rather than an error.
func TestExtract_NothingResolves(t *testing.T) {
	t.Parallel()

	s, err := NewStaticSession(`<html><body><p>No results</p></body></html>`)
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	got, err := Extract(context.Background(), s, DefaultLocators())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected empty record, got groups %v", got.Groups())
	}
}

// TestExtract_OnlyHostname is the single-field page from the 8.8.8.8 scenario.
func TestExtract_OnlyHostname(t *testing.T) {
	t.Parallel()

	s, err := NewStaticSession(`<table><tr><td>Hostname</td><td>dns.google</td></tr></table>`)
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	got, err := Extract(context.Background(), s, DefaultLocators())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	var want record.Record
	want.Put(GroupOwner, record.NewFieldMap("HOSTNAME", "dns.google"))
	if !got.Equal(want) {
		t.Fatalf("want %s, got %s", mustJSON(t, want), mustJSON(t, got))
	}
}

// TestExtract_GroupOrderFollowsFirstPopulation verifies group order is the
// order groups first received a value, not table order.
func TestExtract_GroupOrderFollowsFirstPopulation(t *testing.T) {
	t.Parallel()

	s, err := NewStaticSession(`<table>
		<tr><td>A</td><td>1</td></tr>
		<tr><td>B</td><td>2</td></tr>
		<tr><td>C</td><td>3</td></tr>
	</table>`)
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	locs := []Locator{
		{Group: "G1", Field: "missing", Rule: RuleLabelSibling, Label: "Z"},
		{Group: "G2", Field: "b", Rule: RuleLabelSibling, Label: "B"},
		{Group: "G1", Field: "a", Rule: RuleLabelSibling, Label: "A"},
		{Group: "G2", Field: "c", Rule: RuleLabelSibling, Label: "C"},
	}
	got, err := Extract(context.Background(), s, locs)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff([]string{"G2", "G1"}, got.Groups()); diff != "" {
		t.Fatalf("group order (-want +got):\n%s", diff)
	}
}

// TestExtract_LabelMustMatchExactly verifies the label rule does not do
// substring matching and ignores text nested in child elements.
func TestExtract_LabelMustMatchExactly(t *testing.T) {
	t.Parallel()

	s, err := NewStaticSession(`<table>
		<tr><td>Hostname (reverse)</td><td>wrong</td></tr>
		<tr><td><b>Hostname</b></td><td>nested</td></tr>
		<tr><td> Hostname </td><td>right</td></tr>
	</table>`)
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	got, err := Extract(context.Background(), s, []Locator{
		{Group: GroupOwner, Field: "HOSTNAME", Rule: RuleLabelSibling, Label: "Hostname"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v, _ := got.Value(GroupOwner, "HOSTNAME"); v != "right" {
		t.Fatalf("HOSTNAME = %q, want %q", v, "right")
	}
}

// TestExtract_FlagCellAnyCountry verifies the location rule is not tied to a
// single country flag.
func TestExtract_FlagCellAnyCountry(t *testing.T) {
	t.Parallel()

	s, err := NewStaticSession(`<div id="location-data-wrapper"><table><tr>
		<td><span class="flag-icon flag-icon-de"></span> Frankfurt, Germany</td>
	</tr></table></div>`)
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	got, err := Extract(context.Background(), s, DefaultLocators()[:1])
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v, _ := got.Value(GroupLocation, "Location"); v != "Frankfurt, Germany" {
		t.Fatalf("Location = %q", v)
	}
}

// TestExtract_FlagOutsideContainer verifies a flag icon elsewhere on the
// page is not mistaken for the location datum.
func TestExtract_FlagOutsideContainer(t *testing.T) {
	t.Parallel()

	s, err := NewStaticSession(`<table><tr><td><span class="flag-icon flag-icon-fr"></span> Paris</td></tr></table>`)
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	got, err := Extract(context.Background(), s, DefaultLocators()[:1])
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected no location, got %s", mustJSON(t, got))
	}
}

func TestExtract_Match(t *testing.T) {
	t.Parallel()

	s, err := NewStaticSession(`<table><tr><td>Volume Change</td><td>Change: -12% vs last month</td></tr></table>`)
	if err != nil {
		t.Fatalf("NewStaticSession: %v", err)
	}
	got, err := Extract(context.Background(), s, []Locator{
		{Group: "G", Field: "pct", Rule: RuleLabelSibling, Label: "Volume Change", Match: `(-?\d+%)`},
		{Group: "G", Field: "none", Rule: RuleLabelSibling, Label: "Volume Change", Match: `^\d+$`},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := record.NewFieldMap("pct", "-12%")
	fm, _ := got.Group("G")
	if !fm.Equal(want) {
		t.Fatalf("unexpected fields: %v", fm.Keys())
	}
}

func TestExtract_InvalidMatch(t *testing.T) {
	t.Parallel()

	s, _ := NewStaticSession(`<p></p>`)
	_, err := Extract(context.Background(), s, []Locator{
		{Group: "G", Field: "f", Rule: RuleLabelSibling, Label: "x", Match: `(`},
	})
	if err == nil {
		t.Fatalf("expected error for invalid regex")
	}
}

// faultySession fails every lookup after the first n with err.
type faultySession struct {
	n   int
	err error
}

func (f *faultySession) Navigate(context.Context, string) error { return nil }
func (f *faultySession) Close() error                           { return nil }
func (f *faultySession) FindElement(context.Context, Locator) (Element, error) {
	if f.n > 0 {
		f.n--
		return nil, ErrNoSuchElement
	}
	return nil, f.err
}

// TestExtract_SessionFaultAbandons verifies non-absence errors abort the
// whole extraction.
func TestExtract_SessionFaultAbandons(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	got, err := Extract(context.Background(), &faultySession{n: 2, err: boom}, DefaultLocators())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("no partial record may be returned on failure")
	}
}

func TestExtract_ClosedSession(t *testing.T) {
	t.Parallel()

	s := loadFixture(t)
	_ = s.Close()
	if _, err := Extract(context.Background(), s, DefaultLocators()); err == nil {
		t.Fatalf("expected error from closed session")
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"  a  ", "a"},
		{"Mountain\u00a0View", "Mountain View"},
		{"a\n\t b", "a b"},
		{"x\u200by", "xy"},
		{"\uff21\uff22", "AB"},
		{"", ""},
		{"\u00a0\u2003 ", ""},
	}
	for _, tc := range tests {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Fatalf("NormalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestApplyRegexFilter exercises all significant branches in applyRegexFilter.
func TestApplyRegexFilter(t *testing.T) {
	t.Parallel()

	if got := applyRegexFilter("abc", nil); got != "abc" {
		t.Fatalf("nil regex: expected %q, got %q", "abc", got)
	}
	if got := applyRegexFilter("abc", regexp.MustCompile(`\d+`)); got != "" {
		t.Fatalf("no match: expected empty string, got %q", got)
	}
	if got := applyRegexFilter("id=123", regexp.MustCompile(`id=(\d+)`)); got != "123" {
		t.Fatalf("capture: expected %q, got %q", "123", got)
	}
	if got := applyRegexFilter("x=123", regexp.MustCompile(`\d+`)); got != "123" {
		t.Fatalf("full match: expected %q, got %q", "123", got)
	}
}

func mustJSON(t *testing.T, r record.Record) string {
	t.Helper()
	b, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
